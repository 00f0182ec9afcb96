package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Config is the full engine configuration loaded from a JSON file.
// Load applies the named risk profile, fills defaults for anything the
// file leaves at its zero value, then validates. A config that fails
// validation is fatal; the engine refuses to start on a partial config.
type Config struct {
	Engine       EngineConfig              `json:"engine"`
	Symbols      map[string]SymbolSpec     `json:"symbols"`
	Risk         RiskConfig                `json:"risk"`
	Sizing       SizingConfig              `json:"sizing"`
	Trailing     TrailingConfig            `json:"trailing"`
	PartialClose PartialCloseConfig        `json:"partial_close"`
	DynamicStops DynamicStopsConfig        `json:"dynamic_stops"`
	ForcedExit   ForcedExitConfig          `json:"forced_exit"`
	Strategies   map[string]StrategyConfig `json:"strategies,omitempty"`
	RegimeTable  RegimeTable               `json:"regime_table,omitempty"`
	Broker       BrokerConfig              `json:"broker"`
	Notification *NotificationConfig       `json:"notifications,omitempty"`
	Monitoring   MonitoringConfig          `json:"monitoring"`
	State        StateConfig               `json:"state"`
	Journal      JournalConfig             `json:"journal"`
	Shutdown     ShutdownConfig            `json:"shutdown"`
}

// EngineConfig drives the tick loop.
type EngineConfig struct {
	Symbols      []string     `json:"symbols"`
	TickInterval string       `json:"tick_interval"`
	Signal       SignalConfig `json:"signal"`
}

// TickDuration parses the configured tick interval. Validation
// guarantees it parses, so the fallback only matters for a zero-value
// EngineConfig used outside Load.
func (e EngineConfig) TickDuration() time.Duration {
	d, err := time.ParseDuration(e.TickInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// SignalConfig selects the entry signal source for the engine.
type SignalConfig struct {
	Source            string  `json:"source"` // "manual" or "momentum"
	MomentumThreshold float64 `json:"momentum_threshold"`
	CooldownMinutes   int     `json:"cooldown_minutes"`
	StopPips          float64 `json:"stop_pips"`
	TargetPips        float64 `json:"target_pips"`
	Strategy          string  `json:"strategy"`
}

// SymbolSpec holds the per-symbol contract arithmetic every sizing and
// risk computation depends on. Pips are quoted in PipSize units; the
// per-lot figures are account-currency values for exactly 1.0 lot.
type SymbolSpec struct {
	PipSize         float64 `json:"pip_size"`
	PipValuePerLot  float64 `json:"pip_value_per_lot"`
	NotionalPerLot  float64 `json:"notional_per_lot"`
	MarginPerLot    float64 `json:"margin_per_lot"`
	MinLot          float64 `json:"min_lot"`
	MaxLot          float64 `json:"max_lot"`
	LotStep         float64 `json:"lot_step"`
	BaselineVolPips float64 `json:"baseline_vol_pips"`
	Base            string  `json:"base"`
	Quote           string  `json:"quote"`
}

// PriceToPips converts a price distance to pips for this symbol.
func (s SymbolSpec) PriceToPips(dist float64) float64 {
	if s.PipSize <= 0 {
		return 0
	}
	return dist / s.PipSize
}

// PipsToPrice converts a pip distance to a price distance.
func (s SymbolSpec) PipsToPrice(pips float64) float64 {
	return pips * s.PipSize
}

// CorrelatedPair names two symbols treated as correlated in addition to
// the automatic shared-currency-leg detection.
type CorrelatedPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// RiskConfig carries the portfolio limit set enforced by the risk gate.
// Fractions are of account equity unless noted otherwise.
type RiskConfig struct {
	Profile                  string           `json:"profile"`
	InitialBalance           float64          `json:"initial_balance"`
	MaxDrawdown              float64          `json:"max_drawdown"`
	DailyLossLimit           float64          `json:"daily_loss_limit"`
	MaxConsecutiveLosses     int              `json:"max_consecutive_losses"`
	CatastrophicLossFraction float64          `json:"catastrophic_loss_fraction"`
	MaxPositions             int              `json:"max_positions"`
	MaxPerStrategy           int              `json:"max_per_strategy"`
	MaxExposureMultiple      float64          `json:"max_exposure_multiple"`
	MaxPortfolioVaRFraction  float64          `json:"max_portfolio_var_fraction"`
	MaxCorrelatedPositions   int              `json:"max_correlated_positions"`
	CorrelatedPairs          []CorrelatedPair `json:"correlated_pairs,omitempty"`
}

// SizingConfig parameterizes the position sizing chain.
type SizingConfig struct {
	RiskFraction            float64 `json:"risk_fraction"`
	MaxLeverage             float64 `json:"max_leverage"`
	KellyFraction           float64 `json:"kelly_fraction"`
	TargetSharpe            float64 `json:"target_sharpe"`
	MinTradesForStats       int     `json:"min_trades_for_stats"`
	MaxPositionVaRFraction  float64 `json:"max_position_var_fraction"`
	MaxAccountRiskFraction  float64 `json:"max_account_risk_fraction"`
	CorrelationImpactWeight float64 `json:"correlation_impact_weight"`
}

// TrailingConfig parameterizes the ATR trailing stop engine.
type TrailingConfig struct {
	ActivationPips       float64 `json:"activation_pips"`
	BaseMultiplier       float64 `json:"base_multiplier"`
	MinStepPips          float64 `json:"min_step_pips"`
	StrongTrendThreshold float64 `json:"strong_trend_threshold"`
	StrongTrendFactor    float64 `json:"strong_trend_factor"`
}

// PartialCloseTier is one rung of the profit ladder. ClosePercent is a
// fraction of the position volume at the moment the tier fires.
type PartialCloseTier struct {
	ProfitPips   float64 `json:"profit_pips"`
	ClosePercent float64 `json:"close_percent"`
}

// PartialCloseConfig holds the ordered tier ladder. Tiers must be
// sorted ascending by profit threshold; validation enforces it.
type PartialCloseConfig struct {
	Tiers                []PartialCloseTier `json:"tiers"`
	ProfitLockEnabled    bool               `json:"profit_lock_enabled"`
	ProfitLockBufferPips float64            `json:"profit_lock_buffer_pips"`
}

// DynamicStopsConfig parameterizes the three stop adjustment channels.
type DynamicStopsConfig struct {
	MinTimeFactor            float64 `json:"min_time_factor"`
	VolatilityTriggerRatio   float64 `json:"volatility_trigger_ratio"`
	CorrelationTightenFactor float64 `json:"correlation_tighten_factor"`
	MaxCorrelatedForTighten  int     `json:"max_correlated_for_tighten"`
}

// ForcedExitConfig holds the per-position hard exit thresholds.
type ForcedExitConfig struct {
	MaxHoldHours        float64 `json:"max_hold_hours"`
	ScalpMaxHoldHours   float64 `json:"scalp_max_hold_hours"`
	MaxVaRFraction      float64 `json:"max_var_fraction"`
	MaxLossFraction     float64 `json:"max_loss_fraction"`
	MaxTailRiskFraction float64 `json:"max_tail_risk_fraction"`
}

// MaxHold returns the hold limit for a position, honoring the tighter
// scalping limit when the strategy is flagged as scalping.
func (f ForcedExitConfig) MaxHold(scalping bool) time.Duration {
	hours := f.MaxHoldHours
	if scalping {
		hours = f.ScalpMaxHoldHours
	}
	return time.Duration(hours * float64(time.Hour))
}

// StrategyConfig carries per-strategy overrides. Zero values fall back
// to the global sizing defaults.
type StrategyConfig struct {
	RiskFraction  float64 `json:"risk_fraction,omitempty"`
	Scalping      bool    `json:"scalping"`
	DecayRatePerH float64 `json:"decay_rate_per_hour,omitempty"`
}

// RegimeTable maps market regime -> strategy -> sizing multiplier.
// Missing entries resolve to 1.0.
type RegimeTable map[string]map[string]float64

// Multiplier looks up the sizing multiplier for a regime/strategy pair.
func (t RegimeTable) Multiplier(regime, strategy string) float64 {
	if t == nil {
		return 1.0
	}
	row, ok := t[regime]
	if !ok {
		return 1.0
	}
	if m, ok := row[strategy]; ok && m > 0 {
		return m
	}
	if m, ok := row["*"]; ok && m > 0 {
		return m
	}
	return 1.0
}

// BrokerConfig selects and parameterizes the execution gateway.
type BrokerConfig struct {
	Name  string       `json:"name"` // "bybit" or "paper"
	Bybit *BybitConfig `json:"bybit,omitempty"`
	Paper *PaperConfig `json:"paper,omitempty"`
}

// BybitConfig holds Bybit V5 connection settings. Credentials are
// normally injected from the environment rather than stored in the
// config file; "${VAR}" placeholders are resolved at load time.
type BybitConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
	Demo      bool   `json:"demo"`
	Category  string `json:"category"`
}

// PaperConfig parameterizes the in-process simulated gateway.
type PaperConfig struct {
	InitialBalance float64 `json:"initial_balance"`
	SpreadPips     float64 `json:"spread_pips"`
	SlippagePips   float64 `json:"slippage_pips"`
}

// NotificationConfig holds Telegram delivery settings.
type NotificationConfig struct {
	Enabled        bool   `json:"enabled"`
	TelegramToken  string `json:"telegram_token"`
	TelegramChatID string `json:"telegram_chat_id"`
}

// MonitoringConfig holds the Prometheus/health HTTP endpoint settings.
type MonitoringConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// StateConfig holds snapshot persistence settings.
type StateConfig struct {
	Dir             string `json:"dir"`
	AutosaveMinutes int    `json:"autosave_minutes"`
}

// JournalConfig holds trade journal export settings.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
}

// ShutdownConfig controls behavior on SIGINT/SIGTERM.
type ShutdownConfig struct {
	ClosePositions bool `json:"close_positions"`
	TimeoutSeconds int  `json:"timeout_seconds"`
}

// Load reads and validates an engine config. Bare filenames are
// resolved against the configs/ directory and get a .json suffix
// appended, so "extreme-scalper" loads configs/extreme-scalper.json.
func Load(path string) (*Config, error) {
	if !strings.Contains(path, string(os.PathSeparator)) && !strings.Contains(path, "/") {
		path = filepath.Join("configs", path)
	}
	if !strings.HasSuffix(path, ".json") {
		path += ".json"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.resolvePlaceholders()
	if err := cfg.applyProfile(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// resolvePlaceholders substitutes "${VAR}" style values from the
// environment so secrets never need to live in the config file.
func (c *Config) resolvePlaceholders() {
	if c.Broker.Bybit != nil {
		c.Broker.Bybit.APIKey = resolveEnvPlaceholder(c.Broker.Bybit.APIKey)
		c.Broker.Bybit.APISecret = resolveEnvPlaceholder(c.Broker.Bybit.APISecret)
	}
	if c.Notification != nil {
		c.Notification.TelegramToken = resolveEnvPlaceholder(c.Notification.TelegramToken)
		c.Notification.TelegramChatID = resolveEnvPlaceholder(c.Notification.TelegramChatID)
	}
}

func (c *Config) setDefaults() {
	if c.Engine.TickInterval == "" {
		c.Engine.TickInterval = "5s"
	}
	if c.Engine.Signal.Source == "" {
		c.Engine.Signal.Source = "manual"
	}
	if c.Engine.Signal.MomentumThreshold == 0 {
		c.Engine.Signal.MomentumThreshold = 0.6
	}
	if c.Engine.Signal.CooldownMinutes == 0 {
		c.Engine.Signal.CooldownMinutes = 30
	}
	if c.Engine.Signal.StopPips == 0 {
		c.Engine.Signal.StopPips = 25
	}
	if c.Engine.Signal.TargetPips == 0 {
		c.Engine.Signal.TargetPips = 50
	}
	if c.Engine.Signal.Strategy == "" {
		c.Engine.Signal.Strategy = "momentum"
	}

	if c.Sizing.RiskFraction == 0 {
		c.Sizing.RiskFraction = 0.01
	}
	if c.Sizing.MaxLeverage == 0 {
		c.Sizing.MaxLeverage = 10
	}
	if c.Sizing.KellyFraction == 0 {
		c.Sizing.KellyFraction = 0.5
	}
	if c.Sizing.TargetSharpe == 0 {
		c.Sizing.TargetSharpe = 1.5
	}
	if c.Sizing.MinTradesForStats == 0 {
		c.Sizing.MinTradesForStats = 10
	}
	if c.Sizing.MaxPositionVaRFraction == 0 {
		c.Sizing.MaxPositionVaRFraction = 0.05
	}
	if c.Sizing.MaxAccountRiskFraction == 0 {
		c.Sizing.MaxAccountRiskFraction = 0.02
	}
	if c.Sizing.CorrelationImpactWeight == 0 {
		c.Sizing.CorrelationImpactWeight = 0.25
	}

	if c.Trailing.ActivationPips == 0 {
		c.Trailing.ActivationPips = 15
	}
	if c.Trailing.BaseMultiplier == 0 {
		c.Trailing.BaseMultiplier = 2.0
	}
	if c.Trailing.MinStepPips == 0 {
		c.Trailing.MinStepPips = 1
	}
	if c.Trailing.StrongTrendThreshold == 0 {
		c.Trailing.StrongTrendThreshold = 0.7
	}
	if c.Trailing.StrongTrendFactor == 0 {
		c.Trailing.StrongTrendFactor = 0.8
	}

	if len(c.PartialClose.Tiers) == 0 {
		c.PartialClose.Tiers = []PartialCloseTier{
			{ProfitPips: 15, ClosePercent: 0.30},
			{ProfitPips: 30, ClosePercent: 0.40},
			{ProfitPips: 50, ClosePercent: 0.50},
		}
	}
	if c.PartialClose.ProfitLockBufferPips == 0 {
		c.PartialClose.ProfitLockBufferPips = 2
	}

	if c.DynamicStops.MinTimeFactor == 0 {
		c.DynamicStops.MinTimeFactor = 0.5
	}
	if c.DynamicStops.VolatilityTriggerRatio == 0 {
		c.DynamicStops.VolatilityTriggerRatio = 0.2
	}
	if c.DynamicStops.CorrelationTightenFactor == 0 {
		c.DynamicStops.CorrelationTightenFactor = 0.85
	}
	if c.DynamicStops.MaxCorrelatedForTighten == 0 {
		c.DynamicStops.MaxCorrelatedForTighten = 2
	}

	if c.ForcedExit.MaxHoldHours == 0 {
		c.ForcedExit.MaxHoldHours = 48
	}
	if c.ForcedExit.ScalpMaxHoldHours == 0 {
		c.ForcedExit.ScalpMaxHoldHours = 4
	}
	if c.ForcedExit.MaxVaRFraction == 0 {
		c.ForcedExit.MaxVaRFraction = 0.10
	}
	if c.ForcedExit.MaxLossFraction == 0 {
		c.ForcedExit.MaxLossFraction = 0.05
	}
	if c.ForcedExit.MaxTailRiskFraction == 0 {
		c.ForcedExit.MaxTailRiskFraction = 0.15
	}

	if c.Broker.Name == "" {
		c.Broker.Name = "paper"
	}
	if c.Broker.Bybit != nil && c.Broker.Bybit.Category == "" {
		c.Broker.Bybit.Category = "linear"
	}
	if c.Broker.Paper == nil && c.Broker.Name == "paper" {
		c.Broker.Paper = &PaperConfig{}
	}
	if c.Broker.Paper != nil {
		if c.Broker.Paper.InitialBalance == 0 {
			c.Broker.Paper.InitialBalance = c.Risk.InitialBalance
		}
		if c.Broker.Paper.SpreadPips == 0 {
			c.Broker.Paper.SpreadPips = 1.0
		}
	}

	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 9090
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.AutosaveMinutes == 0 {
		c.State.AutosaveMinutes = 5
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "journal"
	}
	if c.Shutdown.TimeoutSeconds == 0 {
		c.Shutdown.TimeoutSeconds = 30
	}
}

func (c *Config) validate() error {
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine must list at least one symbol")
	}
	if _, err := time.ParseDuration(c.Engine.TickInterval); err != nil {
		return fmt.Errorf("invalid tick interval %q: %w", c.Engine.TickInterval, err)
	}
	if d := c.Engine.TickDuration(); d < time.Second {
		return fmt.Errorf("tick interval must be at least 1s, got %s", d)
	}
	switch c.Engine.Signal.Source {
	case "manual", "momentum":
	default:
		return fmt.Errorf("unknown signal source %q (expected manual or momentum)", c.Engine.Signal.Source)
	}

	for _, sym := range c.Engine.Symbols {
		spec, ok := c.Symbols[sym]
		if !ok {
			return fmt.Errorf("symbol %s has no symbol spec", sym)
		}
		if err := spec.validate(); err != nil {
			return fmt.Errorf("symbol %s: %w", sym, err)
		}
	}

	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Sizing.validate(); err != nil {
		return err
	}
	if err := c.Trailing.validate(); err != nil {
		return err
	}
	if err := c.PartialClose.validate(); err != nil {
		return err
	}
	if err := c.DynamicStops.validate(); err != nil {
		return err
	}
	if err := c.ForcedExit.validate(); err != nil {
		return err
	}

	for name, strat := range c.Strategies {
		if strat.RiskFraction < 0 || strat.RiskFraction > 0.5 {
			return fmt.Errorf("strategy %s: risk fraction must be between 0 and 0.5", name)
		}
		if strat.DecayRatePerH < 0 {
			return fmt.Errorf("strategy %s: decay rate cannot be negative", name)
		}
	}

	switch c.Broker.Name {
	case "bybit":
		if c.Broker.Bybit == nil {
			return fmt.Errorf("broker is bybit but no bybit section is configured")
		}
	case "paper":
	default:
		return fmt.Errorf("unknown broker %q (expected bybit or paper)", c.Broker.Name)
	}

	if c.Monitoring.Enabled && (c.Monitoring.Port < 1 || c.Monitoring.Port > 65535) {
		return fmt.Errorf("monitoring port must be between 1 and 65535")
	}
	if c.State.AutosaveMinutes < 1 {
		return fmt.Errorf("state autosave interval must be at least 1 minute")
	}
	return nil
}

func (s SymbolSpec) validate() error {
	if s.PipSize <= 0 {
		return fmt.Errorf("pip size must be greater than 0")
	}
	if s.PipValuePerLot <= 0 {
		return fmt.Errorf("pip value per lot must be greater than 0")
	}
	if s.NotionalPerLot <= 0 {
		return fmt.Errorf("notional per lot must be greater than 0")
	}
	if s.MarginPerLot <= 0 {
		return fmt.Errorf("margin per lot must be greater than 0")
	}
	if s.MinLot <= 0 {
		return fmt.Errorf("min lot must be greater than 0")
	}
	if s.MaxLot < s.MinLot {
		return fmt.Errorf("max lot must not be below min lot")
	}
	if s.LotStep <= 0 {
		return fmt.Errorf("lot step must be greater than 0")
	}
	if s.BaselineVolPips <= 0 {
		return fmt.Errorf("baseline volatility must be greater than 0")
	}
	return nil
}

func (r RiskConfig) validate() error {
	if r.Profile != ProfileConservative && r.Profile != ProfileExtreme {
		return fmt.Errorf("unknown risk profile %q (expected %s or %s)", r.Profile, ProfileConservative, ProfileExtreme)
	}
	if r.InitialBalance <= 0 {
		return fmt.Errorf("initial balance must be greater than 0")
	}
	if r.MaxDrawdown <= 0 || r.MaxDrawdown > 1 {
		return fmt.Errorf("max drawdown must be between 0 and 1")
	}
	if r.DailyLossLimit <= 0 || r.DailyLossLimit > 1 {
		return fmt.Errorf("daily loss limit must be between 0 and 1")
	}
	if r.CatastrophicLossFraction <= 0 || r.CatastrophicLossFraction > 1 {
		return fmt.Errorf("catastrophic loss fraction must be between 0 and 1")
	}
	if r.MaxPositions < 1 {
		return fmt.Errorf("max positions must be at least 1")
	}
	if r.MaxPerStrategy < 1 {
		return fmt.Errorf("max positions per strategy must be at least 1")
	}
	if r.MaxExposureMultiple <= 0 {
		return fmt.Errorf("max exposure multiple must be greater than 0")
	}
	if r.MaxPortfolioVaRFraction <= 0 || r.MaxPortfolioVaRFraction > 1 {
		return fmt.Errorf("max portfolio VaR fraction must be between 0 and 1")
	}
	if r.MaxCorrelatedPositions < 1 {
		return fmt.Errorf("max correlated positions must be at least 1")
	}
	for _, p := range r.CorrelatedPairs {
		if p.A == "" || p.B == "" || p.A == p.B {
			return fmt.Errorf("correlated pair %q/%q is invalid", p.A, p.B)
		}
	}
	return nil
}

func (s SizingConfig) validate() error {
	if s.RiskFraction <= 0 || s.RiskFraction > 0.5 {
		return fmt.Errorf("risk fraction must be between 0 and 0.5")
	}
	if s.MaxLeverage < 1 {
		return fmt.Errorf("max leverage must be at least 1")
	}
	if s.KellyFraction <= 0 || s.KellyFraction > 1 {
		return fmt.Errorf("kelly fraction must be between 0 and 1")
	}
	if s.TargetSharpe <= 0 {
		return fmt.Errorf("target sharpe must be greater than 0")
	}
	if s.MinTradesForStats < 1 {
		return fmt.Errorf("min trades for stats must be at least 1")
	}
	if s.MaxPositionVaRFraction <= 0 || s.MaxPositionVaRFraction > 1 {
		return fmt.Errorf("max position VaR fraction must be between 0 and 1")
	}
	if s.MaxAccountRiskFraction <= 0 || s.MaxAccountRiskFraction > 1 {
		return fmt.Errorf("max account risk fraction must be between 0 and 1")
	}
	if s.CorrelationImpactWeight < 0 {
		return fmt.Errorf("correlation impact weight cannot be negative")
	}
	return nil
}

func (t TrailingConfig) validate() error {
	if t.ActivationPips <= 0 {
		return fmt.Errorf("trailing activation must be greater than 0 pips")
	}
	if t.BaseMultiplier <= 0 {
		return fmt.Errorf("trailing base multiplier must be greater than 0")
	}
	if t.MinStepPips < 0 {
		return fmt.Errorf("trailing min step cannot be negative")
	}
	if t.StrongTrendThreshold <= 0 || t.StrongTrendThreshold > 1 {
		return fmt.Errorf("strong trend threshold must be between 0 and 1")
	}
	if t.StrongTrendFactor <= 0 || t.StrongTrendFactor > 1 {
		return fmt.Errorf("strong trend factor must be between 0 and 1")
	}
	return nil
}

func (p PartialCloseConfig) validate() error {
	if !sort.SliceIsSorted(p.Tiers, func(i, j int) bool {
		return p.Tiers[i].ProfitPips < p.Tiers[j].ProfitPips
	}) {
		return fmt.Errorf("partial close tiers must be sorted ascending by profit threshold")
	}
	for i, tier := range p.Tiers {
		if tier.ProfitPips <= 0 {
			return fmt.Errorf("partial close tier %d: profit threshold must be greater than 0", i)
		}
		if tier.ClosePercent <= 0 || tier.ClosePercent >= 1 {
			return fmt.Errorf("partial close tier %d: close percent must be between 0 and 1 exclusive", i)
		}
	}
	if p.ProfitLockBufferPips < 0 {
		return fmt.Errorf("profit lock buffer cannot be negative")
	}
	return nil
}

func (d DynamicStopsConfig) validate() error {
	if d.MinTimeFactor <= 0 || d.MinTimeFactor > 1 {
		return fmt.Errorf("min time factor must be between 0 and 1")
	}
	if d.VolatilityTriggerRatio <= 0 {
		return fmt.Errorf("volatility trigger ratio must be greater than 0")
	}
	if d.CorrelationTightenFactor <= 0 || d.CorrelationTightenFactor >= 1 {
		return fmt.Errorf("correlation tighten factor must be between 0 and 1 exclusive")
	}
	if d.MaxCorrelatedForTighten < 1 {
		return fmt.Errorf("correlated tighten threshold must be at least 1")
	}
	return nil
}

func (f ForcedExitConfig) validate() error {
	if f.MaxHoldHours <= 0 {
		return fmt.Errorf("max hold must be greater than 0 hours")
	}
	if f.ScalpMaxHoldHours <= 0 {
		return fmt.Errorf("scalp max hold must be greater than 0 hours")
	}
	if f.ScalpMaxHoldHours > f.MaxHoldHours {
		return fmt.Errorf("scalp max hold cannot exceed the default max hold")
	}
	if f.MaxVaRFraction <= 0 || f.MaxVaRFraction > 1 {
		return fmt.Errorf("forced exit VaR fraction must be between 0 and 1")
	}
	if f.MaxLossFraction <= 0 || f.MaxLossFraction > 1 {
		return fmt.Errorf("forced exit loss fraction must be between 0 and 1")
	}
	if f.MaxTailRiskFraction <= 0 || f.MaxTailRiskFraction > 1 {
		return fmt.Errorf("forced exit tail risk fraction must be between 0 and 1")
	}
	return nil
}

// StrategyRiskFraction resolves the per-trade risk fraction for a
// strategy, falling back to the global sizing default.
func (c *Config) StrategyRiskFraction(strategy string) float64 {
	if s, ok := c.Strategies[strategy]; ok && s.RiskFraction > 0 {
		return s.RiskFraction
	}
	return c.Sizing.RiskFraction
}

// StrategyScalping reports whether a strategy is flagged as scalping.
func (c *Config) StrategyScalping(strategy string) bool {
	s, ok := c.Strategies[strategy]
	return ok && s.Scalping
}

// StrategyDecayRate resolves the stop decay rate per hour for the time
// channel of the dynamic stop adjuster. Unconfigured strategies decay
// at 1% per hour.
func (c *Config) StrategyDecayRate(strategy string) float64 {
	if s, ok := c.Strategies[strategy]; ok && s.DecayRatePerH > 0 {
		return s.DecayRatePerH
	}
	return 0.01
}

// Spec returns the symbol spec for a symbol. The second return is
// false for symbols the config does not know.
func (c *Config) Spec(symbol string) (SymbolSpec, bool) {
	s, ok := c.Symbols[symbol]
	return s, ok
}
