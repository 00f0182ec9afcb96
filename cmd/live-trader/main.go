package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/broker/bybit"
	"github.com/oyi77/forex-trader-sub001/internal/broker/paper"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/engine"
	"github.com/oyi77/forex-trader-sub001/internal/events"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
	"github.com/oyi77/forex-trader-sub001/internal/monitoring"
	"github.com/oyi77/forex-trader-sub001/internal/notifications"
	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/oyi77/forex-trader-sub001/internal/risk"
	"github.com/oyi77/forex-trader-sub001/internal/safety"
	"github.com/oyi77/forex-trader-sub001/internal/state"
	"github.com/oyi77/forex-trader-sub001/pkg/reporting"
)

// statusInterval controls how often the portfolio table is printed to
// the console between ticks.
const statusInterval = time.Minute

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., conservative.json)")
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		paperMode  = flag.Bool("paper", false, "Force the paper broker - overrides config")
		demoMode   = flag.Bool("demo", false, "Use the Bybit demo environment - overrides config")
		symbolCSV  = flag.String("symbol", "", "Comma-separated symbol override (e.g., EURUSD,XAUUSD)")
	)
	flag.Parse()

	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}

	// Load environment variables before the config resolves ${VAR} placeholders
	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load .env file (%v), checking environment variables...", err)
	}

	fmt.Println("🚀 Live Trading Engine Starting...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *paperMode {
		cfg.Broker.Name = "paper"
		fmt.Println("🔧 Broker overridden to: paper")
	}
	if *demoMode && cfg.Broker.Bybit != nil {
		cfg.Broker.Bybit.Demo = true
		cfg.Broker.Bybit.Testnet = false
		fmt.Println("🔧 Bybit demo environment enabled")
	}
	if *symbolCSV != "" {
		symbols, err := symbolOverride(cfg, *symbolCSV)
		if err != nil {
			log.Fatalf("Invalid -symbol override: %v", err)
		}
		cfg.Engine.Symbols = symbols
		fmt.Printf("🔧 Symbols overridden to: %s\n", strings.Join(symbols, ", "))
	}

	if err := ensureAPICredentials(cfg); err != nil {
		log.Fatalf("API credentials validation failed: %v", err)
	}

	session := time.Now().Format("20060102-150405")
	lg, err := logger.New(session)
	if err != nil {
		log.Fatalf("Failed to open session log: %v", err)
	}
	fmt.Printf("📝 Session log: %s\n", lg.GetLogPath())

	gw, err := buildBroker(cfg, lg)
	if err != nil {
		log.Fatalf("Failed to build broker: %v", err)
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	err = gw.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", gw.Name(), err)
	}
	fmt.Printf("🔗 Connected to broker: %s\n", gw.Name())

	// Event fan-out: Prometheus always, Telegram only when configured.
	sinks := []events.Sink{monitoring.EventSink{}}
	var notifier *notifications.TelegramNotifier
	if cfg.Notification != nil && cfg.Notification.Enabled {
		notifier = notifications.NewTelegramNotifier(cfg.Notification.TelegramToken, cfg.Notification.TelegramChatID)
		if notifier.Enabled() {
			sinks = append(sinks, notifications.NewAlertSink(notifier, lg))
			fmt.Println("📱 Telegram alerts enabled")
		}
	}
	sink := events.NewMultiSink(sinks...)

	stateMgr := state.NewManager(lg, cfg.State.Dir, cfg.Broker.Name, cfg.Engine.Symbols,
		time.Duration(cfg.State.AutosaveMinutes)*time.Minute)
	if err := stateMgr.Initialize(); err != nil {
		log.Fatalf("Failed to initialize state persistence: %v", err)
	}

	gate := risk.NewGate(cfg.Risk)
	book := position.NewBook()
	ledger := position.NewLedger()
	sessionStart := time.Now()
	if st, err := stateMgr.Load(); err != nil {
		lg.Warning("State restore failed, starting clean: %v", err)
	} else if st != nil {
		gate.Restore(st.Gate)
		book.Restore(st.Stats)
		ledger.RestoreOpen(st.Open)
		if !st.SessionStart.IsZero() {
			sessionStart = st.SessionStart
		}
		lg.Info("Restored state: %d open position(s), gate %s", len(st.Open), st.Gate.State)
		fmt.Printf("♻️ Restored previous session: %d open position(s)\n", len(st.Open))
	}

	var health *monitoring.HealthChecker
	if cfg.Monitoring.Enabled {
		health = monitoring.NewHealthChecker()
	}

	eng, err := engine.New(engine.Options{
		Config: cfg,
		Broker: gw,
		Logger: lg,
		Ledger: ledger,
		Book:   book,
		Gate:   gate,
		Sink:   sink,
		State:  stateMgr,
		Health: health,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	var server *monitoring.Server
	if cfg.Monitoring.Enabled {
		server = monitoring.NewServer(cfg.Monitoring.Port, health, eng.ResetEmergency, lg)
		server.Start()
		fmt.Printf("📊 Monitoring endpoint: http://localhost:%d\n", cfg.Monitoring.Port)
	}

	printStartupSummary(cfg, session, gw.Name())

	if notifier != nil && notifier.Enabled() {
		go notifier.SendAlert("info", fmt.Sprintf("Session %s started: %s via %s",
			session, strings.Join(cfg.Engine.Symbols, ", "), gw.Name()))
	}

	runCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(runCtx) }()

	// Periodic console status alongside the structured session log.
	go func() {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				eng.PrintStatus(os.Stdout)
			}
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\n🛑 Shutdown signal received...")
		stopEngine()
		<-engineDone
	case err := <-engineDone:
		stopEngine()
		if err != nil {
			lg.Error("Engine stopped on its own: %v", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(),
		time.Duration(cfg.Shutdown.TimeoutSeconds)*time.Second)
	defer cancelShutdown()

	if cfg.Shutdown.ClosePositions {
		if n := eng.CloseAll(shutdownCtx, position.ReasonShutdown); n > 0 {
			fmt.Printf("📦 Flattened %d open position(s)\n", n)
		}
	}

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Warning("Monitoring server shutdown: %v", err)
		}
	}

	report := buildSessionReport(shutdownCtx, cfg, eng, gw, session, sessionStart)

	// The final snapshot reflects any shutdown flattening before the
	// state file is sealed.
	stateMgr.Update(state.SystemState{
		SessionStart: sessionStart,
		LastUpdated:  time.Now(),
		Gate:         eng.Gate().Export(),
		Stats:        eng.Book().Snapshot(),
		Open:         eng.Ledger().Snapshot(),
	})
	if err := stateMgr.Close(); err != nil {
		lg.Warning("Final state save failed: %v", err)
	}

	reporting.PrintSessionSummary(os.Stdout, report)

	if cfg.Journal.Enabled {
		path := reporting.JournalPath(cfg.Journal.Dir, session)
		if err := reporting.WriteJournalXLSX(report, path); err != nil {
			lg.Error("Journal export failed: %v", err)
		} else {
			fmt.Printf("📒 Trade journal: %s\n", path)
		}
	}

	if notifier != nil && notifier.Enabled() {
		if err := notifier.SendAlert("info", fmt.Sprintf("Session %s stopped: net $%+.2f over %d trade(s)",
			session, report.NetProfit(), len(report.Trades))); err != nil {
			lg.Warning("Session stop alert failed: %v", err)
		}
	}

	if err := gw.Disconnect(); err != nil {
		lg.Warning("Broker disconnect: %v", err)
	}
	lg.Close()
	fmt.Println("✅ Engine stopped successfully")
}

// loadEnvFile loads environment variables from a file
func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}

// ensureAPICredentials fills Bybit credentials from the environment
// when the config left them blank or carried unresolved placeholders.
func ensureAPICredentials(cfg *config.Config) error {
	if cfg.Broker.Name != "bybit" {
		return nil
	}
	b := cfg.Broker.Bybit
	if b == nil {
		return fmt.Errorf("bybit configuration is missing")
	}

	// Set from environment if not already set
	if b.APIKey == "" || b.APIKey == "${BYBIT_API_KEY}" {
		b.APIKey = os.Getenv("BYBIT_API_KEY")
	}
	if b.APISecret == "" || b.APISecret == "${BYBIT_API_SECRET}" {
		b.APISecret = os.Getenv("BYBIT_API_SECRET")
	}

	// Validate credentials
	if b.APIKey == "" {
		return fmt.Errorf("BYBIT_API_KEY is required (set in environment or config)")
	}
	if b.APISecret == "" {
		return fmt.Errorf("BYBIT_API_SECRET is required (set in environment or config)")
	}
	return nil
}

// symbolOverride parses a comma-separated symbol list and checks each
// one has a contract spec, since sizing cannot run without one.
func symbolOverride(cfg *config.Config, raw string) ([]string, error) {
	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		sym := strings.ToUpper(strings.TrimSpace(part))
		if sym == "" {
			continue
		}
		if _, ok := cfg.Symbols[sym]; !ok {
			return nil, fmt.Errorf("no contract spec for %s in config", sym)
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols given")
	}
	return symbols, nil
}

// buildBroker constructs the configured gateway and wraps it in the
// safety guard so every order path is rate limited and supervised.
func buildBroker(cfg *config.Config, lg *logger.Logger) (broker.Broker, error) {
	var inner broker.Broker
	switch cfg.Broker.Name {
	case "bybit":
		b := cfg.Broker.Bybit
		inner = bybit.NewGateway(bybit.Config{
			APIKey:    b.APIKey,
			APISecret: b.APISecret,
			Testnet:   b.Testnet,
			Demo:      b.Demo,
			Category:  b.Category,
		}, cfg.Symbols, lg)
	case "paper":
		inner = paper.New(cfg.Broker.Paper, cfg.Symbols)
	default:
		return nil, fmt.Errorf("unsupported broker: %s", cfg.Broker.Name)
	}
	return safety.NewGuard(inner, safety.GuardConfig{}, lg), nil
}

// printStartupSummary shows the loaded profile so the operator can
// eyeball the risk caps before the first tick.
func printStartupSummary(cfg *config.Config, session, brokerName string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("ENGINE CONFIGURATION")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"🕐 Session", session},
		{"🧭 Profile", cfg.Risk.Profile},
		{"🏦 Broker", brokerName},
		{"💱 Symbols", strings.Join(cfg.Engine.Symbols, ", ")},
		{"⏱ Tick Interval", cfg.Engine.TickDuration().String()},
		{"📡 Signal Source", cfg.Engine.Signal.Source},
		{"⚖️ Risk Fraction", fmt.Sprintf("%.2f%%", cfg.Sizing.RiskFraction*100)},
		{"🌊 Max Drawdown", fmt.Sprintf("%.1f%%", cfg.Risk.MaxDrawdown*100)},
		{"📉 Daily Loss Cap", fmt.Sprintf("%.1f%%", cfg.Risk.DailyLossLimit*100)},
		{"🔢 Max Positions", fmt.Sprintf("%d", cfg.Risk.MaxPositions)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Println()
}

// buildSessionReport collects the post-shutdown account picture. The
// broker is re-queried so balances reflect any shutdown flattening; on
// error the last tick snapshot stands in.
func buildSessionReport(ctx context.Context, cfg *config.Config, eng *engine.Engine, gw broker.Broker, session string, start time.Time) *reporting.SessionReport {
	status := eng.Status()
	snap := eng.Gate().Export()

	balance, equity := status.Balance, status.Equity
	if acct, err := gw.Account(ctx); err == nil {
		balance, equity = acct.Balance, acct.Equity
	}
	if balance == 0 && equity == 0 {
		balance, equity = snap.InitialBalance, snap.InitialBalance
	}

	return &reporting.SessionReport{
		Session:      session,
		Profile:      cfg.Risk.Profile,
		Symbols:      cfg.Engine.Symbols,
		StartTime:    start,
		EndTime:      time.Now(),
		StartBalance: snap.InitialBalance,
		FinalBalance: balance,
		FinalEquity:  equity,
		PeakEquity:   snap.PeakEquity,
		MaxDrawdown:  eng.Gate().Drawdown(equity),
		GateState:    string(eng.Gate().State()),
		TripReason:   eng.Gate().TripReason(),
		Trades:       eng.Ledger().ClosedTrades(),
		Book:         eng.Book(),
	}
}
