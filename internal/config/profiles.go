package config

import "fmt"

// Named risk profiles. The profile picks which portfolio trips the
// risk gate enforces and supplies limit defaults; explicit values in
// the config file always win over profile defaults.
const (
	ProfileConservative = "conservative"
	ProfileExtreme      = "extreme"
)

// profileDefaults returns the default limit set for a named profile.
// The conservative profile trips on drawdown, daily loss and losing
// streaks. The extreme profile tolerates deep drawdowns and only pulls
// the plug when most of the initial balance is gone.
func profileDefaults(profile string) (RiskConfig, error) {
	switch profile {
	case ProfileConservative:
		return RiskConfig{
			Profile:                  ProfileConservative,
			MaxDrawdown:              0.20,
			DailyLossLimit:           0.05,
			MaxConsecutiveLosses:     5,
			CatastrophicLossFraction: 0.80,
			MaxPositions:             10,
			MaxPerStrategy:           3,
			MaxExposureMultiple:      10,
			MaxPortfolioVaRFraction:  0.10,
			MaxCorrelatedPositions:   3,
		}, nil
	case ProfileExtreme:
		return RiskConfig{
			Profile:                  ProfileExtreme,
			MaxDrawdown:              0.60,
			DailyLossLimit:           0.25,
			MaxConsecutiveLosses:     0, // streaks never trip this profile
			CatastrophicLossFraction: 0.95,
			MaxPositions:             25,
			MaxPerStrategy:           8,
			MaxExposureMultiple:      40,
			MaxPortfolioVaRFraction:  0.35,
			MaxCorrelatedPositions:   6,
		}, nil
	default:
		return RiskConfig{}, fmt.Errorf("unknown risk profile %q (expected %s or %s)", profile, ProfileConservative, ProfileExtreme)
	}
}

// applyProfile merges profile defaults into the risk section. Only
// fields the file left at zero are filled, so a conservative config can
// still override a single limit without abandoning the profile.
func (c *Config) applyProfile() error {
	if c.Risk.Profile == "" {
		c.Risk.Profile = ProfileConservative
	}
	def, err := profileDefaults(c.Risk.Profile)
	if err != nil {
		return err
	}

	if c.Risk.MaxDrawdown == 0 {
		c.Risk.MaxDrawdown = def.MaxDrawdown
	}
	if c.Risk.DailyLossLimit == 0 {
		c.Risk.DailyLossLimit = def.DailyLossLimit
	}
	if c.Risk.MaxConsecutiveLosses == 0 {
		c.Risk.MaxConsecutiveLosses = def.MaxConsecutiveLosses
	}
	if c.Risk.CatastrophicLossFraction == 0 {
		c.Risk.CatastrophicLossFraction = def.CatastrophicLossFraction
	}
	if c.Risk.MaxPositions == 0 {
		c.Risk.MaxPositions = def.MaxPositions
	}
	if c.Risk.MaxPerStrategy == 0 {
		c.Risk.MaxPerStrategy = def.MaxPerStrategy
	}
	if c.Risk.MaxExposureMultiple == 0 {
		c.Risk.MaxExposureMultiple = def.MaxExposureMultiple
	}
	if c.Risk.MaxPortfolioVaRFraction == 0 {
		c.Risk.MaxPortfolioVaRFraction = def.MaxPortfolioVaRFraction
	}
	if c.Risk.MaxCorrelatedPositions == 0 {
		c.Risk.MaxCorrelatedPositions = def.MaxCorrelatedPositions
	}
	return nil
}

// StreakTripsGate reports whether consecutive losses can trip the
// emergency stop under the configured profile.
func (r RiskConfig) StreakTripsGate() bool {
	return r.Profile == ProfileConservative && r.MaxConsecutiveLosses > 0
}
