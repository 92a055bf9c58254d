// Package membership defines the ordered membership levels and the thresholds
// that gate them. Levels are configuration, not user state; an account only
// stores the name of its current level.
package membership

// Level describes one membership tier. Levels are totally ordered by Rank; a
// user's level is the highest level whose MinContribution and MinTeamSize are
// both satisfied.
type Level struct {
	Name            string `yaml:"name"`
	Rank            int    `yaml:"rank"`
	MinContribution int64  `yaml:"min_contribution"`
	MinTeamSize     int    `yaml:"min_team_size"`

	// CommissionRateByDepth holds per-depth commission rates, index 0 being
	// the direct referrer. A level with no rate at a depth pays zero there;
	// rates do not inherit from lower levels.
	CommissionRateByDepth []float64 `yaml:"commission_rate_by_depth"`

	// EquityPercentage is this level's weight when dividend pool holdings
	// are recomputed.
	EquityPercentage float64 `yaml:"equity_percentage"`
}

// RateAt returns the commission rate for the given depth, or zero when the
// level defines no rate that deep.
func (l Level) RateAt(depth int) float64 {
	if depth < 0 || depth >= len(l.CommissionRateByDepth) {
		return 0
	}
	return l.CommissionRateByDepth[depth]
}

// Satisfies reports whether the thresholds of this level are met.
func (l Level) Satisfies(contribution int64, teamSize int) bool {
	return contribution >= l.MinContribution && teamSize >= l.MinTeamSize
}
