// Package config supplies the tunable parameters of the rewards core as
// immutable snapshots. Engines receive a Provider by injection; there is no
// process-wide mutable configuration object.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Meridian-Network/rewards_core/internal/app/domain/membership"
)

// ErrUnavailable fails money-moving operations when no configuration has been
// loaded. Engines never guess defaults in that situation.
var ErrUnavailable = errors.New("configuration unavailable")

// Retry bounds retries of transient storage failures.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// Snapshot is a point-in-time view of all tunables. A single operation reads
// one snapshot throughout, so it never mixes two config versions.
type Snapshot struct {
	Levels          []membership.Level `yaml:"levels"`
	DividendCadence string             `yaml:"dividend_cadence"`
	Pools           []string           `yaml:"pools"`
	Retry           Retry              `yaml:"retry"`
}

// BaseLevel returns the lowest-ranked level. Validation guarantees one exists
// with zero thresholds.
func (s *Snapshot) BaseLevel() membership.Level {
	return s.Levels[0]
}

// LevelByName resolves a level by name.
func (s *Snapshot) LevelByName(name string) (membership.Level, bool) {
	for _, level := range s.Levels {
		if level.Name == name {
			return level, true
		}
	}
	return membership.Level{}, false
}

// LevelOrBase resolves a level by name, falling back to the base level for
// accounts that have never been evaluated.
func (s *Snapshot) LevelOrBase(name string) membership.Level {
	if level, ok := s.LevelByName(name); ok {
		return level
	}
	return s.BaseLevel()
}

// HighestSatisfied returns the highest level whose contribution and team-size
// thresholds are both met.
func (s *Snapshot) HighestSatisfied(contribution int64, teamSize int) membership.Level {
	best := s.BaseLevel()
	for _, level := range s.Levels {
		if level.Satisfies(contribution, teamSize) && level.Rank >= best.Rank {
			best = level
		}
	}
	return best
}

// MaxCommissionDepth is the deepest commission depth any level defines.
func (s *Snapshot) MaxCommissionDepth() int {
	depth := 0
	for _, level := range s.Levels {
		if len(level.CommissionRateByDepth) > depth {
			depth = len(level.CommissionRateByDepth)
		}
	}
	return depth
}

func (s *Snapshot) validate() error {
	if len(s.Levels) == 0 {
		return fmt.Errorf("at least one membership level is required")
	}
	sort.SliceStable(s.Levels, func(i, j int) bool { return s.Levels[i].Rank < s.Levels[j].Rank })
	if base := s.Levels[0]; base.MinContribution != 0 || base.MinTeamSize != 0 {
		return fmt.Errorf("base level %q must have zero thresholds", base.Name)
	}
	seen := make(map[string]bool, len(s.Levels))
	for _, level := range s.Levels {
		if level.Name == "" {
			return fmt.Errorf("level with rank %d has no name", level.Rank)
		}
		if seen[level.Name] {
			return fmt.Errorf("duplicate level name %q", level.Name)
		}
		seen[level.Name] = true
		for depth, rate := range level.CommissionRateByDepth {
			if rate < 0 || rate > 1 {
				return fmt.Errorf("level %q depth %d: rate %v out of range", level.Name, depth, rate)
			}
		}
		if level.EquityPercentage < 0 {
			return fmt.Errorf("level %q: negative equity percentage", level.Name)
		}
	}
	if s.Retry.Attempts <= 0 {
		s.Retry.Attempts = 3
	}
	if s.Retry.Backoff <= 0 {
		s.Retry.Backoff = 100 * time.Millisecond
	}
	if s.DividendCadence == "" {
		s.DividendCadence = "@daily"
	}
	return nil
}

// Provider hands out the current snapshot.
type Provider interface {
	Snapshot() (*Snapshot, error)
}

// Static wraps a fixed snapshot, mainly for tests.
func Static(snapshot Snapshot) Provider {
	p := &provider{}
	if err := snapshot.validate(); err == nil {
		p.current.Store(&snapshot)
	}
	return p
}

type provider struct {
	path    string
	current atomic.Pointer[Snapshot]
}

// Snapshot returns the active snapshot or ErrUnavailable when none loaded.
func (p *provider) Snapshot() (*Snapshot, error) {
	snap := p.current.Load()
	if snap == nil {
		return nil, ErrUnavailable
	}
	return snap, nil
}

// Load reads a YAML config file and returns a provider serving it. Reload
// swaps the snapshot atomically; readers holding the old one are unaffected.
func Load(path string) (*FileProvider, error) {
	p := &FileProvider{provider: provider{path: path}}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// FileProvider serves snapshots parsed from a YAML file.
type FileProvider struct {
	provider
}

// Reload re-reads the file and swaps in the new snapshot on success.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := snap.validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	p.current.Store(&snap)
	return nil
}

// Default returns the built-in level table used when no config file is given.
func Default() Provider {
	return Static(Snapshot{
		Levels: []membership.Level{
			{Name: "member", Rank: 0},
			{
				Name:                  "silver",
				Rank:                  1,
				MinContribution:       1000,
				MinTeamSize:           3,
				CommissionRateByDepth: []float64{0.10},
				EquityPercentage:      1,
			},
			{
				Name:                  "gold",
				Rank:                  2,
				MinContribution:       5000,
				MinTeamSize:           10,
				CommissionRateByDepth: []float64{0.10, 0.05},
				EquityPercentage:      3,
			},
			{
				Name:                  "platinum",
				Rank:                  3,
				MinContribution:       20000,
				MinTeamSize:           30,
				CommissionRateByDepth: []float64{0.10, 0.05, 0.02},
				EquityPercentage:      6,
			},
		},
		DividendCadence: "@daily",
		Pools:           []string{"default"},
		Retry:           Retry{Attempts: 3, Backoff: 100 * time.Millisecond},
	})
}
