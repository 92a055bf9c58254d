// Package membership implements level evaluation: on every change to
// cumulative contribution or team size, the account moves to the highest
// level whose thresholds it satisfies. Promotion and demotion both apply, so
// an admin correction that lowers contribution takes effect on the next
// evaluation.
package membership

import (
	"context"
	"fmt"
	"strings"

	"github.com/Meridian-Network/rewards_core/internal/app/config"
	"github.com/Meridian-Network/rewards_core/internal/app/notify"
	"github.com/Meridian-Network/rewards_core/internal/app/storage"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// TeamCounter supplies the size of a user's referral team. The count may be
// approximate; it is read, never written, by this engine.
type TeamCounter interface {
	TeamDescendantCount(ctx context.Context, userID string) (int, error)
}

// Result reports one evaluation. Changed is false when the account already
// sat at the right level, which makes re-evaluation idempotent.
type Result struct {
	UserID       string
	OldLevel     string
	NewLevel     string
	Contribution int64
	TeamSize     int
	Changed      bool
}

// Service evaluates and applies membership levels.
type Service struct {
	accounts storage.AccountStore
	team     TeamCounter
	cfg      config.Provider
	hooks    notify.Hooks
	log      *logger.Logger
}

// New constructs a membership service.
func New(accounts storage.AccountStore, team TeamCounter, cfg config.Provider, hooks notify.Hooks, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("membership")
	}
	if hooks == nil {
		hooks = notify.Nop{}
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{
		accounts: accounts,
		team:     team,
		cfg:      cfg,
		hooks:    hooks,
		log:      log,
	}
}

// Evaluate recomputes the account's level from current contribution and team
// size. Re-running with unchanged data produces no side effects beyond the
// level field itself.
func (s *Service) Evaluate(ctx context.Context, userID string) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{}, fmt.Errorf("user id required")
	}

	snap, err := s.cfg.Snapshot()
	if err != nil {
		return Result{}, err
	}

	acct, err := s.accounts.EnsureAccount(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	teamSize := 0
	if s.team != nil {
		teamSize, err = s.team.TeamDescendantCount(ctx, userID)
		if err != nil {
			return Result{}, fmt.Errorf("count team for %s: %w", userID, err)
		}
	}

	oldLevel := snap.LevelOrBase(acct.MembershipLevel)
	newLevel := snap.HighestSatisfied(acct.CumulativeContribution, teamSize)

	result := Result{
		UserID:       userID,
		OldLevel:     oldLevel.Name,
		NewLevel:     newLevel.Name,
		Contribution: acct.CumulativeContribution,
		TeamSize:     teamSize,
	}
	if newLevel.Name == oldLevel.Name && acct.MembershipLevel != "" {
		return result, nil
	}

	if _, err := s.accounts.SetMembershipLevel(ctx, userID, newLevel.Name); err != nil {
		return Result{}, err
	}
	result.Changed = newLevel.Name != oldLevel.Name

	if result.Changed {
		s.hooks.LevelChanged(ctx, userID, oldLevel.Name, newLevel.Name)
		s.log.WithField("user_id", userID).
			WithField("old_level", oldLevel.Name).
			WithField("new_level", newLevel.Name).
			WithField("contribution", acct.CumulativeContribution).
			WithField("team_size", teamSize).
			Info("membership level changed")
	}
	return result, nil
}

// RecordContribution adds to cumulative contribution and re-evaluates the
// level. Contribution only grows through this path; use AdminAdjust for
// corrections.
func (s *Service) RecordContribution(ctx context.Context, userID string, amount int64) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("contribution amount must be positive, got %d", amount)
	}
	if _, err := s.accounts.EnsureAccount(ctx, userID); err != nil {
		return Result{}, err
	}
	if _, err := s.accounts.AdjustContribution(ctx, userID, amount); err != nil {
		return Result{}, err
	}
	return s.Evaluate(ctx, userID)
}

// AdminAdjust applies a signed correction to cumulative contribution and
// re-evaluates, demoting when thresholds are no longer met.
func (s *Service) AdminAdjust(ctx context.Context, userID string, delta int64) (Result, error) {
	if _, err := s.accounts.EnsureAccount(ctx, userID); err != nil {
		return Result{}, err
	}
	if _, err := s.accounts.AdjustContribution(ctx, userID, delta); err != nil {
		return Result{}, err
	}
	return s.Evaluate(ctx, userID)
}

// CurrentLevel reports the account's stored level name, falling back to the
// base level for accounts never evaluated.
func (s *Service) CurrentLevel(ctx context.Context, userID string) (string, error) {
	snap, err := s.cfg.Snapshot()
	if err != nil {
		return "", err
	}
	acct, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		return "", err
	}
	return snap.LevelOrBase(acct.MembershipLevel).Name, nil
}
