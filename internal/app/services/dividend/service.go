// Package dividend implements the shared dividend pool engine: idempotent
// pool accrual, proportional distribution to equity holders, and the
// carry-forward of flooring residue into the next round.
package dividend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Meridian-Network/rewards_core/internal/app/backoff"
	"github.com/Meridian-Network/rewards_core/internal/app/config"
	domain "github.com/Meridian-Network/rewards_core/internal/app/domain/dividend"
	ledgerdomain "github.com/Meridian-Network/rewards_core/internal/app/domain/ledger"
	"github.com/Meridian-Network/rewards_core/internal/app/metrics"
	"github.com/Meridian-Network/rewards_core/internal/app/storage"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// Crediter applies a ledger entry; satisfied by the ledger service.
type Crediter interface {
	Apply(ctx context.Context, accountID string, amountDelta int64, reason ledgerdomain.Reason, idempotencyKey string) (ledgerdomain.ApplyResult, error)
}

// Share is one holder's payout in a distribution round. Applied is false when
// a resumed round found the holder already credited.
type Share struct {
	UserID      string
	EquityShare float64
	Amount      int64
	Applied     bool
}

// DistributionResult reports one completed round.
type DistributionResult struct {
	PoolID          string
	Round           int64
	SnapshotBalance int64
	Shares          []Share
	Residual        int64
	Resumed         bool
}

// Service manages dividend pools.
type Service struct {
	accounts storage.AccountStore
	store    storage.DividendStore
	ledger   Crediter
	cfg      config.Provider
	log      *logger.Logger
}

// New constructs a dividend service.
func New(accounts storage.AccountStore, store storage.DividendStore, crediter Crediter, cfg config.Provider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("dividend")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{
		accounts: accounts,
		store:    store,
		ledger:   crediter,
		cfg:      cfg,
		log:      log,
	}
}

// Accrue adds to a pool balance with the same idempotent-append guarantee as
// the ledger; a repeated key is a no-op.
func (s *Service) Accrue(ctx context.Context, poolID string, amount int64, idempotencyKey string) (domain.Pool, bool, error) {
	poolID = strings.TrimSpace(poolID)
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	if poolID == "" {
		return domain.Pool{}, false, fmt.Errorf("pool id required")
	}
	if idempotencyKey == "" {
		return domain.Pool{}, false, fmt.Errorf("idempotency key required")
	}
	if amount <= 0 {
		return domain.Pool{}, false, fmt.Errorf("accrual amount must be positive, got %d", amount)
	}

	snap, err := s.cfg.Snapshot()
	if err != nil {
		return domain.Pool{}, false, err
	}

	if _, err := s.store.EnsurePool(ctx, poolID); err != nil {
		return domain.Pool{}, false, err
	}

	policy := backoff.Policy{Attempts: snap.Retry.Attempts, Base: snap.Retry.Backoff}
	var pool domain.Pool
	var applied bool
	err = policy.Do(ctx, func(err error) bool {
		return errors.Is(err, ledgerdomain.ErrTransientStorage)
	}, func() error {
		var accrueErr error
		pool, applied, accrueErr = s.store.Accrue(ctx, poolID, amount, idempotencyKey)
		return accrueErr
	})
	if err != nil {
		return domain.Pool{}, false, err
	}

	s.log.WithField("pool_id", poolID).
		WithField("amount", amount).
		WithField("applied", applied).
		WithField("balance", pool.AccumulatedBalance).
		Debug("pool accrual")
	return pool, applied, nil
}

// Distribute snapshots the pool balance and holdings, credits every holder in
// the snapshot its floored share and carries the remainder forward into the
// next round. If a previous round was interrupted mid-credit, the open round
// is resumed against its persisted share plan: the same round number and the
// same derived idempotency keys mean already-credited holders are skipped and
// later share recomputes cannot change what the round owes.
func (s *Service) Distribute(ctx context.Context, poolID string) (DistributionResult, error) {
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return DistributionResult{}, fmt.Errorf("pool id required")
	}

	if _, err := s.cfg.Snapshot(); err != nil {
		return DistributionResult{}, err
	}

	start := time.Now()
	dist, resumed, err := s.store.OpenRound(ctx, poolID)
	if err != nil {
		return DistributionResult{}, err
	}

	result := DistributionResult{
		PoolID:          poolID,
		Round:           dist.Round,
		SnapshotBalance: dist.SnapshotBalance,
		Resumed:         resumed,
	}

	// pay from the share plan persisted when the round opened; current
	// holdings may have been recomputed since an interruption and must not
	// change what this round owes
	var creditedTotal int64
	for _, holding := range dist.Holdings {
		amount := int64(math.Floor(float64(dist.SnapshotBalance) * holding.EquityShare))
		if amount < 0 {
			amount = 0
		}
		creditedTotal += amount

		key := fmt.Sprintf("pool%s:round%d:holder%s", poolID, dist.Round, holding.UserID)
		applied, err := s.ledger.Apply(ctx, holding.UserID, amount, ledgerdomain.ReasonDividend, key)
		if err != nil {
			// the round stays open; a retry resumes from here with the
			// same keys
			return result, fmt.Errorf("credit holder %s in round %d: %w", holding.UserID, dist.Round, err)
		}
		result.Shares = append(result.Shares, Share{
			UserID:      holding.UserID,
			EquityShare: holding.EquityShare,
			Amount:      amount,
			Applied:     applied.Applied,
		})
	}

	result.Residual = dist.SnapshotBalance - creditedTotal
	if _, err := s.store.CompleteRound(ctx, poolID, dist.Round, result.Residual); err != nil {
		return result, err
	}

	metrics.RecordDistributionRound(poolID, time.Since(start), resumed)
	s.log.WithField("pool_id", poolID).
		WithField("round", dist.Round).
		WithField("snapshot", dist.SnapshotBalance).
		WithField("holders", len(result.Shares)).
		WithField("residual", result.Residual).
		Info("dividend round distributed")
	return result, nil
}

// EnrollHolder adds a user to the pool's holder set and recomputes shares.
func (s *Service) EnrollHolder(ctx context.Context, poolID, userID string) error {
	poolID = strings.TrimSpace(poolID)
	userID = strings.TrimSpace(userID)
	if poolID == "" || userID == "" {
		return fmt.Errorf("pool id and user id are required")
	}
	if _, err := s.store.EnsurePool(ctx, poolID); err != nil {
		return err
	}
	if _, err := s.accounts.EnsureAccount(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.UpsertHolding(ctx, domain.Holding{PoolID: poolID, UserID: userID}); err != nil {
		return err
	}
	return s.RecomputeHoldings(ctx, poolID)
}

// RecomputeHoldings rederives every holder's equity share from its current
// membership level, normalized so shares sum to one. Shares are overwritten,
// not appended: a holding is current-state equity, not history.
func (s *Service) RecomputeHoldings(ctx context.Context, poolID string) error {
	snap, err := s.cfg.Snapshot()
	if err != nil {
		return err
	}

	holdings, err := s.store.ListHoldings(ctx, poolID)
	if err != nil {
		return err
	}
	if len(holdings) == 0 {
		return nil
	}

	weights := make([]float64, len(holdings))
	var total float64
	for i, holding := range holdings {
		acct, err := s.accounts.EnsureAccount(ctx, holding.UserID)
		if err != nil {
			return err
		}
		weights[i] = snap.LevelOrBase(acct.MembershipLevel).EquityPercentage
		total += weights[i]
	}

	for i, holding := range holdings {
		share := 0.0
		if total > 0 {
			share = weights[i] / total
		}
		holding.EquityShare = share
		if _, err := s.store.UpsertHolding(ctx, holding); err != nil {
			return err
		}
	}
	return nil
}

// GetPool reports current pool state.
func (s *Service) GetPool(ctx context.Context, poolID string) (domain.Pool, error) {
	return s.store.GetPool(ctx, poolID)
}

// Holdings lists the pool's equity holders.
func (s *Service) Holdings(ctx context.Context, poolID string) ([]domain.Holding, error) {
	return s.store.ListHoldings(ctx, poolID)
}
