// Package commission implements multi-level commission computation: a
// qualifying transaction pays each ancestor in the payer's referral chain
// according to that ancestor's own membership level.
package commission

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Meridian-Network/rewards_core/internal/app/config"
	ledgerdomain "github.com/Meridian-Network/rewards_core/internal/app/domain/ledger"
	"github.com/Meridian-Network/rewards_core/internal/app/metrics"
	"github.com/Meridian-Network/rewards_core/internal/app/notify"
	"github.com/Meridian-Network/rewards_core/internal/app/storage"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// ChainWalker produces the ancestor chain above a user, nearest first.
type ChainWalker interface {
	AncestorChain(ctx context.Context, userID string, maxDepth int) ([]string, error)
}

// Crediter applies a ledger entry; satisfied by the ledger service.
type Crediter interface {
	Apply(ctx context.Context, accountID string, amountDelta int64, reason ledgerdomain.Reason, idempotencyKey string) (ledgerdomain.ApplyResult, error)
}

// Credit is one commission payment at a referral depth. Applied is false when
// a retry found the depth already credited.
type Credit struct {
	UserID  string
	Depth   int
	Level   string
	Rate    float64
	Amount  int64
	Applied bool
}

// Result reports the full fanout of one qualifying transaction.
type Result struct {
	PayerID string
	Amount  int64
	Credits []Credit
}

// Service walks the referral chain and credits commissions.
type Service struct {
	accounts  storage.AccountStore
	referrals ChainWalker
	ledger    Crediter
	cfg       config.Provider
	hooks     notify.Hooks
	log       *logger.Logger
}

// New constructs a commission service.
func New(accounts storage.AccountStore, referrals ChainWalker, crediter Crediter, cfg config.Provider, hooks notify.Hooks, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("commission")
	}
	if hooks == nil {
		hooks = notify.Nop{}
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{
		accounts:  accounts,
		referrals: referrals,
		ledger:    crediter,
		cfg:       cfg,
		hooks:     hooks,
		log:       log,
	}
}

// Process pays commissions for one qualifying transaction. Each depth uses an
// idempotency key derived from the caller's key, so retrying the whole call
// re-applies nothing and a partial failure resumes at the failed depth.
//
// Zero-amount commissions are still recorded as ledger entries, keeping an
// audit row for every depth that was considered.
func (s *Service) Process(ctx context.Context, payerID string, amount int64, idempotencyKey string) (Result, error) {
	payerID = strings.TrimSpace(payerID)
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	if payerID == "" {
		return Result{}, fmt.Errorf("payer id required")
	}
	if idempotencyKey == "" {
		return Result{}, fmt.Errorf("idempotency key required")
	}
	if amount <= 0 {
		return Result{}, fmt.Errorf("transaction amount must be positive, got %d", amount)
	}

	// one snapshot for the whole computation; never mix config versions
	snap, err := s.cfg.Snapshot()
	if err != nil {
		return Result{}, err
	}

	chain, err := s.referrals.AncestorChain(ctx, payerID, snap.MaxCommissionDepth())
	if err != nil {
		return Result{}, err
	}

	result := Result{PayerID: payerID, Amount: amount}
	for depth, ancestorID := range chain {
		acct, err := s.accounts.EnsureAccount(ctx, ancestorID)
		if err != nil {
			return result, fmt.Errorf("resolve ancestor %s at depth %d: %w", ancestorID, depth, err)
		}

		level := snap.LevelOrBase(acct.MembershipLevel)
		rate := level.RateAt(depth)
		commission := int64(math.Floor(float64(amount) * rate))

		key := fmt.Sprintf("%s:depth%d", idempotencyKey, depth)
		applied, err := s.ledger.Apply(ctx, ancestorID, commission, ledgerdomain.ReasonCommission, key)
		if err != nil {
			return result, fmt.Errorf("credit depth %d: %w", depth, err)
		}

		credit := Credit{
			UserID:  ancestorID,
			Depth:   depth,
			Level:   level.Name,
			Rate:    rate,
			Amount:  commission,
			Applied: applied.Applied,
		}
		result.Credits = append(result.Credits, credit)

		if applied.Applied {
			metrics.RecordCommissionCredit(depth)
			if commission > 0 {
				s.hooks.CommissionCredited(ctx, ancestorID, commission, depth)
			}
		}
	}

	s.log.WithField("payer_id", payerID).
		WithField("amount", amount).
		WithField("depths", len(result.Credits)).
		Info("qualifying transaction processed")
	return result, nil
}
