package storage

import (
	"context"

	"github.com/Meridian-Network/rewards_core/internal/app/domain/dividend"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/ledger"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/referral"
)

// AccountStore persists user accounts. Accounts are created lazily on first
// touch; registration itself is owned by an external collaborator.
type AccountStore interface {
	EnsureAccount(ctx context.Context, userID string) (ledger.Account, error)
	GetAccount(ctx context.Context, userID string) (ledger.Account, error)
	SetMembershipLevel(ctx context.Context, userID, level string) (ledger.Account, error)

	// AdjustContribution moves cumulative contribution by delta. Negative
	// deltas exist only for admin corrections; the result may not go below
	// zero.
	AdjustContribution(ctx context.Context, userID string, delta int64) (ledger.Account, error)
}

// LedgerStore persists the append-only entry log together with the
// materialized account balance.
type LedgerStore interface {
	// ApplyEntry atomically checks non-negativity, inserts the entry and
	// updates the account balance. An entry whose idempotency key already
	// exists is a no-op returning the original outcome with Applied=false.
	// Calls for the same account serialize; calls for different accounts do
	// not block each other.
	ApplyEntry(ctx context.Context, entry ledger.Entry) (ledger.ApplyResult, error)

	GetBalance(ctx context.Context, accountID string) (int64, error)
	ListEntries(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error)
}

// ReferralStore persists the referral forest.
type ReferralStore interface {
	// CreateEdge inserts an active edge. A referee with an existing active
	// edge fails with referral.ErrAlreadyReferred; cycle and self checks
	// belong to the service layer.
	CreateEdge(ctx context.Context, edge referral.Edge) (referral.Edge, error)

	GetEdge(ctx context.Context, refereeID string) (referral.Edge, error)
	RevokeEdge(ctx context.Context, refereeID string) (referral.Edge, error)
	ListDirectReferrals(ctx context.Context, referrerID string) ([]referral.Edge, error)
}

// DividendStore persists pools, holdings and distribution rounds.
type DividendStore interface {
	EnsurePool(ctx context.Context, poolID string) (dividend.Pool, error)
	GetPool(ctx context.Context, poolID string) (dividend.Pool, error)

	// Accrue adds to the pool balance with the same idempotent-append
	// guarantee as LedgerStore.ApplyEntry. The bool reports whether the
	// accrual was applied (false on a duplicate key).
	Accrue(ctx context.Context, poolID string, amount int64, idempotencyKey string) (dividend.Pool, bool, error)

	// OpenRound returns the currently open distribution round for the pool
	// (resumed=true) with the share plan persisted when it opened, or
	// atomically snapshots the balance together with the current holdings,
	// zeroes the balance, increments the round counter and opens a new
	// round. Accruals and share recomputes after the snapshot belong to the
	// next round.
	OpenRound(ctx context.Context, poolID string) (dist dividend.Distribution, resumed bool, err error)

	// CompleteRound closes the open round, records the flooring residual
	// and carries it forward into the pool balance.
	CompleteRound(ctx context.Context, poolID string, round int64, residual int64) (dividend.Distribution, error)

	UpsertHolding(ctx context.Context, holding dividend.Holding) (dividend.Holding, error)
	ListHoldings(ctx context.Context, poolID string) ([]dividend.Holding, error)
}
