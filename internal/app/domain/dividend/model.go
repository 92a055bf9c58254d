// Package dividend defines the shared dividend pools, per-user equity
// holdings and the distribution rounds that pay them out.
package dividend

import (
	"errors"
	"time"
)

// Pool accumulates designated contributions until a distribution round
// snapshots and zeroes it. DistributionRound only ever increases.
type Pool struct {
	ID                 string
	AccumulatedBalance int64
	DistributionRound  int64
	LastDistributionAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Holding is one user's proportional claim on a pool. Shares are overwritten
// on each recompute pass; they are current state, not history.
type Holding struct {
	PoolID      string
	UserID      string
	EquityShare float64
	UpdatedAt   time.Time
}

// RoundStatus tracks whether a distribution round has credited all holders.
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundCompleted RoundStatus = "completed"
)

// Distribution persists the snapshot taken when a round opened. An
// interrupted round is resumed from this record with the same round number
// and the same derived idempotency keys.
type Distribution struct {
	PoolID          string
	Round           int64
	SnapshotBalance int64
	Residual        int64
	Status          RoundStatus
	StartedAt       time.Time
	CompletedAt     *time.Time

	// Holdings is the equity snapshot taken together with the balance. A
	// resumed round pays from this plan, never from current holdings, so a
	// share recompute between interruption and retry cannot change what the
	// round owes.
	Holdings []Holding
}

var (
	// ErrPoolNotFound reports a lookup for an unknown pool.
	ErrPoolNotFound = errors.New("dividend pool not found")

	// ErrRoundNotFound reports a completion attempt for a round that is not
	// open.
	ErrRoundNotFound = errors.New("distribution round not found")
)
