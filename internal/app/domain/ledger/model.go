// Package ledger defines the value-unit ledger: per-user accounts and the
// append-only entry log that backs them.
package ledger

import "time"

// Reason classifies why an entry moved value units.
type Reason string

const (
	ReasonReferralBonus   Reason = "referral_bonus"
	ReasonCommission      Reason = "commission"
	ReasonDividend        Reason = "dividend"
	ReasonAdminAdjustment Reason = "admin_adjustment"
	ReasonManualTopup     Reason = "manual_topup"
	ReasonConsumption     Reason = "consumption"
)

// Valid reports whether the reason is one of the recognised values.
func (r Reason) Valid() bool {
	switch r {
	case ReasonReferralBonus, ReasonCommission, ReasonDividend,
		ReasonAdminAdjustment, ReasonManualTopup, ReasonConsumption:
		return true
	}
	return false
}

// Account holds the materialized balance for one user. The balance is always
// the sum of the account's ledger entries; both are written in the same
// atomic unit.
type Account struct {
	UserID                 string
	Balance                int64
	MembershipLevel        string
	CumulativeContribution int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Entry is one immutable ledger record. BalanceAfter captures the account
// balance resulting from this entry, so a duplicate idempotency key can
// report the original outcome.
type Entry struct {
	ID             string
	IdempotencyKey string
	AccountID      string
	AmountDelta    int64
	Reason         Reason
	BalanceAfter   int64
	CreatedAt      time.Time
}

// ApplyResult reports the outcome of applying an entry. Applied is false when
// the idempotency key had already been used; NewBalance then reflects the
// balance produced by the original application.
type ApplyResult struct {
	Entry      Entry
	NewBalance int64
	Applied    bool
}
