// Package referral defines the referral forest: at most one referrer per
// user, no self references, no cycles.
package referral

import (
	"errors"
	"time"
)

// Status marks whether an edge still participates in commission computation.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// MaxChainDepth bounds ancestor walks so corrupted data cannot loop forever.
const MaxChainDepth = 64

// Edge records that RefereeID was referred by ReferrerID. Edges are immutable
// except for the status transition to revoked; historical commission entries
// survive revocation.
type Edge struct {
	RefereeID  string
	ReferrerID string
	Status     Status
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

var (
	// ErrAlreadyReferred rejects a second active edge for the same referee.
	ErrAlreadyReferred = errors.New("user already has a referrer")

	// ErrSelfReferral rejects an edge from a user to itself.
	ErrSelfReferral = errors.New("self referral not allowed")

	// ErrCyclicReferral rejects an edge that would close a cycle in the
	// referral forest.
	ErrCyclicReferral = errors.New("referral would create a cycle")

	// ErrEdgeNotFound reports a lookup for a referee with no edge.
	ErrEdgeNotFound = errors.New("referral edge not found")
)
