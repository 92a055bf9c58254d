// Package notify carries the best-effort hooks fired toward the notification
// collaborator. Delivery is at-least-once and must never block or fail the
// transactional operation that triggered it; consumers deduplicate.
package notify

import "context"

// Hooks receives domain events after the underlying operation has committed.
type Hooks interface {
	LevelChanged(ctx context.Context, userID, oldLevel, newLevel string)
	CommissionCredited(ctx context.Context, userID string, amount int64, depth int)
}

// Nop discards all events.
type Nop struct{}

func (Nop) LevelChanged(context.Context, string, string, string) {}

func (Nop) CommissionCredited(context.Context, string, int64, int) {}
