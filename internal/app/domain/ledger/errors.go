package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance rejects a debit that would take the balance
	// negative. The ledger is left untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound reports a read against an unknown account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidEntry rejects malformed apply requests (empty account,
	// empty idempotency key, unknown reason).
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrTransientStorage marks a retryable storage failure (lock
	// contention, serialization conflict, dropped connection). Callers may
	// retry with backoff; the wrapped driver detail never crosses the API
	// boundary.
	ErrTransientStorage = errors.New("transient storage error")
)

// TransientStorage wraps a driver error as retryable. The driver text is kept
// for logs via %v but the sentinel is what callers match on.
func TransientStorage(err error) error {
	return fmt.Errorf("%w: %v", ErrTransientStorage, err)
}
