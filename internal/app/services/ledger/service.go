// Package ledger implements the value-unit ledger engine: exactly-once
// crediting and debiting of account balances against an append-only log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Meridian-Network/rewards_core/internal/app/backoff"
	"github.com/Meridian-Network/rewards_core/internal/app/config"
	domain "github.com/Meridian-Network/rewards_core/internal/app/domain/ledger"
	"github.com/Meridian-Network/rewards_core/internal/app/metrics"
	"github.com/Meridian-Network/rewards_core/internal/app/storage"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// Service coordinates entry application: validation, lazy account creation,
// bounded retry on transient contention, metrics and logging. All mutation of
// balances in the system goes through Apply.
type Service struct {
	accounts storage.AccountStore
	store    storage.LedgerStore
	cfg      config.Provider
	log      *logger.Logger
}

// New constructs a ledger service.
func New(accounts storage.AccountStore, store storage.LedgerStore, cfg config.Provider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{
		accounts: accounts,
		store:    store,
		cfg:      cfg,
		log:      log,
	}
}

// Apply credits or debits an account. A repeated idempotency key is a safe
// no-op returning the original outcome with Applied=false, even when the
// retry carries different arguments (first-writer-wins).
func (s *Service) Apply(ctx context.Context, accountID string, amountDelta int64, reason domain.Reason, idempotencyKey string) (domain.ApplyResult, error) {
	accountID = strings.TrimSpace(accountID)
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	if accountID == "" {
		return domain.ApplyResult{}, fmt.Errorf("%w: account id required", domain.ErrInvalidEntry)
	}
	if idempotencyKey == "" {
		return domain.ApplyResult{}, fmt.Errorf("%w: idempotency key required", domain.ErrInvalidEntry)
	}
	if !reason.Valid() {
		return domain.ApplyResult{}, fmt.Errorf("%w: unknown reason %q", domain.ErrInvalidEntry, reason)
	}

	snap, err := s.cfg.Snapshot()
	if err != nil {
		return domain.ApplyResult{}, err
	}

	if _, err := s.accounts.EnsureAccount(ctx, accountID); err != nil {
		return domain.ApplyResult{}, err
	}

	entry := domain.Entry{
		IdempotencyKey: idempotencyKey,
		AccountID:      accountID,
		AmountDelta:    amountDelta,
		Reason:         reason,
	}

	policy := backoff.Policy{Attempts: snap.Retry.Attempts, Base: snap.Retry.Backoff}
	start := time.Now()

	var result domain.ApplyResult
	err = policy.Do(ctx, func(err error) bool {
		return errors.Is(err, domain.ErrTransientStorage)
	}, func() error {
		var applyErr error
		result, applyErr = s.store.ApplyEntry(ctx, entry)
		return applyErr
	})
	if err != nil {
		metrics.RecordLedgerApply(string(reason), time.Since(start), "error")
		return domain.ApplyResult{}, err
	}

	outcome := "applied"
	if !result.Applied {
		outcome = "duplicate"
	}
	metrics.RecordLedgerApply(string(reason), time.Since(start), outcome)

	s.log.WithField("account_id", accountID).
		WithField("amount_delta", amountDelta).
		WithField("reason", string(reason)).
		WithField("applied", result.Applied).
		WithField("balance", result.NewBalance).
		Debug("ledger entry applied")
	return result, nil
}

// Balance is a point read of the materialized balance, linearizable with
// Apply on the same account.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.store.GetBalance(ctx, accountID)
}

// Entries lists an account's entries, newest first.
func (s *Service) Entries(ctx context.Context, accountID string, limit int) ([]domain.Entry, error) {
	return s.store.ListEntries(ctx, accountID, limit)
}

// EnsureAccount provisions the account row on first touch.
func (s *Service) EnsureAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return s.accounts.EnsureAccount(ctx, accountID)
}
