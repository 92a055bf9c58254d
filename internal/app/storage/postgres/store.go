package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Meridian-Network/rewards_core/internal/app/domain/dividend"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/ledger"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/referral"
	"github.com/Meridian-Network/rewards_core/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. Every
// balance-moving operation runs in a single transaction with a row lock on
// the owning account or pool, so an entry and its balance update are one
// atomic unit and per-account operations serialize without blocking other
// accounts.
type Store struct {
	db *sqlx.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.DividendStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type accountRow struct {
	UserID                 string    `db:"user_id"`
	Balance                int64     `db:"balance"`
	MembershipLevel        string    `db:"membership_level"`
	CumulativeContribution int64     `db:"cumulative_contribution"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

func (r accountRow) toDomain() ledger.Account {
	return ledger.Account{
		UserID:                 r.UserID,
		Balance:                r.Balance,
		MembershipLevel:        r.MembershipLevel,
		CumulativeContribution: r.CumulativeContribution,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

type entryRow struct {
	ID             string    `db:"id"`
	IdempotencyKey string    `db:"idempotency_key"`
	AccountID      string    `db:"account_id"`
	AmountDelta    int64     `db:"amount_delta"`
	Reason         string    `db:"reason"`
	BalanceAfter   int64     `db:"balance_after"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r entryRow) toDomain() ledger.Entry {
	return ledger.Entry{
		ID:             r.ID,
		IdempotencyKey: r.IdempotencyKey,
		AccountID:      r.AccountID,
		AmountDelta:    r.AmountDelta,
		Reason:         ledger.Reason(r.Reason),
		BalanceAfter:   r.BalanceAfter,
		CreatedAt:      r.CreatedAt,
	}
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) EnsureAccount(ctx context.Context, userID string) (ledger.Account, error) {
	if userID == "" {
		return ledger.Account{}, fmt.Errorf("user id required")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, membership_level, cumulative_contribution, created_at, updated_at)
		VALUES ($1, 0, '', 0, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, now)
	if err != nil {
		return ledger.Account{}, classify(err)
	}
	return s.GetAccount(ctx, userID)
}

func (s *Store) GetAccount(ctx context.Context, userID string) (ledger.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, balance, membership_level, cumulative_contribution, created_at, updated_at
		FROM accounts WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, userID)
	}
	if err != nil {
		return ledger.Account{}, classify(err)
	}
	return row.toDomain(), nil
}

func (s *Store) SetMembershipLevel(ctx context.Context, userID, level string) (ledger.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE accounts
		SET membership_level = $2, updated_at = $3
		WHERE user_id = $1
		RETURNING user_id, balance, membership_level, cumulative_contribution, created_at, updated_at
	`, userID, level, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, userID)
	}
	if err != nil {
		return ledger.Account{}, classify(err)
	}
	return row.toDomain(), nil
}

func (s *Store) AdjustContribution(ctx context.Context, userID string, delta int64) (ledger.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE accounts
		SET cumulative_contribution = cumulative_contribution + $2, updated_at = $3
		WHERE user_id = $1 AND cumulative_contribution + $2 >= 0
		RETURNING user_id, balance, membership_level, cumulative_contribution, created_at, updated_at
	`, userID, delta, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		// either the account is missing or the delta would go negative
		if _, getErr := s.GetAccount(ctx, userID); getErr != nil {
			return ledger.Account{}, getErr
		}
		return ledger.Account{}, fmt.Errorf("contribution for %s cannot go negative", userID)
	}
	if err != nil {
		return ledger.Account{}, classify(err)
	}
	return row.toDomain(), nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) ApplyEntry(ctx context.Context, entry ledger.Entry) (ledger.ApplyResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.ApplyResult{}, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	// fast path for retries: the key is unique, so an existing row is the
	// original outcome
	if existing, ok, err := getEntryByKey(ctx, tx, entry.IdempotencyKey); err != nil {
		return ledger.ApplyResult{}, err
	} else if ok {
		return ledger.ApplyResult{Entry: existing, NewBalance: existing.BalanceAfter, Applied: false}, nil
	}

	// row lock serializes concurrent applies on the same account
	var acct accountRow
	err = tx.GetContext(ctx, &acct, `
		SELECT user_id, balance, membership_level, cumulative_contribution, created_at, updated_at
		FROM accounts WHERE user_id = $1 FOR UPDATE
	`, entry.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ApplyResult{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, entry.AccountID)
	}
	if err != nil {
		return ledger.ApplyResult{}, classify(err)
	}

	if entry.AmountDelta < 0 && acct.Balance+entry.AmountDelta < 0 {
		return ledger.ApplyResult{}, fmt.Errorf("%w: account %s has %d, delta %d",
			ledger.ErrInsufficientBalance, entry.AccountID, acct.Balance, entry.AmountDelta)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()
	entry.BalanceAfter = acct.Balance + entry.AmountDelta

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, idempotency_key, account_id, amount_delta, reason, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.IdempotencyKey, entry.AccountID, entry.AmountDelta, string(entry.Reason), entry.BalanceAfter, entry.CreatedAt)
	if isUniqueViolation(err) {
		// lost the race on the key; surface the winner's outcome
		_ = tx.Rollback()
		existing, ok, lookupErr := s.getEntryByKeyDB(ctx, entry.IdempotencyKey)
		if lookupErr != nil {
			return ledger.ApplyResult{}, lookupErr
		}
		if !ok {
			return ledger.ApplyResult{}, ledger.TransientStorage(err)
		}
		return ledger.ApplyResult{Entry: existing, NewBalance: existing.BalanceAfter, Applied: false}, nil
	}
	if err != nil {
		return ledger.ApplyResult{}, classify(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET balance = $2, updated_at = $3 WHERE user_id = $1
	`, entry.AccountID, entry.BalanceAfter, entry.CreatedAt)
	if err != nil {
		return ledger.ApplyResult{}, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.ApplyResult{}, classify(err)
	}
	return ledger.ApplyResult{Entry: entry, NewBalance: entry.BalanceAfter, Applied: true}, nil
}

func getEntryByKey(ctx context.Context, tx *sqlx.Tx, key string) (ledger.Entry, bool, error) {
	var row entryRow
	err := tx.GetContext(ctx, &row, `
		SELECT id, idempotency_key, account_id, amount_delta, reason, balance_after, created_at
		FROM ledger_entries WHERE idempotency_key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, classify(err)
	}
	return row.toDomain(), true, nil
}

func (s *Store) getEntryByKeyDB(ctx context.Context, key string) (ledger.Entry, bool, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, idempotency_key, account_id, amount_delta, reason, balance_after, created_at
		FROM ledger_entries WHERE idempotency_key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, classify(err)
	}
	return row.toDomain(), true, nil
}

func (s *Store) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `SELECT balance FROM accounts WHERE user_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return 0, classify(err)
	}
	return balance, nil
}

func (s *Store) ListEntries(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, idempotency_key, account_id, amount_delta, reason, balance_after, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// --- ReferralStore ----------------------------------------------------------

type edgeRow struct {
	RefereeID  string       `db:"referee_id"`
	ReferrerID string       `db:"referrer_id"`
	Status     string       `db:"status"`
	CreatedAt  time.Time    `db:"created_at"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
}

func (r edgeRow) toDomain() referral.Edge {
	edge := referral.Edge{
		RefereeID:  r.RefereeID,
		ReferrerID: r.ReferrerID,
		Status:     referral.Status(r.Status),
		CreatedAt:  r.CreatedAt,
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time
		edge.RevokedAt = &t
	}
	return edge
}

func (s *Store) CreateEdge(ctx context.Context, edge referral.Edge) (referral.Edge, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO referral_edges (referee_id, referrer_id, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, edge.RefereeID, edge.ReferrerID, string(referral.StatusActive), now)
	if isUniqueViolation(err) {
		return referral.Edge{}, fmt.Errorf("%w: %s", referral.ErrAlreadyReferred, edge.RefereeID)
	}
	if err != nil {
		return referral.Edge{}, classify(err)
	}
	edge.Status = referral.StatusActive
	edge.CreatedAt = now
	edge.RevokedAt = nil
	return edge, nil
}

func (s *Store) GetEdge(ctx context.Context, refereeID string) (referral.Edge, error) {
	var row edgeRow
	err := s.db.GetContext(ctx, &row, `
		SELECT referee_id, referrer_id, status, created_at, revoked_at
		FROM referral_edges WHERE referee_id = $1
	`, refereeID)
	if errors.Is(err, sql.ErrNoRows) {
		return referral.Edge{}, fmt.Errorf("%w: %s", referral.ErrEdgeNotFound, refereeID)
	}
	if err != nil {
		return referral.Edge{}, classify(err)
	}
	return row.toDomain(), nil
}

func (s *Store) RevokeEdge(ctx context.Context, refereeID string) (referral.Edge, error) {
	var row edgeRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE referral_edges
		SET status = $2, revoked_at = COALESCE(revoked_at, $3)
		WHERE referee_id = $1
		RETURNING referee_id, referrer_id, status, created_at, revoked_at
	`, refereeID, string(referral.StatusRevoked), time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return referral.Edge{}, fmt.Errorf("%w: %s", referral.ErrEdgeNotFound, refereeID)
	}
	if err != nil {
		return referral.Edge{}, classify(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListDirectReferrals(ctx context.Context, referrerID string) ([]referral.Edge, error) {
	var rows []edgeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT referee_id, referrer_id, status, created_at, revoked_at
		FROM referral_edges
		WHERE referrer_id = $1 AND status = $2
		ORDER BY referee_id
	`, referrerID, string(referral.StatusActive))
	if err != nil {
		return nil, classify(err)
	}
	out := make([]referral.Edge, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// --- DividendStore ----------------------------------------------------------

type poolRow struct {
	ID                 string       `db:"id"`
	AccumulatedBalance int64        `db:"accumulated_balance"`
	DistributionRound  int64        `db:"distribution_round"`
	LastDistributionAt sql.NullTime `db:"last_distribution_at"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

func (r poolRow) toDomain() dividend.Pool {
	pool := dividend.Pool{
		ID:                 r.ID,
		AccumulatedBalance: r.AccumulatedBalance,
		DistributionRound:  r.DistributionRound,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.LastDistributionAt.Valid {
		t := r.LastDistributionAt.Time
		pool.LastDistributionAt = &t
	}
	return pool
}

type distributionRow struct {
	PoolID          string       `db:"pool_id"`
	Round           int64        `db:"round"`
	SnapshotBalance int64        `db:"snapshot_balance"`
	Residual        int64        `db:"residual"`
	Status          string       `db:"status"`
	StartedAt       time.Time    `db:"started_at"`
	CompletedAt     sql.NullTime `db:"completed_at"`
}

func (r distributionRow) toDomain() dividend.Distribution {
	dist := dividend.Distribution{
		PoolID:          r.PoolID,
		Round:           r.Round,
		SnapshotBalance: r.SnapshotBalance,
		Residual:        r.Residual,
		Status:          dividend.RoundStatus(r.Status),
		StartedAt:       r.StartedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		dist.CompletedAt = &t
	}
	return dist
}

func (s *Store) EnsurePool(ctx context.Context, poolID string) (dividend.Pool, error) {
	if poolID == "" {
		return dividend.Pool{}, fmt.Errorf("pool id required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dividend_pools (id, accumulated_balance, distribution_round, created_at, updated_at)
		VALUES ($1, 0, 0, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, poolID, now)
	if err != nil {
		return dividend.Pool{}, classify(err)
	}
	return s.GetPool(ctx, poolID)
}

func (s *Store) GetPool(ctx context.Context, poolID string) (dividend.Pool, error) {
	var row poolRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, accumulated_balance, distribution_round, last_distribution_at, created_at, updated_at
		FROM dividend_pools WHERE id = $1
	`, poolID)
	if errors.Is(err, sql.ErrNoRows) {
		return dividend.Pool{}, fmt.Errorf("%w: %s", dividend.ErrPoolNotFound, poolID)
	}
	if err != nil {
		return dividend.Pool{}, classify(err)
	}
	return row.toDomain(), nil
}

func (s *Store) Accrue(ctx context.Context, poolID string, amount int64, idempotencyKey string) (dividend.Pool, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dividend.Pool{}, false, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var row poolRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, accumulated_balance, distribution_round, last_distribution_at, created_at, updated_at
		FROM dividend_pools WHERE id = $1 FOR UPDATE
	`, poolID)
	if errors.Is(err, sql.ErrNoRows) {
		return dividend.Pool{}, false, fmt.Errorf("%w: %s", dividend.ErrPoolNotFound, poolID)
	}
	if err != nil {
		return dividend.Pool{}, false, classify(err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pool_accruals (id, pool_id, idempotency_key, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), poolID, idempotencyKey, amount, now)
	if isUniqueViolation(err) {
		_ = tx.Rollback()
		pool, getErr := s.GetPool(ctx, poolID)
		if getErr != nil {
			return dividend.Pool{}, false, getErr
		}
		return pool, false, nil
	}
	if err != nil {
		return dividend.Pool{}, false, classify(err)
	}

	row.AccumulatedBalance += amount
	_, err = tx.ExecContext(ctx, `
		UPDATE dividend_pools SET accumulated_balance = $2, updated_at = $3 WHERE id = $1
	`, poolID, row.AccumulatedBalance, now)
	if err != nil {
		return dividend.Pool{}, false, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return dividend.Pool{}, false, classify(err)
	}
	row.UpdatedAt = now
	return row.toDomain(), true, nil
}

func (s *Store) OpenRound(ctx context.Context, poolID string) (dividend.Distribution, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dividend.Distribution{}, false, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var pool poolRow
	err = tx.GetContext(ctx, &pool, `
		SELECT id, accumulated_balance, distribution_round, last_distribution_at, created_at, updated_at
		FROM dividend_pools WHERE id = $1 FOR UPDATE
	`, poolID)
	if errors.Is(err, sql.ErrNoRows) {
		return dividend.Distribution{}, false, fmt.Errorf("%w: %s", dividend.ErrPoolNotFound, poolID)
	}
	if err != nil {
		return dividend.Distribution{}, false, classify(err)
	}

	var open distributionRow
	err = tx.GetContext(ctx, &open, `
		SELECT pool_id, round, snapshot_balance, residual, status, started_at, completed_at
		FROM distributions WHERE pool_id = $1 AND status = $2
	`, poolID, string(dividend.RoundOpen))
	if err == nil {
		// interrupted round; resume it with the same round number and the
		// share plan persisted when it opened
		dist := open.toDomain()
		dist.Holdings, err = distributionShares(ctx, tx, poolID, dist.Round)
		if err != nil {
			return dividend.Distribution{}, false, err
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return dividend.Distribution{}, false, classify(commitErr)
		}
		return dist, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return dividend.Distribution{}, false, classify(err)
	}

	now := time.Now().UTC()
	dist := dividend.Distribution{
		PoolID:          poolID,
		Round:           pool.DistributionRound + 1,
		SnapshotBalance: pool.AccumulatedBalance,
		Status:          dividend.RoundOpen,
		StartedAt:       now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO distributions (pool_id, round, snapshot_balance, residual, status, started_at)
		VALUES ($1, $2, $3, 0, $4, $5)
	`, dist.PoolID, dist.Round, dist.SnapshotBalance, string(dist.Status), dist.StartedAt)
	if err != nil {
		return dividend.Distribution{}, false, classify(err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO distribution_shares (pool_id, round, user_id, equity_share)
		SELECT pool_id, $2, user_id, equity_share FROM equity_holdings WHERE pool_id = $1
	`, poolID, dist.Round)
	if err != nil {
		return dividend.Distribution{}, false, classify(err)
	}
	dist.Holdings, err = distributionShares(ctx, tx, poolID, dist.Round)
	if err != nil {
		return dividend.Distribution{}, false, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE dividend_pools SET accumulated_balance = 0, distribution_round = $2, updated_at = $3 WHERE id = $1
	`, poolID, dist.Round, now)
	if err != nil {
		return dividend.Distribution{}, false, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return dividend.Distribution{}, false, classify(err)
	}
	return dist, false, nil
}

func distributionShares(ctx context.Context, tx *sqlx.Tx, poolID string, round int64) ([]dividend.Holding, error) {
	var rows []struct {
		PoolID      string  `db:"pool_id"`
		UserID      string  `db:"user_id"`
		EquityShare float64 `db:"equity_share"`
	}
	err := tx.SelectContext(ctx, &rows, `
		SELECT pool_id, user_id, equity_share
		FROM distribution_shares WHERE pool_id = $1 AND round = $2 ORDER BY user_id
	`, poolID, round)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]dividend.Holding, 0, len(rows))
	for _, row := range rows {
		out = append(out, dividend.Holding{
			PoolID:      row.PoolID,
			UserID:      row.UserID,
			EquityShare: row.EquityShare,
		})
	}
	return out, nil
}

func (s *Store) CompleteRound(ctx context.Context, poolID string, round int64, residual int64) (dividend.Distribution, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dividend.Distribution{}, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var row distributionRow
	err = tx.GetContext(ctx, &row, `
		UPDATE distributions
		SET status = $3, residual = $4, completed_at = $5
		WHERE pool_id = $1 AND round = $2 AND status = $6
		RETURNING pool_id, round, snapshot_balance, residual, status, started_at, completed_at
	`, poolID, round, string(dividend.RoundCompleted), residual, now, string(dividend.RoundOpen))
	if errors.Is(err, sql.ErrNoRows) {
		// already completed rounds are a no-op so retries stay safe
		err = tx.GetContext(ctx, &row, `
			SELECT pool_id, round, snapshot_balance, residual, status, started_at, completed_at
			FROM distributions WHERE pool_id = $1 AND round = $2
		`, poolID, round)
		if errors.Is(err, sql.ErrNoRows) {
			return dividend.Distribution{}, fmt.Errorf("%w: pool %s round %d", dividend.ErrRoundNotFound, poolID, round)
		}
		if err != nil {
			return dividend.Distribution{}, classify(err)
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return dividend.Distribution{}, classify(commitErr)
		}
		return row.toDomain(), nil
	}
	if err != nil {
		return dividend.Distribution{}, classify(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE dividend_pools
		SET accumulated_balance = accumulated_balance + $2, last_distribution_at = $3, updated_at = $3
		WHERE id = $1
	`, poolID, residual, now)
	if err != nil {
		return dividend.Distribution{}, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return dividend.Distribution{}, classify(err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpsertHolding(ctx context.Context, holding dividend.Holding) (dividend.Holding, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity_holdings (pool_id, user_id, equity_share, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pool_id, user_id) DO UPDATE SET equity_share = EXCLUDED.equity_share, updated_at = EXCLUDED.updated_at
	`, holding.PoolID, holding.UserID, holding.EquityShare, now)
	if err != nil {
		return dividend.Holding{}, classify(err)
	}
	holding.UpdatedAt = now
	return holding, nil
}

func (s *Store) ListHoldings(ctx context.Context, poolID string) ([]dividend.Holding, error) {
	var rows []struct {
		PoolID      string    `db:"pool_id"`
		UserID      string    `db:"user_id"`
		EquityShare float64   `db:"equity_share"`
		UpdatedAt   time.Time `db:"updated_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT pool_id, user_id, equity_share, updated_at
		FROM equity_holdings WHERE pool_id = $1 ORDER BY user_id
	`, poolID)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]dividend.Holding, 0, len(rows))
	for _, row := range rows {
		out = append(out, dividend.Holding{
			PoolID:      row.PoolID,
			UserID:      row.UserID,
			EquityShare: row.EquityShare,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return out, nil
}

// --- error classification ---------------------------------------------------

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// classify wraps retryable driver failures (serialization conflicts, lock
// timeouts, dropped connections) so callers can back off and retry without
// seeing driver-specific text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return ledger.TransientStorage(err)
		}
		switch pqErr.Code.Class() {
		case "08": // connection exceptions
			return ledger.TransientStorage(err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return ledger.TransientStorage(err)
	}
	return err
}
