package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Meridian-Network/rewards_core/internal/app/domain/dividend"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/ledger"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/referral"
	"github.com/Meridian-Network/rewards_core/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development; a single mutex serializes all mutations, which is stricter
// than the per-account serialization the contract requires.
type Store struct {
	mu sync.RWMutex

	accounts      map[string]ledger.Account
	entries       map[string][]ledger.Entry
	entriesByKey  map[string]ledger.Entry
	edges         map[string]referral.Edge
	pools         map[string]dividend.Pool
	accrualKeys   map[string]string
	holdings      map[string]map[string]dividend.Holding
	distributions map[string][]dividend.Distribution
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.DividendStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:      make(map[string]ledger.Account),
		entries:       make(map[string][]ledger.Entry),
		entriesByKey:  make(map[string]ledger.Entry),
		edges:         make(map[string]referral.Edge),
		pools:         make(map[string]dividend.Pool),
		accrualKeys:   make(map[string]string),
		holdings:      make(map[string]map[string]dividend.Holding),
		distributions: make(map[string][]dividend.Distribution),
	}
}

// AccountStore implementation ------------------------------------------------

func (s *Store) EnsureAccount(_ context.Context, userID string) (ledger.Account, error) {
	if userID == "" {
		return ledger.Account{}, fmt.Errorf("user id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureAccountLocked(userID), nil
}

func (s *Store) ensureAccountLocked(userID string) ledger.Account {
	if acct, ok := s.accounts[userID]; ok {
		return acct
	}
	now := time.Now().UTC()
	acct := ledger.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.accounts[userID] = acct
	return acct
}

func (s *Store) GetAccount(_ context.Context, userID string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, userID)
	}
	return acct, nil
}

func (s *Store) SetMembershipLevel(_ context.Context, userID, level string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, userID)
	}
	acct.MembershipLevel = level
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[userID] = acct
	return acct, nil
}

func (s *Store) AdjustContribution(_ context.Context, userID string, delta int64) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, userID)
	}
	if acct.CumulativeContribution+delta < 0 {
		return ledger.Account{}, fmt.Errorf("contribution for %s cannot go negative", userID)
	}
	acct.CumulativeContribution += delta
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[userID] = acct
	return acct, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) ApplyEntry(_ context.Context, entry ledger.Entry) (ledger.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entriesByKey[entry.IdempotencyKey]; ok {
		return ledger.ApplyResult{Entry: existing, NewBalance: existing.BalanceAfter, Applied: false}, nil
	}

	acct := s.ensureAccountLocked(entry.AccountID)
	if entry.AmountDelta < 0 && acct.Balance+entry.AmountDelta < 0 {
		return ledger.ApplyResult{}, fmt.Errorf("%w: account %s has %d, delta %d",
			ledger.ErrInsufficientBalance, entry.AccountID, acct.Balance, entry.AmountDelta)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()
	entry.BalanceAfter = acct.Balance + entry.AmountDelta

	acct.Balance = entry.BalanceAfter
	acct.UpdatedAt = entry.CreatedAt
	s.accounts[entry.AccountID] = acct
	s.entries[entry.AccountID] = append(s.entries[entry.AccountID], entry)
	s.entriesByKey[entry.IdempotencyKey] = entry

	return ledger.ApplyResult{Entry: entry, NewBalance: entry.BalanceAfter, Applied: true}, nil
}

func (s *Store) GetBalance(_ context.Context, accountID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
	}
	return acct.Balance, nil
}

func (s *Store) ListEntries(_ context.Context, accountID string, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[accountID]
	out := make([]ledger.Entry, len(entries))
	copy(out, entries)
	// newest first
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReferralStore implementation -------------------------------------------------

func (s *Store) CreateEdge(_ context.Context, edge referral.Edge) (referral.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.edges[edge.RefereeID]; ok && existing.Status == referral.StatusActive {
		return referral.Edge{}, fmt.Errorf("%w: %s", referral.ErrAlreadyReferred, edge.RefereeID)
	}

	edge.Status = referral.StatusActive
	edge.CreatedAt = time.Now().UTC()
	edge.RevokedAt = nil
	s.edges[edge.RefereeID] = edge
	return edge, nil
}

func (s *Store) GetEdge(_ context.Context, refereeID string) (referral.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edge, ok := s.edges[refereeID]
	if !ok {
		return referral.Edge{}, fmt.Errorf("%w: %s", referral.ErrEdgeNotFound, refereeID)
	}
	return edge, nil
}

func (s *Store) RevokeEdge(_ context.Context, refereeID string) (referral.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edge, ok := s.edges[refereeID]
	if !ok {
		return referral.Edge{}, fmt.Errorf("%w: %s", referral.ErrEdgeNotFound, refereeID)
	}
	if edge.Status != referral.StatusRevoked {
		now := time.Now().UTC()
		edge.Status = referral.StatusRevoked
		edge.RevokedAt = &now
		s.edges[refereeID] = edge
	}
	return edge, nil
}

func (s *Store) ListDirectReferrals(_ context.Context, referrerID string) ([]referral.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []referral.Edge
	for _, edge := range s.edges {
		if edge.ReferrerID == referrerID && edge.Status == referral.StatusActive {
			out = append(out, edge)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RefereeID < out[j].RefereeID })
	return out, nil
}

// DividendStore implementation --------------------------------------------------

func (s *Store) EnsurePool(_ context.Context, poolID string) (dividend.Pool, error) {
	if poolID == "" {
		return dividend.Pool{}, fmt.Errorf("pool id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensurePoolLocked(poolID), nil
}

func (s *Store) ensurePoolLocked(poolID string) dividend.Pool {
	if pool, ok := s.pools[poolID]; ok {
		return pool
	}
	now := time.Now().UTC()
	pool := dividend.Pool{ID: poolID, CreatedAt: now, UpdatedAt: now}
	s.pools[poolID] = pool
	return pool
}

func (s *Store) GetPool(_ context.Context, poolID string) (dividend.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool, ok := s.pools[poolID]
	if !ok {
		return dividend.Pool{}, fmt.Errorf("%w: %s", dividend.ErrPoolNotFound, poolID)
	}
	return pool, nil
}

func (s *Store) Accrue(_ context.Context, poolID string, amount int64, idempotencyKey string) (dividend.Pool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accrualKeys[idempotencyKey]; ok {
		pool := s.ensurePoolLocked(poolID)
		return pool, false, nil
	}

	pool := s.ensurePoolLocked(poolID)
	pool.AccumulatedBalance += amount
	pool.UpdatedAt = time.Now().UTC()
	s.pools[poolID] = pool
	s.accrualKeys[idempotencyKey] = poolID
	return pool, true, nil
}

func (s *Store) OpenRound(_ context.Context, poolID string) (dividend.Distribution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[poolID]
	if !ok {
		return dividend.Distribution{}, false, fmt.Errorf("%w: %s", dividend.ErrPoolNotFound, poolID)
	}

	for _, dist := range s.distributions[poolID] {
		if dist.Status == dividend.RoundOpen {
			return dist, true, nil
		}
	}

	now := time.Now().UTC()
	dist := dividend.Distribution{
		PoolID:          poolID,
		Round:           pool.DistributionRound + 1,
		SnapshotBalance: pool.AccumulatedBalance,
		Status:          dividend.RoundOpen,
		StartedAt:       now,
		Holdings:        s.listHoldingsLocked(poolID),
	}
	pool.DistributionRound = dist.Round
	pool.AccumulatedBalance = 0
	pool.UpdatedAt = now
	s.pools[poolID] = pool
	s.distributions[poolID] = append(s.distributions[poolID], dist)
	return dist, false, nil
}

func (s *Store) CompleteRound(_ context.Context, poolID string, round int64, residual int64) (dividend.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[poolID]
	if !ok {
		return dividend.Distribution{}, fmt.Errorf("%w: %s", dividend.ErrPoolNotFound, poolID)
	}

	dists := s.distributions[poolID]
	for i, dist := range dists {
		if dist.Round != round {
			continue
		}
		if dist.Status == dividend.RoundCompleted {
			return dist, nil
		}

		now := time.Now().UTC()
		dist.Status = dividend.RoundCompleted
		dist.Residual = residual
		dist.CompletedAt = &now
		dists[i] = dist

		// carry-forward: the flooring remainder seeds the next round
		pool.AccumulatedBalance += residual
		pool.LastDistributionAt = &now
		pool.UpdatedAt = now
		s.pools[poolID] = pool
		return dist, nil
	}
	return dividend.Distribution{}, fmt.Errorf("%w: pool %s round %d", dividend.ErrRoundNotFound, poolID, round)
}

func (s *Store) UpsertHolding(_ context.Context, holding dividend.Holding) (dividend.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[holding.PoolID]; !ok {
		return dividend.Holding{}, fmt.Errorf("%w: %s", dividend.ErrPoolNotFound, holding.PoolID)
	}
	byUser, ok := s.holdings[holding.PoolID]
	if !ok {
		byUser = make(map[string]dividend.Holding)
		s.holdings[holding.PoolID] = byUser
	}
	holding.UpdatedAt = time.Now().UTC()
	byUser[holding.UserID] = holding
	return holding, nil
}

func (s *Store) ListHoldings(_ context.Context, poolID string) ([]dividend.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listHoldingsLocked(poolID), nil
}

func (s *Store) listHoldingsLocked(poolID string) []dividend.Holding {
	var out []dividend.Holding
	for _, holding := range s.holdings[poolID] {
		out = append(out, holding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
