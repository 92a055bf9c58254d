package dividend

import (
	"context"
	"errors"
	"testing"

	domain "github.com/Meridian-Network/rewards_core/internal/app/domain/dividend"
	ledgerdomain "github.com/Meridian-Network/rewards_core/internal/app/domain/ledger"
	ledgersvc "github.com/Meridian-Network/rewards_core/internal/app/services/ledger"
	"github.com/Meridian-Network/rewards_core/internal/app/storage/memory"
)

func newFixture(t *testing.T) (*Service, *ledgersvc.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	ledger := ledgersvc.New(store, store, nil, nil)
	svc := New(store, store, ledger, nil, nil)
	return svc, ledger, store
}

func setHoldings(t *testing.T, store *memory.Store, poolID string, shares map[string]float64) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.EnsurePool(ctx, poolID); err != nil {
		t.Fatalf("ensure pool: %v", err)
	}
	for userID, share := range shares {
		if _, err := store.EnsureAccount(ctx, userID); err != nil {
			t.Fatalf("ensure account %s: %v", userID, err)
		}
		if _, err := store.UpsertHolding(ctx, domain.Holding{PoolID: poolID, UserID: userID, EquityShare: share}); err != nil {
			t.Fatalf("upsert holding %s: %v", userID, err)
		}
	}
}

func TestService_AccrueIdempotent(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	pool, applied, err := svc.Accrue(ctx, "p1", 500, "acc-1")
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !applied {
		t.Fatal("first accrual should apply")
	}
	if pool.AccumulatedBalance != 500 {
		t.Fatalf("unexpected balance: %d", pool.AccumulatedBalance)
	}

	pool, applied, err = svc.Accrue(ctx, "p1", 500, "acc-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if applied {
		t.Fatal("repeated key must not re-apply")
	}
	if pool.AccumulatedBalance != 500 {
		t.Fatalf("retry changed balance: %d", pool.AccumulatedBalance)
	}

	if _, _, err := svc.Accrue(ctx, "p1", 0, "acc-2"); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestService_DistributeConservation(t *testing.T) {
	svc, ledger, store := newFixture(t)
	ctx := context.Background()

	setHoldings(t, store, "p1", map[string]float64{"a": 0.6, "b": 0.3, "c": 0.1})
	if _, _, err := svc.Accrue(ctx, "p1", 1000, "acc-1"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	result, err := svc.Distribute(ctx, "p1")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if result.SnapshotBalance != 1000 {
		t.Fatalf("snapshot: %d", result.SnapshotBalance)
	}
	if result.Residual != 0 {
		t.Fatalf("expected zero residual, got %d", result.Residual)
	}

	want := map[string]int64{"a": 600, "b": 300, "c": 100}
	var total int64
	for _, share := range result.Shares {
		if share.Amount != want[share.UserID] {
			t.Fatalf("share for %s: got %d want %d", share.UserID, share.Amount, want[share.UserID])
		}
		balance, err := ledger.Balance(ctx, share.UserID)
		if err != nil {
			t.Fatalf("balance %s: %v", share.UserID, err)
		}
		if balance != share.Amount {
			t.Fatalf("balance for %s: got %d want %d", share.UserID, balance, share.Amount)
		}
		total += share.Amount
	}
	if total+result.Residual != result.SnapshotBalance {
		t.Fatalf("conservation violated: %d + %d != %d", total, result.Residual, result.SnapshotBalance)
	}

	pool, err := svc.GetPool(ctx, "p1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.AccumulatedBalance != 0 {
		t.Fatalf("pool should be drained, got %d", pool.AccumulatedBalance)
	}
}

func TestService_DistributeResidualCarriesForward(t *testing.T) {
	svc, _, store := newFixture(t)
	ctx := context.Background()

	setHoldings(t, store, "p1", map[string]float64{"a": 0.33, "b": 0.33, "c": 0.34})
	if _, _, err := svc.Accrue(ctx, "p1", 1000, "acc-1"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	result, err := svc.Distribute(ctx, "p1")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	// floor(330) + floor(330) + floor(340) = 1000, residual 0
	want := map[string]int64{"a": 330, "b": 330, "c": 340}
	for _, share := range result.Shares {
		if share.Amount != want[share.UserID] {
			t.Fatalf("share for %s: got %d want %d", share.UserID, share.Amount, want[share.UserID])
		}
	}

	// uneven snapshot leaves a remainder that seeds the next round
	if _, _, err := svc.Accrue(ctx, "p1", 101, "acc-2"); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	result, err = svc.Distribute(ctx, "p1")
	if err != nil {
		t.Fatalf("second distribute: %v", err)
	}
	// floor(33.33) + floor(33.33) + floor(34.34) = 100, residual 1
	if result.Residual != 1 {
		t.Fatalf("expected residual 1, got %d", result.Residual)
	}
	var total int64
	for _, share := range result.Shares {
		total += share.Amount
	}
	if total+result.Residual != result.SnapshotBalance {
		t.Fatalf("conservation violated: %d + %d != %d", total, result.Residual, result.SnapshotBalance)
	}

	pool, err := svc.GetPool(ctx, "p1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.AccumulatedBalance != result.Residual {
		t.Fatalf("residual not carried forward: pool %d residual %d", pool.AccumulatedBalance, result.Residual)
	}
}

// failingCrediter fails the first credit for a chosen user, then delegates.
type failingCrediter struct {
	inner    Crediter
	failUser string
	failed   bool
}

func (f *failingCrediter) Apply(ctx context.Context, accountID string, amountDelta int64, reason ledgerdomain.Reason, idempotencyKey string) (ledgerdomain.ApplyResult, error) {
	if accountID == f.failUser && !f.failed {
		f.failed = true
		return ledgerdomain.ApplyResult{}, errors.New("credit unavailable")
	}
	return f.inner.Apply(ctx, accountID, amountDelta, reason, idempotencyKey)
}

func TestService_DistributeResumesOpenRound(t *testing.T) {
	store := memory.New()
	ledger := ledgersvc.New(store, store, nil, nil)
	crediter := &failingCrediter{inner: ledger, failUser: "b"}
	svc := New(store, store, crediter, nil, nil)
	ctx := context.Background()

	setHoldings(t, store, "p1", map[string]float64{"a": 0.5, "b": 0.5})
	if _, _, err := svc.Accrue(ctx, "p1", 1000, "acc-1"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	if _, err := svc.Distribute(ctx, "p1"); err == nil {
		t.Fatal("expected first distribution to fail mid-round")
	}

	// a was credited before the failure
	aBalance, err := ledger.Balance(ctx, "a")
	if err != nil {
		t.Fatalf("balance a: %v", err)
	}
	if aBalance != 500 {
		t.Fatalf("a balance after partial round: %d", aBalance)
	}

	// the retry resumes the same round; a is not double credited
	result, err := svc.Distribute(ctx, "p1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !result.Resumed {
		t.Fatal("retry should resume the open round")
	}
	if result.Round != 1 {
		t.Fatalf("resumed round number: %d", result.Round)
	}

	aBalance, _ = ledger.Balance(ctx, "a")
	bBalance, _ := ledger.Balance(ctx, "b")
	if aBalance != 500 {
		t.Fatalf("a double credited: %d", aBalance)
	}
	if bBalance != 500 {
		t.Fatalf("b not credited on resume: %d", bBalance)
	}

	for _, share := range result.Shares {
		switch share.UserID {
		case "a":
			if share.Applied {
				t.Fatal("a should be skipped on resume")
			}
		case "b":
			if !share.Applied {
				t.Fatal("b should be credited on resume")
			}
		}
	}
}

func TestService_ResumePaysFromRoundPlanAfterShareRecompute(t *testing.T) {
	store := memory.New()
	ledger := ledgersvc.New(store, store, nil, nil)
	crediter := &failingCrediter{inner: ledger, failUser: "b"}
	svc := New(store, store, crediter, nil, nil)
	ctx := context.Background()

	setHoldings(t, store, "p1", map[string]float64{"a": 0.9, "b": 0.1})
	if _, _, err := svc.Accrue(ctx, "p1", 1000, "acc-1"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	if _, err := svc.Distribute(ctx, "p1"); err == nil {
		t.Fatal("expected first distribution to fail mid-round")
	}

	// shares are recomputed while the round sits interrupted; the open
	// round must still owe what its own snapshot said
	setHoldings(t, store, "p1", map[string]float64{"a": 0.5, "b": 0.5})

	result, err := svc.Distribute(ctx, "p1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !result.Resumed {
		t.Fatal("retry should resume the open round")
	}

	aBalance, _ := ledger.Balance(ctx, "a")
	bBalance, _ := ledger.Balance(ctx, "b")
	if aBalance != 900 {
		t.Fatalf("a paid outside the round plan: %d", aBalance)
	}
	if bBalance != 100 {
		t.Fatalf("b paid outside the round plan: %d", bBalance)
	}

	var total int64
	for _, share := range result.Shares {
		total += share.Amount
	}
	if total+result.Residual != result.SnapshotBalance {
		t.Fatalf("conservation violated: %d + %d != %d", total, result.Residual, result.SnapshotBalance)
	}
	if aBalance+bBalance != result.SnapshotBalance {
		t.Fatalf("credited %d units from a %d snapshot", aBalance+bBalance, result.SnapshotBalance)
	}

	pool, err := svc.GetPool(ctx, "p1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.AccumulatedBalance != result.Residual {
		t.Fatalf("residual not carried forward: pool %d residual %d", pool.AccumulatedBalance, result.Residual)
	}
}

func TestService_EnrollHolderRecomputesShares(t *testing.T) {
	store := memory.New()
	ledger := ledgersvc.New(store, store, nil, nil)
	svc := New(store, store, ledger, nil, nil)
	ctx := context.Background()

	// default levels: silver equity 1, gold equity 3
	if _, err := store.EnsureAccount(ctx, "s"); err != nil {
		t.Fatalf("ensure s: %v", err)
	}
	if _, err := store.EnsureAccount(ctx, "g"); err != nil {
		t.Fatalf("ensure g: %v", err)
	}
	if _, err := store.SetMembershipLevel(ctx, "s", "silver"); err != nil {
		t.Fatalf("level s: %v", err)
	}
	if _, err := store.SetMembershipLevel(ctx, "g", "gold"); err != nil {
		t.Fatalf("level g: %v", err)
	}

	if err := svc.EnrollHolder(ctx, "p1", "s"); err != nil {
		t.Fatalf("enroll s: %v", err)
	}
	if err := svc.EnrollHolder(ctx, "p1", "g"); err != nil {
		t.Fatalf("enroll g: %v", err)
	}

	holdings, err := svc.Holdings(ctx, "p1")
	if err != nil {
		t.Fatalf("holdings: %v", err)
	}
	if len(holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(holdings))
	}
	var total float64
	shares := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		shares[h.UserID] = h.EquityShare
		total += h.EquityShare
	}
	if total < 0.999 || total > 1.001 {
		t.Fatalf("shares must sum to 1, got %v", total)
	}
	if shares["g"] <= shares["s"] {
		t.Fatalf("gold should hold the larger share: %v vs %v", shares["g"], shares["s"])
	}
}
