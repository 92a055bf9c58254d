package dividend

import (
	"context"
	"testing"
	"time"

	"github.com/Meridian-Network/rewards_core/internal/app/config"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/membership"
)

func schedulerConfig(cadence string) config.Provider {
	return config.Static(config.Snapshot{
		Levels:          []membership.Level{{Name: "member", Rank: 0}},
		DividendCadence: cadence,
		Pools:           []string{"default"},
	})
}

func TestSchedulerStartStop(t *testing.T) {
	svc, _, _ := newFixture(t)
	sched := NewScheduler(svc, schedulerConfig("@every 1h"), nil)

	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// second start is a no-op
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestSchedulerRejectsBadCadence(t *testing.T) {
	svc, _, _ := newFixture(t)
	sched := NewScheduler(svc, schedulerConfig("every-so-often"), nil)

	if err := sched.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail for an unparseable cadence")
	}
}

func TestSchedulerRunOnceDistributes(t *testing.T) {
	svc, _, store := newFixture(t)
	ctx := context.Background()

	setHoldings(t, store, "default", map[string]float64{"a": 1})
	if _, _, err := svc.Accrue(ctx, "default", 500, "accrual-1"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	sched := NewScheduler(svc, schedulerConfig("@every 1h"), nil)
	sched.runOnce("default")

	// RecomputeHoldings zeroes the manual share (no equity levels held), so
	// the distribution snapshots the pool and carries the full residual.
	pool, err := svc.GetPool(ctx, "default")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.DistributionRound != 1 {
		t.Fatalf("expected one completed round, got %d", pool.DistributionRound)
	}
}
