package membership

import (
	"context"
	"testing"

	"github.com/Meridian-Network/rewards_core/internal/app/config"
	domain "github.com/Meridian-Network/rewards_core/internal/app/domain/membership"
	referralsvc "github.com/Meridian-Network/rewards_core/internal/app/services/referral"
	"github.com/Meridian-Network/rewards_core/internal/app/storage/memory"
)

func testLevels() config.Provider {
	return config.Static(config.Snapshot{
		Levels: []domain.Level{
			{Name: "member", Rank: 0},
			{Name: "silver", Rank: 1, MinContribution: 100, MinTeamSize: 2, EquityPercentage: 1},
			{Name: "gold", Rank: 2, MinContribution: 500, MinTeamSize: 3, EquityPercentage: 3},
		},
	})
}

func TestService_EvaluatePromotes(t *testing.T) {
	store := memory.New()
	referrals := referralsvc.New(store, store, nil)
	svc := New(store, referrals, testLevels(), nil, nil)
	ctx := context.Background()

	// u has 2 direct referrals and enough contribution for silver
	for _, referee := range []string{"r1", "r2"} {
		if _, err := referrals.CreateEdge(ctx, referee, "u"); err != nil {
			t.Fatalf("edge: %v", err)
		}
	}

	result, err := svc.RecordContribution(ctx, "u", 150)
	if err != nil {
		t.Fatalf("record contribution: %v", err)
	}
	if result.NewLevel != "silver" {
		t.Fatalf("expected silver, got %s", result.NewLevel)
	}
	if !result.Changed {
		t.Fatal("promotion should report Changed")
	}

	// more contribution but team too small for gold
	result, err = svc.RecordContribution(ctx, "u", 400)
	if err != nil {
		t.Fatalf("second contribution: %v", err)
	}
	if result.NewLevel != "silver" {
		t.Fatalf("team of 2 cannot reach gold, got %s", result.NewLevel)
	}
	if result.Changed {
		t.Fatal("no level change expected")
	}

	// third referral unlocks gold
	if _, err := referrals.CreateEdge(ctx, "r3", "u"); err != nil {
		t.Fatalf("edge: %v", err)
	}
	result, err = svc.Evaluate(ctx, "u")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.NewLevel != "gold" || !result.Changed {
		t.Fatalf("expected promotion to gold, got %+v", result)
	}
}

func TestService_EvaluateIdempotent(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, testLevels(), nil, nil)
	ctx := context.Background()

	first, err := svc.Evaluate(ctx, "u")
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if first.NewLevel != "member" {
		t.Fatalf("fresh account should be member, got %s", first.NewLevel)
	}

	second, err := svc.Evaluate(ctx, "u")
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if second.Changed {
		t.Fatal("re-evaluation of unchanged account must not report change")
	}
}

func TestService_AdminAdjustDemotes(t *testing.T) {
	store := memory.New()
	referrals := referralsvc.New(store, store, nil)
	svc := New(store, referrals, testLevels(), nil, nil)
	ctx := context.Background()

	for _, referee := range []string{"r1", "r2"} {
		if _, err := referrals.CreateEdge(ctx, referee, "u"); err != nil {
			t.Fatalf("edge: %v", err)
		}
	}
	result, err := svc.RecordContribution(ctx, "u", 200)
	if err != nil {
		t.Fatalf("record contribution: %v", err)
	}
	if result.NewLevel != "silver" {
		t.Fatalf("setup: expected silver, got %s", result.NewLevel)
	}

	// correction drops contribution below the silver threshold
	result, err = svc.AdminAdjust(ctx, "u", -150)
	if err != nil {
		t.Fatalf("admin adjust: %v", err)
	}
	if result.NewLevel != "member" {
		t.Fatalf("expected demotion to member, got %s", result.NewLevel)
	}
	if !result.Changed {
		t.Fatal("demotion should report Changed")
	}

	level, err := svc.CurrentLevel(ctx, "u")
	if err != nil {
		t.Fatalf("current level: %v", err)
	}
	if level != "member" {
		t.Fatalf("stored level: got %s", level)
	}
}

func TestService_RecordContributionRejectsNonPositive(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, testLevels(), nil, nil)

	if _, err := svc.RecordContribution(context.Background(), "u", 0); err == nil {
		t.Fatal("expected error for zero contribution")
	}
	if _, err := svc.RecordContribution(context.Background(), "u", -5); err == nil {
		t.Fatal("expected error for negative contribution")
	}
}

func TestService_CurrentLevelFallsBackToBase(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, testLevels(), nil, nil)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "fresh"); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	level, err := svc.CurrentLevel(ctx, "fresh")
	if err != nil {
		t.Fatalf("current level: %v", err)
	}
	if level != "member" {
		t.Fatalf("unevaluated account should read as base level, got %s", level)
	}
}
