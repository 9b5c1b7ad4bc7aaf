package app

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/lottery_engine/internal/app/chain"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/services/engine"
)

func TestApplicationEndToEnd(t *testing.T) {
	application, err := New(Stores{}, Options{
		Params: engine.Params{
			Admin:         "admin",
			Vault:         "vault",
			TicketPrice:   100,
			ReferralBps:   500,
			BonusShareBps: 1000,
			Tiers: []engine.TierConfig{
				{Kind: lottery.TierHourly, ShareBps: 3000, SplitsBps: []int64{10_000}, MinParticipants: 2},
			},
		},
		BeaconSecret: []byte("integration-secret"),
	}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}

	bank, ok := application.Token.(*chain.Bank)
	if !ok {
		t.Fatalf("expected in-memory bank, got %T", application.Token)
	}
	bank.Mint("alice", 10_000)
	bank.Mint("bob", 10_000)

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer application.Stop(ctx)

	for _, buyer := range []string{"alice", "bob"} {
		if _, err := application.Engine.Deposit(ctx, buyer, "", 3); err != nil {
			t.Fatalf("deposit %s: %v", buyer, err)
		}
	}

	if _, err := application.Engine.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("finish tier: %v", err)
	}

	// The local beacon fulfils asynchronously; wait for the round to close.
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := application.Engine.Tier(lottery.TierHourly)
		if err != nil {
			t.Fatalf("tier snapshot: %v", err)
		}
		if snap.RoundNumber == 1 {
			if snap.Status != lottery.RoundAccruing {
				t.Fatalf("expected tier back to accruing, got %s", snap.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("settlement did not complete, status %s", snap.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	settlements, err := application.Engine.Settlements(ctx, lottery.TierHourly, 10)
	if err != nil {
		t.Fatalf("settlements: %v", err)
	}
	if len(settlements) != 1 {
		t.Fatalf("expected one settlement, got %d", len(settlements))
	}
	if got := settlements[0].Pot; got != 180 {
		t.Fatalf("expected pot 180 (30%% of 600), got %d", got)
	}
}

func TestApplicationRejectsBadSchedule(t *testing.T) {
	_, err := New(Stores{}, Options{
		Params: engine.Params{
			Admin:       "admin",
			Vault:       "vault",
			TicketPrice: 100,
			Tiers: []engine.TierConfig{
				{Kind: lottery.TierHourly, ShareBps: 3000, SplitsBps: []int64{10_000}},
			},
		},
		Schedules: map[lottery.TierKind]string{lottery.TierHourly: "not a cron spec"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
