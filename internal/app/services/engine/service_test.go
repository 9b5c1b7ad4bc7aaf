package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/R3E-Network/lottery_engine/internal/app/chain"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/services/randsource"
	"github.com/R3E-Network/lottery_engine/internal/app/storage/memory"
)

var testSecret = []byte("test-beacon-secret")

// captureBeacon records draw requests instead of fulfilling them, so
// tests can deliver deterministic draws through OnDrawReceived.
type captureBeacon struct {
	tokens []string
	uppers []int64
	fail   bool
}

func (b *captureBeacon) RequestDraw(_ context.Context, upper int64, token string) error {
	if b.fail {
		return fmt.Errorf("beacon unavailable")
	}
	b.tokens = append(b.tokens, token)
	b.uppers = append(b.uppers, upper)
	return nil
}

func (b *captureBeacon) last() (string, int64) {
	return b.tokens[len(b.tokens)-1], b.uppers[len(b.uppers)-1]
}

// failingLedger fails every outbound transfer while the flag is set.
type failingLedger struct {
	*chain.Bank
	fail bool
}

func (f *failingLedger) Transfer(ctx context.Context, to string, amount int64) error {
	if f.fail {
		return fmt.Errorf("ledger refused transfer")
	}
	return f.Bank.Transfer(ctx, to, amount)
}

func testParams() Params {
	return Params{
		Admin:         "admin",
		Vault:         "vault",
		TicketPrice:   100,
		ReferralBps:   500,
		BonusShareBps: 1000,
		Tiers: []TierConfig{
			{Kind: lottery.TierHourly, ShareBps: 3000, SplitsBps: []int64{10_000}, MinParticipants: 3},
			{Kind: lottery.TierMonthly, ShareBps: 2000, SplitsBps: []int64{7000, 3000}, MinParticipants: 1},
		},
	}
}

func newTestEngine(t *testing.T, params Params, token chain.TokenLedger) (*Service, *captureBeacon) {
	t.Helper()
	beacon := &captureBeacon{}
	store := memory.New()
	svc, err := New(params, token, beacon, randsource.NewHMACVerifier(testSecret), Stores{
		Entries:     store,
		Settlements: store,
		Players:     store,
	}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return svc, beacon
}

func fundedBank(addrs ...string) *chain.Bank {
	bank := chain.NewBank("vault")
	for _, addr := range addrs {
		bank.Mint(addr, 1_000_000)
	}
	return bank
}

func deliver(t *testing.T, svc *Service, token string, upper, value int64) lottery.Settlement {
	t.Helper()
	st, err := svc.OnDrawReceived(context.Background(), token, value, randsource.SignDraw(testSecret, token, upper, value))
	if err != nil {
		t.Fatalf("deliver draw: %v", err)
	}
	return st
}

func TestService_DepositValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestEngine(t, testParams(), fundedBank("a"))

	if _, err := svc.Deposit(ctx, "", "", 1); !errors.Is(err, lottery.ErrInvalidInput) {
		t.Fatalf("empty buyer: %v", err)
	}
	if _, err := svc.Deposit(ctx, "a", "", 0); !errors.Is(err, lottery.ErrInvalidInput) {
		t.Fatalf("zero tickets: %v", err)
	}
	if _, err := svc.Deposit(ctx, "poor", "", 1); !errors.Is(err, lottery.ErrInsufficientBalance) {
		t.Fatalf("unfunded buyer: %v", err)
	}

	entry, err := svc.Deposit(ctx, "a", "a", 2)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if entry.Referrer != "" {
		t.Fatal("self-referral must be dropped")
	}
	if entry.CumulativeTickets != 2 || entry.Amount != 200 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if svc.TotalDeposited() != 200 {
		t.Fatalf("total deposited: %d", svc.TotalDeposited())
	}

	stats, err := svc.Player("a")
	if err != nil {
		t.Fatalf("player: %v", err)
	}
	if stats.TotalTickets != 2 || stats.TotalDeposited != 200 {
		t.Fatalf("stats not updated: %+v", stats)
	}
}

func TestService_SettlementScenario(t *testing.T) {
	// Three 1-ticket deposits from a, b, c; draw value 1 against a
	// window of 3 must pay b.
	ctx := context.Background()
	bank := fundedBank("a", "b", "c")
	svc, beacon := newTestEngine(t, testParams(), bank)

	for _, buyer := range []string{"a", "b", "c"} {
		if _, err := svc.Deposit(ctx, buyer, "", 1); err != nil {
			t.Fatalf("deposit %s: %v", buyer, err)
		}
	}

	draw, err := svc.FinishTier(ctx, lottery.TierHourly)
	if err != nil {
		t.Fatalf("finish tier: %v", err)
	}
	if draw.Window != 3 {
		t.Fatalf("window: %d", draw.Window)
	}
	token, upper := beacon.last()
	if token != draw.Token || upper != 3 {
		t.Fatalf("beacon saw token=%s upper=%d", token, upper)
	}

	st := deliver(t, svc, token, upper, 1)
	if len(st.Payouts) != 1 || st.Payouts[0].Winner != "b" {
		t.Fatalf("unexpected payouts: %+v", st.Payouts)
	}
	// Pot is 30% of 300 deposited.
	if st.Pot != 90 || st.Payouts[0].Amount != 90 {
		t.Fatalf("pot/payout: %d/%d", st.Pot, st.Payouts[0].Amount)
	}

	bal, _ := bank.BalanceOf(ctx, "b")
	if bal != 1_000_000-100+90 {
		t.Fatalf("winner balance: %d", bal)
	}
	stats, _ := svc.Player("b")
	if stats.TotalWon != 90 {
		t.Fatalf("winner stats: %+v", stats)
	}

	snap, _ := svc.Tier(lottery.TierHourly)
	if snap.Status != lottery.RoundAccruing || snap.TicketsUsed != 3 || snap.RoundNumber != 1 {
		t.Fatalf("tier not finalized: %+v", snap)
	}
	if snap.Pot != 0 {
		t.Fatalf("pot should be drained: %d", snap.Pot)
	}

	// The consumed window is excluded from the next round.
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); !errors.Is(err, lottery.ErrThresholdNotMet) {
		t.Fatalf("empty window should not settle: %v", err)
	}
}

func TestService_ReferralSplit(t *testing.T) {
	// A 1000-unit pot with a 5% referral cut pays 950 to the winner and
	// 50 to the referrer; without a referrer the winner takes all 1000.
	params := Params{
		Admin:       "admin",
		Vault:       "vault",
		TicketPrice: 100,
		ReferralBps: 500,
		Tiers: []TierConfig{
			{Kind: lottery.TierHourly, ShareBps: 10_000, SplitsBps: []int64{10_000}, MinParticipants: 1},
		},
	}
	ctx := context.Background()

	t.Run("with referrer", func(t *testing.T) {
		bank := fundedBank("d")
		svc, beacon := newTestEngine(t, params, bank)
		if _, err := svc.Deposit(ctx, "d", "r", 10); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
			t.Fatalf("finish: %v", err)
		}
		token, upper := beacon.last()
		st := deliver(t, svc, token, upper, 0)
		p := st.Payouts[0]
		if p.Amount != 950 || p.ReferralAmount != 50 {
			t.Fatalf("split wrong: %+v", p)
		}
		refBal, _ := bank.BalanceOf(ctx, "r")
		if refBal != 50 {
			t.Fatalf("referrer balance: %d", refBal)
		}
	})

	t.Run("without referrer", func(t *testing.T) {
		bank := fundedBank("d")
		svc, beacon := newTestEngine(t, params, bank)
		if _, err := svc.Deposit(ctx, "d", "", 10); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
			t.Fatalf("finish: %v", err)
		}
		token, upper := beacon.last()
		st := deliver(t, svc, token, upper, 0)
		p := st.Payouts[0]
		if p.Amount != 1000 || p.ReferralAmount != 0 {
			t.Fatalf("split wrong: %+v", p)
		}
	})
}

func TestService_MultiSplitSettlement(t *testing.T) {
	ctx := context.Background()
	bank := fundedBank("a", "b", "c")
	svc, beacon := newTestEngine(t, testParams(), bank)

	for _, buyer := range []string{"a", "b", "c"} {
		if _, err := svc.Deposit(ctx, buyer, "", 5); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	// Monthly: 20% of 1500 = 300, split 70/30 = 210/90.
	if _, err := svc.FinishTier(ctx, lottery.TierMonthly); err != nil {
		t.Fatalf("finish: %v", err)
	}
	token, upper := beacon.last()
	st := deliver(t, svc, token, upper, 7)

	if len(st.Payouts) != 2 {
		t.Fatalf("expected two payouts, got %d", len(st.Payouts))
	}
	if st.Payouts[0].Amount != 210 || st.Payouts[1].Amount != 90 {
		t.Fatalf("split amounts: %d/%d", st.Payouts[0].Amount, st.Payouts[1].Amount)
	}
	var paid int64
	for _, p := range st.Payouts {
		paid += p.Amount + p.ReferralAmount
		if p.Winner != "a" && p.Winner != "b" && p.Winner != "c" {
			t.Fatalf("unknown winner %q", p.Winner)
		}
		if p.DrawValue < 0 || p.DrawValue >= st.Window {
			t.Fatalf("draw value out of window: %d", p.DrawValue)
		}
	}
	if paid > st.Pot {
		t.Fatalf("paid %d exceeds pot %d", paid, st.Pot)
	}
	if st.Payouts[0].DrawValue != 7 {
		t.Fatalf("first split must consume the raw draw: %d", st.Payouts[0].DrawValue)
	}
}

func TestService_ReentrancyGuard(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestEngine(t, testParams(), fundedBank("a", "b", "c"))
	for _, buyer := range []string{"a", "b", "c"} {
		svc.Deposit(ctx, buyer, "", 1)
	}

	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); !errors.Is(err, lottery.ErrAlreadyAwaitingRandomness) {
		t.Fatalf("second finish must be rejected: %v", err)
	}

	// Deposits still flow while the draw is outstanding.
	if _, err := svc.Deposit(ctx, "a", "", 1); err != nil {
		t.Fatalf("deposit during draw: %v", err)
	}
}

func TestService_RejectsStaleAndUnknownCallbacks(t *testing.T) {
	ctx := context.Background()
	svc, beacon := newTestEngine(t, testParams(), fundedBank("a", "b", "c"))
	for _, buyer := range []string{"a", "b", "c"} {
		svc.Deposit(ctx, buyer, "", 1)
	}
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("finish: %v", err)
	}
	token, upper := beacon.last()

	// Unknown token.
	_, err := svc.OnDrawReceived(ctx, "bogus", 0, randsource.SignDraw(testSecret, "bogus", upper, 0))
	if !errors.Is(err, lottery.ErrUnknownCorrelationToken) {
		t.Fatalf("unknown token: %v", err)
	}

	// Bad proof leaves the tier awaiting.
	_, err = svc.OnDrawReceived(ctx, token, 1, []byte("forged"))
	if !errors.Is(err, lottery.ErrProofVerificationFailed) {
		t.Fatalf("bad proof: %v", err)
	}
	snap, _ := svc.Tier(lottery.TierHourly)
	if snap.Status != lottery.RoundAwaitingRandomness {
		t.Fatalf("tier state after bad proof: %s", snap.Status)
	}

	// Out-of-range value is not trusted even if signed.
	_, err = svc.OnDrawReceived(ctx, token, upper, randsource.SignDraw(testSecret, token, upper, upper))
	if !errors.Is(err, lottery.ErrProofVerificationFailed) {
		t.Fatalf("out-of-range draw: %v", err)
	}

	// The genuine draw still settles, and a replay is rejected.
	deliver(t, svc, token, upper, 1)
	_, err = svc.OnDrawReceived(ctx, token, 1, randsource.SignDraw(testSecret, token, upper, 1))
	if !errors.Is(err, lottery.ErrUnknownCorrelationToken) {
		t.Fatalf("replayed token: %v", err)
	}
}

func TestService_TransferFailureAbortsSettlement(t *testing.T) {
	ctx := context.Background()
	bank := fundedBank("a", "b", "c")
	flaky := &failingLedger{Bank: bank, fail: true}
	svc, beacon := newTestEngine(t, testParams(), flaky)

	for _, buyer := range []string{"a", "b", "c"} {
		svc.Deposit(ctx, buyer, "", 1)
	}
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("finish: %v", err)
	}
	token, upper := beacon.last()

	_, err := svc.OnDrawReceived(ctx, token, 1, randsource.SignDraw(testSecret, token, upper, 1))
	if !errors.Is(err, lottery.ErrTransferFailed) {
		t.Fatalf("expected transfer failure: %v", err)
	}

	// Tier state untouched: still awaiting, watermarks unchanged.
	snap, _ := svc.Tier(lottery.TierHourly)
	if snap.Status != lottery.RoundAwaitingRandomness || snap.TicketsUsed != 0 || snap.PotPaid != 0 {
		t.Fatalf("state mutated on failed settlement: %+v", snap)
	}

	// Once the ledger recovers, the same callback completes the round.
	flaky.fail = false
	st := deliver(t, svc, token, upper, 1)
	if st.Payouts[0].Winner != "b" {
		t.Fatalf("unexpected winner: %+v", st.Payouts)
	}
}

func TestService_BeaconFailureRollsBackRequest(t *testing.T) {
	ctx := context.Background()
	svc, beacon := newTestEngine(t, testParams(), fundedBank("a", "b", "c"))
	for _, buyer := range []string{"a", "b", "c"} {
		svc.Deposit(ctx, buyer, "", 1)
	}

	beacon.fail = true
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err == nil {
		t.Fatal("finish should surface beacon failure")
	}
	snap, _ := svc.Tier(lottery.TierHourly)
	if snap.Status != lottery.RoundAccruing {
		t.Fatalf("tier must stay accruing: %s", snap.Status)
	}

	beacon.fail = false
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("retry after beacon recovery: %v", err)
	}
}

func TestService_WatermarksExcludeSettledTickets(t *testing.T) {
	ctx := context.Background()
	bank := fundedBank("a", "b", "c", "d")
	svc, beacon := newTestEngine(t, testParams(), bank)

	for _, buyer := range []string{"a", "b", "c"} {
		svc.Deposit(ctx, buyer, "", 1)
	}
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("finish: %v", err)
	}
	token, upper := beacon.last()
	deliver(t, svc, token, upper, 0)

	before, _ := svc.Tier(lottery.TierHourly)

	// New round: only d's tickets are active.
	for i := 0; i < 3; i++ {
		if _, err := svc.Deposit(ctx, "d", "", 1); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	svc.Deposit(ctx, "a", "", 1)
	svc.Deposit(ctx, "b", "", 1)

	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("finish second round: %v", err)
	}
	token, upper = beacon.last()
	if upper != 5 {
		t.Fatalf("second window should hold 5 fresh tickets, got %d", upper)
	}
	st := deliver(t, svc, token, upper, 0)

	// Draw 0 in the new window maps to the first post-watermark entry.
	if st.Payouts[0].Winner != "d" {
		t.Fatalf("winner should come from the new window: %+v", st.Payouts)
	}

	after, _ := svc.Tier(lottery.TierHourly)
	if after.TicketsUsed <= before.TicketsUsed || after.RoundNumber != before.RoundNumber+1 {
		t.Fatalf("watermarks must advance monotonically: %+v -> %+v", before, after)
	}
	if after.Pot < 0 {
		t.Fatalf("pot went negative: %d", after.Pot)
	}
}

func TestService_ResetStalledDraws(t *testing.T) {
	ctx := context.Background()
	params := testParams()
	params.DrawTimeout = 1 // nanosecond; everything outstanding is stalled
	svc, beacon := newTestEngine(t, params, fundedBank("a", "b", "c"))
	for _, buyer := range []string{"a", "b", "c"} {
		svc.Deposit(ctx, buyer, "", 1)
	}
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("finish: %v", err)
	}
	token, upper := beacon.last()

	reset := svc.ResetStalledDraws(ctx)
	if len(reset) != 1 || reset[0] != lottery.TierHourly {
		t.Fatalf("unexpected reset set: %v", reset)
	}
	snap, _ := svc.Tier(lottery.TierHourly)
	if snap.Status != lottery.RoundAccruing {
		t.Fatalf("tier not reset: %s", snap.Status)
	}

	// The invalidated token is now a stale callback.
	_, err := svc.OnDrawReceived(ctx, token, 1, randsource.SignDraw(testSecret, token, upper, 1))
	if !errors.Is(err, lottery.ErrUnknownCorrelationToken) {
		t.Fatalf("stale token after reset: %v", err)
	}
}

func TestService_ResetDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestEngine(t, testParams(), fundedBank("a", "b", "c"))
	for _, buyer := range []string{"a", "b", "c"} {
		svc.Deposit(ctx, buyer, "", 1)
	}
	if _, err := svc.FinishTier(ctx, lottery.TierHourly); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if reset := svc.ResetStalledDraws(ctx); reset != nil {
		t.Fatalf("zero timeout must never reset: %v", reset)
	}
}

func TestService_AdminSurface(t *testing.T) {
	svc, _ := newTestEngine(t, testParams(), fundedBank("a"))

	if err := svc.SetTicketPrice("intruder", 200); !errors.Is(err, lottery.ErrNotAuthorized) {
		t.Fatalf("intruder accepted: %v", err)
	}
	if err := svc.SetTicketPrice("admin", 0); !errors.Is(err, lottery.ErrInvalidInput) {
		t.Fatalf("zero price accepted: %v", err)
	}
	if err := svc.SetTicketPrice("admin", 200); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if svc.TicketPrice() != 200 {
		t.Fatalf("price not applied: %d", svc.TicketPrice())
	}

	if err := svc.SetTierThresholds("admin", lottery.TierHourly, 5, 1000); err != nil {
		t.Fatalf("set thresholds: %v", err)
	}
	snap, _ := svc.Tier(lottery.TierHourly)
	if snap.MinParticipants != 5 || snap.MinPot != 1000 {
		t.Fatalf("thresholds not applied: %+v", snap)
	}
	if err := svc.SetTierThresholds("admin", "weekly", 1, 0); !errors.Is(err, lottery.ErrUnknownTier) {
		t.Fatalf("unknown tier accepted: %v", err)
	}

	if err := svc.TransferAdmin("admin", "next"); err != nil {
		t.Fatalf("transfer admin: %v", err)
	}
	if err := svc.SetReferralCut("admin", 100); !errors.Is(err, lottery.ErrNotAuthorized) {
		t.Fatalf("old admin survived transfer: %v", err)
	}
	if err := svc.SetReferralCut("next", 100); err != nil {
		t.Fatalf("new admin rejected: %v", err)
	}
}
