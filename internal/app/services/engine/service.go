// Package engine implements the weighted tiered lottery core: deposit
// intake over the append-only ticket ledger, the per-tier round state
// machine driving randomness requests and settlements, and the lifetime
// referral bonus accounting.
//
// Every state-mutating operation runs to completion under one mutex, so
// no operation ever observes a torn intermediate state. The only
// asynchrony is the randomness round trip, which is split into
// FinishTier (request) and OnDrawReceived (fulfilment) joined by a
// correlation token.
package engine

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/R3E-Network/lottery_engine/internal/app/chain"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/player"
	"github.com/R3E-Network/lottery_engine/internal/app/ledger"
	"github.com/R3E-Network/lottery_engine/internal/app/metrics"
	"github.com/R3E-Network/lottery_engine/internal/app/services/randsource"
	"github.com/R3E-Network/lottery_engine/internal/app/storage"
	"github.com/R3E-Network/lottery_engine/pkg/logger"
)

// TierConfig parameterises one settlement pool.
type TierConfig struct {
	Kind            lottery.TierKind
	ShareBps        int64
	SplitsBps       []int64
	MinParticipants int
	MinPot          int64
}

// Params configures the engine.
type Params struct {
	Admin         string
	Vault         string
	TicketPrice   int64
	ReferralBps   int64
	BonusShareBps int64
	DrawTimeout   time.Duration
	Tiers         []TierConfig
}

// Stores bundles the journaling persistence targets.
type Stores struct {
	Entries     storage.EntryStore
	Settlements storage.SettlementStore
	Players     storage.PlayerStore
}

// Service is the lottery engine.
type Service struct {
	mu  sync.Mutex
	log *logger.Logger

	book    *ledger.Book
	tiers   map[lottery.TierKind]*lottery.Tier
	order   []lottery.TierKind
	players map[string]*player.Stats

	pending       map[string]*lottery.PendingDraw
	pendingByTier map[lottery.TierKind]string

	token    chain.TokenLedger
	beacon   randsource.Beacon
	verifier randsource.Verifier
	stores   Stores

	admin         string
	vault         string
	ticketPrice   int64
	referralBps   int64
	bonusShareBps int64
	drawTimeout   time.Duration

	totalDeposited        int64
	bonusTicketsWithdrawn int64
	bonusPaid             int64
}

// New constructs an engine. All tiers start Accruing with zero
// watermarks.
func New(params Params, token chain.TokenLedger, beacon randsource.Beacon, verifier randsource.Verifier, stores Stores, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}

	s := &Service{
		log:           log,
		book:          ledger.New(),
		tiers:         make(map[lottery.TierKind]*lottery.Tier, len(params.Tiers)),
		players:       make(map[string]*player.Stats),
		pending:       make(map[string]*lottery.PendingDraw),
		pendingByTier: make(map[lottery.TierKind]string),
		token:         token,
		beacon:        beacon,
		verifier:      verifier,
		stores:        stores,
		admin:         params.Admin,
		vault:         params.Vault,
		ticketPrice:   params.TicketPrice,
		referralBps:   params.ReferralBps,
		bonusShareBps: params.BonusShareBps,
		drawTimeout:   params.DrawTimeout,
	}
	for _, tc := range params.Tiers {
		s.tiers[tc.Kind] = &lottery.Tier{
			Kind:            tc.Kind,
			ShareBps:        tc.ShareBps,
			SplitsBps:       append([]int64(nil), tc.SplitsBps...),
			MinParticipants: tc.MinParticipants,
			MinPot:          tc.MinPot,
			Status:          lottery.RoundAccruing,
		}
		s.order = append(s.order, tc.Kind)
	}
	return s, nil
}

func validateParams(params Params) error {
	if params.TicketPrice <= 0 {
		return fmt.Errorf("%w: ticket price must be positive", lottery.ErrInvalidInput)
	}
	if params.Vault == "" {
		return fmt.Errorf("%w: vault address required", lottery.ErrInvalidInput)
	}
	if params.ReferralBps < 0 || params.ReferralBps > lottery.BpsDenominator {
		return fmt.Errorf("%w: referral cut out of range", lottery.ErrInvalidInput)
	}
	if params.BonusShareBps < 0 || params.BonusShareBps > lottery.BpsDenominator {
		return fmt.Errorf("%w: bonus share out of range", lottery.ErrInvalidInput)
	}
	if len(params.Tiers) == 0 {
		return fmt.Errorf("%w: at least one tier required", lottery.ErrInvalidInput)
	}

	seen := make(map[lottery.TierKind]bool)
	shareSum := params.BonusShareBps
	for _, tc := range params.Tiers {
		if !tc.Kind.Valid() {
			return fmt.Errorf("%w: unknown tier kind %q", lottery.ErrInvalidInput, tc.Kind)
		}
		if seen[tc.Kind] {
			return fmt.Errorf("%w: duplicate tier %q", lottery.ErrInvalidInput, tc.Kind)
		}
		seen[tc.Kind] = true
		if tc.ShareBps <= 0 {
			return fmt.Errorf("%w: tier %s share must be positive", lottery.ErrInvalidInput, tc.Kind)
		}
		shareSum += tc.ShareBps
		if len(tc.SplitsBps) == 0 {
			return fmt.Errorf("%w: tier %s needs at least one split", lottery.ErrInvalidInput, tc.Kind)
		}
		var splitSum int64
		for _, bps := range tc.SplitsBps {
			if bps <= 0 {
				return fmt.Errorf("%w: tier %s split must be positive", lottery.ErrInvalidInput, tc.Kind)
			}
			splitSum += bps
		}
		if splitSum > lottery.BpsDenominator {
			return fmt.Errorf("%w: tier %s splits exceed 100%%", lottery.ErrInvalidInput, tc.Kind)
		}
	}
	if shareSum > lottery.BpsDenominator {
		return fmt.Errorf("%w: tier shares plus bonus exceed 100%%", lottery.ErrInvalidInput)
	}
	return nil
}

// Deposit buys tickets for buyer, pulling tickets*price from the buyer's
// external balance into the vault, and appends the purchase to the
// ledger. An empty referrer, or a referrer equal to the buyer, records
// no referral.
func (s *Service) Deposit(ctx context.Context, buyer, referrer string, tickets int64) (lottery.Entry, error) {
	if buyer == "" {
		return lottery.Entry{}, fmt.Errorf("%w: buyer required", lottery.ErrInvalidInput)
	}
	if tickets <= 0 {
		return lottery.Entry{}, fmt.Errorf("%w: tickets must be positive", lottery.ErrInvalidInput)
	}
	if referrer == buyer {
		referrer = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tickets > math.MaxInt64/s.ticketPrice {
		return lottery.Entry{}, fmt.Errorf("%w: ticket count overflows deposit amount", lottery.ErrInvalidInput)
	}
	amount := tickets * s.ticketPrice

	if err := s.token.TransferFrom(ctx, buyer, s.vault, amount); err != nil {
		return lottery.Entry{}, fmt.Errorf("deposit transfer: %w", err)
	}

	entry, err := s.book.Append(buyer, referrer, tickets, amount)
	if err != nil {
		// The ledger rejects nothing the checks above allow; refund to
		// keep the external balance consistent if it ever does.
		if rerr := s.token.Transfer(ctx, buyer, amount); rerr != nil {
			s.log.WithError(rerr).WithField("buyer", buyer).Error("refund after append failure")
		}
		return lottery.Entry{}, err
	}
	s.totalDeposited += amount

	stats := s.playerLocked(buyer)
	stats.TotalDeposited += amount
	stats.TotalTickets += tickets

	s.journalEntryLocked(ctx, entry)
	s.journalPlayerLocked(ctx, stats)
	metrics.RecordDeposit(tickets)
	s.updatePotGaugesLocked()

	s.log.WithField("buyer", buyer).
		WithField("tickets", tickets).
		WithField("amount", amount).
		WithField("entry", entry.Index).
		Info("deposit accepted")

	return entry, nil
}

// playerLocked returns the stats record for addr, creating it on first
// use. Caller holds s.mu.
func (s *Service) playerLocked(addr string) *player.Stats {
	stats, ok := s.players[addr]
	if !ok {
		stats = &player.Stats{Address: addr, JoinedAt: time.Now().UTC()}
		s.players[addr] = stats
	}
	return stats
}

func (s *Service) journalEntryLocked(ctx context.Context, entry lottery.Entry) {
	if s.stores.Entries == nil {
		return
	}
	if err := s.stores.Entries.CreateEntry(ctx, entry); err != nil {
		s.log.WithError(err).WithField("entry", entry.Index).Warn("journal entry write failed")
	}
}

func (s *Service) journalPlayerLocked(ctx context.Context, stats *player.Stats) {
	if s.stores.Players == nil {
		return
	}
	if err := s.stores.Players.UpsertPlayer(ctx, *stats); err != nil {
		s.log.WithError(err).WithField("player", stats.Address).Warn("journal player write failed")
	}
}

func (s *Service) updatePotGaugesLocked() {
	for _, kind := range s.order {
		metrics.SetTierPot(string(kind), s.potLocked(s.tiers[kind]))
	}
}

// potLocked derives the tier's current pot from the global deposit total.
// Caller holds s.mu.
func (s *Service) potLocked(tier *lottery.Tier) int64 {
	return mulDiv(s.totalDeposited, tier.ShareBps, lottery.BpsDenominator) - tier.PotPaid
}

// mulDiv computes a*num/den with floor rounding, widening through
// big.Int so intermediate products cannot overflow.
func mulDiv(a, num, den int64) int64 {
	if den == 0 {
		return 0
	}
	var x big.Int
	x.SetInt64(a)
	x.Mul(&x, big.NewInt(num))
	x.Quo(&x, big.NewInt(den))
	return x.Int64()
}
