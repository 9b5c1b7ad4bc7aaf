package engine

import (
	"context"
	"fmt"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/player"
)

// Entries returns ledger entries, skipping the sentinel.
func (s *Service) Entries(offset, limit int) []lottery.Entry {
	return s.book.Entries(offset, limit)
}

// TotalDeposited returns the lifetime deposit total.
func (s *Service) TotalDeposited() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDeposited
}

// TotalTickets returns the lifetime ticket total.
func (s *Service) TotalTickets() int64 {
	return s.book.TotalTickets()
}

// Tier returns the snapshot of one tier.
func (s *Service) Tier(kind lottery.TierKind) (lottery.TierSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, ok := s.tiers[kind]
	if !ok {
		return lottery.TierSnapshot{}, fmt.Errorf("%w: %q", lottery.ErrUnknownTier, kind)
	}
	return s.snapshotLocked(tier), nil
}

// Tiers returns snapshots of all tiers in accrual order.
func (s *Service) Tiers() []lottery.TierSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]lottery.TierSnapshot, 0, len(s.order))
	for _, kind := range s.order {
		out = append(out, s.snapshotLocked(s.tiers[kind]))
	}
	return out
}

func (s *Service) snapshotLocked(tier *lottery.Tier) lottery.TierSnapshot {
	return lottery.TierSnapshot{
		Kind:            tier.Kind,
		Status:          tier.Status,
		Pot:             s.potLocked(tier),
		ActiveTickets:   s.book.TotalTickets() - tier.TicketsUsed,
		Participants:    s.book.Participants(tier.EntriesUsed),
		ShareBps:        tier.ShareBps,
		SplitsBps:       append([]int64(nil), tier.SplitsBps...),
		MinParticipants: tier.MinParticipants,
		MinPot:          tier.MinPot,
		PotPaid:         tier.PotPaid,
		TicketsUsed:     tier.TicketsUsed,
		RoundNumber:     tier.RoundNumber,
		LastSettledAt:   tier.LastSettledAt,
	}
}

// Player returns a participant's lifetime statistics.
func (s *Service) Player(addr string) (player.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.players[addr]
	if !ok {
		return player.Stats{}, fmt.Errorf("%w: unknown player %q", lottery.ErrInvalidInput, addr)
	}
	return *stats, nil
}

// Players returns all participants' statistics.
func (s *Service) Players() []player.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]player.Stats, 0, len(s.players))
	for _, stats := range s.players {
		out = append(out, *stats)
	}
	return out
}

// Settlements lists journaled settlements for a tier; an empty kind
// lists across all tiers.
func (s *Service) Settlements(ctx context.Context, kind lottery.TierKind, limit int) ([]lottery.Settlement, error) {
	if s.stores.Settlements == nil {
		return nil, nil
	}
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", lottery.ErrUnknownTier, kind)
	}
	return s.stores.Settlements.ListSettlements(ctx, kind, limit)
}

// TierKinds returns the configured tier kinds in accrual order.
func (s *Service) TierKinds() []lottery.TierKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lottery.TierKind(nil), s.order...)
}
