package engine

import (
	"context"
	"fmt"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/metrics"
)

// BonusPool is the read-only state of the referral bonus pool.
type BonusPool struct {
	Inflow             int64 `json:"inflow"`
	Paid               int64 `json:"paid"`
	Balance            int64 `json:"balance"`
	TicketsWithdrawn   int64 `json:"tickets_withdrawn"`
	TicketsOutstanding int64 `json:"tickets_outstanding"`
}

// AvailableBonus returns the amount the player could withdraw right now.
// The share is the player's unclaimed lifetime tickets over all
// unclaimed tickets, applied to the current pool balance, rounded down.
func (s *Service) AvailableBonus(player string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableBonusLocked(player)
}

func (s *Service) availableBonusLocked(addr string) int64 {
	stats, ok := s.players[addr]
	if !ok {
		return 0
	}
	delta := stats.TotalTickets - stats.BonusTicketWatermark
	denom := s.book.TotalTickets() - s.bonusTicketsWithdrawn
	if delta <= 0 || denom <= 0 {
		return 0
	}
	return mulDiv(s.bonusPoolBalanceLocked(), delta, denom)
}

// bonusPoolBalanceLocked derives the pool balance from lifetime inflow
// minus everything already paid. Caller holds s.mu.
func (s *Service) bonusPoolBalanceLocked() int64 {
	inflow := mulDiv(s.totalDeposited, s.bonusShareBps, lottery.BpsDenominator)
	return inflow - s.bonusPaid
}

// WithdrawBonus pays the player's full available bonus, rebases their
// ticket watermark to their lifetime total and shrinks the global
// unclaimed-ticket denominator by the claimed delta.
func (s *Service) WithdrawBonus(ctx context.Context, addr string) (int64, error) {
	if addr == "" {
		return 0, fmt.Errorf("%w: player address required", lottery.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	amount := s.availableBonusLocked(addr)
	if amount <= 0 {
		return 0, fmt.Errorf("%w: player %s", lottery.ErrNothingToWithdraw, addr)
	}

	if err := s.token.Transfer(ctx, addr, amount); err != nil {
		return 0, fmt.Errorf("%w: bonus payout to %s: %v", lottery.ErrTransferFailed, addr, err)
	}

	stats := s.players[addr]
	delta := stats.TotalTickets - stats.BonusTicketWatermark
	stats.BonusTicketWatermark = stats.TotalTickets
	stats.TotalBonusWithdrawn += amount
	s.bonusTicketsWithdrawn += delta
	s.bonusPaid += amount

	s.journalPlayerLocked(ctx, stats)
	metrics.RecordBonusWithdrawal(amount)
	s.log.WithField("player", addr).
		WithField("amount", amount).
		WithField("tickets", delta).
		Info("bonus withdrawn")

	return amount, nil
}

// Bonus returns the pool snapshot.
func (s *Service) Bonus() BonusPool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return BonusPool{
		Inflow:             mulDiv(s.totalDeposited, s.bonusShareBps, lottery.BpsDenominator),
		Paid:               s.bonusPaid,
		Balance:            s.bonusPoolBalanceLocked(),
		TicketsWithdrawn:   s.bonusTicketsWithdrawn,
		TicketsOutstanding: s.book.TotalTickets() - s.bonusTicketsWithdrawn,
	}
}
