package engine

import (
	"fmt"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
)

// Administrative setters. Each is guarded by the configured admin
// identity; none touches accrued state, so changes only affect future
// deposits and settlements.

func (s *Service) requireAdminLocked(caller string) error {
	if caller == "" || caller != s.admin {
		return fmt.Errorf("%w: caller %q", lottery.ErrNotAuthorized, caller)
	}
	return nil
}

// SetTicketPrice changes the price of one ticket.
func (s *Service) SetTicketPrice(caller string, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAdminLocked(caller); err != nil {
		return err
	}
	if price <= 0 {
		return fmt.Errorf("%w: ticket price must be positive", lottery.ErrInvalidInput)
	}
	old := s.ticketPrice
	s.ticketPrice = price
	s.log.WithField("old", old).WithField("new", price).Info("ticket price updated")
	return nil
}

// TicketPrice returns the current ticket price.
func (s *Service) TicketPrice() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketPrice
}

// SetReferralCut changes the referral cut in basis points.
func (s *Service) SetReferralCut(caller string, bps int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAdminLocked(caller); err != nil {
		return err
	}
	if bps < 0 || bps > lottery.BpsDenominator {
		return fmt.Errorf("%w: referral cut out of range", lottery.ErrInvalidInput)
	}
	s.referralBps = bps
	s.log.WithField("referral_bps", bps).Info("referral cut updated")
	return nil
}

// ReferralCut returns the current referral cut in basis points.
func (s *Service) ReferralCut() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referralBps
}

// SetTierThresholds changes a tier's settlement gates.
func (s *Service) SetTierThresholds(caller string, kind lottery.TierKind, minParticipants int, minPot int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAdminLocked(caller); err != nil {
		return err
	}
	tier, ok := s.tiers[kind]
	if !ok {
		return fmt.Errorf("%w: %q", lottery.ErrUnknownTier, kind)
	}
	if minParticipants < 1 || minPot < 0 {
		return fmt.Errorf("%w: thresholds out of range", lottery.ErrInvalidInput)
	}
	tier.MinParticipants = minParticipants
	tier.MinPot = minPot
	s.log.WithField("tier", kind).
		WithField("min_participants", minParticipants).
		WithField("min_pot", minPot).
		Info("tier thresholds updated")
	return nil
}

// TransferAdmin hands administrative control to a new identity.
func (s *Service) TransferAdmin(caller, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAdminLocked(caller); err != nil {
		return err
	}
	if next == "" {
		return fmt.Errorf("%w: new admin required", lottery.ErrInvalidInput)
	}
	s.admin = next
	s.log.WithField("admin", next).Info("administrative control transferred")
	return nil
}
