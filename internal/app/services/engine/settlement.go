package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/metrics"
	"github.com/R3E-Network/lottery_engine/internal/app/services/randsource"
)

// FinishTier requests settlement of a tier. It succeeds only when the
// tier is Accruing, the active window holds enough distinct participants
// and the pot has reached its floor; it then issues a randomness request
// and moves the tier to AwaitingRandomness. At most one request per tier
// is outstanding at any time.
func (s *Service) FinishTier(ctx context.Context, kind lottery.TierKind) (lottery.PendingDraw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, ok := s.tiers[kind]
	if !ok {
		return lottery.PendingDraw{}, fmt.Errorf("%w: %q", lottery.ErrUnknownTier, kind)
	}
	if tier.Status != lottery.RoundAccruing {
		return lottery.PendingDraw{}, fmt.Errorf("%w: tier %s", lottery.ErrAlreadyAwaitingRandomness, kind)
	}

	window := s.book.TotalTickets() - tier.TicketsUsed
	participants := s.book.Participants(tier.EntriesUsed)
	pot := s.potLocked(tier)
	if window <= 0 || participants < tier.MinParticipants || pot < tier.MinPot {
		return lottery.PendingDraw{}, fmt.Errorf(
			"%w: tier %s (window %d, participants %d/%d, pot %d/%d)",
			lottery.ErrThresholdNotMet, kind, window, participants, tier.MinParticipants, pot, tier.MinPot)
	}

	draw := &lottery.PendingDraw{
		Token:       uuid.NewString(),
		Kind:        kind,
		Window:      window,
		Seed:        s.drawSeedLocked(tier, window),
		RequestedAt: time.Now().UTC(),
	}

	tier.Status = lottery.RoundAwaitingRandomness
	s.pending[draw.Token] = draw
	s.pendingByTier[kind] = draw.Token

	if err := s.beacon.RequestDraw(ctx, window, draw.Token); err != nil {
		tier.Status = lottery.RoundAccruing
		delete(s.pending, draw.Token)
		delete(s.pendingByTier, kind)
		return lottery.PendingDraw{}, fmt.Errorf("request draw for %s: %w", kind, err)
	}

	metrics.RecordDrawRequested(string(kind))
	s.log.WithField("tier", kind).
		WithField("token", draw.Token).
		WithField("window", window).
		WithField("pot", pot).
		Info("randomness requested")

	return *draw, nil
}

// OnDrawReceived is the randomness fulfilment entry point. The proof is
// verified against the pending request before the value is trusted; an
// unknown token or a bad proof leaves the tier awaiting its draw.
func (s *Service) OnDrawReceived(ctx context.Context, token string, value int64, proof []byte) (lottery.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draw, ok := s.pending[token]
	if !ok {
		return lottery.Settlement{}, fmt.Errorf("%w: %q", lottery.ErrUnknownCorrelationToken, token)
	}
	tier := s.tiers[draw.Kind]
	if tier.Status != lottery.RoundAwaitingRandomness {
		return lottery.Settlement{}, fmt.Errorf("%w: tier %s not awaiting a draw", lottery.ErrUnknownCorrelationToken, draw.Kind)
	}
	if !s.verifier.Verify(token, draw.Window, value, proof) {
		return lottery.Settlement{}, fmt.Errorf("%w: tier %s token %s", lottery.ErrProofVerificationFailed, draw.Kind, token)
	}

	tier.Status = lottery.RoundSettling
	settlement, err := s.settleLocked(ctx, tier, draw, value)
	if err != nil {
		// Settlement aborts atomically: the tier returns to awaiting so
		// a later (retried) callback can complete the round.
		tier.Status = lottery.RoundAwaitingRandomness
		return lottery.Settlement{}, err
	}

	tier.Status = lottery.RoundAccruing
	delete(s.pending, token)
	delete(s.pendingByTier, draw.Kind)
	s.updatePotGaugesLocked()

	return settlement, nil
}

// settleLocked resolves winners for every split of the tier, executes
// the payouts and advances the watermarks. No state is mutated until all
// external transfers have succeeded. Caller holds s.mu.
func (s *Service) settleLocked(ctx context.Context, tier *lottery.Tier, draw *lottery.PendingDraw, value int64) (lottery.Settlement, error) {
	pot := s.potLocked(tier)

	// Resolve all winners first. Splits beyond the first derive their
	// draw deterministically from the oracle value; each split selects
	// from the same active window, with replacement.
	payouts := make([]lottery.Payout, 0, len(tier.SplitsBps))
	for i, splitBps := range tier.SplitsBps {
		splitDraw := randsource.ExpandDraw(draw.Seed, value, i, draw.Window)
		entry, err := s.book.FindWinner(tier.EntriesUsed, tier.TicketsUsed, splitDraw)
		if err != nil {
			// Selection failure means the ledger or watermarks are
			// corrupt. Surface loudly; never pay the sentinel.
			s.log.WithError(err).
				WithField("tier", tier.Kind).
				WithField("draw", splitDraw).
				Error("winner selection failed; ledger bookkeeping is corrupt")
			return lottery.Settlement{}, err
		}

		amount := mulDiv(pot, splitBps, lottery.BpsDenominator)
		var referral int64
		if entry.Referrer != "" {
			referral = mulDiv(amount, s.referralBps, lottery.BpsDenominator)
		}
		payouts = append(payouts, lottery.Payout{
			Winner:         entry.Buyer,
			Referrer:       entry.Referrer,
			SplitBps:       splitBps,
			Amount:         amount - referral,
			ReferralAmount: referral,
			DrawValue:      splitDraw,
		})
	}

	// External transfers. The first failure aborts the settlement with
	// tier state untouched.
	for _, p := range payouts {
		if p.Amount > 0 {
			if err := s.token.Transfer(ctx, p.Winner, p.Amount); err != nil {
				return lottery.Settlement{}, fmt.Errorf("%w: pay winner %s: %v", lottery.ErrTransferFailed, p.Winner, err)
			}
		}
		if p.ReferralAmount > 0 {
			if err := s.token.Transfer(ctx, p.Referrer, p.ReferralAmount); err != nil {
				return lottery.Settlement{}, fmt.Errorf("%w: pay referrer %s: %v", lottery.ErrTransferFailed, p.Referrer, err)
			}
		}
	}

	// Finalize: charge the full pot, advance watermarks to the current
	// ledger position, stamp the round.
	now := time.Now().UTC()
	tier.PotPaid += pot
	tier.TicketsUsed = s.book.TotalTickets()
	tier.EntriesUsed = s.book.Len() - 1
	tier.RoundNumber++
	tier.LastSettledAt = now

	var paid int64
	for _, p := range payouts {
		stats := s.playerLocked(p.Winner)
		stats.TotalWon += p.Amount
		s.journalPlayerLocked(ctx, stats)
		paid += p.Amount + p.ReferralAmount
	}

	settlement := lottery.Settlement{
		ID:          uuid.NewString(),
		Kind:        tier.Kind,
		RoundNumber: tier.RoundNumber,
		Pot:         pot,
		Window:      draw.Window,
		DrawValue:   value,
		Payouts:     payouts,
		SettledAt:   now,
	}
	if s.stores.Settlements != nil {
		if _, err := s.stores.Settlements.CreateSettlement(ctx, settlement); err != nil {
			s.log.WithError(err).WithField("tier", tier.Kind).Warn("journal settlement write failed")
		}
	}

	metrics.RecordSettlement(string(tier.Kind), paid)
	s.log.WithField("tier", tier.Kind).
		WithField("round", tier.RoundNumber).
		WithField("pot", pot).
		WithField("winners", len(payouts)).
		WithField("paid", paid).
		Info("round settled")

	return settlement, nil
}

// ResetStalledDraws returns tiers whose randomness request has been
// outstanding longer than the configured draw timeout to Accruing,
// invalidating the pending token so a late callback is rejected. A zero
// timeout disables resets. Returns the kinds that were reset.
func (s *Service) ResetStalledDraws(_ context.Context) []lottery.TierKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drawTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-s.drawTimeout)

	var reset []lottery.TierKind
	for _, kind := range s.order {
		tier := s.tiers[kind]
		if tier.Status != lottery.RoundAwaitingRandomness {
			continue
		}
		token := s.pendingByTier[kind]
		draw, ok := s.pending[token]
		if !ok || draw.RequestedAt.After(cutoff) {
			continue
		}
		delete(s.pending, token)
		delete(s.pendingByTier, kind)
		tier.Status = lottery.RoundAccruing
		reset = append(reset, kind)
		metrics.RecordDrawReset(string(kind))
		s.log.WithField("tier", kind).
			WithField("token", token).
			Warn("stalled randomness request reset")
	}
	return reset
}

// drawSeedLocked derives the per-request seed binding the draw expansion
// to the tier's round context. Caller holds s.mu.
func (s *Service) drawSeedLocked(tier *lottery.Tier, window int64) []byte {
	data := fmt.Sprintf("%s-%d-%d-%d-%d",
		tier.Kind, tier.RoundNumber, window, s.book.TotalTickets(), time.Now().UnixNano())
	sum := sha256.Sum256([]byte(data))
	return sum[:]
}
