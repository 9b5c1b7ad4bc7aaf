// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended
// for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/player"
	"github.com/R3E-Network/lottery_engine/internal/app/storage"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu          sync.RWMutex
	entries     []lottery.Entry
	settlements []lottery.Settlement
	players     map[string]player.Stats
}

var _ storage.EntryStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.PlayerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{players: make(map[string]player.Stats)}
}

func (s *Store) CreateEntry(_ context.Context, entry lottery.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) ListEntries(_ context.Context, offset, limit int) ([]lottery.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.entries) {
		return nil, nil
	}
	end := len(s.entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]lottery.Entry, end-offset)
	copy(out, s.entries[offset:end])
	return out, nil
}

func (s *Store) CreateSettlement(_ context.Context, st lottery.Settlement) (lottery.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.SettledAt.IsZero() {
		st.SettledAt = time.Now().UTC()
	}
	st.Payouts = append([]lottery.Payout(nil), st.Payouts...)
	s.settlements = append(s.settlements, st)
	return st, nil
}

func (s *Store) ListSettlements(_ context.Context, kind lottery.TierKind, limit int) ([]lottery.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []lottery.Settlement
	// Newest first.
	for i := len(s.settlements) - 1; i >= 0; i-- {
		st := s.settlements[i]
		if kind != "" && st.Kind != kind {
			continue
		}
		st.Payouts = append([]lottery.Payout(nil), st.Payouts...)
		out = append(out, st)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpsertPlayer(_ context.Context, stats player.Stats) error {
	if stats.Address == "" {
		return fmt.Errorf("player address required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.players[stats.Address]; ok {
		stats.JoinedAt = existing.JoinedAt
	} else if stats.JoinedAt.IsZero() {
		stats.JoinedAt = time.Now().UTC()
	}
	stats.UpdatedAt = time.Now().UTC()
	s.players[stats.Address] = stats
	return nil
}

func (s *Store) GetPlayer(_ context.Context, address string) (player.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.players[address]
	if !ok {
		return player.Stats{}, fmt.Errorf("player %s not found", address)
	}
	return stats, nil
}

func (s *Store) ListPlayers(_ context.Context) ([]player.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]player.Stats, 0, len(s.players))
	for _, stats := range s.players {
		out = append(out, stats)
	}
	return out, nil
}
