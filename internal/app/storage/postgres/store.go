// Package postgres implements the storage interfaces backed by
// PostgreSQL. See schema.sql for the expected tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/player"
	"github.com/R3E-Network/lottery_engine/internal/app/storage"
)

// Store persists the engine journal in PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.EntryStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.PlayerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Connect opens a PostgreSQL connection pool for the given DSN.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (s *Store) CreateEntry(ctx context.Context, entry lottery.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lottery_entries (idx, cumulative_tickets, tickets, amount, buyer, referrer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.Index, entry.CumulativeTickets, entry.Tickets, entry.Amount, entry.Buyer, entry.Referrer, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, offset, limit int) ([]lottery.Entry, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 1000
	}
	var entries []lottery.Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT idx, cumulative_tickets, tickets, amount, buyer, referrer, created_at
		FROM lottery_entries
		ORDER BY idx
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

type settlementRow struct {
	ID          string    `db:"id"`
	Kind        string    `db:"kind"`
	RoundNumber int64     `db:"round_number"`
	Pot         int64     `db:"pot"`
	Window      int64     `db:"window_tickets"`
	DrawValue   int64     `db:"draw_value"`
	Payouts     []byte    `db:"payouts"`
	SettledAt   time.Time `db:"settled_at"`
}

func (s *Store) CreateSettlement(ctx context.Context, st lottery.Settlement) (lottery.Settlement, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.SettledAt.IsZero() {
		st.SettledAt = time.Now().UTC()
	}
	payouts, err := json.Marshal(st.Payouts)
	if err != nil {
		return lottery.Settlement{}, fmt.Errorf("marshal payouts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lottery_settlements (id, kind, round_number, pot, window_tickets, draw_value, payouts, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, st.ID, string(st.Kind), st.RoundNumber, st.Pot, st.Window, st.DrawValue, payouts, st.SettledAt)
	if err != nil {
		return lottery.Settlement{}, fmt.Errorf("insert settlement: %w", err)
	}
	return st, nil
}

func (s *Store) ListSettlements(ctx context.Context, kind lottery.TierKind, limit int) ([]lottery.Settlement, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []settlementRow
	var err error
	if kind == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, kind, round_number, pot, window_tickets, draw_value, payouts, settled_at
			FROM lottery_settlements
			ORDER BY settled_at DESC
			LIMIT $1
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, kind, round_number, pot, window_tickets, draw_value, payouts, settled_at
			FROM lottery_settlements
			WHERE kind = $1
			ORDER BY settled_at DESC
			LIMIT $2
		`, string(kind), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}

	out := make([]lottery.Settlement, 0, len(rows))
	for _, row := range rows {
		st := lottery.Settlement{
			ID:          row.ID,
			Kind:        lottery.TierKind(row.Kind),
			RoundNumber: row.RoundNumber,
			Pot:         row.Pot,
			Window:      row.Window,
			DrawValue:   row.DrawValue,
			SettledAt:   row.SettledAt,
		}
		if len(row.Payouts) > 0 {
			if err := json.Unmarshal(row.Payouts, &st.Payouts); err != nil {
				return nil, fmt.Errorf("unmarshal payouts for %s: %w", row.ID, err)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) UpsertPlayer(ctx context.Context, stats player.Stats) error {
	if stats.Address == "" {
		return fmt.Errorf("player address required")
	}
	now := time.Now().UTC()
	if stats.JoinedAt.IsZero() {
		stats.JoinedAt = now
	}
	stats.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lottery_players
			(address, total_deposited, total_tickets, total_won, bonus_ticket_watermark, total_bonus_withdrawn, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			total_deposited = EXCLUDED.total_deposited,
			total_tickets = EXCLUDED.total_tickets,
			total_won = EXCLUDED.total_won,
			bonus_ticket_watermark = EXCLUDED.bonus_ticket_watermark,
			total_bonus_withdrawn = EXCLUDED.total_bonus_withdrawn,
			updated_at = EXCLUDED.updated_at
	`, stats.Address, stats.TotalDeposited, stats.TotalTickets, stats.TotalWon,
		stats.BonusTicketWatermark, stats.TotalBonusWithdrawn, stats.JoinedAt, stats.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	return nil
}

func (s *Store) GetPlayer(ctx context.Context, address string) (player.Stats, error) {
	var stats player.Stats
	err := s.db.GetContext(ctx, &stats, `
		SELECT address, total_deposited, total_tickets, total_won, bonus_ticket_watermark, total_bonus_withdrawn, joined_at, updated_at
		FROM lottery_players
		WHERE address = $1
	`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return player.Stats{}, fmt.Errorf("player %s not found", address)
	}
	if err != nil {
		return player.Stats{}, fmt.Errorf("get player: %w", err)
	}
	return stats, nil
}

func (s *Store) ListPlayers(ctx context.Context) ([]player.Stats, error) {
	var players []player.Stats
	err := s.db.SelectContext(ctx, &players, `
		SELECT address, total_deposited, total_tickets, total_won, bonus_ticket_watermark, total_bonus_withdrawn, joined_at, updated_at
		FROM lottery_players
		ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	return players, nil
}
