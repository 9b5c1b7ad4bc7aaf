// Package storage defines the journaling persistence interfaces. The
// engine is authoritative over its in-memory state; stores receive an
// append-only journal of entries, settlements and player snapshots that
// feeds reporting and recovery tooling.
package storage

import (
	"context"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/domain/player"
)

// EntryStore persists ticket ledger entries.
type EntryStore interface {
	CreateEntry(ctx context.Context, entry lottery.Entry) error
	ListEntries(ctx context.Context, offset, limit int) ([]lottery.Entry, error)
}

// SettlementStore persists completed settlements.
type SettlementStore interface {
	CreateSettlement(ctx context.Context, st lottery.Settlement) (lottery.Settlement, error)
	ListSettlements(ctx context.Context, kind lottery.TierKind, limit int) ([]lottery.Settlement, error)
}

// PlayerStore persists player statistic snapshots.
type PlayerStore interface {
	UpsertPlayer(ctx context.Context, stats player.Stats) error
	GetPlayer(ctx context.Context, address string) (player.Stats, error)
	ListPlayers(ctx context.Context) ([]player.Stats, error)
}
