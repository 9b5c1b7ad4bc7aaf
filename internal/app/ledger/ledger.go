// Package ledger implements the append-only weighted ticket book and the
// winner-selection search over it.
//
// Entries are kept in an arena-backed slice that only ever grows;
// settlement advances per-tier watermarks instead of truncating history,
// so lookups stay O(log N) over the immutable prefix forever.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
)

// Book is the append-only ticket ledger. Index 0 holds a zero-valued
// sentinel entry so a watermark of zero means "nothing settled yet".
// Book is safe for concurrent use.
type Book struct {
	mu      sync.RWMutex
	entries []lottery.Entry
}

// New creates an empty book containing only the sentinel entry.
func New() *Book {
	return &Book{entries: []lottery.Entry{{}}}
}

// Append records a ticket purchase and returns the stored entry. The
// cumulative ticket number is the previous cumulative total plus the
// purchased tickets.
func (b *Book) Append(buyer, referrer string, tickets, amount int64) (lottery.Entry, error) {
	if tickets <= 0 {
		return lottery.Entry{}, fmt.Errorf("%w: tickets must be positive", lottery.ErrInvalidInput)
	}
	if buyer == "" {
		return lottery.Entry{}, fmt.Errorf("%w: buyer required", lottery.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	last := b.entries[len(b.entries)-1]
	entry := lottery.Entry{
		Index:             len(b.entries),
		CumulativeTickets: last.CumulativeTickets + tickets,
		Tickets:           tickets,
		Amount:            amount,
		Buyer:             buyer,
		Referrer:          referrer,
		CreatedAt:         time.Now().UTC(),
	}
	b.entries = append(b.entries, entry)
	return entry, nil
}

// Len returns the number of stored entries including the sentinel.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// At returns the entry at the given index.
func (b *Book) At(index int) (lottery.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index < 0 || index >= len(b.entries) {
		return lottery.Entry{}, fmt.Errorf("%w: index %d out of range", lottery.ErrInvalidInput, index)
	}
	return b.entries[index], nil
}

// TotalTickets returns the cumulative number of tickets ever sold.
func (b *Book) TotalTickets() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entries[len(b.entries)-1].CumulativeTickets
}

// Entries returns up to limit entries starting at offset, skipping the
// sentinel. A non-positive limit returns all remaining entries.
func (b *Book) Entries(offset, limit int) []lottery.Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := offset + 1 // skip sentinel
	if start < 1 {
		start = 1
	}
	if start >= len(b.entries) {
		return nil
	}
	end := len(b.entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]lottery.Entry, end-start)
	copy(out, b.entries[start:end])
	return out
}

// Participants counts distinct buyers among entries after the given
// entry-index watermark.
func (b *Book) Participants(entriesUsed int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if entriesUsed < 0 {
		entriesUsed = 0
	}
	seen := make(map[string]struct{})
	for i := entriesUsed + 1; i < len(b.entries); i++ {
		seen[b.entries[i].Buyer] = struct{}{}
	}
	return len(seen)
}

// FindWinner resolves a draw to the entry holding the winning ticket.
//
// ticketsUsed is the tier's ticket watermark and entriesUsed its entry
// watermark; drawValue must be uniform over [0, activeTickets). The
// winning ticket number is ticketsUsed+drawValue+1 and the winner is the
// first entry whose cumulative ticket number reaches it. A search that
// lands on or before the watermark index means the bookkeeping is
// corrupt and fails with ErrNoValidWinner.
func (b *Book) FindWinner(entriesUsed int, ticketsUsed, drawValue int64) (lottery.Entry, error) {
	if drawValue < 0 {
		return lottery.Entry{}, fmt.Errorf("%w: negative draw value", lottery.ErrInvalidInput)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	winning := ticketsUsed + drawValue + 1
	idx := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].CumulativeTickets >= winning
	})
	if idx >= len(b.entries) || idx <= entriesUsed {
		return lottery.Entry{}, fmt.Errorf("%w: ticket %d (watermark entry %d, draw %d)",
			lottery.ErrNoValidWinner, winning, entriesUsed, drawValue)
	}
	return b.entries[idx], nil
}
