package ledger

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
)

func TestBook_AppendCumulative(t *testing.T) {
	book := New()
	if book.Len() != 1 {
		t.Fatalf("new book should hold only the sentinel, len=%d", book.Len())
	}
	if book.TotalTickets() != 0 {
		t.Fatalf("sentinel should carry zero tickets: %d", book.TotalTickets())
	}

	first, err := book.Append("alice", "", 10, 1000)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Index != 1 || first.CumulativeTickets != 10 {
		t.Fatalf("unexpected first entry: %+v", first)
	}

	second, err := book.Append("bob", "alice", 5, 500)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.CumulativeTickets != 15 {
		t.Fatalf("cumulative not running sum: %d", second.CumulativeTickets)
	}
	if book.TotalTickets() != 15 {
		t.Fatalf("total tickets: %d", book.TotalTickets())
	}

	if _, err := book.Append("carol", "", 0, 0); !errors.Is(err, lottery.ErrInvalidInput) {
		t.Fatalf("zero tickets should be rejected, got %v", err)
	}
	if _, err := book.Append("", "", 1, 100); !errors.Is(err, lottery.ErrInvalidInput) {
		t.Fatalf("empty buyer should be rejected, got %v", err)
	}
}

func TestBook_FindWinnerFixedVector(t *testing.T) {
	// Ticket counts [10, 1, 89]: draws {0,9,10,11,99} must land on
	// entries {1,1,2,3,3} (ledger indices; sentinel occupies 0).
	book := New()
	buyers := []struct {
		name    string
		tickets int64
	}{{"a", 10}, {"b", 1}, {"c", 89}}
	for _, b := range buyers {
		if _, err := book.Append(b.name, "", b.tickets, b.tickets*100); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	cases := []struct {
		draw int64
		want string
	}{{0, "a"}, {9, "a"}, {10, "b"}, {11, "c"}, {99, "c"}}
	for _, tc := range cases {
		entry, err := book.FindWinner(0, 0, tc.draw)
		if err != nil {
			t.Fatalf("draw %d: %v", tc.draw, err)
		}
		if entry.Buyer != tc.want {
			t.Fatalf("draw %d: got %s, want %s", tc.draw, entry.Buyer, tc.want)
		}
	}
}

func TestBook_FindWinnerExhaustiveFairness(t *testing.T) {
	// Every active ticket must map to exactly one entry, so an exhaustive
	// sweep over [0, T) must hit entry i exactly k_i times, for arbitrary
	// ticket size distributions.
	rng := rand.New(rand.NewSource(42))
	book := New()
	counts := make(map[int]int64)
	var total int64
	for i := 0; i < 60; i++ {
		k := int64(rng.Intn(50) + 1)
		entry, err := book.Append("buyer", "", k, k)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		counts[entry.Index] = 0
		total += k
	}

	for draw := int64(0); draw < total; draw++ {
		entry, err := book.FindWinner(0, 0, draw)
		if err != nil {
			t.Fatalf("draw %d: %v", draw, err)
		}
		counts[entry.Index]++
	}
	for idx, hits := range counts {
		entry, err := book.At(idx)
		if err != nil {
			t.Fatalf("at %d: %v", idx, err)
		}
		if hits != entry.Tickets {
			t.Fatalf("entry %d: %d hits for %d tickets", idx, hits, entry.Tickets)
		}
	}
}

func TestBook_FindWinnerRespectsWatermark(t *testing.T) {
	book := New()
	book.Append("a", "", 10, 1000)
	mid, _ := book.Append("b", "", 10, 1000)
	book.Append("c", "", 10, 1000)

	// Watermark past entry "b": only "c" tickets are active.
	entry, err := book.FindWinner(mid.Index, mid.CumulativeTickets, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if entry.Buyer != "c" {
		t.Fatalf("expected c, got %s", entry.Buyer)
	}
	entry, err = book.FindWinner(mid.Index, mid.CumulativeTickets, 9)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if entry.Buyer != "c" {
		t.Fatalf("expected c, got %s", entry.Buyer)
	}

	// A draw beyond the active window walks off the ledger.
	if _, err := book.FindWinner(mid.Index, mid.CumulativeTickets, 10); !errors.Is(err, lottery.ErrNoValidWinner) {
		t.Fatalf("expected ErrNoValidWinner, got %v", err)
	}

	// A corrupt ticket watermark that points before the entry watermark
	// lands on a consumed entry and must fail rather than pay it again.
	if _, err := book.FindWinner(mid.Index, 0, 0); !errors.Is(err, lottery.ErrNoValidWinner) {
		t.Fatalf("expected ErrNoValidWinner for consumed entry, got %v", err)
	}
}

func TestBook_FindWinnerEmptyLedger(t *testing.T) {
	book := New()
	if _, err := book.FindWinner(0, 0, 0); !errors.Is(err, lottery.ErrNoValidWinner) {
		t.Fatalf("empty ledger should yield ErrNoValidWinner, got %v", err)
	}
}

func TestBook_EntriesPagination(t *testing.T) {
	book := New()
	for i := 0; i < 5; i++ {
		book.Append("buyer", "", 1, 100)
	}

	all := book.Entries(0, 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(all))
	}
	page := book.Entries(2, 2)
	if len(page) != 2 || page[0].Index != 3 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if got := book.Entries(10, 0); got != nil {
		t.Fatalf("offset past end should be empty, got %+v", got)
	}
}

func TestBook_Participants(t *testing.T) {
	book := New()
	book.Append("a", "", 1, 100)
	e, _ := book.Append("b", "", 1, 100)
	book.Append("a", "", 1, 100)
	book.Append("c", "", 1, 100)

	if got := book.Participants(0); got != 3 {
		t.Fatalf("expected 3 participants, got %d", got)
	}
	if got := book.Participants(e.Index); got != 2 {
		t.Fatalf("expected 2 active participants, got %d", got)
	}
}
