// Package lottery defines the core domain model of the weighted tiered
// lottery engine: ticket ledger entries, settlement tiers, pending draws
// and settlement records.
package lottery

import "time"

// BpsDenominator is the fixed-point denominator for all percentage
// arithmetic. Every division on basis points rounds down.
const BpsDenominator = 10_000

// TierKind identifies one of the fixed settlement pools.
type TierKind string

const (
	TierHourly  TierKind = "hourly"
	TierMonthly TierKind = "monthly"
	TierYearly  TierKind = "yearly"
	TierGrand   TierKind = "grand"
)

// Kinds lists all tier kinds in accrual order.
func Kinds() []TierKind {
	return []TierKind{TierHourly, TierMonthly, TierYearly, TierGrand}
}

// Valid reports whether the kind is one of the known tiers.
func (k TierKind) Valid() bool {
	switch k {
	case TierHourly, TierMonthly, TierYearly, TierGrand:
		return true
	}
	return false
}

// Entry is one ticket purchase. Entries are immutable once appended and
// are stored in strictly increasing order of CumulativeTickets. Index 0
// holds a zero-valued sentinel so that "nothing settled yet" is watermark
// zero without special cases.
type Entry struct {
	Index             int       `json:"index" db:"idx"`
	CumulativeTickets int64     `json:"cumulative_tickets" db:"cumulative_tickets"`
	Tickets           int64     `json:"tickets" db:"tickets"`
	Amount            int64     `json:"amount" db:"amount"`
	Buyer             string    `json:"buyer" db:"buyer"`
	Referrer          string    `json:"referrer,omitempty" db:"referrer"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// RoundStatus is the per-tier settlement state.
type RoundStatus string

const (
	RoundAccruing           RoundStatus = "accruing"
	RoundAwaitingRandomness RoundStatus = "awaiting_randomness"
	RoundSettling           RoundStatus = "settling"
)

// Tier holds the mutable accrual state of one settlement pool. The pot is
// never stored directly: it is always derived as
// totalDeposited*ShareBps/BpsDenominator - PotPaid, which keeps it
// non-negative by construction.
type Tier struct {
	Kind            TierKind    `json:"kind"`
	ShareBps        int64       `json:"share_bps"`
	SplitsBps       []int64     `json:"splits_bps"`
	MinParticipants int         `json:"min_participants"`
	MinPot          int64       `json:"min_pot"`
	PotPaid         int64       `json:"pot_paid"`
	TicketsUsed     int64       `json:"tickets_used"`
	EntriesUsed     int         `json:"entries_used"`
	RoundNumber     int64       `json:"round_number"`
	Status          RoundStatus `json:"status"`
	LastSettledAt   time.Time   `json:"last_settled_at,omitempty"`
}

// PendingDraw tracks one outstanding randomness request. The token is the
// correlation handle between the fire-and-forget request and the
// asynchronous fulfilment callback.
type PendingDraw struct {
	Token       string    `json:"token"`
	Kind        TierKind  `json:"kind"`
	Window      int64     `json:"window"`
	Seed        []byte    `json:"seed"`
	RequestedAt time.Time `json:"requested_at"`
}

// Payout is one winner split inside a settlement.
type Payout struct {
	Winner         string `json:"winner"`
	Referrer       string `json:"referrer,omitempty"`
	SplitBps       int64  `json:"split_bps"`
	Amount         int64  `json:"amount"`
	ReferralAmount int64  `json:"referral_amount"`
	DrawValue      int64  `json:"draw_value"`
}

// Settlement records one completed round of a tier.
type Settlement struct {
	ID          string    `json:"id"`
	Kind        TierKind  `json:"kind"`
	RoundNumber int64     `json:"round_number"`
	Pot         int64     `json:"pot"`
	Window      int64     `json:"window"`
	DrawValue   int64     `json:"draw_value"`
	Payouts     []Payout  `json:"payouts"`
	SettledAt   time.Time `json:"settled_at"`
}

// TierSnapshot is the read-only view of a tier exposed to callers.
type TierSnapshot struct {
	Kind            TierKind    `json:"kind"`
	Status          RoundStatus `json:"status"`
	Pot             int64       `json:"pot"`
	ActiveTickets   int64       `json:"active_tickets"`
	Participants    int         `json:"participants"`
	ShareBps        int64       `json:"share_bps"`
	SplitsBps       []int64     `json:"splits_bps"`
	MinParticipants int         `json:"min_participants"`
	MinPot          int64       `json:"min_pot"`
	PotPaid         int64       `json:"pot_paid"`
	TicketsUsed     int64       `json:"tickets_used"`
	RoundNumber     int64       `json:"round_number"`
	LastSettledAt   time.Time   `json:"last_settled_at,omitempty"`
}
