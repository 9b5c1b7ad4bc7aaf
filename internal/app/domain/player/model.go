// Package player defines per-participant lifetime statistics.
package player

import "time"

// Stats accumulates a participant's lifetime activity. Created lazily on
// first deposit and mutated only by deposits, settlement payouts and
// bonus withdrawals.
type Stats struct {
	Address              string    `json:"address" db:"address"`
	TotalDeposited       int64     `json:"total_deposited" db:"total_deposited"`
	TotalTickets         int64     `json:"total_tickets" db:"total_tickets"`
	TotalWon             int64     `json:"total_won" db:"total_won"`
	BonusTicketWatermark int64     `json:"bonus_ticket_watermark" db:"bonus_ticket_watermark"`
	TotalBonusWithdrawn  int64     `json:"total_bonus_withdrawn" db:"total_bonus_withdrawn"`
	JoinedAt             time.Time `json:"joined_at" db:"joined_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}
