// Package chain models the external value-transfer ledger the engine
// delegates fund custody to. The engine only ever observes success or
// failure of a transfer; a failure aborts the enclosing action.
package chain

import "context"

// TokenLedger is the fungible-asset account system holding all deposited
// value. Implementations must treat each call as atomic.
type TokenLedger interface {
	BalanceOf(ctx context.Context, addr string) (int64, error)
	Transfer(ctx context.Context, to string, amount int64) error
	TransferFrom(ctx context.Context, from, to string, amount int64) error
	Approve(ctx context.Context, spender string, amount int64) error
}
