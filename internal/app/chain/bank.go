package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
)

// Bank is an in-memory TokenLedger used by tests and local development.
// The vault address is the account transfers are sent from; deposits flow
// into it via TransferFrom.
type Bank struct {
	mu         sync.Mutex
	vault      string
	balances   map[string]int64
	allowances map[string]map[string]int64
}

var _ TokenLedger = (*Bank)(nil)

// NewBank creates a bank with the given vault address.
func NewBank(vault string) *Bank {
	return &Bank{
		vault:      vault,
		balances:   make(map[string]int64),
		allowances: make(map[string]map[string]int64),
	}
}

// Mint credits an account. Test and bootstrap helper.
func (b *Bank) Mint(addr string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] += amount
}

func (b *Bank) BalanceOf(_ context.Context, addr string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[addr], nil
}

func (b *Bank) Transfer(_ context.Context, to string, amount int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(b.vault, to, amount)
}

// TransferFrom pulls funds from a depositor. Depositors implicitly
// authorize the vault in local runs; on-chain deployments enforce real
// allowances on their side.
func (b *Bank) TransferFrom(_ context.Context, from, to string, amount int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

func (b *Bank) Approve(_ context.Context, spender string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative allowance", lottery.ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allowances[b.vault] == nil {
		b.allowances[b.vault] = make(map[string]int64)
	}
	b.allowances[b.vault][spender] = amount
	return nil
}

func (b *Bank) move(from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount", lottery.ErrInvalidInput)
	}
	if b.balances[from] < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", lottery.ErrInsufficientBalance, from, b.balances[from], amount)
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}
