// Package token provides an in-process value-transfer ledger and ticket
// registry. They back the simulation mode and the settlement tests; a
// production deployment substitutes real chain-backed implementations of the
// same interfaces.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// TransferHook runs after a transfer is credited, while the bank is not
// locked. It models a recipient callback: tests use it to drive reentrant
// calls against the settlement path.
type TransferHook func(ctx context.Context, to common.Address, amount *big.Int)

// Bank is an in-memory token ledger with a fixed escrow account that all
// outbound transfers draw from.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	escrow   common.Address
	hook     TransferHook
}

// NewBank creates a Bank whose transfers debit the escrow address.
func NewBank(escrow common.Address) *Bank {
	return &Bank{
		balances: make(map[common.Address]*big.Int),
		escrow:   escrow,
	}
}

// SetTransferHook installs a post-transfer callback. For tests.
func (b *Bank) SetTransferHook(hook TransferHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

// Mint credits an address out of thin air.
func (b *Bank) Mint(addr common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, amount)
}

func (b *Bank) credit(addr common.Address, amount *big.Int) {
	cur, ok := b.balances[addr]
	if !ok {
		cur = new(big.Int)
		b.balances[addr] = cur
	}
	cur.Add(cur, amount)
}

// Transfer moves amount from escrow to the recipient. It fails without moving
// anything when the escrow balance is insufficient.
func (b *Bank) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: invalid transfer amount")
	}

	b.mu.Lock()
	escrowBal, ok := b.balances[b.escrow]
	if !ok || escrowBal.Cmp(amount) < 0 {
		b.mu.Unlock()
		return fmt.Errorf("token: escrow balance below %s: %w", amount.String(), domain.ErrTransferFailed)
	}
	escrowBal.Sub(escrowBal, amount)
	b.credit(to, amount)
	hook := b.hook
	b.mu.Unlock()

	if hook != nil {
		hook(ctx, to, new(big.Int).Set(amount))
	}
	return nil
}

// BalanceOf returns the current balance of addr.
func (b *Bank) BalanceOf(_ context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.balances[addr]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(cur), nil
}

var _ domain.TokenLedger = (*Bank)(nil)
