package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/domain"
)

var (
	escrow = common.HexToAddress("0xeeee000000000000000000000000000000000001")
	alice  = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob    = common.HexToAddress("0xbbbb000000000000000000000000000000000001")
)

func TestTransferDebitsEscrow(t *testing.T) {
	ctx := context.Background()
	b := NewBank(escrow)
	b.Mint(escrow, big.NewInt(100))

	if err := b.Transfer(ctx, alice, big.NewInt(60)); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	aliceBal, _ := b.BalanceOf(ctx, alice)
	escrowBal, _ := b.BalanceOf(ctx, escrow)
	if aliceBal.Int64() != 60 || escrowBal.Int64() != 40 {
		t.Fatalf("balances = alice %s, escrow %s; want 60, 40", aliceBal, escrowBal)
	}
}

func TestTransferInsufficientEscrow(t *testing.T) {
	ctx := context.Background()
	b := NewBank(escrow)
	b.Mint(escrow, big.NewInt(50))

	err := b.Transfer(ctx, alice, big.NewInt(51))
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Transfer() error = %v, want %v", err, domain.ErrTransferFailed)
	}
	// Nothing moved.
	aliceBal, _ := b.BalanceOf(ctx, alice)
	escrowBal, _ := b.BalanceOf(ctx, escrow)
	if aliceBal.Sign() != 0 || escrowBal.Int64() != 50 {
		t.Fatalf("balances = alice %s, escrow %s; want 0, 50", aliceBal, escrowBal)
	}
}

func TestTransferRejectsInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	b := NewBank(escrow)
	b.Mint(escrow, big.NewInt(100))

	for _, amount := range []*big.Int{nil, big.NewInt(-1)} {
		if err := b.Transfer(ctx, alice, amount); err == nil {
			t.Fatalf("Transfer(%v) = nil, want error", amount)
		}
	}
}

func TestTransferHookSeesSettledBalance(t *testing.T) {
	ctx := context.Background()
	b := NewBank(escrow)
	b.Mint(escrow, big.NewInt(100))

	var hookBalance int64
	b.SetTransferHook(func(ctx context.Context, to common.Address, amount *big.Int) {
		bal, err := b.BalanceOf(ctx, to)
		if err != nil {
			t.Errorf("BalanceOf() in hook error = %v", err)
			return
		}
		hookBalance = bal.Int64()
	})

	if err := b.Transfer(ctx, bob, big.NewInt(30)); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if hookBalance != 30 {
		t.Fatalf("hook observed balance %d, want 30 (credit lands before hook)", hookBalance)
	}
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	ctx := context.Background()
	b := NewBank(escrow)
	b.Mint(alice, big.NewInt(10))

	bal, _ := b.BalanceOf(ctx, alice)
	bal.SetInt64(9999)

	again, _ := b.BalanceOf(ctx, alice)
	if again.Int64() != 10 {
		t.Fatalf("BalanceOf() = %s after mutating a copy, want 10", again)
	}
}

func TestRegistryTicketLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	r.IssueTicket(7, alice, big.NewInt(55))

	holder, err := r.TicketHolder(ctx, 7)
	if err != nil || holder != alice {
		t.Fatalf("TicketHolder() = %s, %v; want %s, nil", holder.Hex(), err, alice.Hex())
	}
	price, err := r.TicketPrice(ctx, 7)
	if err != nil || price.Int64() != 55 {
		t.Fatalf("TicketPrice() = %s, %v; want 55, nil", price, err)
	}

	done, err := r.IsTicketRefunded(ctx, 7)
	if err != nil || done {
		t.Fatalf("IsTicketRefunded() = %v, %v; want false, nil", done, err)
	}
	if err := r.MarkRefunded(ctx, 7); err != nil {
		t.Fatalf("MarkRefunded() error = %v", err)
	}
	done, _ = r.IsTicketRefunded(ctx, 7)
	if !done {
		t.Fatal("IsTicketRefunded() = false after MarkRefunded()")
	}

	// A second mark fails so a retried batch cannot pay twice.
	if err := r.MarkRefunded(ctx, 7); !errors.Is(err, domain.ErrTicketRefunded) {
		t.Fatalf("second MarkRefunded() error = %v, want %v", err, domain.ErrTicketRefunded)
	}

	if err := r.BurnTicket(ctx, 7); err != nil {
		t.Fatalf("BurnTicket() error = %v", err)
	}
}

func TestRegistryUnknownTicket(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	if _, err := r.TicketHolder(ctx, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("TicketHolder(99) error = %v, want %v", err, domain.ErrNotFound)
	}
	if err := r.MarkRefunded(ctx, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkRefunded(99) error = %v, want %v", err, domain.ErrNotFound)
	}
}

func TestRegistryEventDetails(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	eventC := common.HexToAddress("0x3333333333333333333333333333333333333333")

	if _, err := r.TicketingDetails(ctx, eventC); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("TicketingDetails() error = %v, want %v", err, domain.ErrNotFound)
	}

	r.AddEvent(eventC, domain.TicketingDetails{Supply: 500, Price: big.NewInt(20)})
	details, err := r.TicketingDetails(ctx, eventC)
	if err != nil {
		t.Fatalf("TicketingDetails() error = %v", err)
	}
	if details.Supply != 500 || details.Price.Int64() != 20 {
		t.Fatalf("TicketingDetails() = %+v, want supply 500 at price 20", details)
	}
}
