package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenLedger is the external value-transfer primitive. Transfers are assumed
// atomic and immediately observable; a failed transfer returns an error and
// moves nothing.
type TokenLedger interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
}

// TicketingDetails describes an event's ticketing parameters.
type TicketingDetails struct {
	Supply         uint64
	Price          *big.Int
	DynamicPricing bool
}

// EventRegistry is the external ticket registry consumed by the settlement
// executor's refund path.
type EventRegistry interface {
	TicketingDetails(ctx context.Context, eventContract common.Address) (TicketingDetails, error)
	TicketHolder(ctx context.Context, ticketID uint64) (common.Address, error)
	TicketPrice(ctx context.Context, ticketID uint64) (*big.Int, error)
	IsTicketRefunded(ctx context.Context, ticketID uint64) (bool, error)
	MarkRefunded(ctx context.Context, ticketID uint64) error
	BurnTicket(ctx context.Context, ticketID uint64) error
}

// DecisionAuthority is the pluggable capability gating decision submission.
// The reference deployment backs it with a single key-holder allow-list; a
// multi-signer or DAO-backed authority can be substituted without touching
// the state machine.
type DecisionAuthority interface {
	IsAuthorizedToDecide(addr common.Address) bool
}
