package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/domain"
)

type ticket struct {
	holder   common.Address
	price    *big.Int
	refunded bool
	burned   bool
}

// Registry is an in-memory ticket registry keyed by ticket id.
type Registry struct {
	mu      sync.Mutex
	events  map[common.Address]domain.TicketingDetails
	tickets map[uint64]*ticket
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		events:  make(map[common.Address]domain.TicketingDetails),
		tickets: make(map[uint64]*ticket),
	}
}

// AddEvent registers ticketing details for an event contract.
func (r *Registry) AddEvent(eventContract common.Address, details domain.TicketingDetails) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[eventContract] = details
}

// IssueTicket records a ticket with its holder and purchase price.
func (r *Registry) IssueTicket(ticketID uint64, holder common.Address, price *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[ticketID] = &ticket{holder: holder, price: new(big.Int).Set(price)}
}

// TicketingDetails returns the event's ticketing parameters.
func (r *Registry) TicketingDetails(_ context.Context, eventContract common.Address) (domain.TicketingDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	details, ok := r.events[eventContract]
	if !ok {
		return domain.TicketingDetails{}, domain.ErrNotFound
	}
	return details, nil
}

// TicketHolder returns the current holder of a ticket.
func (r *Registry) TicketHolder(_ context.Context, ticketID uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return common.Address{}, fmt.Errorf("token: ticket %d: %w", ticketID, domain.ErrNotFound)
	}
	return t.holder, nil
}

// TicketPrice returns the original purchase price of a ticket.
func (r *Registry) TicketPrice(_ context.Context, ticketID uint64) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("token: ticket %d: %w", ticketID, domain.ErrNotFound)
	}
	return new(big.Int).Set(t.price), nil
}

// IsTicketRefunded reports whether a ticket has already been refunded.
func (r *Registry) IsTicketRefunded(_ context.Context, ticketID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return false, fmt.Errorf("token: ticket %d: %w", ticketID, domain.ErrNotFound)
	}
	return t.refunded, nil
}

// MarkRefunded sets the refunded flag. Marking an already refunded ticket
// fails so a retried batch cannot pay twice.
func (r *Registry) MarkRefunded(_ context.Context, ticketID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return fmt.Errorf("token: ticket %d: %w", ticketID, domain.ErrNotFound)
	}
	if t.refunded {
		return fmt.Errorf("token: ticket %d: %w", ticketID, domain.ErrTicketRefunded)
	}
	t.refunded = true
	return nil
}

// BurnTicket invalidates a ticket.
func (r *Registry) BurnTicket(_ context.Context, ticketID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return fmt.Errorf("token: ticket %d: %w", ticketID, domain.ErrNotFound)
	}
	t.burned = true
	return nil
}

var _ domain.EventRegistry = (*Registry)(nil)
