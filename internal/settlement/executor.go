// Package settlement computes and carries out the fund movement for resolved
// disputes. The split is a pure function of the resolution type and the
// approved amount; the executor only ever runs on a snapshot handed to it by
// the state machine, never on the canonical record.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// Executor moves funds for a resolved dispute. Refund batches are registered
// ahead of execution and consumed when a ticket-refunds resolution executes.
type Executor struct {
	ledger   domain.TokenLedger
	registry domain.EventRegistry
	treasury common.Address

	mu      sync.Mutex
	batches map[uint64][]uint64 // dispute id -> registered ticket ids

	now    func() time.Time
	logger *slog.Logger
}

// NewExecutor creates an Executor. Penalty amounts are routed to the treasury
// address. registry may be nil when ticket refunds are not in play.
func NewExecutor(ledger domain.TokenLedger, registry domain.EventRegistry, treasury common.Address, logger *slog.Logger) *Executor {
	return &Executor{
		ledger:   ledger,
		registry: registry,
		treasury: treasury,
		batches:  make(map[uint64][]uint64),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "settlement")),
	}
}

// Split returns the artist and venue amounts for a resolution. Pure function;
// exported so callers can preview a payout without executing it.
func Split(resolution domain.ResolutionType, contractAmount, approvedAmount *big.Int) (artist, venue *big.Int) {
	artist = new(big.Int)
	venue = new(big.Int)
	if contractAmount == nil {
		return artist, venue
	}
	if approvedAmount == nil {
		approvedAmount = new(big.Int)
	}
	switch resolution {
	case domain.ResolutionFullArtistPayment:
		artist.Set(contractAmount)
	case domain.ResolutionFullVenueRefund:
		venue.Set(contractAmount)
	case domain.ResolutionPartialPayment:
		artist.Set(approvedAmount)
		venue.Sub(contractAmount, approvedAmount)
	case domain.ResolutionPenaltyApplied, domain.ResolutionTicketRefunds:
		// No direct artist/venue movement. Penalty routing and the
		// ticket-refund batch are handled separately.
	}
	return artist, venue
}

// RegisterRefundBatch records the ticket ids to refund when the dispute
// executes with a ticket-refunds resolution. Registering again replaces the
// previous batch.
func (e *Executor) RegisterRefundBatch(disputeID uint64, ticketIDs []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch := make([]uint64, len(ticketIDs))
	copy(batch, ticketIDs)
	e.batches[disputeID] = batch
}

// RefundBatch returns the registered ticket ids for a dispute, if any.
func (e *Executor) RefundBatch(disputeID uint64) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch := e.batches[disputeID]
	out := make([]uint64, len(batch))
	copy(out, batch)
	return out
}

// Execute carries out the settlement for a resolved dispute snapshot and
// returns the audit record. A transfer failure on any leg aborts the whole
// call with an error; the state machine restores the execution flags so the
// dispute can be retried.
func (e *Executor) Execute(ctx context.Context, d domain.Dispute) (domain.Settlement, error) {
	artistAmount, venueAmount := Split(d.Resolution, d.ContractAmount, d.ApprovedAmount)

	s := domain.Settlement{
		DisputeID:     d.ID,
		Resolution:    d.Resolution,
		ArtistAmount:  artistAmount,
		VenueAmount:   venueAmount,
		PenaltyAmount: new(big.Int),
		ExecutedAt:    e.now(),
	}

	if artistAmount.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, d.Artist, artistAmount); err != nil {
			return domain.Settlement{}, fmt.Errorf("settlement: artist leg for dispute %d: %w (%v)", d.ID, domain.ErrTransferFailed, err)
		}
	}
	if venueAmount.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, d.Venue, venueAmount); err != nil {
			return domain.Settlement{}, fmt.Errorf("settlement: venue leg for dispute %d: %w (%v)", d.ID, domain.ErrTransferFailed, err)
		}
	}

	if d.Resolution == domain.ResolutionPenaltyApplied && d.PenaltyAmount != nil && d.PenaltyAmount.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, e.treasury, d.PenaltyAmount); err != nil {
			return domain.Settlement{}, fmt.Errorf("settlement: penalty leg for dispute %d: %w (%v)", d.ID, domain.ErrTransferFailed, err)
		}
		s.PenaltyAmount = new(big.Int).Set(d.PenaltyAmount)
	}

	if d.Resolution == domain.ResolutionTicketRefunds || d.RefundsRequired {
		refunded, err := e.processRefunds(ctx, d.ID)
		if err != nil {
			return domain.Settlement{}, err
		}
		s.TicketsRefunded = refunded
	}

	e.logger.InfoContext(ctx, "settlement complete",
		slog.Uint64("dispute_id", d.ID),
		slog.String("resolution", string(d.Resolution)),
		slog.String("artist_amount", artistAmount.String()),
		slog.String("venue_amount", venueAmount.String()),
		slog.Int("tickets_refunded", s.TicketsRefunded),
	)
	return s, nil
}

// processRefunds walks the registered batch in order. Each ticket is marked
// refunded before its transfer so a recipient callback re-entering the refund
// path sees the flag and fails. A ticket already refunded fails the batch
// rather than being skipped, and the first failure of any kind stops the
// batch at that entry.
func (e *Executor) processRefunds(ctx context.Context, disputeID uint64) (int, error) {
	batch := e.RefundBatch(disputeID)
	if len(batch) == 0 {
		return 0, nil
	}
	if e.registry == nil {
		return 0, fmt.Errorf("settlement: dispute %d requires refunds but no event registry is configured", disputeID)
	}

	refunded := 0
	for _, ticketID := range batch {
		done, err := e.registry.IsTicketRefunded(ctx, ticketID)
		if err != nil {
			return refunded, fmt.Errorf("settlement: check ticket %d: %w", ticketID, err)
		}
		if done {
			return refunded, fmt.Errorf("settlement: ticket %d: %w", ticketID, domain.ErrTicketRefunded)
		}

		holder, err := e.registry.TicketHolder(ctx, ticketID)
		if err != nil {
			return refunded, fmt.Errorf("settlement: holder of ticket %d: %w", ticketID, err)
		}
		price, err := e.registry.TicketPrice(ctx, ticketID)
		if err != nil {
			return refunded, fmt.Errorf("settlement: price of ticket %d: %w", ticketID, err)
		}

		if err := e.registry.MarkRefunded(ctx, ticketID); err != nil {
			return refunded, fmt.Errorf("settlement: mark ticket %d refunded: %w", ticketID, err)
		}
		if price != nil && price.Sign() > 0 {
			if err := e.ledger.Transfer(ctx, holder, price); err != nil {
				return refunded, fmt.Errorf("settlement: refund ticket %d: %w (%v)", ticketID, domain.ErrTransferFailed, err)
			}
		}
		if err := e.registry.BurnTicket(ctx, ticketID); err != nil {
			return refunded, fmt.Errorf("settlement: burn ticket %d: %w", ticketID, err)
		}
		refunded++
	}
	return refunded, nil
}
