// Package service wraps the arbitration core with the operational concerns
// the API layer needs: caching, lifecycle events, audit logging, and operator
// notifications. The state machine stays the single source of truth; this
// layer never mutates disputes directly.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/arbiter"
	"github.com/encorelabs/arbiterd/internal/domain"
	"github.com/encorelabs/arbiterd/internal/gateway"
	"github.com/encorelabs/arbiterd/internal/ledger"
	"github.com/encorelabs/arbiterd/internal/notify"
)

// disputeEventsChannel carries dispute lifecycle events for API subscribers.
const disputeEventsChannel = "arbiter.disputes"

// DisputeService orchestrates dispute operations end to end. The cache, bus,
// audit store, and notifier are all optional; a nil dependency disables that
// concern without changing core behavior.
type DisputeService struct {
	machine     *arbiter.StateMachine
	evidence    *ledger.Ledger
	disputes    domain.DisputeStore
	settlements domain.SettlementStore
	cache       domain.DisputeCache
	bus         domain.SignalBus
	audit       domain.AuditStore
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// NewDisputeService creates a DisputeService.
func NewDisputeService(
	machine *arbiter.StateMachine,
	evidence *ledger.Ledger,
	disputes domain.DisputeStore,
	settlements domain.SettlementStore,
	cache domain.DisputeCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *DisputeService {
	return &DisputeService{
		machine:     machine,
		evidence:    evidence,
		disputes:    disputes,
		settlements: settlements,
		cache:       cache,
		bus:         bus,
		audit:       audit,
		notifier:    notifier,
		logger:      logger.With(slog.String("component", "dispute_service")),
	}
}

// FileDispute files a new dispute on behalf of caller.
func (s *DisputeService) FileDispute(
	ctx context.Context,
	caller, artist, venue, eventContract common.Address,
	contractAmount, depositAmount *big.Int,
) (domain.Dispute, error) {
	d, err := s.machine.FileDispute(ctx, caller, artist, venue, eventContract, contractAmount, depositAmount)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: file: %w", err)
	}

	s.publish(ctx, "dispute_filed", map[string]any{
		"dispute_id":      d.ID,
		"artist":          d.Artist.Hex(),
		"venue":           d.Venue.Hex(),
		"contract_amount": d.ContractAmount.String(),
	})
	s.auditLog(ctx, "dispute.filed", map[string]any{
		"dispute_id": d.ID,
		"initiator":  caller.Hex(),
	})
	s.notify(ctx, "dispute_filed", "Dispute filed",
		fmt.Sprintf("Dispute %d filed between artist %s and venue %s for %s tokens.",
			d.ID, d.Artist.Hex(), d.Venue.Hex(), d.ContractAmount.String()))
	return d, nil
}

// SubmitEvidenceItem validates and records one evidence item for a dispute.
// The caller must be a party; items are accepted only while the on-chain
// evidence slot is still open.
func (s *DisputeService) SubmitEvidenceItem(
	ctx context.Context,
	caller common.Address,
	disputeID uint64,
	role domain.PartyRole,
	category domain.EvidenceCategory,
	content string,
) (domain.EvidenceItem, error) {
	d, err := s.machine.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.EvidenceItem{}, fmt.Errorf("dispute_service: submit evidence item: %w", err)
	}
	if !d.IsParty(caller) {
		return domain.EvidenceItem{}, domain.ErrNotParty
	}
	if d.EvidenceComplete {
		return domain.EvidenceItem{}, domain.ErrEvidenceSubmitted
	}

	item, err := s.evidence.Append(ctx, disputeID, role, category, content)
	if err != nil {
		return domain.EvidenceItem{}, fmt.Errorf("dispute_service: submit evidence item: %w", err)
	}

	s.auditLog(ctx, "evidence.item_recorded", map[string]any{
		"dispute_id":  disputeID,
		"item_id":     item.ID,
		"role":        string(role),
		"category":    string(category),
		"content_ref": item.ContentRef.Hex(),
	})
	return item, nil
}

// CompleteEvidence folds the dispute's recorded evidence into a single
// aggregate reference, submits it to the state machine, and signals the
// gateway worker that the dispute is ready for review.
func (s *DisputeService) CompleteEvidence(ctx context.Context, caller common.Address, disputeID uint64) (common.Hash, error) {
	ref := s.evidence.AggregateRef(ctx, disputeID)
	if err := s.machine.SubmitEvidence(ctx, caller, disputeID, ref); err != nil {
		return common.Hash{}, fmt.Errorf("dispute_service: complete evidence: %w", err)
	}
	s.invalidate(ctx, disputeID)

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{"dispute_id": disputeID})
		if err := s.bus.Publish(ctx, gateway.EvidenceCompleteChannel, evt); err != nil {
			s.logger.WarnContext(ctx, "dispute_service: publish evidence completion failed",
				slog.Uint64("dispute_id", disputeID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(ctx, "evidence_complete", map[string]any{
		"dispute_id":   disputeID,
		"evidence_ref": ref.Hex(),
	})
	s.auditLog(ctx, "evidence.complete", map[string]any{
		"dispute_id":   disputeID,
		"evidence_ref": ref.Hex(),
	})
	return ref, nil
}

// AppealDecision flags the dispute as appealed on behalf of caller.
func (s *DisputeService) AppealDecision(ctx context.Context, caller common.Address, disputeID uint64) error {
	if err := s.machine.AppealDecision(ctx, caller, disputeID); err != nil {
		return fmt.Errorf("dispute_service: appeal: %w", err)
	}
	s.invalidate(ctx, disputeID)

	s.publish(ctx, "dispute_appealed", map[string]any{"dispute_id": disputeID})
	s.auditLog(ctx, "dispute.appealed", map[string]any{
		"dispute_id": disputeID,
		"caller":     caller.Hex(),
	})
	s.notify(ctx, "dispute_appealed", "Decision appealed",
		fmt.Sprintf("Dispute %d was appealed; execution is blocked until the full dispute period elapses.", disputeID))
	return nil
}

// ExecuteResolution settles the dispute and records the settlement.
func (s *DisputeService) ExecuteResolution(ctx context.Context, disputeID uint64) (domain.Settlement, error) {
	settlement, err := s.machine.ExecuteResolution(ctx, disputeID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("dispute_service: execute: %w", err)
	}
	s.invalidate(ctx, disputeID)

	if s.settlements != nil {
		if err := s.settlements.Create(ctx, settlement); err != nil {
			s.logger.WarnContext(ctx, "dispute_service: settlement record failed",
				slog.Uint64("dispute_id", disputeID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, "dispute_executed", map[string]any{
		"dispute_id":    disputeID,
		"resolution":    string(settlement.Resolution),
		"artist_amount": settlement.ArtistAmount.String(),
		"venue_amount":  settlement.VenueAmount.String(),
	})
	s.auditLog(ctx, "dispute.executed", map[string]any{
		"dispute_id":  disputeID,
		"resolution":  string(settlement.Resolution),
		"total_moved": settlement.TotalMoved().String(),
	})
	s.notify(ctx, "dispute_executed", "Dispute executed",
		fmt.Sprintf("Dispute %d settled as %s: artist %s, venue %s.",
			disputeID, settlement.Resolution,
			settlement.ArtistAmount.String(), settlement.VenueAmount.String()))
	return settlement, nil
}

// GetDispute returns a dispute snapshot, served from cache when possible.
func (s *DisputeService) GetDispute(ctx context.Context, disputeID uint64) (domain.Dispute, error) {
	if s.cache != nil {
		if d, err := s.cache.Get(ctx, disputeID); err == nil {
			return d, nil
		}
	}
	d, err := s.machine.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: get: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, d); err != nil {
			s.logger.WarnContext(ctx, "dispute_service: cache set failed",
				slog.Uint64("dispute_id", disputeID),
				slog.String("error", err.Error()),
			)
		}
	}
	return d, nil
}

// EvidenceItems returns the off-chain evidence recorded for a dispute.
func (s *DisputeService) EvidenceItems(ctx context.Context, disputeID uint64) []domain.EvidenceItem {
	return s.evidence.Items(ctx, disputeID)
}

// ListByArtist returns the artist's disputes in filing order.
func (s *DisputeService) ListByArtist(ctx context.Context, artist common.Address, opts domain.ListOpts) ([]domain.Dispute, error) {
	disputes, err := s.disputes.ListByArtist(ctx, artist, opts)
	if err != nil {
		return nil, fmt.Errorf("dispute_service: list by artist: %w", err)
	}
	return disputes, nil
}

// ListByVenue returns the venue's disputes in filing order.
func (s *DisputeService) ListByVenue(ctx context.Context, venue common.Address, opts domain.ListOpts) ([]domain.Dispute, error) {
	disputes, err := s.disputes.ListByVenue(ctx, venue, opts)
	if err != nil {
		return nil, fmt.Errorf("dispute_service: list by venue: %w", err)
	}
	return disputes, nil
}

// ArtistDisputeIDs returns the artist's dispute ids in filing order.
func (s *DisputeService) ArtistDisputeIDs(ctx context.Context, artist common.Address) ([]uint64, error) {
	return s.machine.ArtistDisputes(ctx, artist)
}

// VenueDisputeIDs returns the venue's dispute ids in filing order.
func (s *DisputeService) VenueDisputeIDs(ctx context.Context, venue common.Address) ([]uint64, error) {
	return s.machine.VenueDisputes(ctx, venue)
}

// DisputeCount returns the number of disputes ever filed.
func (s *DisputeService) DisputeCount(ctx context.Context) (uint64, error) {
	return s.machine.DisputeCount(ctx)
}

// GetSettlement returns the settlement record for an executed dispute.
func (s *DisputeService) GetSettlement(ctx context.Context, disputeID uint64) (domain.Settlement, error) {
	if s.settlements == nil {
		return domain.Settlement{}, domain.ErrNotFound
	}
	settlement, err := s.settlements.GetByDispute(ctx, disputeID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("dispute_service: get settlement: %w", err)
	}
	return settlement, nil
}

// RecentSettlements returns the most recent settlements, newest first.
func (s *DisputeService) RecentSettlements(ctx context.Context, limit int) ([]domain.Settlement, error) {
	if s.settlements == nil {
		return nil, nil
	}
	settlements, err := s.settlements.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("dispute_service: recent settlements: %w", err)
	}
	return settlements, nil
}

// Pause halts all state-mutating operations.
func (s *DisputeService) Pause(ctx context.Context, caller common.Address) error {
	if err := s.machine.Pause(caller); err != nil {
		return fmt.Errorf("dispute_service: pause: %w", err)
	}
	s.auditLog(ctx, "arbitration.paused", map[string]any{"caller": caller.Hex()})
	return nil
}

// Unpause re-enables state-mutating operations.
func (s *DisputeService) Unpause(ctx context.Context, caller common.Address) error {
	if err := s.machine.Unpause(caller); err != nil {
		return fmt.Errorf("dispute_service: unpause: %w", err)
	}
	s.auditLog(ctx, "arbitration.unpaused", map[string]any{"caller": caller.Hex()})
	return nil
}

// Paused reports whether arbitration is currently paused.
func (s *DisputeService) Paused() bool {
	return s.machine.Paused()
}

func (s *DisputeService) invalidate(ctx context.Context, disputeID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, disputeID); err != nil {
		s.logger.WarnContext(ctx, "dispute_service: cache invalidate failed",
			slog.Uint64("dispute_id", disputeID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *DisputeService) publish(ctx context.Context, event string, fields map[string]any) {
	if s.bus == nil {
		return
	}
	fields["event"] = event
	fields["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	evt, _ := json.Marshal(fields)
	if err := s.bus.Publish(ctx, disputeEventsChannel, evt); err != nil {
		s.logger.WarnContext(ctx, "dispute_service: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *DisputeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "dispute_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *DisputeService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "dispute_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
