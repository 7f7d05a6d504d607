// Package arbiter implements the dispute state machine: the on-chain-facing
// contract surface that owns canonical dispute records and enforces the
// filing -> evidence -> decision -> appeal -> execution transition graph.
//
// Every operation runs as a single serialized transaction: it validates
// against a loaded snapshot, applies all field updates to the snapshot, and
// writes it back once. A failed check leaves no partial state change.
package arbiter

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

// Default time windows measured from the immutable filing timestamp.
const (
	DefaultEvidencePeriod = 5 * 24 * time.Hour
	DefaultAppealPeriod   = 2 * 24 * time.Hour
)

// Settler carries out the fund movement for a resolved dispute and reports
// the settlement. It is called outside the machine's lock so a reentrant
// call from a transfer callback observes the already-flipped execution flag
// instead of deadlocking or double-spending.
type Settler interface {
	Execute(ctx context.Context, d domain.Dispute) (domain.Settlement, error)
}

// Config holds the state machine's time windows. Zero values fall back to the
// defaults (5-day evidence window, 2-day appeal window).
type Config struct {
	EvidencePeriod time.Duration
	AppealPeriod   time.Duration
}

// StateMachine is the single owner of canonical dispute records. All
// mutating operations are serialized by an internal mutex; callers receive
// deep-copied snapshots and can never alias internal state.
type StateMachine struct {
	mu sync.Mutex

	disputes  domain.DisputeStore
	settler   Settler
	authority domain.DecisionAuthority

	evidencePeriod time.Duration
	appealPeriod   time.Duration

	paused bool

	// now is replaceable in tests to pin deadline arithmetic.
	now func() time.Time

	logger *slog.Logger
}

// New creates a StateMachine over the given store, settler, and decision
// authority capability.
func New(
	disputes domain.DisputeStore,
	settler Settler,
	authority domain.DecisionAuthority,
	cfg Config,
	logger *slog.Logger,
) *StateMachine {
	evidencePeriod := cfg.EvidencePeriod
	if evidencePeriod <= 0 {
		evidencePeriod = DefaultEvidencePeriod
	}
	appealPeriod := cfg.AppealPeriod
	if appealPeriod <= 0 {
		appealPeriod = DefaultAppealPeriod
	}
	return &StateMachine{
		disputes:       disputes,
		settler:        settler,
		authority:      authority,
		evidencePeriod: evidencePeriod,
		appealPeriod:   appealPeriod,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger.With(slog.String("component", "arbiter")),
	}
}

// SetClock replaces the time source. For tests.
func (s *StateMachine) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// EvidencePeriod returns the configured evidence window.
func (s *StateMachine) EvidencePeriod() time.Duration { return s.evidencePeriod }

// AppealPeriod returns the configured appeal window.
func (s *StateMachine) AppealPeriod() time.Duration { return s.appealPeriod }

// FileDispute records a new dispute between artist and venue. The caller must
// be one of the two parties; no funds move here.
func (s *StateMachine) FileDispute(
	ctx context.Context,
	caller, artist, venue, eventContract common.Address,
	contractAmount, depositAmount *big.Int,
) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return domain.Dispute{}, domain.ErrPaused
	}
	if caller != artist && caller != venue {
		return domain.Dispute{}, domain.ErrNotParty
	}
	zero := common.Address{}
	if artist == zero || venue == zero || eventContract == zero {
		return domain.Dispute{}, domain.ErrInvalidDispute
	}
	if contractAmount == nil || contractAmount.Sign() <= 0 {
		return domain.Dispute{}, domain.ErrInvalidDispute
	}
	if depositAmount == nil {
		depositAmount = new(big.Int)
	}
	if depositAmount.Sign() < 0 {
		return domain.Dispute{}, domain.ErrInvalidDispute
	}

	d := domain.Dispute{
		Artist:         artist,
		Venue:          venue,
		EventContract:  eventContract,
		Initiator:      caller,
		ContractAmount: new(big.Int).Set(contractAmount),
		DepositAmount:  new(big.Int).Set(depositAmount),
		ApprovedAmount: new(big.Int),
		PenaltyAmount:  new(big.Int),
		FiledAt:        s.now(),
		Status:         domain.StatusFiled,
	}

	id, err := s.disputes.Create(ctx, d)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("arbiter: create dispute: %w", err)
	}
	d.ID = id

	s.logger.InfoContext(ctx, "dispute filed",
		slog.Uint64("dispute_id", id),
		slog.String("artist", artist.Hex()),
		slog.String("venue", venue.Hex()),
		slog.String("contract_amount", contractAmount.String()),
	)
	return d, nil
}

// SubmitEvidence stores the single evidence reference for a dispute. One
// submission total is accepted per dispute, and only while the evidence
// window is open; the deadline instant itself is accepted.
func (s *StateMachine) SubmitEvidence(ctx context.Context, caller common.Address, disputeID uint64, evidenceRef common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return domain.ErrPaused
	}
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("arbiter: get dispute %d: %w", disputeID, err)
	}
	if !d.IsParty(caller) {
		return domain.ErrNotParty
	}
	if d.EvidenceComplete {
		return domain.ErrEvidenceSubmitted
	}
	if s.now().After(d.EvidenceDeadline(s.evidencePeriod)) {
		return domain.ErrEvidenceWindowClosed
	}

	d.EvidenceRef = evidenceRef
	d.EvidenceComplete = true
	d.Status = domain.StatusAIReview

	if err := s.disputes.Update(ctx, d); err != nil {
		return fmt.Errorf("arbiter: update dispute %d: %w", disputeID, err)
	}
	s.logger.InfoContext(ctx, "evidence submitted",
		slog.Uint64("dispute_id", disputeID),
		slog.String("evidence_ref", evidenceRef.Hex()),
	)
	return nil
}

// SubmitDecision records the arbitration decision. The caller must hold the
// decision authority capability; evidence must be complete; at most one
// decision is ever accepted; the approved amount is bounded by the contract
// amount.
func (s *StateMachine) SubmitDecision(
	ctx context.Context,
	caller common.Address,
	disputeID uint64,
	decisionRef common.Hash,
	approvedAmount *big.Int,
	refundsRequired bool,
	penaltyAmount *big.Int,
	resolution domain.ResolutionType,
	details string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return domain.ErrPaused
	}
	if s.authority == nil || !s.authority.IsAuthorizedToDecide(caller) {
		return domain.ErrNotAuthority
	}
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("arbiter: get dispute %d: %w", disputeID, err)
	}
	if !d.EvidenceComplete {
		return domain.ErrEvidenceIncomplete
	}
	if d.DecisionIssued {
		return domain.ErrDecisionIssued
	}
	if !resolution.Valid() {
		return domain.ErrInvalidDispute
	}
	if approvedAmount == nil {
		approvedAmount = new(big.Int)
	}
	if approvedAmount.Sign() < 0 {
		return domain.ErrInvalidDispute
	}
	if approvedAmount.Cmp(d.ContractAmount) > 0 {
		return domain.ErrAmountExceedsContract
	}
	if penaltyAmount == nil {
		penaltyAmount = new(big.Int)
	}
	if penaltyAmount.Sign() < 0 {
		return domain.ErrInvalidDispute
	}

	d.DecisionRef = decisionRef
	d.DecisionIssued = true
	d.ApprovedAmount = new(big.Int).Set(approvedAmount)
	d.PenaltyAmount = new(big.Int).Set(penaltyAmount)
	d.RefundsRequired = refundsRequired
	d.Resolution = resolution
	d.ResolutionDetails = details
	d.Status = domain.StatusResolved

	if err := s.disputes.Update(ctx, d); err != nil {
		return fmt.Errorf("arbiter: update dispute %d: %w", disputeID, err)
	}
	s.logger.InfoContext(ctx, "decision submitted",
		slog.Uint64("dispute_id", disputeID),
		slog.String("resolution", string(resolution)),
		slog.String("approved_amount", approvedAmount.String()),
	)
	return nil
}

// AppealDecision flags a dispute as appealed. The decision itself is not
// changed; an appeal only blocks early execution until the full dispute
// period has elapsed.
func (s *StateMachine) AppealDecision(ctx context.Context, caller common.Address, disputeID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return domain.ErrPaused
	}
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("arbiter: get dispute %d: %w", disputeID, err)
	}
	if !d.IsParty(caller) {
		return domain.ErrNotParty
	}
	if !d.DecisionIssued {
		return domain.ErrNoDecision
	}
	if d.Appealed {
		return domain.ErrAlreadyAppealed
	}
	if d.Executed || d.Resolved {
		return domain.ErrAlreadyResolved
	}
	if s.now().After(d.AppealDeadline(s.evidencePeriod, s.appealPeriod)) {
		return domain.ErrAppealWindowClosed
	}

	d.Appealed = true
	d.Status = domain.StatusAppealed

	if err := s.disputes.Update(ctx, d); err != nil {
		return fmt.Errorf("arbiter: update dispute %d: %w", disputeID, err)
	}
	s.logger.InfoContext(ctx, "decision appealed", slog.Uint64("dispute_id", disputeID))
	return nil
}

// ExecuteResolution settles a dispute. An unappealed decision may execute
// immediately after issuance; an appealed one must wait out the full dispute
// period. Execution happens at most once; a second call fails with
// ErrAlreadyResolved rather than silently no-opping.
//
// The execution flags flip and persist before any external transfer so a
// reentrant call during a transfer callback cannot trigger a second payout.
// If the settler fails, the flags are restored and the error is returned so
// the caller can retry once the underlying cause is fixed.
func (s *StateMachine) ExecuteResolution(ctx context.Context, disputeID uint64) (domain.Settlement, error) {
	snapshot, err := s.beginExecution(ctx, disputeID)
	if err != nil {
		return domain.Settlement{}, err
	}

	settlement, settleErr := s.settler.Execute(ctx, snapshot)

	if settleErr != nil {
		if rbErr := s.rollbackExecution(ctx, disputeID); rbErr != nil {
			return domain.Settlement{}, fmt.Errorf("arbiter: settlement failed (%v) and flag rollback failed: %w", settleErr, rbErr)
		}
		return domain.Settlement{}, fmt.Errorf("arbiter: execute dispute %d: %w", disputeID, settleErr)
	}

	if err := s.finishExecution(ctx, disputeID, settlement); err != nil {
		return domain.Settlement{}, err
	}

	s.logger.InfoContext(ctx, "resolution executed",
		slog.Uint64("dispute_id", disputeID),
		slog.String("resolution", string(settlement.Resolution)),
		slog.String("total_moved", settlement.TotalMoved().String()),
	)
	return settlement, nil
}

// beginExecution validates the timing and state guards and flips the
// execution flags under the lock, returning the snapshot to settle.
func (s *StateMachine) beginExecution(ctx context.Context, disputeID uint64) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return domain.Dispute{}, domain.ErrPaused
	}
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("arbiter: get dispute %d: %w", disputeID, err)
	}
	if !d.DecisionIssued {
		return domain.Dispute{}, domain.ErrNoDecision
	}
	if d.Resolved || d.Executed {
		return domain.Dispute{}, domain.ErrAlreadyResolved
	}

	fullPeriodElapsed := s.now().After(d.AppealDeadline(s.evidencePeriod, s.appealPeriod))
	if !fullPeriodElapsed && d.Appealed {
		return domain.Dispute{}, domain.ErrExecutionNotReady
	}

	snapshot := d.Clone()

	d.Resolved = true
	d.Executed = true
	d.Status = domain.StatusExecuted
	if err := s.disputes.Update(ctx, d); err != nil {
		return domain.Dispute{}, fmt.Errorf("arbiter: update dispute %d: %w", disputeID, err)
	}
	return snapshot, nil
}

// rollbackExecution restores the execution flags after a settlement failure
// so the dispute can be retried.
func (s *StateMachine) rollbackExecution(ctx context.Context, disputeID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("arbiter: get dispute %d: %w", disputeID, err)
	}
	d.Resolved = false
	d.Executed = false
	if d.Appealed {
		d.Status = domain.StatusAppealed
	} else {
		d.Status = domain.StatusResolved
	}
	if err := s.disputes.Update(ctx, d); err != nil {
		return fmt.Errorf("arbiter: update dispute %d: %w", disputeID, err)
	}
	return nil
}

// finishExecution records refund completion after a successful settlement.
func (s *StateMachine) finishExecution(ctx context.Context, disputeID uint64, settlement domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("arbiter: get dispute %d: %w", disputeID, err)
	}
	if settlement.TicketsRefunded > 0 {
		d.RefundsProcessed = true
	}
	if err := s.disputes.Update(ctx, d); err != nil {
		return fmt.Errorf("arbiter: update dispute %d: %w", disputeID, err)
	}
	return nil
}

// GetDispute returns a snapshot of the dispute record.
func (s *StateMachine) GetDispute(ctx context.Context, disputeID uint64) (domain.Dispute, error) {
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("arbiter: get dispute %d: %w", disputeID, err)
	}
	return d, nil
}

// ArtistDisputes returns the ids of all disputes filed with addr as artist,
// in filing order.
func (s *StateMachine) ArtistDisputes(ctx context.Context, addr common.Address) ([]uint64, error) {
	ids, err := s.disputes.ArtistDisputeIDs(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("arbiter: artist disputes: %w", err)
	}
	return ids, nil
}

// VenueDisputes returns the ids of all disputes filed with addr as venue,
// in filing order.
func (s *StateMachine) VenueDisputes(ctx context.Context, addr common.Address) ([]uint64, error) {
	ids, err := s.disputes.VenueDisputeIDs(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("arbiter: venue disputes: %w", err)
	}
	return ids, nil
}

// DisputeCount returns the number of disputes ever filed.
func (s *StateMachine) DisputeCount(ctx context.Context) (uint64, error) {
	n, err := s.disputes.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("arbiter: dispute count: %w", err)
	}
	return n, nil
}

// Pause rejects all state-mutating operations until Unpause. Only the
// decision authority may pause.
func (s *StateMachine) Pause(caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authority == nil || !s.authority.IsAuthorizedToDecide(caller) {
		return domain.ErrNotAuthority
	}
	s.paused = true
	s.logger.Info("arbitration paused", slog.String("caller", caller.Hex()))
	return nil
}

// Unpause re-enables state-mutating operations.
func (s *StateMachine) Unpause(caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authority == nil || !s.authority.IsAuthorizedToDecide(caller) {
		return domain.ErrNotAuthority
	}
	s.paused = false
	s.logger.Info("arbitration unpaused", slog.String("caller", caller.Hex()))
	return nil
}

// Paused reports whether state-mutating operations are currently rejected.
func (s *StateMachine) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}
