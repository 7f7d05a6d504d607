package arbiter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/domain"
	"github.com/encorelabs/arbiterd/internal/store/memory"
)

var (
	artist    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	venue     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	eventAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
	arbAddr   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	outsider  = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

// stubSettler lets tests control the settlement outcome.
type stubSettler struct {
	fn    func(ctx context.Context, d domain.Dispute) (domain.Settlement, error)
	calls int
}

func (s *stubSettler) Execute(ctx context.Context, d domain.Dispute) (domain.Settlement, error) {
	s.calls++
	if s.fn != nil {
		return s.fn(ctx, d)
	}
	return domain.Settlement{
		DisputeID:     d.ID,
		Resolution:    d.Resolution,
		ArtistAmount:  new(big.Int),
		VenueAmount:   new(big.Int),
		PenaltyAmount: new(big.Int),
	}, nil
}

// singleAuthority authorizes exactly one address.
type singleAuthority struct {
	addr common.Address
}

func (a singleAuthority) IsAuthorizedToDecide(addr common.Address) bool {
	return addr == a.addr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMachine(t *testing.T, settler Settler) (*StateMachine, func(time.Time)) {
	t.Helper()
	if settler == nil {
		settler = &stubSettler{}
	}
	m := New(memory.NewDisputeStore(), settler, singleAuthority{addr: arbAddr}, Config{}, testLogger())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := &now
	m.SetClock(func() time.Time { return *current })
	return m, func(t time.Time) { *current = t }
}

func fileTestDispute(t *testing.T, m *StateMachine, contractAmount int64) domain.Dispute {
	t.Helper()
	d, err := m.FileDispute(context.Background(), artist, artist, venue, eventAddr,
		big.NewInt(contractAmount), big.NewInt(0))
	if err != nil {
		t.Fatalf("FileDispute() error = %v", err)
	}
	return d
}

func TestFileDisputeValidation(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  common.Address
		artist  common.Address
		venue   common.Address
		event   common.Address
		amount  *big.Int
		deposit *big.Int
		wantErr error
	}{
		{"caller not a party", outsider, artist, venue, eventAddr, big.NewInt(100), big.NewInt(0), domain.ErrNotParty},
		{"zero artist", venue, common.Address{}, venue, eventAddr, big.NewInt(100), big.NewInt(0), domain.ErrInvalidDispute},
		{"zero event contract", artist, artist, venue, common.Address{}, big.NewInt(100), big.NewInt(0), domain.ErrInvalidDispute},
		{"nil amount", artist, artist, venue, eventAddr, nil, big.NewInt(0), domain.ErrInvalidDispute},
		{"zero amount", artist, artist, venue, eventAddr, big.NewInt(0), big.NewInt(0), domain.ErrInvalidDispute},
		{"negative deposit", artist, artist, venue, eventAddr, big.NewInt(100), big.NewInt(-1), domain.ErrInvalidDispute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.FileDispute(ctx, tt.caller, tt.artist, tt.venue, tt.event, tt.amount, tt.deposit)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FileDispute() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	d := fileTestDispute(t, m, 1000)
	if d.ID != 1 {
		t.Fatalf("first dispute id = %d, want 1", d.ID)
	}
	if d.Status != domain.StatusFiled {
		t.Fatalf("status = %q, want %q", d.Status, domain.StatusFiled)
	}
	d2 := fileTestDispute(t, m, 1000)
	if d2.ID != d.ID+1 {
		t.Fatalf("second dispute id = %d, want %d", d2.ID, d.ID+1)
	}
}

func TestSubmitEvidenceSingleSubmission(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()
	d := fileTestDispute(t, m, 1000)

	ref := common.HexToHash("0xabc1")
	if err := m.SubmitEvidence(ctx, venue, d.ID, ref); err != nil {
		t.Fatalf("SubmitEvidence() error = %v", err)
	}

	got, err := m.GetDispute(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDispute() error = %v", err)
	}
	if !got.EvidenceComplete || got.EvidenceRef != ref {
		t.Fatalf("evidence not recorded: complete=%v ref=%s", got.EvidenceComplete, got.EvidenceRef.Hex())
	}
	if got.Status != domain.StatusAIReview {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusAIReview)
	}

	// Second submission is rejected even from the other party.
	err = m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0xabc2"))
	if !errors.Is(err, domain.ErrEvidenceSubmitted) {
		t.Fatalf("second SubmitEvidence() error = %v, want %v", err, domain.ErrEvidenceSubmitted)
	}

	if err := m.SubmitEvidence(ctx, outsider, d.ID+100, ref); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SubmitEvidence(unknown id) error = %v, want %v", err, domain.ErrNotFound)
	}
}

func TestSubmitEvidenceDeadlineInclusive(t *testing.T) {
	m, setNow := newTestMachine(t, nil)
	ctx := context.Background()
	d := fileTestDispute(t, m, 1000)

	// Exactly at the deadline: accepted.
	setNow(d.FiledAt.Add(DefaultEvidencePeriod))
	if err := m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SubmitEvidence() at deadline error = %v, want nil", err)
	}

	// One second past the deadline: rejected.
	d2 := fileTestDispute(t, m, 1000)
	setNow(d2.FiledAt.Add(DefaultEvidencePeriod + time.Second))
	err := m.SubmitEvidence(ctx, artist, d2.ID, common.HexToHash("0x02"))
	if !errors.Is(err, domain.ErrEvidenceWindowClosed) {
		t.Fatalf("SubmitEvidence() past deadline error = %v, want %v", err, domain.ErrEvidenceWindowClosed)
	}
}

func submitTestDecision(t *testing.T, m *StateMachine, disputeID uint64, approved int64, resolution domain.ResolutionType) {
	t.Helper()
	err := m.SubmitDecision(context.Background(), arbAddr, disputeID, common.HexToHash("0xdec"),
		big.NewInt(approved), false, big.NewInt(0), resolution, "test decision")
	if err != nil {
		t.Fatalf("SubmitDecision() error = %v", err)
	}
}

func TestSubmitDecisionGuards(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()
	d := fileTestDispute(t, m, 1000)

	// Evidence not yet complete.
	err := m.SubmitDecision(ctx, arbAddr, d.ID, common.Hash{}, big.NewInt(0), false, big.NewInt(0), domain.ResolutionPenaltyApplied, "")
	if !errors.Is(err, domain.ErrEvidenceIncomplete) {
		t.Fatalf("SubmitDecision() before evidence error = %v, want %v", err, domain.ErrEvidenceIncomplete)
	}

	if err := m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SubmitEvidence() error = %v", err)
	}

	// Unauthorized caller.
	err = m.SubmitDecision(ctx, artist, d.ID, common.Hash{}, big.NewInt(0), false, big.NewInt(0), domain.ResolutionPenaltyApplied, "")
	if !errors.Is(err, domain.ErrNotAuthority) {
		t.Fatalf("SubmitDecision() unauthorized error = %v, want %v", err, domain.ErrNotAuthority)
	}

	// Approved amount above the contract amount.
	err = m.SubmitDecision(ctx, arbAddr, d.ID, common.Hash{}, big.NewInt(1001), false, big.NewInt(0), domain.ResolutionPartialPayment, "")
	if !errors.Is(err, domain.ErrAmountExceedsContract) {
		t.Fatalf("SubmitDecision() over-contract error = %v, want %v", err, domain.ErrAmountExceedsContract)
	}

	// Unknown resolution category.
	err = m.SubmitDecision(ctx, arbAddr, d.ID, common.Hash{}, big.NewInt(0), false, big.NewInt(0), domain.ResolutionType("bogus"), "")
	if !errors.Is(err, domain.ErrInvalidDispute) {
		t.Fatalf("SubmitDecision() invalid resolution error = %v, want %v", err, domain.ErrInvalidDispute)
	}

	// Equal to the contract amount is allowed.
	submitTestDecision(t, m, d.ID, 1000, domain.ResolutionPartialPayment)

	// Only one decision ever.
	err = m.SubmitDecision(ctx, arbAddr, d.ID, common.Hash{}, big.NewInt(500), false, big.NewInt(0), domain.ResolutionPartialPayment, "")
	if !errors.Is(err, domain.ErrDecisionIssued) {
		t.Fatalf("second SubmitDecision() error = %v, want %v", err, domain.ErrDecisionIssued)
	}
}

func TestAppealDecision(t *testing.T) {
	m, setNow := newTestMachine(t, nil)
	ctx := context.Background()
	d := fileTestDispute(t, m, 1000)

	// No decision yet.
	if err := m.AppealDecision(ctx, venue, d.ID); !errors.Is(err, domain.ErrNoDecision) {
		t.Fatalf("AppealDecision() before decision error = %v, want %v", err, domain.ErrNoDecision)
	}

	if err := m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SubmitEvidence() error = %v", err)
	}
	submitTestDecision(t, m, d.ID, 400, domain.ResolutionPartialPayment)

	// Non-party cannot appeal.
	if err := m.AppealDecision(ctx, outsider, d.ID); !errors.Is(err, domain.ErrNotParty) {
		t.Fatalf("AppealDecision() outsider error = %v, want %v", err, domain.ErrNotParty)
	}

	// Appeal deadline is inclusive.
	setNow(d.FiledAt.Add(DefaultEvidencePeriod + DefaultAppealPeriod))
	if err := m.AppealDecision(ctx, venue, d.ID); err != nil {
		t.Fatalf("AppealDecision() at deadline error = %v", err)
	}
	if err := m.AppealDecision(ctx, venue, d.ID); !errors.Is(err, domain.ErrAlreadyAppealed) {
		t.Fatalf("second AppealDecision() error = %v, want %v", err, domain.ErrAlreadyAppealed)
	}

	// Past the deadline on a fresh dispute.
	d2 := fileTestDispute(t, m, 1000)
	if err := m.SubmitEvidence(ctx, artist, d2.ID, common.HexToHash("0x02")); err != nil {
		t.Fatalf("SubmitEvidence() error = %v", err)
	}
	submitTestDecision(t, m, d2.ID, 0, domain.ResolutionFullVenueRefund)
	setNow(d2.FiledAt.Add(DefaultEvidencePeriod + DefaultAppealPeriod + time.Second))
	if err := m.AppealDecision(ctx, artist, d2.ID); !errors.Is(err, domain.ErrAppealWindowClosed) {
		t.Fatalf("AppealDecision() past deadline error = %v, want %v", err, domain.ErrAppealWindowClosed)
	}
}

func TestExecuteUnappealedRunsImmediately(t *testing.T) {
	settler := &stubSettler{}
	m, _ := newTestMachine(t, settler)
	ctx := context.Background()
	d := fileTestDispute(t, m, 1000)

	if err := m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SubmitEvidence() error = %v", err)
	}
	submitTestDecision(t, m, d.ID, 1000, domain.ResolutionFullArtistPayment)

	// Clock still inside the appeal window; no appeal filed, so execution
	// proceeds immediately.
	if _, err := m.ExecuteResolution(ctx, d.ID); err != nil {
		t.Fatalf("ExecuteResolution() error = %v", err)
	}
	if settler.calls != 1 {
		t.Fatalf("settler calls = %d, want 1", settler.calls)
	}

	got, _ := m.GetDispute(ctx, d.ID)
	if !got.Executed || !got.Resolved || got.Status != domain.StatusExecuted {
		t.Fatalf("post-execution flags: executed=%v resolved=%v status=%q", got.Executed, got.Resolved, got.Status)
	}

	// Double execution is an error, not a no-op, and moves no funds.
	if _, err := m.ExecuteResolution(ctx, d.ID); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second ExecuteResolution() error = %v, want %v", err, domain.ErrAlreadyResolved)
	}
	if settler.calls != 1 {
		t.Fatalf("settler calls after retry = %d, want 1", settler.calls)
	}
}

func TestExecuteAppealedWaitsFullPeriod(t *testing.T) {
	settler := &stubSettler{}
	m, setNow := newTestMachine(t, settler)
	ctx := context.Background()
	d := fileTestDispute(t, m, 1000)

	if err := m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SubmitEvidence() error = %v", err)
	}
	submitTestDecision(t, m, d.ID, 400, domain.ResolutionPartialPayment)
	if err := m.AppealDecision(ctx, venue, d.ID); err != nil {
		t.Fatalf("AppealDecision() error = %v", err)
	}

	if _, err := m.ExecuteResolution(ctx, d.ID); !errors.Is(err, domain.ErrExecutionNotReady) {
		t.Fatalf("ExecuteResolution() inside window error = %v, want %v", err, domain.ErrExecutionNotReady)
	}
	if settler.calls != 0 {
		t.Fatalf("settler calls = %d, want 0", settler.calls)
	}

	setNow(d.FiledAt.Add(DefaultEvidencePeriod + DefaultAppealPeriod + time.Second))
	if _, err := m.ExecuteResolution(ctx, d.ID); err != nil {
		t.Fatalf("ExecuteResolution() after full period error = %v", err)
	}
}

func TestExecuteRollbackOnSettlementFailure(t *testing.T) {
	fail := true
	settler := &stubSettler{
		fn: func(_ context.Context, d domain.Dispute) (domain.Settlement, error) {
			if fail {
				return domain.Settlement{}, errors.New("escrow dry")
			}
			return domain.Settlement{DisputeID: d.ID, Resolution: d.Resolution,
				ArtistAmount: new(big.Int), VenueAmount: new(big.Int), PenaltyAmount: new(big.Int)}, nil
		},
	}
	m, _ := newTestMachine(t, settler)
	ctx := context.Background()
	d := fileTestDispute(t, m, 1000)

	if err := m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SubmitEvidence() error = %v", err)
	}
	submitTestDecision(t, m, d.ID, 0, domain.ResolutionFullVenueRefund)

	if _, err := m.ExecuteResolution(ctx, d.ID); err == nil {
		t.Fatal("ExecuteResolution() error = nil, want settlement failure")
	}

	// Flags restored so the dispute can be retried.
	got, _ := m.GetDispute(ctx, d.ID)
	if got.Executed || got.Resolved {
		t.Fatalf("flags not rolled back: executed=%v resolved=%v", got.Executed, got.Resolved)
	}
	if got.Status != domain.StatusResolved {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusResolved)
	}

	fail = false
	if _, err := m.ExecuteResolution(ctx, d.ID); err != nil {
		t.Fatalf("retry ExecuteResolution() error = %v", err)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()
	d := fileTestDispute(t, m, 1000)

	if err := m.Pause(artist); !errors.Is(err, domain.ErrNotAuthority) {
		t.Fatalf("Pause() by non-authority error = %v, want %v", err, domain.ErrNotAuthority)
	}
	if err := m.Pause(arbAddr); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if !m.Paused() {
		t.Fatal("Paused() = false after Pause")
	}

	if _, err := m.FileDispute(ctx, artist, artist, venue, eventAddr, big.NewInt(1), big.NewInt(0)); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("FileDispute() while paused error = %v, want %v", err, domain.ErrPaused)
	}
	if err := m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("SubmitEvidence() while paused error = %v, want %v", err, domain.ErrPaused)
	}

	if err := m.Unpause(arbAddr); err != nil {
		t.Fatalf("Unpause() error = %v", err)
	}
	if err := m.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SubmitEvidence() after unpause error = %v", err)
	}
}
