package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/arbiter"
	"github.com/encorelabs/arbiterd/internal/domain"
	"github.com/encorelabs/arbiterd/internal/store/memory"
	"github.com/encorelabs/arbiterd/internal/token"
)

var (
	artist   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	venue    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	escrow   = common.HexToAddress("0xeeee000000000000000000000000000000000001")
	treasury = common.HexToAddress("0xeeee000000000000000000000000000000000002")
	eventC   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	arbAddr  = common.HexToAddress("0x4444444444444444444444444444444444444444")
	holder1  = common.HexToAddress("0x6666000000000000000000000000000000000001")
	holder2  = common.HexToAddress("0x6666000000000000000000000000000000000002")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSplit(t *testing.T) {
	contract := big.NewInt(1000)

	tests := []struct {
		name       string
		resolution domain.ResolutionType
		approved   *big.Int
		wantArtist int64
		wantVenue  int64
	}{
		{"full artist payment", domain.ResolutionFullArtistPayment, big.NewInt(0), 1000, 0},
		{"full venue refund", domain.ResolutionFullVenueRefund, big.NewInt(0), 0, 1000},
		{"partial half", domain.ResolutionPartialPayment, big.NewInt(500), 500, 500},
		{"partial uneven", domain.ResolutionPartialPayment, big.NewInt(333), 333, 667},
		{"partial zero approved", domain.ResolutionPartialPayment, big.NewInt(0), 0, 1000},
		{"partial full approved", domain.ResolutionPartialPayment, big.NewInt(1000), 1000, 0},
		{"penalty applied", domain.ResolutionPenaltyApplied, big.NewInt(500), 0, 0},
		{"ticket refunds", domain.ResolutionTicketRefunds, big.NewInt(500), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotArtist, gotVenue := Split(tt.resolution, contract, tt.approved)
			if gotArtist.Int64() != tt.wantArtist || gotVenue.Int64() != tt.wantVenue {
				t.Fatalf("Split() = (%s, %s), want (%d, %d)",
					gotArtist, gotVenue, tt.wantArtist, tt.wantVenue)
			}
			// The two legs of a partial payment always account for the full
			// contract amount.
			if tt.resolution == domain.ResolutionPartialPayment {
				sum := new(big.Int).Add(gotArtist, gotVenue)
				if sum.Cmp(contract) != 0 {
					t.Fatalf("partial legs sum to %s, want %s", sum, contract)
				}
			}
		})
	}
}

func resolvedDispute(resolution domain.ResolutionType, contract, approved, penalty int64) domain.Dispute {
	return domain.Dispute{
		ID:             1,
		Artist:         artist,
		Venue:          venue,
		EventContract:  eventC,
		ContractAmount: big.NewInt(contract),
		ApprovedAmount: big.NewInt(approved),
		PenaltyAmount:  big.NewInt(penalty),
		Resolution:     resolution,
		DecisionIssued: true,
	}
}

func TestExecutePartialPayment(t *testing.T) {
	bank := token.NewBank(escrow)
	bank.Mint(escrow, big.NewInt(1000))
	e := NewExecutor(bank, nil, treasury, testLogger())

	s, err := e.Execute(context.Background(), resolvedDispute(domain.ResolutionPartialPayment, 1000, 400, 0))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if s.ArtistAmount.Int64() != 400 || s.VenueAmount.Int64() != 600 {
		t.Fatalf("settlement split = (%s, %s), want (400, 600)", s.ArtistAmount, s.VenueAmount)
	}

	ctx := context.Background()
	artistBal, _ := bank.BalanceOf(ctx, artist)
	venueBal, _ := bank.BalanceOf(ctx, venue)
	escrowBal, _ := bank.BalanceOf(ctx, escrow)
	if artistBal.Int64() != 400 || venueBal.Int64() != 600 || escrowBal.Int64() != 0 {
		t.Fatalf("balances = artist %s, venue %s, escrow %s; want 400, 600, 0",
			artistBal, venueBal, escrowBal)
	}
}

func TestExecutePenaltyRoutesToTreasury(t *testing.T) {
	bank := token.NewBank(escrow)
	bank.Mint(escrow, big.NewInt(100))
	e := NewExecutor(bank, nil, treasury, testLogger())

	s, err := e.Execute(context.Background(), resolvedDispute(domain.ResolutionPenaltyApplied, 1000, 0, 75))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if s.PenaltyAmount.Int64() != 75 {
		t.Fatalf("settlement penalty = %s, want 75", s.PenaltyAmount)
	}
	treasuryBal, _ := bank.BalanceOf(context.Background(), treasury)
	if treasuryBal.Int64() != 75 {
		t.Fatalf("treasury balance = %s, want 75", treasuryBal)
	}
}

func TestExecuteTransferFailureAborts(t *testing.T) {
	bank := token.NewBank(escrow)
	bank.Mint(escrow, big.NewInt(10)) // not enough for the artist leg
	e := NewExecutor(bank, nil, treasury, testLogger())

	_, err := e.Execute(context.Background(), resolvedDispute(domain.ResolutionFullArtistPayment, 1000, 0, 0))
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Execute() error = %v, want %v", err, domain.ErrTransferFailed)
	}
}

func TestRefundBatch(t *testing.T) {
	ctx := context.Background()
	bank := token.NewBank(escrow)
	bank.Mint(escrow, big.NewInt(1000))
	registry := token.NewRegistry()
	registry.IssueTicket(1, holder1, big.NewInt(50))
	registry.IssueTicket(2, holder2, big.NewInt(70))
	e := NewExecutor(bank, registry, treasury, testLogger())
	e.RegisterRefundBatch(1, []uint64{1, 2})

	// Each ticket must be marked refunded before its transfer lands.
	bank.SetTransferHook(func(ctx context.Context, to common.Address, _ *big.Int) {
		var ticketID uint64
		switch to {
		case holder1:
			ticketID = 1
		case holder2:
			ticketID = 2
		default:
			return
		}
		done, err := registry.IsTicketRefunded(ctx, ticketID)
		if err != nil || !done {
			t.Errorf("ticket %d not marked refunded before transfer (done=%v, err=%v)", ticketID, done, err)
		}
	})

	s, err := e.Execute(ctx, resolvedDispute(domain.ResolutionTicketRefunds, 1000, 0, 0))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if s.TicketsRefunded != 2 {
		t.Fatalf("TicketsRefunded = %d, want 2", s.TicketsRefunded)
	}

	h1, _ := bank.BalanceOf(ctx, holder1)
	h2, _ := bank.BalanceOf(ctx, holder2)
	if h1.Int64() != 50 || h2.Int64() != 70 {
		t.Fatalf("holder balances = (%s, %s), want (50, 70)", h1, h2)
	}
}

func TestRefundBatchAlreadyRefundedFailsHard(t *testing.T) {
	ctx := context.Background()
	bank := token.NewBank(escrow)
	bank.Mint(escrow, big.NewInt(1000))
	registry := token.NewRegistry()
	registry.IssueTicket(1, holder1, big.NewInt(50))
	registry.IssueTicket(2, holder2, big.NewInt(70))
	registry.IssueTicket(3, holder1, big.NewInt(90))
	if err := registry.MarkRefunded(ctx, 2); err != nil {
		t.Fatalf("MarkRefunded() error = %v", err)
	}

	e := NewExecutor(bank, registry, treasury, testLogger())
	e.RegisterRefundBatch(1, []uint64{1, 2, 3})

	_, err := e.Execute(ctx, resolvedDispute(domain.ResolutionTicketRefunds, 1000, 0, 0))
	if !errors.Is(err, domain.ErrTicketRefunded) {
		t.Fatalf("Execute() error = %v, want %v", err, domain.ErrTicketRefunded)
	}

	// Batch stopped at ticket 2: ticket 1 was refunded, ticket 3 untouched.
	h1, _ := bank.BalanceOf(ctx, holder1)
	if h1.Int64() != 50 {
		t.Fatalf("holder1 balance = %s, want 50 (ticket 3 must not be refunded)", h1)
	}
	done, _ := registry.IsTicketRefunded(ctx, 3)
	if done {
		t.Fatal("ticket 3 refunded after batch failure, want untouched")
	}
}

// TestReentrantExecutionBlocked drives a recipient callback that re-enters
// ExecuteResolution mid-settlement. The execution flags flip before any
// transfer, so the nested call must fail and no second payout can occur.
func TestReentrantExecutionBlocked(t *testing.T) {
	ctx := context.Background()
	bank := token.NewBank(escrow)
	bank.Mint(escrow, big.NewInt(2000))
	e := NewExecutor(bank, nil, treasury, testLogger())

	machine := arbiter.New(memory.NewDisputeStore(), e, singleAuthority{arbAddr}, arbiter.Config{}, testLogger())

	d, err := machine.FileDispute(ctx, artist, artist, venue, eventC, big.NewInt(1000), big.NewInt(0))
	if err != nil {
		t.Fatalf("FileDispute() error = %v", err)
	}
	if err := machine.SubmitEvidence(ctx, artist, d.ID, common.HexToHash("0x01")); err != nil {
		t.Fatalf("SubmitEvidence() error = %v", err)
	}
	if err := machine.SubmitDecision(ctx, arbAddr, d.ID, common.HexToHash("0x02"),
		big.NewInt(1000), false, big.NewInt(0), domain.ResolutionFullArtistPayment, ""); err != nil {
		t.Fatalf("SubmitDecision() error = %v", err)
	}

	var nestedErr error
	nested := false
	bank.SetTransferHook(func(ctx context.Context, _ common.Address, _ *big.Int) {
		if nested {
			return
		}
		nested = true
		_, nestedErr = machine.ExecuteResolution(ctx, d.ID)
	})

	if _, err := machine.ExecuteResolution(ctx, d.ID); err != nil {
		t.Fatalf("ExecuteResolution() error = %v", err)
	}
	if !nested {
		t.Fatal("transfer hook never ran")
	}
	if !errors.Is(nestedErr, domain.ErrAlreadyResolved) {
		t.Fatalf("reentrant ExecuteResolution() error = %v, want %v", nestedErr, domain.ErrAlreadyResolved)
	}

	// Exactly one payout happened.
	artistBal, _ := bank.BalanceOf(ctx, artist)
	if artistBal.Int64() != 1000 {
		t.Fatalf("artist balance = %s, want 1000", artistBal)
	}
}

type singleAuthority struct {
	addr common.Address
}

func (a singleAuthority) IsAuthorizedToDecide(addr common.Address) bool {
	return addr == a.addr
}
