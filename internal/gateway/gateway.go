// Package gateway bridges the off-chain decision engine to the dispute state
// machine. It verifies the authority role before doing any work, assembles
// evidence and contract terms, runs the engine, and makes the single
// synchronous decision submission.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/crypto"
	"github.com/encorelabs/arbiterd/internal/decision"
	"github.com/encorelabs/arbiterd/internal/domain"
	"github.com/encorelabs/arbiterd/internal/ledger"
)

// lockTTL bounds how long a per-dispute decision lock is held.
const lockTTL = 30 * time.Second

// DisputeContract is the slice of the state machine the gateway drives.
type DisputeContract interface {
	GetDispute(ctx context.Context, disputeID uint64) (domain.Dispute, error)
	SubmitDecision(
		ctx context.Context,
		caller common.Address,
		disputeID uint64,
		decisionRef common.Hash,
		approvedAmount *big.Int,
		refundsRequired bool,
		penaltyAmount *big.Int,
		resolution domain.ResolutionType,
		details string,
	) error
}

// TermsProvider supplies the contract terms the engine scores against.
type TermsProvider interface {
	Terms(ctx context.Context, d domain.Dispute, evidence []domain.EvidenceItem) (domain.ContractTerms, error)
}

// DisputeTerms derives terms from the dispute record alone: the contract
// amount with no compliance scores, so the payment fraction rests on audience
// feedback. Deployments with richer contract data substitute their own
// provider.
type DisputeTerms struct{}

// Terms implements TermsProvider.
func (DisputeTerms) Terms(_ context.Context, d domain.Dispute, _ []domain.EvidenceItem) (domain.ContractTerms, error) {
	return domain.ContractTerms{Amount: d.ContractAmount}, nil
}

// Summary is the caller-facing result of a handled dispute.
type Summary struct {
	DisputeID  uint64                `json:"dispute_id"`
	Resolution domain.ResolutionType `json:"resolution"`
	Rationale  string                `json:"rationale"`
	Confidence float64               `json:"confidence"`
	Signature  string                `json:"signature,omitempty"`
}

// Gateway orchestrates decision issuance for disputes whose evidence is
// complete.
type Gateway struct {
	contract  DisputeContract
	engine    *decision.Engine
	evidence  *ledger.Ledger
	terms     TermsProvider
	authority domain.DecisionAuthority
	signer    *crypto.AuthoritySigner
	locks     domain.LockManager // optional
	logger    *slog.Logger
}

// New creates a Gateway. locks may be nil when only one gateway instance
// runs; terms may be nil to use DisputeTerms.
func New(
	contract DisputeContract,
	engine *decision.Engine,
	evidence *ledger.Ledger,
	terms TermsProvider,
	authority domain.DecisionAuthority,
	signer *crypto.AuthoritySigner,
	locks domain.LockManager,
	logger *slog.Logger,
) *Gateway {
	if terms == nil {
		terms = DisputeTerms{}
	}
	return &Gateway{
		contract:  contract,
		engine:    engine,
		evidence:  evidence,
		terms:     terms,
		authority: authority,
		signer:    signer,
		locks:     locks,
		logger:    logger.With(slog.String("component", "gateway")),
	}
}

// VerifyAuthority confirms target holds the decision-submission role.
func (g *Gateway) VerifyAuthority(target common.Address) error {
	if g.authority == nil || !g.authority.IsAuthorizedToDecide(target) {
		return domain.ErrNotAuthority
	}
	return nil
}

// HandleDispute runs the full decision flow for one dispute: authority
// check, per-dispute lock, evidence assembly, engine invocation, and the
// single submission into the state machine. Any step failing aborts the call;
// the state machine's own atomicity covers its part.
func (g *Gateway) HandleDispute(ctx context.Context, disputeID uint64) (Summary, error) {
	caller := g.callerAddress()
	if err := g.VerifyAuthority(caller); err != nil {
		return Summary{}, err
	}

	if g.locks != nil {
		unlock, err := g.locks.Acquire(ctx, fmt.Sprintf("arbiter:decision:%d", disputeID), lockTTL)
		if err != nil {
			return Summary{}, fmt.Errorf("gateway: lock dispute %d: %w", disputeID, err)
		}
		defer unlock()
	}

	d, err := g.contract.GetDispute(ctx, disputeID)
	if err != nil {
		return Summary{}, fmt.Errorf("gateway: fetch dispute %d: %w", disputeID, err)
	}
	if !d.EvidenceComplete {
		return Summary{}, domain.ErrEvidenceIncomplete
	}
	if d.DecisionIssued {
		return Summary{}, domain.ErrDecisionIssued
	}

	items := g.evidence.Items(ctx, disputeID)
	terms, err := g.terms.Terms(ctx, d, items)
	if err != nil {
		return Summary{}, fmt.Errorf("gateway: contract terms for dispute %d: %w", disputeID, err)
	}

	result, err := g.engine.Decide(ctx, disputeID, terms, items)
	if err != nil {
		return Summary{}, fmt.Errorf("gateway: decide dispute %d: %w", disputeID, err)
	}

	summary := Summary{
		DisputeID:  disputeID,
		Resolution: result.Resolution,
		Rationale:  result.Rationale,
		Confidence: result.Confidence,
	}
	if g.signer != nil {
		sig, err := g.signer.SignDecision(crypto.DecisionPayload{
			DisputeID:       disputeID,
			DecisionRef:     result.RationaleHash,
			ApprovedAmount:  result.ApprovedAmount,
			PenaltyAmount:   result.PenaltyAmount,
			RefundsRequired: result.RefundsRequired,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("gateway: sign decision for dispute %d: %w", disputeID, err)
		}
		summary.Signature = sig
	}

	err = g.contract.SubmitDecision(
		ctx, caller, disputeID,
		result.RationaleHash,
		result.ApprovedAmount,
		result.RefundsRequired,
		result.PenaltyAmount,
		result.Resolution,
		result.Rationale,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("gateway: submit decision for dispute %d: %w", disputeID, err)
	}

	g.logger.InfoContext(ctx, "dispute decided",
		slog.Uint64("dispute_id", disputeID),
		slog.String("resolution", string(result.Resolution)),
		slog.Float64("confidence", result.Confidence),
	)
	return summary, nil
}

func (g *Gateway) callerAddress() common.Address {
	if g.signer != nil {
		return g.signer.Address()
	}
	return common.Address{}
}
