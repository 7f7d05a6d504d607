package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ContractTerms carries the event-contract facts the decision engine scores
// against. The compliance scores are nullable: a nil score is excluded from
// the weighted average rather than treated as zero.
type ContractTerms struct {
	Amount                *big.Int
	TimeCompliance        *float64 // [0,1], nil when unknown
	TechnicalRequirements *float64 // [0,1], nil when unknown
	ViolationCount        int
}

// PerformanceMetrics are the scored inputs to the payment-fraction formula.
type PerformanceMetrics struct {
	TimeCompliance        *float64
	TechnicalRequirements *float64
	AudienceFeedback      *float64
}

// ArbitrationResult is the structured output of the decision engine for one
// dispute. It is deterministic for identical evidence and contract terms once
// the sentiment and summarization sub-calls resolve to their fallback values.
type ArbitrationResult struct {
	DisputeID       uint64
	Resolution      ResolutionType
	ApprovedAmount  *big.Int
	PenaltyAmount   *big.Int
	RefundsRequired bool

	ArtistFraction      float64
	VenueRefundFraction float64
	Metrics             PerformanceMetrics

	Rationale     string
	RationaleHash common.Hash
	Confidence    float64
}
