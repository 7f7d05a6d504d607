// Package decision turns accumulated evidence and contract terms into a
// structured arbitration result. The pipeline is deterministic: the only
// external calls are sentiment scoring and rationale summarization, both
// isolated behind timeouts with documented fallback values.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// Metric weights for the artist-payment fraction.
const (
	WeightTimeCompliance = 0.4
	WeightTechnical      = 0.3
	WeightFeedback       = 0.3
)

const (
	// DefaultFeedbackScore applies when no performance evidence exists:
	// assume positive absent contrary evidence.
	DefaultFeedbackScore = 0.8
	// NeutralFeedbackScore applies when sentiment scoring fails.
	NeutralFeedbackScore = 0.5

	// FallbackRationale substitutes for a failed summarization call.
	FallbackRationale = "Automated arbitration decision based on submitted evidence, contract compliance scores, and audience feedback."

	// DefaultConfidence is the fixed confidence of the reference pipeline.
	DefaultConfidence = 0.85

	// venueRefundOnViolation is the venue refund fraction applied when any
	// contract violation is recorded.
	venueRefundOnViolation = 0.5
)

// fracScale converts a float fraction to integer arithmetic without rounding
// loss beyond one part per billion.
const fracScale = 1_000_000_000

// Scorer is the external sentiment/summarization service. Both calls may
// fail or time out; the engine never propagates those failures.
type Scorer interface {
	SentimentScore(ctx context.Context, text string) (float64, error)
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Engine computes arbitration results. Safe for concurrent use; it holds no
// per-dispute state.
type Engine struct {
	scorer       Scorer
	scoreTimeout time.Duration
	unitPenalty  *big.Int
	logger       *slog.Logger
}

// Config holds the engine's tunables.
type Config struct {
	// ScoreTimeout bounds each external scoring call. Zero means 10s.
	ScoreTimeout time.Duration
	// UnitPenalty is the fixed penalty charged per recorded violation.
	UnitPenalty *big.Int
}

// NewEngine creates an Engine. scorer may be nil, in which case every
// decision uses the documented fallback values.
func NewEngine(scorer Scorer, cfg Config, logger *slog.Logger) *Engine {
	timeout := cfg.ScoreTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	unitPenalty := cfg.UnitPenalty
	if unitPenalty == nil {
		unitPenalty = new(big.Int)
	}
	return &Engine{
		scorer:       scorer,
		scoreTimeout: timeout,
		unitPenalty:  new(big.Int).Set(unitPenalty),
		logger:       logger.With(slog.String("component", "decision")),
	}
}

// Decide produces the arbitration result for one dispute. Identical evidence
// and contract terms yield an identical result whenever the scoring sub-calls
// resolve to their fallback values.
func (e *Engine) Decide(ctx context.Context, disputeID uint64, terms domain.ContractTerms, evidence []domain.EvidenceItem) (domain.ArbitrationResult, error) {
	if terms.Amount == nil || terms.Amount.Sign() <= 0 {
		return domain.ArbitrationResult{}, fmt.Errorf("decision: dispute %d: %w", disputeID, domain.ErrInvalidDispute)
	}

	feedback := e.audienceFeedback(ctx, evidence)
	metrics := domain.PerformanceMetrics{
		TimeCompliance:        terms.TimeCompliance,
		TechnicalRequirements: terms.TechnicalRequirements,
		AudienceFeedback:      &feedback,
	}

	artistFraction := weightedFraction(metrics)
	venueRefundFraction := 0.0
	if terms.ViolationCount > 0 {
		venueRefundFraction = venueRefundOnViolation
	}

	resolution := selectResolution(artistFraction, venueRefundFraction)
	approved := approvedAmount(resolution, artistFraction, terms.Amount)
	penalty := new(big.Int).Mul(e.unitPenalty, big.NewInt(int64(terms.ViolationCount)))

	refundsRequired := false
	if metrics.TimeCompliance != nil && *metrics.TimeCompliance < 0.5 {
		refundsRequired = true
	}
	if metrics.TechnicalRequirements != nil && *metrics.TechnicalRequirements < 0.3 {
		refundsRequired = true
	}

	rationale := e.rationale(ctx, disputeID, resolution, metrics, artistFraction)

	result := domain.ArbitrationResult{
		DisputeID:           disputeID,
		Resolution:          resolution,
		ApprovedAmount:      approved,
		PenaltyAmount:       penalty,
		RefundsRequired:     refundsRequired,
		ArtistFraction:      artistFraction,
		VenueRefundFraction: venueRefundFraction,
		Metrics:             metrics,
		Rationale:           rationale,
		RationaleHash:       crypto.Keccak256Hash([]byte(rationale)),
		Confidence:          DefaultConfidence,
	}

	e.logger.InfoContext(ctx, "decision computed",
		slog.Uint64("dispute_id", disputeID),
		slog.String("resolution", string(resolution)),
		slog.Float64("artist_fraction", artistFraction),
		slog.String("approved_amount", approved.String()),
	)
	return result, nil
}

// audienceFeedback scores the first performance-category evidence item. No
// such item defaults to positive; a scoring failure defaults to neutral.
func (e *Engine) audienceFeedback(ctx context.Context, evidence []domain.EvidenceItem) float64 {
	var text string
	found := false
	for _, item := range evidence {
		if item.Category == domain.EvidencePerformance {
			text = item.Content
			found = true
			break
		}
	}
	if !found {
		return DefaultFeedbackScore
	}
	if e.scorer == nil {
		return NeutralFeedbackScore
	}

	scoreCtx, cancel := context.WithTimeout(ctx, e.scoreTimeout)
	defer cancel()
	score, err := e.scorer.SentimentScore(scoreCtx, text)
	if err != nil {
		e.logger.WarnContext(ctx, "sentiment scoring failed, using neutral fallback", slog.Any("error", err))
		return NeutralFeedbackScore
	}
	return clamp01(score)
}

func (e *Engine) rationale(ctx context.Context, disputeID uint64, resolution domain.ResolutionType, metrics domain.PerformanceMetrics, artistFraction float64) string {
	if e.scorer == nil {
		return FallbackRationale
	}
	prompt := fmt.Sprintf(
		"Summarize the arbitration outcome for dispute %d. Resolution: %s. Artist payment fraction: %.3f. Time compliance: %s. Technical requirements: %s. Audience feedback: %s.",
		disputeID, resolution, artistFraction,
		fmtMetric(metrics.TimeCompliance), fmtMetric(metrics.TechnicalRequirements), fmtMetric(metrics.AudienceFeedback),
	)

	sumCtx, cancel := context.WithTimeout(ctx, e.scoreTimeout)
	defer cancel()
	out, err := e.scorer.Summarize(sumCtx, prompt)
	if err != nil || out == "" {
		e.logger.WarnContext(ctx, "rationale generation failed, using fallback", slog.Any("error", err))
		return FallbackRationale
	}
	return out
}

// weightedFraction averages the present metrics by their weights. Nil
// metrics are excluded from numerator and denominator rather than counted
// as zero.
func weightedFraction(m domain.PerformanceMetrics) float64 {
	var sum, weights float64
	if m.TimeCompliance != nil {
		sum += clamp01(*m.TimeCompliance) * WeightTimeCompliance
		weights += WeightTimeCompliance
	}
	if m.TechnicalRequirements != nil {
		sum += clamp01(*m.TechnicalRequirements) * WeightTechnical
		weights += WeightTechnical
	}
	if m.AudienceFeedback != nil {
		sum += clamp01(*m.AudienceFeedback) * WeightFeedback
		weights += WeightFeedback
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// selectResolution picks the category, first match wins.
func selectResolution(artistFraction, venueRefundFraction float64) domain.ResolutionType {
	switch {
	case artistFraction > 0.9:
		return domain.ResolutionFullArtistPayment
	case venueRefundFraction > 0.9:
		return domain.ResolutionFullVenueRefund
	case artistFraction > 0:
		return domain.ResolutionPartialPayment
	default:
		return domain.ResolutionPenaltyApplied
	}
}

// approvedAmount converts the payment fraction to an integral token amount.
func approvedAmount(resolution domain.ResolutionType, artistFraction float64, contractAmount *big.Int) *big.Int {
	switch resolution {
	case domain.ResolutionFullArtistPayment:
		return new(big.Int).Set(contractAmount)
	case domain.ResolutionPartialPayment:
		scaled := big.NewInt(int64(math.Round(artistFraction * fracScale)))
		out := new(big.Int).Mul(contractAmount, scaled)
		return out.Div(out, big.NewInt(fracScale))
	default:
		return new(big.Int)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func fmtMetric(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}
