package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/encorelabs/arbiterd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f(v float64) *float64 { return &v }

// fixedScorer returns canned sentiment/summary values.
type fixedScorer struct {
	score      float64
	scoreErr   error
	summary    string
	summaryErr error
}

func (s fixedScorer) SentimentScore(context.Context, string) (float64, error) {
	return s.score, s.scoreErr
}

func (s fixedScorer) Summarize(context.Context, string) (string, error) {
	return s.summary, s.summaryErr
}

func perfEvidence(content string) []domain.EvidenceItem {
	return []domain.EvidenceItem{{
		Role:     domain.RoleVenue,
		Category: domain.EvidencePerformance,
		Content:  content,
	}}
}

func TestDecideRejectsInvalidTerms(t *testing.T) {
	e := NewEngine(nil, Config{}, testLogger())

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		_, err := e.Decide(context.Background(), 1, domain.ContractTerms{Amount: amount}, nil)
		if !errors.Is(err, domain.ErrInvalidDispute) {
			t.Fatalf("Decide(amount=%v) error = %v, want %v", amount, err, domain.ErrInvalidDispute)
		}
	}
}

func TestWeightedFractionExcludesNilMetrics(t *testing.T) {
	tests := []struct {
		name string
		m    domain.PerformanceMetrics
		want float64
	}{
		{"all present", domain.PerformanceMetrics{TimeCompliance: f(1.0), TechnicalRequirements: f(0.5), AudienceFeedback: f(0.8)},
			(1.0*0.4 + 0.5*0.3 + 0.8*0.3) / 1.0},
		{"technical nil", domain.PerformanceMetrics{TimeCompliance: f(1.0), AudienceFeedback: f(0.8)},
			(1.0*0.4 + 0.8*0.3) / 0.7},
		{"feedback only", domain.PerformanceMetrics{AudienceFeedback: f(0.6)}, 0.6},
		{"all nil", domain.PerformanceMetrics{}, 0},
		{"clamped above one", domain.PerformanceMetrics{TimeCompliance: f(2.0)}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := weightedFraction(tt.m)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("weightedFraction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectResolutionFirstMatch(t *testing.T) {
	tests := []struct {
		name        string
		artist      float64
		venueRefund float64
		want        domain.ResolutionType
	}{
		{"high artist wins", 0.95, 0.0, domain.ResolutionFullArtistPayment},
		{"artist check precedes venue", 0.95, 1.0, domain.ResolutionFullArtistPayment},
		{"exactly 0.9 is not full", 0.9, 0.0, domain.ResolutionPartialPayment},
		{"partial", 0.5, 0.5, domain.ResolutionPartialPayment},
		{"zero artist with penalty", 0.0, 0.5, domain.ResolutionPenaltyApplied},
		{"high venue refund", 0.0, 0.95, domain.ResolutionFullVenueRefund},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectResolution(tt.artist, tt.venueRefund); got != tt.want {
				t.Fatalf("selectResolution(%v, %v) = %q, want %q", tt.artist, tt.venueRefund, got, tt.want)
			}
		})
	}
}

func TestDecideNoPerformanceEvidenceDefaultsPositive(t *testing.T) {
	e := NewEngine(nil, Config{}, testLogger())
	terms := domain.ContractTerms{Amount: big.NewInt(1000)}

	got, err := e.Decide(context.Background(), 1, terms, nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	// Feedback is the only metric, defaulting to 0.8; fraction 0.8 selects a
	// partial payment of 800.
	if got.Metrics.AudienceFeedback == nil || *got.Metrics.AudienceFeedback != DefaultFeedbackScore {
		t.Fatalf("AudienceFeedback = %v, want %v", got.Metrics.AudienceFeedback, DefaultFeedbackScore)
	}
	if got.Resolution != domain.ResolutionPartialPayment {
		t.Fatalf("Resolution = %q, want %q", got.Resolution, domain.ResolutionPartialPayment)
	}
	if got.ApprovedAmount.Int64() != 800 {
		t.Fatalf("ApprovedAmount = %s, want 800", got.ApprovedAmount)
	}
	if got.Rationale != FallbackRationale {
		t.Fatalf("Rationale = %q, want fallback", got.Rationale)
	}
	if got.Confidence != DefaultConfidence {
		t.Fatalf("Confidence = %v, want %v", got.Confidence, DefaultConfidence)
	}
}

func TestDecideScoringFailureIsNeutral(t *testing.T) {
	e := NewEngine(fixedScorer{scoreErr: errors.New("upstream down"), summaryErr: errors.New("upstream down")},
		Config{}, testLogger())
	terms := domain.ContractTerms{Amount: big.NewInt(1000)}

	got, err := e.Decide(context.Background(), 1, terms, perfEvidence("the crowd left early"))
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if *got.Metrics.AudienceFeedback != NeutralFeedbackScore {
		t.Fatalf("AudienceFeedback = %v, want %v", *got.Metrics.AudienceFeedback, NeutralFeedbackScore)
	}
	if got.ApprovedAmount.Int64() != 500 {
		t.Fatalf("ApprovedAmount = %s, want 500", got.ApprovedAmount)
	}
	if got.Rationale != FallbackRationale {
		t.Fatalf("Rationale = %q, want fallback", got.Rationale)
	}
}

func TestDecideDeterministicOnFallbacks(t *testing.T) {
	e := NewEngine(nil, Config{UnitPenalty: big.NewInt(10)}, testLogger())
	terms := domain.ContractTerms{
		Amount:         big.NewInt(123456789),
		TimeCompliance: f(0.7),
		ViolationCount: 2,
	}
	evidence := perfEvidence("solid show")

	first, err := e.Decide(context.Background(), 7, terms, evidence)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	second, err := e.Decide(context.Background(), 7, terms, evidence)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if first.Resolution != second.Resolution ||
		first.ApprovedAmount.Cmp(second.ApprovedAmount) != 0 ||
		first.PenaltyAmount.Cmp(second.PenaltyAmount) != 0 ||
		first.RationaleHash != second.RationaleHash {
		t.Fatalf("repeated Decide() differs: %+v vs %+v", first, second)
	}
	if first.PenaltyAmount.Int64() != 20 {
		t.Fatalf("PenaltyAmount = %s, want 20 (2 violations x 10)", first.PenaltyAmount)
	}
}

func TestDecideRefundsRequiredThresholds(t *testing.T) {
	e := NewEngine(nil, Config{}, testLogger())
	amount := big.NewInt(1000)

	tests := []struct {
		name  string
		terms domain.ContractTerms
		want  bool
	}{
		{"low time compliance", domain.ContractTerms{Amount: amount, TimeCompliance: f(0.4)}, true},
		{"time compliance at threshold", domain.ContractTerms{Amount: amount, TimeCompliance: f(0.5)}, false},
		{"low technical", domain.ContractTerms{Amount: amount, TechnicalRequirements: f(0.2)}, true},
		{"technical at threshold", domain.ContractTerms{Amount: amount, TechnicalRequirements: f(0.3)}, false},
		{"both healthy", domain.ContractTerms{Amount: amount, TimeCompliance: f(0.9), TechnicalRequirements: f(0.9)}, false},
		{"both nil", domain.ContractTerms{Amount: amount}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Decide(context.Background(), 1, tt.terms, nil)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if got.RefundsRequired != tt.want {
				t.Fatalf("RefundsRequired = %v, want %v", got.RefundsRequired, tt.want)
			}
		})
	}
}

func TestDecideViolationsDriveVenueRefund(t *testing.T) {
	// A perfect sentiment score with violations on record: the venue refund
	// fraction is 0.5 but full artist payment still wins the category check.
	e := NewEngine(fixedScorer{score: 1.0, summary: "ok"}, Config{}, testLogger())
	terms := domain.ContractTerms{Amount: big.NewInt(1000), ViolationCount: 1}

	got, err := e.Decide(context.Background(), 1, terms, perfEvidence("flawless night"))
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if got.VenueRefundFraction != 0.5 {
		t.Fatalf("VenueRefundFraction = %v, want 0.5", got.VenueRefundFraction)
	}
	if got.Resolution != domain.ResolutionFullArtistPayment {
		t.Fatalf("Resolution = %q, want %q", got.Resolution, domain.ResolutionFullArtistPayment)
	}
	if got.ApprovedAmount.Cmp(terms.Amount) != 0 {
		t.Fatalf("ApprovedAmount = %s, want %s", got.ApprovedAmount, terms.Amount)
	}
}
