package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DisputeStatus is a denormalized view of the lifecycle flags, kept for query
// convenience. The flags are authoritative.
type DisputeStatus string

const (
	StatusFiled         DisputeStatus = "filed"
	StatusEvidencePhase DisputeStatus = "evidence_phase"
	StatusAIReview      DisputeStatus = "ai_review"
	StatusAppealed      DisputeStatus = "appealed"
	StatusResolved      DisputeStatus = "resolved"
	StatusExecuted      DisputeStatus = "executed"
)

// ResolutionType is the closed set of decision categories. Each maps to a
// deterministic settlement split.
type ResolutionType string

const (
	ResolutionFullArtistPayment ResolutionType = "full_artist_payment"
	ResolutionPartialPayment    ResolutionType = "partial_payment"
	ResolutionFullVenueRefund   ResolutionType = "full_venue_refund"
	ResolutionPenaltyApplied    ResolutionType = "penalty_applied"
	ResolutionTicketRefunds     ResolutionType = "ticket_refunds"
)

// Valid reports whether r is a member of the closed resolution set.
func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionFullArtistPayment, ResolutionPartialPayment,
		ResolutionFullVenueRefund, ResolutionPenaltyApplied, ResolutionTicketRefunds:
		return true
	}
	return false
}

// Dispute is the canonical arbitration record between an artist and a venue
// over a single event contract. IDs are dense, monotonically increasing, and
// never reused. Flags only ever move forward; once Executed is set the record
// is immutable.
type Dispute struct {
	ID            uint64
	Artist        common.Address
	Venue         common.Address
	EventContract common.Address
	Initiator     common.Address

	ContractAmount *big.Int
	DepositAmount  *big.Int
	ApprovedAmount *big.Int // 0 <= ApprovedAmount <= ContractAmount
	PenaltyAmount  *big.Int

	FiledAt time.Time

	EvidenceRef      common.Hash
	EvidenceComplete bool

	DecisionRef       common.Hash
	DecisionIssued    bool
	Resolution        ResolutionType
	ResolutionDetails string
	RefundsRequired   bool

	Appealed         bool
	Resolved         bool
	Executed         bool
	RefundsProcessed bool

	Status DisputeStatus
}

// EvidenceDeadline returns the last instant at which evidence is accepted
// (inclusive).
func (d Dispute) EvidenceDeadline(evidencePeriod time.Duration) time.Time {
	return d.FiledAt.Add(evidencePeriod)
}

// AppealDeadline returns the end of the full dispute period: evidence window
// plus appeal window, measured from filing.
func (d Dispute) AppealDeadline(evidencePeriod, appealPeriod time.Duration) time.Time {
	return d.FiledAt.Add(evidencePeriod + appealPeriod)
}

// IsParty reports whether addr is the artist or the venue of this dispute.
func (d Dispute) IsParty(addr common.Address) bool {
	return addr == d.Artist || addr == d.Venue
}

// Clone returns a deep copy. Big-integer amounts are copied so that callers
// holding a snapshot can never mutate the canonical record.
func (d Dispute) Clone() Dispute {
	out := d
	out.ContractAmount = copyBig(d.ContractAmount)
	out.DepositAmount = copyBig(d.DepositAmount)
	out.ApprovedAmount = copyBig(d.ApprovedAmount)
	out.PenaltyAmount = copyBig(d.PenaltyAmount)
	return out
}

func copyBig(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}
