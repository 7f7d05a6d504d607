package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PartyRole identifies which side of the dispute submitted an evidence item.
type PartyRole string

const (
	RoleArtist PartyRole = "artist"
	RoleVenue  PartyRole = "venue"
)

// EvidenceCategory classifies an evidence item for the decision engine.
type EvidenceCategory string

const (
	EvidenceContract    EvidenceCategory = "contract"
	EvidencePerformance EvidenceCategory = "performance"
	EvidencePayment     EvidenceCategory = "payment"
	EvidenceMedia       EvidenceCategory = "media"
)

// Valid reports whether c is a known evidence category.
func (c EvidenceCategory) Valid() bool {
	switch c {
	case EvidenceContract, EvidencePerformance, EvidencePayment, EvidenceMedia:
		return true
	}
	return false
}

// EvidenceItem is one validated, content-addressed evidence submission held in
// the off-chain ledger. Items that fail validation are never added to the
// collection; there are no partial records.
type EvidenceItem struct {
	ID         string
	DisputeID  uint64
	Role       PartyRole
	Category   EvidenceCategory
	Content    string
	ContentRef common.Hash // keccak-256 of Content
	Timestamp  time.Time
}
