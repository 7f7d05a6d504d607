package domain

import (
	"math/big"
	"time"
)

// Settlement is the audit record of a completed execution: the final artist
// and venue amounts together with the resolution type. Exactly one settlement
// exists per executed dispute.
type Settlement struct {
	DisputeID     uint64
	Resolution    ResolutionType
	ArtistAmount  *big.Int
	VenueAmount   *big.Int
	PenaltyAmount *big.Int
	TicketsRefunded int
	ExecutedAt    time.Time
}

// TotalMoved returns the sum of all transferred amounts for this settlement.
func (s Settlement) TotalMoved() *big.Int {
	total := new(big.Int)
	if s.ArtistAmount != nil {
		total.Add(total, s.ArtistAmount)
	}
	if s.VenueAmount != nil {
		total.Add(total, s.VenueAmount)
	}
	if s.PenaltyAmount != nil {
		total.Add(total, s.PenaltyAmount)
	}
	return total
}
