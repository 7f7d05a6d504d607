// Package memory provides in-process store implementations. They back unit
// tests and the simulation mode; server deployments use the postgres stores.
package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// DisputeStore keeps dispute records in a map with append-only party indices.
// IDs are dense and start at 1.
type DisputeStore struct {
	mu       sync.Mutex
	disputes map[uint64]domain.Dispute
	byArtist map[common.Address][]uint64
	byVenue  map[common.Address][]uint64
	nextID   uint64
}

// NewDisputeStore creates an empty DisputeStore.
func NewDisputeStore() *DisputeStore {
	return &DisputeStore{
		disputes: make(map[uint64]domain.Dispute),
		byArtist: make(map[common.Address][]uint64),
		byVenue:  make(map[common.Address][]uint64),
		nextID:   1,
	}
}

// Create assigns the next id and records the dispute.
func (s *DisputeStore) Create(_ context.Context, d domain.Dispute) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextID
	s.nextID++
	s.disputes[d.ID] = d.Clone()
	s.byArtist[d.Artist] = append(s.byArtist[d.Artist], d.ID)
	s.byVenue[d.Venue] = append(s.byVenue[d.Venue], d.ID)
	return d.ID, nil
}

// Update overwrites an existing record.
func (s *DisputeStore) Update(_ context.Context, d domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[d.ID]; !ok {
		return domain.ErrNotFound
	}
	s.disputes[d.ID] = d.Clone()
	return nil
}

// Get returns a deep copy of the record.
func (s *DisputeStore) Get(_ context.Context, id uint64) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return domain.Dispute{}, domain.ErrNotFound
	}
	return d.Clone(), nil
}

// ListByArtist returns disputes filed with artist, in filing order.
func (s *DisputeStore) ListByArtist(ctx context.Context, artist common.Address, opts domain.ListOpts) ([]domain.Dispute, error) {
	s.mu.Lock()
	ids := append([]uint64(nil), s.byArtist[artist]...)
	s.mu.Unlock()
	return s.listByIDs(ctx, ids, opts)
}

// ListByVenue returns disputes filed with venue, in filing order.
func (s *DisputeStore) ListByVenue(ctx context.Context, venue common.Address, opts domain.ListOpts) ([]domain.Dispute, error) {
	s.mu.Lock()
	ids := append([]uint64(nil), s.byVenue[venue]...)
	s.mu.Unlock()
	return s.listByIDs(ctx, ids, opts)
}

func (s *DisputeStore) listByIDs(_ context.Context, ids []uint64, opts domain.ListOpts) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Dispute, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		d, ok := s.disputes[id]
		if !ok {
			continue
		}
		if opts.Since != nil && d.FiledAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && d.FiledAt.After(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, d.Clone())
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// ArtistDisputeIDs returns the artist's dispute ids in filing order.
func (s *DisputeStore) ArtistDisputeIDs(_ context.Context, artist common.Address) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.byArtist[artist]...), nil
}

// VenueDisputeIDs returns the venue's dispute ids in filing order.
func (s *DisputeStore) VenueDisputeIDs(_ context.Context, venue common.Address) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.byVenue[venue]...), nil
}

// Count returns the number of disputes ever created.
func (s *DisputeStore) Count(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID - 1, nil
}

var _ domain.DisputeStore = (*DisputeStore)(nil)
