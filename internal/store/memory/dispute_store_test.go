package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/domain"
)

var (
	artistA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	artistB = common.HexToAddress("0x1212121212121212121212121212121212121212")
	venueA  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	venueB  = common.HexToAddress("0x2323232323232323232323232323232323232323")
	eventC  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func testDispute(artist, venue common.Address, filedAt time.Time) domain.Dispute {
	return domain.Dispute{
		Artist:         artist,
		Venue:          venue,
		EventContract:  eventC,
		ContractAmount: big.NewInt(1000),
		DepositAmount:  big.NewInt(0),
		Status:         domain.StatusFiled,
		FiledAt:        filedAt,
	}
}

func TestCreateAssignsDenseIDs(t *testing.T) {
	s := NewDisputeStore()
	ctx := context.Background()
	now := time.Now()

	for want := uint64(1); want <= 3; want++ {
		id, err := s.Create(ctx, testDispute(artistA, venueA, now))
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if id != want {
			t.Fatalf("Create() id = %d, want %d", id, want)
		}
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("Count() = %d, want 3", count)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	s := NewDisputeStore()
	ctx := context.Background()

	id, err := s.Create(ctx, testDispute(artistA, venueA, time.Now()))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	// Mutating the returned big.Int must not leak into the store.
	got.ContractAmount.SetInt64(9999)
	got.Status = domain.StatusExecuted

	again, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again.ContractAmount.Int64() != 1000 || again.Status != domain.StatusFiled {
		t.Fatalf("stored record mutated through returned copy: amount=%s status=%q",
			again.ContractAmount, again.Status)
	}
}

func TestGetAndUpdateUnknownID(t *testing.T) {
	s := NewDisputeStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(99) error = %v, want %v", err, domain.ErrNotFound)
	}
	d := testDispute(artistA, venueA, time.Now())
	d.ID = 99
	if err := s.Update(ctx, d); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update(99) error = %v, want %v", err, domain.ErrNotFound)
	}
}

func TestUpdatePersistsChanges(t *testing.T) {
	s := NewDisputeStore()
	ctx := context.Background()

	id, err := s.Create(ctx, testDispute(artistA, venueA, time.Now()))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	d, _ := s.Get(ctx, id)
	d.Status = domain.StatusResolved
	d.Resolved = true
	if err := s.Update(ctx, d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := s.Get(ctx, id)
	if got.Status != domain.StatusResolved || !got.Resolved {
		t.Fatalf("Get() after Update = status %q resolved %v, want %q true",
			got.Status, got.Resolved, domain.StatusResolved)
	}
}

func TestListByPartyFilingOrder(t *testing.T) {
	s := NewDisputeStore()
	ctx := context.Background()
	now := time.Now()

	// Interleave parties to check the indices stay separate.
	s.Create(ctx, testDispute(artistA, venueA, now)) // id 1
	s.Create(ctx, testDispute(artistB, venueA, now)) // id 2
	s.Create(ctx, testDispute(artistA, venueB, now)) // id 3

	byArtist, err := s.ListByArtist(ctx, artistA, domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListByArtist() error = %v", err)
	}
	if len(byArtist) != 2 || byArtist[0].ID != 1 || byArtist[1].ID != 3 {
		t.Fatalf("ListByArtist() ids = %v, want [1 3]", disputeIDs(byArtist))
	}

	byVenue, err := s.ListByVenue(ctx, venueA, domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListByVenue() error = %v", err)
	}
	if len(byVenue) != 2 || byVenue[0].ID != 1 || byVenue[1].ID != 2 {
		t.Fatalf("ListByVenue() ids = %v, want [1 2]", disputeIDs(byVenue))
	}

	if got, _ := s.ListByArtist(ctx, venueB, domain.ListOpts{}); len(got) != 0 {
		t.Fatalf("ListByArtist(unknown) = %d disputes, want 0", len(got))
	}
}

func TestListOptsPagingAndTimeWindow(t *testing.T) {
	s := NewDisputeStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.Create(ctx, testDispute(artistA, venueA, base.Add(time.Duration(i)*time.Hour)))
	}

	page, err := s.ListByArtist(ctx, artistA, domain.ListOpts{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListByArtist() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Fatalf("ListByArtist(offset=1, limit=2) ids = %v, want [2 3]", disputeIDs(page))
	}

	since := base.Add(90 * time.Minute) // excludes ids 1 and 2
	until := base.Add(3 * time.Hour)    // includes id 4, excludes id 5
	window, err := s.ListByArtist(ctx, artistA, domain.ListOpts{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("ListByArtist() error = %v", err)
	}
	if len(window) != 2 || window[0].ID != 3 || window[1].ID != 4 {
		t.Fatalf("ListByArtist(window) ids = %v, want [3 4]", disputeIDs(window))
	}
}

func TestPartyDisputeIDs(t *testing.T) {
	s := NewDisputeStore()
	ctx := context.Background()
	now := time.Now()

	s.Create(ctx, testDispute(artistA, venueA, now))
	s.Create(ctx, testDispute(artistA, venueB, now))

	ids, err := s.ArtistDisputeIDs(ctx, artistA)
	if err != nil {
		t.Fatalf("ArtistDisputeIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ArtistDisputeIDs() = %v, want [1 2]", ids)
	}

	ids, err = s.VenueDisputeIDs(ctx, venueB)
	if err != nil {
		t.Fatalf("VenueDisputeIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("VenueDisputeIDs() = %v, want [2]", ids)
	}
}

func disputeIDs(ds []domain.Dispute) []uint64 {
	ids := make([]uint64, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}
