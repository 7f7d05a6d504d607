package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DisputeStore persists canonical dispute records. Create assigns the next
// dense monotonically increasing id; secondary indices keyed by artist and
// venue address preserve filing order.
type DisputeStore interface {
	Create(ctx context.Context, d Dispute) (uint64, error)
	Update(ctx context.Context, d Dispute) error
	Get(ctx context.Context, id uint64) (Dispute, error)
	ListByArtist(ctx context.Context, artist common.Address, opts ListOpts) ([]Dispute, error)
	ListByVenue(ctx context.Context, venue common.Address, opts ListOpts) ([]Dispute, error)
	ArtistDisputeIDs(ctx context.Context, artist common.Address) ([]uint64, error)
	VenueDisputeIDs(ctx context.Context, venue common.Address) ([]uint64, error)
	Count(ctx context.Context) (uint64, error)
}

// EvidenceStore persists validated evidence items for off-chain aggregation.
type EvidenceStore interface {
	Append(ctx context.Context, item EvidenceItem) error
	ListByDispute(ctx context.Context, disputeID uint64) ([]EvidenceItem, error)
}

// SettlementStore persists completed settlements for audit.
type SettlementStore interface {
	Create(ctx context.Context, s Settlement) error
	GetByDispute(ctx context.Context, disputeID uint64) (Settlement, error)
	ListRecent(ctx context.Context, limit int) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
