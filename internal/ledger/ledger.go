// Package ledger holds the off-chain, append-only evidence collection. Items
// are validated on ingest, content-addressed with keccak-256, and optionally
// written through to durable storage plus an object-store archive.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// MaxContentBytes bounds a single evidence payload.
const MaxContentBytes = 1 << 20

// Ledger is the in-memory evidence collection, keyed by dispute id. Appends
// and reads are serialized; items are never updated or removed.
type Ledger struct {
	mu    sync.Mutex
	items map[uint64][]domain.EvidenceItem

	store   domain.EvidenceStore // optional write-through
	archive domain.BlobWriter    // optional payload archive
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore enables write-through persistence of validated items.
func WithStore(store domain.EvidenceStore) Option {
	return func(l *Ledger) { l.store = store }
}

// WithArchive enables archival of full payloads to object storage, keyed by
// content hash.
func WithArchive(archive domain.BlobWriter) Option {
	return func(l *Ledger) { l.archive = archive }
}

// New creates an empty Ledger.
func New(logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		items:  make(map[uint64][]domain.EvidenceItem),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ContentRef returns the keccak-256 content address of a payload.
func ContentRef(content string) common.Hash {
	return crypto.Keccak256Hash([]byte(content))
}

// Append validates and records one evidence item. Invalid items are rejected
// with ErrInvalidEvidence and never enter the collection; a write-through or
// archive failure likewise leaves the collection untouched.
func (l *Ledger) Append(ctx context.Context, disputeID uint64, role domain.PartyRole, category domain.EvidenceCategory, content string) (domain.EvidenceItem, error) {
	if err := validate(role, category, content); err != nil {
		return domain.EvidenceItem{}, err
	}

	item := domain.EvidenceItem{
		ID:         uuid.NewString(),
		DisputeID:  disputeID,
		Role:       role,
		Category:   category,
		Content:    content,
		ContentRef: ContentRef(content),
		Timestamp:  l.now(),
	}

	if l.archive != nil {
		path := fmt.Sprintf("evidence/%d/%s", disputeID, item.ContentRef.Hex())
		if err := l.archive.Put(ctx, path, strings.NewReader(content), "text/plain"); err != nil {
			return domain.EvidenceItem{}, fmt.Errorf("ledger: archive evidence: %w", err)
		}
	}
	if l.store != nil {
		if err := l.store.Append(ctx, item); err != nil {
			return domain.EvidenceItem{}, fmt.Errorf("ledger: persist evidence: %w", err)
		}
	}

	l.mu.Lock()
	l.items[disputeID] = append(l.items[disputeID], item)
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "evidence recorded",
		slog.Uint64("dispute_id", disputeID),
		slog.String("role", string(role)),
		slog.String("category", string(category)),
		slog.String("content_ref", item.ContentRef.Hex()),
	)
	return item, nil
}

// Items returns a snapshot of all evidence for a dispute, in append order.
func (l *Ledger) Items(_ context.Context, disputeID uint64) []domain.EvidenceItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := l.items[disputeID]
	out := make([]domain.EvidenceItem, len(items))
	copy(out, items)
	return out
}

// AggregateRef folds all recorded content references for a dispute into a
// single hash suitable for the on-chain evidence slot.
func (l *Ledger) AggregateRef(_ context.Context, disputeID uint64) common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	refs := make([]byte, 0, len(l.items[disputeID])*common.HashLength)
	for _, item := range l.items[disputeID] {
		refs = append(refs, item.ContentRef.Bytes()...)
	}
	return crypto.Keccak256Hash(refs)
}

func validate(role domain.PartyRole, category domain.EvidenceCategory, content string) error {
	if role != domain.RoleArtist && role != domain.RoleVenue {
		return fmt.Errorf("ledger: role %q: %w", role, domain.ErrInvalidEvidence)
	}
	if !category.Valid() {
		return fmt.Errorf("ledger: category %q: %w", category, domain.ErrInvalidEvidence)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("ledger: empty content: %w", domain.ErrInvalidEvidence)
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("ledger: content exceeds %d bytes: %w", MaxContentBytes, domain.ErrInvalidEvidence)
	}
	return nil
}
