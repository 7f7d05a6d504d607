package memory

import (
	"context"
	"sync"
	"time"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// EvidenceStore keeps validated evidence items in memory, in append order.
type EvidenceStore struct {
	mu    sync.Mutex
	items map[uint64][]domain.EvidenceItem
}

// NewEvidenceStore creates an empty EvidenceStore.
func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{items: make(map[uint64][]domain.EvidenceItem)}
}

// Append records one evidence item.
func (s *EvidenceStore) Append(_ context.Context, item domain.EvidenceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.DisputeID] = append(s.items[item.DisputeID], item)
	return nil
}

// ListByDispute returns the items for a dispute in append order.
func (s *EvidenceStore) ListByDispute(_ context.Context, disputeID uint64) ([]domain.EvidenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EvidenceItem(nil), s.items[disputeID]...), nil
}

// SettlementStore keeps settlements in memory.
type SettlementStore struct {
	mu          sync.Mutex
	byDispute   map[uint64]domain.Settlement
	chronologic []domain.Settlement
}

// NewSettlementStore creates an empty SettlementStore.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{byDispute: make(map[uint64]domain.Settlement)}
}

// Create records a settlement.
func (s *SettlementStore) Create(_ context.Context, settlement domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDispute[settlement.DisputeID] = settlement
	s.chronologic = append(s.chronologic, settlement)
	return nil
}

// GetByDispute returns the settlement for a dispute.
func (s *SettlementStore) GetByDispute(_ context.Context, disputeID uint64) (domain.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.byDispute[disputeID]
	if !ok {
		return domain.Settlement{}, domain.ErrNotFound
	}
	return settlement, nil
}

// ListRecent returns the most recent settlements, newest first.
func (s *SettlementStore) ListRecent(_ context.Context, limit int) ([]domain.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.chronologic)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Settlement, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.chronologic[i])
	}
	return out, nil
}

// AuditStore keeps the audit log in memory.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	nextID  int64
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// Log appends one audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

// List returns audit entries in insertion order.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	skipped := 0
	for _, e := range s.entries {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

var (
	_ domain.EvidenceStore   = (*EvidenceStore)(nil)
	_ domain.SettlementStore = (*SettlementStore)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
)
