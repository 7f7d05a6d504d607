package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// EvidenceStore implements domain.EvidenceStore using PostgreSQL. The table
// is append-only; there are no update or delete paths.
type EvidenceStore struct {
	pool *pgxpool.Pool
}

// NewEvidenceStore creates a new EvidenceStore backed by the given pool.
func NewEvidenceStore(pool *pgxpool.Pool) *EvidenceStore {
	return &EvidenceStore{pool: pool}
}

// Append inserts one validated evidence item.
func (s *EvidenceStore) Append(ctx context.Context, item domain.EvidenceItem) error {
	const query = `
		INSERT INTO evidence_items (
			id, dispute_id, role, category, content, content_ref, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		item.ID, item.DisputeID, string(item.Role), string(item.Category),
		item.Content, item.ContentRef.Hex(), item.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append evidence for dispute %d: %w", item.DisputeID, err)
	}
	return nil
}

// ListByDispute returns a dispute's evidence items in submission order.
func (s *EvidenceStore) ListByDispute(ctx context.Context, disputeID uint64) ([]domain.EvidenceItem, error) {
	const query = `
		SELECT id, dispute_id, role, category, content, content_ref, submitted_at
		FROM evidence_items
		WHERE dispute_id = $1
		ORDER BY submitted_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list evidence for dispute %d: %w", disputeID, err)
	}
	defer rows.Close()

	var items []domain.EvidenceItem
	for rows.Next() {
		var (
			item                        domain.EvidenceItem
			role, category, contentRef  string
			submittedAt                 time.Time
		)
		if err := rows.Scan(&item.ID, &item.DisputeID, &role, &category, &item.Content, &contentRef, &submittedAt); err != nil {
			return nil, err
		}
		item.Role = domain.PartyRole(role)
		item.Category = domain.EvidenceCategory(category)
		item.ContentRef = common.HexToHash(contentRef)
		item.Timestamp = submittedAt.UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}
