package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. The
// dispute_id primary key enforces the one-settlement-per-dispute invariant at
// the storage layer as well.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Create inserts one settlement record.
func (s *SettlementStore) Create(ctx context.Context, settlement domain.Settlement) error {
	const query = `
		INSERT INTO settlements (
			dispute_id, resolution, artist_amount, venue_amount, penalty_amount,
			tickets_refunded, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		settlement.DisputeID, string(settlement.Resolution),
		numeric(settlement.ArtistAmount), numeric(settlement.VenueAmount), numeric(settlement.PenaltyAmount),
		settlement.TicketsRefunded, settlement.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create settlement for dispute %d: %w", settlement.DisputeID, err)
	}
	return nil
}

const settlementSelectCols = `dispute_id, resolution,
	artist_amount::text, venue_amount::text, penalty_amount::text,
	tickets_refunded, executed_at`

// GetByDispute returns the settlement for one dispute.
func (s *SettlementStore) GetByDispute(ctx context.Context, disputeID uint64) (domain.Settlement, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE dispute_id = $1`
	settlement, err := scanSettlement(s.pool.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement for dispute %d: %w", disputeID, err)
	}
	return settlement, nil
}

// ListRecent returns the most recently executed settlements, newest first.
func (s *SettlementStore) ListRecent(ctx context.Context, limit int) ([]domain.Settlement, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + settlementSelectCols + ` FROM settlements ORDER BY executed_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent settlements: %w", err)
	}
	defer rows.Close()

	var settlements []domain.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, settlement)
	}
	return settlements, rows.Err()
}

// ListExecutedBefore returns settlements executed strictly before the cutoff,
// oldest first. Used by the S3 archiver.
func (s *SettlementStore) ListExecutedBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE executed_at < $1 ORDER BY executed_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var settlements []domain.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, settlement)
	}
	return settlements, rows.Err()
}

func scanSettlement(row pgx.Row) (domain.Settlement, error) {
	var (
		settlement                            domain.Settlement
		resolution                            string
		artistAmt, venueAmt, penaltyAmt       string
		executedAt                            time.Time
	)
	err := row.Scan(
		&settlement.DisputeID, &resolution,
		&artistAmt, &venueAmt, &penaltyAmt,
		&settlement.TicketsRefunded, &executedAt,
	)
	if err != nil {
		return domain.Settlement{}, err
	}

	settlement.Resolution = domain.ResolutionType(resolution)
	settlement.ExecutedAt = executedAt.UTC()

	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&settlement.ArtistAmount, artistAmt},
		{&settlement.VenueAmount, venueAmt},
		{&settlement.PenaltyAmount, penaltyAmt},
	} {
		n, ok := new(big.Int).SetString(f.src, 10)
		if !ok {
			return domain.Settlement{}, fmt.Errorf("postgres: malformed amount %q", f.src)
		}
		*f.dst = n
	}
	return settlement, nil
}
