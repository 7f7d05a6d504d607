package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/encorelabs/arbiterd/internal/domain"
)

// DisputeStore implements domain.DisputeStore using PostgreSQL. Amounts are
// stored as NUMERIC(78,0) so full uint256-range values round-trip exactly;
// addresses and hashes are stored as lowercase hex text.
type DisputeStore struct {
	pool *pgxpool.Pool
}

// NewDisputeStore creates a new DisputeStore backed by the given pool.
func NewDisputeStore(pool *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{pool: pool}
}

const disputeSelectCols = `id, artist, venue, event_contract, initiator,
	contract_amount::text, deposit_amount::text, approved_amount::text, penalty_amount::text,
	filed_at, evidence_ref, evidence_complete,
	decision_ref, decision_issued, resolution, resolution_details, refunds_required,
	appealed, resolved, executed, refunds_processed, status`

// Create inserts a dispute and returns the database-assigned id. The
// disputes table uses a BIGSERIAL key, so ids are dense, monotonically
// increasing, and never reused.
func (s *DisputeStore) Create(ctx context.Context, d domain.Dispute) (uint64, error) {
	const query = `
		INSERT INTO disputes (
			artist, venue, event_contract, initiator,
			contract_amount, deposit_amount, approved_amount, penalty_amount,
			filed_at, evidence_ref, evidence_complete,
			decision_ref, decision_issued, resolution, resolution_details, refunds_required,
			appealed, resolved, executed, refunds_processed, status
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21
		) RETURNING id`

	var id uint64
	err := s.pool.QueryRow(ctx, query,
		hexAddr(d.Artist), hexAddr(d.Venue), hexAddr(d.EventContract), hexAddr(d.Initiator),
		numeric(d.ContractAmount), numeric(d.DepositAmount), numeric(d.ApprovedAmount), numeric(d.PenaltyAmount),
		d.FiledAt, d.EvidenceRef.Hex(), d.EvidenceComplete,
		d.DecisionRef.Hex(), d.DecisionIssued, string(d.Resolution), d.ResolutionDetails, d.RefundsRequired,
		d.Appealed, d.Resolved, d.Executed, d.RefundsProcessed, string(d.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create dispute: %w", err)
	}
	return id, nil
}

// Update overwrites all mutable fields of an existing dispute.
func (s *DisputeStore) Update(ctx context.Context, d domain.Dispute) error {
	const query = `
		UPDATE disputes SET
			approved_amount = $2, penalty_amount = $3,
			evidence_ref = $4, evidence_complete = $5,
			decision_ref = $6, decision_issued = $7,
			resolution = $8, resolution_details = $9, refunds_required = $10,
			appealed = $11, resolved = $12, executed = $13, refunds_processed = $14,
			status = $15
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		d.ID,
		numeric(d.ApprovedAmount), numeric(d.PenaltyAmount),
		d.EvidenceRef.Hex(), d.EvidenceComplete,
		d.DecisionRef.Hex(), d.DecisionIssued,
		string(d.Resolution), d.ResolutionDetails, d.RefundsRequired,
		d.Appealed, d.Resolved, d.Executed, d.RefundsProcessed,
		string(d.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update dispute %d: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get returns one dispute by id.
func (s *DisputeStore) Get(ctx context.Context, id uint64) (domain.Dispute, error) {
	query := `SELECT ` + disputeSelectCols + ` FROM disputes WHERE id = $1`
	d, err := scanDispute(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dispute{}, domain.ErrNotFound
		}
		return domain.Dispute{}, fmt.Errorf("postgres: get dispute %d: %w", id, err)
	}
	return d, nil
}

// ListByArtist returns disputes filed with the given artist, in filing order.
func (s *DisputeStore) ListByArtist(ctx context.Context, artist common.Address, opts domain.ListOpts) ([]domain.Dispute, error) {
	return s.listByParty(ctx, "artist", artist, opts)
}

// ListByVenue returns disputes filed with the given venue, in filing order.
func (s *DisputeStore) ListByVenue(ctx context.Context, venue common.Address, opts domain.ListOpts) ([]domain.Dispute, error) {
	return s.listByParty(ctx, "venue", venue, opts)
}

func (s *DisputeStore) listByParty(ctx context.Context, column string, addr common.Address, opts domain.ListOpts) ([]domain.Dispute, error) {
	query := `SELECT ` + disputeSelectCols + ` FROM disputes WHERE ` + column + ` = $1`
	args := []any{hexAddr(addr)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND filed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND filed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list disputes by %s: %w", column, err)
	}
	defer rows.Close()
	return scanDisputeRows(rows)
}

// ArtistDisputeIDs returns the artist's dispute ids in filing order.
func (s *DisputeStore) ArtistDisputeIDs(ctx context.Context, artist common.Address) ([]uint64, error) {
	return s.partyIDs(ctx, "artist", artist)
}

// VenueDisputeIDs returns the venue's dispute ids in filing order.
func (s *DisputeStore) VenueDisputeIDs(ctx context.Context, venue common.Address) ([]uint64, error) {
	return s.partyIDs(ctx, "venue", venue)
}

func (s *DisputeStore) partyIDs(ctx context.Context, column string, addr common.Address) ([]uint64, error) {
	query := `SELECT id FROM disputes WHERE ` + column + ` = $1 ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, query, hexAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("postgres: %s dispute ids: %w", column, err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the total number of disputes filed.
func (s *DisputeStore) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM disputes").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count disputes: %w", err)
	}
	return n, nil
}

func scanDisputeRows(rows pgx.Rows) ([]domain.Dispute, error) {
	var disputes []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

func scanDispute(row pgx.Row) (domain.Dispute, error) {
	var (
		d                                                              domain.Dispute
		artist, venue, eventContract, initiator                        string
		contractAmt, depositAmt, approvedAmt, penaltyAmt               string
		evidenceRef, decisionRef, resolution, status                   string
		filedAt                                                        time.Time
	)
	err := row.Scan(
		&d.ID, &artist, &venue, &eventContract, &initiator,
		&contractAmt, &depositAmt, &approvedAmt, &penaltyAmt,
		&filedAt, &evidenceRef, &d.EvidenceComplete,
		&decisionRef, &d.DecisionIssued, &resolution, &d.ResolutionDetails, &d.RefundsRequired,
		&d.Appealed, &d.Resolved, &d.Executed, &d.RefundsProcessed, &status,
	)
	if err != nil {
		return domain.Dispute{}, err
	}

	d.Artist = common.HexToAddress(artist)
	d.Venue = common.HexToAddress(venue)
	d.EventContract = common.HexToAddress(eventContract)
	d.Initiator = common.HexToAddress(initiator)
	d.FiledAt = filedAt.UTC()
	d.EvidenceRef = common.HexToHash(evidenceRef)
	d.DecisionRef = common.HexToHash(decisionRef)
	d.Resolution = domain.ResolutionType(resolution)
	d.Status = domain.DisputeStatus(status)

	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&d.ContractAmount, contractAmt},
		{&d.DepositAmount, depositAmt},
		{&d.ApprovedAmount, approvedAmt},
		{&d.PenaltyAmount, penaltyAmt},
	} {
		n, ok := new(big.Int).SetString(f.src, 10)
		if !ok {
			return domain.Dispute{}, fmt.Errorf("postgres: malformed amount %q", f.src)
		}
		*f.dst = n
	}
	return d, nil
}

func hexAddr(a common.Address) string {
	return a.Hex()
}

func numeric(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
