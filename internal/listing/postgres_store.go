package listing

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/lib/pq"

	"github.com/quadmarket/quadmarket/internal/money"
	"github.com/quadmarket/quadmarket/internal/pagination"
)

// PostgresStore persists listings in Postgres. Status transitions are
// guarded UPDATEs; RowsAffected tells the caller whether it won.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, seller_id, category_id, title, price, status, rejection_reason, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, category_id, title, price, status, rejection_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.SellerID, l.CategoryID, l.Title, l.Price, l.Status,
		nullString(l.RejectionReason), l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) Reject(ctx context.Context, id, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET status = $2, rejection_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, StatusRejected, nullString(reason), StatusPendingReview,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) Delete(ctx context.Context, id string, allowed []Status) (bool, error) {
	states := make([]string, len(allowed))
	for i, st := range allowed {
		states[i] = string(st)
	}
	// The NOT EXISTS guard repeats the service-level escrow check inside
	// the same statement, so a concurrent escrow open cannot slip in
	// between check and delete.
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM listings
		WHERE id = $1 AND status = ANY($2)
		AND NOT EXISTS (
			SELECT 1 FROM escrow_transactions e
			WHERE e.listing_id = listings.id AND e.status IN ('holding', 'disputed')
		)`,
		id, pq.Array(states),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) ListActive(ctx context.Context, categoryID string, cursor *pagination.Cursor, limit int) ([]*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE status = $1`
	args := []any{StatusActive}

	if categoryID != "" {
		args = append(args, categoryID)
		query += ` AND category_id = $2`
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		n := len(args)
		query += ` AND (created_at, id) < ($` + strconv.Itoa(n-1) + `, $` + strconv.Itoa(n) + `)`
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	return s.query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE seller_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`,
		sellerID, limit,
	)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Listing, error) {
	return s.query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE status = $1
		ORDER BY created_at ASC, id ASC LIMIT $2`,
		status, limit,
	)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(row scanner) (*Listing, error) {
	var l Listing
	var reason sql.NullString
	err := row.Scan(&l.ID, &l.SellerID, &l.CategoryID, &l.Title, &l.Price,
		&l.Status, &reason, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.RejectionReason = reason.String
	// NUMERIC scans back with full scale; render "45.000000" as "45.00".
	if v, ok := money.Parse(l.Price); ok {
		l.Price = money.Format(v)
	}
	return &l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}


var _ Store = (*PostgresStore)(nil)
