package escrow

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/quadmarket/quadmarket/internal/money"
)

// PostgresStore persists escrow transactions in Postgres. A partial
// unique index on listing_id over the open states (holding, disputed)
// backs the one-open-hold-per-listing rule; settlement is a guarded
// UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, listing_id, seller_id, amount, buyer_user_id, buyer_name, buyer_phone, buyer_email, status, resolution_reason, created_at, released_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_transactions
			(id, listing_id, seller_id, amount, buyer_user_id, buyer_name, buyer_phone, buyer_email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.ListingID, tx.SellerID, tx.Amount,
		nullString(tx.BuyerUserID), tx.BuyerName, nullString(tx.BuyerPhone), nullString(tx.BuyerEmail),
		tx.Status, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyOpen
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from []Status, to Status, reason string) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE escrow_transactions
		SET status = $2,
		    resolution_reason = COALESCE(NULLIF($3, ''), resolution_reason),
		    released_at = CASE WHEN $2 = 'released' THEN NOW() ELSE released_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)`,
		id, to, reason, pq.Array(states),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) HasOpen(ctx context.Context, listingID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM escrow_transactions
			WHERE listing_id = $1 AND status IN ('holding', 'disputed')
		)`, listingID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Transaction, error) {
	return s.query(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions
		WHERE status = $1
		ORDER BY created_at ASC, id ASC LIMIT $2`,
		status, limit,
	)
}

func (s *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Transaction, error) {
	return s.query(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions
		WHERE seller_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`,
		sellerID, limit,
	)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var tx Transaction
	var buyerUserID, buyerPhone, buyerEmail, reason sql.NullString
	var releasedAt sql.NullTime
	err := row.Scan(&tx.ID, &tx.ListingID, &tx.SellerID, &tx.Amount,
		&buyerUserID, &tx.BuyerName, &buyerPhone, &buyerEmail,
		&tx.Status, &reason, &tx.CreatedAt, &releasedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tx.BuyerUserID = buyerUserID.String
	tx.BuyerPhone = buyerPhone.String
	tx.BuyerEmail = buyerEmail.String
	tx.ResolutionReason = reason.String
	// NUMERIC scans back with full scale; trim to display precision.
	if v, ok := money.Parse(tx.Amount); ok {
		tx.Amount = money.Format(v)
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		tx.ReleasedAt = &t
	}
	return &tx, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
