package commission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/quadmarket/quadmarket/internal/listing"
	"github.com/quadmarket/quadmarket/internal/money"
)

// PostgresStore persists the payment ledger in Postgres. Record runs
// the insert and the listing advance in one transaction; the unique
// index on listing_id is the exactly-once guarantee.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, p *Payment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO commission_payments (id, listing_id, payer_id, amount, rate, provider_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.ListingID, p.PayerID, p.Amount, p.Rate, nullString(p.ProviderRef), p.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyPaid
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE listings SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		p.ListingID, listing.StatusPendingReview, listing.StatusPendingCommission,
	)
	if err != nil {
		return fmt.Errorf("advance listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrStateChanged
	}

	return tx.Commit()
}

func (s *PostgresStore) GetByListing(ctx context.Context, listingID string) (*Payment, error) {
	var p Payment
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, listing_id, payer_id, amount, rate, provider_ref, created_at
		FROM commission_payments WHERE listing_id = $1`, listingID,
	).Scan(&p.ID, &p.ListingID, &p.PayerID, &p.Amount, &p.Rate, &ref, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ProviderRef = ref.String
	// NUMERIC scans back with full scale; trim to display precision.
	if v, ok := money.Parse(p.Amount); ok {
		p.Amount = money.Format(v)
	}
	if v, ok := money.Parse(p.Rate); ok {
		p.Rate = money.Format(v)
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
