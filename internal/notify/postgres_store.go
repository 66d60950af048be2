package notify

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresSubscriptionStore persists webhook subscriptions in Postgres.
type PostgresSubscriptionStore struct {
	db *sql.DB
}

func NewPostgresSubscriptionStore(db *sql.DB) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{db: db}
}

const subColumns = `id, user_id, url, secret, events, active, created_at`

func (s *PostgresSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, user_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.UserID, sub.URL, sub.Secret, pq.Array(sub.Events), sub.Active, sub.CreatedAt,
	)
	return err
}

func (s *PostgresSubscriptionStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *PostgresSubscriptionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PostgresSubscriptionStore) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	return s.query(ctx, `
		SELECT `+subColumns+` FROM webhook_subscriptions
		WHERE user_id = $1 ORDER BY id`, userID)
}

func (s *PostgresSubscriptionStore) ListActive(ctx context.Context) ([]*Subscription, error) {
	return s.query(ctx, `
		SELECT `+subColumns+` FROM webhook_subscriptions
		WHERE active ORDER BY id`)
}

func (s *PostgresSubscriptionStore) query(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.URL, &sub.Secret,
		pq.Array(&sub.Events), &sub.Active, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

var _ SubscriptionStore = (*PostgresSubscriptionStore)(nil)
