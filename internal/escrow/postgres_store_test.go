package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadmarket/quadmarket/internal/testutil"
)

func pgTransaction(id, listingID string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID: id, ListingID: listingID, SellerID: "usr_pg",
		Amount: "45.00", BuyerName: "Sam Buyer", Status: StatusHolding,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestPostgresStoreOpenHoldUnique(t *testing.T) {
	db := testutil.PG(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pgTransaction("esc_pg1", "lst_pgesc1")))

	// The partial unique index allows one open hold per listing.
	err := store.Create(ctx, pgTransaction("esc_pg2", "lst_pgesc1"))
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	open, err := store.HasOpen(ctx, "lst_pgesc1")
	require.NoError(t, err)
	assert.True(t, open)

	// A disputed hold still counts as open.
	ok, err := store.Transition(ctx, "esc_pg1", []Status{StatusHolding}, StatusDisputed, "no-show")
	require.NoError(t, err)
	assert.True(t, ok)

	err = store.Create(ctx, pgTransaction("esc_pg3", "lst_pgesc1"))
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	// Settling frees the listing for a new hold.
	ok, err = store.Transition(ctx, "esc_pg1", []Status{StatusHolding, StatusDisputed}, StatusRefunded, "")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, store.Create(ctx, pgTransaction("esc_pg4", "lst_pgesc1")))
}

func TestPostgresStoreGuardedSettlement(t *testing.T) {
	db := testutil.PG(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pgTransaction("esc_pg5", "lst_pgesc2")))

	ok, err := store.Transition(ctx, "esc_pg5", []Status{StatusHolding, StatusDisputed}, StatusReleased, "")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "esc_pg5")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, got.Status)
	assert.Equal(t, "45.00", got.Amount)
	require.NotNil(t, got.ReleasedAt)

	// The guard misses once the hold is settled.
	ok, err = store.Transition(ctx, "esc_pg5", []Status{StatusHolding, StatusDisputed}, StatusRefunded, "late")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = store.Get(ctx, "esc_pg5")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, got.Status)
	assert.Empty(t, got.ResolutionReason)

	open, err := store.HasOpen(ctx, "lst_pgesc2")
	require.NoError(t, err)
	assert.False(t, open)

	_, err = store.Get(ctx, "esc_pgmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}
