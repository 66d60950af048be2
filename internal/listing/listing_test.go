package listing

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadmarket/quadmarket/internal/principal"
)

var (
	seller = principal.Principal{UserID: "usr_seller", Role: principal.RoleStudent}
	other  = principal.Principal{UserID: "usr_other", Role: principal.RoleStudent}
	admin  = principal.Principal{UserID: "usr_admin", Role: principal.RoleAdmin}
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, NewMemoryCategoryStore()), store
}

func seed(t *testing.T, store *MemoryStore, status Status) *Listing {
	t.Helper()
	l := &Listing{
		ID:         "lst_" + string(status) + "_" + time.Now().Format("150405.000000000"),
		SellerID:   seller.UserID,
		CategoryID: "textbooks",
		Title:      "Calc II textbook",
		Price:      "45.00",
		Status:     status,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), l))
	return l
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService()

	l, err := svc.Create(context.Background(), seller, CreateRequest{
		Title:      "Dorm fridge",
		Price:      "60.00",
		CategoryID: "electronics",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(l.ID, "lst_"))
	assert.Equal(t, StatusPendingCommission, l.Status)
	assert.Equal(t, seller.UserID, l.SellerID)
	assert.Equal(t, "60.00", l.Price)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, principal.Principal{}, CreateRequest{Title: "x", Price: "1", CategoryID: "other"})
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.Create(ctx, seller, CreateRequest{Title: "", Price: "1", CategoryID: "other"})
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, err = svc.Create(ctx, seller, CreateRequest{Title: "x", Price: "0", CategoryID: "other"})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = svc.Create(ctx, seller, CreateRequest{Title: "x", Price: "-5", CategoryID: "other"})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = svc.Create(ctx, seller, CreateRequest{Title: "x", Price: "1", CategoryID: "spaceships"})
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestArchive(t *testing.T) {
	svc, store := newTestService()
	l := seed(t, store, StatusActive)

	got, err := svc.Archive(context.Background(), l.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)
}

func TestArchiveNotOwner(t *testing.T) {
	svc, store := newTestService()
	l := seed(t, store, StatusActive)

	_, err := svc.Archive(context.Background(), l.ID, other)
	assert.ErrorIs(t, err, ErrNotOwner)

	// Admins do not get to archive other people's listings either.
	_, err = svc.Archive(context.Background(), l.ID, admin)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestArchiveWrongStatus(t *testing.T) {
	svc, store := newTestService()
	l := seed(t, store, StatusPendingReview)

	_, err := svc.Archive(context.Background(), l.ID, seller)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, StatusPendingReview, statusErr.Current)
}

func TestModeration(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	l := seed(t, store, StatusPendingReview)
	got, err := svc.Approve(ctx, l.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	l2 := seed(t, store, StatusPendingReview)
	got, err = svc.Reject(ctx, l2.ID, admin, "spam")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "spam", got.RejectionReason)
}

func TestModerationRequiresAdmin(t *testing.T) {
	svc, store := newTestService()
	l := seed(t, store, StatusPendingReview)

	_, err := svc.Approve(context.Background(), l.ID, seller)
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = svc.Reject(context.Background(), l.ID, seller, "nope")
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestModerationWrongStatus(t *testing.T) {
	svc, store := newTestService()
	l := seed(t, store, StatusPendingCommission)

	_, err := svc.Approve(context.Background(), l.ID, admin)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.Reject(context.Background(), l.ID, admin, "reason")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDelete(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	for _, status := range []Status{StatusPendingCommission, StatusRejected, StatusArchived} {
		l := seed(t, store, status)
		require.NoError(t, svc.Delete(ctx, l.ID, seller), "delete in %s", status)
		_, err := svc.Get(ctx, l.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestDeleteRefusedInActiveStates(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	for _, status := range []Status{StatusPendingReview, StatusActive, StatusSold} {
		l := seed(t, store, status)
		err := svc.Delete(ctx, l.ID, seller)
		assert.ErrorIs(t, err, ErrInvalidStatus, "delete in %s", status)
	}
}

type stubEscrowChecker struct{ held bool }

func (s stubEscrowChecker) HasOpen(context.Context, string) (bool, error) {
	return s.held, nil
}

func TestDeleteBlockedByEscrow(t *testing.T) {
	svc, store := newTestService()
	svc.WithEscrowChecker(stubEscrowChecker{held: true})
	l := seed(t, store, StatusArchived)

	err := svc.Delete(context.Background(), l.ID, seller)
	assert.ErrorIs(t, err, ErrEscrowHeld)

	// Still present.
	_, err = svc.Get(context.Background(), l.ID)
	assert.NoError(t, err)
}

func TestMarkSoldSingleWinner(t *testing.T) {
	svc, store := newTestService()
	l := seed(t, store, StatusActive)

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.MarkSold(context.Background(), l.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := svc.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSold, got.Status)
}

func TestRevertSold(t *testing.T) {
	svc, store := newTestService()
	l := seed(t, store, StatusSold)

	require.NoError(t, svc.RevertSold(context.Background(), l.ID))
	got, err := svc.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestBrowseActive(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		l := &Listing{
			ID:         "lst_" + string(rune('a'+i)),
			SellerID:   seller.UserID,
			CategoryID: "textbooks",
			Title:      "Book",
			Price:      "10.00",
			Status:     StatusActive,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
			UpdatedAt:  base,
		}
		require.NoError(t, store.Create(ctx, l))
	}
	seed(t, store, StatusPendingReview) // must not appear

	page, next, more, err := svc.BrowseActive(ctx, "", "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.True(t, more)
	assert.NotEmpty(t, next)
	assert.Equal(t, "lst_e", page[0].ID) // newest first

	page2, _, more2, err := svc.BrowseActive(ctx, "", next, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.False(t, more2)
	assert.Equal(t, "lst_b", page2[0].ID)
}

func TestBrowseActiveCategoryFilter(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	a := seed(t, store, StatusActive)
	b := &Listing{
		ID: "lst_bike", SellerID: seller.UserID, CategoryID: "bikes",
		Title: "Bike", Price: "80", Status: StatusActive,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, b))

	page, _, _, err := svc.BrowseActive(ctx, "bikes", "", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "lst_bike", page[0].ID)
	assert.NotEqual(t, a.ID, page[0].ID)
}

func TestBrowseActiveBadCursor(t *testing.T) {
	svc, _ := newTestService()
	_, _, _, err := svc.BrowseActive(context.Background(), "", "!!!not-base64!!!", 10)
	assert.Error(t, err)
}

func TestListBySellerAuthorization(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	seed(t, store, StatusPendingCommission)
	seed(t, store, StatusActive)

	items, err := svc.ListBySeller(ctx, seller.UserID, seller, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = svc.ListBySeller(ctx, seller.UserID, admin, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = svc.ListBySeller(ctx, seller.UserID, other, 0)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestReviewQueue(t *testing.T) {
	svc, store := newTestService()
	seed(t, store, StatusPendingReview)
	seed(t, store, StatusActive)

	items, err := svc.ReviewQueue(context.Background(), admin, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, StatusPendingReview, items[0].Status)

	_, err = svc.ReviewQueue(context.Background(), seller, 0)
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestStatusErrorUnwraps(t *testing.T) {
	err := &StatusError{Op: "archive", Current: StatusSold}
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Contains(t, err.Error(), "archive")
	assert.Contains(t, err.Error(), "sold")
}
