package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"boutique-loyalty/pkg/db/pagination"
	"boutique-loyalty/services/testutil"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &User{}, &Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParams{DB: db, Node: node})
	return svc, db
}

func seedUser(t *testing.T, db *gorm.DB, id string, balance, earned int64) {
	t.Helper()
	require.NoError(t, db.Create(&User{
		ID:                id,
		LoyaltyPoints:     balance,
		TotalPointsEarned: earned,
	}).Error)
}

func TestService_ApplyCreditRaisesBothCounters(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 0, 0)

	entry, err := svc.Apply(context.Background(), ApplyParams{
		UserID:      "user-1",
		Points:      100,
		Type:        TypeEarnedSignup,
		Description: "Bonus de bienvenue : 100 points",
		ReferenceID: "signup:user-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	require.Equal(t, int64(100), entry.Points)

	user, err := svc.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), user.LoyaltyPoints)
	require.Equal(t, int64(100), user.TotalPointsEarned)
}

func TestService_ApplyDebitLowersOnlyBalance(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 500, 500)

	_, err := svc.Apply(context.Background(), ApplyParams{
		UserID:      "user-1",
		Points:      -300,
		Type:        TypeRedeemed,
		ReferenceID: "grant:g-1",
	})
	require.NoError(t, err)

	user, err := svc.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(200), user.LoyaltyPoints)
	require.Equal(t, int64(500), user.TotalPointsEarned)
}

func TestService_ApplyDebitInsufficientPoints(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 100, 100)

	_, err := svc.Apply(context.Background(), ApplyParams{
		UserID:      "user-1",
		Points:      -200,
		Type:        TypeRedeemed,
		ReferenceID: "grant:g-1",
	})
	require.ErrorIs(t, err, ErrInsufficientPoints)

	// failed debit leaves the counters and the ledger untouched
	user, err := svc.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), user.LoyaltyPoints)

	var count int64
	require.NoError(t, db.Model(&Entry{}).Where("user_id = ?", "user-1").Count(&count).Error)
	require.Zero(t, count)
}

func TestService_ApplyUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Apply(context.Background(), ApplyParams{
		UserID:      "ghost",
		Points:      50,
		Type:        TypeEarnedReview,
		ReferenceID: "review:ghost:p-1",
	})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_ApplyDuplicateReference(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 0, 0)

	p := ApplyParams{
		UserID:      "user-1",
		Points:      100,
		Type:        TypeEarnedSignup,
		ReferenceID: "signup:user-1",
	}

	_, err := svc.Apply(context.Background(), p)
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), p)
	require.ErrorIs(t, err, ErrDuplicateEntry)

	// the rejected replay must not move the balance
	user, err := svc.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), user.LoyaltyPoints)
}

func TestService_ApplyValidation(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 0, 0)

	_, err := svc.Apply(context.Background(), ApplyParams{
		UserID: "user-1",
		Points: 10,
		Type:   TypeEarnedOrder,
	})
	require.Error(t, err, "missing reference_id must be rejected")

	_, err = svc.Apply(context.Background(), ApplyParams{
		UserID:      "user-1",
		Points:      0,
		Type:        TypeEarnedOrder,
		ReferenceID: "order:o-1",
	})
	require.Error(t, err, "zero points must be rejected")

	_, err = svc.Apply(context.Background(), ApplyParams{
		UserID:      "user-1",
		Points:      10,
		Type:        EntryType("bogus"),
		ReferenceID: "order:o-1",
	})
	require.Error(t, err, "unknown entry type must be rejected")
}

func TestService_ConcurrentDebitsNeverOverspend(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 100, 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Apply(context.Background(), ApplyParams{
				UserID:      "user-1",
				Points:      -60,
				Type:        TypeRedeemed,
				ReferenceID: fmt.Sprintf("grant:g-%d", i),
			})
		}(i)
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientPoints)
			failed++
		}
	}
	require.Equal(t, 1, failed, "exactly one of the two debits must lose")

	user, err := svc.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(40), user.LoyaltyPoints)

	var count int64
	require.NoError(t, db.Model(&Entry{}).Where("user_id = ?", "user-1").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestService_HistoryPagination(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 0, 0)

	for i := 0; i < 5; i++ {
		_, err := svc.Apply(context.Background(), ApplyParams{
			UserID:      "user-1",
			Points:      10,
			Type:        TypeEarnedOrder,
			ReferenceID: fmt.Sprintf("order:o-%d", i),
		})
		require.NoError(t, err)
	}

	entries, pageInfo, err := svc.History(context.Background(), "user-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, pageInfo.HasMore)
	require.NotEmpty(t, pageInfo.NextCursor)
	require.Equal(t, "order:o-4", entries[0].ReferenceID, "newest entry comes first")

	entries, pageInfo, err = svc.History(context.Background(), "user-1", pagination.Pagination{
		Cursor: pageInfo.NextCursor,
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, pageInfo.HasMore)
	require.Equal(t, "order:o-2", entries[0].ReferenceID)

	entries, pageInfo, err = svc.History(context.Background(), "user-1", pagination.Pagination{
		Cursor: pageInfo.NextCursor,
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, pageInfo.HasMore)
	require.Equal(t, "order:o-0", entries[0].ReferenceID)

	var count int64
	require.NoError(t, db.Model(&Entry{}).Count(&count).Error)
	require.Equal(t, int64(5), count)
}

func TestService_HistoryUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.History(context.Background(), "ghost", pagination.Pagination{})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_HistoryInvalidCursor(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 0, 0)

	_, _, err := svc.History(context.Background(), "user-1", pagination.Pagination{Cursor: "not-a-cursor"})
	require.Error(t, err)
}
