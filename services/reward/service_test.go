package reward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"boutique-loyalty/pkg/config"
	"boutique-loyalty/pkg/errutil"
	"boutique-loyalty/services/ledger"
	"boutique-loyalty/services/testutil"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &ledger.User{}, &ledger.Entry{}, &Reward{}, &UserReward{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{
		Loyalty: config.LoyaltyRules{
			PointsPerUnit: 10,
			SignupBonus:   100,
			ReviewBonus:   50,
			HistoryLimit:  20,
			CatalogTTL:    time.Minute,
		},
	}

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	svc := NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Ledger: ledgerSvc,
		Config: cfg,
	})

	return svc, db
}

func seedUser(t *testing.T, db *gorm.DB, id string, balance int64) {
	t.Helper()
	require.NoError(t, db.Create(&ledger.User{
		ID:                id,
		LoyaltyPoints:     balance,
		TotalPointsEarned: balance,
	}).Error)
}

func stock(n int64) *int64 { return &n }

func createReward(t *testing.T, svc *Service, p CreateParams) *Reward {
	t.Helper()
	r, err := svc.Create(context.Background(), p)
	require.NoError(t, err)
	return r
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateParams{
		Title:      "",
		PointsCost: -5,
		Type:       RewardType("bogus"),
		Stock:      stock(-1),
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Details, 4)
}

func TestService_CreateDefaultsValidDays(t *testing.T) {
	svc, _ := newTestService(t)

	r := createReward(t, svc, CreateParams{
		Title:      "Livraison gratuite",
		PointsCost: 300,
		Type:       FreeShipping,
	})
	require.Equal(t, 30, r.ValidDays)
	require.True(t, r.IsActive)
	require.Nil(t, r.Stock)
}

func TestService_ListActiveOrdering(t *testing.T) {
	svc, _ := newTestService(t)

	createReward(t, svc, CreateParams{Title: "10% de réduction", PointsCost: 750, Type: DiscountPercentage, Value: 10})
	createReward(t, svc, CreateParams{Title: "Livraison gratuite", PointsCost: 300, Type: FreeShipping})
	hidden := createReward(t, svc, CreateParams{Title: "5€ de réduction", PointsCost: 500, Type: DiscountFixed, Value: 500})

	inactive := false
	_, err := svc.Update(context.Background(), hidden.ID, UpdateParams{IsActive: &inactive})
	require.NoError(t, err)

	rewards, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	require.Equal(t, "Livraison gratuite", rewards[0].Title, "cheapest first")
	require.Equal(t, "10% de réduction", rewards[1].Title)
}

func TestService_CatalogCacheInvalidation(t *testing.T) {
	svc, _ := newTestService(t)

	createReward(t, svc, CreateParams{Title: "Livraison gratuite", PointsCost: 300, Type: FreeShipping})

	rewards, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rewards, 1)

	// the create path invalidates, so the new reward is visible immediately
	createReward(t, svc, CreateParams{Title: "5€ de réduction", PointsCost: 500, Type: DiscountFixed, Value: 500})

	rewards, err = svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rewards, 2)
}

func TestService_UpdateFields(t *testing.T) {
	svc, _ := newTestService(t)

	r := createReward(t, svc, CreateParams{
		Title:      "10% de réduction",
		PointsCost: 750,
		Type:       DiscountPercentage,
		Value:      10,
		Stock:      stock(5),
	})

	cost := int64(900)
	updated, err := svc.Update(context.Background(), r.ID, UpdateParams{PointsCost: &cost})
	require.NoError(t, err)
	require.Equal(t, int64(900), updated.PointsCost)
	require.NotNil(t, updated.Stock)

	updated, err = svc.Update(context.Background(), r.ID, UpdateParams{ClearStock: true})
	require.NoError(t, err)
	require.Nil(t, updated.Stock, "clearing stock makes the reward unlimited")

	_, err = svc.Update(context.Background(), r.ID, UpdateParams{})
	require.Error(t, err, "empty patch must be rejected")

	_, err = svc.Update(context.Background(), "missing", UpdateParams{PointsCost: &cost})
	require.ErrorIs(t, err, ErrRewardNotFound)
}

func TestService_Delete(t *testing.T) {
	svc, _ := newTestService(t)

	r := createReward(t, svc, CreateParams{Title: "Livraison gratuite", PointsCost: 300, Type: FreeShipping})

	require.NoError(t, svc.Delete(context.Background(), r.ID))
	_, err := svc.Get(context.Background(), r.ID)
	require.ErrorIs(t, err, ErrRewardNotFound)

	require.ErrorIs(t, svc.Delete(context.Background(), r.ID), ErrRewardNotFound)
}

func TestService_RedeemHappyPath(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 800)

	r := createReward(t, svc, CreateParams{
		Title:      "5€ de réduction",
		PointsCost: 500,
		Type:       DiscountFixed,
		Value:      500,
	})

	grant, err := svc.Redeem(context.Background(), "user-1", r.ID)
	require.NoError(t, err)
	require.Equal(t, "user-1", grant.UserID)
	require.Equal(t, r.ID, grant.RewardID)
	require.False(t, grant.IsUsed)
	require.NotNil(t, grant.Reward)
	require.WithinDuration(t, time.Now().Add(30*24*time.Hour), grant.ExpiresAt, time.Minute)

	user, err := svc.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), user.LoyaltyPoints)
	require.Equal(t, int64(800), user.TotalPointsEarned, "redeeming never lowers lifetime points")

	var entry ledger.Entry
	require.NoError(t, db.Where("user_id = ? AND type = ?", "user-1", ledger.TypeRedeemed).First(&entry).Error)
	require.Equal(t, int64(-500), entry.Points)
	require.NotNil(t, entry.RewardID)
	require.Equal(t, r.ID, *entry.RewardID)
	require.Equal(t, "grant:"+grant.ID, entry.ReferenceID)
}

func TestService_RedeemTypedFailures(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 200)

	_, err := svc.Redeem(context.Background(), "user-1", "missing")
	require.ErrorIs(t, err, ErrRewardNotFound)

	hidden := createReward(t, svc, CreateParams{Title: "10% de réduction", PointsCost: 100, Type: DiscountPercentage, Value: 10})
	inactive := false
	_, err = svc.Update(context.Background(), hidden.ID, UpdateParams{IsActive: &inactive})
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), "user-1", hidden.ID)
	require.ErrorIs(t, err, ErrRewardNotFound, "inactive rewards are not redeemable")

	pricey := createReward(t, svc, CreateParams{Title: "15% de réduction", PointsCost: 1200, Type: DiscountPercentage, Value: 15})
	_, err = svc.Redeem(context.Background(), "user-1", pricey.ID)
	require.ErrorIs(t, err, ErrInsufficientPoints)

	gone := createReward(t, svc, CreateParams{Title: "Livraison gratuite", PointsCost: 100, Type: FreeShipping, Stock: stock(0)})
	_, err = svc.Redeem(context.Background(), "user-1", gone.ID)
	require.ErrorIs(t, err, ErrOutOfStock)

	_, err = svc.Redeem(context.Background(), "ghost", pricey.ID)
	require.ErrorIs(t, err, ledger.ErrUserNotFound)

	// none of the rejections may leave a grant or a ledger entry behind
	var grants int64
	require.NoError(t, db.Model(&UserReward{}).Count(&grants).Error)
	require.Zero(t, grants)
	var entries int64
	require.NoError(t, db.Model(&ledger.Entry{}).Count(&entries).Error)
	require.Zero(t, entries)
}

func TestService_RedeemLastUnitRace(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 1000)
	seedUser(t, db, "user-2", 1000)

	r := createReward(t, svc, CreateParams{
		Title:      "5€ de réduction",
		PointsCost: 500,
		Type:       DiscountFixed,
		Value:      500,
		Stock:      stock(1),
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	users := []string{"user-1", "user-2"}
	for i, userID := range users {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(context.Background(), userID, r.ID)
		}(i, userID)
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfStock)
			failed++
		}
	}
	require.Equal(t, 1, failed, "the last unit goes to exactly one of the racers")

	var current Reward
	require.NoError(t, db.First(&current, "id = ?", r.ID).Error)
	require.NotNil(t, current.Stock)
	require.Equal(t, int64(0), *current.Stock)

	// the loser keeps their points
	var total int64
	require.NoError(t, db.Model(&ledger.User{}).Select("COALESCE(SUM(loyalty_points), 0)").Scan(&total).Error)
	require.Equal(t, int64(1500), total)

	var grants int64
	require.NoError(t, db.Model(&UserReward{}).Count(&grants).Error)
	require.Equal(t, int64(1), grants)
}

func TestService_RedeemBalanceRace(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 100)

	r := createReward(t, svc, CreateParams{
		Title:      "Petit bonus",
		PointsCost: 60,
		Type:       FreeShipping,
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(context.Background(), "user-1", r.ID)
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
	require.Equal(t, 1, failed, "100 points only cover one 60-point redemption")

	user, err := svc.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(40), user.LoyaltyPoints)

	var grants int64
	require.NoError(t, db.Model(&UserReward{}).Count(&grants).Error)
	require.Equal(t, int64(1), grants, "the losing redemption rolls back its grant")
}

func TestService_RedeemUnlimitedStock(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 1000)

	r := createReward(t, svc, CreateParams{
		Title:      "Livraison gratuite",
		PointsCost: 300,
		Type:       FreeShipping,
	})

	for i := 0; i < 3; i++ {
		_, err := svc.Redeem(context.Background(), "user-1", r.ID)
		require.NoError(t, err)
	}

	user, err := svc.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), user.LoyaltyPoints)
}

func TestService_GrantLifecycle(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 1000)

	r := createReward(t, svc, CreateParams{Title: "5€ de réduction", PointsCost: 500, Type: DiscountFixed, Value: 500})

	grant, err := svc.Redeem(context.Background(), "user-1", r.ID)
	require.NoError(t, err)

	active, err := svc.ListGrants(context.Background(), "user-1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NotNil(t, active[0].Reward)

	used, err := svc.UseGrant(context.Background(), "user-1", grant.ID)
	require.NoError(t, err)
	require.True(t, used.IsUsed)
	require.NotNil(t, used.UsedAt)

	active, err = svc.ListGrants(context.Background(), "user-1", true)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := svc.ListGrants(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = svc.UseGrant(context.Background(), "user-1", grant.ID)
	require.ErrorIs(t, err, ErrGrantNotUsable)

	_, err = svc.UseGrant(context.Background(), "user-2", grant.ID)
	require.ErrorIs(t, err, ErrGrantNotFound, "another user's grant looks missing")

	_, err = svc.UseGrant(context.Background(), "user-1", "missing")
	require.ErrorIs(t, err, ErrGrantNotFound)

	// expired grants are unusable and drop out of the active list
	expired := &UserReward{
		ID:        "grant-expired",
		UserID:    "user-1",
		RewardID:  r.ID,
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(expired).Error)

	_, err = svc.UseGrant(context.Background(), "user-1", expired.ID)
	require.ErrorIs(t, err, ErrGrantNotUsable)

	active, err = svc.ListGrants(context.Background(), "user-1", true)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestService_ListAllGrantCounts(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user-1", 2000)

	r1 := createReward(t, svc, CreateParams{Title: "5€ de réduction", PointsCost: 500, Type: DiscountFixed, Value: 500})
	createReward(t, svc, CreateParams{Title: "Livraison gratuite", PointsCost: 300, Type: FreeShipping})

	_, err := svc.Redeem(context.Background(), "user-1", r1.ID)
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), "user-1", r1.ID)
	require.NoError(t, err)

	stats, err := svc.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byTitle := map[string]int64{}
	for _, s := range stats {
		byTitle[s.Title] = s.GrantCount
	}
	require.Equal(t, int64(2), byTitle["5€ de réduction"])
	require.Equal(t, int64(0), byTitle["Livraison gratuite"])
}
