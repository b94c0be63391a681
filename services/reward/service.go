package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boutique-loyalty/pkg/config"
	"boutique-loyalty/pkg/errutil"
	"boutique-loyalty/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrRewardNotFound = errutil.NotFound("reward not available", nil)
	ErrOutOfStock     = errutil.Conflict("reward out of stock", nil)
	ErrGrantNotFound  = errutil.NotFound("reward grant not found", nil)
	ErrGrantNotUsable = errutil.Conflict("reward grant already used or expired", nil)

	// the deduction guard lives in the ledger; re-exported for callers
	ErrInsufficientPoints = ledger.ErrInsufficientPoints
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	repo   Repository
	ledger *ledger.Service
	cache  *CatalogCache
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger *ledger.Service
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		repo:   NewRepository(p.DB),
		ledger: p.Ledger,
		cache:  NewCatalogCache(p.Redis, p.Config.Loyalty.CatalogTTL),
	}
}

// ListActive returns the redeemable catalog, cheapest first, through the
// catalog cache.
func (s *Service) ListActive(ctx context.Context) ([]*Reward, error) {
	return s.cache.Load(ctx, s.repo.ListActive)
}

// Get returns one reward, active or not.
func (s *Service) Get(ctx context.Context, rewardID string) (*Reward, error) {
	reward, err := s.repo.Get(ctx, rewardID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	return reward, nil
}

// ListAll is the admin view: every reward, newest first, with grant counts.
func (s *Service) ListAll(ctx context.Context) ([]*RewardStats, error) {
	rewards, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.GrantCounts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*RewardStats, 0, len(rewards))
	for _, r := range rewards {
		out = append(out, &RewardStats{Reward: r, GrantCount: counts[r.ID]})
	}
	return out, nil
}

// CreateParams carries the admin create payload.
type CreateParams struct {
	Title       string
	Description string
	PointsCost  int64
	Type        RewardType
	Value       int64
	Stock       *int64
	ValidDays   int
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Reward, error) {
	if p.ValidDays == 0 {
		p.ValidDays = 30
	}
	if err := validateReward(p.Title, p.PointsCost, p.Type, p.Stock, p.ValidDays); err != nil {
		return nil, err
	}

	reward := &Reward{
		ID:          s.node.Generate().String(),
		Title:       p.Title,
		Description: p.Description,
		PointsCost:  p.PointsCost,
		Type:        p.Type,
		Value:       p.Value,
		Stock:       p.Stock,
		ValidDays:   p.ValidDays,
		IsActive:    true,
	}

	if err := s.repo.Create(ctx, reward); err != nil {
		zap.L().Error("failed to create reward", zap.Error(err))
		return nil, err
	}

	s.cache.Invalidate(ctx)
	return reward, nil
}

// UpdateParams carries the field-level admin patch; nil means "leave as is".
// ClearStock switches a finite reward back to unlimited.
type UpdateParams struct {
	Title       *string
	Description *string
	PointsCost  *int64
	Type        *RewardType
	Value       *int64
	Stock       *int64
	ClearStock  bool
	ValidDays   *int
	IsActive    *bool
}

func (s *Service) Update(ctx context.Context, rewardID string, p UpdateParams) (*Reward, error) {
	fields := map[string]any{}
	if p.Title != nil {
		if *p.Title == "" {
			return nil, errutil.ValidationFailed("title must not be empty", nil)
		}
		fields["title"] = *p.Title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.PointsCost != nil {
		if *p.PointsCost <= 0 {
			return nil, errutil.ValidationFailed("points_cost must be positive", nil)
		}
		fields["points_cost"] = *p.PointsCost
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return nil, errutil.ValidationFailed("unsupported reward type", nil)
		}
		fields["type"] = *p.Type
	}
	if p.Value != nil {
		fields["value"] = *p.Value
	}
	if p.ClearStock {
		fields["stock"] = gorm.Expr("NULL")
	} else if p.Stock != nil {
		if *p.Stock < 0 {
			return nil, errutil.ValidationFailed("stock must not be negative", nil)
		}
		fields["stock"] = *p.Stock
	}
	if p.ValidDays != nil {
		if *p.ValidDays <= 0 {
			return nil, errutil.ValidationFailed("valid_days must be positive", nil)
		}
		fields["valid_days"] = *p.ValidDays
	}
	if p.IsActive != nil {
		fields["is_active"] = *p.IsActive
	}

	if len(fields) == 0 {
		return nil, errutil.BadRequest("no fields to update", nil)
	}

	if err := s.repo.Update(ctx, rewardID, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}

	s.cache.Invalidate(ctx)
	return s.Get(ctx, rewardID)
}

func (s *Service) Delete(ctx context.Context, rewardID string) error {
	if err := s.repo.Delete(ctx, rewardID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRewardNotFound
		}
		return err
	}

	s.cache.Invalidate(ctx)
	return nil
}

// Redeem exchanges points for a reward grant. The grant insert, the stock
// decrement and the ledger deduction commit as one transaction; both counters
// are guarded conditional decrements, so a racer that loses gets ErrOutOfStock
// or ErrInsufficientPoints rather than driving either counter negative.
func (s *Service) Redeem(ctx context.Context, userID, rewardID string) (*UserReward, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
		zap.String("reward_id", rewardID),
	}

	reward, err := s.Get(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if !reward.IsActive {
		return nil, ErrRewardNotFound
	}

	// pre-checks for a fast answer; the transaction below re-checks both
	if reward.Stock != nil && *reward.Stock <= 0 {
		return nil, ErrOutOfStock
	}

	user, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.LoyaltyPoints < reward.PointsCost {
		return nil, ErrInsufficientPoints
	}

	grant := &UserReward{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		RewardID:  reward.ID,
		ExpiresAt: time.Now().Add(time.Duration(reward.ValidDays) * 24 * time.Hour),
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		if err := repo.CreateGrant(ctx, grant); err != nil {
			return err
		}

		if reward.Stock != nil {
			taken, err := repo.DecrementStock(ctx, reward.ID)
			if err != nil {
				return err
			}
			if !taken {
				return ErrOutOfStock
			}
		}

		_, err := s.ledger.ApplyTx(ctx, tx, ledger.ApplyParams{
			UserID:      userID,
			Points:      -reward.PointsCost,
			Type:        ledger.TypeRedeemed,
			Description: fmt.Sprintf("Échange de %d points contre %q", reward.PointsCost, reward.Title),
			ReferenceID: "grant:" + grant.ID,
			RewardID:    &reward.ID,
		})
		return err
	}); err != nil {
		zap.L().With(opts...).Warn("redemption rejected", zap.Error(err))
		return nil, err
	}

	if reward.Stock != nil {
		s.cache.Invalidate(ctx)
	}

	return s.repo.Grant(ctx, grant.ID)
}

// ListGrants returns the user's grants, optionally only the usable ones.
func (s *Service) ListGrants(ctx context.Context, userID string, activeOnly bool) ([]*UserReward, error) {
	return s.repo.ListGrants(ctx, userID, activeOnly, time.Now())
}

// UseGrant consumes a grant at checkout. The flip is a guarded update: a
// grant already used or expired surfaces a conflict instead of double
// application.
func (s *Service) UseGrant(ctx context.Context, userID, grantID string) (*UserReward, error) {
	used, err := s.repo.UseGrant(ctx, userID, grantID, time.Now())
	if err != nil {
		return nil, err
	}

	if !used {
		grant, err := s.repo.Grant(ctx, grantID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrGrantNotFound
			}
			return nil, err
		}
		if grant.UserID != userID {
			return nil, ErrGrantNotFound
		}
		return nil, ErrGrantNotUsable
	}

	return s.repo.Grant(ctx, grantID)
}

func validateReward(title string, pointsCost int64, rewardType RewardType, stock *int64, validDays int) error {
	var details []errutil.Detail
	if title == "" {
		details = append(details, errutil.Detail{Field: "title", Message: "must not be empty"})
	}
	if pointsCost <= 0 {
		details = append(details, errutil.Detail{Field: "points_cost", Message: "must be positive"})
	}
	if !rewardType.Valid() {
		details = append(details, errutil.Detail{Field: "type", Message: "unsupported reward type"})
	}
	if stock != nil && *stock < 0 {
		details = append(details, errutil.Detail{Field: "stock", Message: "must not be negative"})
	}
	if validDays <= 0 {
		details = append(details, errutil.Detail{Field: "valid_days", Message: "must be positive"})
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid reward", nil, errutil.WithDetails(details...))
	}
	return nil
}
