package reward

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository describes database operations available for rewards and grants.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository

	Get(ctx context.Context, rewardID string) (*Reward, error)
	ListActive(ctx context.Context) ([]*Reward, error)
	ListAll(ctx context.Context) ([]*Reward, error)
	Create(ctx context.Context, reward *Reward) error
	Update(ctx context.Context, rewardID string, fields map[string]any) error
	Delete(ctx context.Context, rewardID string) error
	DecrementStock(ctx context.Context, rewardID string) (bool, error)
	GrantCounts(ctx context.Context) (map[string]int64, error)

	CreateGrant(ctx context.Context, grant *UserReward) error
	Grant(ctx context.Context, grantID string) (*UserReward, error)
	ListGrants(ctx context.Context, userID string, activeOnly bool, now time.Time) ([]*UserReward, error)
	UseGrant(ctx context.Context, userID, grantID string, now time.Time) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) Get(ctx context.Context, rewardID string) (*Reward, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var reward Reward
	err := r.db.WithContext(ctx).
		Where("id = ?", rewardID).
		First(&reward).Error
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// ListActive orders cheapest first so attainable rewards show before
// aspirational ones.
func (r *gormRepository) ListActive(ctx context.Context) ([]*Reward, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rewards []*Reward
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("points_cost ASC").
		Find(&rewards).Error
	if err != nil {
		return nil, err
	}
	return rewards, nil
}

func (r *gormRepository) ListAll(ctx context.Context) ([]*Reward, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rewards []*Reward
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&rewards).Error
	if err != nil {
		return nil, err
	}
	return rewards, nil
}

func (r *gormRepository) Create(ctx context.Context, reward *Reward) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(reward).Error
}

func (r *gormRepository) Update(ctx context.Context, rewardID string, fields map[string]any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Model(&Reward{}).
		Where("id = ?", rewardID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) Delete(ctx context.Context, rewardID string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Where("id = ?", rewardID).
		Delete(&Reward{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DecrementStock takes one unit if and only if stock is finite and still
// positive at commit time. Zero rows affected means the racer lost.
func (r *gormRepository) DecrementStock(ctx context.Context, rewardID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Model(&Reward{}).
		Where("id = ? AND stock IS NOT NULL AND stock > 0", rewardID).
		Update("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) GrantCounts(ctx context.Context) (map[string]int64, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rows []struct {
		RewardID string
		N        int64
	}
	err := r.db.WithContext(ctx).
		Model(&UserReward{}).
		Select("reward_id, COUNT(*) AS n").
		Group("reward_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.RewardID] = row.N
	}
	return counts, nil
}

func (r *gormRepository) CreateGrant(ctx context.Context, grant *UserReward) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(grant).Error
}

func (r *gormRepository) Grant(ctx context.Context, grantID string) (*UserReward, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var grant UserReward
	err := r.db.WithContext(ctx).
		Preload("Reward").
		Where("id = ?", grantID).
		First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *gormRepository) ListGrants(ctx context.Context, userID string, activeOnly bool, now time.Time) ([]*UserReward, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).
		Preload("Reward").
		Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("is_used = ? AND expires_at >= ?", false, now)
	}

	var grants []*UserReward
	if err := query.Order("created_at DESC").Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

// UseGrant consumes the grant, guarded so a grant can only flip to used once
// and only while unexpired.
func (r *gormRepository) UseGrant(ctx context.Context, userID, grantID string, now time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Model(&UserReward{}).
		Where("id = ? AND user_id = ? AND is_used = ? AND expires_at >= ?", grantID, userID, false, now).
		Updates(map[string]any{
			"is_used": true,
			"used_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
