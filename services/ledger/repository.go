package ledger

import (
	"context"

	"gorm.io/gorm"
)

// ListParams describes filters applied when listing ledger entries.
type ListParams struct {
	AfterID string
	Limit   int
}

// Repository describes database operations available for the ledger and the
// user balance counters. Both counter mutations are conditional atomic
// updates; callers never read-modify-write a balance.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	User(ctx context.Context, userID string) (*User, error)
	Entry(ctx context.Context, userID, referenceID string) (*Entry, error)
	CreateEntry(ctx context.Context, entry *Entry) error
	ListEntries(ctx context.Context, userID string, params ListParams) ([]*Entry, error)
	Credit(ctx context.Context, userID string, points int64) (bool, error)
	Debit(ctx context.Context, userID string, points int64) (bool, error)
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

func (r *gormRepository) User(ctx context.Context, userID string) (*User, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var user User
	err := r.db.WithContext(ctx).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) Entry(ctx context.Context, userID, referenceID string) (*Entry, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var entry Entry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND reference_id = ?", userID, referenceID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *gormRepository) CreateEntry(ctx context.Context, entry *Entry) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) ListEntries(ctx context.Context, userID string, params ListParams) ([]*Entry, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Entry{}).
		Where("user_id = ?", userID)

	if params.AfterID != "" {
		query = query.Where("id < ?", params.AfterID)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	// snowflake ids are time ordered, so id DESC is newest first
	query = query.Order("id DESC")

	var entries []*Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Credit adds points to both counters. Zero rows affected means the user does
// not exist.
func (r *gormRepository) Credit(ctx context.Context, userID string, points int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"loyalty_points":      gorm.Expr("loyalty_points + ?", points),
			"total_points_earned": gorm.Expr("total_points_earned + ?", points),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Debit removes points from the spendable balance only, guarded so the
// balance can never go negative. Zero rows affected means the user is missing
// or the guard failed at commit time.
func (r *gormRepository) Debit(ctx context.Context, userID string, points int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND loyalty_points >= ?", userID, points).
		Update("loyalty_points", gorm.Expr("loyalty_points - ?", points))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
