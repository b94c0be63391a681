package reward

import (
	"time"
)

// RewardType determines how a redeemed reward applies at checkout. Value is
// cents for discount_fixed, a percentage for discount_percentage, and is
// ignored for the other types.
type RewardType string

const (
	DiscountFixed      RewardType = "discount_fixed"
	DiscountPercentage RewardType = "discount_percentage"
	FreeShipping       RewardType = "free_shipping"
	FreeProduct        RewardType = "free_product"
)

func (t RewardType) Valid() bool {
	switch t {
	case DiscountFixed, DiscountPercentage, FreeShipping, FreeProduct:
		return true
	default:
		return false
	}
}

// Reward is one redeemable catalog item. Stock is nil for unlimited rewards;
// a non-nil stock is only ever decremented through the guarded counter and
// can never go negative.
type Reward struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	Title       string     `gorm:"column:title;not null" json:"title"`
	Description string     `gorm:"column:description;type:text" json:"description"`
	PointsCost  int64      `gorm:"column:points_cost;not null" json:"points_cost"`
	Type        RewardType `gorm:"column:type;type:varchar(30);not null" json:"type"`
	Value       int64      `gorm:"column:value;not null;default:0" json:"value"`
	Stock       *int64     `gorm:"column:stock" json:"stock"`
	ValidDays   int        `gorm:"column:valid_days;not null;default:30" json:"valid_days"`
	IsActive    bool       `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Reward) TableName() string { return "loyalty_rewards" }

// UserReward is a grant: one redeemed reward instance owned by a user. It is
// the unit of consumption for the checkout flow; IsUsed flips false→true
// exactly once and is never reversed.
type UserReward struct {
	ID        string     `gorm:"column:id;primaryKey" json:"id"`
	UserID    string     `gorm:"column:user_id;index;not null" json:"user_id"`
	RewardID  string     `gorm:"column:reward_id;index;not null" json:"reward_id"`
	IsUsed    bool       `gorm:"column:is_used;not null;default:false" json:"is_used"`
	UsedAt    *time.Time `gorm:"column:used_at" json:"used_at,omitempty"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt time.Time  `gorm:"column:created_at" json:"created_at"`

	Reward *Reward `gorm:"foreignKey:RewardID;references:ID" json:"reward,omitempty"`
}

func (UserReward) TableName() string { return "user_rewards" }

// Active reports whether the grant can still be applied to an order.
func (g *UserReward) Active(now time.Time) bool {
	return !g.IsUsed && !g.ExpiresAt.Before(now)
}

// RewardStats decorates a reward with its grant count for the admin listing.
type RewardStats struct {
	*Reward
	GrantCount int64 `json:"grant_count"`
}
