package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// EntryType identifies what caused a point movement.
type EntryType string

const (
	TypeEarnedSignup EntryType = "earned_signup"
	TypeEarnedOrder  EntryType = "earned_order"
	TypeEarnedReview EntryType = "earned_review"
	TypeRedeemed     EntryType = "redeemed"
)

func (t EntryType) Valid() bool {
	switch t {
	case TypeEarnedSignup, TypeEarnedOrder, TypeEarnedReview, TypeRedeemed:
		return true
	default:
		return false
	}
}

// User is the loyalty-owned slice of the storefront user record. Identity and
// profile fields belong to the auth system; this service only touches the two
// counters. LoyaltyPoints may rise and fall, TotalPointsEarned only rises,
// and LoyaltyPoints never exceeds TotalPointsEarned.
type User struct {
	ID                string    `gorm:"column:id;primaryKey" json:"id"`
	LoyaltyPoints     int64     `gorm:"column:loyalty_points;not null;default:0" json:"loyalty_points"`
	TotalPointsEarned int64     `gorm:"column:total_points_earned;not null;default:0" json:"total_points_earned"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Entry is one immutable row of the points ledger. ReferenceID is unique per
// user and encodes the triggering event (signup:<user>, order:<order>,
// review:<user>:<product>, grant:<grant>), so re-delivering a trigger is a
// detectable conflict instead of a double award.
type Entry struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	UserID      string         `gorm:"column:user_id;index;not null;uniqueIndex:idx_loyalty_entries_user_reference" json:"user_id"`
	Points      int64          `gorm:"column:points;not null" json:"points"`
	Type        EntryType      `gorm:"column:type;type:varchar(20);not null" json:"type"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	OrderID     *string        `gorm:"column:order_id;index" json:"order_id,omitempty"`
	RewardID    *string        `gorm:"column:reward_id;index" json:"reward_id,omitempty"`
	ReferenceID string         `gorm:"column:reference_id;not null;uniqueIndex:idx_loyalty_entries_user_reference" json:"reference_id"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Entry) TableName() string { return "loyalty_entries" }
