package loyalty

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"boutique-loyalty/pkg/config"
	"boutique-loyalty/pkg/db/pagination"
	"boutique-loyalty/pkg/errutil"
	"boutique-loyalty/services/ledger"
	"boutique-loyalty/services/tier"
)

// Sentinel failures re-exported so callers match on one package.
var (
	ErrUserNotFound   = ledger.ErrUserNotFound
	ErrDuplicateAward = ledger.ErrDuplicateEntry
)

type ServiceParams struct {
	fx.In

	Config *config.Config
	Ledger *ledger.Service
}

type Service struct {
	rules  config.LoyaltyRules
	ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		rules:  p.Config.Loyalty,
		ledger: p.Ledger,
	}
}

// Summary is the aggregate view returned to the storefront account page.
type Summary struct {
	UserID       string          `json:"user_id"`
	Balance      int64           `json:"balance"`
	TotalEarned  int64           `json:"total_earned"`
	TotalSpent   int64           `json:"total_spent"`
	Tier         tier.Tier       `json:"tier"`
	NextTier     *tier.Tier      `json:"next_tier,omitempty"`
	TierProgress float64         `json:"tier_progress"`
	Recent       []*ledger.Entry `json:"recent_entries"`
}

// AwardSignupBonus credits the one-time welcome bonus. The reference is
// keyed on the user so a replayed signup event cannot award twice.
func (s *Service) AwardSignupBonus(ctx context.Context, userID string) (*ledger.Entry, error) {
	span := trace.SpanFromContext(ctx)
	fields := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
	}

	entry, err := s.ledger.Apply(ctx, ledger.ApplyParams{
		UserID:      userID,
		Points:      s.rules.SignupBonus,
		Type:        ledger.TypeEarnedSignup,
		Description: fmt.Sprintf("Bonus de bienvenue : %d points", s.rules.SignupBonus),
		ReferenceID: fmt.Sprintf("signup:%s", userID),
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("signup bonus awarded", append(fields, zap.Int64("points", s.rules.SignupBonus))...)
	return entry, nil
}

// AwardOrderPoints credits points for a paid order. orderTotal is the
// order amount in cents; the earn rate applies per whole currency unit,
// truncated.
func (s *Service) AwardOrderPoints(ctx context.Context, userID, orderID string, orderTotal int64) (*ledger.Entry, error) {
	if orderID == "" {
		return nil, errutil.BadRequest("order_id is required", nil)
	}
	if orderTotal < 0 {
		return nil, errutil.BadRequest("order_total must not be negative", nil)
	}
	if orderTotal < s.rules.MinOrderTotal {
		return nil, nil
	}

	points := orderTotal * s.rules.PointsPerUnit / 100
	if points <= 0 {
		return nil, nil
	}

	entry, err := s.ledger.Apply(ctx, ledger.ApplyParams{
		UserID:      userID,
		Points:      points,
		Type:        ledger.TypeEarnedOrder,
		Description: fmt.Sprintf("%d points gagnés pour votre commande de %s €", points, formatEuros(orderTotal)),
		ReferenceID: fmt.Sprintf("order:%s", orderID),
		OrderID:     &orderID,
		Metadata:    datatypes.JSON(fmt.Sprintf(`{"order_total":%d}`, orderTotal)),
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("order points awarded",
		zap.String("user_id", userID),
		zap.String("order_id", orderID),
		zap.Int64("points", points),
	)
	return entry, nil
}

// AwardReviewPoints credits the product review bonus, once per user and
// product.
func (s *Service) AwardReviewPoints(ctx context.Context, userID, productID string) (*ledger.Entry, error) {
	if productID == "" {
		return nil, errutil.BadRequest("product_id is required", nil)
	}

	entry, err := s.ledger.Apply(ctx, ledger.ApplyParams{
		UserID:      userID,
		Points:      s.rules.ReviewBonus,
		Type:        ledger.TypeEarnedReview,
		Description: fmt.Sprintf("%d points gagnés pour votre avis", s.rules.ReviewBonus),
		ReferenceID: fmt.Sprintf("review:%s:%s", userID, productID),
		Metadata:    datatypes.JSON(fmt.Sprintf(`{"product_id":%q}`, productID)),
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("review points awarded",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int64("points", s.rules.ReviewBonus),
	)
	return entry, nil
}

// GetSummary assembles the balance, tier standing and recent activity
// for one user.
func (s *Service) GetSummary(ctx context.Context, userID string) (*Summary, error) {
	user, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent, _, err := s.ledger.History(ctx, userID, pagination.Pagination{Limit: s.rules.HistoryLimit})
	if err != nil {
		return nil, err
	}

	progress := tier.ProgressOf(user.TotalPointsEarned)
	return &Summary{
		UserID:       user.ID,
		Balance:      user.LoyaltyPoints,
		TotalEarned:  user.TotalPointsEarned,
		TotalSpent:   user.TotalPointsEarned - user.LoyaltyPoints,
		Tier:         progress.Current,
		NextTier:     progress.Next,
		TierProgress: progress.Percent,
		Recent:       recent,
	}, nil
}

// History pages through a user's ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string, p pagination.Pagination) ([]*ledger.Entry, *pagination.PageInfo, error) {
	return s.ledger.History(ctx, userID, p)
}

func formatEuros(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}
