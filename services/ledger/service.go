package ledger

import (
	"context"
	"errors"
	"time"

	"boutique-loyalty/pkg/db/pagination"
	"boutique-loyalty/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errutil.NotFound("user not found", nil)
	ErrDuplicateEntry     = errutil.Conflict("ledger entry already recorded", nil)
	ErrInsufficientPoints = errutil.UnprocessableEntity("insufficient points", nil)
)

// ApplyParams describes one point-changing event. Points is signed: positive
// entries raise both counters, negative entries only lower the spendable
// balance.
type ApplyParams struct {
	UserID      string
	Points      int64
	Type        EntryType
	Description string
	ReferenceID string
	OrderID     *string
	RewardID    *string
	Metadata    datatypes.JSON
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo Repository
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: NewRepository(p.DB),
	}
}

// Apply records one ledger event in its own transaction: the entry insert and
// the balance mutation both happen or neither does.
func (s *Service) Apply(ctx context.Context, p ApplyParams) (*Entry, error) {
	var entry *Entry
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		e, err := s.ApplyTx(ctx, tx, p)
		if err != nil {
			return err
		}
		entry = e
		return nil
	}); err != nil {
		return nil, err
	}

	return entry, nil
}

// ApplyTx is the transactional unit behind Apply. The redemption coordinator
// calls it inside its own transaction so the grant, the stock decrement and
// the point deduction commit as one.
func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, p ApplyParams) (*Entry, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", p.UserID),
		zap.String("reference_id", p.ReferenceID),
	}

	if p.UserID == "" || p.ReferenceID == "" {
		return nil, errutil.BadRequest("user_id and reference_id are required", nil)
	}
	if !p.Type.Valid() {
		return nil, errutil.BadRequest("unsupported entry type", nil)
	}
	if p.Points == 0 {
		return nil, errutil.BadRequest("points must be non-zero", nil)
	}

	repo := s.repo.WithTrx(tx)

	// Idempotency backstop on top of the unique index: a reference already
	// recorded for this user means the trigger fired twice.
	if existing, err := repo.Entry(ctx, p.UserID, p.ReferenceID); err == nil && existing != nil {
		zap.L().With(opts...).Warn("duplicate ledger reference")
		return nil, ErrDuplicateEntry
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var mutated bool
	var err error
	if p.Points > 0 {
		mutated, err = repo.Credit(ctx, p.UserID, p.Points)
	} else {
		mutated, err = repo.Debit(ctx, p.UserID, -p.Points)
	}
	if err != nil {
		zap.L().With(opts...).Error("failed to mutate balance", zap.Error(err))
		return nil, err
	}

	if !mutated {
		if _, err := repo.User(ctx, p.UserID); errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		} else if err != nil {
			return nil, err
		}
		// user exists, so the debit guard rejected the deduction
		return nil, ErrInsufficientPoints
	}

	entry := &Entry{
		ID:          s.node.Generate().String(),
		UserID:      p.UserID,
		Points:      p.Points,
		Type:        p.Type,
		Description: p.Description,
		OrderID:     p.OrderID,
		RewardID:    p.RewardID,
		ReferenceID: p.ReferenceID,
		Metadata:    p.Metadata,
	}

	if err := repo.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateEntry
		}
		zap.L().With(opts...).Error("failed to create ledger entry", zap.Error(err))
		return nil, err
	}

	return entry, nil
}

// Balance returns the user's current counters.
func (s *Service) Balance(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.User(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// History lists the user's ledger entries newest first with cursor paging.
func (s *Service) History(ctx context.Context, userID string, p pagination.Pagination) ([]*Entry, *pagination.PageInfo, error) {
	if _, err := s.Balance(ctx, userID); err != nil {
		return nil, nil, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	params := ListParams{Limit: limit + 1}
	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		params.AfterID = cursor.ID
	}

	entries, err := s.repo.ListEntries(ctx, userID, params)
	if err != nil {
		zap.L().Error("failed to list ledger entries", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, err
	}

	entries, pageInfo := pagination.BuildCursorPageInfo(entries, limit, func(e *Entry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID, CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})

	return entries, pageInfo, nil
}
