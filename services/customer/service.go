package customer

import (
	"context"
	"strings"
	"time"

	"pointsledger/pkg/config"
	"pointsledger/pkg/db"
	"pointsledger/pkg/db/option"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/repository"
	"pointsledger/services/audit"
	"pointsledger/services/pointsconfig"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("customer.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.AutoMigrate(cfg, gdb, &Customer{})
}

type Service struct {
	db      *gorm.DB
	configs pointsconfig.Reader
	audit   audit.Publisher
	repo    repository.Repository[Customer]
	now     func() time.Time
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Configs pointsconfig.Reader
	Audit   audit.Publisher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		configs: p.Configs,
		audit:   p.Audit,
		repo:    repository.ProvideStore[Customer](p.DB),
		now:     time.Now,
	}
}

func (s *Service) Get(ctx context.Context, tenantID, customerID string) (*Customer, error) {
	return s.get(ctx, s.repo, tenantID, customerID)
}

// Lock loads the customer with SELECT ... FOR UPDATE inside tx. It is the
// first statement of every balance-affecting transaction.
func (s *Service) Lock(ctx context.Context, tx *gorm.DB, tenantID, customerID string) (*Customer, error) {
	return s.get(ctx, s.repo.WithTrx(tx), tenantID, customerID, option.WithLockingUpdate())
}

func (s *Service) get(ctx context.Context, repo repository.Repository[Customer], tenantID, customerID string, opts ...option.QueryOption) (*Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errutil.BadRequest("customer_id is required", nil)
	}

	c, err := repo.FindOne(ctx, &Customer{TenantID: tenantID, ID: customerID}, opts...)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("customer not found", nil, errutil.WithDetails(errutil.Detail{Field: "customer_id", Message: customerID}))
	}
	return c, nil
}

// Upsert creates or replaces the mirrored customer. The tier must exist in
// the tenant's effective points configuration.
func (s *Service) Upsert(ctx context.Context, tenantID, customerID string, req UpsertRequest) (*Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errutil.BadRequest("customer_id is required", nil)
	}

	cfg, err := s.configs.Effective(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	tier := pointsconfig.NormalizeTier(req.Tier)
	if _, ok := cfg.Multiplier(tier); !ok {
		return nil, errutil.ValidationFailed("unknown membership tier", nil, errutil.WithDetails(errutil.Detail{
			Field:   "tier",
			Message: "must be one of " + strings.Join(cfg.Tiers(), ", "),
		}))
	}

	status := req.Status
	switch status {
	case "":
		status = StatusActive
	case StatusActive, StatusInactive:
	default:
		return nil, errutil.ValidationFailed("unknown customer status", nil, errutil.WithDetails(errutil.Detail{Field: "status", Message: "must be active or inactive"}))
	}

	now := s.now().UTC()
	c := &Customer{
		TenantID:  tenantID,
		ID:        customerID,
		Name:      strings.TrimSpace(req.Name),
		Tier:      tier,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "tier", "status", "updated_at"}),
	}).Create(c).Error; err != nil {
		zap.L().Error("failed to upsert customer", zap.String("tenant_id", tenantID), zap.String("customer_id", customerID), zap.Error(err))
		return nil, err
	}

	saved, err := s.Get(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Publish(ctx, audit.Event{
			TenantID:     tenantID,
			Action:       audit.ActionCustomerUpdated,
			ResourceType: "customer",
			ResourceID:   customerID,
			Payload:      map[string]any{"tier": saved.Tier, "status": saved.Status},
		})
	}
	return saved, nil
}
