package pointsconfig

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pointsledger/pkg/config"
	"pointsledger/pkg/db"
	"pointsledger/pkg/db/option"
	"pointsledger/pkg/db/pagination"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/logger"
	"pointsledger/pkg/metrics"
	"pointsledger/pkg/rediskey"
	"pointsledger/pkg/repository"
	"pointsledger/pkg/sequence"
	"pointsledger/services/audit"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var Module = fx.Module("pointsconfig.service",
	fx.Provide(
		NewService,
		func(s *Service) Reader { return s },
	),
	fx.Invoke(migrate),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.AutoMigrate(cfg, gdb, &PointsConfig{})
}

// Reader is what the ledger engines need from the configuration store.
type Reader interface {
	// Effective returns the active configuration, or the default one when
	// the tenant has none.
	Effective(ctx context.Context, tenantID string) (*PointsConfig, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	rdb      *redis.Client
	codes    sequence.Generator
	audit    audit.Publisher
	cacheTTL time.Duration

	repo  repository.Repository[PointsConfig]
	group singleflight.Group
	now   func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Redis  *redis.Client      `optional:"true"`
	Codes  sequence.Generator `optional:"true"`
	Audit  audit.Publisher    `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	ttl := p.Config.Points.ConfigCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		db:       p.DB,
		node:     p.Node,
		rdb:      p.Redis,
		codes:    p.Codes,
		audit:    p.Audit,
		cacheTTL: ttl,
		repo:     repository.ProvideStore[PointsConfig](p.DB),
		now:      time.Now,
	}
}

// Active returns the tenant's stored active configuration, or NotFound.
func (s *Service) Active(ctx context.Context, tenantID string) (*PointsConfig, error) {
	cfg, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errutil.NotFound("points configuration not found", nil)
	}
	return cfg, nil
}

func (s *Service) Effective(ctx context.Context, tenantID string) (*PointsConfig, error) {
	cfg, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return DefaultConfig(tenantID), nil
	}
	return cfg, nil
}

func (s *Service) load(ctx context.Context, tenantID string) (*PointsConfig, error) {
	if cfg, ok := s.cached(ctx, tenantID); ok {
		return cfg, nil
	}

	v, err, _ := s.group.Do(tenantID, func() (any, error) {
		// the result is shared with every caller waiting on tenantID
		ctx := context.WithoutCancel(ctx)
		cfg, err := s.repo.FindOne(ctx, &PointsConfig{TenantID: tenantID, IsActive: true})
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			s.fill(ctx, cfg)
		}
		return cfg, nil
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to load points configuration", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return v.(*PointsConfig), nil
}

// cached reads through redis. Any redis failure counts as a miss.
func (s *Service) cached(ctx context.Context, tenantID string) (*PointsConfig, bool) {
	if s.rdb == nil {
		return nil, false
	}

	raw, err := s.rdb.Get(ctx, rediskey.BuildPointsConfigKey(tenantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.FromContext(ctx).Warn("points config cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		metrics.ConfigCache.WithLabelValues("miss").Inc()
		return nil, false
	}

	var cfg PointsConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		metrics.ConfigCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.ConfigCache.WithLabelValues("hit").Inc()
	return &cfg, true
}

// store caches cfg, replacing any entry. Only Write calls it, with the
// version it just committed.
func (s *Service) store(ctx context.Context, cfg *PointsConfig) error {
	if s.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, rediskey.BuildPointsConfigKey(cfg.TenantID), raw, s.cacheTTL).Err()
}

// fill caches cfg only when the key is empty. A loader that read the
// previous version before a Write committed cannot replace the entry
// Write stored.
func (s *Service) fill(ctx context.Context, cfg *PointsConfig) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := s.rdb.SetNX(ctx, rediskey.BuildPointsConfigKey(cfg.TenantID), raw, s.cacheTTL).Err(); err != nil {
		logger.FromContext(ctx).Warn("points config cache write failed", zap.String("tenant_id", cfg.TenantID), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, rediskey.BuildPointsConfigKey(tenantID)).Err(); err != nil {
		// the entry still expires after cacheTTL
		logger.FromContext(ctx).Error("points config cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// Write merges req over the defaults, validates it and makes it the
// tenant's active version.
func (s *Service) Write(ctx context.Context, tenantID, actor string, req WriteRequest) (*PointsConfig, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("tenant_id is required", nil)
	}

	next := Merge(tenantID, req)
	if err := next.Validate(); err != nil {
		return nil, err
	}

	next.ID = s.node.Generate().String()
	next.CreatedBy = actor
	next.CreatedAt = s.now().UTC()
	next.IsActive = true
	next.Code = s.nextCode(ctx, tenantID)

	var previous *PointsConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		latest, err := repo.FindOne(ctx, &PointsConfig{TenantID: tenantID},
			option.WithSortBy(option.QuerySortBy{SortBy: "version", OrderBy: "desc", Allow: map[string]bool{"version": true}}),
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}

		next.Version = 1
		if latest != nil {
			next.Version = latest.Version + 1
		}

		if err := tx.Model(&PointsConfig{}).
			Where("tenant_id = ? AND is_active = ?", tenantID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}

		previous = latest
		return repo.Create(ctx, next)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("concurrent configuration write, retry", err)
		}
		logger.FromContext(ctx).Error("failed to write points configuration", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}

	if err := s.store(ctx, next); err != nil {
		logger.FromContext(ctx).Warn("points config cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
		s.invalidate(ctx, tenantID)
	}

	if s.audit != nil {
		payload := map[string]any{"version": next.Version, "config": next}
		if previous != nil {
			payload["previous_version"] = previous.Version
		}
		s.audit.Publish(ctx, audit.Event{
			TenantID:     tenantID,
			Actor:        actor,
			Action:       audit.ActionConfigWritten,
			ResourceType: "points_config",
			ResourceID:   next.ID,
			Payload:      payload,
		})
	}

	logger.FromContext(ctx).Info("points configuration written",
		zap.String("tenant_id", tenantID),
		zap.Int64("version", next.Version),
		zap.String("code", next.Code),
	)
	return next, nil
}

func (s *Service) nextCode(ctx context.Context, tenantID string) string {
	if s.codes != nil {
		if code, err := s.codes.NextConfigCode(ctx, tenantID); err == nil {
			return code
		}
	}
	code, _ := sequence.RandomCode("CFG", s.now())
	return code
}

// History lists every version of the tenant's configuration, newest first.
func (s *Service) History(ctx context.Context, tenantID string, page pagination.Pagination) ([]*PointsConfig, *pagination.PageInfo, error) {
	if err := page.Validate(); err != nil {
		return nil, nil, errutil.BadRequest("invalid cursor", err, errutil.WithDetails(errutil.Detail{Field: "cursor", Message: "malformed"}))
	}
	limit := page.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	if limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}

	rows, err := s.repo.Find(ctx, &PointsConfig{TenantID: tenantID}, option.ApplyPagination(page))
	if err != nil {
		return nil, nil, err
	}

	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(c *PointsConfig) pagination.Cursor {
		return pagination.Cursor{ID: c.ID, CreatedAt: c.CreatedAt.Format(time.RFC3339Nano)}
	})
	return rows, info, nil
}
