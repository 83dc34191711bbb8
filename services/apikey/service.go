package apikey

import (
	"context"
	"strings"
	"time"

	"pointsledger/pkg/auth"
	"pointsledger/pkg/config"
	"pointsledger/pkg/db"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/middleware"
	"pointsledger/pkg/repository"
	"pointsledger/pkg/security"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("apikey.service",
	fx.Provide(
		NewService,
		func(s *Service) middleware.APIKeyVerifier { return s },
	),
	fx.Invoke(migrate),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.AutoMigrate(cfg, gdb, &APIKey{})
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[APIKey]
	now  func() time.Time
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
		repo: repository.ProvideStore[APIKey](p.DB),
		now:  time.Now,
	}
}

// Issue creates a key and returns the plaintext credential. The secret is
// not recoverable afterwards.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*APIKey, string, error) {
	if req.TenantID == "" {
		return nil, "", errutil.BadRequest("tenant_id is required", nil)
	}
	if !req.Role.Valid() {
		return nil, "", errutil.BadRequest("unknown role "+string(req.Role), nil)
	}
	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = "partner"
	}

	secret, err := security.GenerateBase64Secret(32)
	if err != nil {
		return nil, "", err
	}
	hash, err := security.HashArgon2(secret)
	if err != nil {
		return nil, "", err
	}

	id := s.node.Generate()
	key := &APIKey{
		ID:         id.String(),
		TenantID:   req.TenantID,
		KeyID:      channel + "_" + id.Base36(),
		Role:       req.Role,
		SecretHash: hash,
		Status:     APIKeyStatusActive,
		ExpiresAt:  req.ExpiresAt,
	}
	if req.CreatedBy != "" {
		key.CreatedBy = &req.CreatedBy
	}

	if err := s.repo.Create(ctx, key); err != nil {
		zap.L().Error("failed to create api key", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, "", err
	}

	return key, key.KeyID + "." + secret, nil
}

// VerifyAPIKey implements middleware.APIKeyVerifier.
func (s *Service) VerifyAPIKey(ctx context.Context, keyID, secret string) (*auth.Principal, error) {
	key, err := s.repo.FindOne(ctx, &APIKey{KeyID: keyID})
	if err != nil {
		return nil, err
	}
	if key == nil || !key.usable(s.now()) {
		return nil, errutil.Unauthorized("invalid api key", nil)
	}

	ok, err := security.VerifyArgon2(secret, key.SecretHash)
	if err != nil || !ok {
		return nil, errutil.Unauthorized("invalid api key", err)
	}

	now := s.now().UTC()
	if err := s.repo.Update(ctx, key.ID, map[string]any{"last_used_at": now}); err != nil {
		zap.L().Warn("failed to touch api key", zap.String("key_id", keyID), zap.Error(err))
	}

	return &auth.Principal{
		Subject:  key.KeyID,
		TenantID: key.TenantID,
		Role:     key.Role,
		Channel:  middleware.DeriveChannelFromAPIKey(key.KeyID),
		Method:   auth.MethodAPIKey,
	}, nil
}

func (s *Service) Revoke(ctx context.Context, tenantID, keyID string) error {
	key, err := s.repo.FindOne(ctx, &APIKey{TenantID: tenantID, KeyID: keyID})
	if err != nil {
		return err
	}
	if key == nil {
		return errutil.NotFound("api key not found", nil)
	}
	return s.repo.Update(ctx, key.ID, map[string]any{"status": APIKeyStatusRevoked})
}
