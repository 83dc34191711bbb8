package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"pointsledger/pkg/access"
	"pointsledger/pkg/config"
	"pointsledger/pkg/db"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/gen"
	"pointsledger/pkg/logger"
	"pointsledger/services/apikey"
	"pointsledger/services/pointsconfig"
)

const seedActor = "system:seed"

type seedArgs struct {
	TenantID string
	Channel  string
}

func main() {
	args := seedArgs{}
	flag.StringVar(&args.TenantID, "tenant", "", "tenant id to seed")
	flag.StringVar(&args.Channel, "channel", "admin", "key id prefix of the admin API key")
	flag.Parse()

	if args.TenantID == "" {
		log.Fatal("-tenant is required")
	}

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		apikey.Module,
		pointsconfig.Module,
		fx.Supply(args),
		fx.Invoke(seed),
		fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
			return fxevent.NopLogger
		}),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

// seed writes the default configuration when the tenant has none, then
// issues one admin API key. The plaintext key is printed once.
func seed(args seedArgs, configs *pointsconfig.Service, keys *apikey.Service) error {
	ctx := context.Background()
	zapLog := zap.L().With(zap.String("tenant_id", args.TenantID))

	active, err := configs.Active(ctx, args.TenantID)
	var be errutil.BaseError
	switch {
	case err == nil:
		zapLog.Info("tenant already has an active config", zap.Int64("version", active.Version))
	case errors.As(err, &be) && be.Status() == errutil.StatusNotFound:
		written, err := configs.Write(ctx, args.TenantID, seedActor, pointsconfig.WriteRequest{})
		if err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		zapLog.Info("default config written", zap.Int64("version", written.Version), zap.String("code", written.Code))
	default:
		return fmt.Errorf("read active config: %w", err)
	}

	key, secret, err := keys.Issue(ctx, apikey.IssueRequest{
		TenantID:  args.TenantID,
		Channel:   args.Channel,
		Role:      access.RoleAdmin,
		CreatedBy: seedActor,
	})
	if err != nil {
		return fmt.Errorf("issue api key: %w", err)
	}

	zapLog.Info("admin api key issued", zap.String("key_id", key.KeyID))
	fmt.Printf("X-API-Key: %s\n", secret)
	return nil
}
