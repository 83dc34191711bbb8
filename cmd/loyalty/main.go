package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"pointsledger/pkg/access"
	"pointsledger/pkg/config"
	"pointsledger/pkg/db"
	"pointsledger/pkg/gen"
	"pointsledger/pkg/hashistack/secretmanager"
	"pointsledger/pkg/health"
	"pointsledger/pkg/httpapi"
	"pointsledger/pkg/logger"
	"pointsledger/pkg/otelcol"
	"pointsledger/pkg/profiling"
	"pointsledger/pkg/redis"
	"pointsledger/pkg/sequence"
	"pointsledger/pkg/server"
	"pointsledger/pkg/task"
	"pointsledger/services/apikey"
	"pointsledger/services/audit"
	"pointsledger/services/customer"
	"pointsledger/services/points"
	"pointsledger/services/pointsconfig"
	"pointsledger/services/report"
)

func main() {
	opts := []fx.Option{
		secretmanager.Option(),
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		access.Module,
		health.Module,
		httpapi.Module,

		audit.Module,
		apikey.Module,
		pointsconfig.Module,
		customer.Module,
		points.Module,
		report.Module,

		pointsconfig.Routes,
		customer.Routes,
		points.Routes,
		report.Routes,

		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
