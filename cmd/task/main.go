package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"pointsledger/pkg/config"
	"pointsledger/pkg/db"
	"pointsledger/pkg/gen"
	"pointsledger/pkg/hashistack/secretmanager"
	"pointsledger/pkg/logger"
	"pointsledger/pkg/otelcol"
	"pointsledger/pkg/profiling"
	"pointsledger/pkg/redis"
	"pointsledger/pkg/sequence"
	"pointsledger/pkg/task"
	"pointsledger/services/audit"
	"pointsledger/services/customer"
	"pointsledger/services/points"
	"pointsledger/services/pointsconfig"
	jobs "pointsledger/services/task"
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
		task.Server,

		audit.Module,
		audit.TaskModule,
		pointsconfig.Module,
		customer.Module,
		points.Module,
		jobs.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
