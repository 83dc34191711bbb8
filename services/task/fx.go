package task

import (
	"pointsledger/services/points"

	"go.uber.org/fx"
)

// Module wires the expiry and audit redrive jobs into a worker process.
var Module = fx.Module("task.service",
	fx.Provide(
		func(s *points.Service) Sweeper { return s },
		NewService,
		NewScheduler,
	),
	fx.Invoke(migrate, registerHandlers, StartScheduler),
)
