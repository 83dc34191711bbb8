package task

import (
	"context"
	"time"

	"pointsledger/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service         *Service
	expiryHour      int
	redriveInterval time.Duration
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{
		service:         svc,
		expiryHour:      cfg.Points.ExpiryHour,
		redriveInterval: cfg.Audit.RedriveInterval,
	}
}

// StartScheduler runs the scheduler loops for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.runExpiry(ctx)
			if s.redriveInterval > 0 {
				go s.runRedrive(ctx)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// runExpiry enqueues the expiry sweep once a day at the configured hour (UTC).
func (s *Scheduler) runExpiry(ctx context.Context) {
	zap.L().Info("[Scheduler] started points expiry scheduler", zap.Int("hour", s.expiryHour))

	for {
		now := time.Now().UTC()
		next := nextRunTime(now, s.expiryHour, 0)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			s.runDaily(ctx)
		case <-ctx.Done():
			timer.Stop()
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] Running daily expiry enqueue job")

	n, err := s.service.EnqueueAllTenantsExpiryJobs(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] failed enqueue all tenants", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] Finished enqueue all tenants",
		zap.Int("tenants", n),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) runRedrive(ctx context.Context) {
	ticker := time.NewTicker(s.redriveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.service.EnqueueAuditRedrive(ctx); err != nil {
				zap.L().Warn("[Scheduler] failed to enqueue audit redrive", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// nextRunTime returns the next occurrence of hour:minute after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
