package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pointsledger/pkg/config"
	"pointsledger/pkg/logger"
	"pointsledger/pkg/task"
	"pointsledger/pkg/taskname"
	"pointsledger/services/points"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const enqueueConcurrency = 8

// Sweeper is the part of the points engine the expiry job drives.
type Sweeper interface {
	TenantsWithExpiredLots(ctx context.Context) ([]string, error)
	ExpireSweep(ctx context.Context, tenantID string) (*points.SweepResult, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer
	points   Sweeper
	now      func() time.Time
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer
	Points   Sweeper
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		points:   p.Points,
		now:      time.Now,
	}
}

func migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.AutoMigrate(&Job{})
}

func registerHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.PointsExpiryRun, s.HandleExpiryTask)
}

// EnqueueTenantExpiryJob queues one sweep for the tenant. The task id is
// derived from the tenant and run date, so a second enqueue on the same
// day is a no-op.
func (s *Service) EnqueueTenantExpiryJob(ctx context.Context, tenantID string, runDate time.Time) error {
	payload, err := json.Marshal(ExpiryPayload{TenantID: tenantID, RunDate: runDate.Format(time.DateOnly)})
	if err != nil {
		return err
	}

	taskID := fmt.Sprintf("%s:%s:%s", taskname.PointsExpiryRun, tenantID, runDate.Format(time.DateOnly))
	_, err = s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.PointsExpiryRun, payload),
		asynq.Queue(taskname.QueueDefault),
		asynq.TaskID(taskID),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	zap.L().Info("enqueued expiry job", zap.String("tenant_id", tenantID), zap.String("task_id", taskID))
	return nil
}

// EnqueueAllTenantsExpiryJobs queues a sweep for every tenant holding
// expired lots. A failure for one tenant does not stop the others.
func (s *Service) EnqueueAllTenantsExpiryJobs(ctx context.Context) (int, error) {
	tenants, err := s.points.TenantsWithExpiredLots(ctx)
	if err != nil {
		return 0, err
	}

	runDate := s.now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enqueueConcurrency)

	for _, tenantID := range tenants {
		g.Go(func() error {
			if err := s.EnqueueTenantExpiryJob(gctx, tenantID, runDate); err != nil {
				zap.L().Error("failed enqueue expiry job", zap.String("tenant_id", tenantID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("finished enqueue all expiry jobs", zap.Int("total_tenants", len(tenants)))
	return len(tenants), nil
}

// HandleExpiryTask is the asynq handler for points:expiry:run.
func (s *Service) HandleExpiryTask(ctx context.Context, t *asynq.Task) error {
	var payload ExpiryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TenantID == "" {
		return fmt.Errorf("invalid expiry payload: %w", asynq.SkipRetry)
	}

	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", payload.TenantID))
	zapLog.Info("processing expiry task")

	if _, err := s.RunExpiryJob(ctx, payload.TenantID); err != nil {
		zapLog.Error("failed to process expiry job", zap.Error(err))
		return err
	}
	return nil
}

// RunExpiryJob sweeps one tenant and keeps a Job record of the run.
func (s *Service) RunExpiryJob(ctx context.Context, tenantID string) (*Job, error) {
	job := &Job{
		ID:        s.node.Generate().String(),
		Type:      taskname.PointsExpiryRun,
		TenantID:  tenantID,
		Status:    JobStatusRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}

	result, sweepErr := s.points.ExpireSweep(ctx, tenantID)

	completed := s.now().UTC()
	updates := map[string]any{"completed_at": completed}
	if result != nil {
		meta, _ := json.Marshal(result)
		updates["metadata"] = meta
		job.Metadata = meta
	}
	if sweepErr != nil {
		job.Status = JobStatusFailed
		job.ErrorMsg = sweepErr.Error()
		updates["error_msg"] = job.ErrorMsg
	} else {
		job.Status = JobStatusSuccess
	}
	updates["status"] = job.Status
	job.CompletedAt = &completed

	// the sweep is committed per customer, so record the outcome even if the caller gave up
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		zap.L().Error("failed to update job record", zap.String("job_id", job.ID), zap.Error(err))
	}

	if sweepErr != nil {
		return job, sweepErr
	}
	zap.L().Info("expiry job finished",
		zap.String("tenant_id", tenantID),
		zap.Int("lots", result.Lots),
		zap.Int64("points", result.Points),
	)
	return job, nil
}

// EnqueueAuditRedrive asks a worker to replay dead-lettered audit events.
func (s *Service) EnqueueAuditRedrive(ctx context.Context) error {
	_, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.AuditRedrive, nil),
		asynq.Queue(taskname.QueueAudit),
		asynq.TaskID(taskname.AuditRedrive),
		asynq.MaxRetry(0),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}
