package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pointsledger/pkg/auth"
	"pointsledger/pkg/config"
	"pointsledger/pkg/db"
	"pointsledger/pkg/db/option"
	"pointsledger/pkg/logger"
	"pointsledger/pkg/metrics"
	"pointsledger/pkg/repository"
	"pointsledger/pkg/task"
	"pointsledger/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("audit.service",
	fx.Provide(
		NewService,
		func(s *Service) Publisher { return s },
	),
	fx.Invoke(migrate),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.AutoMigrate(cfg, gdb, &AuditLog{}, &DeadLetter{})
}

// Publisher hands events to the audit queue. Publish never fails the
// caller: undeliverable events are dead-lettered.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer
	maxRetry int

	logs        repository.Repository[AuditLog]
	deadLetters repository.Repository[DeadLetter]
	now         func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Enqueuer task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	maxRetry := p.Config.Audit.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 10
	}
	return &Service{
		db:          p.DB,
		node:        p.Node,
		enqueuer:    p.Enqueuer,
		maxRetry:    maxRetry,
		logs:        repository.ProvideStore[AuditLog](p.DB),
		deadLetters: repository.ProvideStore[DeadLetter](p.DB),
		now:         time.Now,
	}
}

func (s *Service) Publish(ctx context.Context, event Event) {
	// the primary write is already committed; a cancelled request must not
	// drop its audit record
	ctx = context.WithoutCancel(ctx)

	if event.ID == "" {
		event.ID = s.node.Generate().String()
	}
	if event.Actor == "" {
		event.Actor = auth.Actor(ctx)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() && event.TraceID == "" {
		event.TraceID = sc.TraceID().String()
	}

	zapLog := logger.FromContext(ctx).With(
		zap.String("event_id", event.ID),
		zap.String("tenant_id", event.TenantID),
		zap.String("action", event.Action),
	)

	if err := s.enqueue(ctx, event); err != nil {
		metrics.AuditDeadLetter.Inc()
		zapLog.Warn("audit enqueue failed, dead-lettering event", zap.Error(err))

		if dlErr := s.deadLetter(ctx, event, err); dlErr != nil {
			zapLog.Error("failed to store audit dead letter", zap.Error(dlErr))
		}
	}
}

func (s *Service) enqueue(ctx context.Context, event Event) error {
	if s.enqueuer == nil {
		return errors.New("audit queue not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.AuditRecord, payload),
		asynq.Queue(taskname.QueueAudit),
		asynq.MaxRetry(s.maxRetry),
		asynq.TaskID(event.ID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// already queued by an earlier attempt
		return nil
	}
	return err
}

func (s *Service) deadLetter(ctx context.Context, event Event, cause error) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_error": cause.Error(),
			"attempts":   gorm.Expr("audit_dead_letters.attempts + 1"),
			"status":     DeadLetterPending,
		}),
	}).Create(&DeadLetter{
		ID:        s.node.Generate().String(),
		EventID:   event.ID,
		TenantID:  event.TenantID,
		Action:    event.Action,
		Event:     datatypes.JSON(raw),
		LastError: cause.Error(),
		Attempts:  1,
		Status:    DeadLetterPending,
	}).Error
}

// Record persists an event. Redelivered events are ignored by primary key.
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&AuditLog{
		ID:           event.ID,
		TenantID:     event.TenantID,
		Actor:        event.Actor,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Payload:      datatypes.JSON(payload),
		TraceID:      event.TraceID,
		OccurredAt:   event.OccurredAt,
	}).Error
}

// Redrive re-enqueues up to limit pending dead letters, oldest first, and
// returns how many were handed back to the queue.
func (s *Service) Redrive(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	pending, err := s.deadLetters.Find(ctx, &DeadLetter{Status: DeadLetterPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(limit),
	)
	if err != nil {
		return 0, err
	}

	redriven := 0
	for _, dl := range pending {
		var event Event
		if err := json.Unmarshal(dl.Event, &event); err != nil {
			zap.L().Error("corrupt audit dead letter", zap.String("id", dl.ID), zap.Error(err))
			continue
		}

		if err := s.enqueue(ctx, event); err != nil {
			_ = s.deadLetters.Update(ctx, dl.ID, map[string]any{
				"attempts":   dl.Attempts + 1,
				"last_error": err.Error(),
			})
			zap.L().Warn("audit redrive failed", zap.String("event_id", event.ID), zap.Error(err))
			// the queue is likely still down; retry the batch later
			break
		}

		now := s.now().UTC()
		if err := s.deadLetters.Update(ctx, dl.ID, map[string]any{
			"status":      DeadLetterRedriven,
			"redriven_at": now,
		}); err != nil {
			return redriven, err
		}
		redriven++
	}

	if redriven > 0 {
		zap.L().Info("audit dead letters redriven", zap.Int("count", redriven))
	}
	return redriven, nil
}

// Logs lists a tenant's audit records for a resource, newest first.
func (s *Service) Logs(ctx context.Context, tenantID, resourceID string) ([]*AuditLog, error) {
	return s.logs.Find(ctx, &AuditLog{TenantID: tenantID, ResourceID: resourceID},
		option.WithSortBy(option.QuerySortBy{SortBy: "occurred_at", OrderBy: "desc", Allow: map[string]bool{"occurred_at": true}}),
	)
}
