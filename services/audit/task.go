package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"pointsledger/pkg/config"
	"pointsledger/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.audit",
	fx.Invoke(registerHandlers),
)

type RedrivePayload struct {
	Limit int `json:"limit"`
}

func registerHandlers(mux *asynq.ServeMux, s *Service, cfg *config.Config) {
	mux.HandleFunc(taskname.AuditRecord, s.HandleRecordTask)
	mux.HandleFunc(taskname.AuditRedrive, func(ctx context.Context, t *asynq.Task) error {
		return s.HandleRedriveTask(ctx, t, cfg.Audit.RedriveBatch)
	})
}

func (s *Service) HandleRecordTask(ctx context.Context, t *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		// a malformed payload will never succeed
		return fmt.Errorf("invalid audit payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := s.Record(ctx, event); err != nil {
		zap.L().Error("failed to record audit event",
			zap.String("event_id", event.ID),
			zap.String("tenant_id", event.TenantID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) HandleRedriveTask(ctx context.Context, t *asynq.Task, defaultLimit int) error {
	payload := RedrivePayload{Limit: defaultLimit}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid redrive payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	_, err := s.Redrive(ctx, payload.Limit)
	return err
}
