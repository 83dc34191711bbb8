package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pointsledger/pkg/taskname"
	"pointsledger/services/points"
	"pointsledger/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	seen  map[string]bool
	fail  map[string]bool
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var payload ExpiryPayload
	_ = json.Unmarshal(t.Payload(), &payload)
	if f.fail[payload.TenantID] {
		return nil, errors.New("redis down")
	}

	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if id != "" && f.seen[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.seen[id] = true
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: id}, nil
}

type fakeSweeper struct {
	tenants []string
	err     error
	swept   []string
}

func (f *fakeSweeper) TenantsWithExpiredLots(ctx context.Context) ([]string, error) {
	return f.tenants, nil
}

func (f *fakeSweeper) ExpireSweep(ctx context.Context, tenantID string) (*points.SweepResult, error) {
	f.swept = append(f.swept, tenantID)
	if f.err != nil {
		return &points.SweepResult{TenantID: tenantID, Customers: 1}, f.err
	}
	return &points.SweepResult{TenantID: tenantID, Customers: 2, Lots: 3, Points: 450}, nil
}

func newTestService(t *testing.T, enq *fakeEnqueuer, sweeper *fakeSweeper) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := NewService(Params{
		DB:       testutil.NewTestDB(t, &Job{}),
		Node:     node,
		Enqueuer: enq,
		Points:   sweeper,
	})
	s.now = func() time.Time { return time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC) }
	return s
}

func TestEnqueueAllTenantsExpiryJobs(t *testing.T) {
	enq := &fakeEnqueuer{fail: map[string]bool{"tenant_c": true}}
	s := newTestService(t, enq, &fakeSweeper{tenants: []string{"tenant_a", "tenant_b", "tenant_c"}})

	n, err := s.EnqueueAllTenantsExpiryJobs(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, enq.tasks, 2)
	for _, task := range enq.tasks {
		require.Equal(t, taskname.PointsExpiryRun, task.Type())
	}

	// same day, same task ids
	_, err = s.EnqueueAllTenantsExpiryJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, enq.tasks, 2)
}

func TestHandleExpiryTaskRecordsJob(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := newTestService(t, &fakeEnqueuer{}, sweeper)

	payload, _ := json.Marshal(ExpiryPayload{TenantID: "tenant_a", RunDate: "2026-05-04"})
	require.NoError(t, s.HandleExpiryTask(context.Background(), asynq.NewTask(taskname.PointsExpiryRun, payload)))
	require.Equal(t, []string{"tenant_a"}, sweeper.swept)

	var jobs []Job
	require.NoError(t, s.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, JobStatusSuccess, jobs[0].Status)
	require.NotNil(t, jobs[0].CompletedAt)

	var result points.SweepResult
	require.NoError(t, json.Unmarshal(jobs[0].Metadata, &result))
	require.Equal(t, int64(450), result.Points)
}

func TestRunExpiryJobFailure(t *testing.T) {
	s := newTestService(t, &fakeEnqueuer{}, &fakeSweeper{err: errors.New("boom")})

	job, err := s.RunExpiryJob(context.Background(), "tenant_a")
	require.Error(t, err)
	require.Equal(t, JobStatusFailed, job.Status)

	var stored Job
	require.NoError(t, s.db.First(&stored, "id = ?", job.ID).Error)
	require.Equal(t, JobStatusFailed, stored.Status)
	require.Equal(t, "boom", stored.ErrorMsg)
}

func TestHandleExpiryTaskRejectsBadPayload(t *testing.T) {
	s := newTestService(t, &fakeEnqueuer{}, &fakeSweeper{})

	err := s.HandleExpiryTask(context.Background(), asynq.NewTask(taskname.PointsExpiryRun, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEnqueueAuditRedriveDeduplicates(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := newTestService(t, enq, &fakeSweeper{})

	require.NoError(t, s.EnqueueAuditRedrive(context.Background()))
	require.NoError(t, s.EnqueueAuditRedrive(context.Background()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.AuditRedrive, enq.tasks[0].Type())
}

func TestNextRunTime(t *testing.T) {
	now := time.Date(2026, 5, 4, 0, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC), nextRunTime(now, 1, 0))

	now = time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 5, 5, 1, 0, 0, 0, time.UTC), nextRunTime(now, 1, 0))

	now = time.Date(2026, 5, 4, 23, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 5, 5, 1, 0, 0, 0, time.UTC), nextRunTime(now, 1, 0))
}
