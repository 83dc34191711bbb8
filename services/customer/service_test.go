package customer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pointsledger/pkg/errutil"
	"pointsledger/services/pointsconfig"
	"pointsledger/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type defaultConfigs struct{}

func (defaultConfigs) Effective(ctx context.Context, tenantID string) (*pointsconfig.PointsConfig, error) {
	return pointsconfig.DefaultConfig(tenantID), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(ServiceParams{DB: testutil.NewTestDB(t, &Customer{}), Configs: defaultConfigs{}})
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "expected BaseError, got %v", err)
	require.Equal(t, want, be.Status())
}

func TestUpsertAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c, err := svc.Upsert(ctx, "tenant_1", "cust_1", UpsertRequest{Name: "Thandi", Tier: "premium"})
	require.NoError(t, err)
	require.Equal(t, "PREMIUM", c.Tier)
	require.Equal(t, StatusActive, c.Status)

	c, err = svc.Upsert(ctx, "tenant_1", "cust_1", UpsertRequest{Name: "Thandi M", Tier: "ELITE", Status: StatusInactive})
	require.NoError(t, err)
	require.Equal(t, "ELITE", c.Tier)

	got, err := svc.Get(ctx, "tenant_1", "cust_1")
	require.NoError(t, err)
	require.Equal(t, "Thandi M", got.Name)
	require.Equal(t, StatusInactive, got.Status)

	_, err = svc.Get(ctx, "tenant_2", "cust_1")
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestUpsertRejectsUnknownTier(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Upsert(context.Background(), "tenant_1", "cust_1", UpsertRequest{Tier: "PLATINUM"})
	requireStatus(t, err, errutil.StatusValidationFailed)

	_, err = svc.Upsert(context.Background(), "tenant_1", "cust_1", UpsertRequest{Tier: "BASIC", Status: "banned"})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestLockInsideTransaction(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "tenant_1", "cust_1", UpsertRequest{Tier: "BASIC"})
	require.NoError(t, err)

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		c, err := svc.Lock(ctx, tx, "tenant_1", "cust_1")
		require.NoError(t, err)
		require.Equal(t, "cust_1", c.ID)

		_, err = svc.Lock(ctx, tx, "tenant_1", "missing")
		return err
	})
	requireStatus(t, err, errutil.StatusNotFound)
}
