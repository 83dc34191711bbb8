package points

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pointsledger/pkg/db/option"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/repository"
	"pointsledger/services/customer"
)

type repoMock[T any] struct {
	findFn    func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn  func(ctx context.Context, resource *T) error
	updateFn  func(ctx context.Context, resourceID string, resource any) error
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error { return nil }
func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error { return nil }
func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error)    { return 0, nil }

type customersMock struct {
	known map[string]bool
}

func (m customersMock) Get(ctx context.Context, tenantID, customerID string) (*customer.Customer, error) {
	if !m.known[customerID] {
		return nil, errutil.NotFound("customer not found", nil)
	}
	return &customer.Customer{TenantID: tenantID, ID: customerID, Tier: "BASIC"}, nil
}

func (m customersMock) Lock(ctx context.Context, tx *gorm.DB, tenantID, customerID string) (*customer.Customer, error) {
	return m.Get(ctx, tenantID, customerID)
}

func chain(n int) []*LedgerEntry {
	entries := make([]*LedgerEntry, 0, n)
	prev := GenesisHash
	for i := 1; i <= n; i++ {
		e := &LedgerEntry{
			ID:           "e" + string(rune('0'+i)),
			TenantID:     tenant,
			CustomerID:   "c1",
			Type:         EntryEarn,
			Seq:          int64(i),
			Amount:       int64(10 * i),
			PreviousHash: prev,
			CreatedAt:    time.Date(2026, 1, i, 0, 0, 0, 0, time.UTC),
		}
		e.Hash = e.GenerateHash()
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func TestVerifyChainWithMockedStore(t *testing.T) {
	entries := chain(4)
	svc := &Service{
		customers: customersMock{known: map[string]bool{"c1": true}},
		entries: &repoMock[LedgerEntry]{
			findFn: func(ctx context.Context, query *LedgerEntry, opts ...option.QueryOption) ([]*LedgerEntry, error) {
				require.Equal(t, tenant, query.TenantID)
				require.Equal(t, "c1", query.CustomerID)
				return entries, nil
			},
		},
	}

	result, err := svc.VerifyChain(context.Background(), tenant, "c1")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 4, result.Entries)

	entries[2].Reason = "edited"
	result, err = svc.VerifyChain(context.Background(), tenant, "c1")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, entries[2].ID, result.BrokenAt)
}

func TestVerifyChainStoreError(t *testing.T) {
	svc := &Service{
		customers: customersMock{known: map[string]bool{"c1": true}},
		entries: &repoMock[LedgerEntry]{
			findFn: func(ctx context.Context, query *LedgerEntry, opts ...option.QueryOption) ([]*LedgerEntry, error) {
				return nil, errors.New("connection reset")
			},
		},
	}

	_, err := svc.VerifyChain(context.Background(), tenant, "c1")
	require.EqualError(t, err, "connection reset")

	_, err = svc.VerifyChain(context.Background(), tenant, "ghost")
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestVerifyEmptyChain(t *testing.T) {
	result := verify("c1", nil)
	require.True(t, result.Valid)
	require.Zero(t, result.Entries)
}
