package points

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pointsledger/pkg/config"
	"pointsledger/pkg/db/pagination"
	"pointsledger/pkg/errutil"
	"pointsledger/services/audit"
	"pointsledger/services/customer"
	"pointsledger/services/pointsconfig"
	"pointsledger/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type staticConfigs struct {
	cfg *pointsconfig.PointsConfig
}

func (s *staticConfigs) Effective(ctx context.Context, tenantID string) (*pointsconfig.PointsConfig, error) {
	return s.cfg, nil
}

type recordingPublisher struct {
	events []audit.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, e audit.Event) {
	r.events = append(r.events, e)
}

type fixture struct {
	svc     *Service
	configs *staticConfigs
	audit   *recordingPublisher
	now     time.Time
}

const tenant = "tenant_1"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &customer.Customer{}, &LedgerEntry{}, &Lot{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		configs: &staticConfigs{cfg: pointsconfig.DefaultConfig(tenant)},
		audit:   &recordingPublisher{},
		now:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	customers := customer.NewService(customer.ServiceParams{DB: db, Configs: f.configs})
	f.svc = NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Config:    &config.Config{},
		Configs:   f.configs,
		Customers: customers,
		Audit:     f.audit,
	})
	f.svc.now = func() time.Time { return f.now }

	for id, tier := range map[string]string{"basic": "BASIC", "premium": "PREMIUM", "elite": "ELITE"} {
		_, err := customers.Upsert(context.Background(), tenant, id, customer.UpsertRequest{Tier: tier})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) balance(t *testing.T, customerID string) int64 {
	t.Helper()
	s, err := f.svc.Summary(context.Background(), tenant, customerID, 0)
	require.NoError(t, err)
	return s.Balance
}

func (f *fixture) countEntries(t *testing.T, customerID string) int {
	t.Helper()
	entries, err := f.svc.Entries(context.Background(), tenant, customerID)
	require.NoError(t, err)
	return len(entries)
}

func (f *fixture) grant(t *testing.T, customerID string, points int64) {
	t.Helper()
	_, err := f.svc.Adjust(context.Background(), AdjustRequest{
		TenantID: tenant, CustomerID: customerID, Direction: DirectionAward, Points: points, Reason: "seed",
	})
	require.NoError(t, err)
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "expected BaseError, got %v", err)
	require.Equal(t, want, be.Status())
}

func TestEarnedPoints(t *testing.T) {
	cfg := pointsconfig.DefaultConfig(tenant)
	cases := []struct {
		spend int64
		tier  string
		want  int64
	}{
		{15000, "PREMIUM", 225},
		{15000, "BASIC", 150},
		{15000, "ELITE", 300},
		{5000, "BASIC", 50},
		{5099, "PREMIUM", 76}, // 76.485 rounds down
		{12345, "ELITE", 246},
	}
	for _, tc := range cases {
		m, ok := cfg.Multiplier(tc.tier)
		require.True(t, ok)
		require.Equal(t, tc.want, EarnedPoints(tc.spend, cfg.PointsPerCurrencyUnit, m), "%d %s", tc.spend, tc.tier)
	}
}

func TestAwardPremiumBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "premium", BookingID: "bk_1", Spend: 15000})
	require.NoError(t, err)
	require.Equal(t, int64(225), res.Points)
	require.Equal(t, "PREMIUM", res.Tier)
	require.Equal(t, int64(225), res.Balance)
	require.NotNil(t, res.ExpiresAt)
	require.True(t, f.now.Add(365*24*time.Hour).Equal(*res.ExpiresAt))

	require.Len(t, f.audit.events, 1)
	require.Equal(t, audit.ActionPointsAwarded, f.audit.events[0].Action)
}

func TestAwardTierOverride(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Award(context.Background(), AwardRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Spend: 15000, Tier: "elite"})
	require.NoError(t, err)
	require.Equal(t, int64(300), res.Points)

	_, err = f.svc.Award(context.Background(), AwardRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_2", Spend: 15000, Tier: "platinum"})
	requireStatus(t, err, errutil.StatusValidationFailed)
	require.Equal(t, 1, f.countEntries(t, "basic"))
}

func TestAwardAfterPartialMultiplierWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.configs.cfg = pointsconfig.Merge(tenant, pointsconfig.WriteRequest{
		MembershipMultipliers: pointsconfig.Multipliers{"PREMIUM": decimal.NewFromInt(2)},
	})

	res, err := f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Spend: 15000})
	require.NoError(t, err)
	require.Equal(t, int64(150), res.Points)

	res, err = f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "premium", BookingID: "bk_2", Spend: 15000})
	require.NoError(t, err)
	require.Equal(t, int64(300), res.Points)
}

func TestAwardStoredTierMissingFromConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg := pointsconfig.DefaultConfig(tenant)
	cfg.MembershipMultipliers = datatypes.NewJSONType(pointsconfig.Multipliers{"GOLD": decimal.NewFromInt(3)})
	f.configs.cfg = cfg

	res, err := f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "elite", BookingID: "bk_1", Spend: 15000})
	require.NoError(t, err)
	require.Equal(t, "ELITE", res.Tier)
	require.True(t, res.Multiplier.Equal(pointsconfig.BaseMultiplier))
	require.Equal(t, int64(150), res.Points)

	// an explicit tier the configuration does not list is still rejected
	_, err = f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "elite", BookingID: "bk_2", Spend: 15000, Tier: "PLATINUM"})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestAwardBelowMinimumSpendWritesNothing(t *testing.T) {
	f := newFixture(t)

	for _, spend := range []int64{0, 1, 4999} {
		res, err := f.svc.Award(context.Background(), AwardRequest{TenantID: tenant, CustomerID: "elite", BookingID: "bk_low", Spend: spend})
		require.NoError(t, err)
		require.Zero(t, res.Points)
		require.Nil(t, res.Entry)
	}
	require.Zero(t, f.countEntries(t, "elite"))
	require.Empty(t, f.audit.events)
}

func TestAwardValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Spend: -1})
	requireStatus(t, err, errutil.StatusValidationFailed)

	_, err = f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "basic", Spend: 10000})
	requireStatus(t, err, errutil.StatusBadRequest)

	_, err = f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "ghost", BookingID: "bk_1", Spend: 10000})
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestAwardIsIdempotentPerBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := AwardRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Spend: 20000}

	first, err := f.svc.Award(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := f.svc.Award(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Points, second.Points)
	require.Equal(t, first.Entry.ID, second.Entry.ID)

	require.Equal(t, 1, f.countEntries(t, "basic"))
	require.Equal(t, int64(200), f.balance(t, "basic"))
	require.Len(t, f.audit.events, 1)
}

func TestRedeemExample(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "basic", 500)

	res, err := f.svc.Redeem(context.Background(), RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_9", Points: 100, PurchaseTotal: 10000})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.DiscountAmount.Equal(decimal.NewFromInt(1)))
	require.Equal(t, int64(100), res.DiscountCents)
	require.Equal(t, int64(400), res.Balance)
	require.Equal(t, int64(400), f.balance(t, "basic"))
	require.Equal(t, int64(-100), res.Entry.Amount)

	again, err := f.svc.Redeem(context.Background(), RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_9", Points: 100, PurchaseTotal: 10000})
	require.NoError(t, err)
	require.True(t, again.Success)
	require.True(t, again.Duplicate)
	require.Equal(t, int64(100), again.DiscountCents)
	require.Equal(t, int64(400), f.balance(t, "basic"))
}

func TestRedeemGuards(t *testing.T) {
	cases := []struct {
		name     string
		points   int64
		purchase int64
		reason   RejectReason
	}{
		{"below minimum", 50, 10000, ReasonBelowMinimum},
		{"more than balance", 600, 100000, ReasonInsufficientBalance},
		// 300 points = R3.00, 50% of R5.00 is R2.50
		{"over max percent", 300, 500, ReasonExceedsMaxPercent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.grant(t, "basic", 500)
			before := f.countEntries(t, "basic")

			res, err := f.svc.Redeem(context.Background(), RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Points: tc.points, PurchaseTotal: tc.purchase})
			require.NoError(t, err)
			require.False(t, res.Success)
			require.Equal(t, tc.reason, res.Reason)
			require.NotEmpty(t, res.Message)

			require.Equal(t, before, f.countEntries(t, "basic"))
			require.Equal(t, int64(500), f.balance(t, "basic"))
		})
	}
}

func TestRedeemExactlyAtMaxPercent(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "basic", 500)

	// 250 points = R2.50 = 50% of R5.00
	res, err := f.svc.Redeem(context.Background(), RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Points: 250, PurchaseTotal: 500})
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestRedeemRequiresPositiveInputs(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Redeem(context.Background(), RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Points: 0, PurchaseTotal: 0})
	requireStatus(t, err, errutil.StatusValidationFailed)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Details, 2)
}

func TestRedeemConsumesEarliestExpiryFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, "basic", 100)
	f.now = f.now.Add(30 * 24 * time.Hour)
	f.grant(t, "basic", 200)

	_, err := f.svc.Redeem(ctx, RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Points: 150, PurchaseTotal: 100000})
	require.NoError(t, err)

	var lots []Lot
	require.NoError(t, f.svc.db.Order("expires_at asc").Find(&lots).Error)
	require.Len(t, lots, 2)
	require.Zero(t, lots[0].Remaining)
	require.Equal(t, int64(150), lots[1].Remaining)
}

func TestDeductClampsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "basic", 120)

	res, err := f.svc.Adjust(ctx, AdjustRequest{TenantID: tenant, CustomerID: "basic", Direction: DirectionDeduct, Points: 500, Reason: "fraud"})
	require.NoError(t, err)
	require.Equal(t, int64(120), res.Applied)
	require.Zero(t, res.Balance)
	require.Equal(t, int64(-120), res.Entry.Amount)
	require.Zero(t, f.balance(t, "basic"))

	res, err = f.svc.Adjust(ctx, AdjustRequest{TenantID: tenant, CustomerID: "basic", Direction: DirectionDeduct, Points: 10, Reason: "again"})
	require.NoError(t, err)
	require.Zero(t, res.Applied)
	require.Nil(t, res.Entry)
	require.Equal(t, 2, f.countEntries(t, "basic"))

	summary, err := f.svc.Summary(ctx, tenant, "basic", 0)
	require.NoError(t, err)
	require.Equal(t, int64(120), summary.LifetimeEarned)
	require.Equal(t, int64(120), summary.LifetimeDeducted)
	require.Equal(t, int64(120), summary.LifetimeRedeemed)
	require.Zero(t, summary.LifetimeRedemptions)
}

func TestAdjustValidationAndIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Adjust(ctx, AdjustRequest{TenantID: tenant, CustomerID: "basic", Direction: "steal", Points: 0})
	requireStatus(t, err, errutil.StatusValidationFailed)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Details, 3)

	req := AdjustRequest{TenantID: tenant, CustomerID: "basic", Direction: DirectionAward, Points: 40, Reason: "goodwill", ReferenceID: "ticket_7"}
	_, err = f.svc.Adjust(ctx, req)
	require.NoError(t, err)
	res, err := f.svc.Adjust(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Equal(t, int64(40), f.balance(t, "basic"))
}

func TestExpireSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now

	f.grant(t, "basic", 300)
	_, err := f.svc.Redeem(ctx, RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Points: 100, PurchaseTotal: 100000})
	require.NoError(t, err)

	f.now = start.Add(200 * 24 * time.Hour)
	f.grant(t, "elite", 50)

	// inside the warning window of the first lot
	f.now = start.Add(340 * 24 * time.Hour)
	summary, err := f.svc.Summary(ctx, tenant, "basic", 0)
	require.NoError(t, err)
	require.Equal(t, int64(200), summary.Balance)
	require.Equal(t, int64(200), summary.ExpiringSoon)

	// expired lots stop counting before the sweep runs
	f.now = start.Add(366 * 24 * time.Hour)
	require.Zero(t, f.balance(t, "basic"))

	tenants, err := f.svc.TenantsWithExpiredLots(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{tenant}, tenants)

	res, err := f.svc.ExpireSweep(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, 1, res.Customers)
	require.Equal(t, 1, res.Lots)
	require.Equal(t, int64(200), res.Points)

	entries, err := f.svc.Entries(ctx, tenant, "basic")
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	require.Zero(t, sum)
	require.Equal(t, EntryExpire, entries[len(entries)-1].Type)

	summary, err = f.svc.Summary(ctx, tenant, "basic", 0)
	require.NoError(t, err)
	require.Equal(t, int64(200), summary.LifetimeExpired)
	require.Equal(t, int64(300), summary.LifetimeRedeemed)
	require.Equal(t, int64(100), summary.LifetimeRedemptions)

	// the elite lot is still valid
	require.Equal(t, int64(50), f.balance(t, "elite"))

	again, err := f.svc.ExpireSweep(ctx, tenant)
	require.NoError(t, err)
	require.Zero(t, again.Lots)
}

func TestLifetimeRedeemedCountsEveryDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now

	f.grant(t, "basic", 300)
	_, err := f.svc.Redeem(ctx, RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Points: 100, PurchaseTotal: 100000})
	require.NoError(t, err)
	_, err = f.svc.Adjust(ctx, AdjustRequest{TenantID: tenant, CustomerID: "basic", Direction: DirectionDeduct, Points: 50, Reason: "correction"})
	require.NoError(t, err)

	f.now = start.Add(400 * 24 * time.Hour)
	_, err = f.svc.ExpireSweep(ctx, tenant)
	require.NoError(t, err)

	summary, err := f.svc.Summary(ctx, tenant, "basic", 0)
	require.NoError(t, err)
	require.Equal(t, int64(300), summary.LifetimeEarned)
	require.Equal(t, int64(300), summary.LifetimeRedeemed)
	require.Equal(t, int64(100), summary.LifetimeRedemptions)
	require.Equal(t, int64(50), summary.LifetimeDeducted)
	require.Equal(t, int64(150), summary.LifetimeExpired)
	require.Equal(t, summary.LifetimeRedeemed, summary.LifetimeRedemptions+summary.LifetimeDeducted+summary.LifetimeExpired)
	require.Zero(t, summary.Balance)
}

type ledgerOp struct {
	kind   EntryType
	points int64
}

func (f *fixture) apply(t *testing.T, customerID string, ops []ledgerOp) {
	t.Helper()
	ctx := context.Background()
	for i, op := range ops {
		var err error
		switch op.kind {
		case EntryRedeem:
			_, err = f.svc.Redeem(ctx, RedeemRequest{
				TenantID: tenant, CustomerID: customerID, BookingID: fmt.Sprintf("bk_%d", i), Points: op.points, PurchaseTotal: 1000000,
			})
		case EntryAdjust:
			_, err = f.svc.Adjust(ctx, AdjustRequest{
				TenantID: tenant, CustomerID: customerID, Direction: DirectionDeduct, Points: op.points, Reason: "correction",
			})
		default:
			f.grant(t, customerID, op.points)
		}
		require.NoError(t, err)
	}
}

func TestBalanceIndependentOfOrder(t *testing.T) {
	ops := []ledgerOp{
		{EntryEarn, 300},
		{EntryEarn, 120},
		{EntryRedeem, 100},
		{EntryEarn, 80},
		{EntryRedeem, 150},
		{EntryEarn, 45},
		{EntryAdjust, 60},
	}
	// debits move ahead of some credits; every prefix still covers them
	reordered := []ledgerOp{
		{EntryEarn, 300},
		{EntryRedeem, 150},
		{EntryEarn, 45},
		{EntryAdjust, 60},
		{EntryRedeem, 100},
		{EntryEarn, 120},
		{EntryEarn, 80},
	}

	a := newFixture(t)
	a.apply(t, "basic", ops)
	b := newFixture(t)
	b.apply(t, "basic", reordered)

	require.Equal(t, int64(235), a.balance(t, "basic"))
	require.Equal(t, a.balance(t, "basic"), b.balance(t, "basic"))
}

func TestVerifyChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, "basic", 300)
	_, err := f.svc.Award(ctx, AwardRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Spend: 10000})
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, RedeemRequest{TenantID: tenant, CustomerID: "basic", BookingID: "bk_1", Points: 100, PurchaseTotal: 100000})
	require.NoError(t, err)

	result, err := f.svc.VerifyChain(ctx, tenant, "basic")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 3, result.Entries)

	entries, err := f.svc.Entries(ctx, tenant, "basic")
	require.NoError(t, err)
	require.NoError(t, f.svc.db.Model(&LedgerEntry{}).Where("id = ?", entries[1].ID).Update("amount", 9999).Error)

	result, err = f.svc.VerifyChain(ctx, tenant, "basic")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, entries[1].ID, result.BrokenAt)
}

func TestVerifyDetectsRemovedEntry(t *testing.T) {
	first := &LedgerEntry{ID: "e1", TenantID: tenant, CustomerID: "c", Type: EntryEarn, Seq: 1, Amount: 100, PreviousHash: GenesisHash, CreatedAt: time.Now()}
	first.Hash = first.GenerateHash()
	second := &LedgerEntry{ID: "e2", TenantID: tenant, CustomerID: "c", Type: EntryRedeem, Seq: 2, Amount: -50, PreviousHash: first.Hash, CreatedAt: time.Now()}
	second.Hash = second.GenerateHash()
	third := &LedgerEntry{ID: "e3", TenantID: tenant, CustomerID: "c", Type: EntryRedeem, Seq: 3, Amount: -20, PreviousHash: second.Hash, CreatedAt: time.Now()}
	third.Hash = third.GenerateHash()

	require.True(t, verify("c", []*LedgerEntry{first, second, third}).Valid)

	broken := verify("c", []*LedgerEntry{first, third})
	require.False(t, broken.Valid)
	require.Equal(t, "e3", broken.BrokenAt)
}

func TestSummaryAndEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.grant(t, "basic", 10)
	}

	summary, err := f.svc.Summary(ctx, tenant, "basic", 3)
	require.NoError(t, err)
	require.Equal(t, int64(50), summary.Balance)
	require.True(t, summary.BalanceValue.Equal(decimal.RequireFromString("0.5")))
	require.Len(t, summary.Recent, 3)
	require.Equal(t, int64(5), summary.Recent[0].Seq)

	page, info, err := f.svc.ListEntries(ctx, tenant, "basic", EntryFilter{}, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	seen := len(page)
	for info.HasMore {
		page, info, err = f.svc.ListEntries(ctx, tenant, "basic", EntryFilter{}, pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
		require.NoError(t, err)
		seen += len(page)
	}
	require.Equal(t, 5, seen)

	_, _, err = f.svc.ListEntries(ctx, tenant, "basic", EntryFilter{Type: "bogus"}, pagination.Pagination{})
	requireStatus(t, err, errutil.StatusBadRequest)

	for _, cursor := range []string{"not-a-cursor", "e30="} {
		_, _, err = f.svc.ListEntries(ctx, tenant, "basic", EntryFilter{}, pagination.Pagination{Limit: 2, Cursor: cursor})
		requireStatus(t, err, errutil.StatusBadRequest)
	}

	_, err = f.svc.Summary(ctx, tenant, "ghost", 0)
	requireStatus(t, err, errutil.StatusNotFound)
}
