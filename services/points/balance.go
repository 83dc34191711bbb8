package points

import (
	"context"
	"errors"
	"time"

	"pointsledger/pkg/db/option"
	"pointsledger/pkg/db/pagination"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errInsufficientLots = errors.New("lots do not cover the requested amount")

const maxRecentEntries = 100

type sumRow struct {
	Total int64
}

type lifetimeRow struct {
	Earned      int64
	Redeemed    int64
	Redemptions int64
	Expired     int64
	Deducted    int64
}

// balance sums the remaining points of lots that are still valid at now.
func (s *Service) balance(ctx context.Context, tx *gorm.DB, tenantID, customerID string, now time.Time) (int64, error) {
	var row sumRow
	err := tx.WithContext(ctx).Model(&Lot{}).
		Select("COALESCE(SUM(remaining), 0) AS total").
		Where("tenant_id = ? AND customer_id = ? AND remaining > 0 AND expires_at > ?", tenantID, customerID, now).
		Scan(&row).Error
	return row.Total, err
}

func (s *Service) expiringBetween(ctx context.Context, tx *gorm.DB, tenantID, customerID string, from, to time.Time) (int64, error) {
	var row sumRow
	err := tx.WithContext(ctx).Model(&Lot{}).
		Select("COALESCE(SUM(remaining), 0) AS total").
		Where("tenant_id = ? AND customer_id = ? AND remaining > 0 AND expires_at > ? AND expires_at <= ?", tenantID, customerID, from, to).
		Scan(&row).Error
	return row.Total, err
}

// lifetime sums every credit as earned and every debit as redeemed. The
// per-type debit totals break the redeemed figure down.
func (s *Service) lifetime(ctx context.Context, tx *gorm.DB, tenantID, customerID string) (lifetimeRow, error) {
	var row lifetimeRow
	err := tx.WithContext(ctx).Model(&LedgerEntry{}).
		Select(`COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS earned,
			COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS redeemed,
			COALESCE(SUM(CASE WHEN type = ? AND amount < 0 THEN -amount ELSE 0 END), 0) AS redemptions,
			COALESCE(SUM(CASE WHEN type = ? AND amount < 0 THEN -amount ELSE 0 END), 0) AS expired,
			COALESCE(SUM(CASE WHEN type = ? AND amount < 0 THEN -amount ELSE 0 END), 0) AS deducted`,
			EntryRedeem, EntryExpire, EntryAdjust).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Scan(&row).Error
	return row, err
}

// Summary reads a customer's balance, lifetime totals, expiring points and
// most recent entries. It has no side effects.
func (s *Service) Summary(ctx context.Context, tenantID, customerID string, recent int) (*Summary, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", tenantID), zap.String("customer_id", customerID))

	cust, err := s.customers.Get(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.configs.Effective(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	switch {
	case recent <= 0:
		recent = s.recent
	case recent > maxRecentEntries:
		recent = maxRecentEntries
	}

	now := s.clock()
	summary := &Summary{
		CustomerID:     customerID,
		Tier:           cust.Tier,
		ExpiringBefore: now.Add(cfg.WarningWindow()),
		AsOf:           now,
	}

	if summary.Balance, err = s.balance(ctx, s.db, tenantID, customerID, now); err != nil {
		zapLog.Error("failed to compute balance", zap.Error(err))
		return nil, err
	}
	summary.BalanceValue = decimal.NewFromInt(summary.Balance).Mul(cfg.PointValue)

	if summary.ExpiringSoon, err = s.expiringBetween(ctx, s.db, tenantID, customerID, now, summary.ExpiringBefore); err != nil {
		zapLog.Error("failed to compute expiring points", zap.Error(err))
		return nil, err
	}

	totals, err := s.lifetime(ctx, s.db, tenantID, customerID)
	if err != nil {
		zapLog.Error("failed to compute lifetime totals", zap.Error(err))
		return nil, err
	}
	summary.LifetimeEarned = totals.Earned
	summary.LifetimeRedeemed = totals.Redeemed
	summary.LifetimeRedemptions = totals.Redemptions
	summary.LifetimeExpired = totals.Expired
	summary.LifetimeDeducted = totals.Deducted

	summary.Recent, err = s.entries.Find(ctx, &LedgerEntry{TenantID: tenantID, CustomerID: customerID},
		option.WithSortBy(option.QuerySortBy{SortBy: "seq", OrderBy: "desc", Allow: map[string]bool{"seq": true}}),
		option.WithLimit(recent),
	)
	if err != nil {
		zapLog.Error("failed to list recent entries", zap.Error(err))
		return nil, err
	}
	if summary.Recent == nil {
		summary.Recent = []*LedgerEntry{}
	}

	return summary, nil
}

// ListEntries pages through a customer's ledger, newest first.
func (s *Service) ListEntries(ctx context.Context, tenantID, customerID string, filter EntryFilter, page pagination.Pagination) ([]*LedgerEntry, *pagination.PageInfo, error) {
	if _, err := s.customers.Get(ctx, tenantID, customerID); err != nil {
		return nil, nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, nil, errutil.BadRequest("unknown entry type", nil, errutil.WithDetails(errutil.Detail{Field: "type", Message: string(filter.Type)}))
	}
	if err := page.Validate(); err != nil {
		return nil, nil, errutil.BadRequest("invalid cursor", err, errutil.WithDetails(errutil.Detail{Field: "cursor", Message: "malformed"}))
	}

	limit := page.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	if limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}

	rows, err := s.entries.Find(ctx, &LedgerEntry{TenantID: tenantID, CustomerID: customerID, Type: filter.Type}, option.ApplyPagination(page))
	if err != nil {
		return nil, nil, err
	}

	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(e *LedgerEntry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID, CreatedAt: e.CreatedAt.Format(time.RFC3339Nano)}
	})
	if rows == nil {
		rows = []*LedgerEntry{}
	}
	return rows, info, nil
}

// Entries returns the whole ledger of a customer in chain order.
func (s *Service) Entries(ctx context.Context, tenantID, customerID string) ([]*LedgerEntry, error) {
	return s.entries.Find(ctx, &LedgerEntry{TenantID: tenantID, CustomerID: customerID},
		option.WithSortBy(option.QuerySortBy{SortBy: "seq", OrderBy: "asc", Allow: map[string]bool{"seq": true}}),
	)
}

// VerifyChain recomputes every hash of the customer's chain.
func (s *Service) VerifyChain(ctx context.Context, tenantID, customerID string) (*ChainVerification, error) {
	if _, err := s.customers.Get(ctx, tenantID, customerID); err != nil {
		return nil, err
	}

	entries, err := s.Entries(ctx, tenantID, customerID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query ledger entries", zap.Error(err))
		return nil, err
	}

	return verify(customerID, entries), nil
}

func verify(customerID string, entries []*LedgerEntry) *ChainVerification {
	result := &ChainVerification{CustomerID: customerID, Valid: true, Entries: len(entries)}

	lastHash := GenesisHash
	var lastSeq int64
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash || entry.Seq != lastSeq+1 {
			result.Valid = false
			result.BrokenAt = entry.ID
			return result
		}
		lastHash = entry.Hash
		lastSeq = entry.Seq
	}
	return result
}
