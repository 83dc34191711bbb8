package points

import (
	"context"
	"errors"
	"time"

	"pointsledger/pkg/errutil"
	"pointsledger/pkg/logger"
	"pointsledger/pkg/metrics"
	"pointsledger/services/audit"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TenantsWithExpiredLots lists tenants that have lots due for the sweep.
func (s *Service) TenantsWithExpiredLots(ctx context.Context) ([]string, error) {
	var tenants []string
	err := s.db.WithContext(ctx).Model(&Lot{}).
		Where("remaining > 0 AND expires_at <= ?", s.clock()).
		Distinct().
		Pluck("tenant_id", &tenants).Error
	return tenants, err
}

// ExpireSweep zeroes every lot of the tenant whose validity has ended,
// writing one offsetting expire entry per lot. Lots are handled per
// customer under the customer lock, so the sweep runs beside live traffic.
// Rerunning it is safe: the expire entry of a lot is unique.
func (s *Service) ExpireSweep(ctx context.Context, tenantID string) (*SweepResult, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", tenantID))
	now := s.clock()

	var customers []string
	if err := s.db.WithContext(ctx).Model(&Lot{}).
		Where("tenant_id = ? AND remaining > 0 AND expires_at <= ?", tenantID, now).
		Distinct().
		Pluck("customer_id", &customers).Error; err != nil {
		zapLog.Error("failed to find expired lots", zap.Error(err))
		return nil, err
	}

	result := &SweepResult{TenantID: tenantID}
	for _, customerID := range customers {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		lots, points, err := s.expireCustomer(ctx, tenantID, customerID, now)
		if err != nil {
			var be errutil.BaseError
			if errors.As(err, &be) && be.Status() == errutil.StatusNotFound {
				zapLog.Warn("skipping expired lots of unknown customer", zap.String("customer_id", customerID))
				continue
			}
			zapLog.Error("failed to expire customer lots", zap.String("customer_id", customerID), zap.Error(err))
			return result, err
		}
		if lots == 0 {
			continue
		}

		result.Customers++
		result.Lots += lots
		result.Points += points

		s.publish(ctx, audit.Event{
			TenantID:     tenantID,
			Action:       audit.ActionPointsExpired,
			ResourceType: "customer",
			ResourceID:   customerID,
			Payload:      map[string]any{"lots": lots, "points": points},
		})
	}

	metrics.PointsExpired.Add(float64(result.Points))
	zapLog.Info("points expiry sweep finished",
		zap.Int("customers", result.Customers),
		zap.Int("lots", result.Lots),
		zap.Int64("points", result.Points),
	)
	return result, nil
}

func (s *Service) expireCustomer(ctx context.Context, tenantID, customerID string, now time.Time) (int, int64, error) {
	var (
		count  int
		points int64
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.customers.Lock(ctx, tx, tenantID, customerID); err != nil {
			return err
		}

		// re-read under the lock; a concurrent debit may have consumed them
		var lots []*Lot
		if err := tx.Where("tenant_id = ? AND customer_id = ? AND remaining > 0 AND expires_at <= ?", tenantID, customerID, now).
			Order("expires_at ASC").
			Find(&lots).Error; err != nil {
			return err
		}

		for _, lot := range lots {
			entry := &LedgerEntry{
				TenantID:    tenantID,
				CustomerID:  customerID,
				Type:        EntryExpire,
				ReferenceID: ref(lot.ID),
				Amount:      -lot.Remaining,
				Reason:      "points expired",
				Metadata: marshalMetadata(map[string]any{
					"lot_id":          lot.ID,
					"source_entry_id": lot.EntryID,
					"expired_at":      lot.ExpiresAt,
				}),
			}
			if err := s.appendEntry(ctx, tx, entry, now); err != nil {
				return err
			}
			if err := s.lots.WithTrx(tx).Update(ctx, lot.ID, map[string]any{
				"remaining":  0,
				"updated_at": now,
			}); err != nil {
				return err
			}
			count++
			points += lot.Remaining
		}
		return nil
	})
	return count, points, err
}
