package points

import (
	"context"
	"errors"
	"strings"

	"pointsledger/pkg/auth"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/logger"
	"pointsledger/pkg/metrics"
	"pointsledger/services/audit"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Adjust is the support override. A deduction is clamped to the balance
// so the balance never goes negative.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (*AdjustResult, error) {
	zapLog := logger.FromContext(ctx).With(
		zap.String("tenant_id", req.TenantID),
		zap.String("customer_id", req.CustomerID),
		zap.String("direction", string(req.Direction)),
	)

	var details []errutil.Detail
	if req.Direction != DirectionAward && req.Direction != DirectionDeduct {
		details = append(details, errutil.Detail{Field: "direction", Message: "must be award or deduct"})
	}
	if req.Points <= 0 {
		details = append(details, errutil.Detail{Field: "points", Message: "must be greater than 0"})
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		details = append(details, errutil.Detail{Field: "reason", Message: "is required"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid adjustment", nil, errutil.WithDetails(details...))
	}

	cfg, err := s.configs.Effective(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	result := &AdjustResult{CustomerID: req.CustomerID, Direction: req.Direction, Requested: req.Points}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.customers.Lock(ctx, tx, req.TenantID, req.CustomerID); err != nil {
			return err
		}

		now := s.clock()
		if req.ReferenceID != "" {
			existing, err := s.entries.WithTrx(tx).FindOne(ctx, &LedgerEntry{
				TenantID:    req.TenantID,
				CustomerID:  req.CustomerID,
				Type:        EntryAdjust,
				ReferenceID: &req.ReferenceID,
			})
			if err != nil {
				return err
			}
			if existing != nil {
				result.Duplicate = true
				result.Applied = existing.Amount
				if existing.Amount < 0 {
					result.Applied = -existing.Amount
				}
				result.Entry = existing
				result.Balance, err = s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
				return err
			}
		}

		meta := marshalMetadata(map[string]any{
			"direction": req.Direction,
			"requested": req.Points,
			"actor":     auth.Actor(ctx),
		})

		if req.Direction == DirectionAward {
			entry := &LedgerEntry{
				TenantID:    req.TenantID,
				CustomerID:  req.CustomerID,
				Type:        EntryAdjust,
				ReferenceID: ref(req.ReferenceID),
				Amount:      req.Points,
				Reason:      req.Reason,
				Metadata:    meta,
			}
			if err := s.credit(ctx, tx, entry, cfg.Validity(), now); err != nil {
				return err
			}
			result.Applied = req.Points
			result.Entry = entry
			result.Balance, err = s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
			return err
		}

		balance, err := s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
		if err != nil {
			return err
		}
		applied := min(req.Points, balance)
		result.Applied = applied
		result.Balance = balance
		if applied == 0 {
			return nil
		}

		if _, err := s.consume(ctx, tx, req.TenantID, req.CustomerID, applied, now); err != nil {
			return err
		}

		entry := &LedgerEntry{
			TenantID:    req.TenantID,
			CustomerID:  req.CustomerID,
			Type:        EntryAdjust,
			ReferenceID: ref(req.ReferenceID),
			Amount:      -applied,
			Reason:      req.Reason,
			Metadata:    meta,
		}
		if err := s.appendEntry(ctx, tx, entry, now); err != nil {
			return err
		}
		result.Entry = entry
		result.Balance = balance - applied
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("adjustment reference already used", err)
		}
		var be errutil.BaseError
		if !errors.As(err, &be) {
			zapLog.Error("failed to adjust points", zap.Error(err))
		}
		return nil, err
	}

	if result.Entry != nil && !result.Duplicate {
		if req.Direction == DirectionAward {
			metrics.PointsAwarded.WithLabelValues(string(EntryAdjust)).Add(float64(result.Applied))
		}
		s.publish(ctx, audit.Event{
			TenantID:     req.TenantID,
			Action:       audit.ActionPointsAdjusted,
			ResourceType: "customer",
			ResourceID:   req.CustomerID,
			Payload: map[string]any{
				"entry_id":  result.Entry.ID,
				"direction": req.Direction,
				"requested": req.Points,
				"applied":   result.Applied,
				"reason":    req.Reason,
			},
		})
		zapLog.Info("points adjusted", zap.Int64("requested", req.Points), zap.Int64("applied", result.Applied))
	}

	return result, nil
}
