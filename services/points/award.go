package points

import (
	"context"
	"errors"
	"strings"

	"pointsledger/pkg/errutil"
	"pointsledger/pkg/logger"
	"pointsledger/pkg/metrics"
	"pointsledger/services/audit"
	"pointsledger/services/pointsconfig"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// EarnedPoints is floor(spend × rate / 100 × multiplier). Spend is in
// cents; rounding down never over-awards.
func EarnedPoints(spend int64, rate, multiplier decimal.Decimal) int64 {
	return decimal.NewFromInt(spend).Mul(rate).Mul(multiplier).Div(hundred).Floor().IntPart()
}

// Award credits points for a booking. A booking is awarded at most once;
// repeats return the original award with Duplicate set.
func (s *Service) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	zapLog := logger.FromContext(ctx).With(
		zap.String("tenant_id", req.TenantID),
		zap.String("customer_id", req.CustomerID),
		zap.String("booking_id", req.BookingID),
	)

	if strings.TrimSpace(req.CustomerID) == "" || strings.TrimSpace(req.BookingID) == "" {
		return nil, errutil.BadRequest("customer_id and booking_id are required", nil)
	}
	if req.Spend < 0 {
		return nil, errutil.ValidationFailed("spend_amount must not be negative", nil, errutil.WithDetails(errutil.Detail{Field: "spend_amount", Message: "must be >= 0"}))
	}

	cfg, err := s.configs.Effective(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	var result *AwardResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cust, err := s.customers.Lock(ctx, tx, req.TenantID, req.CustomerID)
		if err != nil {
			return err
		}

		tier := pointsconfig.NormalizeTier(req.Tier)
		override := tier != ""
		if !override {
			tier = cust.Tier
		}
		multiplier, ok := cfg.Multiplier(tier)
		switch {
		case !ok && !override:
			zapLog.Warn("customer tier not in points configuration, using base multiplier", zap.String("tier", tier))
			multiplier = pointsconfig.BaseMultiplier
		case !ok:
			return errutil.ValidationFailed("unknown membership tier", nil, errutil.WithDetails(errutil.Detail{
				Field:   "tier",
				Message: "must be one of " + strings.Join(cfg.Tiers(), ", "),
			}))
		}

		result = &AwardResult{
			CustomerID: req.CustomerID,
			BookingID:  req.BookingID,
			Tier:       tier,
			Multiplier: multiplier,
		}

		existing, err := s.entries.WithTrx(tx).FindOne(ctx, &LedgerEntry{
			TenantID:    req.TenantID,
			CustomerID:  req.CustomerID,
			Type:        EntryEarn,
			ReferenceID: &req.BookingID,
		})
		if err != nil {
			return err
		}

		now := s.clock()
		if existing != nil {
			result.Points = existing.Amount
			result.Duplicate = true
			result.ExpiresAt = existing.ExpiresAt
			result.Entry = existing
			result.Balance, err = s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
			return err
		}

		if req.Spend < cfg.MinimumSpend {
			result.Message = "spend below minimum"
			result.Balance, err = s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
			return err
		}

		points := EarnedPoints(req.Spend, cfg.PointsPerCurrencyUnit, multiplier)
		if points == 0 {
			result.Balance, err = s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
			return err
		}

		meta := map[string]any{
			"spend_amount":   req.Spend,
			"tier":           tier,
			"multiplier":     multiplier.String(),
			"rate":           cfg.PointsPerCurrencyUnit.String(),
			"config_version": cfg.Version,
		}
		for k, v := range req.Metadata {
			if _, reserved := meta[k]; !reserved {
				meta[k] = v
			}
		}

		entry := &LedgerEntry{
			TenantID:    req.TenantID,
			CustomerID:  req.CustomerID,
			Type:        EntryEarn,
			ReferenceID: ref(req.BookingID),
			Amount:      points,
			Reason:      "booking " + req.BookingID,
			Metadata:    marshalMetadata(meta),
		}
		if err := s.credit(ctx, tx, entry, cfg.Validity(), now); err != nil {
			return err
		}

		result.Points = points
		result.Entry = entry
		result.ExpiresAt = entry.ExpiresAt
		result.Balance, err = s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("booking already awarded", err)
		}
		var be errutil.BaseError
		if !errors.As(err, &be) {
			zapLog.Error("failed to award points", zap.Error(err))
		}
		return nil, err
	}

	if result.Entry != nil && !result.Duplicate {
		metrics.PointsAwarded.WithLabelValues(string(EntryEarn)).Add(float64(result.Points))
		s.publish(ctx, audit.Event{
			TenantID:     req.TenantID,
			Action:       audit.ActionPointsAwarded,
			ResourceType: "customer",
			ResourceID:   req.CustomerID,
			Payload: map[string]any{
				"entry_id":     result.Entry.ID,
				"booking_id":   req.BookingID,
				"points":       result.Points,
				"spend_amount": req.Spend,
				"tier":         result.Tier,
			},
		})
		zapLog.Info("points awarded", zap.Int64("points", result.Points), zap.String("tier", result.Tier))
	}

	return result, nil
}
