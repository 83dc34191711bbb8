package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

type redeemMeta struct {
	PurchaseTotal  int64           `json:"purchase_total"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DiscountCents  int64           `json:"discount_cents"`
	PointValue     decimal.Decimal `json:"point_value"`
	Sources        []Allocation    `json:"sources"`
}

// Discount converts points to Rand at pointValue.
func Discount(points int64, pointValue decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(points).Mul(pointValue)
}

// MaxDiscount is purchaseTotal/100 × maxPercent/100 in Rand.
func MaxDiscount(purchaseTotal int64, maxPercent decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(purchaseTotal).Mul(maxPercent).Div(hundred).Div(hundred)
}

// checkRedemption applies the redemption guards in order and returns the
// first one that fails.
func checkRedemption(cfg *pointsconfig.PointsConfig, points, balance, purchaseTotal int64) (RejectReason, string) {
	if points < cfg.MinimumRedemption {
		return ReasonBelowMinimum, fmt.Sprintf("minimum redemption is %d points", cfg.MinimumRedemption)
	}
	if points > balance {
		return ReasonInsufficientBalance, fmt.Sprintf("insufficient points: requested %d, available %d", points, balance)
	}
	discount := Discount(points, cfg.PointValue)
	limit := MaxDiscount(purchaseTotal, cfg.MaxRedemptionPercent)
	if discount.GreaterThan(limit) {
		return ReasonExceedsMaxPercent, fmt.Sprintf("discount R%s exceeds %s%% of the purchase (R%s)",
			discount.StringFixed(2), cfg.MaxRedemptionPercent.String(), limit.StringFixed(2))
	}
	return "", ""
}

// Redeem converts points into a discount on a booking. Guard failures are
// reported in the result with Success false and nothing written.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	zapLog := logger.FromContext(ctx).With(
		zap.String("tenant_id", req.TenantID),
		zap.String("customer_id", req.CustomerID),
		zap.String("booking_id", req.BookingID),
	)

	if strings.TrimSpace(req.CustomerID) == "" || strings.TrimSpace(req.BookingID) == "" {
		return nil, errutil.BadRequest("customer_id and booking_id are required", nil)
	}
	var details []errutil.Detail
	if req.Points <= 0 {
		details = append(details, errutil.Detail{Field: "points", Message: "must be greater than 0"})
	}
	if req.PurchaseTotal <= 0 {
		details = append(details, errutil.Detail{Field: "purchase_total", Message: "must be greater than 0"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid redemption request", nil, errutil.WithDetails(details...))
	}

	cfg, err := s.configs.Effective(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	result := &RedeemResult{CustomerID: req.CustomerID, BookingID: req.BookingID, Points: req.Points}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.customers.Lock(ctx, tx, req.TenantID, req.CustomerID); err != nil {
			return err
		}

		now := s.clock()
		existing, err := s.entries.WithTrx(tx).FindOne(ctx, &LedgerEntry{
			TenantID:    req.TenantID,
			CustomerID:  req.CustomerID,
			Type:        EntryRedeem,
			ReferenceID: &req.BookingID,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			var meta redeemMeta
			_ = json.Unmarshal(existing.Metadata, &meta)
			result.Success = true
			result.Duplicate = true
			result.Points = -existing.Amount
			result.DiscountAmount = meta.DiscountAmount
			result.DiscountCents = meta.DiscountCents
			result.Entry = existing
			result.Balance, err = s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
			return err
		}

		balance, err := s.balance(ctx, tx, req.TenantID, req.CustomerID, now)
		if err != nil {
			return err
		}
		result.Balance = balance

		if reason, msg := checkRedemption(cfg, req.Points, balance, req.PurchaseTotal); reason != "" {
			result.Reason = reason
			result.Message = msg
			return nil
		}

		allocations, err := s.consume(ctx, tx, req.TenantID, req.CustomerID, req.Points, now)
		if err != nil {
			return err
		}

		discount := Discount(req.Points, cfg.PointValue)
		result.DiscountAmount = discount
		result.DiscountCents = discount.Mul(hundred).Floor().IntPart()

		entry := &LedgerEntry{
			TenantID:    req.TenantID,
			CustomerID:  req.CustomerID,
			Type:        EntryRedeem,
			ReferenceID: ref(req.BookingID),
			Amount:      -req.Points,
			Reason:      "redemption for booking " + req.BookingID,
			Metadata: marshalMetadata(map[string]any{
				"purchase_total":  req.PurchaseTotal,
				"discount_amount": discount,
				"discount_cents":  result.DiscountCents,
				"point_value":     cfg.PointValue,
				"sources":         allocations,
			}),
		}
		if err := s.appendEntry(ctx, tx, entry, now); err != nil {
			return err
		}

		result.Success = true
		result.Entry = entry
		result.Balance = balance - req.Points
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("booking already redeemed", err)
		}
		var be errutil.BaseError
		if !errors.As(err, &be) {
			zapLog.Error("failed to redeem points", zap.Error(err))
		}
		return nil, err
	}

	if !result.Success {
		metrics.RedemptionRejected.WithLabelValues(string(result.Reason)).Inc()
		zapLog.Info("redemption rejected", zap.String("reason", string(result.Reason)), zap.Int64("points", req.Points))
		return result, nil
	}

	if !result.Duplicate {
		metrics.PointsRedeemed.Add(float64(req.Points))
		s.publish(ctx, audit.Event{
			TenantID:     req.TenantID,
			Action:       audit.ActionPointsRedeemed,
			ResourceType: "customer",
			ResourceID:   req.CustomerID,
			Payload: map[string]any{
				"entry_id":        result.Entry.ID,
				"booking_id":      req.BookingID,
				"points":          req.Points,
				"purchase_total":  req.PurchaseTotal,
				"discount_amount": result.DiscountAmount.StringFixed(2),
			},
		})
		zapLog.Info("points redeemed", zap.Int64("points", req.Points), zap.String("discount", result.DiscountAmount.StringFixed(2)))
	}

	return result, nil
}
