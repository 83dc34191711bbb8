package pointsconfig

import (
	"pointsledger/pkg/errutil"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var hundred = decimal.NewFromInt(100)

// Merge lays req over the default configuration.
func Merge(tenantID string, req WriteRequest) *PointsConfig {
	cfg := DefaultConfig(tenantID)
	cfg.IsDefault = false

	if req.PointsPerCurrencyUnit != nil {
		cfg.PointsPerCurrencyUnit = *req.PointsPerCurrencyUnit
	}
	if req.MinimumSpend != nil {
		cfg.MinimumSpend = *req.MinimumSpend
	}
	if len(req.MembershipMultipliers) > 0 {
		// listed tiers override the defaults; the others keep theirs
		m := DefaultMultipliers()
		for tier, factor := range req.MembershipMultipliers {
			m[NormalizeTier(tier)] = factor
		}
		cfg.MembershipMultipliers = datatypes.NewJSONType(m)
	}
	if req.PointValue != nil {
		cfg.PointValue = *req.PointValue
	}
	if req.MinimumRedemption != nil {
		cfg.MinimumRedemption = *req.MinimumRedemption
	}
	if req.MaxRedemptionPercent != nil {
		cfg.MaxRedemptionPercent = *req.MaxRedemptionPercent
	}
	if req.PointsValidityDays != nil {
		cfg.PointsValidityDays = *req.PointsValidityDays
	}
	if req.ExpirationWarningDays != nil {
		cfg.ExpirationWarningDays = *req.ExpirationWarningDays
	}
	return cfg
}

// Validate reports every invalid field at once.
func (c *PointsConfig) Validate() error {
	var details []errutil.Detail
	add := func(field, msg string) {
		details = append(details, errutil.Detail{Field: field, Message: msg})
	}

	if !c.PointsPerCurrencyUnit.IsPositive() {
		add("points_per_currency_unit", "must be greater than 0")
	}
	if c.MinimumSpend < 0 {
		add("minimum_spend", "must not be negative")
	}
	if len(c.MembershipMultipliers.Data()) == 0 {
		add("membership_multipliers", "at least one tier is required")
	}
	for tier, factor := range c.MembershipMultipliers.Data() {
		if tier == "" {
			add("membership_multipliers", "tier name must not be empty")
		}
		if !factor.IsPositive() {
			add("membership_multipliers."+tier, "must be greater than 0")
		}
	}
	if !c.PointValue.IsPositive() {
		add("point_value", "must be greater than 0")
	}
	if c.MinimumRedemption < 1 {
		add("minimum_redemption", "must be at least 1")
	}
	if !c.MaxRedemptionPercent.IsPositive() || c.MaxRedemptionPercent.GreaterThan(hundred) {
		add("max_redemption_percent", "must be within (0, 100]")
	}
	if c.PointsValidityDays < 1 {
		add("points_validity_days", "must be at least 1")
	}
	if c.ExpirationWarningDays < 0 || c.ExpirationWarningDays > c.PointsValidityDays {
		add("expiration_warning_days", "must be within [0, points_validity_days]")
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid points configuration", nil, errutil.WithDetails(details...))
	}
	return nil
}
