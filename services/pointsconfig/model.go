package pointsconfig

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TierBasic   = "BASIC"
	TierPremium = "PREMIUM"
	TierElite   = "ELITE"
)

// Multipliers maps a membership tier to its earning factor.
type Multipliers map[string]decimal.Decimal

// PointsConfig is one immutable version of a tenant's points rules. A
// write inserts a new version and deactivates the previous one.
type PointsConfig struct {
	ID                    string                          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TenantID              string                          `gorm:"column:tenant_id;not null;uniqueIndex:idx_points_config_version" json:"tenant_id"`
	Version               int64                           `gorm:"column:version;not null;uniqueIndex:idx_points_config_version" json:"version"`
	Code                  string                          `gorm:"column:code;type:varchar(32)" json:"code"`
	PointsPerCurrencyUnit decimal.Decimal                 `gorm:"column:points_per_currency_unit;type:numeric(12,4);not null" json:"points_per_currency_unit"`
	MinimumSpend          int64                           `gorm:"column:minimum_spend;not null" json:"minimum_spend"`
	MembershipMultipliers datatypes.JSONType[Multipliers] `gorm:"column:membership_multipliers;not null" json:"membership_multipliers"`
	PointValue            decimal.Decimal                 `gorm:"column:point_value;type:numeric(12,4);not null" json:"point_value"`
	MinimumRedemption     int64                           `gorm:"column:minimum_redemption;not null" json:"minimum_redemption"`
	MaxRedemptionPercent  decimal.Decimal                 `gorm:"column:max_redemption_percent;type:numeric(5,2);not null" json:"max_redemption_percent"`
	PointsValidityDays    int                             `gorm:"column:points_validity_days;not null" json:"points_validity_days"`
	ExpirationWarningDays int                             `gorm:"column:expiration_warning_days;not null" json:"expiration_warning_days"`
	IsActive              bool                            `gorm:"column:is_active;index;not null" json:"is_active"`
	CreatedBy             string                          `gorm:"column:created_by" json:"created_by"`
	CreatedAt             time.Time                       `gorm:"column:created_at" json:"created_at"`
	IsDefault             bool                            `gorm:"-" json:"is_default,omitempty"`
}

func (PointsConfig) TableName() string { return "points_configs" }

// DefaultConfig is the fallback used when a tenant has never written a
// configuration, and the base every write is merged over.
func DefaultConfig(tenantID string) *PointsConfig {
	return &PointsConfig{
		TenantID:              tenantID,
		PointsPerCurrencyUnit: decimal.NewFromInt(1),
		MinimumSpend:          5000,
		MembershipMultipliers: datatypes.NewJSONType(DefaultMultipliers()),
		PointValue:            decimal.RequireFromString("0.01"),
		MinimumRedemption:     100,
		MaxRedemptionPercent:  decimal.NewFromInt(50),
		PointsValidityDays:    365,
		ExpirationWarningDays: 30,
		IsActive:              true,
		IsDefault:             true,
	}
}

func DefaultMultipliers() Multipliers {
	return Multipliers{
		TierBasic:   decimal.NewFromInt(1),
		TierPremium: decimal.RequireFromString("1.5"),
		TierElite:   decimal.NewFromInt(2),
	}
}

// NormalizeTier upper-cases and trims a tier name.
func NormalizeTier(tier string) string {
	return strings.ToUpper(strings.TrimSpace(tier))
}

// BaseMultiplier applies to a stored customer whose tier the active
// configuration no longer lists.
var BaseMultiplier = decimal.NewFromInt(1)

// Multiplier returns the factor for tier, reporting whether it is known.
func (c *PointsConfig) Multiplier(tier string) (decimal.Decimal, bool) {
	m, ok := c.MembershipMultipliers.Data()[NormalizeTier(tier)]
	return m, ok
}

func (c *PointsConfig) Tiers() []string {
	data := c.MembershipMultipliers.Data()
	tiers := make([]string, 0, len(data))
	for t := range data {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	return tiers
}

func (c *PointsConfig) Validity() time.Duration {
	return time.Duration(c.PointsValidityDays) * 24 * time.Hour
}

func (c *PointsConfig) WarningWindow() time.Duration {
	return time.Duration(c.ExpirationWarningDays) * 24 * time.Hour
}

// WriteRequest carries the fields of a new version. Omitted fields take
// the default configuration's value, not the previous version's.
type WriteRequest struct {
	PointsPerCurrencyUnit *decimal.Decimal `json:"points_per_currency_unit"`
	MinimumSpend          *int64           `json:"minimum_spend"`
	MembershipMultipliers Multipliers      `json:"membership_multipliers"`
	PointValue            *decimal.Decimal `json:"point_value"`
	MinimumRedemption     *int64           `json:"minimum_redemption"`
	MaxRedemptionPercent  *decimal.Decimal `json:"max_redemption_percent"`
	PointsValidityDays    *int             `json:"points_validity_days"`
	ExpirationWarningDays *int             `json:"expiration_warning_days"`
}
