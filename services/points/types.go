package points

import (
	"time"

	"github.com/shopspring/decimal"
)

type Summary struct {
	CustomerID          string          `json:"customer_id"`
	Tier                string          `json:"tier"`
	Balance             int64           `json:"balance"`
	BalanceValue        decimal.Decimal `json:"balance_value"`
	LifetimeEarned      int64           `json:"lifetime_earned"`
	LifetimeRedeemed    int64           `json:"lifetime_redeemed"` // every debit
	LifetimeRedemptions int64           `json:"lifetime_redemptions"`
	LifetimeExpired     int64           `json:"lifetime_expired"`
	LifetimeDeducted    int64           `json:"lifetime_deducted"`
	ExpiringSoon        int64           `json:"expiring_soon"`
	ExpiringBefore      time.Time       `json:"expiring_before"`
	Recent              []*LedgerEntry  `json:"recent"`
	AsOf                time.Time       `json:"as_of"`
}

type AwardRequest struct {
	TenantID   string         `json:"-"`
	CustomerID string         `json:"customer_id" binding:"required"`
	BookingID  string         `json:"-"`
	Spend      int64          `json:"spend_amount"` // cents
	Tier       string         `json:"tier"`         // defaults to the customer's tier
	Metadata   map[string]any `json:"metadata"`
}

type AwardResult struct {
	CustomerID string          `json:"customer_id"`
	BookingID  string          `json:"booking_id"`
	Points     int64           `json:"points"`
	Tier       string          `json:"tier"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Duplicate  bool            `json:"duplicate"`
	Balance    int64           `json:"balance"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Entry      *LedgerEntry    `json:"entry,omitempty"`
	Message    string          `json:"message,omitempty"`
}

type RedeemRequest struct {
	TenantID      string `json:"-"`
	CustomerID    string `json:"customer_id" binding:"required"`
	BookingID     string `json:"-"`
	Points        int64  `json:"points"`
	PurchaseTotal int64  `json:"purchase_total"` // cents
}

// RejectReason names the redemption guard that refused a request.
type RejectReason string

const (
	ReasonBelowMinimum        RejectReason = "below_minimum_redemption"
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
	ReasonExceedsMaxPercent   RejectReason = "exceeds_max_redemption_percent"
)

type RedeemResult struct {
	Success        bool            `json:"success"`
	CustomerID     string          `json:"customer_id"`
	BookingID      string          `json:"booking_id"`
	Points         int64           `json:"points"`
	DiscountAmount decimal.Decimal `json:"discount_amount"` // Rand
	DiscountCents  int64           `json:"discount_cents"`
	Balance        int64           `json:"balance"`
	Duplicate      bool            `json:"duplicate,omitempty"`
	Reason         RejectReason    `json:"reason,omitempty"`
	Message        string          `json:"message,omitempty"`
	Entry          *LedgerEntry    `json:"entry,omitempty"`
}

type Direction string

const (
	DirectionAward  Direction = "award"
	DirectionDeduct Direction = "deduct"
)

type AdjustRequest struct {
	TenantID    string    `json:"-"`
	CustomerID  string    `json:"-"`
	Direction   Direction `json:"direction"`
	Points      int64     `json:"points"`
	Reason      string    `json:"reason"`
	ReferenceID string    `json:"reference_id"` // optional idempotency key
}

type AdjustResult struct {
	CustomerID string       `json:"customer_id"`
	Direction  Direction    `json:"direction"`
	Requested  int64        `json:"requested"`
	Applied    int64        `json:"applied"`
	Balance    int64        `json:"balance"`
	Duplicate  bool         `json:"duplicate,omitempty"`
	Entry      *LedgerEntry `json:"entry,omitempty"`
}

type SweepResult struct {
	TenantID  string `json:"tenant_id"`
	Customers int    `json:"customers"`
	Lots      int    `json:"lots"`
	Points    int64  `json:"points"`
}

type ChainVerification struct {
	CustomerID string `json:"customer_id"`
	Valid      bool   `json:"valid"`
	Entries    int    `json:"entries"`
	BrokenAt   string `json:"broken_at,omitempty"`
}

type EntryFilter struct {
	Type EntryType `form:"type"`
}
