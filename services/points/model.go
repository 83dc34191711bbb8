package points

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryEarn   EntryType = "earn"
	EntryRedeem EntryType = "redeem"
	EntryAdjust EntryType = "adjust"
	EntryExpire EntryType = "expire"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryEarn, EntryRedeem, EntryAdjust, EntryExpire:
		return true
	default:
		return false
	}
}

// GenesisHash is the previous_hash of a customer's first entry.
const GenesisHash = "GENESIS"

// LedgerEntry is an immutable signed point movement. Entries of one
// customer form a hash chain ordered by Seq.
type LedgerEntry struct {
	ID              string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TenantID        string         `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:idx_points_entry_ref,priority:1;uniqueIndex:idx_points_entry_seq,priority:1" json:"tenant_id"`
	CustomerID      string         `gorm:"column:customer_id;type:varchar(64);not null;uniqueIndex:idx_points_entry_ref,priority:2;uniqueIndex:idx_points_entry_seq,priority:2" json:"customer_id"`
	Type            EntryType      `gorm:"column:type;type:varchar(20);not null;uniqueIndex:idx_points_entry_ref,priority:3" json:"type"`
	ReferenceID     *string        `gorm:"column:reference_id;type:varchar(64);uniqueIndex:idx_points_entry_ref,priority:4" json:"reference_id,omitempty"`
	Seq             int64          `gorm:"column:seq;not null;uniqueIndex:idx_points_entry_seq,priority:3" json:"seq"`
	Amount          int64          `gorm:"column:amount;not null" json:"amount"`
	Reason          string         `gorm:"column:reason;type:text" json:"reason"`
	TransactionCode string         `gorm:"column:transaction_code;type:varchar(32)" json:"transaction_code"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	ExpiresAt       *time.Time     `gorm:"column:expires_at" json:"expires_at,omitempty"`
	PreviousHash    string         `gorm:"column:previous_hash;type:char(64);not null" json:"previous_hash"`
	Hash            string         `gorm:"column:hash;type:char(64);not null" json:"hash"`
	Metadata        datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (LedgerEntry) TableName() string { return "points_ledger_entries" }

func (e *LedgerEntry) HashFields() map[string]string {
	ref := ""
	if e.ReferenceID != nil {
		ref = *e.ReferenceID
	}
	expires := ""
	if e.ExpiresAt != nil {
		expires = e.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]string{
		"id":            e.ID,
		"tenant_id":     e.TenantID,
		"customer_id":   e.CustomerID,
		"type":          string(e.Type),
		"seq":           fmt.Sprintf("%d", e.Seq),
		"amount":        fmt.Sprintf("%d", e.Amount),
		"reference_id":  ref,
		"reason":        e.Reason,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at":    expires,
		"previous_hash": e.PreviousHash,
	}
}

func (e *LedgerEntry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Lot is the unconsumed remainder of one positive entry. Debits consume
// lots earliest expiry first.
type Lot struct {
	ID         string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TenantID   string    `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_points_lot_customer,priority:1" json:"tenant_id"`
	CustomerID string    `gorm:"column:customer_id;type:varchar(64);not null;index:idx_points_lot_customer,priority:2" json:"customer_id"`
	EntryID    string    `gorm:"column:entry_id;type:varchar(32);not null;uniqueIndex" json:"entry_id"`
	Amount     int64     `gorm:"column:amount;not null" json:"amount"`
	Remaining  int64     `gorm:"column:remaining;not null" json:"remaining"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Lot) TableName() string { return "points_lots" }

// Allocation is the part of a lot consumed by one debit.
type Allocation struct {
	LotID     string `json:"lot_id"`
	EntryID   string `json:"entry_id"`
	Amount    int64  `json:"amount"`
	Remaining int64  `json:"-"`
}
