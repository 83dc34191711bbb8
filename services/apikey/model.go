package apikey

import (
	"time"

	"pointsledger/pkg/access"
)

type APIKeyStatus string

const (
	APIKeyStatusActive  APIKeyStatus = "active"
	APIKeyStatusRevoked APIKeyStatus = "revoked"
)

// APIKey authenticates an integration. Callers present "<key_id>.<secret>";
// only the argon2id hash of the secret is stored.
type APIKey struct {
	ID         string       `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TenantID   string       `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	KeyID      string       `gorm:"column:key_id;uniqueIndex;not null" json:"key_id"` // e.g. carwash_4f9k2m
	Role       access.Role  `gorm:"column:role;type:varchar(20);not null" json:"role"`
	SecretHash string       `gorm:"column:secret_hash;not null" json:"-"`
	Status     APIKeyStatus `gorm:"column:status;type:varchar(20);default:'active';not null" json:"status"`
	CreatedBy  *string      `gorm:"column:created_by" json:"created_by,omitempty"`
	CreatedAt  time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
}

func (APIKey) TableName() string { return "api_keys" }

func (k *APIKey) usable(now time.Time) bool {
	if k.Status != APIKeyStatusActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

type IssueRequest struct {
	TenantID  string
	Channel   string // key id prefix: pos, web, carwash, partner
	Role      access.Role
	CreatedBy string
	ExpiresAt *time.Time
}
