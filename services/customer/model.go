package customer

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Customer mirrors the booking system's customer record. The ledger
// locks this row to serialise balance-affecting writes.
type Customer struct {
	TenantID  string    `gorm:"column:tenant_id;primaryKey;type:varchar(64)" json:"tenant_id"`
	ID        string    `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"column:name" json:"name"`
	Tier      string    `gorm:"column:tier;type:varchar(20);not null" json:"tier"`
	Status    Status    `gorm:"column:status;type:varchar(20);not null" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

type UpsertRequest struct {
	Name   string `json:"name"`
	Tier   string `json:"tier" binding:"required"`
	Status Status `json:"status"`
}
