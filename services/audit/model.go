package audit

import (
	"time"

	"gorm.io/datatypes"
)

// Event is one auditable fact. ID doubles as the idempotency key of the
// audit_logs insert.
type Event struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Payload      map[string]any `json:"payload,omitempty"`
	TraceID      string         `json:"trace_id,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

const (
	ActionPointsAwarded   = "points.awarded"
	ActionPointsRedeemed  = "points.redeemed"
	ActionPointsAdjusted  = "points.adjusted"
	ActionPointsExpired   = "points.expired"
	ActionConfigWritten   = "points.config.written"
	ActionCustomerUpdated = "customer.updated"
)

type AuditLog struct {
	ID           string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	TenantID     string         `gorm:"column:tenant_id;index;not null"`
	Actor        string         `gorm:"column:actor;type:varchar(100)"`
	Action       string         `gorm:"column:action;type:varchar(50);index"`
	ResourceType string         `gorm:"column:resource_type;type:varchar(50)"`
	ResourceID   string         `gorm:"column:resource_id;index"`
	Payload      datatypes.JSON `gorm:"column:payload"`
	TraceID      string         `gorm:"column:trace_id"`
	OccurredAt   time.Time      `gorm:"column:occurred_at"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type DeadLetterStatus string

const (
	DeadLetterPending  DeadLetterStatus = "pending"
	DeadLetterRedriven DeadLetterStatus = "redriven"
)

// DeadLetter keeps an event whose enqueue failed until the redrive task
// hands it back to the queue.
type DeadLetter struct {
	ID         string           `gorm:"column:id;primaryKey;type:varchar(32)"`
	EventID    string           `gorm:"column:event_id;uniqueIndex;not null"`
	TenantID   string           `gorm:"column:tenant_id;index"`
	Action     string           `gorm:"column:action;type:varchar(50)"`
	Event      datatypes.JSON   `gorm:"column:event;not null"`
	LastError  string           `gorm:"column:last_error;type:text"`
	Attempts   int              `gorm:"column:attempts;not null"`
	Status     DeadLetterStatus `gorm:"column:status;type:varchar(20);index;not null"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	RedrivenAt *time.Time       `gorm:"column:redriven_at"`
}

func (DeadLetter) TableName() string { return "audit_dead_letters" }
