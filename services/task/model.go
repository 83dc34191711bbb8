package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// Job is an execution record of a scheduled task for one tenant.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Type        string         `gorm:"column:type;index;type:varchar(100);not null" json:"type"`
	TenantID    string         `gorm:"column:tenant_id;index;not null" json:"tenant_id"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);default:'running'" json:"status"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt   time.Time      `gorm:"column:started_at" json:"started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (Job) TableName() string { return "task_jobs" }

type ExpiryPayload struct {
	TenantID string `json:"tenant_id"`
	RunDate  string `json:"run_date"`
}
