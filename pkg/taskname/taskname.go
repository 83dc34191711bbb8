package taskname

const (
	// Audit tasks
	AuditRecord  = "audit:record"
	AuditRedrive = "audit:redrive"

	// Points tasks
	PointsExpiryRun = "points:expiry:run"
)

const (
	QueueCritical = "critical"
	QueueAudit    = "audit"
	QueueDefault  = "default"
)
