package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Audit actions recorded for administrative requests.
const (
	AuditActionPeriodOpen       = "PERIOD_OPEN"
	AuditActionPeriodTransition = "PERIOD_TRANSITION"
	AuditActionOverrideDrop     = "ENROLLMENT_OVERRIDE_DROP"
	AuditActionAdvisorAssign    = "ADVISOR_ASSIGN"
	AuditActionExportRequest    = "EXPORT_REQUEST"
	AuditActionSubjectPublish   = "SUBJECT_PUBLISH"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID        string         `db:"id" json:"id"`
	ActorID   *int64         `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole *string        `db:"actor_role" json:"actor_role,omitempty"`
	Action    string         `db:"action" json:"action"`
	Resource  string         `db:"resource" json:"resource"`
	Details   types.JSONText `db:"details" json:"details,omitempty"`
	IPAddress string         `db:"ip_address" json:"ip_address"`
	UserAgent string         `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
