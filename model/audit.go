package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records one relationship or content mutation.
type AuditLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"index:idx_audit_trace;size:36" json:"trace_id"`
	Actor     string         `gorm:"index:idx_audit_actor;size:32;not null" json:"actor"`
	Target    string         `gorm:"size:64" json:"target"`
	Action    string         `gorm:"size:64;not null" json:"action"`
	Detail    datatypes.JSON `json:"detail"`
	Error     string         `gorm:"type:text" json:"error"`
	CreatedAt time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
