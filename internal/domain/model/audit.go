package model

import "time"

// AuditEntry is one append-only audit record. Writes are best-effort:
// a failed append never blocks or rolls back the state change it describes.
type AuditEntry struct {
	ID         string
	TenantID   string
	Actor      string // "webhook:stripe", "sweeper", "admin:<id>", ...
	Action     string
	EntityType string
	EntityID   string
	Before     map[string]interface{}
	After      map[string]interface{}
	Meta       map[string]interface{}
	CreatedAt  time.Time
}
