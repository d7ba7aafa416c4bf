package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
//
// Storage: table audit_events, INSERT-only (see GormRepo).
type Event struct {
	ID string `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type" gorm:"type:varchar(32);index"`

	// ActorUserID is the authenticated operator causing the event.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id" gorm:"type:varchar(255)"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role" gorm:"type:varchar(32)"`

	// IPAddress should capture the original client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address" gorm:"type:varchar(64)"`

	// CallID is set for call-scoped actions.
	CallID string `json:"call_id,omitempty" db:"call_id" gorm:"type:varchar(36)"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message" gorm:"type:text"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"index;autoCreateTime:false"`
}

func (Event) TableName() string { return "audit_events" }

type EventType string

const (
	EventTypeAdminAction EventType = "admin_action"
	EventTypeCallHangup  EventType = "call_hangup"
)
