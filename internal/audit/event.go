// Package audit records fire-and-forget events into system_logs.
package audit

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types written by the API.
const (
	TypeLogin              = "auth.login"
	TypeLoginFailed        = "auth.login_failed"
	TypePasswordChanged    = "auth.password_changed"
	TypeUserCreated        = "user.created"
	TypeUserRegistered     = "user.registered"
	TypeUserUpdated        = "user.updated"
	TypeUserDeleted        = "user.deleted"
	TypeCourseCreated      = "course.created"
	TypeCourseUpdated      = "course.updated"
	TypeCourseDeleted      = "course.deleted"
	TypeSessionCreated     = "session.created"
	TypeSessionChanged     = "session.changed"
	TypeAttendanceMarked   = "attendance.submitted"
	TypeAttendanceRejected = "attendance.rejected"
	TypeAttendanceManual   = "attendance.manual"
	TypeCorrection         = "attendance.correction"
)

// Event is one audit entry. IDs are ULIDs so they sort by creation time.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(typ, actorID, message string, details map[string]any) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      typ,
		ActorID:   actorID,
		Message:   message,
		Details:   details,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Publish(Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}
