// Package session manages class sessions and the tokens that open them for marking.
package session

import (
	"time"

	"smartattendance/internal/geo"
)

// MaxTTLMinutes bounds how long a single token may stay valid.
const MaxTTLMinutes = 24 * 60

// Session is one scheduled class meeting with its own token.
type Session struct {
	ID            string     `json:"id"`
	CourseID      string     `json:"course_id"`
	LecturerID    string     `json:"lecturer_id"`
	Topic         string     `json:"topic"`
	ScheduledDate string     `json:"scheduled_date"`
	StartTime     string     `json:"start_time"`
	EndTime       string     `json:"end_time"`
	Token         string     `json:"-"`
	TTLMinutes    int        `json:"ttl_minutes"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Active        bool       `json:"active"`
	Location      *geo.Point `json:"location,omitempty"`
	ClonedFrom    string     `json:"cloned_from,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Live reports whether the token accepts submissions at now. It must be
// evaluated on every check; a lookup alone says nothing about validity.
func (s Session) Live(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// LocationRequired reports whether submissions are geofenced.
func (s Session) LocationRequired() bool {
	return s.Location != nil
}

// State names where the session sits in its lifecycle.
func (s Session) State(now time.Time) string {
	switch {
	case s.Live(now):
		return "open"
	case !s.Active:
		return "closed"
	default:
		return "expired"
	}
}
