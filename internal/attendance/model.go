package attendance

import (
	"time"

	"smartattendance/internal/geo"
)

// Status of a student for one session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPresent, StatusAbsent, StatusLate, StatusExcused}

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// Attended reports whether the status counts toward attendance rates.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

// Record is the single ledger row for a (session, student) pair.
type Record struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	StudentID string     `json:"student_id"`
	Status    Status     `json:"status"`
	Location  *geo.Point `json:"location,omitempty"`
	MarkedBy  string     `json:"marked_by,omitempty"`
	Note      string     `json:"note,omitempty"`
	MarkedAt  time.Time  `json:"marked_at"`
}

// SessionEntry is a record enriched with the student's name and number.
type SessionEntry struct {
	Record
	StudentName   string `json:"student_name"`
	StudentNumber string `json:"student_number"`
}

// StudentEntry is a record enriched with its session and course.
type StudentEntry struct {
	Record
	CourseID      string `json:"course_id"`
	CourseCode    string `json:"course_code"`
	Topic         string `json:"topic"`
	ScheduledDate string `json:"scheduled_date"`
}

// Receipt is returned to a student after a successful scan.
type Receipt struct {
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	MarkedAt  time.Time `json:"timestamp"`
}
