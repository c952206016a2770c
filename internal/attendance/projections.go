package attendance

import (
	"context"
	"math"
	"sort"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
)

// DefaultLowAttendanceThreshold flags students attending under 75% of sessions.
const DefaultLowAttendanceThreshold = 0.75

// ForSession lists a session's records for its owner or an admin.
func (s *Service) ForSession(ctx context.Context, caller auth.Identity, sessionID string) ([]SessionEntry, error) {
	if _, err := s.sessions.Authorize(ctx, caller, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ForSession(ctx, sessionID)
}

// ForStudent lists a student's records, newest first.
func (s *Service) ForStudent(ctx context.Context, studentID, courseID string, limit int) ([]StudentEntry, error) {
	return s.repo.ForStudent(ctx, studentID, courseID, limit)
}

// SummarizeByStudent counts a student's records per status; every status is present.
func (s *Service) SummarizeByStudent(ctx context.Context, studentID string) (map[Status]int, error) {
	return s.repo.StudentCounts(ctx, studentID)
}

// CourseSummary aggregates a course's ledger.
type CourseSummary struct {
	CourseID string         `json:"course_id"`
	Sessions int            `json:"total_sessions"`
	Students int            `json:"total_students"`
	Counts   map[Status]int `json:"counts"`
	Attended int            `json:"attended"`
	// Rate is attended / (sessions * students), which counts sessions held
	// before a student enrolled against them.
	Rate float64 `json:"attendance_rate"`
}

// CourseSummary returns the aggregate for a course the caller administers.
func (s *Service) CourseSummary(ctx context.Context, caller auth.Identity, courseID string) (CourseSummary, error) {
	if _, err := s.dir.CourseFor(ctx, caller, courseID); err != nil {
		return CourseSummary{}, err
	}
	sessions, err := s.sessions.CountByCourse(ctx, courseID)
	if err != nil {
		return CourseSummary{}, err
	}
	students, err := s.dir.CountCourseStudents(ctx, courseID)
	if err != nil {
		return CourseSummary{}, err
	}
	counts, err := s.repo.CourseCounts(ctx, courseID)
	if err != nil {
		return CourseSummary{}, err
	}
	sum := CourseSummary{
		CourseID: courseID,
		Sessions: sessions,
		Students: students,
		Counts:   counts,
		Attended: counts[StatusPresent] + counts[StatusLate],
	}
	if sessions > 0 && students > 0 {
		sum.Rate = float64(sum.Attended) / float64(sessions*students)
	}
	return sum, nil
}

// StudentRate is one student's attendance in a course.
type StudentRate struct {
	StudentID     string  `json:"student_id"`
	StudentName   string  `json:"student_name"`
	StudentNumber string  `json:"student_number"`
	Attended      int     `json:"attended"`
	Sessions      int     `json:"total_sessions"`
	Rate          float64 `json:"attendance_rate"`
}

// LowAttendance lists enrolled students whose rate is below threshold,
// lowest first. threshold must be in (0, 1]; zero uses the default.
func (s *Service) LowAttendance(ctx context.Context, caller auth.Identity, courseID string, threshold float64) ([]StudentRate, error) {
	if threshold == 0 {
		threshold = DefaultLowAttendanceThreshold
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, apperr.BadRequest("threshold must be between 0 and 1")
	}
	if _, err := s.dir.CourseFor(ctx, caller, courseID); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.CountByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	out := []StudentRate{}
	if sessions == 0 {
		return out, nil
	}
	students, err := s.dir.ListCourseStudents(ctx, courseID)
	if err != nil {
		return nil, err
	}
	attended, err := s.repo.AttendedByStudent(ctx, courseID)
	if err != nil {
		return nil, err
	}
	for _, st := range students {
		n := attended[st.ID]
		rate := float64(n) / float64(sessions)
		if rate < threshold {
			out = append(out, StudentRate{
				StudentID:     st.ID,
				StudentName:   st.FullName,
				StudentNumber: st.StudentNumber,
				Attended:      n,
				Sessions:      sessions,
				Rate:          rate,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rate < out[j].Rate })
	return out, nil
}

// Snapshot is the live view of one session pushed over the feed.
type Snapshot struct {
	SessionID string         `json:"session_id"`
	Present   int            `json:"present"`
	Total     int            `json:"total"`
	Counts    map[Status]int `json:"counts"`
}

// SessionSnapshot counts attended records against the course's enrollment.
func (s *Service) SessionSnapshot(ctx context.Context, sessionID, courseID string) (Snapshot, error) {
	counts, err := s.repo.SessionCounts(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	total, err := s.dir.CountCourseStudents(ctx, courseID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		SessionID: sessionID,
		Present:   counts[StatusPresent] + counts[StatusLate],
		Total:     total,
		Counts:    counts,
	}, nil
}
