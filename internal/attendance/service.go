package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartattendance/internal/apperr"
	"smartattendance/internal/audit"
	"smartattendance/internal/auth"
	"smartattendance/internal/directory"
	"smartattendance/internal/geo"
	"smartattendance/internal/metrics"
	"smartattendance/internal/qr"
	"smartattendance/internal/session"
)

const invalidCode = "invalid or expired code"

// Sessions is the part of the session registry the ledger depends on.
type Sessions interface {
	FindActiveByToken(ctx context.Context, token string) (session.Session, error)
	Authorize(ctx context.Context, caller auth.Identity, id string) (session.Session, error)
	Lookup(ctx context.Context, id string) (session.Session, error)
	CountByCourse(ctx context.Context, courseID string) (int, error)
}

// Directory resolves students and course access.
type Directory interface {
	FindStudent(ctx context.Context, id string) (directory.User, error)
	StudentExists(ctx context.Context, id string) (bool, error)
	CourseFor(ctx context.Context, caller auth.Identity, courseID string) (directory.Course, error)
	CountCourseStudents(ctx context.Context, courseID string) (int, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
	ListCourseStudents(ctx context.Context, courseID string) ([]directory.User, error)
}

// Service runs the marking protocol and the administrative marking paths.
type Service struct {
	repo     *Repository
	sessions Sessions
	dir      Directory
	audit    audit.Sink
	radius   float64
	now      func() time.Time
}

// NewService creates the service. radius <= 0 uses geo.DefaultRadiusMeters.
func NewService(repo *Repository, sessions Sessions, dir Directory, sink audit.Sink, radius float64) *Service {
	if radius <= 0 {
		radius = geo.DefaultRadiusMeters
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &Service{repo: repo, sessions: sessions, dir: dir, audit: sink, radius: radius, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// SubmitInput is what a scanning student presents.
type SubmitInput struct {
	// Code is the raw token or the whole scanned payload URL.
	Code     string
	Location *geo.Point
}

// Submit marks the caller present for the session behind the code.
func (s *Service) Submit(ctx context.Context, caller auth.Identity, in SubmitInput) (Receipt, error) {
	rec, err := s.submit(ctx, caller, in)
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		s.audit.Publish(audit.NewEvent(audit.TypeAttendanceRejected, caller.ID, apperr.PublicMessage(err),
			map[string]any{"kind": outcome}))
	} else {
		s.audit.Publish(audit.NewEvent(audit.TypeAttendanceMarked, caller.ID, "attendance submitted",
			map[string]any{"session_id": rec.SessionID}))
	}
	metrics.Submissions.WithLabelValues(outcome).Inc()
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{SessionID: rec.SessionID, Status: rec.Status, MarkedAt: rec.MarkedAt}, nil
}

func (s *Service) submit(ctx context.Context, caller auth.Identity, in SubmitInput) (Record, error) {
	token := qr.ParsePayload(in.Code)
	if token == "" {
		return Record{}, apperr.BadRequest("code required")
	}

	sess, err := s.sessions.FindActiveByToken(ctx, token)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return Record{}, apperr.NotFound(invalidCode)
		}
		return Record{}, err
	}

	now := s.clock()
	if !sess.Live(now) {
		return Record{}, apperr.Expired(invalidCode)
	}

	var at *geo.Point
	if sess.LocationRequired() {
		if in.Location == nil {
			return Record{}, apperr.BadRequest("location required")
		}
		if !in.Location.Valid() {
			return Record{}, apperr.BadRequest("invalid location")
		}
		if !geo.WithinRadius(sess.Location, in.Location, s.radius) {
			return Record{}, apperr.OutsideGeofence(fmt.Sprintf("outside allowed area (%gm limit)", s.radius))
		}
		at = in.Location
	}

	if _, err := s.dir.FindStudent(ctx, caller.ID); err != nil {
		return Record{}, err
	}

	return s.repo.InsertIfAbsent(ctx, Record{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		StudentID: caller.ID,
		Status:    StatusPresent,
		Location:  at,
		MarkedAt:  now,
	})
}

// MarkInput is one administrative mark.
type MarkInput struct {
	StudentID string `json:"student_id" binding:"required,uuid"`
	Status    Status `json:"status" binding:"required"`
	Note      string `json:"note"`
}

func (s *Service) checkMarks(ctx context.Context, marks []MarkInput) error {
	if len(marks) == 0 {
		return apperr.BadRequest("no marks given")
	}
	seen := make(map[string]bool, len(marks))
	for _, m := range marks {
		if !m.Status.Valid() {
			return apperr.BadRequest(fmt.Sprintf("invalid status %q", m.Status))
		}
		if seen[m.StudentID] {
			return apperr.BadRequest("student listed twice")
		}
		seen[m.StudentID] = true
		ok, err := s.dir.StudentExists(ctx, m.StudentID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("student not found")
		}
	}
	return nil
}

func (s *Service) record(sessionID, marker string, m MarkInput, now time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StudentID: m.StudentID,
		Status:    m.Status,
		MarkedBy:  marker,
		Note:      strings.TrimSpace(m.Note),
		MarkedAt:  now,
	}
}

// Mark sets a student's status on a session the caller administers. It
// overwrites any existing record and ignores token, expiry and geofence.
func (s *Service) Mark(ctx context.Context, caller auth.Identity, sessionID string, m MarkInput) (Record, error) {
	sess, err := s.sessions.Authorize(ctx, caller, sessionID)
	if err != nil {
		return Record{}, err
	}
	if err := s.checkMarks(ctx, []MarkInput{m}); err != nil {
		return Record{}, err
	}
	rec, err := s.repo.Upsert(ctx, s.record(sess.ID, caller.ID, m, s.clock()))
	if err != nil {
		return Record{}, err
	}
	metrics.ManualMarks.WithLabelValues("manual").Inc()
	s.audit.Publish(audit.NewEvent(audit.TypeAttendanceManual, caller.ID, "attendance marked",
		map[string]any{"session_id": sess.ID, "student_id": m.StudentID, "status": string(m.Status)}))
	return rec, nil
}

// BulkMark applies all marks in one transaction; either every mark lands or none.
func (s *Service) BulkMark(ctx context.Context, caller auth.Identity, sessionID string, marks []MarkInput) ([]Record, error) {
	sess, err := s.sessions.Authorize(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkMarks(ctx, marks); err != nil {
		return nil, err
	}
	now := s.clock()
	out := make([]Record, 0, len(marks))
	err = s.repo.InTx(ctx, func(tx *Repository) error {
		for _, m := range marks {
			rec, err := tx.Upsert(ctx, s.record(sess.ID, caller.ID, m, now))
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ManualMarks.WithLabelValues("bulk").Add(float64(len(out)))
	s.audit.Publish(audit.NewEvent(audit.TypeAttendanceManual, caller.ID, "bulk attendance marked",
		map[string]any{"session_id": sess.ID, "count": len(out)}))
	return out, nil
}
