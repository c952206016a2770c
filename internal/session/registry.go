package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
	"smartattendance/internal/directory"
	"smartattendance/internal/geo"
	"smartattendance/internal/metrics"
	"smartattendance/internal/qr"
)

const dateLayout = "2006-01-02"

// Courses authorizes course access for the registry.
type Courses interface {
	CourseFor(ctx context.Context, caller auth.Identity, courseID string) (directory.Course, error)
}

// Issued is a session together with the scannable code for its current token.
type Issued struct {
	Session Session
	Code    qr.Code
}

// CreateInput describes a new session.
type CreateInput struct {
	CourseID      string
	Topic         string
	ScheduledDate string
	StartTime     string
	EndTime       string
	TTLMinutes    int
	Location      *geo.Point
}

// Registry owns the session lifecycle.
type Registry struct {
	repo       *Repository
	courses    Courses
	issuer     *qr.Issuer
	defaultTTL int
	now        func() time.Time
}

// NewRegistry builds a registry. defaultTTL applies when a create request names none.
func NewRegistry(repo *Repository, courses Courses, issuer *qr.Issuer, defaultTTL time.Duration) *Registry {
	ttl := int(defaultTTL / time.Minute)
	if ttl <= 0 {
		ttl = 15
	}
	return &Registry{repo: repo, courses: courses, issuer: issuer, defaultTTL: ttl, now: time.Now}
}

// WithClock overrides the time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) clock() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Create opens a new session on a course the caller owns.
func (r *Registry) Create(ctx context.Context, caller auth.Identity, in CreateInput) (Issued, error) {
	course, err := r.courses.CourseFor(ctx, caller, in.CourseID)
	if err != nil {
		return Issued{}, err
	}
	ttl := in.TTLMinutes
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	if ttl < 0 || ttl > MaxTTLMinutes {
		return Issued{}, apperr.BadRequest("ttl_minutes must be between 1 and 1440")
	}
	if in.Location != nil && !in.Location.Valid() {
		return Issued{}, apperr.BadRequest("invalid location")
	}
	if in.ScheduledDate != "" {
		if _, err := time.Parse(dateLayout, in.ScheduledDate); err != nil {
			return Issued{}, apperr.BadRequest("scheduled_date must be YYYY-MM-DD")
		}
	}

	code, err := r.issuer.Issue()
	if err != nil {
		return Issued{}, apperr.Internal("issue token", err)
	}
	now := r.clock()
	s := Session{
		ID:            uuid.NewString(),
		CourseID:      course.ID,
		LecturerID:    course.LecturerID,
		Topic:         strings.TrimSpace(in.Topic),
		ScheduledDate: in.ScheduledDate,
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		Token:         code.Token,
		TTLMinutes:    ttl,
		ExpiresAt:     now.Add(time.Duration(ttl) * time.Minute),
		Active:        true,
		Location:      in.Location,
		CreatedAt:     now,
	}
	if s.ScheduledDate == "" {
		s.ScheduledDate = now.Format(dateLayout)
	}
	if err := r.repo.Insert(ctx, s); err != nil {
		return Issued{}, err
	}
	metrics.SessionsCreated.Inc()
	return Issued{Session: s, Code: code}, nil
}

// FindActiveByToken resolves a token to its session. The caller still has
// to check Live; the lookup succeeds for expired and closed sessions.
func (r *Registry) FindActiveByToken(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, apperr.NotFound("session not found")
	}
	return r.repo.ByToken(ctx, token)
}

// Lookup returns a session without authorization checks.
func (r *Registry) Lookup(ctx context.Context, id string) (Session, error) {
	return r.repo.ByID(ctx, id)
}

// Authorize returns the session if caller may administer it.
func (r *Registry) Authorize(ctx context.Context, caller auth.Identity, id string) (Session, error) {
	s, err := r.repo.ByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if caller.IsAdmin() || (caller.Role == auth.RoleLecturer && s.LecturerID == caller.ID) {
		return s, nil
	}
	return Session{}, apperr.Forbidden("not allowed to manage this session")
}

// Get returns the session and a code rendered from its current token.
func (r *Registry) Get(ctx context.Context, caller auth.Identity, id string) (Issued, error) {
	s, err := r.Authorize(ctx, caller, id)
	if err != nil {
		return Issued{}, err
	}
	code, err := r.issuer.Render(s.Token)
	if err != nil {
		return Issued{}, apperr.Internal("render code", err)
	}
	return Issued{Session: s, Code: code}, nil
}

// Deactivate clears the active flag. Calling it twice is harmless.
func (r *Registry) Deactivate(ctx context.Context, caller auth.Identity, id string) (Session, error) {
	s, err := r.Authorize(ctx, caller, id)
	if err != nil {
		return Session{}, err
	}
	if err := r.repo.SetActive(ctx, id, false); err != nil {
		return Session{}, err
	}
	s.Active = false
	return s, nil
}

// Extend pushes expiry forward by minutes from max(expiry, now).
// The active flag is left alone, so a force-closed session stays closed.
func (r *Registry) Extend(ctx context.Context, caller auth.Identity, id string, minutes int) (Session, error) {
	if minutes <= 0 || minutes > MaxTTLMinutes {
		return Session{}, apperr.BadRequest("minutes must be between 1 and 1440")
	}
	s, err := r.Authorize(ctx, caller, id)
	if err != nil {
		return Session{}, err
	}
	for attempt := 0; attempt < 3; attempt++ {
		base := s.ExpiresAt
		if now := r.clock(); now.After(base) {
			base = now
		}
		next := base.Add(time.Duration(minutes) * time.Minute)
		ok, err := r.repo.SwapExpiry(ctx, id, s.ExpiresAt, next)
		if err != nil {
			return Session{}, err
		}
		if ok {
			s.ExpiresAt = next
			return s, nil
		}
		if s, err = r.repo.ByID(ctx, id); err != nil {
			return Session{}, err
		}
	}
	return Session{}, apperr.Conflict("session changed concurrently, retry")
}

// ForceClose deactivates the session and sets its expiry to now in one write.
func (r *Registry) ForceClose(ctx context.Context, caller auth.Identity, id string) (Session, error) {
	s, err := r.Authorize(ctx, caller, id)
	if err != nil {
		return Session{}, err
	}
	now := r.clock()
	if err := r.repo.ForceClose(ctx, id, now); err != nil {
		return Session{}, err
	}
	s.Active = false
	s.ExpiresAt = now
	return s, nil
}

// Regenerate replaces the token and resets expiry to now + the session's ttl.
// The previous token stops resolving immediately.
func (r *Registry) Regenerate(ctx context.Context, caller auth.Identity, id string) (Issued, error) {
	s, err := r.Authorize(ctx, caller, id)
	if err != nil {
		return Issued{}, err
	}
	return r.rotate(ctx, s, false)
}

// Activate opens an inactive session (typically a clone) with a fresh token.
// Sessions of a deleted course stay closed.
func (r *Registry) Activate(ctx context.Context, caller auth.Identity, id string) (Issued, error) {
	s, err := r.Authorize(ctx, caller, id)
	if err != nil {
		return Issued{}, err
	}
	if _, err := r.courses.CourseFor(ctx, caller, s.CourseID); err != nil {
		return Issued{}, err
	}
	return r.rotate(ctx, s, true)
}

func (r *Registry) rotate(ctx context.Context, s Session, reopen bool) (Issued, error) {
	code, err := r.issuer.Issue()
	if err != nil {
		return Issued{}, apperr.Internal("issue token", err)
	}
	expires := r.clock().Add(time.Duration(s.TTLMinutes) * time.Minute)
	if reopen {
		err = r.repo.Reopen(ctx, s.ID, code.Token, expires)
		s.Active = true
	} else {
		err = r.repo.Rotate(ctx, s.ID, code.Token, expires)
	}
	if err != nil {
		return Issued{}, err
	}
	s.Token = code.Token
	s.ExpiresAt = expires
	return Issued{Session: s, Code: code}, nil
}

// Clone copies course, schedule and location onto newDate. The copy starts
// inactive with its own token.
func (r *Registry) Clone(ctx context.Context, caller auth.Identity, id, newDate string) (Session, error) {
	if _, err := time.Parse(dateLayout, newDate); err != nil {
		return Session{}, apperr.BadRequest("new_date must be YYYY-MM-DD")
	}
	src, err := r.Authorize(ctx, caller, id)
	if err != nil {
		return Session{}, err
	}
	token, err := qr.NewToken()
	if err != nil {
		return Session{}, apperr.Internal("issue token", err)
	}
	now := r.clock()
	s := src
	s.ID = uuid.NewString()
	s.ScheduledDate = newDate
	s.Token = token
	s.ExpiresAt = now
	s.Active = false
	s.ClonedFrom = src.ID
	s.CreatedAt = now
	if err := r.repo.Insert(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// ListByCourse lists a course's sessions for its owner or an admin.
func (r *Registry) ListByCourse(ctx context.Context, caller auth.Identity, courseID string) ([]Session, error) {
	if _, err := r.courses.CourseFor(ctx, caller, courseID); err != nil {
		return nil, err
	}
	return r.repo.ListByCourse(ctx, courseID)
}

// ListActive returns sessions that accept submissions right now. Admins see
// all of them, lecturers only their own.
func (r *Registry) ListActive(ctx context.Context, caller auth.Identity) ([]Session, error) {
	lecturer := caller.ID
	if caller.IsAdmin() {
		lecturer = ""
	}
	flagged, err := r.repo.ListActiveFlagged(ctx, lecturer)
	if err != nil {
		return nil, err
	}
	now := r.clock()
	live := flagged[:0]
	for _, s := range flagged {
		if s.Live(now) {
			live = append(live, s)
		}
	}
	return live, nil
}

// CountByCourse returns how many sessions a course has had.
func (r *Registry) CountByCourse(ctx context.Context, courseID string) (int, error) {
	return r.repo.CountByCourse(ctx, courseID)
}
