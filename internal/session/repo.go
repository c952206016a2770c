package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"smartattendance/internal/apperr"
	"smartattendance/internal/geo"
	"smartattendance/internal/store"
)

// Repository persists sessions.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, course_id, lecturer_id, topic, scheduled_date, start_time, end_time, token,
	ttl_minutes, expires_at, active, latitude, longitude, cloned_from, created_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s        Session
		lat, lng sql.NullFloat64
		cloned   sql.NullString
	)
	err := row.Scan(&s.ID, &s.CourseID, &s.LecturerID, &s.Topic, &s.ScheduledDate, &s.StartTime, &s.EndTime, &s.Token,
		&s.TTLMinutes, &s.ExpiresAt, &s.Active, &lat, &lng, &cloned, &s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	if lat.Valid && lng.Valid {
		s.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	s.ClonedFrom = cloned.String
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

// Insert stores a new session.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	var lat, lng any
	if s.Location != nil {
		lat, lng = s.Location.Lat, s.Location.Lng
	}
	var cloned any
	if s.ClonedFrom != "" {
		cloned = s.ClonedFrom
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, course_id, lecturer_id, topic, scheduled_date, start_time, end_time, token,
			ttl_minutes, expires_at, active, latitude, longitude, cloned_from, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, s.ID, s.CourseID, s.LecturerID, s.Topic, s.ScheduledDate, s.StartTime, s.EndTime, s.Token,
		s.TTLMinutes, s.ExpiresAt, s.Active, lat, lng, cloned, s.CreatedAt)
	if err != nil {
		return apperr.Internal("insert session", err)
	}
	return nil
}

func (r *Repository) one(ctx context.Context, where string, arg any) (Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, apperr.NotFound("session not found")
		}
		return Session{}, apperr.Internal("get session", err)
	}
	return s, nil
}

// ByID returns a session by id.
func (r *Repository) ByID(ctx context.Context, id string) (Session, error) {
	return r.one(ctx, `id = $1`, id)
}

// ByToken returns the session currently holding token.
func (r *Repository) ByToken(ctx context.Context, token string) (Session, error) {
	return r.one(ctx, `token = $1`, token)
}

// ListByCourse returns a course's sessions, newest first.
func (r *Repository) ListByCourse(ctx context.Context, courseID string) ([]Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE course_id = $1 ORDER BY created_at DESC`, courseID)
}

// ListActiveFlagged returns sessions with active set, optionally for one lecturer.
func (r *Repository) ListActiveFlagged(ctx context.Context, lecturerID string) ([]Session, error) {
	if lecturerID == "" {
		return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE active = $1 ORDER BY expires_at`, true)
	}
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE active = $1 AND lecturer_id = $2 ORDER BY expires_at`, true, lecturerID)
}

// CountByCourse returns how many sessions a course has had.
func (r *Repository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE course_id = $1`, courseID).Scan(&n); err != nil {
		return 0, apperr.Internal("count sessions", err)
	}
	return n, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("list sessions", err)
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Internal("scan session", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list sessions", err)
	}
	return out, nil
}

// SetActive flips the active flag.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, "set active", `UPDATE sessions SET active = $2 WHERE id = $1`, id, active)
}

// ForceClose clears the active flag and pulls expiry to at in one statement.
func (r *Repository) ForceClose(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "force close", `UPDATE sessions SET active = $2, expires_at = $3 WHERE id = $1`, id, false, at)
}

// Rotate swaps in a new token and expiry without touching the active flag.
func (r *Repository) Rotate(ctx context.Context, id, token string, expiresAt time.Time) error {
	return r.exec(ctx, "rotate token", `UPDATE sessions SET token = $2, expires_at = $3 WHERE id = $1`, id, token, expiresAt)
}

// Reopen activates the session with a new token and expiry.
func (r *Repository) Reopen(ctx context.Context, id, token string, expiresAt time.Time) error {
	return r.exec(ctx, "reopen", `UPDATE sessions SET token = $2, expires_at = $3, active = $4 WHERE id = $1`, id, token, expiresAt, true)
}

// SwapExpiry moves expiry from old to next only if nobody changed it meanwhile.
func (r *Repository) SwapExpiry(ctx context.Context, id string, old, next time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET expires_at = $3 WHERE id = $1 AND expires_at = $2`, id, old, next)
	if err != nil {
		return false, apperr.Internal("extend session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Internal("extend session", err)
	}
	return n == 1, nil
}

func (r *Repository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("session not found")
	}
	return nil
}
