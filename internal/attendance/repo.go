package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"smartattendance/internal/apperr"
	"smartattendance/internal/geo"
	"smartattendance/internal/store"
)

// Repository is the attendance ledger. The unique (session_id, student_id)
// constraint is what keeps one row per pair; nothing here locks in process.
type Repository struct {
	db   *sql.DB
	conn store.DBTX
}

// NewRepository creates a ledger over db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, conn: db}
}

// InTx runs fn with a ledger bound to one transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Repository) error) error {
	return store.RunInTx(ctx, r.db, func(ctx context.Context, tx store.DBTX) error {
		return fn(&Repository{db: r.db, conn: tx})
	})
}

func coords(p *geo.Point) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertIfAbsent creates the record, or fails with Conflict when the pair
// already has one. Concurrent callers race on the constraint; one wins.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec Record) (Record, error) {
	lat, lng := coords(rec.Location)
	err := r.conn.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, latitude, longitude, marked_by, note, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING id
	`, rec.ID, rec.SessionID, rec.StudentID, string(rec.Status), lat, lng, nullable(rec.MarkedBy), nullable(rec.Note), rec.MarkedAt).Scan(&rec.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || store.IsUniqueViolation(err) {
			return Record{}, apperr.Conflict("already submitted")
		}
		return Record{}, apperr.Internal("insert attendance", err)
	}
	return rec, nil
}

// Upsert writes status, marker, note and timestamp, last write wins. Stored
// coordinates survive when rec carries none.
func (r *Repository) Upsert(ctx context.Context, rec Record) (Record, error) {
	lat, lng := coords(rec.Location)
	var rlat, rlng sql.NullFloat64
	err := r.conn.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, latitude, longitude, marked_by, note, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = excluded.status,
			marked_by = excluded.marked_by,
			note = excluded.note,
			marked_at = excluded.marked_at,
			latitude = COALESCE(excluded.latitude, attendance_records.latitude),
			longitude = COALESCE(excluded.longitude, attendance_records.longitude)
		RETURNING id, latitude, longitude
	`, rec.ID, rec.SessionID, rec.StudentID, string(rec.Status), lat, lng, nullable(rec.MarkedBy), nullable(rec.Note), rec.MarkedAt).
		Scan(&rec.ID, &rlat, &rlng)
	if err != nil {
		return Record{}, apperr.Internal("upsert attendance", err)
	}
	rec.Location = point(rlat, rlng)
	return rec, nil
}

func point(lat, lng sql.NullFloat64) *geo.Point {
	if lat.Valid && lng.Valid {
		return &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return nil
}

const recordColumns = `a.id, a.session_id, a.student_id, a.status, a.latitude, a.longitude, a.marked_by, a.note, a.marked_at`

type recordScanner struct {
	lat, lng     sql.NullFloat64
	marker, note sql.NullString
}

func (s *recordScanner) dest(rec *Record) []any {
	return []any{&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status, &s.lat, &s.lng, &s.marker, &s.note, &rec.MarkedAt}
}

func (s *recordScanner) finish(rec *Record) {
	rec.Location = point(s.lat, s.lng)
	rec.MarkedBy = s.marker.String
	rec.Note = s.note.String
	rec.MarkedAt = rec.MarkedAt.UTC()
}

// Get returns the record for a pair.
func (r *Repository) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	var (
		rec Record
		sc  recordScanner
	)
	err := r.conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records a WHERE a.session_id = $1 AND a.student_id = $2`,
		sessionID, studentID).Scan(sc.dest(&rec)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, apperr.NotFound("attendance record not found")
		}
		return Record{}, apperr.Internal("get attendance", err)
	}
	sc.finish(&rec)
	return rec, nil
}

// ForSession lists a session's records with student details, by student number.
func (r *Repository) ForSession(ctx context.Context, sessionID string) ([]SessionEntry, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT `+recordColumns+`, u.full_name, COALESCE(u.student_number, '')
		FROM attendance_records a JOIN users u ON u.id = a.student_id
		WHERE a.session_id = $1
		ORDER BY u.student_number, a.marked_at
	`, sessionID)
	if err != nil {
		return nil, apperr.Internal("list session attendance", err)
	}
	defer rows.Close()
	out := []SessionEntry{}
	for rows.Next() {
		var (
			e  SessionEntry
			sc recordScanner
		)
		if err := rows.Scan(append(sc.dest(&e.Record), &e.StudentName, &e.StudentNumber)...); err != nil {
			return nil, apperr.Internal("scan attendance", err)
		}
		sc.finish(&e.Record)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ForStudent lists a student's records, newest first, optionally for one course.
func (r *Repository) ForStudent(ctx context.Context, studentID, courseID string, limit int) ([]StudentEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + recordColumns + `, s.course_id, c.code, s.topic, s.scheduled_date
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		JOIN courses c ON c.id = s.course_id
		WHERE a.student_id = $1`
	args := []any{studentID}
	if courseID != "" {
		query += ` AND s.course_id = $2`
		args = append(args, courseID)
	}
	query += ` ORDER BY a.marked_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("list student attendance", err)
	}
	defer rows.Close()
	out := []StudentEntry{}
	for rows.Next() {
		var (
			e  StudentEntry
			sc recordScanner
		)
		if err := rows.Scan(append(sc.dest(&e.Record), &e.CourseID, &e.CourseCode, &e.Topic, &e.ScheduledDate)...); err != nil {
			return nil, apperr.Internal("scan attendance", err)
		}
		sc.finish(&e.Record)
		out = append(out, e)
	}
	return out, rows.Err()
}

// countByStatus runs a (status, count) query and zero-fills missing statuses.
func (r *Repository) countByStatus(ctx context.Context, query string, args ...any) (map[Status]int, error) {
	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("count attendance", err)
	}
	defer rows.Close()
	counts := zeroCounts()
	for rows.Next() {
		var (
			st Status
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, apperr.Internal("scan counts", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func zeroCounts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	return counts
}

// StudentCounts returns per-status totals for a student, zero-filled.
func (r *Repository) StudentCounts(ctx context.Context, studentID string) (map[Status]int, error) {
	return r.countByStatus(ctx, `SELECT status, COUNT(*) FROM attendance_records WHERE student_id = $1 GROUP BY status`, studentID)
}

// SessionCounts returns per-status totals for a session, zero-filled.
func (r *Repository) SessionCounts(ctx context.Context, sessionID string) (map[Status]int, error) {
	return r.countByStatus(ctx, `SELECT status, COUNT(*) FROM attendance_records WHERE session_id = $1 GROUP BY status`, sessionID)
}

// CourseCounts returns per-status totals across a course's sessions, zero-filled.
func (r *Repository) CourseCounts(ctx context.Context, courseID string) (map[Status]int, error) {
	return r.countByStatus(ctx, `
		SELECT a.status, COUNT(*)
		FROM attendance_records a JOIN sessions s ON s.id = a.session_id
		WHERE s.course_id = $1
		GROUP BY a.status
	`, courseID)
}

// AttendedByStudent counts present or late records per student in a course.
func (r *Repository) AttendedByStudent(ctx context.Context, courseID string) (map[string]int, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT a.student_id, COUNT(*)
		FROM attendance_records a JOIN sessions s ON s.id = a.session_id
		WHERE s.course_id = $1 AND a.status IN ($2, $3)
		GROUP BY a.student_id
	`, courseID, string(StatusPresent), string(StatusLate))
	if err != nil {
		return nil, apperr.Internal("count attended", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, apperr.Internal("scan attended", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}
