package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartattendance/internal/apperr"
	"smartattendance/internal/audit"
	"smartattendance/internal/auth"
	"smartattendance/internal/metrics"
)

// Correction states.
const (
	CorrectionPending  = "pending"
	CorrectionApproved = "approved"
	CorrectionRejected = "rejected"
)

// Correction is a student's request to change their status for a session.
type Correction struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	StudentID       string     `json:"student_id"`
	RequestedStatus Status     `json:"requested_status"`
	Reason          string     `json:"reason"`
	State           string     `json:"state"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

const correctionColumns = `id, session_id, student_id, requested_status, reason, state, reviewed_by, reviewed_at, created_at`

func scanCorrection(row interface{ Scan(...any) error }) (Correction, error) {
	var (
		c        Correction
		reviewer sql.NullString
		reviewed sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.SessionID, &c.StudentID, &c.RequestedStatus, &c.Reason, &c.State, &reviewer, &reviewed, &c.CreatedAt); err != nil {
		return Correction{}, err
	}
	c.ReviewedBy = reviewer.String
	if reviewed.Valid {
		t := reviewed.Time.UTC()
		c.ReviewedAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (r *Repository) insertCorrection(ctx context.Context, c Correction) error {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO corrections (id, session_id, student_id, requested_status, reason, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.SessionID, c.StudentID, string(c.RequestedStatus), c.Reason, c.State, c.CreatedAt)
	if err != nil {
		return apperr.Internal("insert correction", err)
	}
	return nil
}

func (r *Repository) pendingCorrectionExists(ctx context.Context, sessionID, studentID string) (bool, error) {
	var n int
	err := r.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections WHERE session_id = $1 AND student_id = $2 AND state = $3`,
		sessionID, studentID, CorrectionPending).Scan(&n)
	if err != nil {
		return false, apperr.Internal("check corrections", err)
	}
	return n > 0, nil
}

func (r *Repository) correction(ctx context.Context, id string) (Correction, error) {
	c, err := scanCorrection(r.conn.QueryRowContext(ctx, `SELECT `+correctionColumns+` FROM corrections WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Correction{}, apperr.NotFound("correction not found")
		}
		return Correction{}, apperr.Internal("get correction", err)
	}
	return c, nil
}

func (r *Repository) listCorrections(ctx context.Context, column, value string) ([]Correction, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT `+correctionColumns+` FROM corrections WHERE `+column+` = $1 ORDER BY created_at DESC`, value)
	if err != nil {
		return nil, apperr.Internal("list corrections", err)
	}
	defer rows.Close()
	out := []Correction{}
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, apperr.Internal("scan correction", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// review moves a pending correction to state. Only one reviewer can win.
func (r *Repository) review(ctx context.Context, id, state, reviewer string, at time.Time) error {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE corrections SET state = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1 AND state = $5
	`, id, state, reviewer, at, CorrectionPending)
	if err != nil {
		return apperr.Internal("review correction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal("review correction", err)
	}
	if n == 0 {
		return apperr.Conflict("correction already reviewed")
	}
	return nil
}

// RequestCorrection files a correction for the calling student.
func (s *Service) RequestCorrection(ctx context.Context, caller auth.Identity, sessionID string, requested Status, reason string) (Correction, error) {
	reason = strings.TrimSpace(reason)
	if !requested.Valid() {
		return Correction{}, apperr.BadRequest("invalid status")
	}
	if reason == "" {
		return Correction{}, apperr.BadRequest("reason required")
	}
	if _, err := s.dir.FindStudent(ctx, caller.ID); err != nil {
		return Correction{}, err
	}
	sess, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return Correction{}, err
	}
	enrolled, err := s.dir.IsEnrolled(ctx, sess.CourseID, caller.ID)
	if err != nil {
		return Correction{}, err
	}
	if !enrolled {
		return Correction{}, apperr.NotFound("session not found")
	}
	pending, err := s.repo.pendingCorrectionExists(ctx, sessionID, caller.ID)
	if err != nil {
		return Correction{}, err
	}
	if pending {
		return Correction{}, apperr.Conflict("a correction is already pending for this session")
	}

	c := Correction{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		StudentID:       caller.ID,
		RequestedStatus: requested,
		Reason:          reason,
		State:           CorrectionPending,
		CreatedAt:       s.clock(),
	}
	if err := s.repo.insertCorrection(ctx, c); err != nil {
		return Correction{}, err
	}
	s.audit.Publish(audit.NewEvent(audit.TypeCorrection, caller.ID, "correction requested",
		map[string]any{"correction_id": c.ID, "session_id": sessionID}))
	return c, nil
}

// SessionCorrections lists corrections on a session the caller administers.
func (s *Service) SessionCorrections(ctx context.Context, caller auth.Identity, sessionID string) ([]Correction, error) {
	if _, err := s.sessions.Authorize(ctx, caller, sessionID); err != nil {
		return nil, err
	}
	return s.repo.listCorrections(ctx, "session_id", sessionID)
}

// StudentCorrections lists the caller's own corrections.
func (s *Service) StudentCorrections(ctx context.Context, caller auth.Identity) ([]Correction, error) {
	return s.repo.listCorrections(ctx, "student_id", caller.ID)
}

// ApproveCorrection accepts a pending correction and overwrites the record
// with the requested status, the reviewer as marker and the reason as note.
func (s *Service) ApproveCorrection(ctx context.Context, caller auth.Identity, id string) (Correction, Record, error) {
	c, err := s.reviewable(ctx, caller, id)
	if err != nil {
		return Correction{}, Record{}, err
	}
	now := s.clock()
	var rec Record
	err = s.repo.InTx(ctx, func(tx *Repository) error {
		if err := tx.review(ctx, c.ID, CorrectionApproved, caller.ID, now); err != nil {
			return err
		}
		rec, err = tx.Upsert(ctx, s.record(c.SessionID, caller.ID, MarkInput{StudentID: c.StudentID, Status: c.RequestedStatus, Note: c.Reason}, now))
		return err
	})
	if err != nil {
		return Correction{}, Record{}, err
	}
	c.State, c.ReviewedBy, c.ReviewedAt = CorrectionApproved, caller.ID, &now
	metrics.ManualMarks.WithLabelValues("correction").Inc()
	s.audit.Publish(audit.NewEvent(audit.TypeCorrection, caller.ID, "correction approved",
		map[string]any{"correction_id": c.ID, "session_id": c.SessionID}))
	return c, rec, nil
}

// RejectCorrection declines a pending correction; the ledger is untouched.
func (s *Service) RejectCorrection(ctx context.Context, caller auth.Identity, id string) (Correction, error) {
	c, err := s.reviewable(ctx, caller, id)
	if err != nil {
		return Correction{}, err
	}
	now := s.clock()
	if err := s.repo.review(ctx, c.ID, CorrectionRejected, caller.ID, now); err != nil {
		return Correction{}, err
	}
	c.State, c.ReviewedBy, c.ReviewedAt = CorrectionRejected, caller.ID, &now
	s.audit.Publish(audit.NewEvent(audit.TypeCorrection, caller.ID, "correction rejected",
		map[string]any{"correction_id": c.ID, "session_id": c.SessionID}))
	return c, nil
}

func (s *Service) reviewable(ctx context.Context, caller auth.Identity, id string) (Correction, error) {
	c, err := s.repo.correction(ctx, id)
	if err != nil {
		return Correction{}, err
	}
	if _, err := s.sessions.Authorize(ctx, caller, c.SessionID); err != nil {
		return Correction{}, err
	}
	if c.State != CorrectionPending {
		return Correction{}, apperr.Conflict("correction already reviewed")
	}
	return c, nil
}
