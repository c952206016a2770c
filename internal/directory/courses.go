package directory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
	"smartattendance/internal/store"
)

// Course is owned by exactly one lecturer.
type Course struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	LecturerID  string    `json:"lecturer_id"`
	CreatedAt   time.Time `json:"created_at"`
}

const courseColumns = `id, code, name, description, lecturer_id, created_at`

func scanCourse(row interface{ Scan(...any) error }) (Course, error) {
	var c Course
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.LecturerID, &c.CreatedAt); err != nil {
		return Course{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// CreateCourse creates a course owned by lecturerID.
func (d *Directory) CreateCourse(ctx context.Context, lecturerID, code, name, description string) (Course, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return Course{}, apperr.BadRequest("course code and name required")
	}
	_, role, err := d.FindByID(ctx, lecturerID)
	if err != nil {
		return Course{}, err
	}
	if role != auth.RoleLecturer {
		return Course{}, apperr.BadRequest("course owner must be a lecturer")
	}

	c := Course{
		ID:          uuid.NewString(),
		Code:        code,
		Name:        name,
		Description: strings.TrimSpace(description),
		LecturerID:  lecturerID,
		CreatedAt:   d.now().UTC(),
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO courses (id, code, name, description, lecturer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Code, c.Name, c.Description, c.LecturerID, c.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Course{}, apperr.Conflict("course code already exists")
		}
		return Course{}, apperr.Internal("create course", err)
	}
	return c, nil
}

// GetCourse returns a course by id.
func (d *Directory) GetCourse(ctx context.Context, id string) (Course, error) {
	c, err := scanCourse(d.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, apperr.NotFound("course not found")
		}
		return Course{}, apperr.Internal("get course", err)
	}
	return c, nil
}

// CourseFor returns the course if the caller may administer it. A course the
// caller does not own is reported as not found.
func (d *Directory) CourseFor(ctx context.Context, caller auth.Identity, courseID string) (Course, error) {
	c, err := d.GetCourse(ctx, courseID)
	if err != nil {
		return Course{}, err
	}
	if !caller.IsAdmin() && c.LecturerID != caller.ID {
		return Course{}, apperr.NotFound("course not found")
	}
	return c, nil
}

// CourseUpdate carries the course fields an admin may change. Nil fields are
// left as they are.
type CourseUpdate struct {
	Code        *string
	Name        *string
	Description *string
	LecturerID  *string
}

// UpdateCourse applies in to a live course. A new owner must be a lecturer
// and takes over the course's sessions.
func (d *Directory) UpdateCourse(ctx context.Context, id string, in CourseUpdate) (Course, error) {
	c, err := d.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if in.Code != nil {
		if c.Code = strings.ToUpper(strings.TrimSpace(*in.Code)); c.Code == "" {
			return Course{}, apperr.BadRequest("course code and name required")
		}
	}
	if in.Name != nil {
		if c.Name = strings.TrimSpace(*in.Name); c.Name == "" {
			return Course{}, apperr.BadRequest("course code and name required")
		}
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.LecturerID != nil && *in.LecturerID != c.LecturerID {
		_, role, err := d.FindByID(ctx, *in.LecturerID)
		if err != nil {
			return Course{}, err
		}
		if role != auth.RoleLecturer {
			return Course{}, apperr.BadRequest("course owner must be a lecturer")
		}
		c.LecturerID = *in.LecturerID
	}

	err = store.RunInTx(ctx, d.db, func(ctx context.Context, tx store.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE courses SET code = $1, name = $2, description = $3, lecturer_id = $4
			WHERE id = $5 AND deleted_at IS NULL
		`, c.Code, c.Name, c.Description, c.LecturerID, c.ID)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict("course code already exists")
			}
			return apperr.Internal("update course", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("course not found")
		}
		// Sessions follow the course owner.
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET lecturer_id = $1 WHERE course_id = $2`, c.LecturerID, c.ID); err != nil {
			return apperr.Internal("reassign course sessions", err)
		}
		return nil
	})
	if err != nil {
		return Course{}, err
	}
	return c, nil
}

// DeleteCourse soft-deletes a course and deactivates its sessions so no
// further scans land. Enrollments and the attendance ledger are kept.
func (d *Directory) DeleteCourse(ctx context.Context, id string) error {
	return store.RunInTx(ctx, d.db, func(ctx context.Context, tx store.DBTX) error {
		res, err := tx.ExecContext(ctx, `UPDATE courses SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, d.now().UTC(), id)
		if err != nil {
			return apperr.Internal("delete course", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("course not found")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET active = $1 WHERE course_id = $2`, false, id); err != nil {
			return apperr.Internal("deactivate course sessions", err)
		}
		return nil
	})
}

// ListCourses lists courses; an empty lecturerID lists all of them.
func (d *Directory) ListCourses(ctx context.Context, lecturerID string) ([]Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE deleted_at IS NULL`
	var args []any
	if lecturerID != "" {
		query += ` AND lecturer_id = $1`
		args = append(args, lecturerID)
	}
	query += ` ORDER BY code`
	return d.queryCourses(ctx, query, args...)
}

// ListStudentCourses lists the courses a student is enrolled in.
func (d *Directory) ListStudentCourses(ctx context.Context, studentID string) ([]Course, error) {
	return d.queryCourses(ctx, `
		SELECT c.id, c.code, c.name, c.description, c.lecturer_id, c.created_at
		FROM courses c JOIN enrollments e ON e.course_id = c.id
		WHERE e.student_id = $1 AND c.deleted_at IS NULL
		ORDER BY c.code
	`, studentID)
}

func (d *Directory) queryCourses(ctx context.Context, query string, args ...any) ([]Course, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("list courses", err)
	}
	defer rows.Close()
	courses := []Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, apperr.Internal("scan course", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list courses", err)
	}
	return courses, nil
}

// Enroll adds a student to a course.
func (d *Directory) Enroll(ctx context.Context, courseID, studentID string) error {
	if _, err := d.GetCourse(ctx, courseID); err != nil {
		return err
	}
	if _, err := d.FindStudent(ctx, studentID); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO enrollments (course_id, student_id, enrolled_at) VALUES ($1, $2, $3)
	`, courseID, studentID, d.now().UTC())
	if err != nil {
		if store.IsUniqueViolation(err) {
			return apperr.Conflict("student already enrolled")
		}
		return apperr.Internal("enroll", err)
	}
	return nil
}

// Unenroll removes a student from a course.
func (d *Directory) Unenroll(ctx context.Context, courseID, studentID string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM enrollments WHERE course_id = $1 AND student_id = $2`, courseID, studentID)
	if err != nil {
		return apperr.Internal("unenroll", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("enrollment not found")
	}
	return nil
}

// ListCourseStudents lists enrolled students ordered by student number.
func (d *Directory) ListCourseStudents(ctx context.Context, courseID string) ([]User, error) {
	return d.queryUsers(ctx, `
		SELECT u.id, u.role, u.email, u.full_name, u.student_number, u.department, u.created_at, u.password_hash
		FROM users u JOIN enrollments e ON e.student_id = u.id
		WHERE e.course_id = $1 AND u.deleted_at IS NULL
		ORDER BY u.student_number
	`, courseID)
}

// CountCourseStudents returns the enrollment count of a course.
func (d *Directory) CountCourseStudents(ctx context.Context, courseID string) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1`, courseID).Scan(&n); err != nil {
		return 0, apperr.Internal("count students", err)
	}
	return n, nil
}

// IsEnrolled reports whether the student is enrolled in the course.
func (d *Directory) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND student_id = $2`, courseID, studentID).Scan(&n)
	if err != nil {
		return false, apperr.Internal("check enrollment", err)
	}
	return n > 0, nil
}
