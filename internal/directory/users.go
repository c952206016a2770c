// Package directory is the single lookup point for users, courses and enrollments.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
	"smartattendance/internal/store"
)

// User is the view of any account regardless of role.
type User struct {
	ID            string    `json:"id"`
	Role          auth.Role `json:"role"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	StudentNumber string    `json:"student_number,omitempty"`
	Department    string    `json:"department,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	passwordHash string
}

// NewUser is the input for CreateUser.
type NewUser struct {
	Role          auth.Role
	Email         string
	Password      string
	FullName      string
	StudentNumber string
	Department    string
}

// Directory persists users, courses and enrollments.
type Directory struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a directory over db.
func New(db *sql.DB) *Directory {
	return &Directory{db: db, now: time.Now}
}

const userColumns = `id, role, email, full_name, student_number, department, created_at, password_hash`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u   User
		num sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Role, &u.Email, &u.FullName, &num, &u.Department, &u.CreatedAt, &u.passwordHash); err != nil {
		return User{}, err
	}
	u.StudentNumber = num.String
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// CreateUser validates and stores a new account with a bcrypt password hash.
func (d *Directory) CreateUser(ctx context.Context, in NewUser) (User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	in.StudentNumber = strings.TrimSpace(in.StudentNumber)
	if !in.Role.Valid() {
		return User{}, apperr.BadRequest("unknown role")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return User{}, apperr.BadRequest("invalid email")
	}
	if in.FullName == "" {
		return User{}, apperr.BadRequest("full name required")
	}
	if in.Role == auth.RoleStudent && in.StudentNumber == "" {
		return User{}, apperr.BadRequest("student number required")
	}
	if in.Role != auth.RoleStudent {
		in.StudentNumber = ""
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, apperr.BadRequest(err.Error())
	}

	u := User{
		ID:            uuid.NewString(),
		Role:          in.Role,
		Email:         in.Email,
		FullName:      in.FullName,
		StudentNumber: in.StudentNumber,
		Department:    strings.TrimSpace(in.Department),
		CreatedAt:     d.now().UTC(),
		passwordHash:  hash,
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO users (id, role, email, password_hash, full_name, student_number, department, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, string(u.Role), u.Email, hash, u.FullName, nullString(u.StudentNumber), u.Department, u.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return User{}, apperr.Conflict("email or student number already registered")
		}
		return User{}, apperr.Internal("create user", err)
	}
	return u, nil
}

// FindByID resolves any user and reports its role.
func (d *Directory) FindByID(ctx context.Context, id string) (User, auth.Role, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, "", apperr.NotFound("user not found")
		}
		return User{}, "", apperr.Internal("find user", err)
	}
	return u, u.Role, nil
}

// FindByEmail resolves a user by login email.
func (d *Directory) FindByEmail(ctx context.Context, email string) (User, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 AND deleted_at IS NULL`, strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperr.NotFound("user not found")
		}
		return User{}, apperr.Internal("find user", err)
	}
	return u, nil
}

// Authenticate checks credentials. Unknown emails and bad passwords fail alike.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := d.FindByEmail(ctx, email)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return User{}, apperr.Unauthorized("invalid credentials")
		}
		return User{}, err
	}
	if !auth.CheckPassword(u.passwordHash, password) {
		return User{}, apperr.Unauthorized("invalid credentials")
	}
	return u, nil
}

// ListUsers returns users, optionally filtered by role, newest first.
func (d *Directory) ListUsers(ctx context.Context, role auth.Role) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL`
	var args []any
	if role != "" {
		query += ` AND role = $1`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at DESC`
	return d.queryUsers(ctx, query, args...)
}

func (d *Directory) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperr.Internal("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list users", err)
	}
	return users, nil
}

// StudentExists reports whether id names a student account.
func (d *Directory) StudentExists(ctx context.Context, id string) (bool, error) {
	_, err := d.FindStudent(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindStudent resolves a student account.
func (d *Directory) FindStudent(ctx context.Context, id string) (User, error) {
	u, role, err := d.FindByID(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return User{}, apperr.NotFound("student not found")
		}
		return User{}, err
	}
	if role != auth.RoleStudent {
		return User{}, apperr.NotFound("student not found")
	}
	return u, nil
}

// UserUpdate carries the account fields an admin may change. Nil fields are
// left as they are. Roles are fixed at creation.
type UserUpdate struct {
	Email         *string
	FullName      *string
	StudentNumber *string
	Department    *string
	Password      *string
}

// UpdateUser applies in to a live account.
func (d *Directory) UpdateUser(ctx context.Context, id string, in UserUpdate) (User, error) {
	u, _, err := d.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return User{}, apperr.BadRequest("invalid email")
		}
		u.Email = email
	}
	if in.FullName != nil {
		if u.FullName = strings.TrimSpace(*in.FullName); u.FullName == "" {
			return User{}, apperr.BadRequest("full name required")
		}
	}
	if in.StudentNumber != nil {
		if u.Role != auth.RoleStudent {
			return User{}, apperr.BadRequest("only students have a student number")
		}
		if u.StudentNumber = strings.TrimSpace(*in.StudentNumber); u.StudentNumber == "" {
			return User{}, apperr.BadRequest("student number required")
		}
	}
	if in.Department != nil {
		u.Department = strings.TrimSpace(*in.Department)
	}
	if in.Password != nil {
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return User{}, apperr.BadRequest(err.Error())
		}
		u.passwordHash = hash
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE users SET email = $1, full_name = $2, student_number = $3, department = $4, password_hash = $5
		WHERE id = $6 AND deleted_at IS NULL
	`, u.Email, u.FullName, nullString(u.StudentNumber), u.Department, u.passwordHash, u.ID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return User{}, apperr.Conflict("email or student number already registered")
		}
		return User{}, apperr.Internal("update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return User{}, apperr.NotFound("user not found")
	}
	return u, nil
}

// DeleteUser soft-deletes an account and drops its enrollments. Attendance
// records and audit history keep pointing at the row. A lecturer who still
// owns courses cannot be deleted.
func (d *Directory) DeleteUser(ctx context.Context, id string) error {
	return store.RunInTx(ctx, d.db, func(ctx context.Context, tx store.DBTX) error {
		var role auth.Role
		err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&role)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("user not found")
			}
			return apperr.Internal("delete user", err)
		}
		if role == auth.RoleLecturer {
			var owned int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses WHERE lecturer_id = $1 AND deleted_at IS NULL`, id).Scan(&owned)
			if err != nil {
				return apperr.Internal("delete user", err)
			}
			if owned > 0 {
				return apperr.Conflict("lecturer still owns courses")
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET deleted_at = $1 WHERE id = $2`, d.now().UTC(), id); err != nil {
			return apperr.Internal("delete user", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE student_id = $1`, id); err != nil {
			return apperr.Internal("delete user", err)
		}
		return nil
	})
}

// ChangePassword replaces the caller's password after checking the current one.
func (d *Directory) ChangePassword(ctx context.Context, id, current, next string) error {
	u, _, err := d.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(u.passwordHash, current) {
		return apperr.Unauthorized("current password is incorrect")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return apperr.BadRequest(err.Error())
	}
	res, err := d.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2 AND deleted_at IS NULL`, hash, id)
	if err != nil {
		return apperr.Internal("change password", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin unless an admin already exists.
// It reports whether an account was created.
func (d *Directory) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = $1 AND deleted_at IS NULL`, string(auth.RoleAdmin)).Scan(&n); err != nil {
		return false, apperr.Internal("count admins", err)
	}
	if n > 0 {
		return false, nil
	}
	_, err := d.CreateUser(ctx, NewUser{Role: auth.RoleAdmin, Email: email, Password: password, FullName: "Administrator"})
	if err != nil {
		return false, err
	}
	return true, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
