package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
	"smartattendance/internal/directory"
	"smartattendance/internal/geo"
	"smartattendance/internal/qr"
	"smartattendance/internal/store"
)

type fixture struct {
	reg    *Registry
	dir    *directory.Directory
	clock  time.Time
	owner  auth.Identity
	other  auth.Identity
	admin  auth.Identity
	course directory.Course
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := store.OpenTest(t)
	dir := directory.New(db.Client)

	mk := func(role auth.Role, email string) auth.Identity {
		u, err := dir.CreateUser(ctx, directory.NewUser{Role: role, Email: email, Password: "password123", FullName: email})
		require.NoError(t, err)
		return auth.Identity{ID: u.ID, Role: role}
	}
	f := &fixture{clock: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), dir: dir}
	f.owner = mk(auth.RoleLecturer, "owner@example.com")
	f.other = mk(auth.RoleLecturer, "other@example.com")
	f.admin = mk(auth.RoleAdmin, "admin@example.com")

	course, err := dir.CreateCourse(ctx, f.owner.ID, "CS101", "Intro", "")
	require.NoError(t, err)
	f.course = course

	f.reg = NewRegistry(NewRepository(db.Client), dir, qr.NewIssuer("http://localhost/scan", 64), 15*time.Minute).
		WithClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) create(t *testing.T, in CreateInput) Issued {
	t.Helper()
	if in.CourseID == "" {
		in.CourseID = f.course.ID
	}
	iss, err := f.reg.Create(context.Background(), f.owner, in)
	require.NoError(t, err)
	return iss
}

func TestCreateDefaults(t *testing.T) {
	f := newFixture(t)
	iss := f.create(t, CreateInput{Topic: "Week 1"})

	s := iss.Session
	assert.Equal(t, 15, s.TTLMinutes)
	assert.Equal(t, f.clock.Add(15*time.Minute), s.ExpiresAt)
	assert.True(t, s.Active)
	assert.False(t, s.LocationRequired())
	assert.Equal(t, "2026-03-02", s.ScheduledDate)
	assert.Equal(t, "http://localhost/scan/"+s.Token, iss.Code.Payload)
	assert.NotEmpty(t, iss.Code.PNG)

	got, err := f.reg.FindActiveByToken(context.Background(), s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.ExpiresAt, got.ExpiresAt)
}

func TestCreateRejectsForeignAndMissingCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Create(ctx, f.other, CreateInput{CourseID: f.course.ID})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.reg.Create(ctx, f.owner, CreateInput{CourseID: "missing"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.reg.Create(ctx, f.owner, CreateInput{CourseID: f.course.ID, TTLMinutes: -5})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = f.reg.Create(ctx, f.owner, CreateInput{CourseID: f.course.ID, Location: &geo.Point{Lat: 123, Lng: 0}})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	iss, err := f.reg.Create(ctx, f.admin, CreateInput{CourseID: f.course.ID, Location: &geo.Point{Lat: 5.6037, Lng: -0.187}})
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID, iss.Session.LecturerID, "admin-created sessions belong to the course owner")
	assert.True(t, iss.Session.LocationRequired())
}

func TestLivenessIsTimeDependent(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateInput{TTLMinutes: 1}).Session

	assert.True(t, s.Live(f.clock))
	assert.False(t, s.Live(s.ExpiresAt), "token is invalid at the expiry instant")
	assert.Equal(t, "expired", s.State(s.ExpiresAt.Add(time.Second)))
}

func TestExtend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateInput{TTLMinutes: 15}).Session

	ext, err := f.reg.Extend(ctx, f.owner, s.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, s.ExpiresAt.Add(10*time.Minute), ext.ExpiresAt)

	f.clock = f.clock.Add(2 * time.Hour)
	ext, err = f.reg.Extend(ctx, f.owner, s.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(10*time.Minute), ext.ExpiresAt, "expired sessions extend from now")
	assert.True(t, ext.Live(f.clock))

	_, err = f.reg.Extend(ctx, f.owner, s.ID, 0)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = f.reg.Extend(ctx, f.other, s.ID, 5)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestExtendDoesNotReviveForceClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateInput{}).Session

	closed, err := f.reg.ForceClose(ctx, f.owner, s.ID)
	require.NoError(t, err)
	assert.False(t, closed.Live(f.clock))
	assert.Equal(t, f.clock, closed.ExpiresAt)

	ext, err := f.reg.Extend(ctx, f.owner, s.ID, 30)
	require.NoError(t, err)
	assert.False(t, ext.Active)
	assert.False(t, ext.Live(f.clock))

	stored, err := f.reg.Lookup(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, "closed", stored.State(f.clock))
}

func TestRegenerateInvalidatesOldToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateInput{TTLMinutes: 20}).Session

	f.clock = f.clock.Add(5 * time.Minute)
	iss, err := f.reg.Regenerate(ctx, f.owner, s.ID)
	require.NoError(t, err)
	assert.NotEqual(t, s.Token, iss.Session.Token)
	assert.Equal(t, f.clock.Add(20*time.Minute), iss.Session.ExpiresAt)

	_, err = f.reg.FindActiveByToken(ctx, s.Token)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	got, err := f.reg.FindActiveByToken(ctx, iss.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateInput{}).Session

	for i := 0; i < 2; i++ {
		d, err := f.reg.Deactivate(ctx, f.admin, s.ID)
		require.NoError(t, err)
		assert.False(t, d.Active)
	}
	_, err := f.reg.Deactivate(ctx, f.owner, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCloneAndActivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loc := &geo.Point{Lat: 5.6037, Lng: -0.187}
	src := f.create(t, CreateInput{Topic: "Week 1", StartTime: "09:00", EndTime: "11:00", Location: loc}).Session

	_, err := f.reg.Clone(ctx, f.owner, src.ID, "next tuesday")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	c, err := f.reg.Clone(ctx, f.owner, src.ID, "2026-03-09")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, c.ID)
	assert.NotEqual(t, src.Token, c.Token)
	assert.False(t, c.Active)
	assert.Equal(t, src.ID, c.ClonedFrom)
	assert.Equal(t, "09:00", c.StartTime)
	assert.Equal(t, loc, c.Location)

	active, err := f.reg.ListActive(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, src.ID, active[0].ID)

	iss, err := f.reg.Activate(ctx, f.owner, c.ID)
	require.NoError(t, err)
	assert.True(t, iss.Session.Live(f.clock))
	assert.NotEqual(t, c.Token, iss.Session.Token)

	list, err := f.reg.ListByCourse(ctx, f.owner, f.course.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.reg.ListByCourse(ctx, f.other, f.course.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDeletedCourseClosesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	iss := f.create(t, CreateInput{})

	require.NoError(t, f.dir.DeleteCourse(ctx, f.course.ID))

	s, err := f.reg.FindActiveByToken(ctx, iss.Session.Token)
	require.NoError(t, err)
	assert.False(t, s.Active)
	assert.False(t, s.Live(f.clock))

	_, err = f.reg.Activate(ctx, f.owner, iss.Session.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.reg.Activate(ctx, f.admin, iss.Session.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReassignedCourseMovesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	iss := f.create(t, CreateInput{})

	_, err := f.dir.UpdateCourse(ctx, f.course.ID, directory.CourseUpdate{LecturerID: &f.other.ID})
	require.NoError(t, err)

	_, err = f.reg.Authorize(ctx, f.other, iss.Session.ID)
	assert.NoError(t, err)
	_, err = f.reg.Authorize(ctx, f.owner, iss.Session.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}
