package attendance

import (
	"bytes"
	"encoding/csv"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
)

func TestSummaryIsZeroFilled(t *testing.T) {
	f := newFixture(t)
	a := f.student("a@example.com", "1001")

	counts, err := f.svc.SummarizeByStudent(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusPresent: 0, StatusAbsent: 0, StatusLate: 0, StatusExcused: 0}, counts)

	iss := f.session(15, nil)
	_, err = f.svc.Submit(f.ctx, a, SubmitInput{Code: iss.Session.Token})
	require.NoError(t, err)
	counts, err = f.svc.SummarizeByStudent(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPresent])
	assert.Equal(t, 0, counts[StatusExcused])
}

func TestStudentHistoryNewestFirst(t *testing.T) {
	f := newFixture(t)
	a := f.student("a@example.com", "1001")

	first := f.session(15, nil)
	_, err := f.svc.Submit(f.ctx, a, SubmitInput{Code: first.Session.Token})
	require.NoError(t, err)

	f.clock = f.clock.Add(24 * time.Hour)
	second := f.session(15, nil)
	_, err = f.svc.Submit(f.ctx, a, SubmitInput{Code: second.Session.Token})
	require.NoError(t, err)

	history, err := f.svc.ForStudent(f.ctx, a.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.Session.ID, history[0].SessionID)
	assert.Equal(t, "CS101", history[0].CourseCode)

	filtered, err := f.svc.ForStudent(f.ctx, a.ID, "other-course", 0)
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

func TestCourseSummaryAndLowAttendance(t *testing.T) {
	f := newFixture(t)
	a := f.student("a@example.com", "1001")
	b := f.student("b@example.com", "1002")

	s1 := f.session(15, nil)
	s2 := f.session(15, nil)
	for _, s := range []string{s1.Session.Token, s2.Session.Token} {
		_, err := f.svc.Submit(f.ctx, a, SubmitInput{Code: s})
		require.NoError(t, err)
	}
	_, err := f.svc.Mark(f.ctx, f.owner, s1.Session.ID, MarkInput{StudentID: b.ID, Status: StatusLate})
	require.NoError(t, err)
	_, err = f.svc.Mark(f.ctx, f.owner, s2.Session.ID, MarkInput{StudentID: b.ID, Status: StatusAbsent})
	require.NoError(t, err)

	sum, err := f.svc.CourseSummary(f.ctx, f.owner, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sessions)
	assert.Equal(t, 2, sum.Students)
	assert.Equal(t, 3, sum.Attended)
	assert.Equal(t, 1, sum.Counts[StatusAbsent])
	assert.InDelta(t, 0.75, sum.Rate, 1e-9)

	low, err := f.svc.LowAttendance(f.ctx, f.owner, f.course.ID, 0)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, b.ID, low[0].StudentID)
	assert.InDelta(t, 0.5, low[0].Rate, 1e-9)

	_, err = f.svc.LowAttendance(f.ctx, f.owner, f.course.ID, 1.5)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = f.svc.LowAttendance(f.ctx, f.owner, f.course.ID, math.NaN())
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = f.svc.CourseSummary(f.ctx, f.other, f.course.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	snap, err := f.svc.SessionSnapshot(f.ctx, s2.Session.ID, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Present)
	assert.Equal(t, 2, snap.Total)
}

func TestForSessionAndCSV(t *testing.T) {
	f := newFixture(t)
	a := f.student("a@example.com", "1001")
	iss := f.session(15, &campus)
	_, err := f.svc.Submit(f.ctx, a, SubmitInput{Code: iss.Session.Token, Location: &campus})
	require.NoError(t, err)

	_, err = f.svc.ForSession(f.ctx, auth.Identity{ID: f.other.ID, Role: auth.RoleLecturer}, iss.Session.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	entries, err := f.svc.ForSession(f.ctx, f.owner, iss.Session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1001", entries[0].StudentNumber)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, entries))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"1001", "a@example.com", "present", "2026-03-02T09:00:00Z", "5.603700", "-0.187000", "", ""}, rows[1])
}
