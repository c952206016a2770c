package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
)

func TestCorrectionApproval(t *testing.T) {
	f := newFixture(t)
	a := f.student("a@example.com", "1001")
	iss := f.session(15, nil)

	_, err := f.svc.RequestCorrection(f.ctx, a, iss.Session.ID, StatusExcused, "  ")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = f.svc.RequestCorrection(f.ctx, a, iss.Session.ID, "sick", "flu")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = f.svc.RequestCorrection(f.ctx, a, "missing", StatusExcused, "flu")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	c, err := f.svc.RequestCorrection(f.ctx, a, iss.Session.ID, StatusExcused, "medical appointment")
	require.NoError(t, err)
	assert.Equal(t, CorrectionPending, c.State)

	_, err = f.svc.RequestCorrection(f.ctx, a, iss.Session.ID, StatusExcused, "again")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, _, err = f.svc.ApproveCorrection(f.ctx, f.other, c.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	approved, rec, err := f.svc.ApproveCorrection(f.ctx, f.owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, CorrectionApproved, approved.State)
	assert.Equal(t, f.owner.ID, approved.ReviewedBy)
	assert.Equal(t, StatusExcused, rec.Status)
	assert.Equal(t, f.owner.ID, rec.MarkedBy)
	assert.Equal(t, "medical appointment", rec.Note)

	_, _, err = f.svc.ApproveCorrection(f.ctx, f.owner, c.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = f.svc.RejectCorrection(f.ctx, f.owner, c.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	list, err := f.svc.SessionCorrections(f.ctx, f.owner, iss.Session.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ReviewedAt)
	assert.Equal(t, f.clock, *list[0].ReviewedAt)
}

func TestCorrectionRejectionLeavesLedger(t *testing.T) {
	f := newFixture(t)
	a := f.student("a@example.com", "1001")
	iss := f.session(15, nil)
	_, err := f.svc.Submit(f.ctx, a, SubmitInput{Code: iss.Session.Token})
	require.NoError(t, err)

	c, err := f.svc.RequestCorrection(f.ctx, a, iss.Session.ID, StatusLate, "scanner lag")
	require.NoError(t, err)

	rejected, err := f.svc.RejectCorrection(f.ctx, f.owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, CorrectionRejected, rejected.State)

	rec, err := f.repo.Get(f.ctx, iss.Session.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)

	mine, err := f.svc.StudentCorrections(f.ctx, a)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, CorrectionRejected, mine[0].State)

	_, err = f.svc.RequestCorrection(f.ctx, a, iss.Session.ID, StatusLate, "second try")
	assert.NoError(t, err, "a new request is allowed once the previous one is reviewed")
}

func TestCorrectionRequiresEnrollment(t *testing.T) {
	f := newFixture(t)
	outsider := f.user(auth.RoleStudent, "outsider@example.com", "2001")
	iss := f.session(15, nil)

	_, err := f.svc.RequestCorrection(f.ctx, outsider, iss.Session.ID, StatusExcused, "was there")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, "session not found", apperr.PublicMessage(err))

	mine, err := f.svc.StudentCorrections(f.ctx, outsider)
	require.NoError(t, err)
	assert.Empty(t, mine)

	require.NoError(t, f.dir.Enroll(f.ctx, f.course.ID, outsider.ID))
	_, err = f.svc.RequestCorrection(f.ctx, outsider, iss.Session.ID, StatusExcused, "was there")
	assert.NoError(t, err)
}
