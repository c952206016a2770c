package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"smartattendance/internal/apperr"
	"smartattendance/internal/attendance"
)

type scanRequest struct {
	Code      string   `json:"code"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// scan accepts either the raw token in the path or the scanned payload in the body.
func (h *Handler) scan(c *gin.Context) {
	var req scanRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	if tok := c.Param("token"); tok != "" {
		req.Code = tok
	}
	receipt, err := h.attendance.Submit(c.Request.Context(), caller(c), attendance.SubmitInput{
		Code:     req.Code,
		Location: location(req.Latitude, req.Longitude),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "attendance recorded", "receipt": receipt})
}

func (h *Handler) history(c *gin.Context) {
	ctx := c.Request.Context()
	who := caller(c)
	courseID := c.Query("course_id")
	if courseID != "" {
		if _, err := uuid.Parse(courseID); err != nil {
			h.fail(c, apperr.NotFound("course not found"))
			return
		}
		enrolled, err := h.dir.IsEnrolled(ctx, courseID, who.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if !enrolled {
			h.fail(c, apperr.NotFound("course not found"))
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	entries, err := h.attendance.ForStudent(ctx, who.ID, courseID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": entries})
}

type studentTotals struct {
	Counts   map[attendance.Status]int `json:"counts"`
	Total    int                       `json:"total"`
	Attended int                       `json:"attended"`
	Rate     float64                   `json:"attendance_rate"`
}

func totals(counts map[attendance.Status]int) studentTotals {
	t := studentTotals{Counts: counts}
	for st, n := range counts {
		t.Total += n
		if st.Attended() {
			t.Attended += n
		}
	}
	if t.Total > 0 {
		t.Rate = float64(t.Attended) / float64(t.Total)
	}
	return t
}

func (h *Handler) studentSummary(c *gin.Context) {
	counts, err := h.attendance.SummarizeByStudent(c.Request.Context(), caller(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, totals(counts))
}

func (h *Handler) studentDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	who := caller(c)
	courses, err := h.dir.ListStudentCourses(ctx, who.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	counts, err := h.attendance.SummarizeByStudent(ctx, who.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	recent, err := h.attendance.ForStudent(ctx, who.ID, "", 5)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses, "summary": totals(counts), "recent": recent})
}

func (h *Handler) myCorrections(c *gin.Context) {
	out, err := h.attendance.StudentCorrections(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corrections": out})
}

type correctionRequest struct {
	SessionID       string            `json:"session_id" binding:"required,uuid"`
	RequestedStatus attendance.Status `json:"requested_status" binding:"required"`
	Reason          string            `json:"reason" binding:"required,max=1000"`
}

func (h *Handler) requestCorrection(c *gin.Context) {
	var req correctionRequest
	if !h.bind(c, &req) {
		return
	}
	corr, err := h.attendance.RequestCorrection(c.Request.Context(), caller(c), req.SessionID, req.RequestedStatus, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, corr)
}

func (h *Handler) approveCorrection(c *gin.Context) {
	id, ok := h.param(c, "id", "correction")
	if !ok {
		return
	}
	corr, rec, err := h.attendance.ApproveCorrection(c.Request.Context(), caller(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"correction": corr, "record": rec})
}

func (h *Handler) rejectCorrection(c *gin.Context) {
	id, ok := h.param(c, "id", "correction")
	if !ok {
		return
	}
	corr, err := h.attendance.RejectCorrection(c.Request.Context(), caller(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"correction": corr})
}
