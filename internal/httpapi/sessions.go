package httpapi

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smartattendance/internal/attendance"
	"smartattendance/internal/audit"
	"smartattendance/internal/geo"
	"smartattendance/internal/session"
)

type createSessionRequest struct {
	CourseID      string   `json:"course_id" binding:"required,uuid"`
	Topic         string   `json:"topic"`
	ScheduledDate string   `json:"scheduled_date"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	TTLMinutes    int      `json:"ttl_minutes"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

// issuedResponse carries the session plus what a lecturer needs to display it.
type issuedResponse struct {
	Session          session.Session `json:"session"`
	State            string          `json:"state"`
	Token            string          `json:"token"`
	Payload          string          `json:"qr_payload"`
	QRCode           string          `json:"qr_code"`
	ExpiresAt        time.Time       `json:"expires_at"`
	LocationRequired bool            `json:"location_required"`
}

func issued(iss session.Issued, state string) issuedResponse {
	return issuedResponse{
		Session:          iss.Session,
		State:            state,
		Token:            iss.Code.Token,
		Payload:          iss.Code.Payload,
		QRCode:           iss.Code.PNG,
		ExpiresAt:        iss.Session.ExpiresAt,
		LocationRequired: iss.Session.LocationRequired(),
	}
}

// location turns optional coordinates into a point. A lone coordinate yields
// an invalid point so it fails validation instead of skipping the geofence.
func location(lat, lng *float64) *geo.Point {
	switch {
	case lat == nil && lng == nil:
		return nil
	case lat == nil || lng == nil:
		return &geo.Point{Lat: math.NaN(), Lng: math.NaN()}
	default:
		return &geo.Point{Lat: *lat, Lng: *lng}
	}
}

func (h *Handler) sessionChanged(c *gin.Context, s session.Session, action string) {
	h.audit.Publish(audit.NewEvent(audit.TypeSessionChanged, caller(c).ID, "session "+action,
		map[string]any{"session_id": s.ID, "course_id": s.CourseID, "action": action}))
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if !h.bind(c, &req) {
		return
	}
	iss, err := h.sessions.Create(c.Request.Context(), caller(c), session.CreateInput{
		CourseID:      req.CourseID,
		Topic:         req.Topic,
		ScheduledDate: req.ScheduledDate,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		TTLMinutes:    req.TTLMinutes,
		Location:      location(req.Latitude, req.Longitude),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit.Publish(audit.NewEvent(audit.TypeSessionCreated, caller(c).ID, "session created",
		map[string]any{"session_id": iss.Session.ID, "course_id": iss.Session.CourseID}))
	c.JSON(http.StatusCreated, issued(iss, "open"))
}

func (h *Handler) activeSessions(c *gin.Context) {
	sessions, err := h.sessions.ListActive(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	id, ok := h.param(c, "id", "session")
	if !ok {
		return
	}
	iss, err := h.sessions.Get(c.Request.Context(), caller(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, issued(iss, iss.Session.State(h.now())))
}

// issuedAction runs a registry operation that hands back a new code.
func (h *Handler) issuedAction(action string, op func(*gin.Context, string) (session.Issued, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.param(c, "id", "session")
		if !ok {
			return
		}
		iss, err := op(c, id)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.sessionChanged(c, iss.Session, action)
		c.JSON(http.StatusOK, issued(iss, iss.Session.State(h.now())))
	}
}

// sessionAction runs a registry operation that changes session state only.
func (h *Handler) sessionAction(action string, op func(*gin.Context, string) (session.Session, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.param(c, "id", "session")
		if !ok {
			return
		}
		s, err := op(c, id)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.sessionChanged(c, s, action)
		c.JSON(http.StatusOK, gin.H{"session": s, "state": s.State(h.now())})
	}
}

func (h *Handler) regenerate(c *gin.Context) {
	h.issuedAction("regenerated", func(c *gin.Context, id string) (session.Issued, error) {
		return h.sessions.Regenerate(c.Request.Context(), caller(c), id)
	})(c)
}

func (h *Handler) activate(c *gin.Context) {
	h.issuedAction("activated", func(c *gin.Context, id string) (session.Issued, error) {
		return h.sessions.Activate(c.Request.Context(), caller(c), id)
	})(c)
}

func (h *Handler) extend(c *gin.Context) {
	var req struct {
		Minutes int `json:"minutes" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	h.sessionAction("extended", func(c *gin.Context, id string) (session.Session, error) {
		return h.sessions.Extend(c.Request.Context(), caller(c), id, req.Minutes)
	})(c)
}

func (h *Handler) forceClose(c *gin.Context) {
	h.sessionAction("closed", func(c *gin.Context, id string) (session.Session, error) {
		return h.sessions.ForceClose(c.Request.Context(), caller(c), id)
	})(c)
}

func (h *Handler) deactivate(c *gin.Context) {
	h.sessionAction("deactivated", func(c *gin.Context, id string) (session.Session, error) {
		return h.sessions.Deactivate(c.Request.Context(), caller(c), id)
	})(c)
}

func (h *Handler) clone(c *gin.Context) {
	var req struct {
		NewDate string `json:"new_date" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	id, ok := h.param(c, "id", "session")
	if !ok {
		return
	}
	s, err := h.sessions.Clone(c.Request.Context(), caller(c), id, req.NewDate)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.sessionChanged(c, s, "cloned")
	c.JSON(http.StatusCreated, gin.H{"session": s, "state": s.State(h.now())})
}

func (h *Handler) sessionAttendance(c *gin.Context) {
	id, ok := h.param(c, "id", "session")
	if !ok {
		return
	}
	entries, err := h.attendance.ForSession(c.Request.Context(), caller(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="attendance-`+id+`.csv"`)
		c.Status(http.StatusOK)
		if err := attendance.WriteCSV(c.Writer, entries); err != nil {
			_ = c.Error(err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": entries})
}

func (h *Handler) mark(c *gin.Context) {
	id, ok := h.param(c, "id", "session")
	if !ok {
		return
	}
	var req attendance.MarkInput
	if !h.bind(c, &req) {
		return
	}
	rec, err := h.attendance.Mark(c.Request.Context(), caller(c), id, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) bulkMark(c *gin.Context) {
	id, ok := h.param(c, "id", "session")
	if !ok {
		return
	}
	var req struct {
		Marks []attendance.MarkInput `json:"marks" binding:"required,min=1,dive"`
	}
	if !h.bind(c, &req) {
		return
	}
	recs, err := h.attendance.BulkMark(c.Request.Context(), caller(c), id, req.Marks)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

func (h *Handler) sessionCorrections(c *gin.Context) {
	id, ok := h.param(c, "id", "session")
	if !ok {
		return
	}
	out, err := h.attendance.SessionCorrections(c.Request.Context(), caller(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corrections": out})
}

func (h *Handler) sessionFeed(c *gin.Context) {
	id, ok := h.param(c, "id", "session")
	if !ok {
		return
	}
	if _, err := h.sessions.Authorize(c.Request.Context(), caller(c), id); err != nil {
		h.fail(c, err)
		return
	}
	h.feed.Serve(c.Writer, c.Request, id)
}
