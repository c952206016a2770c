package httpapi

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
	"smartattendance/internal/directory"
)

func (h *Handler) myCourses(c *gin.Context) {
	ctx := c.Request.Context()
	who := caller(c)
	var (
		courses []directory.Course
		err     error
	)
	switch who.Role {
	case auth.RoleStudent:
		courses, err = h.dir.ListStudentCourses(ctx, who.ID)
	case auth.RoleLecturer:
		courses, err = h.dir.ListCourses(ctx, who.ID)
	default:
		courses, err = h.dir.ListCourses(ctx, "")
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

// course resolves the :id course the caller may manage.
func (h *Handler) course(c *gin.Context) (directory.Course, bool) {
	id, ok := h.param(c, "id", "course")
	if !ok {
		return directory.Course{}, false
	}
	course, err := h.dir.CourseFor(c.Request.Context(), caller(c), id)
	if err != nil {
		h.fail(c, err)
		return directory.Course{}, false
	}
	return course, true
}

func (h *Handler) enroll(c *gin.Context) {
	course, ok := h.course(c)
	if !ok {
		return
	}
	var req struct {
		StudentID string `json:"student_id" binding:"required,uuid"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.dir.Enroll(c.Request.Context(), course.ID, req.StudentID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"course_id": course.ID, "student_id": req.StudentID})
}

func (h *Handler) unenroll(c *gin.Context) {
	course, ok := h.course(c)
	if !ok {
		return
	}
	studentID, ok := h.param(c, "studentId", "student")
	if !ok {
		return
	}
	if err := h.dir.Unenroll(c.Request.Context(), course.ID, studentID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) courseStudents(c *gin.Context) {
	course, ok := h.course(c)
	if !ok {
		return
	}
	students, err := h.dir.ListCourseStudents(c.Request.Context(), course.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) courseSessions(c *gin.Context) {
	id, ok := h.param(c, "id", "course")
	if !ok {
		return
	}
	sessions, err := h.sessions.ListByCourse(c.Request.Context(), caller(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) courseSummary(c *gin.Context) {
	id, ok := h.param(c, "id", "course")
	if !ok {
		return
	}
	sum, err := h.attendance.CourseSummary(c.Request.Context(), caller(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) lowAttendance(c *gin.Context) {
	id, ok := h.param(c, "id", "course")
	if !ok {
		return
	}
	var threshold float64
	if v := c.Query("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(t) {
			h.fail(c, apperr.BadRequest("threshold must be a number"))
			return
		}
		threshold = t
	}
	students, err := h.attendance.LowAttendance(c.Request.Context(), caller(c), id, threshold)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}
