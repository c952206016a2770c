package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartattendance/internal/apperr"
	"smartattendance/internal/audit"
	"smartattendance/internal/auth"
	"smartattendance/internal/directory"
)

type createUserRequest struct {
	Role          auth.Role `json:"role" binding:"required,oneof=admin lecturer student"`
	Email         string    `json:"email" binding:"required,email"`
	Password      string    `json:"password" binding:"required,min=8"`
	FullName      string    `json:"full_name" binding:"required"`
	StudentNumber string    `json:"student_number"`
	Department    string    `json:"department"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.dir.CreateUser(c.Request.Context(), directory.NewUser{
		Role:          req.Role,
		Email:         req.Email,
		Password:      req.Password,
		FullName:      req.FullName,
		StudentNumber: req.StudentNumber,
		Department:    req.Department,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit.Publish(audit.NewEvent(audit.TypeUserCreated, caller(c).ID, "user created",
		map[string]any{"user_id": u.ID, "role": string(u.Role)}))
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) listUsers(c *gin.Context) {
	role := auth.Role(c.Query("role"))
	if role != "" && !role.Valid() {
		h.fail(c, apperr.BadRequest("unknown role"))
		return
	}
	users, err := h.dir.ListUsers(c.Request.Context(), role)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type updateUserRequest struct {
	Email         *string `json:"email" binding:"omitempty,email"`
	FullName      *string `json:"full_name"`
	StudentNumber *string `json:"student_number"`
	Department    *string `json:"department"`
	Password      *string `json:"password"`
}

func (h *Handler) updateUser(c *gin.Context) {
	id, ok := h.param(c, "id", "user")
	if !ok {
		return
	}
	var req updateUserRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.dir.UpdateUser(c.Request.Context(), id, directory.UserUpdate{
		Email:         req.Email,
		FullName:      req.FullName,
		StudentNumber: req.StudentNumber,
		Department:    req.Department,
		Password:      req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit.Publish(audit.NewEvent(audit.TypeUserUpdated, caller(c).ID, "user updated",
		map[string]any{"user_id": u.ID, "password_reset": req.Password != nil}))
	c.JSON(http.StatusOK, u)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.param(c, "id", "user")
	if !ok {
		return
	}
	if id == caller(c).ID {
		h.fail(c, apperr.BadRequest("cannot delete your own account"))
		return
	}
	if err := h.dir.DeleteUser(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit.Publish(audit.NewEvent(audit.TypeUserDeleted, caller(c).ID, "user deleted", map[string]any{"user_id": id}))
	c.Status(http.StatusNoContent)
}

type createCourseRequest struct {
	LecturerID  string `json:"lecturer_id" binding:"omitempty,uuid"`
	Code        string `json:"code" binding:"required,max=20"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) adminCreateCourse(c *gin.Context) {
	var req createCourseRequest
	if !h.bind(c, &req) {
		return
	}
	if req.LecturerID == "" {
		h.fail(c, apperr.BadRequest("lecturer_id required"))
		return
	}
	h.saveCourse(c, req.LecturerID, req)
}

func (h *Handler) createCourse(c *gin.Context) {
	var req createCourseRequest
	if !h.bind(c, &req) {
		return
	}
	h.saveCourse(c, caller(c).ID, req)
}

func (h *Handler) saveCourse(c *gin.Context, lecturerID string, req createCourseRequest) {
	course, err := h.dir.CreateCourse(c.Request.Context(), lecturerID, req.Code, req.Name, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit.Publish(audit.NewEvent(audit.TypeCourseCreated, caller(c).ID, "course created",
		map[string]any{"course_id": course.ID, "code": course.Code}))
	c.JSON(http.StatusCreated, course)
}

func (h *Handler) adminListCourses(c *gin.Context) {
	courses, err := h.dir.ListCourses(c.Request.Context(), c.Query("lecturer_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

type updateCourseRequest struct {
	Code        *string `json:"code" binding:"omitempty,max=20"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LecturerID  *string `json:"lecturer_id" binding:"omitempty,uuid"`
}

func (h *Handler) updateCourse(c *gin.Context) {
	id, ok := h.param(c, "id", "course")
	if !ok {
		return
	}
	var req updateCourseRequest
	if !h.bind(c, &req) {
		return
	}
	course, err := h.dir.UpdateCourse(c.Request.Context(), id, directory.CourseUpdate{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		LecturerID:  req.LecturerID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit.Publish(audit.NewEvent(audit.TypeCourseUpdated, caller(c).ID, "course updated",
		map[string]any{"course_id": course.ID, "lecturer_id": course.LecturerID}))
	c.JSON(http.StatusOK, course)
}

func (h *Handler) deleteCourse(c *gin.Context) {
	id, ok := h.param(c, "id", "course")
	if !ok {
		return
	}
	if err := h.dir.DeleteCourse(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit.Publish(audit.NewEvent(audit.TypeCourseDeleted, caller(c).ID, "course deleted", map[string]any{"course_id": id}))
	c.Status(http.StatusNoContent)
}

func (h *Handler) listLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	out, err := h.logs.List(c.Request.Context(), audit.Filter{Type: c.Query("type"), Page: page, Limit: limit})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) logTypes(c *gin.Context) {
	types, err := h.logs.Types(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"types": types})
}

func (h *Handler) adminStats(c *gin.Context) {
	ctx := c.Request.Context()
	users, err := h.dir.ListUsers(ctx, "")
	if err != nil {
		h.fail(c, err)
		return
	}
	byRole := map[auth.Role]int{auth.RoleAdmin: 0, auth.RoleLecturer: 0, auth.RoleStudent: 0}
	for _, u := range users {
		byRole[u.Role]++
	}
	courses, err := h.dir.ListCourses(ctx, "")
	if err != nil {
		h.fail(c, err)
		return
	}
	active, err := h.sessions.ListActive(ctx, caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users":           byRole,
		"courses":         len(courses),
		"active_sessions": len(active),
	})
}
