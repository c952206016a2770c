package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartattendance/internal/apperr"
	"smartattendance/internal/audit"
	"smartattendance/internal/auth"
	"smartattendance/internal/directory"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	auth.TokenPair
	User directory.User `json:"user"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.dir.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if apperr.Is(err, apperr.KindUnauthorized) {
			h.audit.Publish(audit.NewEvent(audit.TypeLoginFailed, "", "login failed",
				map[string]any{"email": req.Email, "ip": c.ClientIP()}))
		}
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, u)
	h.audit.Publish(audit.NewEvent(audit.TypeLogin, u.ID, "login", map[string]any{"ip": c.ClientIP()}))
}

func (h *Handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	claims, err := h.signer.Parse(req.RefreshToken, auth.TypeRefresh)
	if err != nil {
		h.fail(c, apperr.Unauthorized("invalid refresh token"))
		return
	}
	u, _, err := h.dir.FindByID(c.Request.Context(), claims.Subject)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			err = apperr.Unauthorized("invalid refresh token")
		}
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, u)
}

type registerRequest struct {
	Email         string `json:"email" binding:"required,email"`
	Password      string `json:"password" binding:"required,min=8"`
	FullName      string `json:"full_name" binding:"required"`
	StudentNumber string `json:"student_number" binding:"required"`
	Department    string `json:"department"`
}

// register is self-service signup. It only ever creates student accounts.
func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.dir.CreateUser(c.Request.Context(), directory.NewUser{
		Role:          auth.RoleStudent,
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
	h.audit.Publish(audit.NewEvent(audit.TypeUserRegistered, u.ID, "student registered", map[string]any{"ip": c.ClientIP()}))
	h.issue(c, http.StatusCreated, u)
}

func (h *Handler) changePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required,min=8"`
	}
	if !h.bind(c, &req) {
		return
	}
	who := caller(c)
	if err := h.dir.ChangePassword(c.Request.Context(), who.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	h.audit.Publish(audit.NewEvent(audit.TypePasswordChanged, who.ID, "password changed", nil))
	c.Status(http.StatusNoContent)
}

func (h *Handler) issue(c *gin.Context, status int, u directory.User) {
	pair, err := h.signer.Issue(u.ID, u.Role)
	if err != nil {
		h.fail(c, apperr.Internal("issue tokens", err))
		return
	}
	c.JSON(status, tokenResponse{TokenPair: pair, User: u})
}

func (h *Handler) me(c *gin.Context) {
	u, _, err := h.dir.FindByID(c.Request.Context(), caller(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
