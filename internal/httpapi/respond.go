package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartattendance/internal/apperr"
	"smartattendance/internal/auth"
)

var registerTagName sync.Once

// useJSONFieldNames makes validation errors name fields the way clients send them.
func useJSONFieldNames() {
	registerTagName.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}

func errorBody(code, msg string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": msg}}
}

// fail writes err as the standard error body.
func (h *Handler) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, errorBody(string(apperr.KindOf(err)), apperr.PublicMessage(err)))
}

// bind decodes the JSON body into dst and answers 400 on failure.
func (h *Handler) bind(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	body := errorBody(string(apperr.KindBadRequest), "invalid request body")
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		body["error"].(gin.H)["message"] = "validation failed"
		body["error"].(gin.H)["fields"] = fields
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
	return false
}

// param returns a uuid path parameter. Malformed ids answer 404 like unknown ones.
func (h *Handler) param(c *gin.Context, name, what string) (string, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.fail(c, apperr.NotFound(what+" not found"))
		return "", false
	}
	return id.String(), true
}

func caller(c *gin.Context) auth.Identity {
	id, _ := auth.IdentityFrom(c)
	return id
}
