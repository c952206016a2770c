package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	dbOK := h.db != nil && h.db.Healthy(ctx)
	redisOK := h.redis.Healthy(ctx)
	status, state := http.StatusOK, "ok"
	if !dbOK || !redisOK {
		status, state = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(status, gin.H{"status": state, "db": dbOK, "redis": redisOK})
}
