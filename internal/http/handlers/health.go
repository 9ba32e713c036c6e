package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/splitstore/internal/http/response"
)

type HealthHandler struct {
	ping func(context.Context) error
}

// NewHealthHandler reports unhealthy while ping fails. A nil ping always passes.
func NewHealthHandler(ping func(context.Context) error) *HealthHandler {
	return &HealthHandler{ping: ping}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			response.RespondError(c, http.StatusServiceUnavailable, "unavailable", err)
			return
		}
	}
	c.String(http.StatusOK, "ok")
}
