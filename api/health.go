package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

// DependencyCheck reports whether a backing service is reachable.
type DependencyCheck func(ctx context.Context) error

type HealthHandler struct {
	environment string
	version     string
	userAgent   string
	checks      map[string]DependencyCheck
	started     time.Time
	now         func() time.Time
}

func NewHealthHandler(environment, version, schedulerUserAgent string) *HealthHandler {
	return &HealthHandler{
		environment: environment,
		version:     version,
		userAgent:   schedulerUserAgent,
		checks:      map[string]DependencyCheck{},
		started:     time.Now(),
		now:         time.Now,
	}
}

// WithCheck adds a dependency to the healthcheck response.
func (h *HealthHandler) WithCheck(name string, check DependencyCheck) *HealthHandler {
	h.checks[name] = check
	return h
}

func (h *HealthHandler) Register(router *gin.RouterGroup) {
	router.GET("/healthcheck", h.check)
	router.POST("/healthcheck", h.check)
}

func (h *HealthHandler) check(c *gin.Context) {
	source := "direct"
	if h.userAgent != "" && strings.Contains(c.GetHeader("User-Agent"), h.userAgent) {
		source = "scheduler"
	}
	now := h.now()
	body := gin.H{
		"status":      "healthy",
		"timestamp":   now.UTC().Format(time.RFC3339),
		"source":      source,
		"uptime":      int64(now.Sub(h.started).Seconds()),
		"environment": h.environment,
		"version":     h.version,
	}

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()
		results := make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				body["status"] = "degraded"
				continue
			}
			results[name] = "ok"
		}
		body["checks"] = results
	}

	c.JSON(http.StatusOK, body)
}
