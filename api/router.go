package api

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed openapi.json
var openAPISpec []byte

type RouterDeps struct {
	Cron     *CronHandler
	Webhooks *WebhookHandler
	Health   *HealthHandler
	Auth     Authorizer
}

// NewRouter mounts every route under /api and again at the root.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), AccessLog())

	for _, prefix := range []string{"/api", ""} {
		base := router.Group(prefix)
		deps.Health.Register(base)
		deps.Webhooks.Register(base.Group("/webhooks"))
		deps.Cron.Register(base.Group("/cron", RequireScheduler(deps.Auth)))
	}

	router.GET("/openapi.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", openAPISpec)
	})
	router.GET("/swagger/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/openapi.json"))))

	return router
}
