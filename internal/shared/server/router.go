package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"resume-scanner/internal/services/health"
	"resume-scanner/internal/shared/config"
	"resume-scanner/internal/shared/metrics"
	"resume-scanner/internal/shared/server/middleware"
	"resume-scanner/internal/shared/server/respond"
)

// RouteRegistrar attaches a feature's routes to the API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries the handlers mounted by NewRouter.
type RouterDeps struct {
	Config   config.Config
	Handlers []RouteRegistrar
	// Health reports backing store status for /health. Nil means always healthy.
	Health *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Session(),
		middleware.Logging(),
		middleware.RateLimit(middleware.DefaultRateLimitConfig(deps.Config.RateLimitRPS, deps.Config.RateLimitBurst)),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.Health))
	for _, h := range deps.Handlers {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}

	return r
}

func healthHandler(svc *health.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks, ok := svc.Status(ctx)
		if !ok {
			respond.Error(c, http.StatusServiceUnavailable, "unavailable", "backing store unavailable", checks)
			return
		}
		respond.OK(c, gin.H{"ok": true, "checks": checks})
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
