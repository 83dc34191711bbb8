package httpapi

import (
	"net/http"

	"pointsledger/pkg/access"
	"pointsledger/pkg/auth"
	"pointsledger/pkg/config"
	"pointsledger/pkg/health"
	"pointsledger/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewEngine,
		auth.NewSessions,
		NewRouter,
	),
	fx.Invoke(registerOperationalEndpoints),
)

func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(), middleware.Error())
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "code": "not_found", "error": "route not found"})
	})
	return engine
}

func registerOperationalEndpoints(engine *gin.Engine, h health.HealthService) {
	engine.GET("/healthz", h.Liveness)
	engine.GET("/readyz", h.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Router is the authenticated /v1 group shared by every service module.
type Router struct {
	V1    *gin.RouterGroup
	authz access.Authorizer
}

type RouterParams struct {
	fx.In

	Engine   *gin.Engine
	Authz    access.Authorizer
	Keys     middleware.APIKeyVerifier
	Sessions auth.SessionVerifier
}

func NewRouter(p RouterParams) *Router {
	return &Router{
		V1:    p.Engine.Group("/v1", middleware.Authenticate(p.Keys, p.Sessions)),
		authz: p.Authz,
	}
}

// Can returns the per-route permission check for action.
func (r *Router) Can(action access.Action) gin.HandlerFunc {
	return middleware.Authorize(r.authz, action)
}

// OK writes the success envelope.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}
