package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/nuridam/policy-agent-backend/internal/handlers"
	"github.com/nuridam/policy-agent-backend/internal/middleware"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log                *logger.Logger
	PolicyHandler      *handlers.PolicyHandler
	ChatHandler        *handlers.ChatHandler
	EligibilityHandler *handlers.EligibilityHandler
	SessionHandler     *handlers.SessionHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("policy-agent"))
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.CORS())

	r.GET("/health", handlers.HealthCheck)

	api := r.Group("/api")
	{
		// Policy search and lookup
		if cfg.PolicyHandler != nil {
			api.GET("/policies", cfg.PolicyHandler.ListPolicies)
			api.GET("/policies/regions", cfg.PolicyHandler.ListRegions)
			api.GET("/policies/categories", cfg.PolicyHandler.ListCategories)
			api.GET("/policy/:id", cfg.PolicyHandler.GetPolicy)
		}

		// Chat
		if cfg.ChatHandler != nil {
			api.POST("/chat", cfg.ChatHandler.Chat)
			api.GET("/session/:id/web-sources", cfg.ChatHandler.ListWebSources)
		}

		// Eligibility interview
		if cfg.EligibilityHandler != nil {
			api.POST("/eligibility/start", cfg.EligibilityHandler.Start)
			api.POST("/eligibility/answer", cfg.EligibilityHandler.Answer)
		}

		// Session
		if cfg.SessionHandler != nil {
			api.POST("/session/reset", cfg.SessionHandler.Reset)
		}
	}

	return r
}
