package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/agent"
	"github.com/nuridam/policy-agent-backend/internal/cache"
	"github.com/nuridam/policy-agent-backend/internal/db"
	"github.com/nuridam/policy-agent-backend/internal/handlers"
	"github.com/nuridam/policy-agent-backend/internal/observability"
	"github.com/nuridam/policy-agent-backend/internal/platform/envutil"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/platform/openai"
	"github.com/nuridam/policy-agent-backend/internal/platform/qdrant"
	"github.com/nuridam/policy-agent-backend/internal/platform/tavily"
	"github.com/nuridam/policy-agent-backend/internal/platform/vector"
	"github.com/nuridam/policy-agent-backend/internal/repos"
	"github.com/nuridam/policy-agent-backend/internal/search"
	"github.com/nuridam/policy-agent-backend/internal/server"
	"github.com/nuridam/policy-agent-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "policy-agent",
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})
	if shutdownOTel != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(sctx); err != nil {
				log.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	policyRepo := repos.NewPolicyRepo(thePG, log)
	webSourceRepo := repos.NewWebSourceRepo(thePG, log)

	// Provider clients. The OpenAI client is load-bearing; the vector and
	// web tiers degrade when their clients are absent.
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	var vectorStore vector.Store
	if qdrantCfg, err := qdrant.LoadConfig(); err != nil {
		log.Warn("Qdrant disabled, search falls back to relational", "error", err)
	} else if vectorStore, err = qdrant.NewStore(log, qdrantCfg); err != nil {
		log.Warn("Qdrant init failed, search falls back to relational", "error", err)
		vectorStore = nil
	}
	webClient, err := tavily.NewClient(log)
	if err != nil {
		log.Warn("Tavily disabled, answers use documents only", "error", err)
		webClient = nil
	}

	// Session caches
	log.Info("Setting up session caches from main...")
	convStore, contextStore, err := cache.NewStores(ctx, log)
	if err != nil {
		log.Error("Could not init session caches", "error", err)
		os.Exit(1)
	}
	sessionLocks := cache.NewSessionLocks()

	// Workflow graphs
	qaGraph, err := agent.NewQAGraph(log, openaiClient, vectorStore, webClient, agent.QAConfigFromEnv())
	if err != nil {
		log.Error("Could not build QA graph", "error", err)
		os.Exit(1)
	}
	eligCfg := agent.EligibilityConfigFromEnv()
	eligStartGraph, err := agent.NewEligibilityStartGraph(log, openaiClient, eligCfg)
	if err != nil {
		log.Error("Could not build eligibility start graph", "error", err)
		os.Exit(1)
	}
	eligAnswerGraph, err := agent.NewEligibilityAnswerGraph(log, openaiClient, eligCfg)
	if err != nil {
		log.Error("Could not build eligibility answer graph", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up services from main...")
	searchService := search.New(log, policyRepo, vectorStore, openaiClient, webClient)
	webSourceService := services.NewWebSourceService(log, webSourceRepo)
	chatService := services.NewChatService(log, qaGraph, convStore, contextStore, sessionLocks, policyRepo, webSourceService)
	eligibilityService := services.NewEligibilityService(log, eligStartGraph, eligAnswerGraph, policyRepo, sessionLocks)
	sessionService := services.NewSessionService(log, convStore, contextStore, eligibilityService)

	// Handlers
	log.Info("Setting up handlers from main...")
	policyHandler := handlers.NewPolicyHandler(log, searchService)
	chatHandler := handlers.NewChatHandler(log, chatService, webSourceService)
	eligibilityHandler := handlers.NewEligibilityHandler(log, eligibilityService)
	sessionHandler := handlers.NewSessionHandler(log, sessionService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		Log:                log,
		PolicyHandler:      policyHandler,
		ChatHandler:        chatHandler,
		EligibilityHandler: eligibilityHandler,
		SessionHandler:     sessionHandler,
	})

	port := envutil.String("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
