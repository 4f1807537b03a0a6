// Package main is the unified entry point for MXF. One binary runs the
// coordination core: repositories, event bus, task and channel services,
// the DAG engine, the knowledge graph, the cognitive loop controller,
// and the HTTP/WebSocket surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	agentmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/models"
	agentrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/repository"
	agentservice "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/service"
	channelmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/channel/models"
	channelrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/channel/repository"
	channelservice "github.com/BradA1878/model-exchange-framework-sub007/internal/channel/service"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/config"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/httpmw"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/dag"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
	gatewayws "github.com/BradA1878/model-exchange-framework-sub007/internal/gateway/websocket"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge"
	kmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/models"
	kgrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/repository"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm/anthropic"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm/openai"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/memory"
	memmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/memory/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/muls"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/orpar"
	orparmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/orpar/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/runtime"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/sandbox"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/scheduler"
	taskmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
	taskrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/task/repository"
	taskservice "github.com/BradA1878/model-exchange-framework-sub007/internal/task/service"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/webhooks"
)

func main() {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting MXF core...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus: NATS when configured, in-memory otherwise
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		defer natsBus.Close()
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	// 4. Storage
	var pool *repository.Pool
	if cfg.Database.Driver == "sqlite" {
		pool, err = repository.OpenPool(cfg.Database.Path)
		if err != nil {
			log.Fatal("Failed to open database", zap.Error(err), zap.String("path", cfg.Database.Path))
		}
		defer pool.Close()
		log.Info("SQLite storage ready", zap.String("path", cfg.Database.Path))
	}
	driver := cfg.Database.Driver

	taskStore := openStore(log, pool, driver, "tasks", func() *taskmodels.Task { return &taskmodels.Task{} })
	channelStore := openStore(log, pool, driver, "channels", func() *channelmodels.Channel { return &channelmodels.Channel{} })
	agentStore := openStore(log, pool, driver, "agents", func() *agentmodels.Agent { return &agentmodels.Agent{} })
	entityStore := openStore(log, pool, driver, "entities", func() *kmodels.Entity { return &kmodels.Entity{} })
	relationshipStore := openStore(log, pool, driver, "relationships", func() *kmodels.Relationship { return &kmodels.Relationship{} })
	agentMemStore := openStore(log, pool, driver, "agent_memory", func() *memmodels.AgentMemory { return &memmodels.AgentMemory{} })
	channelMemStore := openStore(log, pool, driver, "channel_memory", func() *memmodels.ChannelMemory { return &memmodels.ChannelMemory{} })
	relationshipMemStore := openStore(log, pool, driver, "relationship_memory", func() *memmodels.RelationshipMemory { return &memmodels.RelationshipMemory{} })
	phaseStore := openStore(log, pool, driver, "phase_entries", func() *orparmodels.PhaseEntry { return &orparmodels.PhaseEntry{} })

	// 5. Repositories and services
	tasks := taskrepo.New(taskStore)
	channels := channelrepo.New(channelStore)
	agents := agentrepo.New(agentStore)
	graphRepo := kgrepo.New(entityStore, relationshipStore)

	dagEngine := dag.NewEngine(tasks, log)
	taskSvc := taskservice.NewService(tasks, dagEngine, eventBus, log)
	agentSvc := agentservice.NewService(agents, eventBus, log)
	channelSvc := channelservice.NewService(channels, agents, eventBus, log)
	memorySvc := memory.NewService(agentMemStore, channelMemStore, relationshipMemStore, log)

	entityTracker := muls.NewTracker(graphRepo.Entities(), log)
	var graphEngine *knowledge.Engine
	if cfg.Graph.Enabled {
		graphEngine = knowledge.NewEngine(graphRepo, entityTracker, cfg.Graph, eventBus, log)
		log.Info("Knowledge graph enabled")
	} else {
		log.Info("Knowledge graph disabled")
	}

	controller := orpar.NewController(cfg.ORPAR, phaseStore, entityTracker, eventBus, log)

	// 6. LLM dispatch
	dispatcher := llm.NewDispatcher(cfg.LLM.DefaultProvider, log)
	dispatcher.Register(anthropic.NewClient(anthropic.Config{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		Endpoint:  cfg.LLM.Endpoint,
		Timeout:   cfg.LLM.TimeoutDuration(),
		MaxTokens: cfg.LLM.MaxTokens,
	}))
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		dispatcher.Register(openai.NewClient(openai.Config{APIKey: key}))
	}
	log.Info("LLM dispatcher ready", zap.Strings("providers", dispatcher.Providers()))

	// 7. Sandbox
	var runner sandbox.Runner
	if cfg.Sandbox.Runtime == "docker" {
		dockerRunner, err := sandbox.NewDockerRunner(cfg.Sandbox, log)
		if err != nil {
			log.Warn("Docker sandbox unavailable; falling back to process runner", zap.Error(err))
		} else {
			runner = dockerRunner
			defer dockerRunner.Close()
		}
	}
	if runner == nil {
		runner = sandbox.NewProcessRunner(cfg.Sandbox.Command, log)
	}
	executor := sandbox.NewExecutor(runner, cfg.Sandbox, log)

	// 8. Runtime worker and scheduler
	worker := runtime.NewWorker(controller, dispatcher, executor, memorySvc, graphEngine, agentSvc, eventBus,
		llm.Options{MaxTokens: cfg.LLM.MaxTokens, Timeout: cfg.LLM.TimeoutDuration()}, log)
	if err := worker.Start(); err != nil {
		log.Fatal("Failed to start runtime worker", zap.Error(err))
	}
	defer worker.Stop()

	sched := scheduler.New(cfg.ORPAR, channelSvc, dagEngine, controller, log)
	if err := sched.Start(); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// 9. HTTP and WebSocket surface
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), httpmw.RequestLogger(log, "mxf"))

	webhooks.RegisterRoutes(router, taskSvc, channelSvc, agentSvc, log)

	hub := gatewayws.NewHub(eventBus, log)
	go hub.Run(ctx)
	gatewayws.NewHandler(hub, log).RegisterRoutes(router)

	router.GET("/api/status", func(c *gin.Context) {
		status, err := controller.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "orpar": status, "wsClients": hub.ClientCount()})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 10. Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error", zap.Error(err))
	}
	cancel()
	log.Info("MXF core stopped")
}

// openStore picks the storage adapter for one collection.
func openStore[T repository.Record](log *logger.Logger, pool *repository.Pool, driver, name string, factory func() T) repository.Repository[T] {
	if driver == "sqlite" {
		store, err := repository.NewSqliteRepository(pool, name, factory)
		if err != nil {
			log.Fatal("Failed to open collection", zap.String("collection", name), zap.Error(err))
		}
		return store
	}
	return repository.NewMemoryRepository(name, factory)
}
