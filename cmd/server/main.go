package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studentquery/internal/config"
	"studentquery/internal/database"
	"studentquery/internal/handlers"
	"studentquery/internal/jobs"
	"studentquery/internal/llm"
	"studentquery/internal/logging"
	"studentquery/internal/middleware"
	"studentquery/internal/services"
	"studentquery/internal/workers"
	"studentquery/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	logging.Init()

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}

	cfg := config.Load()
	services.InitMetrics()

	// Academic records store is required; everything else degrades
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to academic records database: %v", err)
	}
	defer db.Close()

	// Ledger: Mongo when configured, in-memory otherwise
	var mongodb *database.MongoDB
	var ledger services.Ledger
	var conversations services.HistoryStore
	var memoryLedger *services.MemoryLedger
	if cfg.MongoURI != "" {
		mongodb, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := mongodb.Initialize(initCtx, cfg.RequestRetention); err != nil {
			cancel()
			log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
		}
		cancel()
		ledger = services.NewRequestLedger(mongodb)
		conversations = services.NewConversationService(mongodb, cfg.HistoryWindow)
	} else {
		log.Println("⚠️  MONGODB_URI not set; using in-memory ledger (single instance, no restart durability)")
		memoryLedger = services.NewMemoryLedger(cfg.RequestRetention)
		ledger = memoryLedger
	}

	// Work transport: Redis when configured, in-process channel otherwise
	var redisService *services.RedisService
	var pubsubService *services.PubSubService
	var emitter services.WorkEmitter
	var workQueue workers.WorkQueue

	workersCfg, err := workers.LoadConfig(cfg.SourcesFile)
	if err != nil {
		log.Fatalf("❌ Failed to load worker config: %v", err)
	}
	if cfg.WorkerCount > 0 {
		workersCfg.Concurrency = cfg.WorkerCount
	}

	instanceID := uuid.New().String()
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer redisService.Close()

		emitter = services.NewRedisWorkEmitter(redisService, workersCfg.Queue)
		workQueue = workers.NewRedisWorkQueue(redisService, workersCfg.Queue)

		pubsubService = services.NewPubSubService(redisService, instanceID)
	} else {
		log.Println("⚠️  REDIS_URL not set; using in-process work queue (single instance)")
		channelEmitter := services.NewChannelWorkEmitter(256)
		emitter = channelEmitter
		workQueue = workers.NewChannelWorkQueue(channelEmitter.Units())
	}

	// LLM provider config with hot reload
	providersCfg, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("❌ Failed to load providers config: %v", err)
	}
	llmClient := llm.NewClient(providersCfg)
	go watchProviders(cfg.ProvidersFile, llmClient)

	// Worker pool
	registry := workers.NewRegistry()
	workers.RegisterAll(registry, db, workersCfg)

	aggregator := services.NewAggregator(ledger)
	dispatcher := services.NewDispatcher(ledger, emitter)
	analyzer := services.NewAnalyzer(llmClient, registry.Sources())
	synthesizer := services.NewSynthesizer(llmClient)
	connManager := services.NewConnectionManager()

	handoff := services.NewHandoff(ledger, synthesizer, conversations, connManager, pubsubService)
	aggregator.SetOnComplete(func(correlationID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := handoff.Run(ctx, correlationID); err != nil {
			log.Printf("⚠️ Handoff failed for %s (recovery job will retry): %v", correlationID, err)
		}
	})

	// Forward answer events published by other instances to local sockets
	if pubsubService != nil {
		pubsubService.Subscribe("user:*:events", func(_ string, msg *services.PubSubMessage) {
			if msg.Type != "answer_ready" {
				return
			}
			connManager.SendToUser(msg.UserID, map[string]interface{}{
				"type":           "answer_ready",
				"correlation_id": msg.CorrelationID,
			})
		})
		if err := pubsubService.Start(); err != nil {
			log.Fatalf("❌ Failed to start pub/sub: %v", err)
		}
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	runner := workers.NewRunner(workQueue, registry, aggregator, workersCfg, cfg.FetchTimeout)
	runner.Start(workerCtx)

	// Maintenance jobs
	jobScheduler := jobs.NewJobScheduler()
	jobScheduler.Register("stuck-request-checker",
		jobs.NewStuckRequestCheckerJob(ledger, 1*time.Minute, 2*time.Minute))
	jobScheduler.Register("handoff-recovery",
		jobs.NewHandoffRecoveryJob(ledger, handoff, redisService, 2*time.Minute, 1*time.Minute))
	if err := jobScheduler.Start(); err != nil {
		log.Fatalf("❌ Failed to start job scheduler: %v", err)
	}

	// Auth
	var verifier *auth.JWTVerifier
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		verifier, err = auth.NewJWTVerifier(secret)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
	}
	authMiddleware := middleware.LocalAuthMiddleware(verifier)

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName:      "StudentQuery v1.0",
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("studentquery")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Handlers and routes
	queryHandler := handlers.NewQueryHandler(analyzer, dispatcher, ledger, synthesizer, conversations)
	conversationHandler := handlers.NewConversationHandler(conversations)
	healthHandler := handlers.NewHealthHandler(db, mongodb, redisService)
	statusWSHandler := handlers.NewStatusWebSocketHandler(connManager)

	app.Get("/health", healthHandler.Check)

	api := app.Group("/api", authMiddleware)
	api.Post("/query", middleware.QueryRateLimiter(rateLimitConfig), queryHandler.SubmitQuery)
	api.Get("/query/:id", queryHandler.PollStatus)
	api.Get("/conversations", conversationHandler.ListRecent)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Use("/ws/status", middleware.WebSocketRateLimiter(rateLimitConfig))
	app.Use("/ws/status", authMiddleware)
	app.Get("/ws/status", websocket.New(statusWSHandler.Handle))

	log.Printf("🎓 StudentQuery coordinator ready (sources: %v)", registry.Sources())

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()

		stopWorkers()
		runner.Wait()

		if pubsubService != nil {
			if err := pubsubService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping pub/sub: %v", err)
			}
		}
		if memoryLedger != nil {
			memoryLedger.Shutdown()
		}
		if mongodb != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := mongodb.Close(closeCtx); err != nil {
				log.Printf("⚠️ Error closing MongoDB: %v", err)
			}
			cancel()
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// watchProviders reloads providers.json when it changes on disk so model or
// endpoint swaps don't need a restart
func watchProviders(path string, client *llm.Client) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️ Failed to create providers watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		log.Printf("⚠️ Failed to watch %s: %v", path, err)
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Editors often fire several events per save; a short settle
			// keeps us from reading a half-written file
			time.Sleep(100 * time.Millisecond)

			cfg, err := config.LoadProviders(path)
			if err != nil {
				log.Printf("⚠️ Ignoring providers reload, file invalid: %v", err)
				continue
			}
			client.UpdateConfig(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ Providers watcher error: %v", err)
		}
	}
}
