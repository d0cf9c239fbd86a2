package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"github.com/chirhoevents/Chirhoevents-sub010/config"
	"github.com/chirhoevents/Chirhoevents-sub010/handlers"
	"github.com/chirhoevents/Chirhoevents-sub010/internal/events"
	"github.com/chirhoevents/Chirhoevents-sub010/monitoring"
	"github.com/chirhoevents/Chirhoevents-sub010/security"
	"github.com/chirhoevents/Chirhoevents-sub010/services"
	"github.com/chirhoevents/Chirhoevents-sub010/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub (optional realtime push to waiting clients)
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
	}

	// Initialize AMQP lifecycle publisher (optional)
	publisher := events.NewPublisher(cfg.AMQPURL)

	// Initialize services
	monitor := monitoring.NewMonitor(redisClient)
	store := services.NewSessionStore(redisClient)
	configs := services.NewCollectionConfigProvider(app, cfg)
	admission := services.NewAdmissionService(store, configs, cfg, monitor, publisher)
	extension := services.NewExtensionService(store, cfg, monitor)
	reaper := services.NewReaper(store, configs, cfg, monitor, pn, publisher)
	archiver := services.NewArchiver(app, store, monitor, cfg.ArchiveBatchSize)

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(admission, extension, archiver, cfg)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		// Start the lifecycle reaper independent of request traffic.
		reaper.Start()

		// Drain terminal sessions into the audit archive every minute.
		app.Cron().MustAdd("queueSessionArchiver", "* * * * *", func() {
			if err := archiver.Run(context.Background()); err != nil {
				slog.Error("archiver run failed", "error", err)
			}
		})

		// Queue endpoints
		g := se.Router.Group("/api/queue")
		g.BindFunc(rateLimiter.QueueRateLimit())
		g.POST("/check", queueHandler.Check)
		g.POST("/extend", queueHandler.Extend)
		g.POST("/complete", queueHandler.Complete)
		g.GET("/metrics", queueHandler.Metrics)
		g.GET("/stats", queueHandler.Stats)

		// Health check
		se.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		if cfg.EnableMetrics {
			go startMetricsServer(cfg, redisClient)
		}

		log.Println("Queue routes registered")

		return se.Next()
	})

	app.OnTerminate().BindFunc(func(te *core.TerminateEvent) error {
		reaper.Shutdown()
		publisher.Close()
		return te.Next()
	})

	return app.Start()
}

// startMetricsServer exposes prometheus metrics and a liveness probe
// on a dedicated listener, away from the public queue surface.
func startMetricsServer(cfg *config.Config, redisClient *redis.Client) {
	e := echo.New()

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	slog.Info("metrics listener started", "addr", cfg.MetricsAddr)

	server := &http.Server{Addr: cfg.MetricsAddr, Handler: e}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics server stopped: %v", err)
	}
}
