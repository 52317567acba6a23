package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/config"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/httpapi"
	"github.com/eis-1/electrical-supplier-website-sub001/metrics/export/prometheus"
	"github.com/eis-1/electrical-supplier-website-sub001/middleware"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/logger"
	"github.com/eis-1/electrical-supplier-website-sub001/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := store.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer store.Close(db)

	rdb, closeRedis, err := connectRedis(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer closeRedis()

	builder := authcore.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithAccountStore(store.NewAccounts(db)).
		WithQuoteStore(store.NewQuotes(db)).
		WithLogger(logger.L()).
		WithAuditSink(authcore.NewLoggerSink(logger.L().Named("audit")))
	switch cfg.DB.SessionStore {
	case "redis":
	case "sql":
		builder = builder.WithSessionStore(store.NewSessions(db))
	default:
		log.Fatalf("unknown SESSION_STORE %q", cfg.DB.SessionStore)
	}

	engine, err := builder.Build()
	if err != nil {
		log.Fatalf("auth engine: %v", err)
	}
	defer engine.Close()

	for _, w := range engine.SecurityReport().Lint {
		logger.Warn("config_lint", map[string]interface{}{
			"code":    w.Code,
			"message": w.Message,
		})
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             64 * 1024,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(prometheus.Handler(prometheus.NewCollector(engine))))

	api := app.Group("/api", middleware.GlobalRateLimit(engine))
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	httpapi.New(engine, httpapi.CookieConfig{
		Name:   httpapi.DefaultCookieConfig().Name,
		Path:   httpapi.DefaultCookieConfig().Path,
		Domain: cfg.Server.CookieDomain,
		Secure: cfg.Server.CookieSecure,
	}).Register(api)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("server_starting", map[string]interface{}{
		"address":         listenAddr,
		"production_mode": cfg.Auth.ProductionMode,
		"db_driver":       cfg.DB.Driver,
		"session_store":   cfg.DB.SessionStore,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("server_stopping", map[string]interface{}{"signal": sig.String()})
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(cfg.Server.ShutdownTimeout):
			logger.Warn("forced_shutdown", map[string]interface{}{
				"timeout": cfg.Server.ShutdownTimeout.String(),
			})
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("server_error", err, nil)
		}
	}
}

// connectRedis dials url, or starts an in-process miniredis when url is
// "embedded". The embedded server loses all counters and sessions on exit.
func connectRedis(url string) (redis.UniversalClient, func(), error) {
	if url == "embedded" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		logger.Warn("redis_embedded", map[string]interface{}{"addr": mr.Addr()})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return client, func() { _ = client.Close() }, nil
}
