package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cpqbox/quote/backend/config"
	"github.com/cpqbox/quote/backend/handler"
	"github.com/cpqbox/quote/backend/middleware"
	"github.com/cpqbox/quote/backend/migrations"
	"github.com/cpqbox/quote/backend/pkg/logger"
	"github.com/cpqbox/quote/backend/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

func main() {
	app := &cli.App{
		Name:  "quote",
		Usage: "packaging quote service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the YAML config file",
				EnvVars: []string{"QUOTE_CONFIG"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "manage the quote_catalog schema",
				Subcommands: []*cli.Command{
					{Name: "up", Usage: "apply pending migrations", Action: migrateAction(true)},
					{Name: "down", Usage: "roll back every migration", Action: migrateAction(false)},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.Info("configuration loaded successfully")
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := service.ParsePolicy(cfg.Lookup.Policy)
	if err != nil {
		return err
	}

	provider, closeProvider, err := newProvider(ctx, cfg, policy)
	if err != nil {
		return err
	}
	defer closeProvider()

	storage, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}

	generator := service.NewQuoteGenerator(service.NewOpenAIClient(&cfg.OpenAI), &cfg.OpenAI, cfg.Branding, cfg.Pipeline.HashSalt)
	renderer := service.NewPdfRenderer(cfg.Branding)

	var dispatcher *service.NotifyDispatcher
	if cfg.Telegram.BotToken != "" {
		dispatcher = service.NewNotifyDispatcher(service.NewTelegramNotifier(&cfg.Telegram), &cfg.Telegram)
	} else {
		slog.Warn("telegram bot token not set, operator notifications disabled")
	}

	pipeline := service.NewPipeline(provider, policy, generator, renderer, storage, dispatcher, service.PipelineOptions{
		Timeout:        cfg.Pipeline.Timeout,
		StorageTimeout: cfg.Storage.Timeout,
		NotifyGrace:    cfg.Pipeline.NotifyGrace,
		ValidDays:      cfg.Branding.ValidDays,
	})

	router := newRouter(cfg, handler.NewQuoteHandler(pipeline, storage))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.Pipeline.Timeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"port", cfg.Server.Port,
			"lookup_source", cfg.Lookup.Source,
			"lookup_policy", cfg.Lookup.Policy,
			"storage", cfg.Storage.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.Timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if dispatcher != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownDrainFor)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			slog.Warn("pending notifications cancelled", "error", err)
		}
	}

	slog.Info("server exited gracefully")
	return nil
}

// newProvider builds the configured catalog source. The returned func
// releases its resources.
func newProvider(ctx context.Context, cfg *config.Config, policy service.LookupPolicy) (service.LookupProvider, func(), error) {
	if cfg.Lookup.Source == config.LookupSourcePostgres {
		pool, err := openPool(ctx, &cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.MigrateOnStart {
			if err := service.NewCatalogMigrator(pool, migrations.FS).Up(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return service.NewPostgresProvider(pool, policy), pool.Close, nil
	}

	provider, err := service.NewSheetsProvider(ctx, &cfg.Sheets)
	if err != nil {
		return nil, nil, err
	}
	// A failed warm-up is retried by the first request
	if err := provider.Warm(ctx); err != nil {
		slog.Warn("initial catalog load failed", "error", err)
	}
	return provider, func() {}, nil
}

func openPool(ctx context.Context, cfg *config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

type artifactStore interface {
	service.ArtifactStorage
	handler.ArtifactReader
}

func newStorage(ctx context.Context, cfg *config.Config) (artifactStore, error) {
	if cfg.Storage.Backend == config.StorageS3 {
		s, err := service.NewMinioStorage(&cfg.Minio, cfg.Server.BaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	return service.NewLocalStorage(cfg.Storage.LocalDir, cfg.Server.BaseURL)
}

func migrateAction(up bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for migrations")
		}

		pool, err := openPool(c.Context, &cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		migrator := service.NewCatalogMigrator(pool, migrations.FS)
		if up {
			return migrator.Up(c.Context)
		}
		return migrator.Down(c.Context)
	}
}

func newRouter(cfg *config.Config, quotes *handler.QuoteHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	metrics := ginprometheus.NewPrometheus("gin")
	metrics.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		if route := c.FullPath(); route != "" {
			return route
		}
		return "unmatched"
	}
	metrics.Use(router)

	router.Use(middleware.RequestID())     // Request ID for tracing
	router.Use(middleware.Recovery())      // Panic recovery
	router.Use(middleware.RequestLogger()) // Access logging
	router.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))
	router.Use(cacheMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/quote", middleware.RateLimit(cfg.Server.RateLimit, time.Minute), quotes.Create)
	}
	router.GET("/pdf/:file", quotes.Download)

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// cacheMiddleware keeps quote API responses out of shared caches
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
