package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/cartsubs/internal/cache"
	"github.com/fjod/cartsubs/internal/catalog"
	"github.com/fjod/cartsubs/internal/config"
	"github.com/fjod/cartsubs/internal/convert"
	"github.com/fjod/cartsubs/internal/hooks"
	h "github.com/fjod/cartsubs/internal/http"
	"github.com/fjod/cartsubs/internal/nonce"
	"github.com/fjod/cartsubs/internal/poller"
	"github.com/fjod/cartsubs/internal/repository"
	"github.com/fjod/cartsubs/internal/schemes"
	"github.com/fjod/cartsubs/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cart HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	// Set up MongoDB connection
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return err
	}
	defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()

	mongoRepo := repository.NewMongoRepository(mongoDB)
	if err := mongoRepo.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	repo := repository.NewBreakerRepository(mongoRepo, logger)
	logger.Info("connected to MongoDB", "db", cfg.MongoDBName)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("redis ping succeeded", "addr", cfg.RedisAddr)

	products, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = products.Close() }()
	if err := products.RunMigrations(); err != nil {
		return err
	}

	registry := hooks.NewRegistry()
	controller := convert.NewController(schemes.NewResolver(products), products, logger)
	controller.Register(registry)
	carts := service.NewCartService(repo, cache.NewRedisCache(redisClient), products, registry, logger)

	issuer, err := nonce.NewIssuer(cfg.NonceSecret, cfg.NonceTTL)
	if err != nil {
		return err
	}
	router := h.NewRouter(
		h.NewCartHandler(carts, issuer, cfg.RequestTimeout, logger),
		h.NewProductHandler(products, cfg.RequestTimeout, logger),
		cfg.RequestTimeout,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "cartsubs"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollCtx, stopPoller := context.WithCancel(ctx)
	defer stopPoller()
	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(carts, logger, cfg.KafkaBrokers...)
		pollDone := make(chan struct{})
		go func() {
			defer close(pollDone)
			p.Run(pollCtx)
		}()
		// the reader is closed only once Run has returned
		defer func() {
			stopPoller()
			<-pollDone
			p.Close()
		}()
		logger.Info("checkout poller started", "brokers", cfg.KafkaBrokers)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("cartsubs starting", "port", cfg.HTTPPort, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server")
	stopPoller()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
