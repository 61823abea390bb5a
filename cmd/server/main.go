// Package main is the entry point for the module lifecycle platform.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/modulecore/lifecycle/internal/concurrency/lock"
	"github.com/modulecore/lifecycle/internal/core"
	"github.com/modulecore/lifecycle/internal/opengine"
	"github.com/modulecore/lifecycle/internal/persistence/lrucache"
	persistpostgres "github.com/modulecore/lifecycle/internal/persistence/postgres"
	"github.com/modulecore/lifecycle/internal/persistence/rediscache"
	"github.com/modulecore/lifecycle/internal/persistence/sqlite"
	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/appconfig"
	"github.com/modulecore/lifecycle/internal/platform/logging"
	"github.com/modulecore/lifecycle/internal/platform/metrics"
)

const (
	defaultPort    = "8080"
	serviceName    = "lifecycle-platform"
	serviceVersion = "1.0.0"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	var showHelp = flag.Bool("help", false, "Show help information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Printf("Module Lifecycle Platform\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -version    Show version information\n")
		fmt.Printf("  -help       Show this help message\n\n")
		fmt.Printf("Environment variables:\n")
		fmt.Printf("  PORT                  HTTP server port (default: %s)\n", defaultPort)
		fmt.Printf("  PERSISTENCE_DRIVER    postgres or sqlite (default: postgres)\n")
		fmt.Printf("  SQLITE_PATH           sqlite file path when PERSISTENCE_DRIVER=sqlite\n")
		fmt.Printf("  REDIS_URL             when set, backs the operation cache and cross-process locking with Redis\n")
		fmt.Printf("  FIELD_CIPHER_SECRET   encryption key for sensitive tenant config fields\n")
		fmt.Printf("  CONFIG_FILE           optional file read by internal/platform/appconfig\n")
		fmt.Printf("  LIFECYCLE_*           env overrides for appconfig keys, e.g. LIFECYCLE_VALIDATION_PARALLELISM\n\n")
		os.Exit(0)
	}

	logger := logging.New(logging.Config{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "json"),
		Output: envOr("LOG_OUTPUT", "stdout"),
	})
	slog.SetDefault(logger)

	slog.Info("starting module lifecycle platform",
		"service", serviceName,
		"version", serviceVersion,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persistence, closeStore, err := openPersistence(ctx, logger)
	if err != nil {
		slog.Error("failed to open persistence store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	opCache, pairLock := openCache(logger)
	metricsRegistry := metrics.New()

	appCfg, err := loadAppConfig()
	if err != nil {
		slog.Error("failed to load process configuration", "error", err)
		os.Exit(1)
	}

	c, err := core.New(
		persistence,
		opCache,
		platform.SystemClock{},
		metrics.NewEventSink(platform.NoopEventSink{}, metricsRegistry),
		logger,
		nil,
		core.NewUsageProbe(persistence),
		core.Config{
			FieldCipherSecret:    os.Getenv("FIELD_CIPHER_SECRET"),
			ActivationTimeout:    time.Duration(appCfg.ActivationTimeoutMs) * time.Millisecond,
			ValidatorParallelism: appCfg.ValidationParallelism,
			ValidatorRetry:       appCfg.ValidationRetry,
			OperationCacheTTL:    time.Duration(appCfg.OperationCacheDefaultTTLMs) * time.Millisecond,
			SecurityAuditLogSize: appCfg.SecurityMaxAuditLogSize,
			ConfigHistoryMaxPerTenant: appCfg.ConfigHistoryMaxPerTenant,
			PairLock:             pairLock,
		},
	)
	if err != nil {
		slog.Error("failed to wire core", "error", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(c))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited")
}

// openPersistence picks the storage adapter named by PERSISTENCE_DRIVER
// (postgres by default) and returns a close func the caller must defer.
// Schema is applied here rather than by a migration run so the process
// can come up against a bare database; cmd/migrate owns versioned,
// reviewable schema changes for every deployment after the first.
func openPersistence(ctx context.Context, logger *slog.Logger) (platform.Persistence, func(), error) {
	driver := os.Getenv("PERSISTENCE_DRIVER")
	if driver == "" {
		driver = "postgres"
	}

	switch driver {
	case "sqlite":
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "lifecycle.db"
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		config := persistpostgres.LoadFromEnv()
		pool := persistpostgres.NewPool(config, logger)
		if err := pool.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if _, err := pool.Exec(ctx, persistpostgres.Schema); err != nil {
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
		return persistpostgres.New(pool), func() { pool.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown PERSISTENCE_DRIVER %q", driver)
	}
}

// openCache returns a Redis-backed operation cache when REDIS_URL is
// set, falling back to the in-process LRU cache otherwise. The second
// return value mirrors that choice for pair-locking: a Redis-backed
// lock when Redis is reachable, so activation/registry critical
// sections serialize across every process sharing that cache, or an
// in-process lock.KeyedMutex (returned as nil, deferring to New's own
// default) when running standalone.
func openCache(logger *slog.Logger) (opengine.Cache, lock.PairLock) {
	if url := os.Getenv("REDIS_URL"); url != "" {
		redisCache, err := rediscache.NewFromURL(url, logger)
		if err != nil {
			slog.Warn("failed to connect to redis, falling back to in-process cache and locking", "error", err)
		} else {
			pairLock := lock.NewRedisPairLock(redisCache.Client(), lock.DefaultDistributedLockConfig(), logger)
			return redisCache, pairLock
		}
	}
	return lrucache.New(10_000, 5*time.Minute), nil
}

// loadAppConfig binds viper to LIFECYCLE_-prefixed environment variables
// (and CONFIG_FILE, if set) and loads the process configuration the
// core recognizes, following internal/platform/appconfig's key schema.
func loadAppConfig() (appconfig.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIFECYCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return appconfig.Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return appconfig.Load(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// healthChecker is satisfied by persistence.postgres.Store, letting the
// handler report database liveness without importing that package.
type healthChecker interface {
	Health(ctx context.Context) error
}

func healthHandler(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK

		if checker, ok := c.Persistence.(healthChecker); ok {
			if err := checker.Health(r.Context()); err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"service": serviceName,
			"version": serviceVersion,
		})
	}
}
