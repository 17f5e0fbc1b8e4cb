// KATO engine server - deterministic sequence memory and prediction over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kato-io/kato/pkg/api"
	"github.com/kato-io/kato/pkg/cache"
	"github.com/kato-io/kato/pkg/config"
	"github.com/kato-io/kato/pkg/engine"
	"github.com/kato-io/kato/pkg/session"
	"github.com/kato-io/kato/pkg/storage"
	"github.com/kato-io/kato/pkg/vector"
)

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	cfg, err := config.LoadServiceConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load service configuration: %v", err)
	}

	slog.Info("Starting KATO",
		"http_port", cfg.HTTPPort,
		"vector_dimension", cfg.VectorDimension,
		"session_ttl", cfg.SessionTTL)

	ctx := context.Background()

	// Pattern store: Postgres when configured, in-memory otherwise.
	var store storage.PatternStore
	if cfg.UsePostgres {
		dbCfg, err := storage.LoadConfigFromEnv()
		if err != nil {
			log.Fatalf("Failed to load database config: %v", err)
		}
		pgStore, err := storage.NewPostgresStore(ctx, dbCfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer func() {
			if err := pgStore.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		store = pgStore
		slog.Info("Connected to PostgreSQL pattern store")
	} else {
		store = storage.NewMemoryStore()
		slog.Info("Using in-memory pattern store")
	}

	// Metadata cache: Redis when configured, in-memory otherwise.
	var metadataCache cache.MetadataCache
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCacheFromAddr(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer func() {
			if err := redisCache.Close(); err != nil {
				slog.Error("Error closing redis client", "error", err)
			}
		}()
		metadataCache = redisCache
		slog.Info("Connected to Redis metadata cache", "addr", cfg.RedisAddr)
	} else {
		metadataCache = cache.NewMemoryCache()
		slog.Info("Using in-memory metadata cache")
	}

	vectors := vector.NewMemoryStore(0)
	binder := vector.NewBinder(vectors, cfg.VectorSimilarityRadius, cfg.VectorDimension)

	sessions := session.NewManager(metadataCache, cfg.SessionTTL)
	sweeper := session.NewSweeper(sessions, cfg.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	router := engine.NewRouter(sessions, store, metadataCache, vectors, binder)
	server := api.NewServer(router, store, metadataCache, vectors, cfg.DefaultNodeID)

	// Serve until interrupted, then drain.
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + cfg.HTTPPort)
	}()
	slog.Info("HTTP server listening", "port", cfg.HTTPPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
