// Command rucat-server runs the stateless REST API server under an idempotent dispatch protocol,
// following a flag-driven composition-root pattern.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rucat-project/rucat/internal/api"
	"github.com/rucat-project/rucat/internal/config"
	"github.com/rucat-project/rucat/internal/engine"
	"github.com/rucat-project/rucat/internal/metrics"
	"github.com/rucat-project/rucat/internal/storage/memory"
	"github.com/rucat-project/rucat/internal/storage/postgres"
	"github.com/rucat-project/rucat/internal/storage/postgres/migrations"
	"github.com/rucat-project/rucat/internal/system"
	"github.com/rucat-project/rucat/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	configPath := flag.String("config-path", "", "path to the server configuration file")
	dsnFlag := flag.String("dsn", "", "PostgreSQL DSN (overrides config; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "apply embedded database migrations on startup")
	apiTokensFlag := flag.String("api-tokens", "", "comma-separated bearer tokens for HTTP authentication")
	flag.Parse()

	log := logger.NewFromEnv("rucat-server")
	metrics.SetDefault(metrics.New(prometheus.DefaultRegisterer))

	var cfg *config.ServerConfig
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := config.LoadServerConfig(trimmed)
		if err != nil {
			log.WithField("error", err).Fatal("load config")
		}
		cfg = loaded
	}

	store, closeStore, err := buildStore(context.Background(), resolveDSN(*dsnFlag, cfg), *runMigrations)
	if err != nil {
		log.WithField("error", err).Fatal("initialize store")
	}
	if closeStore != nil {
		defer closeStore()
	}

	listenAddr := determineAddr(*addr, cfg)
	tokens := resolveTokens(*apiTokensFlag, cfg)

	manager := system.NewManager()
	apiService := api.NewService(store, listenAddr, log, api.Options{AuthTokens: tokens})
	if err := manager.Register(apiService); err != nil {
		log.WithField("error", err).Fatal("register api service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		log.WithField("error", err).Fatal("start api server")
	}
	log.WithField("addr", listenAddr).Info("rucat-server started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.WithField("error", err).Fatal("shutdown")
	}
}

func buildStore(ctx context.Context, dsn string, runMigrations bool) (engine.Store, func(), error) {
	if dsn == "" {
		return memory.New(), nil, nil
	}
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if runMigrations {
		if err := migrations.Apply(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	store := postgres.New(db)
	return store, func() { db.Close() }, nil
}

func determineAddr(flagAddr string, cfg *config.ServerConfig) string {
	if trimmed := strings.TrimSpace(flagAddr); trimmed != "" {
		return trimmed
	}
	if cfg != nil && strings.TrimSpace(cfg.Addr) != "" {
		return cfg.Addr
	}
	return ":8080"
}

func resolveDSN(flagDSN string, cfg *config.ServerConfig) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if cfg != nil && cfg.Database.Postgres != nil {
		return cfg.Database.Postgres.DSN()
	}
	return ""
}

func resolveTokens(flagTokens string, cfg *config.ServerConfig) []string {
	var tokens []string
	tokens = append(tokens, splitTokens(flagTokens)...)
	if cfg != nil && cfg.AuthProvider != nil && cfg.AuthProvider.Static != nil {
		tokens = append(tokens, cfg.AuthProvider.Static.Tokens...)
	}
	return tokens
}

func splitTokens(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed
}
