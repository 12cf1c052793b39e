package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/gazou/internal/artifact"
	"github.com/ashita-ai/gazou/internal/config"
	"github.com/ashita-ai/gazou/internal/mcp"
	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/ratelimit"
	"github.com/ashita-ai/gazou/internal/server"
	"github.com/ashita-ai/gazou/internal/service/generation"
	"github.com/ashita-ai/gazou/internal/service/imagegen"
	"github.com/ashita-ai/gazou/internal/service/selection"
	"github.com/ashita-ai/gazou/internal/storage"
	"github.com/ashita-ai/gazou/internal/telemetry"
	"github.com/ashita-ai/gazou/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// stdout carries the protocol in stdio mode, so logs go to stderr.
	var logOut io.Writer = os.Stdout
	if cfg.Transport == "stdio" {
		logOut = os.Stderr
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// index is what main needs from either storage backend.
type index interface {
	artifact.Index
	server.IndexHealth
	Close() error
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.Info("gazou starting", "version", version, "transport", cfg.Transport, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Transport:   cfg.Transport,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	lexicon, err := selection.LoadLexicon(cfg.LexiconFile)
	if err != nil {
		return err
	}

	db, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if reg, err := telemetry.ObserveArtifactCount(telemetry.Meter("gazou/artifact"), db.CountArtifacts); err != nil {
		logger.Warn("telemetry: artifact gauge disabled", "error", err)
	} else {
		defer func() { _ = reg.Unregister() }()
	}

	store, err := artifact.New(db, cfg.BlobDir(), logger,
		artifact.WithRetention(cfg.Retention),
		artifact.WithThumbnailSize(cfg.ThumbnailSize),
	)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	adapters, err := newAdapters(ctx, cfg, logger)
	if err != nil {
		return err
	}

	gen := generation.New(selection.New(lexicon), adapters, store, logger,
		generation.WithParallelism(cfg.AttemptParallelism),
		generation.WithRequestTimeout(cfg.RequestTimeout),
		generation.WithMaxEdge(model.TierFast, cfg.FastMaxEdge),
		generation.WithMaxEdge(model.TierQuality, cfg.QualityMaxEdge),
	)
	catalogue := selection.NewCatalogue(cfg.FastModel, cfg.FastMaxEdge, cfg.QualityModel, cfg.QualityMaxEdge)

	broker := server.NewBroker(logger)

	mcpSrv := mcp.New(mcp.Deps{
		Generation:         gen,
		Artifacts:          store,
		Catalogue:          catalogue,
		Events:             broker,
		Logger:             logger,
		Version:            version,
		MaxInputImageBytes: cfg.MaxInputImageBytes,
	})

	// Evict once at startup so a restart after downtime starts clean.
	go retentionLoop(ctx, store, broker, logger, cfg.EvictionInterval)

	if cfg.Transport == "stdio" {
		return serveStdio(ctx, mcpSrv.MCPServer(), logger)
	}

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}
	defer func() { _ = limiter.Close() }()

	// Create and start HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		Generation:          gen,
		Artifacts:           store,
		Catalogue:           catalogue,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Index:               db,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxInputImageBytes:  cfg.MaxInputImageBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Shutdown drains in-flight generations, so their puts land before the
	// deferred index Close.
	slog.Info("gazou shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("gazou stopped")
	return nil
}

// openIndex connects to PostgreSQL when DATABASE_URL is set and falls back
// to an embedded SQLite file otherwise. Migrations are applied either way.
func openIndex(ctx context.Context, cfg config.Config, logger *slog.Logger) (index, error) {
	if cfg.DatabaseURL != "" {
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("artifact index: postgres")
		return db, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.OpenLite(ctx, cfg.SQLitePath(), logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, migrations.SQLiteFS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	logger.Info("artifact index: sqlite", "path", cfg.SQLitePath())
	return db, nil
}

// newAdapters builds one backend per tier. Without an API key both tiers use
// the synthetic renderer so the service runs offline.
func newAdapters(ctx context.Context, cfg config.Config, logger *slog.Logger) (map[model.Tier]imagegen.Adapter, error) {
	models := map[model.Tier]string{
		model.TierFast:    cfg.FastModel,
		model.TierQuality: cfg.QualityModel,
	}
	adapters := make(map[model.Tier]imagegen.Adapter, len(models))

	if cfg.GeminiAPIKey == "" {
		logger.Warn("backend: synthetic (no GEMINI_API_KEY); images are placeholders")
		for tier, name := range models {
			adapters[tier] = imagegen.NewSyntheticAdapter(name)
		}
		return adapters, nil
	}

	for tier, name := range models {
		a, err := imagegen.NewGeminiAdapter(ctx, imagegen.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   name,
			Timeout: cfg.BackendTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", tier, err)
		}
		adapters[tier] = imagegen.NewRetrying(a, cfg.BackendMaxRetries, time.Second)
		logger.Info("backend: gemini", "tier", tier, "model", name)
	}
	return adapters, nil
}

// serveStdio runs the MCP server over stdin/stdout until ctx is done.
func serveStdio(ctx context.Context, s *mcpserver.MCPServer, logger *slog.Logger) error {
	stdio := mcpserver.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	logger.Info("mcp: serving on stdio")
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

// retentionLoop evicts expired artifacts at startup and then every interval.
func retentionLoop(ctx context.Context, store *artifact.Store, broker *server.Broker, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := store.EvictExpired(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("retention: eviction failed", "error", err)
		case n > 0:
			logger.Info("retention: evicted expired artifacts", "count", n)
			broker.Publish(model.EventArtifactsEvicted, model.ArtifactEvent{Count: n})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
