package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vinodismyname/funnelsnap/config"
	"github.com/vinodismyname/funnelsnap/internal/api"
	"github.com/vinodismyname/funnelsnap/internal/blobstore"
	"github.com/vinodismyname/funnelsnap/internal/ingest"
	"github.com/vinodismyname/funnelsnap/internal/normalize"
	"github.com/vinodismyname/funnelsnap/internal/registry"
	"github.com/vinodismyname/funnelsnap/internal/runtime"
	"github.com/vinodismyname/funnelsnap/internal/security"
	"github.com/vinodismyname/funnelsnap/internal/service"
	"github.com/vinodismyname/funnelsnap/internal/snapshot"
	"github.com/vinodismyname/funnelsnap/internal/telemetry"
	"github.com/vinodismyname/funnelsnap/internal/workbooks"
	"github.com/vinodismyname/funnelsnap/pkg/version"
)

const cacheKeyPrefix = "funnelsnap:"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		configPath string
		useHTTP    bool
		useStdio   bool
	)

	flag.StringVar(&configPath, "config", os.Getenv("FUNNELSNAP_CONFIG"), "Path to a YAML config file")
	flag.BoolVar(&useHTTP, "http", true, "Serve the HTTP API")
	flag.BoolVar(&useStdio, "stdio", false, "Serve MCP tools over stdio")
	flag.Parse()

	if !useHTTP && !useStdio {
		fmt.Fprintln(os.Stderr, "no transport selected; use --http and/or --stdio")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so they never mix with the MCP stdio stream.
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	if err := run(ctx, cfg, logger, useHTTP, useStdio); err != nil {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	base := zlog.Logger
	if c.Pretty {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return base.Level(level).With().Str("service", version.Name).Logger()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, useHTTP, useStdio bool) error {
	cal, err := cfg.BuildCalendar()
	if err != nil {
		return err
	}
	limits := runtime.LimitsFromConfig(cfg.Limits)
	ctrl := runtime.NewController(limits)

	blobs, closeBlobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()

	guard, err := security.NewPathGuard(cfg.MCP.AllowedDirs, nil)
	if err != nil {
		return fmt.Errorf("security: invalid allow-list: %w", err)
	}
	if !guard.Enabled() {
		logger.Warn().Msg("no allowed directories configured; local workbook tools reject every path")
	} else {
		logger.Info().Strs("allowed_dirs", guard.Roots()).Msg("security allow-list configured")
	}
	if cfg.Server.AdminKey == "" {
		logger.Warn().Msg("no admin key configured; uploads are refused")
	}

	hooks := telemetry.NewHooks(logger)
	reader := workbooks.NewReader(ctrl, guard, limits.MaxSheetRows)
	parser := ingest.NewParser(reader, normalize.New(cfg.DateParser(), cal), limits.PreviewRowLimit)
	store := snapshot.New(blobs, cal, snapshot.Options{
		Prefix:     cfg.Storage.Prefix,
		MaxRetries: *cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		Guard:      ctrl,
	})
	svc := service.New(store, parser, hooks, service.Options{
		PageSize:    cfg.Limits.PageSize,
		MaxPageSize: cfg.Limits.MaxPageSize,
	})

	logger.Info().
		Str("version", version.Version()).
		Str("storage", cfg.Storage.Backend).
		Bool("cache", cfg.Cache.RedisAddr != "").
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_workbooks", limits.MaxOpenWorkbooks).
		Int64("max_upload_bytes", limits.MaxUploadBytes).
		Bool("http", useHTTP).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	g, gctx := errgroup.WithContext(ctx)

	if useHTTP {
		srv := &http.Server{
			Addr: cfg.Server.Addr,
			Handler: api.NewRouter(api.Config{
				Service:     svc,
				Admin:       security.NewAdminKey(cfg.Server.AdminKey),
				Runtime:     ctrl,
				Logger:      logger,
				CORSOrigins: cfg.Server.CORSOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			hooks.OnServerStart("http", srv.Addr)
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			hooks.OnServerStop("http", err)
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if useStdio {
		mcpSrv := newMCPServer(cfg, svc, ctrl, hooks)
		g.Go(func() error {
			hooks.OnServerStart("stdio", "")
			err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			hooks.OnServerStop("stdio", err)
			return err
		})
	}

	return g.Wait()
}

func newMCPServer(cfg *config.Config, svc *service.Service, ctrl *runtime.Controller, hooks *telemetry.Hooks) *server.MCPServer {
	writeFilter := registry.NewWriteToolFilterFromEnv(cfg.MCP.EnableWrites)
	runtimeMW := runtime.NewMiddleware(ctrl)

	srv := server.NewMCPServer(
		"Funnel Snapshot Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks.MCPHooks()),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(writeFilter.FilterTools),
	)

	toolRegistry := registry.New()
	toolRegistry.WithModel(cfg.MCP.Model)
	registry.RegisterFunnelTools(srv, toolRegistry, registry.FunnelDeps{
		Service: svc,
		Limits:  ctrl.LimitsSnapshot(),
		Hooks:   hooks,
		Writes:  writeFilter,
	})
	return srv
}

// openBlobs selects the storage backend and wraps it with the Redis cache
// when configured. The returned func releases backend connections.
func openBlobs(ctx context.Context, cfg *config.Config) (blobstore.Store, func(), error) {
	var (
		store   blobstore.Store
		closers []func()
	)
	switch cfg.Storage.Backend {
	case "s3":
		s, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:   cfg.Storage.S3.Bucket,
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		store = s
	case "postgres":
		s, err := blobstore.OpenPostgres(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		store = s
		closers = append(closers, func() { _ = s.Close() })
	default:
		s, err := blobstore.NewDirStore(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, err
		}
		store = s
	}

	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("redis unreachable; cache disabled")
			_ = rdb.Close()
		} else {
			store = blobstore.NewCachedStore(store, rdb, cfg.Cache.TTL, cacheKeyPrefix)
			closers = append(closers, func() { _ = rdb.Close() })
		}
	}

	return store, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}
