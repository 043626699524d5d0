// Package main wires together the media gateway service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/apigrove/media-gateway/internal/api"
	"github.com/apigrove/media-gateway/internal/backup"
	"github.com/apigrove/media-gateway/internal/breaker"
	"github.com/apigrove/media-gateway/internal/cache"
	leveldbcache "github.com/apigrove/media-gateway/internal/cache/leveldb"
	memorycache "github.com/apigrove/media-gateway/internal/cache/memory"
	postgrescache "github.com/apigrove/media-gateway/internal/cache/postgres"
	"github.com/apigrove/media-gateway/internal/clock/system"
	"github.com/apigrove/media-gateway/internal/config"
	"github.com/apigrove/media-gateway/internal/gateway"
	"github.com/apigrove/media-gateway/internal/id/uuid"
	"github.com/apigrove/media-gateway/internal/logging"
	"github.com/apigrove/media-gateway/internal/monitor"
	"github.com/apigrove/media-gateway/internal/provider/chat"
	"github.com/apigrove/media-gateway/internal/provider/mail"
	"github.com/apigrove/media-gateway/internal/provider/screenshot"
	"github.com/apigrove/media-gateway/internal/provider/search"
	"github.com/apigrove/media-gateway/internal/provider/ytdl"
	"github.com/apigrove/media-gateway/internal/relay"
	"github.com/apigrove/media-gateway/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	store, err := newStore(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("cache store init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("cache store close failed", zap.Error(closeErr))
		}
	}()

	providers, capturesDir, err := newProviders(cfg, idGen, logger)
	if err != nil {
		logger.Fatal("provider init failed", zap.Error(err))
	}

	var replicator backup.Replicator
	if cfg.Backup.GCSBucket != "" {
		gcs, err := backup.NewGCSReplicator(ctx, cfg.Backup.GCSBucket, cfg.Backup.Prefix, logger.Named("gcs"))
		if err != nil {
			logger.Warn("backup replication disabled", zap.Error(err))
		} else {
			replicator = gcs
		}
	}
	archiver, err := backup.New(backup.Config{
		Root:    cfg.Backup.Root,
		TempDir: cfg.Backup.TempDir,
		Exclude: cfg.Backup.Exclude,
	}, idGen, clock, replicator, logger.Named("backup"))
	if err != nil {
		logger.Fatal("archiver init failed", zap.Error(err))
	}

	sinks := []monitor.Sink{
		monitor.NewLogSink(logger.Named("outcome")),
		monitor.NewMetricsSink(),
	}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		pubsubSink, err := monitor.NewPubSubSink(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger.Named("pubsub"))
		if err != nil {
			logger.Warn("pubsub sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, pubsubSink)
		}
	}
	hub := monitor.NewHub(monitor.Config{}, logger.Named("monitor"), sinks...)

	rel := relay.New(relay.Config{
		DialTimeout:   time.Duration(cfg.Relay.DialTimeoutSeconds) * time.Second,
		HeaderTimeout: time.Duration(cfg.Relay.HeaderTimeoutSec) * time.Second,
		BufferSize:    cfg.Relay.BufferKB << 10,
	}, logger.Named("relay"))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadHeaderTimeout: 5 * time.Second,
	}

	brk := breaker.New(breaker.Config{
		Threshold: int64(cfg.Breaker.Threshold),
		Window:    cfg.BreakerWindow(),
	}, clock, func(client, reason string) {
		telemetry.MarkBreakerTripped()
		logger.Error("emergency shutdown tripped",
			zap.String("client", client),
			zap.String("reason", reason),
		)
		hub.Report(context.Background(), gateway.RequestOutcome{
			Route:   "breaker",
			Success: false,
			Client:  client,
			Detail:  reason,
			At:      clock.Now(),
		})
		// Closing from a request goroutine would deadlock Serve.
		go func() {
			if err := srv.Close(); err != nil {
				logger.Error("emergency close failed", zap.Error(err))
			}
		}()
	})

	apiServer := api.NewServer(
		api.Config{
			Author:         cfg.Attribution.Author,
			CapturesDir:    capturesDir,
			CapturesPrefix: cfg.Providers.Screenshot.PublicPrefix,
		},
		store,
		providers,
		rel,
		archiver,
		brk,
		hub,
		clock,
		logger.Named("api"),
	)
	srv.Handler = apiServer.Handler()

	go func() {
		logger.Info("http server started",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	hub.Close(shutdownCtx)
	logger.Info("shutdown complete")
}

func newStore(ctx context.Context, cfg config.Config, clock gateway.Clock) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return memorycache.New(cfg.CacheTTL(), clock), nil
	case "leveldb":
		return leveldbcache.Open(cfg.Cache.Path, cfg.CacheTTL(), clock)
	case "postgres":
		return postgrescache.New(ctx, postgrescache.Config{
			DSN:   cfg.Cache.DSN,
			Table: cfg.Cache.Table,
			TTL:   cfg.CacheTTL(),
		}, clock)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func newProviders(cfg config.Config, idGen gateway.IDGenerator, logger *zap.Logger) (api.Providers, string, error) {
	extractor, err := ytdl.New(ytdl.Config{
		BaseURL: cfg.Providers.Ytdl.BaseURL,
		Timeout: time.Duration(cfg.Providers.Ytdl.TimeoutSeconds) * time.Second,
		Engine:  cfg.Providers.Ytdl.Engine,
	})
	if err != nil {
		return api.Providers{}, "", fmt.Errorf("extraction client: %w", err)
	}

	searcher := search.New(search.Config{
		BaseURL:    cfg.Providers.Search.BaseURL,
		UserAgent:  cfg.Providers.Search.UserAgent,
		Timeout:    time.Duration(cfg.Providers.Search.TimeoutSeconds) * time.Second,
		MaxResults: cfg.Providers.Search.MaxResults,
	})

	providers := api.Providers{
		Extractor:  extractor,
		Searcher:   searcher,
		Screenshot: screenshot.NewNoop(),
	}

	if cfg.Providers.Chat.BaseURL != "" {
		chatClient, err := chat.New(chat.Config{
			BaseURL:      cfg.Providers.Chat.BaseURL,
			Timeout:      time.Duration(cfg.Providers.Chat.TimeoutSeconds) * time.Second,
			DefaultModel: cfg.Providers.Chat.DefaultModel,
			APIKey:       cfg.Providers.Chat.APIKey,
		})
		if err != nil {
			return api.Providers{}, "", fmt.Errorf("chat client: %w", err)
		}
		providers.Chat = chatClient
	}

	var capturesDir string
	if cfg.Providers.Screenshot.Enabled {
		capturer, err := screenshot.New(screenshot.Config{
			Dir:               cfg.Providers.Screenshot.Dir,
			PublicPrefix:      cfg.Providers.Screenshot.PublicPrefix,
			MaxParallel:       cfg.Providers.Screenshot.MaxParallel,
			UserAgent:         cfg.Providers.Screenshot.UserAgent,
			NavigationTimeout: time.Duration(cfg.Providers.Screenshot.NavTimeoutSec) * time.Second,
			ViewportWidth:     int64(cfg.Providers.Screenshot.ViewportWidth),
			ViewportHeight:    int64(cfg.Providers.Screenshot.ViewportHeight),
			Quality:           cfg.Providers.Screenshot.Quality,
		}, idGen)
		if err != nil {
			logger.Warn("screenshot capturer init failed, using stub", zap.Error(err))
		} else {
			providers.Screenshot = capturer
			capturesDir = cfg.Providers.Screenshot.Dir
		}
	}

	if cfg.Providers.Contact.WebhookURL != "" {
		contactClient, err := mail.New(mail.Config{
			WebhookURL: cfg.Providers.Contact.WebhookURL,
			Timeout:    time.Duration(cfg.Providers.Contact.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return api.Providers{}, "", fmt.Errorf("contact client: %w", err)
		}
		providers.Contact = contactClient
	}

	return providers, capturesDir, nil
}
