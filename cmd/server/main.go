package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"tokoledger/internal/archive"
	"tokoledger/internal/cache"
	"tokoledger/internal/config"
	"tokoledger/internal/httpapi"
	"tokoledger/internal/report"
	"tokoledger/internal/service"
	"tokoledger/internal/store"
	"tokoledger/internal/store/memory"
	pgstore "tokoledger/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if *pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.Database.URL != "" {
		pg, err := pgstore.New(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres unavailable and database.url is set, refusing in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Msg("repository: in-memory")
	}

	summaries := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.Redis.Enabled {
		redisCache := cache.NewRedisSummaryCache(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop summary cache")
		} else {
			summaries = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Msg("summary cache: redis")
		}
	} else {
		logger.Info().Msg("summary cache: noop")
	}

	renderer := report.NewTextRenderer(cfg.Report.Dir, cfg.Report.Title)
	job := archive.NewJob(repo, renderer, logger.With().Str("component", "archive").Logger())
	svc := service.New(repo, summaries, 30*time.Second, job, logger.With().Str("component", "service").Logger())
	auth := httpapi.NewAuthManager(cfg.Auth.Secret, cfg.Auth.TokenTTL, repo, logger.With().Str("component", "auth").Logger())

	// Runs on every start: a populated user table is a no-op, an empty table
	// with no configured bootstrap password refuses to start an unreachable
	// deployment.
	if err := auth.EnsureDefaultOwner(ctx, cfg.Auth.DefaultOwnerUsername, cfg.Auth.DefaultOwnerPassword); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap owner failed, set auth.default_owner_password")
	}

	// Catch up the daily archive once at startup, before any login does.
	if _, err := job.RunArchiveCheck(ctx, time.Now().UTC()); err != nil {
		logger.Error().Err(err).Msg("startup archive check failed")
	}

	api := httpapi.New(svc, auth, job, logger.With().Str("component", "http").Logger())

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr()).Msg("ledger backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}
