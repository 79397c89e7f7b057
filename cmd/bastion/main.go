package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bastion/internal/analytics"
	"bastion/internal/bot"
	"bastion/internal/config"
	"bastion/internal/guildconfig"
	"bastion/internal/leveling"
	"bastion/internal/moderation"
	"bastion/internal/modules/audit"
	"bastion/internal/muteguard"
	"bastion/internal/platform"
	"bastion/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(storage.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Timeout:      cfg.StoreTimeout(),
	})
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := buildCache(ctx, cfg, logger)
	configs := guildconfig.NewProvider(store, cache, cfg.DefaultPrefix, logger)
	auditLogger := audit.NewLogger(store, logger)

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discord session init failed", zap.Error(err))
	}
	client := platform.NewDiscord(session)

	reconciler := moderation.NewReconciler(store, configs, client, auditLogger, cfg.Notifications.EmbedColors, logger)
	sweeper := moderation.NewSweeper(reconciler,
		time.Duration(cfg.Moderation.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Moderation.PendingTTLMinutes)*time.Minute,
		logger)

	botSvc := bot.New(cfg, logger, session, bot.Services{
		Configs:    configs,
		Reconciler: reconciler,
		Levels:     leveling.NewAggregator(store, cfg.Location(), logger),
		Guard:      muteguard.New(store, configs, client, auditLogger, logger),
		Analytics:  analytics.New(store),
		Audit:      auditLogger,
	})
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("driver", store.Driver()), zap.String("cache", cfg.Cache.Backend))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		return audit.NewRetention(store, cfg.Audit.RetentionDays, 24*time.Hour, logger).Run(groupCtx)
	})

	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		group.Go(func() error {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	<-groupCtx.Done()
	logger.Info("shutdown requested")

	if err := group.Wait(); err != nil {
		logger.Error("background task failed", zap.Error(err))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	botSvc.Close(closeCtx)

	if closer, ok := cache.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func buildCache(ctx context.Context, cfg config.Config, logger *zap.Logger) guildconfig.Cache {
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	if cfg.Cache.Backend == "redis" {
		cache, err := guildconfig.NewRedisCache(ctx, cfg.Cache.RedisAddr, ttl, logger)
		if err == nil {
			return cache
		}
		logger.Warn("redis unavailable, using in-memory guild config cache", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
	}
	return guildconfig.NewMemoryCache(ttl)
}
