package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/whisper/automod/internal/arming"
	"github.com/whisper/automod/internal/audit"
	"github.com/whisper/automod/internal/config"
	"github.com/whisper/automod/internal/discord"
	"github.com/whisper/automod/internal/engine"
	"github.com/whisper/automod/internal/executor"
	"github.com/whisper/automod/internal/feed"
	"github.com/whisper/automod/internal/infraction"
	"github.com/whisper/automod/internal/logging"
	"github.com/whisper/automod/internal/messaging"
	"github.com/whisper/automod/internal/metrics"
	"github.com/whisper/automod/internal/ratelimit"
)

// Audit rows older than auditRetention are pruned once a day.
const (
	auditRetention = 90 * 24 * time.Hour
	pruneEvery     = 24 * time.Hour
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and moderate configured guilds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		logger, err := logging.New(settings.LogLevel, settings.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return run(ctx, settings, logger)
	},
}

func run(ctx context.Context, settings *config.Settings, logger *slog.Logger) error {
	if settings.DiscordToken == "" {
		return errors.New("discord_token is not set (AUTOMOD_DISCORD_TOKEN)")
	}
	logger.Info("starting automod",
		slog.String("config_dir", settings.ConfigDir),
		slog.String("redis_addr", settings.RedisAddr),
		slog.String("nats_url", settings.NATSURL),
		slog.String("http_addr", settings.HTTPAddr),
		slog.Bool("armed", settings.Armed),
	)

	// Guild configuration.
	store, err := config.NewStore(settings.ConfigDir, logger)
	if err != nil {
		return fmt.Errorf("initial configuration load: %w", err)
	}
	metrics.ConfiguredGuilds.Set(float64(len(store.Current().Guilds)))
	store.OnReload(func(snap *config.Snapshot, err error) {
		if err != nil {
			metrics.ConfigReloads.WithLabelValues(metrics.ResultError).Inc()
			return
		}
		metrics.ConfigReloads.WithLabelValues(metrics.ResultOK).Inc()
		metrics.ConfiguredGuilds.Set(float64(len(snap.Guilds)))
	})

	// Redis: armed flag, infraction counters and throttles.
	rdb := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	armed := arming.NewSwitch(rdb, settings.Armed, logger)
	limiter := ratelimit.NewLimiter(rdb, logger)
	infractions := infraction.NewStore(rdb)

	// PostgreSQL audit trail, when configured.
	var auditLog engine.AuditLog
	if settings.PostgresDSN != "" {
		db, err := openAudit(ctx, settings.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		auditStore := audit.NewStore(db)
		auditLog = auditStore
		go pruneAudit(ctx, auditStore, logger)
	} else {
		logger.Warn("postgres_dsn is not set; incidents will not be persisted")
	}

	// NATS: incident events and remote checks.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = settings.NATSURL
	nc, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	hub := feed.NewHub(feed.DefaultHubConfig(), logger)

	gateway, err := discord.NewGateway(settings.DiscordToken, logger)
	if err != nil {
		return err
	}

	notifyRule := ratelimit.NotifyRule(settings.NotifyLimit, time.Duration(settings.NotifyWindow)*time.Second)
	exec := executor.New(gateway.Client(), armed, limiter, notifyRule, logger)

	eng := engine.New(engine.Deps{
		Snapshots:   store,
		Executor:    exec,
		Armed:       armed,
		Infractions: infractions,
		Audit:       auditLog,
		Publisher:   nc,
		Feed:        hub,
	}, logger)

	if err := nc.ServeChecks(eng.Check); err != nil {
		return err
	}

	commands := discord.NewCommands(store, armed, limiter, logger)
	store.OnReload(gateway.ReloadHook(ctx))

	if err := gateway.Open(ctx, eng, commands); err != nil {
		return err
	}
	defer gateway.Close()
	discord.NotifyGuilds(ctx, gateway.Client(), store.Current(), "Automod online", "Automod is now online.", logger)

	srv := feed.NewServer(settings.HTTPAddr, hub, func() feed.Status {
		return feed.Status{Guilds: len(store.Current().Guilds), Armed: armed.Armed(ctx)}
	}, logger)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()
	go hub.RunHeartbeat(ctx)
	go eng.RunMetrics(ctx, 15*time.Second)
	go store.Watch(ctx, settings.ReloadEvery())

	logger.Info("automod running",
		slog.String("config_dir", store.Dir()),
		slog.Int("guilds", len(store.Current().Guilds)),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-srvErr:
		logger.Error("http server stopped", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	return err
}

func openAudit(ctx context.Context, dsn string) (*sql.DB, error) {
	if err := audit.Migrate(dsn); err != nil {
		return nil, err
	}
	return audit.Open(ctx, dsn)
}

// pruneAudit deletes old incidents once a day until ctx is done.
func pruneAudit(ctx context.Context, store *audit.Store, logger *slog.Logger) {
	ticker := time.NewTicker(pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, auditRetention)
			if err != nil {
				logger.Error("prune incidents", slog.Any("error", err))
				continue
			}
			logger.Info("pruned incidents", slog.Int64("rows", n))
		}
	}
}
