package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/stickerpress/stickerpress/internal/bot"
	"github.com/stickerpress/stickerpress/internal/config"
	"github.com/stickerpress/stickerpress/internal/health"
	"github.com/stickerpress/stickerpress/internal/i18n"
	"github.com/stickerpress/stickerpress/internal/janitor"
	"github.com/stickerpress/stickerpress/internal/kv"
	"github.com/stickerpress/stickerpress/internal/logger"
	"github.com/stickerpress/stickerpress/internal/pipeline"
	"github.com/stickerpress/stickerpress/internal/profile"
	"github.com/stickerpress/stickerpress/internal/session"
	"github.com/stickerpress/stickerpress/internal/transcode"
	"github.com/stickerpress/stickerpress/internal/transport"
	"github.com/stickerpress/stickerpress/internal/version"
	"github.com/stickerpress/stickerpress/internal/workdir"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			runServe(*configPath)
			return nil
		},
	}
}

func runServe(configPath string) {
	fx.New(
		fx.Provide(
			provideConfig(configPath),
			provideLogger,
			provideKV,
			provideSessionStore,
			provideProfileStore,
			provideController,
			provideWorkdirManager,
			provideBundle,
			provideBotAPI,
			provideTransport,
			provideTranscoder,
			provideOrchestrator,
			provideBot,
			provideJanitor,
			provideHealthServer,
		),
		fx.Invoke(
			startJanitor,
			startHealthServer,
			startBot,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig(path string) func() (config.Config, error) {
	return func() (config.Config, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideKV(lc fx.Lifecycle, cfg config.Config) (*kv.Postgres, error) {
	store, err := kv.OpenPostgres(context.Background(), cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("kv connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { store.Close(); return nil }})
	return store, nil
}

func provideSessionStore(log *slog.Logger, store *kv.Postgres) *session.Store {
	return session.NewStore(log, store)
}

func provideProfileStore(log *slog.Logger, cfg config.Config, store *kv.Postgres) *profile.Store {
	return profile.NewStore(log, store, cfg.I18n.DefaultLanguage)
}

func provideController(log *slog.Logger, cfg config.Config, store *session.Store) *session.Controller {
	return session.NewController(log, store, cfg.Limits.MaxStickers)
}

func provideWorkdirManager(log *slog.Logger, cfg config.Config) *workdir.Manager {
	return workdir.NewManager(log, cfg.Storage.Root)
}

func provideBundle(cfg config.Config) (*i18n.Bundle, error) {
	return i18n.Load(cfg.I18n.DefaultLanguage)
}

func provideBotAPI(cfg config.Config) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return api, nil
}

func provideTransport(log *slog.Logger, api *tgbotapi.BotAPI) *transport.Telegram {
	return transport.NewTelegram(log, api)
}

func provideTranscoder() transcode.Transcoder {
	return transcode.NewFFmpeg()
}

func provideOrchestrator(
	log *slog.Logger,
	cfg config.Config,
	store *session.Store,
	dirs *workdir.Manager,
	tp *transport.Telegram,
	tc transcode.Transcoder,
) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(log, store, dirs, tp, tc, cfg.Limits.MaxConcurrent, cfg.Zip.Comment)
}

func provideBot(
	log *slog.Logger,
	cfg config.Config,
	api *tgbotapi.BotAPI,
	tp *transport.Telegram,
	controller *session.Controller,
	store *session.Store,
	orch *pipeline.Orchestrator,
	profiles *profile.Store,
	bundle *i18n.Bundle,
	dirs *workdir.Manager,
) *bot.Bot {
	return bot.New(log, api, bot.Options{
		Transport:       tp,
		Controller:      controller,
		Store:           store,
		Orchestrator:    orch,
		Profiles:        profiles,
		Bundle:          bundle,
		Dirs:            dirs,
		StickerSources:  cfg.Telegram.StickerSources,
		AdminUsername:   cfg.Telegram.AdminUsername,
		PipelineTimeout: cfg.Limits.Timeout(),
	})
}

func provideJanitor(log *slog.Logger, cfg config.Config, store *session.Store, dirs *workdir.Manager) *janitor.Janitor {
	return janitor.New(log, store, dirs, cfg.Janitor.Spec, 2*cfg.Limits.Timeout())
}

func provideHealthServer(log *slog.Logger, cfg config.Config, store *kv.Postgres, api *tgbotapi.BotAPI) *health.Server {
	checks := map[string]health.Check{
		"postgres": store.Ping,
		"telegram": func(context.Context) error {
			_, err := api.GetMe()
			return err
		},
	}
	return health.NewServer(log, cfg.Health.Addr, checks)
}

func startJanitor(lc fx.Lifecycle, cfg config.Config, j *janitor.Janitor) {
	if cfg.Janitor.Spec == "" {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return j.Start() },
		OnStop:  func(ctx context.Context) error { return j.Stop(ctx) },
	})
}

func startHealthServer(lc fx.Lifecycle, logger *slog.Logger, srv *health.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("health server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server stop: %w", err)
			}
			return nil
		},
	})
}

func startBot(lc fx.Lifecycle, logger *slog.Logger, b *bot.Bot, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting stickerpress %s\n", version.Version)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("bot stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
