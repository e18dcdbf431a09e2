package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/kaiwabot/kaiwa/internal/config"
	"github.com/kaiwabot/kaiwa/internal/dispatch"
	"github.com/kaiwabot/kaiwa/internal/gemini"
	"github.com/kaiwabot/kaiwa/internal/handlers"
	"github.com/kaiwabot/kaiwa/internal/inbound"
	"github.com/kaiwabot/kaiwa/internal/line"
	"github.com/kaiwabot/kaiwa/internal/logger"
	"github.com/kaiwabot/kaiwa/internal/media"
	"github.com/kaiwabot/kaiwa/internal/prompt"
	"github.com/kaiwabot/kaiwa/internal/server"
	"github.com/kaiwabot/kaiwa/internal/transcript"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideTranscriptStore,
			provideMediaStore,
			providePromptStore,
			provideSweeper,
			dispatch.NewGuard,
			dispatch.NewUserLocks,
			providePool,
			provideLineClient,
			provideGeminiClient,
			provideProcessor,
			provideServer,
		),
		fx.Invoke(
			startPool,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideTranscriptStore(cfg config.Config, log *slog.Logger) (*transcript.Store, error) {
	return transcript.NewStore(filepath.Join(cfg.Data.Root, "history"), log)
}

func provideMediaStore(cfg config.Config, log *slog.Logger) (*media.Store, error) {
	return media.NewStore(cfg.Data.Root, log)
}

func providePromptStore(cfg config.Config, log *slog.Logger) (*prompt.Store, error) {
	globalPrompt := filepath.Join(cfg.Data.Root, "system_prompt.txt")
	return prompt.NewStore(filepath.Join(cfg.Data.Root, "prompts"), globalPrompt, log)
}

func provideSweeper(store *media.Store, transcripts *transcript.Store, log *slog.Logger) *media.Sweeper {
	return media.NewSweeper(store, transcripts.ReferencedMediaPaths, log)
}

func providePool(cfg config.Config, log *slog.Logger) *dispatch.Pool {
	return dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, log)
}

func provideLineClient(cfg config.Config, log *slog.Logger) *line.Client {
	return line.NewClient(cfg.Line, log)
}

func provideGeminiClient(cfg config.Config, store *media.Store, log *slog.Logger) *gemini.Client {
	return gemini.NewClient(cfg.Gemini, store, log)
}

func provideProcessor(
	cfg config.Config,
	log *slog.Logger,
	guard *dispatch.Guard,
	locks *dispatch.UserLocks,
	pool *dispatch.Pool,
	transcripts *transcript.Store,
	mediaStore *media.Store,
	prompts *prompt.Store,
	geminiClient *gemini.Client,
	lineClient *line.Client,
) *inbound.Processor {
	return inbound.NewProcessor(inbound.Params{
		Guard:       guard,
		Locks:       locks,
		Pool:        pool,
		Transcripts: transcripts,
		Media:       mediaStore,
		Prompts:     prompts,
		Completer:   geminiClient,
		Messenger:   lineClient,
		Fetcher:     lineClient,
		Config:      cfg,
		Logger:      log,
	})
}

func provideServer(cfg config.Config, log *slog.Logger, processor *inbound.Processor) *server.Server {
	return server.NewServer(cfg.Server.Addr, log,
		handlers.NewPingHandler(log),
		handlers.NewWebhookHandler(log, cfg.Line.ChannelSecret, processor),
	)
}

func startPool(lc fx.Lifecycle, pool *dispatch.Pool) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			pool.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return pool.Shutdown(ctx)
		},
	})
}

func startSweeper(lc fx.Lifecycle, cfg config.Config, sweeper *media.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return sweeper.Start(cfg.Media.SweepSchedule)
		},
		OnStop: func(_ context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
