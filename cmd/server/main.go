package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/ytakahashi/veo-lists/internal/api"
	"github.com/ytakahashi/veo-lists/internal/auth"
	"github.com/ytakahashi/veo-lists/internal/config"
	"github.com/ytakahashi/veo-lists/internal/handlers"
	"github.com/ytakahashi/veo-lists/internal/services"
	"github.com/ytakahashi/veo-lists/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	config.LoadDotEnv(logger)
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	authDB, err := services.OpenBadger(services.BadgerConfig{Path: cfg.AuthDir, SyncWrites: true, Logger: logger})
	if err != nil {
		return err
	}
	defer authDB.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	api.NewServer(
		backend,
		auth.NewService(authDB, cfg.SessionTTL, auth.WithLogger(logger)),
		api.Config{AuthRate: cfg.AuthRate, Logger: logger},
	).Register(e)

	if cfg.LineEnabled() {
		bot, err := messaging_api.NewMessagingApiAPI(cfg.LineChannelToken)
		if err != nil {
			return err
		}
		webhookHandler := handlers.NewWebhookHandler(bot, cfg.LineChannelSecret, backend, store.Options{
			UndoWindow: cfg.UndoWindow,
			Logger:     logger,
		})
		defer webhookHandler.Close()
		e.POST("/webhook", webhookHandler.HandleWebhook)
	} else {
		logger.Info("LINE_CHANNEL_TOKEN or LINE_CHANNEL_SECRET not set, webhook disabled")
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "backend", cfg.Backend)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendFirestore:
		fs, err := services.NewFirestoreService(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { _ = fs.Close() }, nil
	default:
		db, err := services.OpenBadger(services.BadgerConfig{Path: cfg.DataDir, SyncWrites: true, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return services.NewBadgerService(db), func() { _ = db.Close() }, nil
	}
}
