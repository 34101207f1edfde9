package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"nanograph/internal/app"
	"nanograph/internal/config"
	"nanograph/internal/handlers"
	"nanograph/internal/mediagroup"
	"nanograph/internal/session"
	"nanograph/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		panic(err)
	}

	stack := app.New(cfg, os.Stdout)
	logger := stack.Logger

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: stack.HTTP,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}
	if err := tg.SetCommands(handlers.Commands); err != nil {
		logger.Warn("set commands failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack.CheckGate(ctx)

	sessions := session.NewStore(session.Options{
		New:         stack.NewConversation,
		IdleTimeout: cfg.SessionIdleTimeout,
	})

	handler := handlers.New(handlers.Options{
		Telegram: tg,
		Sessions: sessions,
		Gate:     stack.Gate,
		Stager:   stack.Host,
		Keyring:  stack.Keyring,
		Model:    stack.Gemini.Model(),
		Logger:   logger,
	})

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onAlbum := func(album mediagroup.Album) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			handler.HandleAlbum(reqCtx, album)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush:  onAlbum,
	})
	defer aggregator.Stop()
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info("bot started", "username", tg.Username(), "model", stack.Gemini.Model())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return sessions.Run(gctx, time.Minute, func(removed int) {
			logger.Info("pruned idle sessions", "count", removed)
		})
	})
	g.Go(func() error {
		updates := tg.Updates(telegram.UpdatesOptions{
			Timeout: 30 * time.Second,
		})
		defer tg.StopUpdates()
		defer cancelRun()

		for {
			select {
			case <-gctx.Done():
				logger.Info("shutting down")
				return nil
			case update, ok := <-updates:
				if !ok {
					logger.Info("updates channel closed")
					return nil
				}

				select {
				case sem <- struct{}{}:
				case <-gctx.Done():
					return nil
				}

				go func(update telegram.Update) {
					defer func() { <-sem }()

					reqCtx, cancel := context.WithTimeout(gctx, cfg.RequestTimeout)
					defer cancel()

					if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("handle update failed", "err", err)
					}
				}(update)
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("bot stopped", "err", err)
		os.Exit(1)
	}
}
