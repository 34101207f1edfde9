package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"nanograph/internal/app"
	"nanograph/internal/config"
	"nanograph/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	stack := app.New(cfg, os.Stdout)
	logger := stack.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack.CheckGate(ctx)

	server := web.New(web.Options{
		Conversation:   stack.NewConversation(),
		Gate:           stack.Gate,
		Stager:         stack.Host,
		Keyring:        stack.Keyring,
		Model:          stack.Gemini.Model(),
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	srv := server.HTTPServer(ctx, cfg.WebAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("web started", "addr", cfg.WebAddr, "model", stack.Gemini.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
