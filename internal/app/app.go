// Package app wires the pieces every front-end shares: logger, HTTP transport,
// generation client, credential holder and access gate.
package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"nanograph/internal/auth"
	"nanograph/internal/chat"
	"nanograph/internal/config"
	"nanograph/internal/gemini"
	"nanograph/internal/httpclient"
	"nanograph/internal/logging"
)

type Stack struct {
	Config  config.Config
	Logger  *slog.Logger
	HTTP    *http.Client
	Gemini  *gemini.Client
	Keyring *auth.Keyring
	Host    *auth.EnvHost
	Gate    *auth.Gate
}

// New builds the stack. logOut receives the JSON log; nil means stdout.
func New(cfg config.Config, logOut io.Writer) *Stack {
	logger := logging.New(cfg.LogLevel, logOut)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		Logger:     logger,
	})

	keyring := auth.NewKeyring(cfg.GeminiAPIKey)

	gem := gemini.New(gemini.Options{
		Credentials: keyring,
		BaseURL:     cfg.GeminiBaseURL,
		APIVersion:  cfg.GeminiAPIVersion,
		Model:       cfg.GeminiModel,
		HTTPClient:  httpClient,
		Logger:      logger,
	})

	host := &auth.EnvHost{Keyring: keyring}
	if cfg.VerifyKey {
		host.Verify = gem.CheckModel
	}

	return &Stack{
		Config:  cfg,
		Logger:  logger,
		HTTP:    httpClient,
		Gemini:  gem,
		Keyring: keyring,
		Host:    host,
		Gate:    auth.NewGate(host, logger),
	}
}

// NewConversation returns a fresh conversation using the configured defaults.
func (s *Stack) NewConversation() *chat.Controller {
	return chat.NewController(chat.Options{
		Generator: s.Gemini,
		Config:    s.Config.Generation,
		Logger:    s.Logger,
	})
}

// CheckGate runs the startup credential check and logs the outcome.
func (s *Stack) CheckGate(ctx context.Context) auth.State {
	st := s.Gate.Check(ctx)
	s.Logger.Info("access gate", "authenticated", st.Authenticated, "error", st.Error, "key", s.Keyring.Mask())
	return st
}
