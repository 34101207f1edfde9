// Package auth implements the access gate in front of the conversation and the
// credential holder the generation client reads its key from.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"nanograph/internal/gemini"
	"nanograph/internal/logging"
)

const (
	checkFailedMessage = "Failed to verify API key status."
	notFoundMessage    = "Project not found. Please try selecting a valid paid GCP project again."
)

var ErrEntityNotFound = errors.New("entity not found")

// Host is the environment capability that knows whether a credential has been
// selected and can run a selection interaction.
type Host interface {
	HasSelectedCredential(ctx context.Context) (bool, error)
	OpenSelectCredential(ctx context.Context) error
}

type State struct {
	Authenticated bool   `json:"authenticated"`
	Checking      bool   `json:"checking"`
	Error         string `json:"error,omitempty"`
}

// Gate starts closed and opens once the host confirms a credential.
type Gate struct {
	host   Host
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

func NewGate(host Host, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gate{host: host, logger: logger}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Authenticated() bool {
	return g.State().Authenticated
}

// Check asks the host once. A missing host leaves the gate closed.
func (g *Gate) Check(ctx context.Context) State {
	g.begin()

	if g.host == nil {
		g.logger.Warn("no credential host available, gate stays closed")
		return g.finish(State{})
	}

	selected, err := g.host.HasSelectedCredential(ctx)
	if err != nil {
		g.logger.Error("credential check failed", "err", err)
		return g.finish(State{Error: checkFailedMessage})
	}
	return g.finish(State{Authenticated: selected})
}

// Select runs the host's selection interaction and re-confirms the result.
func (g *Gate) Select(ctx context.Context) State {
	if g.host == nil {
		return g.State()
	}
	g.begin()

	if err := g.host.OpenSelectCredential(ctx); err != nil {
		g.logger.Warn("credential selection failed", "err", err)
		if isNotFound(err) {
			return g.finish(State{Error: notFoundMessage})
		}
		return g.finish(State{Error: err.Error()})
	}

	selected, err := g.host.HasSelectedCredential(ctx)
	if err != nil {
		g.logger.Error("credential re-check failed", "err", err)
		return g.finish(State{Error: checkFailedMessage})
	}
	return g.finish(State{Authenticated: selected})
}

func (g *Gate) begin() {
	g.mu.Lock()
	g.state.Checking = true
	g.state.Error = ""
	g.mu.Unlock()
}

func (g *Gate) finish(st State) State {
	g.mu.Lock()
	g.state = st
	g.mu.Unlock()
	return st
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) || gemini.IsNotFound(err)
}
