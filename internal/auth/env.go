package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"nanograph/internal/gemini"
)

const DefaultKeyVar = "GEMINI_API_KEY"

// EnvHost selects the API key from the environment. A selection re-reads the
// dotenv files, so editing .env and selecting again picks up a new key. A key
// staged with Use takes precedence over the environment.
type EnvHost struct {
	Keyring *Keyring
	KeyVar  string
	Files   []string
	// Verify, when set, must accept a newly selected key before the gate opens.
	Verify func(ctx context.Context) error

	mu     sync.Mutex
	staged string
}

func (h *EnvHost) Use(key string) {
	h.mu.Lock()
	h.staged = strings.TrimSpace(key)
	h.mu.Unlock()
}

func (h *EnvHost) HasSelectedCredential(ctx context.Context) (bool, error) {
	if h.Keyring == nil {
		return false, errors.New("no keyring")
	}
	if h.Keyring.APIKey() != "" {
		return true, nil
	}
	if key := strings.TrimSpace(os.Getenv(h.keyVar())); key != "" {
		h.Keyring.Set(key)
		return true, nil
	}
	return false, nil
}

func (h *EnvHost) OpenSelectCredential(ctx context.Context) error {
	if h.Keyring == nil {
		return errors.New("no keyring")
	}

	key := h.takeStaged()
	if key == "" {
		key = h.lookupFiles()
	}
	if key == "" {
		key = strings.TrimSpace(os.Getenv(h.keyVar()))
	}
	if key == "" {
		return fmt.Errorf("%s is not set: %w", h.keyVar(), gemini.ErrNoCredential)
	}

	previous := h.Keyring.APIKey()
	h.Keyring.Set(key)

	if h.Verify != nil {
		if err := h.Verify(ctx); err != nil {
			h.Keyring.Set(previous)
			if gemini.IsNotFound(err) {
				return fmt.Errorf("%w: %v", ErrEntityNotFound, err)
			}
			return fmt.Errorf("verify key: %w", err)
		}
	}
	return nil
}

func (h *EnvHost) takeStaged() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := h.staged
	h.staged = ""
	return key
}

func (h *EnvHost) lookupFiles() string {
	files := h.Files
	if len(files) == 0 {
		files = []string{".env"}
	}

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return ""
	}

	values, err := godotenv.Read(existing...)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(values[h.keyVar()])
}

func (h *EnvHost) keyVar() string {
	if h.KeyVar != "" {
		return h.KeyVar
	}
	return DefaultKeyVar
}
