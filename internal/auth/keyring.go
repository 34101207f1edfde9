package auth

import (
	"strings"
	"sync"
)

// Keyring holds the currently selected API key.
type Keyring struct {
	mu  sync.RWMutex
	key string
}

func NewKeyring(key string) *Keyring {
	return &Keyring{key: strings.TrimSpace(key)}
}

func (k *Keyring) APIKey() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key
}

func (k *Keyring) Set(key string) {
	k.mu.Lock()
	k.key = strings.TrimSpace(key)
	k.mu.Unlock()
}

// Mask shows the first 8 and last 6 characters of the key.
func (k *Keyring) Mask() string {
	key := k.APIKey()
	if len(key) <= 10 {
		return "Not Connected"
	}
	return key[:8] + "..." + key[len(key)-6:]
}
