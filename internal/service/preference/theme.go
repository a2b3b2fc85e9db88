// Package preference keeps client display preferences in local storage.
package preference

import (
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/nyai-sathi/voice-chat/backend/internal/storage"
)

// StorageKeyDarkMode holds the theme flag as "true" or "false".
const StorageKeyDarkMode = "nyai-sathi-dark-mode"

// Theme stores the dark mode preference.
type Theme struct {
	mu    sync.Mutex
	local storage.LocalStorage
}

// NewTheme creates a Theme over local.
func NewTheme(local storage.LocalStorage) *Theme {
	return &Theme{local: local}
}

// DarkMode returns the stored flag; missing or unreadable values mean light mode.
func (t *Theme) DarkMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read()
}

// SetDarkMode stores the flag.
func (t *Theme) SetDarkMode(dark bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(dark)
}

// Toggle flips the flag and returns the new value.
func (t *Theme) Toggle() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dark := !t.read()
	if err := t.write(dark); err != nil {
		return !dark, err
	}
	return dark, nil
}

func (t *Theme) read() bool {
	raw, ok, err := t.local.GetItem(StorageKeyDarkMode)
	if err != nil {
		log.Printf("[preference] failed to read theme: %v", err)
		return false
	}
	if !ok {
		return false
	}
	dark, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("[preference] ignoring invalid theme value %q", raw)
		return false
	}
	return dark
}

func (t *Theme) write(dark bool) error {
	if err := t.local.SetItem(StorageKeyDarkMode, strconv.FormatBool(dark)); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}
