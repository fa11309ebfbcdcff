// ABOUTME: Connection settings for the Charm KV store that holds scan history
// ABOUTME: Filled from the kv section of the cosell config; the last sync time lives in a stamp file

package charm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

const (
	// DefaultCharmHost is the self-hosted 2389 research server.
	DefaultCharmHost = "charm.2389.dev"

	// AppName is the application name for Charm KV database.
	AppName = "cosell"

	stampFileName = "kv-last-sync"
)

// Config holds charm connection settings.
type Config struct {
	Host     string
	AutoSync bool // sync on open and after every write

	// StaleThreshold is how old the last sync may be before SyncIfStale pulls.
	// Zero disables staleness checks.
	StaleThreshold time.Duration

	// StampPath records the last successful sync. Empty disables the stamp.
	StampPath string
}

// DefaultStampPath returns the stamp location under XDG data.
func DefaultStampPath() string {
	return filepath.Join(xdg.DataHome, AppName, stampFileName)
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultCharmHost
	}
	return c
}

func readStamp(path string) (time.Time, bool) {
	if path == "" {
		return time.Time{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func writeStamp(path string, t time.Time) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create stamp directory: %w", err)
	}
	return os.WriteFile(path, []byte(t.UTC().Format(time.RFC3339Nano)), 0600)
}
