// ABOUTME: Charm KV client backing scan history and other small durable state
// ABOUTME: Wraps charm/kv behind a store interface so tests can swap in plain BadgerDB
package charm

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
)

// store is the subset of charm/kv.KV the client needs.
type store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Keys() ([][]byte, error)
	Sync() error
	Reset() error
}

var (
	globalClient *Client
	clientOnce   sync.Once
	clientErr    error
)

// Client is a concurrency-safe KV client with optional write-through sync.
type Client struct {
	store  store
	config Config
	remote bool
	mu     sync.RWMutex
}

// GetClient returns the process-wide client, opening it with cfg on first use.
// Later calls ignore cfg.
func GetClient(cfg Config) (*Client, error) {
	clientOnce.Do(func() {
		globalClient, clientErr = NewClient(cfg)
	})
	if clientErr != nil {
		return nil, clientErr
	}
	return globalClient, nil
}

// NewClient opens the charm KV database for AppName.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	// charm reads its server from the environment
	_ = os.Setenv("CHARM_HOST", cfg.Host)

	db, err := kv.OpenWithDefaults(AppName)
	if err != nil {
		return nil, fmt.Errorf("failed to open charm kv: %w", err)
	}

	c := &Client{store: db, config: cfg, remote: true}

	// Pull remote changes so incremental scans see other devices' history
	if cfg.AutoSync {
		_ = c.Sync()
	}

	return c, nil
}

// Config returns the client's config.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// ID returns the charm user ID for this device.
func (c *Client) ID() (string, error) {
	if !c.remote {
		return "local", nil
	}
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.ID()
}

// Sync performs a manual sync with the charm server and stamps the time.
func (c *Client) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Sync(); err != nil {
		return err
	}
	return writeStamp(c.config.StampPath, time.Now())
}

// LastSync returns when this device last synced, if known.
func (c *Client) LastSync() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return readStamp(c.config.StampPath)
}

// SyncIfStale syncs when the last sync is older than the stale threshold or
// unknown, and reports whether it synced.
func (c *Client) SyncIfStale(now time.Time) (bool, error) {
	threshold := c.Config().StaleThreshold
	if threshold <= 0 {
		return false, nil
	}
	if last, ok := c.LastSync(); ok && now.Sub(last) < threshold {
		return false, nil
	}
	if err := c.Sync(); err != nil {
		return false, fmt.Errorf("failed to sync stale kv: %w", err)
	}
	return true, nil
}

// Get retrieves a value by key.
func (c *Client) Get(key []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Get(key)
}

// Set stores a value and syncs if enabled.
func (c *Client) Set(key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(key, value); err != nil {
		return err
	}
	c.syncLocked()
	return nil
}

// Delete removes a key and syncs if enabled.
func (c *Client) Delete(key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(key); err != nil {
		return err
	}
	c.syncLocked()
	return nil
}

// Keys returns all keys.
func (c *Client) Keys() ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Keys()
}

// KeysWithPrefix returns all keys starting with prefix.
func (c *Client) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	all, err := c.Keys()
	if err != nil {
		return nil, err
	}

	var matched [][]byte
	for _, k := range all {
		if bytes.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

// Reset wipes all data from the KV store.
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Reset()
}

// syncLocked pushes a write while c.mu is held.
func (c *Client) syncLocked() {
	if !c.config.AutoSync {
		return
	}
	if err := c.store.Sync(); err == nil {
		_ = writeStamp(c.config.StampPath, time.Now())
	}
}
