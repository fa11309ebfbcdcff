// ABOUTME: Per-source scan history for incremental scans, stored in a key-value store
// ABOUTME: Each source lives under its own key so concurrent scans never clobber each other
package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/harperreed/cosell/models"
)

const (
	historyPrefix     = "scan-history/"
	sourceKeyPrefix   = historyPrefix + "source/"
	fullScanKey       = historyPrefix + "full"
	historyTimeFormat = time.RFC3339Nano
)

// KV is the key-value persistence the scan history is stored in.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	KeysWithPrefix(prefix []byte) ([][]byte, error)
}

// ScanHistory tracks when each source was last scanned successfully.
type ScanHistory struct {
	kv KV
}

// History is a point-in-time view of all scan history entries.
type History struct {
	BySource map[models.SourceType]time.Time `json:"by_source"`
	LastFull *time.Time                      `json:"last_full,omitempty"`
}

// NewScanHistory creates a tracker backed by kv.
func NewScanHistory(kv KV) *ScanHistory {
	return &ScanHistory{kv: kv}
}

func sourceKey(source models.SourceType) []byte {
	return []byte(sourceKeyPrefix + string(source))
}

// LastScanDate returns the last successful scan of source, or nil if it was never scanned.
func (h *ScanHistory) LastScanDate(source models.SourceType) (*time.Time, error) {
	return h.readTime(sourceKey(source))
}

// UpdateScanDate records t as the last successful scan of source.
func (h *ScanHistory) UpdateScanDate(source models.SourceType, t time.Time) error {
	if err := h.kv.Set(sourceKey(source), []byte(t.UTC().Format(historyTimeFormat))); err != nil {
		return fmt.Errorf("failed to update scan date for %s: %w", source, err)
	}
	return nil
}

// LastFullScanDate returns the last completed scan across all sources.
func (h *ScanHistory) LastFullScanDate() (*time.Time, error) {
	return h.readTime([]byte(fullScanKey))
}

// UpdateFullScanDate records t as the last completed scan.
func (h *ScanHistory) UpdateFullScanDate(t time.Time) error {
	if err := h.kv.Set([]byte(fullScanKey), []byte(t.UTC().Format(historyTimeFormat))); err != nil {
		return fmt.Errorf("failed to update full scan date: %w", err)
	}
	return nil
}

// Clear removes every scan history entry.
func (h *ScanHistory) Clear() error {
	keys, err := h.kv.KeysWithPrefix([]byte(historyPrefix))
	if err != nil {
		return fmt.Errorf("failed to list scan history keys: %w", err)
	}
	for _, key := range keys {
		if err := h.kv.Delete(key); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// Snapshot reads every entry.
func (h *ScanHistory) Snapshot() (*History, error) {
	history := &History{BySource: make(map[models.SourceType]time.Time)}
	for _, source := range models.AllSources {
		t, err := h.LastScanDate(source)
		if err != nil {
			return nil, err
		}
		if t != nil {
			history.BySource[source] = *t
		}
	}

	full, err := h.LastFullScanDate()
	if err != nil {
		return nil, err
	}
	history.LastFull = full

	return history, nil
}

func (h *ScanHistory) readTime(key []byte) (*time.Time, error) {
	data, err := h.kv.Get(key)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	t, err := time.Parse(historyTimeFormat, string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return &t, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}
