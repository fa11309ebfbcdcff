// ABOUTME: CLI commands for the Charm KV store that carries scan history across devices
// ABOUTME: Status and manual sync; auth is SSH-key based, settings come from the kv config section

package charm

import (
	"flag"
	"fmt"
	"io"
	"time"
)

// StatusCommand shows KV server, auto-sync setting, and key count.
func StatusCommand(out io.Writer, c *Client, args []string) error {
	fs := flag.NewFlagSet("kv status", flag.ExitOnError)
	_ = fs.Parse(args)

	cfg := c.Config()
	_, _ = fmt.Fprintln(out, "Scan History Store")
	_, _ = fmt.Fprintln(out, "──────────────────")
	_, _ = fmt.Fprintf(out, "Server:    %s\n", cfg.Host)
	_, _ = fmt.Fprintf(out, "Auto-sync: %v\n", cfg.AutoSync)
	if cfg.StaleThreshold > 0 {
		_, _ = fmt.Fprintf(out, "Stale:     after %s\n", cfg.StaleThreshold)
	}
	if last, ok := c.LastSync(); ok {
		_, _ = fmt.Fprintf(out, "Synced:    %s\n", last.Local().Format(time.DateTime))
	} else {
		_, _ = fmt.Fprintln(out, "Synced:    never")
	}

	if id, err := c.ID(); err != nil {
		_, _ = fmt.Fprintln(out, "Status:    not connected")
	} else {
		_, _ = fmt.Fprintf(out, "ID:        %s\n", id)
	}

	keys, err := c.Keys()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Keys:      %d\n", len(keys))

	return nil
}

// SyncNowCommand performs an immediate sync.
func SyncNowCommand(out io.Writer, c *Client, args []string) error {
	fs := flag.NewFlagSet("kv sync", flag.ExitOnError)
	_ = fs.Parse(args)

	if err := c.Sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	_, _ = fmt.Fprintln(out, "✓ Synced")
	return nil
}
