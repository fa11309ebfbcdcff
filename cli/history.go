// ABOUTME: Scan history, session, and stats CLI commands
// ABOUTME: Reports when each source was last scanned and what past scans found
package cli

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/models"
	"github.com/harperreed/cosell/sync"
)

// HistoryCommand shows or clears the per-source scan history.
func HistoryCommand(history *sync.ScanHistory, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	clearAll := fs.Bool("clear", false, "Clear all scan history")
	_ = fs.Parse(args)

	if *clearAll {
		if err := history.Clear(); err != nil {
			return fmt.Errorf("failed to clear scan history: %w", err)
		}
		fmt.Println("✓ Scan history cleared")
		return nil
	}

	snap, err := history.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read scan history: %w", err)
	}

	now := time.Now()
	fmt.Println(render(headerStyle, "Scan History"))
	for _, source := range models.AllSources {
		t, ok := snap.BySource[source]
		if !ok {
			fmt.Printf("  %-8s %s\n", source, render(dimStyle, "never"))
			continue
		}
		fmt.Printf("  %-8s %s (%s)\n", source, t.Local().Format("2006-01-02 15:04"), formatTimeSince(t, now))
	}
	if snap.LastFull != nil {
		fmt.Printf("\n  Last full scan: %s (%s)\n", snap.LastFull.Local().Format("2006-01-02 15:04"), formatTimeSince(*snap.LastFull, now))
	}
	return nil
}

// formatTimeSince renders how long before now t was.
func formatTimeSince(t, now time.Time) string {
	duration := now.Sub(t)

	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	} else if duration < 24*time.Hour {
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}

// SessionsCommand lists recorded scan sessions.
func SessionsCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum sessions")
	_ = fs.Parse(args)

	sessions, err := db.ListScanSessions(database, *limit)
	if err != nil {
		return fmt.Errorf("failed to list scan sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No scans recorded yet. Run 'cosell scan' to start one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tNAME\tTYPE\tSTATUS\tWINDOW\tSCANNED\tDETECTED\tH/M/L\tID")
	_, _ = fmt.Fprintln(w, "-------\t----\t----\t------\t------\t-------\t--------\t-----\t--")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s..%s\t%d\t%d\t%d/%d/%d\t%s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			truncate(s.Name, 30),
			s.Type,
			s.Status,
			s.DateFrom.Format(dateLayout),
			s.DateTo.Format(dateLayout),
			s.TotalScanned,
			s.Detected,
			s.Counts.High, s.Counts.Medium, s.Counts.Low,
			s.ID,
		)
	}
	_ = w.Flush()

	for _, s := range sessions {
		if s.ErrorMessage != "" {
			fmt.Printf("\n  ✗ %s: %s", s.ID, s.ErrorMessage)
		}
	}
	fmt.Println()
	return nil
}

// StatsCommand summarizes stored opportunities.
func StatsCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	_ = fs.Parse(args)

	stats, err := db.OpportunityStats(database)
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}

	fmt.Println(render(headerStyle, "Opportunities"))
	fmt.Printf("  Total:      %d\n", stats.Total)
	fmt.Printf("  Confidence: high %d, medium %d, low %d (avg %.2f)\n",
		stats.Counts.High, stats.Counts.Medium, stats.Counts.Low, stats.AverageConfidence)

	fmt.Println("\n  By status:")
	for _, status := range []string{models.StatusNew, models.StatusReview, models.StatusConfirmed, models.StatusSynced, models.StatusRejected} {
		fmt.Printf("    %-10s %d\n", status, stats.ByStatus[status])
	}

	fmt.Println("\n  By CRM action:")
	actions := make([]string, 0, len(stats.ByAction))
	for action := range stats.ByAction {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		fmt.Printf("    %-15s %d\n", action, stats.ByAction[action])
	}
	return nil
}
