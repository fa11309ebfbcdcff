// ABOUTME: Scan CLI command
// ABOUTME: Runs a detection pass over the configured sources and records the session
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/harperreed/cosell/config"
	"github.com/harperreed/cosell/detect"
	"github.com/harperreed/cosell/models"
)

const dateLayout = "2006-01-02"

// parseWindow resolves --from/--to/--days. A date-only --to covers that whole day.
func parseWindow(from, to string, days int, now time.Time) (detect.Window, error) {
	end := now
	if to != "" {
		t, dateOnly, err := parseTime(to)
		if err != nil {
			return detect.Window{}, fmt.Errorf("invalid --to: %w", err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Second)
		}
		end = t
	}

	if days < 1 {
		days = 1
	}
	start := end.AddDate(0, 0, -days)
	if from != "" {
		t, _, err := parseTime(from)
		if err != nil {
			return detect.Window{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}

	if start.After(end) {
		return detect.Window{}, fmt.Errorf("--from %s is after --to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return detect.Window{From: start, To: end}, nil
}

// parseTime accepts YYYY-MM-DD (UTC midnight) or RFC3339.
func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("use YYYY-MM-DD or RFC3339: %q", s)
	}
	return t, false, nil
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// flagSet reports whether name was given on the command line.
func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// ScanCommand runs a co-sell detection scan.
func ScanCommand(database *sql.DB, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	from := fs.String("from", "", "Window start (YYYY-MM-DD or RFC3339)")
	to := fs.String("to", "", "Window end (default: now)")
	days := fs.Int("days", cfg.Scan.DefaultDays, "Scan the last N days when --from is not given")
	sources := fs.String("sources", cfg.Scan.Sources, "Comma-separated sources: email, chat, meeting")
	keywords := fs.String("keywords", "", "Comma-separated keywords (default: configured keywords)")
	incremental := fs.Bool("incremental", false, "Start each source at its last successful scan")
	name := fs.String("name", "", "Session name (default: Scan <date>)")
	dryRun := fs.Bool("dry-run", false, "Detect without recording or advancing scan history")
	provider := fs.String("source-provider", cfg.Scan.SourceProvider, "Communication source: graph or gmail")
	crmKind := fs.String("crm", cfg.Scan.CRM, "CRM for cross-validation: dynamics, fabric, or none")
	recorderKind := fs.String("recorder", cfg.Scan.Recorder, "Where sessions are recorded: sqlite or fabric")
	_ = fs.Parse(args)

	runCfg := *cfg
	runCfg.Scan.Sources = *sources
	if *provider == "gmail" && !flagSet(fs, "sources") {
		runCfg.Scan.Sources = string(models.SourceEmail) + "," + string(models.SourceMeeting)
	}
	runCfg.Scan.SourceProvider = *provider
	runCfg.Scan.CRM = *crmKind
	runCfg.Scan.Recorder = *recorderKind
	if err := runCfg.Validate(); err != nil {
		return err
	}

	window, err := parseWindow(*from, *to, *days, time.Now())
	if err != nil {
		return err
	}

	kw := cfg.Scan.Keywords
	if *keywords != "" {
		kw = splitList(*keywords)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, err := newPipeline(ctx, database, &runCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up scan: %w", err)
	}
	defer func() { _ = p.Close() }()

	if *incremental {
		refreshHistory(p.kv, time.Now(), logger)
	}

	req := detect.ScanRequest{
		DetectRequest: detect.DetectRequest{
			Window:      window,
			Sources:     runCfg.Sources(),
			Keywords:    kw,
			Incremental: *incremental,
			DryRun:      *dryRun,
		},
		Name: *name,
	}

	fmt.Printf("Scanning %s from %s to %s...\n", runCfg.Scan.Sources, window.From.Format(dateLayout), window.To.Format(dateLayout))
	if *dryRun {
		fmt.Println("  → Dry run: nothing will be recorded")
	}

	session, res, scanErr := p.detector.Scan(p.authorize(ctx), req, p.recorder)
	if session == nil {
		return fmt.Errorf("scan failed: %w", scanErr)
	}

	printScanResult(session, res, *dryRun)

	if scanErr != nil {
		return fmt.Errorf("scan %s: %w", session.Status, scanErr)
	}
	return nil
}

func printScanResult(session *models.ScanSession, res *detect.Result, dryRun bool) {
	for _, f := range res.SourceFailures {
		fmt.Printf("  ✗ %s\n", render(errStyle, f.Error()))
	}
	if res.Skipped > 0 {
		fmt.Printf("  → Skipped %d malformed records\n", res.Skipped)
	}
	if res.ExtractionFailures > 0 {
		fmt.Printf("  → %d extraction calls failed and were degraded\n", res.ExtractionFailures)
	}
	if res.Validation.Lookups > 0 || res.Validation.Failures > 0 {
		fmt.Printf("  → CRM lookups: %d (cached %d, failed %d)\n", res.Validation.Lookups, res.Validation.CacheHits, res.Validation.Failures)
	}

	mark := "✓"
	if session.Status != models.ScanCompleted {
		mark = "✗"
	}
	fmt.Printf("\n%s Scan %q %s\n", mark, session.Name, render(scanStatusStyle(session.Status), session.Status))
	if !dryRun {
		fmt.Printf("  ID: %s\n", session.ID)
	}
	fmt.Printf("  Scanned: %d  Detected: %d (high %d, medium %d, low %d)\n",
		session.TotalScanned, session.Detected, session.Counts.High, session.Counts.Medium, session.Counts.Low)

	if len(res.Opportunities) == 0 {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CONFIDENCE\tPARTNER\tCUSTOMER\tCRM\tSUBJECT\tID")
	_, _ = fmt.Fprintln(w, "----------\t-------\t--------\t---\t-------\t--")
	for _, opp := range res.Opportunities {
		_, _ = fmt.Fprintf(w, "%.2f %s\t%s\t%s\t%s\t%s\t%s\n",
			opp.Confidence,
			models.BucketFor(opp.Confidence),
			orDash(opp.PartnerName()),
			orDash(opp.CustomerName()),
			opp.CRMAction,
			truncate(opp.Communication.Subject, 40),
			opp.ID,
		)
	}
	_ = w.Flush()
}
