// ABOUTME: Entry point for the cosell CLI, review TUI, and MCP server
// ABOUTME: Loads configuration, opens the opportunity store, and routes to commands
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/harperreed/cosell/charm"
	"github.com/harperreed/cosell/cli"
	"github.com/harperreed/cosell/config"
	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/sync"
	"github.com/harperreed/cosell/tui"
)

const version = "0.2.0"

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/cosell/cosell.db)")
	configPath := flag.String("config", "", "Config file (default: ~/.config/cosell/config.yaml)")

	// Parse global flags but don't fail on unknown (for subcommands)
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("cosell version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	command := args[0]
	commandArgs := args[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	switch command {
	// Commands that need no database
	case "auth":
		if err := cli.AuthCommand(cfg, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
		return
	case "history":
		history, err := openHistory(cfg)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		if err := cli.HistoryCommand(history, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
		return
	case "kv":
		if err := kvCommand(cfg, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
		return
	}

	database := openDatabase(getDatabasePath(*dbPath, cfg), logger)
	defer database.Close()

	switch command {
	case "scan":
		err = cli.ScanCommand(database, cfg, logger, commandArgs)
	case "list":
		err = cli.ListCommand(database, commandArgs)
	case "show":
		err = cli.ShowCommand(database, commandArgs)
	case "review":
		err = cli.ReviewCommand(database, commandArgs)
	case "export":
		err = cli.ExportCommand(database, commandArgs)
	case "sessions":
		err = cli.SessionsCommand(database, commandArgs)
	case "stats":
		err = cli.StatsCommand(database, commandArgs)
	case "tui":
		reviewer := cfg.Scan.User
		if reviewer == "" {
			reviewer = os.Getenv("USER")
		}
		p := tea.NewProgram(tui.NewModel(database, reviewer), tea.WithAltScreen())
		_, err = p.Run()
	case "mcp":
		err = cli.MCPCommand(database, cfg, logger, version)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		database.Close()
		log.Fatalf("Error: %v", err)
	}
}

func openDatabase(path string, logger *zap.Logger) *sql.DB {
	database, err := db.OpenDatabase(path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	logger.Debug("opened opportunity store", zap.String("path", path))
	return database
}

func openHistory(cfg *config.Config) (*sync.ScanHistory, error) {
	client, err := charm.GetClient(cfg.KVClientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open scan history store: %w", err)
	}
	return sync.NewScanHistory(client), nil
}

func kvCommand(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("kv requires a subcommand: status or sync")
	}

	switch args[0] {
	case "status", "sync":
	default:
		return fmt.Errorf("unknown kv command: %s", args[0])
	}

	client, err := charm.GetClient(cfg.KVClientConfig())
	if err != nil {
		return fmt.Errorf("failed to open KV store: %w", err)
	}
	if args[0] == "status" {
		return charm.StatusCommand(os.Stdout, client, args[1:])
	}
	return charm.SyncNowCommand(os.Stdout, client, args[1:])
}

func getDatabasePath(dbPath string, cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.DBPath()
}

func printUsage() {
	fmt.Printf(`cosell v%s - Partner co-sell opportunity detection

USAGE:
  cosell [global flags] <command> [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --db-path <path>       Database path (default: ~/.local/share/cosell/cosell.db)
  --config <path>        Config file (default: ~/.config/cosell/config.yaml)

COMMANDS:
  scan                   Scan communications for co-sell opportunities
  list                   List detected opportunities
  show <id>              Show one opportunity with its review history
  review <id>            Move an opportunity through the review workflow
  export                 Export opportunities to xlsx or CSV
  sessions               List recorded scan sessions
  stats                  Summarize stored opportunities
  history                Show per-source scan history
  auth <provider>        Sign in to microsoft, dynamics, or google
  tui                    Interactive review queue
  mcp                    Start MCP server for Claude Desktop
  kv status|sync         Show or sync the scan history store

SCAN:
  cosell scan
    --from <date>             Window start (YYYY-MM-DD or RFC3339)
    --to <date>               Window end (default: now)
    --days <n>                Scan the last N days (default: 7)
    --sources <list>          email, chat, meeting (default: all)
    --keywords <list>         Comma-separated keywords
    --incremental             Start each source at its last successful scan
    --name <name>             Session name
    --dry-run                 Detect without recording
    --source-provider <p>     graph or gmail
    --crm <crm>               dynamics, fabric, or none
    --recorder <r>            sqlite or fabric

REVIEW:
  cosell list
    --status <status>         new, review, confirmed, synced, rejected
    --action <action>         create, link, already_linked
    --partner <name>          Partner name contains
    --customer <name>         Customer name contains
    --scan <id>               Scan session ID
    --min-confidence <f>      Minimum confidence (0-1)
    --limit <n>               Max results (default: 50)

  cosell show <id> [--full]
  cosell review <id> --status <status> [--notes <text>] [--by <name>] [--crm-id <id>]

  cosell export
    --format <f>              xlsx or csv (default: xlsx)
    --output <file>           Output file (default: opportunities-<date>.xlsx, stdout for csv)
    --status <status>         Filter by status
    --min-confidence <f>      Minimum confidence (0-1)
    --limit <n>               Max rows (default: 1000)
    --by <name>               Recorded in the audit log (default: $USER)

HISTORY:
  cosell history [--clear]
  cosell sessions [--limit <n>]

EXAMPLES:
  # Sign in to Microsoft 365 and Dynamics
  cosell auth microsoft
  cosell auth dynamics

  # Scan the last two weeks of email and Teams chat
  cosell scan --days 14 --sources email,chat

  # Pick up where the last scan left off
  cosell scan --incremental

  # Confirm an opportunity
  cosell review 6f1c... --status confirmed --notes "Fabrikam migration"

  # Start MCP server for Claude Desktop
  cosell mcp

`, version)
}
