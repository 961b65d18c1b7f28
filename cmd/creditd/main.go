package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq"       // Postgres driver
	_ "modernc.org/sqlite"      // SQLite driver

	"github.com/tallylabs/creditcore/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "consume":
		return runConsume(stderr)
	case "append":
		return runAppend(args[2:], stdout, stderr)
	case "replay":
		return runReplay(args[2:], stdout, stderr)
	case "upcast":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: creditd upcast <analyze|run|validate>")
			return 2
		}
		return runUpcast(args[2], args[3:], stdout, stderr)
	case "snapshot":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: creditd snapshot <create|list|stats|cleanup|verify>")
			return 2
		}
		return runSnapshot(args[2], args[3:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `creditd - credit ledger event-sourcing core

Usage:
  creditd consume                      run the live event consumer
  creditd append --type T --payload J  journal one event and publish it
  creditd replay [--no-snapshot]       rebuild projections from the journal
  creditd upcast analyze               count events behind the latest schema
  creditd upcast run [--dry-run] [--with-snapshot]
                                       migrate stored events to the latest schema
  creditd upcast validate              check registered upcasters against samples
  creditd snapshot create              replay and persist a projection snapshot
  creditd snapshot list                list snapshots, newest first
  creditd snapshot stats               summarize the snapshot store
  creditd snapshot cleanup --days N --keep M
                                       delete old snapshots
  creditd snapshot verify [--snapshot-id ID]
                                       check snapshot state hashes`)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openDatabase picks the driver from the URL scheme: postgres:// URLs use
// lib/pq, anything else is treated as a SQLite path.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		return sql.Open("postgres", cfg.DatabaseURL)
	}
	return sql.Open("sqlite", cfg.DatabaseURL)
}
