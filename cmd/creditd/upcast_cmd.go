package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/tallylabs/creditcore/pkg/config"
	"github.com/tallylabs/creditcore/pkg/journal"
	"github.com/tallylabs/creditcore/pkg/upcast"
)

func runUpcast(sub string, args []string, stdout, stderr io.Writer) int {
	switch sub {
	case "analyze":
		return runUpcastAnalyze(stdout, stderr)
	case "run":
		return runUpcastRun(args, stdout, stderr)
	case "validate":
		return runUpcastValidate(stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown upcast subcommand: %s\n", sub)
		return 2
	}
}

func runUpcastAnalyze(stdout, stderr io.Writer) int {
	cfg := config.Load()
	ctx := context.Background()

	j, cleanup, code := openJournal(cfg, stderr)
	if code != 0 {
		return code
	}
	defer cleanup()

	report, err := upcast.DefaultRegistry().Analyze(ctx, j, cfg.BatchSize)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "analyze failed: %v\n", err)
		return 1
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}

func runUpcastRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("upcast run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dryRun := fs.Bool("dry-run", false, "run transforms without writing")
	withSnapshot := fs.Bool("with-snapshot", false, "create a safety snapshot before migrating")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	ctx := context.Background()

	j, cleanup, code := openJournal(cfg, stderr)
	if code != 0 {
		return code
	}
	defer cleanup()

	rw, ok := j.(upcast.Rewriter)
	if !ok {
		_, _ = fmt.Fprintln(stderr, "journal backend does not support in-place migration")
		return 1
	}

	if *withSnapshot && !*dryRun {
		if code := createSnapshot(ctx, cfg, stdout, stderr); code != 0 {
			_, _ = fmt.Fprintln(stderr, "safety snapshot failed, aborting migration")
			return code
		}
	}

	report, err := upcast.DefaultRegistry().Migrate(ctx, j, rw, cfg.BatchSize, *dryRun)
	if report != nil {
		out, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migration failed: %v\n", err)
		return 1
	}
	if len(report.Failures) > 0 {
		_, _ = fmt.Fprintf(stderr, "%d events failed to migrate\n", len(report.Failures))
		return 1
	}
	return 0
}

func runUpcastValidate(stdout, stderr io.Writer) int {
	errs := upcast.DefaultRegistry().ValidateAll(upcast.SamplePayloads())
	if len(errs) > 0 {
		for _, err := range errs {
			_, _ = fmt.Fprintf(stderr, "invalid upcaster: %v\n", err)
		}
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "all upcasters valid")
	return 0
}

// openJournal opens the SQL journal from config. The returned cleanup
// closes the database.
func openJournal(cfg *config.Config, stderr io.Writer) (journal.Journal, func(), int) {
	db, err := openDatabase(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open database: %v\n", err)
		return nil, nil, 1
	}
	j := journal.NewSQLJournal(db)
	if err := j.Init(context.Background()); err != nil {
		_ = db.Close()
		_, _ = fmt.Fprintf(stderr, "init journal: %v\n", err)
		return nil, nil, 1
	}
	return j, func() { _ = db.Close() }, 0
}
