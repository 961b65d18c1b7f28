package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/tallylabs/creditcore/pkg/config"
	"github.com/tallylabs/creditcore/pkg/journal"
	"github.com/tallylabs/creditcore/pkg/projection"
	"github.com/tallylabs/creditcore/pkg/replay"
	"github.com/tallylabs/creditcore/pkg/snapshot"
	"github.com/tallylabs/creditcore/pkg/upcast"
)

func runReplay(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	noSnapshot := fs.Bool("no-snapshot", false, "ignore snapshots, fold the whole journal")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	db, err := openDatabase(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	j := journal.NewSQLJournal(db)
	if err := j.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "init journal: %v\n", err)
		return 1
	}
	snapStore := snapshot.NewSQLStore(db)
	if err := snapStore.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "init snapshot store: %v\n", err)
		return 1
	}

	snapshots := snapshot.NewManager(snapStore, logger)
	projections := projection.NewManager()
	engine := replay.NewEngine(j, snapshots, projections, upcast.DefaultRegistry(),
		replay.Options{UseSnapshots: !*noSnapshot, BatchSize: cfg.BatchSize}, logger)

	report, err := engine.ReplayAll(ctx)
	if report != nil {
		out, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	}
	if err != nil {
		var integrityErr *replay.IntegrityError
		if errors.As(err, &integrityErr) {
			_, _ = fmt.Fprintf(stderr, "INTEGRITY FAILURE (%d violations):\n", len(integrityErr.Violations))
			for i, v := range integrityErr.Violations {
				if i >= 20 {
					_, _ = fmt.Fprintf(stderr, "  ... %d more\n", len(integrityErr.Violations)-i)
					break
				}
				_, _ = fmt.Fprintf(stderr, "  %s\n", v)
			}
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "replay failed: %v\n", err)
		return 1
	}
	return 0
}
