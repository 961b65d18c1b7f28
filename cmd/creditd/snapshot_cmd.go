package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/tallylabs/creditcore/pkg/config"
	"github.com/tallylabs/creditcore/pkg/journal"
	"github.com/tallylabs/creditcore/pkg/projection"
	"github.com/tallylabs/creditcore/pkg/replay"
	"github.com/tallylabs/creditcore/pkg/snapshot"
	"github.com/tallylabs/creditcore/pkg/upcast"
)

func runSnapshot(sub string, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	ctx := context.Background()

	switch sub {
	case "create":
		return createSnapshot(ctx, cfg, stdout, stderr)
	case "list":
		return listSnapshots(ctx, cfg, stdout, stderr)
	case "stats":
		return snapshotStats(ctx, cfg, stdout, stderr)
	case "cleanup":
		return cleanupSnapshots(ctx, cfg, args, stdout, stderr)
	case "verify":
		return verifySnapshots(ctx, cfg, args, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown snapshot subcommand: %s\n", sub)
		return 2
	}
}

// createSnapshot replays the full journal into a fresh projection set and
// persists the resulting state at the journal's last sequence.
func createSnapshot(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) int {
	logger := newLogger(cfg.LogLevel)

	db, snapshots, code := openSnapshotManager(cfg, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = db.Close() }()

	j := journal.NewSQLJournal(db)
	if err := j.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "init journal: %v\n", err)
		return 1
	}

	projections := projection.NewManager()
	engine := replay.NewEngine(j, nil, projections, upcast.DefaultRegistry(),
		replay.Options{BatchSize: cfg.BatchSize}, logger)

	report, err := engine.ReplayAll(ctx)
	if err != nil {
		var ierr *replay.IntegrityError
		if errors.As(err, &ierr) {
			_, _ = fmt.Fprintf(stderr, "refusing to snapshot inconsistent state: %v\n", ierr)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "replay failed: %v\n", err)
		return 1
	}
	if report.Failures > 0 {
		_, _ = fmt.Fprintf(stderr, "refusing to snapshot: %d events failed to fold\n", report.Failures)
		return 1
	}

	seq, err := j.LastSequence(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read last sequence: %v\n", err)
		return 1
	}

	snap, err := snapshots.Create(ctx, projections, seq, report.TotalEvents)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "create snapshot: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "snapshot %s created at sequence %d (%d events)\n",
		snap.ID, snap.Sequence, snap.EventCount)
	return 0
}

func listSnapshots(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) int {
	db, snapshots, code := openSnapshotManager(cfg, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = db.Close() }()

	snaps, err := snapshots.List(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "list snapshots: %v\n", err)
		return 1
	}
	if len(snaps) == 0 {
		_, _ = fmt.Fprintln(stdout, "no snapshots")
		return 0
	}
	for _, s := range snaps {
		_, _ = fmt.Fprintf(stdout, "%s  seq=%d  events=%d  created=%s  %d bytes\n",
			s.ID, s.Sequence, s.EventCount, s.CreatedAt.Format(time.RFC3339), len(s.State))
	}
	return 0
}

func snapshotStats(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) int {
	db, snapshots, code := openSnapshotManager(cfg, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = db.Close() }()

	stats, err := snapshots.Stats(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "snapshot stats: %v\n", err)
		return 1
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}

func cleanupSnapshots(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("snapshot cleanup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	days := fs.Int("days", 30, "delete snapshots older than this many days")
	keep := fs.Int("keep", 3, "always keep this many newest snapshots")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *days < 0 || *keep < 1 {
		_, _ = fmt.Fprintln(stderr, "cleanup requires --days >= 0 and --keep >= 1")
		return 2
	}

	db, snapshots, code := openSnapshotManager(cfg, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = db.Close() }()

	deleted, err := snapshots.Cleanup(ctx, time.Duration(*days)*24*time.Hour, *keep)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "cleanup failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "deleted %d snapshots\n", deleted)
	return 0
}

func verifySnapshots(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("snapshot verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("snapshot-id", "", "verify a single snapshot instead of all")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, snapshots, code := openSnapshotManager(cfg, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = db.Close() }()

	snaps, err := snapshots.List(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "list snapshots: %v\n", err)
		return 1
	}

	checked, failed := 0, 0
	for _, s := range snaps {
		if *id != "" && s.ID != *id {
			continue
		}
		checked++
		if err := snapshots.Verify(s); err != nil {
			failed++
			_, _ = fmt.Fprintf(stderr, "snapshot %s: %v\n", s.ID, err)
			continue
		}
		_, _ = fmt.Fprintf(stdout, "snapshot %s: ok\n", s.ID)
	}
	if *id != "" && checked == 0 {
		_, _ = fmt.Fprintf(stderr, "snapshot %s not found\n", *id)
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func openSnapshotManager(cfg *config.Config, stderr io.Writer) (*sql.DB, *snapshot.Manager, int) {
	logger := newLogger(cfg.LogLevel)
	db, err := openDatabase(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open database: %v\n", err)
		return nil, nil, 1
	}
	store := snapshot.NewSQLStore(db)
	if err := store.Init(context.Background()); err != nil {
		_ = db.Close()
		_, _ = fmt.Fprintf(stderr, "init snapshot store: %v\n", err)
		return nil, nil, 1
	}
	return db, snapshot.NewManager(store, logger), 0
}
