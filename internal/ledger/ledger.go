// Package ledger provides crash-recoverable durability for the sync
// engine's in-flight execution state: the dirty-set (so a crash between
// marking a path dirty and syncing it doesn't silently drop the path),
// the full-scan chunk cursor (so a scan interrupted mid-run resumes
// instead of restarting), and merge-lease bookkeeping (so a crashed
// device's in-flight merge doesn't wedge a path forever).
//
// The ledger is derived state: everything in it can be rebuilt from the
// Index plus a fresh scan. It is not a second source of truth for
// IndexEntry fields, only for "what was the engine in the middle of
// doing."
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

// Ledger is the sole writer to its SQLite database; SetMaxOpenConns(1)
// enforces this at the connection-pool level.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at dbPath, runs
// pending migrations, and returns a ready-to-use Ledger. A nil logger
// defaults to slog.Default().
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// --- dirty-set durability ---

// MarkDirty durably records path as dirty, for replay if the process
// crashes before the in-memory dirtyset.Tracker's entry is synced.
func (l *Ledger) MarkDirty(ctx context.Context, path, reason string, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO dirty_paths (path, reason, marked_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET reason = excluded.reason, marked_at = excluded.marked_at`,
		path, reason, at.UnixNano())
	if err != nil {
		return fmt.Errorf("ledger: marking dirty %s: %w", path, err)
	}
	return nil
}

// ClearDirty removes path's durable dirty record once it has synced.
func (l *Ledger) ClearDirty(ctx context.Context, path string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM dirty_paths WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("ledger: clearing dirty %s: %w", path, err)
	}
	return nil
}

// DirtyPath is one durably-recorded dirty path, returned by LoadDirty for
// startup replay into the in-memory dirtyset.Tracker.
type DirtyPath struct {
	Path     string
	Reason   string
	MarkedAt time.Time
}

// LoadDirty returns every durably-recorded dirty path, oldest first.
func (l *Ledger) LoadDirty(ctx context.Context) ([]DirtyPath, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT path, reason, marked_at FROM dirty_paths ORDER BY marked_at`)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading dirty paths: %w", err)
	}
	defer rows.Close()

	var out []DirtyPath
	for rows.Next() {
		var d DirtyPath
		var markedAt int64
		if err := rows.Scan(&d.Path, &d.Reason, &markedAt); err != nil {
			return nil, fmt.Errorf("ledger: scanning dirty path: %w", err)
		}
		d.MarkedAt = time.Unix(0, markedAt)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating dirty paths: %w", err)
	}
	return out, nil
}

// --- full-scan chunk cursor ---

// ScanCursor is the resumable position of an in-progress full scan,
// chunked at the scheduler's cooperative-preemption boundary.
type ScanCursor struct {
	ChunkIndex int
	LastPath   string
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// StartScan resets the cursor to chunk zero, recording a fresh start
// time. Called when a full scan begins (not resumes).
func (l *Ledger) StartScan(ctx context.Context, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO fullscan_cursor (id, chunk_index, last_path, started_at, updated_at)
		 VALUES (1, 0, '', ?, ?)
		 ON CONFLICT(id) DO UPDATE SET chunk_index = 0, last_path = '', started_at = excluded.started_at, updated_at = excluded.updated_at`,
		at.UnixNano(), at.UnixNano())
	if err != nil {
		return fmt.Errorf("ledger: starting scan cursor: %w", err)
	}
	return nil
}

// AdvanceScan persists progress after completing a chunk, so a crash
// mid-scan resumes after lastPath rather than from the beginning.
func (l *Ledger) AdvanceScan(ctx context.Context, chunkIndex int, lastPath string, at time.Time) error {
	result, err := l.db.ExecContext(ctx,
		`UPDATE fullscan_cursor SET chunk_index = ?, last_path = ?, updated_at = ? WHERE id = 1`,
		chunkIndex, lastPath, at.UnixNano())
	if err != nil {
		return fmt.Errorf("ledger: advancing scan cursor: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: advancing scan cursor rows affected: %w", err)
	}
	if rows == 0 {
		return l.StartScan(ctx, at)
	}
	return nil
}

// LoadScan returns the current cursor, or ok=false if no scan has ever
// started (or the last one finished and was cleared via FinishScan).
func (l *Ledger) LoadScan(ctx context.Context) (ScanCursor, bool, error) {
	var (
		c                   ScanCursor
		startedAt, updatedAt int64
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT chunk_index, last_path, started_at, updated_at FROM fullscan_cursor WHERE id = 1`,
	).Scan(&c.ChunkIndex, &c.LastPath, &startedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ScanCursor{}, false, nil
	}
	if err != nil {
		return ScanCursor{}, false, fmt.Errorf("ledger: loading scan cursor: %w", err)
	}
	c.StartedAt = time.Unix(0, startedAt)
	c.UpdatedAt = time.Unix(0, updatedAt)
	return c, true, nil
}

// FinishScan clears the cursor on successful completion, so the next
// LoadScan reports no scan in progress.
func (l *Ledger) FinishScan(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM fullscan_cursor WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("ledger: finishing scan cursor: %w", err)
	}
	return nil
}

// --- merge-lease bookkeeping ---
//
// This is local durability for this device's own in-flight merges (so a
// crash mid-merge doesn't leave the path stuck believing a merge is
// underway after restart); it is distinct from conflict.Lease, which
// coordinates across devices via the shared remote communication file.

// RecordMergeStart durably marks that this device began merging path at
// leaseID, for crash-recovery cleanup via LoadMerges.
func (l *Ledger) RecordMergeStart(ctx context.Context, path, leaseID string, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO merge_leases (path, lease_id, started_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET lease_id = excluded.lease_id, started_at = excluded.started_at`,
		path, leaseID, at.UnixNano())
	if err != nil {
		return fmt.Errorf("ledger: recording merge start %s: %w", path, err)
	}
	return nil
}

// RecordMergeDone removes the durable merge-in-progress record.
func (l *Ledger) RecordMergeDone(ctx context.Context, path string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM merge_leases WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("ledger: recording merge done %s: %w", path, err)
	}
	return nil
}

// MergeRecord is one durably-recorded in-flight merge, returned by
// LoadMerges for startup recovery (release the remote lease, re-run
// reconciliation for the path).
type MergeRecord struct {
	Path      string
	LeaseID   string
	StartedAt time.Time
}

// LoadMerges returns every merge this device believes is still in
// flight, for startup crash recovery.
func (l *Ledger) LoadMerges(ctx context.Context) ([]MergeRecord, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT path, lease_id, started_at FROM merge_leases`)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading merge leases: %w", err)
	}
	defer rows.Close()

	var out []MergeRecord
	for rows.Next() {
		var m MergeRecord
		var startedAt int64
		if err := rows.Scan(&m.Path, &m.LeaseID, &startedAt); err != nil {
			return nil, fmt.Errorf("ledger: scanning merge lease: %w", err)
		}
		m.StartedAt = time.Unix(0, startedAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating merge leases: %w", err)
	}
	return out, nil
}
