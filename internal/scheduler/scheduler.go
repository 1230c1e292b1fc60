// Package scheduler coordinates the fast smart-sync path with the
// resumable background full scan: states {Idle,
// SmartSyncing, FullScanning, Paused}, preemption of an in-flight scan
// by a smart-sync request at the next chunk boundary, idempotent join
// of concurrent smart-sync requests, and discard of scan progress past
// the staleness window.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quietloop/vaultsync/internal/ledger"
)

// State is the scheduler's current activity.
type State int32

const (
	Idle State = iota
	SmartSyncing
	FullScanning
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SmartSyncing:
		return "smart-syncing"
	case FullScanning:
		return "full-scanning"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// ChunkSize is the cooperative preemption granularity: the scan checks
// the interrupt flag every ChunkSize files.
const ChunkSize = 10

// ScanStaleAfter bounds how old a paused scan's cached listings may be
// before a resume must discard them and start fresh.
const ScanStaleAfter = 5 * time.Minute

// ErrNotIdle is returned by RunFullScan when a sync or another scan is
// already active.
var ErrNotIdle = errors.New("scheduler: a sync or scan is already running")

// Syncer runs one smart-sync cycle (pull then push).
type Syncer interface {
	SmartSync(ctx context.Context) error
}

// SyncFunc adapts a plain function to the Syncer interface.
type SyncFunc func(ctx context.Context) error

func (f SyncFunc) SmartSync(ctx context.Context) error { return f(ctx) }

// Scanner is the chunked full-scan capability, satisfied by
// *pipeline.Pipeline.
type Scanner interface {
	PlanScan(ctx context.Context) (int, error)
	ScanPlanned() bool
	ScanStartedAt() time.Time
	DiscardScan()
	ScanChunk(ctx context.Context, chunkIndex, chunkSize int) (lastPath string, done bool, err error)
}

// CursorStore persists scan progress across process restarts, satisfied
// by *ledger.Ledger. May be nil: progress then lives only in memory.
type CursorStore interface {
	StartScan(ctx context.Context, at time.Time) error
	AdvanceScan(ctx context.Context, chunkIndex int, lastPath string, at time.Time) error
	LoadScan(ctx context.Context) (ledger.ScanCursor, bool, error)
	FinishScan(ctx context.Context) error
}

// join is the handle concurrent smart-sync requests fold into: whoever
// registered it runs the sync, everyone else waits on done.
type join struct {
	done chan struct{}
	err  error
}

// Scheduler serializes the engine's two activities. All mutations of the
// state variable happen under mu; the interrupt flag is the only state
// the scan loop reads without it.
type Scheduler struct {
	syncer  Syncer
	scanner Scanner
	cursor  CursorStore
	logger  *slog.Logger
	nowFunc func() time.Time

	interrupt atomic.Bool

	mu         sync.Mutex
	state      State
	inflight   *join
	scanPaused chan struct{}
	nextChunk  int
}

// New constructs a Scheduler. cursor may be nil; a nil logger defaults
// to slog.Default().
func New(syncer Syncer, scanner Scanner, cursor CursorStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		syncer:  syncer,
		scanner: scanner,
		cursor:  cursor,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestSmartSync runs one smart-sync cycle, preempting an in-flight
// full scan first. Concurrent requests fold into the in-flight one and
// return its result (idempotent join); the fold happens before any
// waiting, so a requester arriving after the scan paused but before the
// first request promoted still joins rather than running in parallel.
func (s *Scheduler) RequestSmartSync(ctx context.Context) error {
	s.mu.Lock()
	if j := s.inflight; j != nil {
		s.mu.Unlock()
		select {
		case <-j.done:
			return j.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	j := &join{done: make(chan struct{})}
	s.inflight = j

	var pausedCh chan struct{}
	if s.state == FullScanning {
		if s.scanPaused == nil {
			s.scanPaused = make(chan struct{})
		}
		pausedCh = s.scanPaused
		s.interrupt.Store(true)
	}
	s.mu.Unlock()

	if pausedCh != nil {
		select {
		case <-pausedCh:
		case <-ctx.Done():
			s.mu.Lock()
			s.inflight = nil
			s.mu.Unlock()
			j.err = ctx.Err()
			close(j.done)
			return ctx.Err()
		}
	}

	s.setState(SmartSyncing)
	s.logger.Debug("scheduler: smart sync starting")
	err := s.syncer.SmartSync(ctx)

	s.mu.Lock()
	s.state = Idle
	s.inflight = nil
	s.mu.Unlock()

	j.err = err
	close(j.done)
	return err
}

// RunFullScan runs (or resumes) the chunked full scan to completion,
// yielding at the next chunk boundary if a smart-sync request sets the
// interrupt flag. A preempted scan returns nil with state Paused and its
// progress retained; call RunFullScan again to resume. Progress older
// than ScanStaleAfter is discarded and the scan restarts from a fresh
// listing.
func (s *Scheduler) RunFullScan(ctx context.Context) error {
	s.mu.Lock()
	if (s.state != Idle && s.state != Paused) || s.inflight != nil {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.state = FullScanning
	s.mu.Unlock()
	s.interrupt.Store(false)

	chunk, total, err := s.resumePoint(ctx)
	if err != nil {
		s.setState(Idle)
		return err
	}
	s.logger.Info("scheduler: full scan running", "total_files", total, "from_chunk", chunk)

	for {
		if s.interrupt.Load() || ctx.Err() != nil {
			s.pauseScan(chunk)
			return ctx.Err()
		}

		lastPath, done, err := s.scanner.ScanChunk(ctx, chunk, ChunkSize)
		if err != nil {
			s.setState(Idle)
			return err
		}
		if s.cursor != nil {
			if aerr := s.cursor.AdvanceScan(ctx, chunk, lastPath, s.nowFunc()); aerr != nil {
				s.logger.Warn("scheduler: persisting scan cursor failed", "error", aerr)
			}
		}
		chunk++
		s.mu.Lock()
		s.nextChunk = chunk
		s.mu.Unlock()

		if done {
			break
		}
	}

	if s.cursor != nil {
		if ferr := s.cursor.FinishScan(ctx); ferr != nil {
			s.logger.Warn("scheduler: clearing scan cursor failed", "error", ferr)
		}
	}
	s.scanner.DiscardScan()
	s.mu.Lock()
	s.nextChunk = 0
	s.state = Idle
	s.mu.Unlock()
	s.logger.Info("scheduler: full scan complete")
	return nil
}

// resumePoint decides whether the scan picks up where a paused run left
// off or starts over: the cached plan must still exist and be within the
// staleness window, otherwise it is discarded and rebuilt.
func (s *Scheduler) resumePoint(ctx context.Context) (chunk, total int, err error) {
	now := s.nowFunc()

	s.mu.Lock()
	next := s.nextChunk
	s.mu.Unlock()

	if next > 0 && s.scanner.ScanPlanned() && now.Sub(s.scanner.ScanStartedAt()) <= ScanStaleAfter {
		return next, 0, nil
	}

	s.scanner.DiscardScan()
	total, err = s.scanner.PlanScan(ctx)
	if err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	s.nextChunk = 0
	s.mu.Unlock()

	if s.cursor != nil {
		if serr := s.cursor.StartScan(ctx, now); serr != nil {
			s.logger.Warn("scheduler: persisting scan start failed", "error", serr)
		}
	}
	return 0, total, nil
}

// pauseScan parks the scan at a chunk boundary and wakes whoever
// requested the preemption.
func (s *Scheduler) pauseScan(nextChunk int) {
	s.mu.Lock()
	s.state = Paused
	s.nextChunk = nextChunk
	if s.scanPaused != nil {
		close(s.scanPaused)
		s.scanPaused = nil
	}
	s.mu.Unlock()
	s.logger.Info("scheduler: full scan paused", "next_chunk", nextChunk)
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
