package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/vaultsync/internal/ledger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeScanner hands out one chunk per token fed into proceed, so tests
// control exactly where the scan is when a preemption arrives.
type fakeScanner struct {
	totalChunks int
	proceed     chan struct{}
	now         func() time.Time

	mu        sync.Mutex
	planned   bool
	startedAt time.Time
	planCalls int
	chunks    []int
}

func newFakeScanner(totalChunks int, now func() time.Time) *fakeScanner {
	return &fakeScanner{
		totalChunks: totalChunks,
		proceed:     make(chan struct{}, totalChunks*2),
		now:         now,
	}
}

func (s *fakeScanner) PlanScan(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planCalls++
	s.planned = true
	s.startedAt = s.now()
	return s.totalChunks * ChunkSize, nil
}

func (s *fakeScanner) ScanPlanned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planned
}

func (s *fakeScanner) ScanStartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *fakeScanner) DiscardScan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planned = false
}

func (s *fakeScanner) ScanChunk(ctx context.Context, chunkIndex, _ int) (string, bool, error) {
	select {
	case <-s.proceed:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, chunkIndex)
	s.mu.Unlock()
	return fmt.Sprintf("path-%04d", chunkIndex), chunkIndex+1 >= s.totalChunks, nil
}

func (s *fakeScanner) ranChunks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.chunks...)
}

func (s *fakeScanner) feed(n int) {
	for i := 0; i < n; i++ {
		s.proceed <- struct{}{}
	}
}

// fakeCursor records the persistence calls the scheduler makes.
type fakeCursor struct {
	mu       sync.Mutex
	started  int
	advanced []int
	finished int
}

func (c *fakeCursor) StartScan(context.Context, time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	return nil
}

func (c *fakeCursor) AdvanceScan(_ context.Context, chunkIndex int, _ string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanced = append(c.advanced, chunkIndex)
	return nil
}

func (c *fakeCursor) LoadScan(context.Context) (ledger.ScanCursor, bool, error) {
	return ledger.ScanCursor{}, false, nil
}

func (c *fakeCursor) FinishScan(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished++
	return nil
}

func TestSmartSyncRunsAndReturnsToIdle(t *testing.T) {
	var calls atomic.Int32
	s := New(SyncFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}), newFakeScanner(1, time.Now), nil, discardLogger())

	require.NoError(t, s.RequestSmartSync(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Idle, s.State())
}

func TestConcurrentSmartSyncRequestsFold(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	s := New(SyncFunc(func(context.Context) error {
		calls.Add(1)
		<-gate
		return nil
	}), newFakeScanner(1, time.Now), nil, discardLogger())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.RequestSmartSync(context.Background())
		}(i)
	}

	// Wait for the first request to start, then let it finish; the second
	// must fold into it rather than running the syncer again.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, SmartSyncing, s.State())
	close(gate)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, int32(1), calls.Load(), "joined requests must not re-run the sync")
}

func TestFullScanRunsToCompletion(t *testing.T) {
	scanner := newFakeScanner(3, time.Now)
	cursor := &fakeCursor{}
	s := New(SyncFunc(func(context.Context) error { return nil }), scanner, cursor, discardLogger())

	scanner.feed(3)
	require.NoError(t, s.RunFullScan(context.Background()))

	assert.Equal(t, []int{0, 1, 2}, scanner.ranChunks())
	assert.Equal(t, Idle, s.State())
	assert.False(t, scanner.ScanPlanned(), "completed scan discards its plan")
	assert.Equal(t, 1, cursor.started)
	assert.Equal(t, 1, cursor.finished)
	assert.Equal(t, []int{0, 1, 2}, cursor.advanced)
}

func TestSmartSyncPreemptsFullScanAndScanResumes(t *testing.T) {
	scanner := newFakeScanner(10, time.Now)
	syncRan := make(chan struct{})
	s := New(SyncFunc(func(context.Context) error {
		close(syncRan)
		return nil
	}), scanner, nil, discardLogger())

	scanDone := make(chan error, 1)
	go func() { scanDone <- s.RunFullScan(context.Background()) }()

	// Let three chunks through, then request a smart sync while the scan
	// is blocked inside chunk 3.
	scanner.feed(3)
	require.Eventually(t, func() bool { return len(scanner.ranChunks()) == 3 }, time.Second, time.Millisecond)

	syncDone := make(chan error, 1)
	go func() { syncDone <- s.RequestSmartSync(context.Background()) }()
	require.Eventually(t, func() bool { return s.interrupt.Load() }, time.Second, time.Millisecond)

	// One more chunk boundary is all the preemption may cost.
	scanner.feed(1)

	select {
	case err := <-scanDone:
		require.NoError(t, err, "preempted scan returns nil and stays resumable")
	case <-time.After(time.Second):
		t.Fatal("scan did not pause at the chunk boundary")
	}
	select {
	case err := <-syncDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("smart sync never ran after preemption")
	}
	<-syncRan
	assert.Equal(t, Idle, s.State())
	assert.Len(t, scanner.ranChunks(), 4)

	// Resume: the scan picks up at chunk 4 with the cached plan intact.
	scanner.feed(6)
	require.NoError(t, s.RunFullScan(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, scanner.ranChunks())
	assert.Equal(t, 1, func() int {
		scanner.mu.Lock()
		defer scanner.mu.Unlock()
		return scanner.planCalls
	}(), "a fresh-enough paused scan must not replan")
}

func TestStaleScanProgressDiscarded(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}

	scanner := newFakeScanner(5, now)
	s := New(SyncFunc(func(context.Context) error { return nil }), scanner, nil, discardLogger())
	s.nowFunc = now

	scanDone := make(chan error, 1)
	go func() { scanDone <- s.RunFullScan(context.Background()) }()
	scanner.feed(2)
	require.Eventually(t, func() bool { return len(scanner.ranChunks()) == 2 }, time.Second, time.Millisecond)

	syncDone := make(chan error, 1)
	go func() { syncDone <- s.RequestSmartSync(context.Background()) }()
	require.Eventually(t, func() bool { return s.interrupt.Load() }, time.Second, time.Millisecond)
	scanner.feed(1)
	require.NoError(t, <-scanDone)
	require.NoError(t, <-syncDone)

	// Push the clock past the staleness window; the resume must replan
	// and start over from chunk zero.
	clockMu.Lock()
	clock = clock.Add(ScanStaleAfter + time.Minute)
	clockMu.Unlock()

	scanner.feed(5)
	require.NoError(t, s.RunFullScan(context.Background()))

	chunks := scanner.ranChunks()
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 3, 4}, chunks)
	scanner.mu.Lock()
	assert.Equal(t, 2, scanner.planCalls)
	scanner.mu.Unlock()
}

func TestFullScanRefusedWhileSyncing(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	s := New(SyncFunc(func(context.Context) error {
		close(started)
		<-gate
		return nil
	}), newFakeScanner(1, time.Now), nil, discardLogger())

	go func() { _ = s.RequestSmartSync(context.Background()) }()
	<-started

	err := s.RunFullScan(context.Background())
	assert.ErrorIs(t, err, ErrNotIdle)
	close(gate)
}
