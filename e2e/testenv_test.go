// Package e2e drives the assembled engine (pipeline, reconciler,
// conflict resolver, merge engine, scheduler, vault) against the
// in-memory fakes, acting out multi-device sessions: several devices,
// each with its own filesystem and index, sharing one remote backend.
package e2e

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quietloop/vaultsync/internal/config"
	"github.com/quietloop/vaultsync/internal/conflict"
	"github.com/quietloop/vaultsync/internal/dirtyset"
	"github.com/quietloop/vaultsync/internal/index"
	"github.com/quietloop/vaultsync/internal/pipeline"
	"github.com/quietloop/vaultsync/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// device is one simulated vaultsync installation: its own disk, index,
// and dirty tracker against the shared remote.
type device struct {
	name  string
	fs    *testutil.MemFS
	idx   *index.Store
	dirty *dirtyset.Tracker
	pipe  *pipeline.Pipeline
}

type deviceOptions struct {
	strategy config.ConflictStrategy
	cipher   pipeline.Cipher
	comm     *testutil.MemComm
}

func newDevice(t *testing.T, name string, cloud *testutil.FakeCloud, opts deviceOptions) *device {
	t.Helper()
	logger := quietLogger()

	if opts.strategy == "" {
		opts.strategy = config.StrategySmartMerge
	}

	fs := testutil.NewMemFS()
	idx := index.New(filepath.Join(t.TempDir(), name+"-index.json.gz"), logger)
	dirty := dirtyset.New(idx, nil, logger)
	resolver := conflict.New(cloud, config.ConflictConfig{
		Strategy:      opts.strategy,
		MergeMaxBytes: 2 << 20,
	}, 32, logger)

	pipe := pipeline.New(cloud, fs, idx, dirty, resolver, opts.cipher, pipeline.Options{
		Concurrency: 2,
		DeviceID:    name,
	}, logger)
	if opts.comm != nil {
		pipe.SetLeaseFile(opts.comm)
	}

	return &device{name: name, fs: fs, idx: idx, dirty: dirty, pipe: pipe}
}

// edit writes content locally and marks the path dirty, as a filesystem
// event would.
func (d *device) edit(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, d.fs.Write(path, content, time.Now()))
	d.dirty.MarkDirty(path)
}

// sync runs one full smart-sync cycle: pull, then push.
func (d *device) sync(t *testing.T) (pipeline.PullResult, pipeline.PushResult) {
	t.Helper()
	pullRes, err := d.pipe.SmartPull(context.Background())
	require.NoError(t, err, "%s: pull", d.name)
	pushRes, err := d.pipe.SmartPush(context.Background(), false)
	require.NoError(t, err, "%s: push", d.name)
	return pullRes, pushRes
}

// read returns the local content at path.
func (d *device) read(t *testing.T, path string) []byte {
	t.Helper()
	data, err := d.fs.Read(path)
	require.NoError(t, err, "%s: read %s", d.name, path)
	return data
}

// entry returns the index entry for path, failing if absent.
func (d *device) entry(t *testing.T, path string) index.Entry {
	t.Helper()
	e, ok := d.idx.Get(path)
	require.True(t, ok, "%s: no index entry for %s", d.name, path)
	return e
}
