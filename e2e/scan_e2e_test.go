package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/vaultsync/internal/scheduler"
	"github.com/quietloop/vaultsync/internal/testutil"
)

// The chunked full scan over a large remote brings every file down and
// leaves the scheduler idle; a smart sync requested mid-scan is absorbed
// without ever running two activities at once.
func TestFullScanOverLargeRemote(t *testing.T) {
	cloud := testutil.NewFakeCloud()
	const fileCount = 105
	for i := 0; i < fileCount; i++ {
		cloud.Seed(fmt.Sprintf("docs/file-%03d.txt", i), []byte(fmt.Sprintf("content %d\n", i)))
	}

	dev := newDevice(t, "device-a", cloud, deviceOptions{})
	sched := scheduler.New(scheduler.SyncFunc(func(ctx context.Context) error {
		if _, err := dev.pipe.SmartPull(ctx); err != nil {
			return err
		}
		_, err := dev.pipe.SmartPush(ctx, false)
		return err
	}), dev.pipe, nil, quietLogger())

	// Kick the scan off in the background and immediately request a smart
	// sync: whatever the interleaving, the scheduler must serialize them.
	scanDone := make(chan error, 1)
	go func() { scanDone <- sched.RunFullScan(context.Background()) }()
	require.NoError(t, sched.RequestSmartSync(context.Background()))
	require.NoError(t, <-scanDone)

	// A preempted scan parks as resumable; drive it to completion.
	for sched.State() == scheduler.Paused {
		require.NoError(t, sched.RunFullScan(context.Background()))
	}
	assert.Equal(t, scheduler.Idle, sched.State())

	for i := 0; i < fileCount; i++ {
		path := fmt.Sprintf("docs/file-%03d.txt", i)
		data, err := dev.fs.Read(path)
		require.NoError(t, err, "missing %s after full scan", path)
		assert.Equal(t, []byte(fmt.Sprintf("content %d\n", i)), data)
	}
	assert.Equal(t, fileCount, func() int {
		n := 0
		for _, p := range dev.idx.Paths() {
			if p != ".vaultsync/index.json" {
				n++
			}
		}
		return n
	}())
}

// A full scan repopulates the dirty set with local files whose change
// events were missed while the process was down, and the following smart
// sync pushes them.
func TestFullScanRecoversMissedLocalChanges(t *testing.T) {
	cloud := testutil.NewFakeCloud()
	dev := newDevice(t, "device-a", cloud, deviceOptions{})

	// Files written while no watcher was running: present on disk, never
	// marked dirty.
	require.NoError(t, dev.fs.Write("missed/one.txt", []byte("one\n"), time.Now()))
	require.NoError(t, dev.fs.Write("missed/two.txt", []byte("two\n"), time.Now()))

	sched := scheduler.New(scheduler.SyncFunc(func(ctx context.Context) error {
		if _, err := dev.pipe.SmartPull(ctx); err != nil {
			return err
		}
		_, err := dev.pipe.SmartPush(ctx, false)
		return err
	}), dev.pipe, nil, quietLogger())

	require.NoError(t, sched.RunFullScan(context.Background()))
	assert.Equal(t, 2, dev.dirty.Len())

	require.NoError(t, sched.RequestSmartSync(context.Background()))
	assert.Equal(t, []byte("one\n"), cloud.ContentOf("missed/one.txt"))
	assert.Equal(t, []byte("two\n"), cloud.ContentOf("missed/two.txt"))
	assert.Zero(t, dev.dirty.Len())
}
