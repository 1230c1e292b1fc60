package main

import (
	"context"
	"encoding/json"
	"errors"
	iofs "io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietloop/vaultsync/internal/dirtyset"
	"github.com/quietloop/vaultsync/internal/scheduler"
)

func newSyncCmd() *cobra.Command {
	var flagWatch, flagFullScan, flagScanVault bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local vault with the remote",
		Long: `Run one sync cycle between the local vault root and the remote.

With --watch, keep running: filesystem events trigger smart syncs, and a
background full scan periodically recovers anything events missed. With
--full-scan, run the chunked full scan before the sync cycle. With
--scan-vault, walk the whole local tree during the push to pick up
changes made while vaultsync was not running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			return runSync(cmd.Context(), cc, flagWatch, flagFullScan, flagScanVault)
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "continuous sync driven by filesystem events")
	cmd.Flags().BoolVar(&flagFullScan, "full-scan", false, "run a full local/remote scan before syncing")
	cmd.Flags().BoolVar(&flagScanVault, "scan-vault", false, "walk the full local tree during the push")

	return cmd
}

func runSync(ctx context.Context, cc *CLIContext, watch, fullScan, scanVault bool) error {
	eng, err := buildEngine(ctx, cc, scanVault)
	if err != nil {
		return err
	}
	defer eng.Close()

	if fullScan {
		if err := eng.sched.RunFullScan(ctx); err != nil {
			return err
		}
	}

	if !watch {
		started := time.Now()
		if err := eng.sched.RequestSmartSync(ctx); err != nil {
			return err
		}
		printSyncSummary(eng, time.Since(started))
		return nil
	}

	return runWatch(ctx, cc, eng)
}

// runWatch is the continuous mode: an fsnotify watcher feeds the dirty
// tracker, a debounce timer turns accumulated events into smart syncs,
// and a slower ticker runs the preemptible background full scan.
func runWatch(ctx context.Context, cc *CLIContext, eng *engine) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := dirtyset.NewOSWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(cc.Cfg.Root); err != nil {
		return err
	}
	// fsnotify is non-recursive: watch every existing subdirectory too.
	// Directories created later are picked up by the periodic full scan.
	_ = filepath.WalkDir(cc.Cfg.Root, func(p string, d iofs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = watcher.Add(p)
		}
		return nil
	})
	go dirtyset.Feed(ctx, watcher, eng.dirty, cc.Cfg.Root, cc.Logger)

	// Catch up before settling into event-driven mode.
	if err := eng.sched.RequestSmartSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cc.Logger.Error("initial sync failed", "error", err)
	}

	debounce := cc.Cfg.Sync.DebounceWindow
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	scanInterval := cc.Cfg.Sync.FullScanInterval
	if scanInterval <= 0 {
		scanInterval = 15 * time.Minute
	}

	syncTicker := time.NewTicker(debounce)
	defer syncTicker.Stop()
	scanTicker := time.NewTicker(scanInterval)
	defer scanTicker.Stop()

	statusf("Watching %s (Ctrl-C to stop)\n", cc.Cfg.Root)
	for {
		select {
		case <-ctx.Done():
			statusf("Stopping.\n")
			return nil

		case <-syncTicker.C:
			if eng.dirty.Len() == 0 {
				continue
			}
			if err := eng.sched.RequestSmartSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
				cc.Logger.Error("smart sync failed", "error", err)
			}

		case <-scanTicker.C:
			go func() {
				err := eng.sched.RunFullScan(ctx)
				if err != nil && !errors.Is(err, scheduler.ErrNotIdle) && !errors.Is(err, context.Canceled) {
					cc.Logger.Error("full scan failed", "error", err)
				}
			}()
		}
	}
}

// syncJSONOutput is the JSON schema for the one-shot sync summary.
type syncJSONOutput struct {
	DurationMs int64 `json:"duration_ms"`
	Tracked    int   `json:"tracked_paths"`
	Dirty      int   `json:"dirty_remaining"`
}

func printSyncSummary(eng *engine, elapsed time.Duration) {
	if flagJSON {
		out := syncJSONOutput{
			DurationMs: elapsed.Milliseconds(),
			Tracked:    eng.idx.Len(),
			Dirty:      eng.dirty.Len(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	if eng.dirty.Len() == 0 {
		statusf("Sync complete (%dms, %d paths tracked).\n", elapsed.Milliseconds(), eng.idx.Len())
		return
	}
	statusf("Sync complete (%dms); %d paths left dirty for retry.\n", elapsed.Milliseconds(), eng.dirty.Len())
}
