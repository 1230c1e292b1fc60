package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quietloop/vaultsync/internal/config"
	"github.com/quietloop/vaultsync/internal/index"
	"github.com/quietloop/vaultsync/internal/ledger"
)

type statusJSON struct {
	ConfigPath    string `json:"config_path"`
	Root          string `json:"root"`
	Remote        string `json:"remote"`
	TrackedPaths  int    `json:"tracked_paths"`
	TrackedBytes  int64  `json:"tracked_bytes"`
	PendingPushes int    `json:"pending_pushes"`
	ScanResumable bool   `json:"scan_resumable"`
	ScanChunk     int    `json:"scan_chunk,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state: tracked paths, pending pushes, scan progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			idx := index.New(config.DefaultIndexPath(), cc.Logger)
			if err := idx.Load(); err != nil {
				return fmt.Errorf("loading index: %w", err)
			}

			var trackedBytes int64
			for _, p := range idx.Paths() {
				if entry, ok := idx.Get(p); ok {
					trackedBytes += entry.Size
				}
			}

			out := statusJSON{
				ConfigPath:   cc.ConfigPath,
				Root:         cc.Cfg.Root,
				Remote:       cc.Cfg.Remote,
				TrackedPaths: idx.Len(),
				TrackedBytes: trackedBytes,
			}

			led, err := ledger.Open(cmd.Context(), config.DefaultLedgerPath(), cc.Logger)
			if err == nil {
				defer led.Close()
				if pending, err := led.LoadDirty(cmd.Context()); err == nil {
					out.PendingPushes = len(pending)
				}
				if cursor, ok, err := led.LoadScan(cmd.Context()); err == nil && ok {
					out.ScanResumable = time.Since(cursor.StartedAt) <= 5*time.Minute
					out.ScanChunk = cursor.ChunkIndex
				}
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			fmt.Printf("Config:  %s\n", out.ConfigPath)
			fmt.Printf("Root:    %s\n", out.Root)
			fmt.Printf("Remote:  %s\n", out.Remote)
			fmt.Printf("Tracked: %d paths (%s)\n", out.TrackedPaths, humanize.Bytes(uint64(out.TrackedBytes)))
			fmt.Printf("Pending: %d paths awaiting push\n", out.PendingPushes)
			if out.ScanResumable {
				fmt.Printf("Scan:    paused at chunk %d, resumable\n", out.ScanChunk)
			}
			return nil
		},
	}
}
