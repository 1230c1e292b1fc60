package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/config"
	"github.com/quietloop/vaultsync/internal/conflict"
	"github.com/quietloop/vaultsync/internal/dirtyset"
	"github.com/quietloop/vaultsync/internal/index"
	"github.com/quietloop/vaultsync/internal/keystore"
	"github.com/quietloop/vaultsync/internal/ledger"
	"github.com/quietloop/vaultsync/internal/localfs"
	"github.com/quietloop/vaultsync/internal/pipeline"
	"github.com/quietloop/vaultsync/internal/scheduler"
	"github.com/quietloop/vaultsync/internal/vault"
)

// remoteLockPath is where the E2EE lock file lives on the remote vault.
const remoteLockPath = ".vaultsync/vault.lock"

// vaultPasswordSecret names the keystore entry 'vault unlock --remember'
// persists for auto-unlock.
const vaultPasswordSecret = "vault-password"

// envVaultPassword lets headless runs supply the vault password without
// a keystore.
const envVaultPassword = "VAULTSYNC_PASSWORD"

// engine bundles every assembled component for one sync run.
type engine struct {
	cc      *CLIContext
	adapter *cloudapi.RESTAdapter
	fs      *localfs.OSFS
	idx     *index.Store
	led     *ledger.Ledger
	dirty   *dirtyset.Tracker
	vault   *vault.Vault
	pipe    *pipeline.Pipeline
	sched   *scheduler.Scheduler
	scanOnPush bool
}

// excludeFilter applies the config's filter.exclude patterns: entries
// ending in "/" match whole directory subtrees, everything else matches
// against the basename.
type excludeFilter struct {
	patterns []string
}

func (f excludeFilter) Ignored(vaultPath string) bool {
	base := path.Base(vaultPath)
	for _, pattern := range f.patterns {
		if dir, ok := strings.CutSuffix(pattern, "/"); ok {
			if vaultPath == dir || strings.HasPrefix(vaultPath, dir+"/") {
				return true
			}
			continue
		}
		if matched, err := path.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

// buildEngine assembles the full sync engine from the resolved config:
// filesystem, index, ledger, dirty tracker, conflict resolver, E2EE
// vault (if a remote lock file exists), pipeline, and scheduler.
func buildEngine(ctx context.Context, cc *CLIContext, scanVault bool) (*engine, error) {
	if cc.Cfg.Root == "" {
		return nil, fmt.Errorf("no local root configured; set 'root' in %s or pass --root", cc.ConfigPath)
	}

	adapter, err := newAdapter(ctx, cc)
	if err != nil {
		return nil, err
	}

	fs := localfs.NewOSFS(cc.Cfg.Root)
	idx := index.New(config.DefaultIndexPath(), cc.Logger)
	if err := idx.Load(); err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}

	led, err := ledger.Open(ctx, config.DefaultLedgerPath(), cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	dirty := dirtyset.New(idx, excludeFilter{patterns: cc.Cfg.Filter.Exclude}, cc.Logger)

	// Crash recovery: paths that were dirty when the last process died
	// are still dirty now (dirty durability).
	persisted, err := led.LoadDirty(ctx)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("recovering dirty set: %w", err)
	}
	for _, dp := range persisted {
		dirty.MarkDirty(dp.Path)
	}

	vlt, cipher, err := maybeUnlockVault(ctx, cc, adapter)
	if err != nil {
		led.Close()
		return nil, err
	}

	resolver := conflict.New(adapter, cc.Cfg.Conflict, cc.Cfg.Sync.MaxAncestorWalk, cc.Logger)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "vaultsync"
	}
	pipe := pipeline.New(adapter, fs, idx, dirty, resolver, cipher, pipeline.Options{
		Concurrency:     cc.Cfg.Transfers.MaxConcurrent,
		MaxAncestorWalk: cc.Cfg.Sync.MaxAncestorWalk,
		MergeMaxBytes:   int(cc.Cfg.Conflict.MergeMaxBytes),
		MaxFileBytes:    cc.Cfg.Filter.MaxFileBytes,
		DeviceID:        hostname,
	}, cc.Logger)
	pipe.SetLeaseFile(cloudapi.NewCommunicationFile(adapter, ""))

	e := &engine{
		cc:         cc,
		adapter:    adapter,
		fs:         fs,
		idx:        idx,
		led:        led,
		dirty:      dirty,
		vault:      vlt,
		pipe:       pipe,
		scanOnPush: scanVault,
	}
	e.sched = scheduler.New(scheduler.SyncFunc(e.smartSync), pipe, led, cc.Logger)
	return e, nil
}

// smartSync is one full cycle: pull remote changes, push the dirty set,
// then persist the index and dirty-set snapshot so a crash between
// cycles loses nothing.
func (e *engine) smartSync(ctx context.Context) error {
	pullRes, err := e.pipe.SmartPull(ctx)
	if err != nil {
		e.persist(ctx)
		return err
	}
	pushRes, err := e.pipe.SmartPush(ctx, e.scanOnPush)
	e.scanOnPush = false
	e.persist(ctx)
	if err != nil {
		return err
	}
	e.cc.Logger.Info("sync cycle complete",
		"downloaded", pullRes.Downloaded,
		"uploaded", pushRes.Uploaded,
		"deleted_local", pullRes.Deleted,
		"deleted_remote", pushRes.Deleted,
		"conflicts", pullRes.Conflicts+pushRes.Conflicts,
	)
	return nil
}

// persist writes the index to disk and mirrors the in-memory dirty set
// into the ledger.
func (e *engine) persist(ctx context.Context) {
	if err := e.idx.Save(); err != nil {
		e.cc.Logger.Warn("saving index failed", "error", err)
	}

	current := make(map[string]bool)
	for _, p := range e.dirty.Dirty() {
		current[p] = true
		if err := e.led.MarkDirty(ctx, p, "pending", time.Now()); err != nil {
			e.cc.Logger.Warn("persisting dirty path failed", "path", p, "error", err)
		}
	}
	persisted, err := e.led.LoadDirty(ctx)
	if err != nil {
		e.cc.Logger.Warn("loading persisted dirty set failed", "error", err)
		return
	}
	for _, dp := range persisted {
		if !current[dp.Path] {
			if err := e.led.ClearDirty(ctx, dp.Path); err != nil {
				e.cc.Logger.Warn("clearing persisted dirty path failed", "path", dp.Path, "error", err)
			}
		}
	}
}

func (e *engine) Close() {
	if err := e.led.Close(); err != nil {
		e.cc.Logger.Warn("closing ledger failed", "error", err)
	}
}

// maybeUnlockVault checks for a remote lock file and, when present,
// unlocks the vault using the remembered or environment-supplied
// password. A vault with no remote lock file runs unencrypted.
func maybeUnlockVault(ctx context.Context, cc *CLIContext, adapter *cloudapi.RESTAdapter) (*vault.Vault, pipeline.Cipher, error) {
	blob, exists, err := downloadLockFile(ctx, adapter)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, nil
	}

	password := os.Getenv(envVaultPassword)
	if password == "" {
		ks := keystore.New(keystorePath(), cc.Logger)
		if stored, err := ks.GetSecret(vaultPasswordSecret); err == nil {
			password = stored
		}
	}
	if password == "" {
		return nil, nil, fmt.Errorf("vault is locked: run 'vaultsync vault unlock --remember' or set %s", envVaultPassword)
	}

	vlt := vault.New(cc.Logger)
	if err := vlt.UnlockVault(blob, password); err != nil {
		return nil, nil, fmt.Errorf("unlocking vault: %w", err)
	}
	return vlt, vlt, nil
}

func keystorePath() string {
	return filepath.Join(config.DefaultDataDir(), "secrets.json")
}
