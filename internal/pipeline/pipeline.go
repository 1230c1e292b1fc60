// Package pipeline implements the smart sync pipeline:
// the O(1)-when-unchanged pull path (change-cursor delta, else
// index-hash short-circuit, else full index diff) and the dirty-queue
// push path (torn-write guard, depth-grouped folder creation, bounded
// parallel transfer), with E2EE wrap/unwrap at the transfer boundary.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/conflict"
	"github.com/quietloop/vaultsync/internal/content"
	"github.com/quietloop/vaultsync/internal/dirtyset"
	"github.com/quietloop/vaultsync/internal/index"
	"github.com/quietloop/vaultsync/internal/localfs"
)

// IndexPath is the vault-relative, synchronized path of the index file
// itself: the index is a synchronized file whose own path is a key in
// itself. Its entry records the hash of the uploaded bytes, never a
// hash recomputed from local disk.
const IndexPath = ".vaultsync/index.json"

// hiddenConfigDir is walked explicitly on every smart push because
// filesystem events never fire for it.
const hiddenConfigDir = ".vaultsync"

// ErrVaultLocked is returned by any transfer that needs to wrap or
// unwrap bytes while E2EE is configured but the vault is locked.
var ErrVaultLocked = errors.New("pipeline: vault is locked")

// Cipher is the narrow capability the pipeline needs from the E2EE
// engine to transform bytes at the transfer boundary. Satisfied by
// *vault.Vault; a nil Cipher disables E2EE and bytes pass through as-is.
type Cipher interface {
	Unlocked() bool
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Options tunes the pipeline's concurrency and size knobs, normally
// derived directly from config.Config.
type Options struct {
	Concurrency     int
	MaxAncestorWalk int
	MergeMaxBytes   int
	MaxFileBytes    int64 // 0 = no limit
	DeviceID        string
}

// PullResult summarizes one SmartPull invocation for logging/telemetry.
type PullResult struct {
	Downloaded int
	Deleted    int
	Conflicts  int
	Adopted    int
	UsedDeltas bool
}

// PushResult summarizes one SmartPush invocation.
type PushResult struct {
	Uploaded  int
	Deleted   int
	Conflicts int
	Skipped   int
}

// Pipeline drives the smart pull and smart push. It reads and mutates
// the Index and dirty set directly; the hybrid scheduler is the only
// intended caller, and it enforces the single-writer invariant by never
// running two Pipeline methods at once.
type Pipeline struct {
	cloud    cloudapi.Adapter
	fs       localfs.FS
	idx      *index.Store
	dirty    *dirtyset.Tracker
	resolver *conflict.Resolver
	cipher   Cipher
	opts     Options
	logger   *slog.Logger

	foldersMu sync.Mutex
	folderIDs map[string]string // vault-relative dir path -> remote folder ID; "." -> ""

	// comm, when set, is the shared remote communication file used for
	// the cross-device merge lease; nil disables leasing.
	comm conflict.CommunicationFile

	// scan holds the cached listings of an in-progress full scan between
	// chunk calls. Only the scheduler touches it, under its single-writer
	// invariant.
	scan *scanPlan

	nowFunc func() time.Time
}

// New constructs a Pipeline. cipher may be nil to disable E2EE wrapping.
// A nil logger defaults to slog.Default().
func New(
	cloud cloudapi.Adapter,
	fs localfs.FS,
	idx *index.Store,
	dirty *dirtyset.Tracker,
	resolver *conflict.Resolver,
	cipher Cipher,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Pipeline{
		cloud:     cloud,
		fs:        fs,
		idx:       idx,
		dirty:     dirty,
		resolver:  resolver,
		cipher:    cipher,
		opts:      opts,
		logger:    logger,
		folderIDs: map[string]string{".": ""},
		nowFunc:   time.Now,
	}
}

// SetLeaseFile enables the cross-device merge lease over the shared
// remote communication file. Devices consulting the same file never
// duplicate-merge a path.
func (p *Pipeline) SetLeaseFile(cf conflict.CommunicationFile) {
	p.comm = cf
}

// wrap transforms plaintext bytes into what should be stored remotely:
// verbatim if E2EE is disabled, else AES-GCM-wrapped under the resident
// master key.
func (p *Pipeline) wrap(plaintext []byte) ([]byte, error) {
	if p.cipher == nil {
		return plaintext, nil
	}
	if !p.cipher.Unlocked() {
		return nil, ErrVaultLocked
	}
	return p.cipher.Encrypt(plaintext)
}

// unwrap reverses wrap: verbatim if E2EE is disabled, else AES-GCM
// unwrap under the resident master key.
func (p *Pipeline) unwrap(data []byte) ([]byte, error) {
	if p.cipher == nil {
		return data, nil
	}
	if !p.cipher.Unlocked() {
		return nil, ErrVaultLocked
	}
	return p.cipher.Decrypt(data)
}

func hashOf(data []byte) (string, error) {
	return content.HashReader(bytes.NewReader(data))
}

func dirOf(vaultPath string) string {
	d := path.Dir(vaultPath)
	if d == "/" {
		return "."
	}
	return d
}

func isWithinHiddenConfig(vaultPath string) bool {
	return vaultPath == hiddenConfigDir || strings.HasPrefix(vaultPath, hiddenConfigDir+"/")
}

// downloadItem fetches itemID's content in full, for paths small enough
// that buffering is acceptable (the reconciliation/merge/conflict paths
// all operate on whole byte sequences).
func (p *Pipeline) downloadItem(ctx context.Context, itemID string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.cloud.Download(ctx, itemID, &buf); err != nil {
		return nil, fmt.Errorf("pipeline: downloading %s: %w", itemID, err)
	}
	return buf.Bytes(), nil
}
