package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# vaultsync configuration file.
# Written by 'vaultsync config init'; edit freely. Running 'config init' again
# rewrites the file and drops any comments added by hand.

root = %q
remote = %q

[filter]
exclude = %s
max_file_bytes = %d
skip_hidden_dirs = %t

[transfers]
max_concurrent = %d
chunk_bytes = %d
max_hash_retries = %d
retry_backoff = %q

[safety]
big_delete_percent = %v
big_delete_threshold = %d
min_free_bytes = %d

[sync]
full_scan_interval = %q
debounce_window = %q
max_ancestor_walk = %d

# Vault settings are validated on load. The vault engine derives keys with a
# fixed 100000 PBKDF2 iterations and does not read kdf_iterations.
[vault]
kdf_iterations = %d
auto_lock_idle = %q

[conflict]
# strategy is one of: smart-merge, always-fork, force-local, force-remote
strategy = %q
merge_max_bytes = %d
keep_conflict_copies = %t

[logging]
level = %q
format = %q

[network]
request_timeout = %q
`

// Write renders cfg as a commented TOML template and writes it to path,
// creating parent directories as needed. Rendering a commented template
// on first write keeps a fresh config file self-documenting rather than
// a bare key/value dump.
func Write(cfg Config, path string) error {
	if path == "" {
		return fmt.Errorf("config: write: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: write: mkdir: %w", err)
	}

	body := fmt.Sprintf(configTemplate,
		cfg.Root, cfg.Remote,
		tomlStringSlice(cfg.Filter.Exclude), cfg.Filter.MaxFileBytes, cfg.Filter.SkipHiddenDirs,
		cfg.Transfers.MaxConcurrent, cfg.Transfers.ChunkBytes, cfg.Transfers.MaxHashRetries, cfg.Transfers.RetryBackoff.String(),
		cfg.Safety.BigDeletePercent, cfg.Safety.BigDeleteThreshold, cfg.Safety.MinFreeBytes,
		cfg.Sync.FullScanInterval.String(), cfg.Sync.DebounceWindow.String(), cfg.Sync.MaxAncestorWalk,
		cfg.Vault.KDFIterations, cfg.Vault.AutoLockIdle.String(),
		cfg.Conflict.Strategy, cfg.Conflict.MergeMaxBytes, cfg.Conflict.KeepConflictNB,
		cfg.Logging.Level, cfg.Logging.Format,
		cfg.Network.RequestTimeout.String(),
	)

	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func tomlStringSlice(ss []string) string {
	out := "["
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", s)
	}
	return out + "]"
}
