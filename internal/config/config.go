// Package config loads, validates, and writes vaultsync's TOML configuration.
package config

import "time"

// Config is the fully-resolved configuration for one vaultsync instance: one
// local root synced against one remote vault.
type Config struct {
	Root   string `toml:"root"`
	Remote string `toml:"remote"`

	Filter    FilterConfig    `toml:"filter"`
	Transfers TransfersConfig `toml:"transfers"`
	Safety    SafetyConfig    `toml:"safety"`
	Sync      SyncConfig      `toml:"sync"`
	Vault     VaultConfig     `toml:"vault"`
	Conflict  ConflictConfig  `toml:"conflict"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// FilterConfig controls which paths the engine ever looks at.
type FilterConfig struct {
	Exclude        []string `toml:"exclude"`
	Include        []string `toml:"include"`
	MaxFileBytes   int64    `toml:"max_file_bytes"`
	SkipHiddenDirs bool     `toml:"skip_hidden_dirs"`
}

// TransfersConfig tunes upload/download concurrency and retry behavior.
type TransfersConfig struct {
	MaxConcurrent  int           `toml:"max_concurrent"`
	ChunkBytes     int64         `toml:"chunk_bytes"`
	MaxHashRetries int           `toml:"max_hash_retries"`
	RetryBackoff   time.Duration `toml:"retry_backoff"`
}

// SafetyConfig governs the remote-corruption and safety-halt guards.
type SafetyConfig struct {
	BigDeletePercent   float64 `toml:"big_delete_percent"`
	BigDeleteThreshold int     `toml:"big_delete_threshold"`
	MinFreeBytes       int64   `toml:"min_free_bytes"`
}

// SyncConfig tunes the hybrid scheduler (component J).
type SyncConfig struct {
	FullScanInterval  time.Duration `toml:"full_scan_interval"`
	DebounceWindow    time.Duration `toml:"debounce_window"`
	MaxAncestorWalk   int           `toml:"max_ancestor_walk"`
	PauseOnBatteryLow bool          `toml:"pause_on_battery_low"`
}

// VaultConfig governs the E2EE vault-lock engine (components B/E).
type VaultConfig struct {
	KDFIterations    int           `toml:"kdf_iterations"`
	AutoLockIdle     time.Duration `toml:"auto_lock_idle"`
	LockFilePath     string        `toml:"lock_file_path"`
	RecoveryCodePath string        `toml:"recovery_code_path"`
}

// ConflictStrategy names one of the four conflict resolution strategies.
type ConflictStrategy string

const (
	StrategySmartMerge  ConflictStrategy = "smart-merge"
	StrategyAlwaysFork  ConflictStrategy = "always-fork"
	StrategyForceLocal  ConflictStrategy = "force-local"
	StrategyForceRemote ConflictStrategy = "force-remote"
)

// ConflictConfig selects the conflict resolution strategy and its knobs.
type ConflictConfig struct {
	Strategy       ConflictStrategy `toml:"strategy"`
	MergeMaxBytes  int64            `toml:"merge_max_bytes"`
	KeepConflictNB bool             `toml:"keep_conflict_copies"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Path   string `toml:"path"`
}

// NetworkConfig tunes outbound HTTP behavior for the cloud adapter.
type NetworkConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout"`
	BandwidthLimit int64         `toml:"bandwidth_limit_bytes_per_sec"`
}
