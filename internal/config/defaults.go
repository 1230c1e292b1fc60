package config

import "time"

// DefaultConfig returns the built-in defaults written on first run and used
// to fill any field a user's config file leaves unset.
func DefaultConfig() Config {
	return Config{
		Filter: FilterConfig{
			Exclude:        []string{".git/", "*.tmp", "~$*"},
			MaxFileBytes:   0,
			SkipHiddenDirs: false,
		},
		Transfers: TransfersConfig{
			MaxConcurrent:  4,
			ChunkBytes:     8 << 20,
			MaxHashRetries: 3,
			RetryBackoff:   2 * time.Second,
		},
		Safety: SafetyConfig{
			BigDeletePercent:   0.30,
			BigDeleteThreshold: 20,
			MinFreeBytes:       100 << 20,
		},
		Sync: SyncConfig{
			FullScanInterval: 15 * time.Minute,
			DebounceWindow:   2 * time.Second,
			MaxAncestorWalk:  32,
		},
		Vault: VaultConfig{
			KDFIterations: 100_000,
			AutoLockIdle:  0,
		},
		Conflict: ConflictConfig{
			Strategy:       StrategySmartMerge,
			MergeMaxBytes:  2 << 20,
			KeepConflictNB: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Network: NetworkConfig{
			RequestTimeout: 30 * time.Second,
		},
	}
}
