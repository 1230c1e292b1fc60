package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadOptions carries the command-line overrides Load resolves against the
// file and the built-in defaults.
type LoadOptions struct {
	ConfigPath string
	RootFlag   string
}

// Load resolves the configuration in four-layer order:
// flag > env > file > default. A missing config file is not an error;
// Load falls back to DefaultConfig and lets the caller decide whether to run
// Write to create one.
func Load(opts LoadOptions) (Config, string, error) {
	env := ReadEnvOverrides()

	path := opts.ConfigPath
	if path == "" {
		path = env.ConfigPath
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return Config{}, "", fmt.Errorf("config: resolve default path: could not determine home directory")
	}

	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		var fileCfg Config
		if _, err := toml.Decode(string(data), &fileCfg); err != nil {
			return Config{}, path, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	} else if !os.IsNotExist(err) {
		return Config{}, path, fmt.Errorf("config: read %s: %w", path, err)
	}

	if env.Root != "" {
		cfg.Root = env.Root
	}
	if env.MaxFileBytes > 0 {
		cfg.Filter.MaxFileBytes = env.MaxFileBytes
	}
	if opts.RootFlag != "" {
		cfg.Root = opts.RootFlag
	}

	if err := Validate(cfg); err != nil {
		return Config{}, path, err
	}

	return cfg, path, nil
}

// mergeConfig overlays non-zero fields of override onto base. Only the
// fields a user is likely to set selectively are merged field-by-field;
// nested struct zero values fall back to base wholesale section-by-section
// when the whole section was left out of the file.
func mergeConfig(base, override Config) Config {
	if override.Root != "" {
		base.Root = override.Root
	}
	if override.Remote != "" {
		base.Remote = override.Remote
	}

	if len(override.Filter.Exclude) > 0 {
		base.Filter.Exclude = override.Filter.Exclude
	}
	if len(override.Filter.Include) > 0 {
		base.Filter.Include = override.Filter.Include
	}
	if override.Filter.MaxFileBytes != 0 {
		base.Filter.MaxFileBytes = override.Filter.MaxFileBytes
	}
	base.Filter.SkipHiddenDirs = override.Filter.SkipHiddenDirs || base.Filter.SkipHiddenDirs

	if override.Transfers.MaxConcurrent != 0 {
		base.Transfers.MaxConcurrent = override.Transfers.MaxConcurrent
	}
	if override.Transfers.ChunkBytes != 0 {
		base.Transfers.ChunkBytes = override.Transfers.ChunkBytes
	}
	if override.Transfers.MaxHashRetries != 0 {
		base.Transfers.MaxHashRetries = override.Transfers.MaxHashRetries
	}
	if override.Transfers.RetryBackoff != 0 {
		base.Transfers.RetryBackoff = override.Transfers.RetryBackoff
	}

	if override.Safety.BigDeletePercent != 0 {
		base.Safety.BigDeletePercent = override.Safety.BigDeletePercent
	}
	if override.Safety.BigDeleteThreshold != 0 {
		base.Safety.BigDeleteThreshold = override.Safety.BigDeleteThreshold
	}
	if override.Safety.MinFreeBytes != 0 {
		base.Safety.MinFreeBytes = override.Safety.MinFreeBytes
	}

	if override.Sync.FullScanInterval != 0 {
		base.Sync.FullScanInterval = override.Sync.FullScanInterval
	}
	if override.Sync.DebounceWindow != 0 {
		base.Sync.DebounceWindow = override.Sync.DebounceWindow
	}
	if override.Sync.MaxAncestorWalk != 0 {
		base.Sync.MaxAncestorWalk = override.Sync.MaxAncestorWalk
	}
	base.Sync.PauseOnBatteryLow = override.Sync.PauseOnBatteryLow || base.Sync.PauseOnBatteryLow

	if override.Vault.KDFIterations != 0 {
		base.Vault.KDFIterations = override.Vault.KDFIterations
	}
	if override.Vault.AutoLockIdle != 0 {
		base.Vault.AutoLockIdle = override.Vault.AutoLockIdle
	}
	if override.Vault.LockFilePath != "" {
		base.Vault.LockFilePath = override.Vault.LockFilePath
	}
	if override.Vault.RecoveryCodePath != "" {
		base.Vault.RecoveryCodePath = override.Vault.RecoveryCodePath
	}

	if override.Conflict.Strategy != "" {
		base.Conflict.Strategy = override.Conflict.Strategy
	}
	if override.Conflict.MergeMaxBytes != 0 {
		base.Conflict.MergeMaxBytes = override.Conflict.MergeMaxBytes
	}
	base.Conflict.KeepConflictNB = override.Conflict.KeepConflictNB || base.Conflict.KeepConflictNB

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}
	if override.Logging.Path != "" {
		base.Logging.Path = override.Logging.Path
	}

	if override.Network.RequestTimeout != 0 {
		base.Network.RequestTimeout = override.Network.RequestTimeout
	}
	if override.Network.BandwidthLimit != 0 {
		base.Network.BandwidthLimit = override.Network.BandwidthLimit
	}

	return base
}
