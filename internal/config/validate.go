package config

import (
	"fmt"
)

const (
	minChunkBytes   = 256 << 10
	maxChunkBytes   = 100 << 20
	chunkAlignBytes = 4096
)

// Validate checks cfg for internally-inconsistent or dangerous values before
// the engine ever starts: fail fast on static config rather than deep
// inside a running sync cycle.
func Validate(cfg Config) error {
	if cfg.Root == "" {
		return fmt.Errorf("config: validate: root must be set")
	}

	if cfg.Transfers.ChunkBytes != 0 {
		if cfg.Transfers.ChunkBytes < minChunkBytes || cfg.Transfers.ChunkBytes > maxChunkBytes {
			return fmt.Errorf("config: validate: transfers.chunk_bytes %d out of range [%d, %d]",
				cfg.Transfers.ChunkBytes, minChunkBytes, maxChunkBytes)
		}
		if cfg.Transfers.ChunkBytes%chunkAlignBytes != 0 {
			return fmt.Errorf("config: validate: transfers.chunk_bytes %d must be a multiple of %d",
				cfg.Transfers.ChunkBytes, chunkAlignBytes)
		}
	}

	if cfg.Transfers.MaxConcurrent < 0 {
		return fmt.Errorf("config: validate: transfers.max_concurrent must be >= 0")
	}

	if cfg.Safety.BigDeletePercent < 0 || cfg.Safety.BigDeletePercent > 1 {
		return fmt.Errorf("config: validate: safety.big_delete_percent must be in [0, 1], got %v",
			cfg.Safety.BigDeletePercent)
	}
	if cfg.Safety.BigDeleteThreshold < 0 {
		return fmt.Errorf("config: validate: safety.big_delete_threshold must be >= 0")
	}

	if cfg.Vault.KDFIterations != 0 && cfg.Vault.KDFIterations < 10_000 {
		return fmt.Errorf("config: validate: vault.kdf_iterations %d is below the minimum of 10000",
			cfg.Vault.KDFIterations)
	}

	switch cfg.Conflict.Strategy {
	case "", StrategySmartMerge, StrategyAlwaysFork, StrategyForceLocal, StrategyForceRemote:
	default:
		return fmt.Errorf("config: validate: conflict.strategy %q is not one of smart-merge, always-fork, force-local, force-remote",
			cfg.Conflict.Strategy)
	}

	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: validate: logging.format %q must be text or json", cfg.Logging.Format)
	}

	return nil
}
