package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, gotPath, err := Load(LoadOptions{ConfigPath: path, RootFlag: "/home/user/docs"})
	require.NoError(t, err)
	require.Equal(t, path, gotPath)
	require.Equal(t, "/home/user/docs", cfg.Root)
	require.Equal(t, DefaultConfig().Transfers.MaxConcurrent, cfg.Transfers.MaxConcurrent)
}

func TestLoadReadsFileAndAppliesFlagOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Root = "/from/file"
	cfg.Transfers.MaxConcurrent = 9
	require.NoError(t, Write(cfg, path))

	loaded, _, err := Load(LoadOptions{ConfigPath: path})
	require.NoError(t, err)
	require.Equal(t, "/from/file", loaded.Root)
	require.Equal(t, 9, loaded.Transfers.MaxConcurrent)

	loaded, _, err = Load(LoadOptions{ConfigPath: path, RootFlag: "/from/flag"})
	require.NoError(t, err)
	require.Equal(t, "/from/flag", loaded.Root)
}

func TestLoadEnvRootOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	t.Setenv(EnvRoot, "/from/env")
	cfg, _, err := Load(LoadOptions{ConfigPath: path})
	require.NoError(t, err)
	require.Equal(t, "/from/env", cfg.Root)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("root = \"/x\"\n[transfers]\nchunk_bytes = 10\n"), 0o600))

	_, _, err := Load(LoadOptions{ConfigPath: path})
	require.Error(t, err)
}
