package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.Root = "/sync/root"
	cfg.Remote = "vault://primary"
	cfg.Conflict.Strategy = StrategyAlwaysFork

	require.NoError(t, Write(cfg, path))

	loaded, _, err := Load(LoadOptions{ConfigPath: path})
	require.NoError(t, err)
	require.Equal(t, cfg.Root, loaded.Root)
	require.Equal(t, cfg.Remote, loaded.Remote)
	require.Equal(t, cfg.Conflict.Strategy, loaded.Conflict.Strategy)
}

func TestWriteRejectsEmptyPath(t *testing.T) {
	require.Error(t, Write(DefaultConfig(), ""))
}
