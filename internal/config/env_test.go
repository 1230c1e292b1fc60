package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/custom.toml")
	t.Setenv(EnvRoot, "/tmp/root")
	t.Setenv(EnvMaxFileSize, "100MB")

	got := ReadEnvOverrides()
	assert.Equal(t, "/tmp/custom.toml", got.ConfigPath)
	assert.Equal(t, "/tmp/root", got.Root)
	assert.Equal(t, int64(100_000_000), got.MaxFileBytes)
}

func TestReadEnvOverridesIgnoresBadSize(t *testing.T) {
	t.Setenv(EnvMaxFileSize, "banana")
	got := ReadEnvOverrides()
	assert.Zero(t, got.MaxFileBytes)
}

func TestReadEnvOverridesEmpty(t *testing.T) {
	got := ReadEnvOverrides()
	assert.Equal(t, "", got.ConfigPath)
	assert.Equal(t, "", got.Root)
}
