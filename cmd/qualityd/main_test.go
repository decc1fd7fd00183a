package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfig_SkipsMissingDefaultPaths(t *testing.T) {
	t.Setenv("CALLPULSE_SERVER_ADDRESS", "")
	dir := t.TempDir()
	second := filepath.Join(dir, "second.yaml")
	writeFile(t, second, "server:\n  address: \":9090\"\n")

	cfg, err := loadConfig("", []string{filepath.Join(dir, "first.yaml"), second})
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestLoadConfig_InvalidExistingFileFails(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	valid := filepath.Join(dir, "valid.yaml")
	writeFile(t, broken, "server: [")
	writeFile(t, valid, "server:\n  address: \":9090\"\n")

	_, err := loadConfig("", []string{broken, valid})
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken)
}

func TestLoadConfig_NoFilesUsesDefaults(t *testing.T) {
	t.Setenv("CALLPULSE_SERVER_ADDRESS", "")
	dir := t.TempDir()

	cfg, err := loadConfig("", []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml")})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	dir := t.TempDir()

	_, err := loadConfig(filepath.Join(dir, "missing.yaml"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfig_ExplicitPathWins(t *testing.T) {
	t.Setenv("CALLPULSE_SERVER_ADDRESS", "")
	dir := t.TempDir()
	explicit := filepath.Join(dir, "explicit.yaml")
	fallback := filepath.Join(dir, "fallback.yaml")
	writeFile(t, explicit, "server:\n  address: \":7070\"\n")
	writeFile(t, fallback, "server:\n  address: \":9090\"\n")

	cfg, err := loadConfig(explicit, []string{fallback})
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
}
