package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libjukebox-go/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.LogLevel = "error"
	path := config.ConfigPath(dir)
	require.NoError(t, config.SaveConfig(path, cfg))
	return path
}

func TestInitAndStats(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "--config", path, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "platform: not initialized")

	out, err = run(t, "--config", path, "init", "--admin", "root", "--escrow", "vault", "--token", "USD", "--fee", "300")
	require.NoError(t, err)
	assert.Contains(t, out, "fee=300bps")

	_, err = run(t, "--config", path, "init", "--admin", "root", "--escrow", "vault")
	assert.Error(t, err)

	_, err = run(t, "--config", path, "fee", "150", "--admin", "root")
	require.NoError(t, err)

	out, err = run(t, "--config", path, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "admin=root escrow=vault token=USD fee=150bps")
	assert.Contains(t, out, "tables: 0")
}

func TestFeeRejectsNonAdmin(t *testing.T) {
	path := writeConfig(t)
	_, err := run(t, "--config", path, "init", "--admin", "root", "--escrow", "vault")
	require.NoError(t, err)

	_, err = run(t, "--config", path, "fee", "100", "--admin", "mallory")
	assert.Error(t, err)
	_, err = run(t, "--config", path, "fee", "lots", "--admin", "root")
	assert.Error(t, err)
}

func TestSettleNothingPending(t *testing.T) {
	path := writeConfig(t)
	_, err := run(t, "--config", path, "init", "--admin", "root", "--escrow", "vault")
	require.NoError(t, err)

	out, err := run(t, "--config", path, "settle")
	require.NoError(t, err)
	assert.Contains(t, out, "settled 0 pending settlements")
}

func TestTableShowUnknown(t *testing.T) {
	path := writeConfig(t)
	_, err := run(t, "--config", path, "table", "show", "zz")
	assert.Error(t, err)

	id := "00000000000000000000000000000000000000000000000000000000000000aa"
	_, err = run(t, "--config", path, "table", "show", id)
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "stats")
	assert.ErrorIs(t, err, config.ErrConfigNotFound)
}
