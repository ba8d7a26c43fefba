package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgram = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"-program", testProgram, "-env-file", ""})
	require.NoError(t, err)

	assert.Equal(t, DefaultRPCEndpoint, cfg.RPCEndpoint)
	assert.Equal(t, DefaultCommitment, cfg.Commitment)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultRefreshSchedule, cfg.RefreshSchedule)
	assert.Equal(t, DefaultHistoryWorkers, cfg.HistoryWorkers)
	assert.Empty(t, cfg.DataDir)
	assert.Nil(t, cfg.WalletKey())
	assert.Equal(t, testProgram, cfg.ProgramKey().String())
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "lotteryd.toml", `
program_id = "`+testProgram+`"
listen = ":9000"
log_level = "debug"
history_workers = 8
`)
	t.Setenv("LOTTERY_LISTEN", ":7000")
	t.Setenv("LOTTERY_LOG_LEVEL", "warn")
	t.Setenv("LOTTERY_DATA_DIR", "/var/lib/lottery")

	cfg, err := Load([]string{"-config", path, "-env-file", "", "-log-level", "error"})
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel, "flag wins over file and env")
	assert.Equal(t, ":9000", cfg.Listen, "file wins over env")
	assert.Equal(t, "/var/lib/lottery", cfg.DataDir, "env fills blanks")
	assert.Equal(t, 8, cfg.HistoryWorkers)
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, "test.env", "LOTTERY_PROGRAM_ID="+testProgram+"\nLOTTERY_HISTORY_WORKERS=2\n")
	t.Cleanup(func() {
		os.Unsetenv("LOTTERY_PROGRAM_ID")
		os.Unsetenv("LOTTERY_HISTORY_WORKERS")
	})

	cfg, err := Load([]string{"-env-file", path})
	require.NoError(t, err)
	assert.Equal(t, testProgram, cfg.ProgramID)
	assert.Equal(t, 2, cfg.HistoryWorkers)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load([]string{"-program", testProgram, "-env-file", filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "missing program", env: map[string]string{"LOTTERY_PROGRAM_ID": ""}},
		{name: "bad program", args: []string{"-program", "not-a-key"}},
		{name: "bad wallet", args: []string{"-program", testProgram, "-wallet", "0x12"}},
		{name: "bad commitment", args: []string{"-program", testProgram, "-commitment", "recent"}},
		{name: "negative workers", args: []string{"-program", testProgram, "-history-workers", "-1"}},
		{name: "bad workers env", args: []string{"-program", testProgram}, env: map[string]string{"LOTTERY_HISTORY_WORKERS": "many"}},
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "missing config file", args: []string{"-program", testProgram, "-config", "/does/not/exist.toml"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(append([]string{"-env-file", ""}, tc.args...))
			assert.Error(t, err)
		})
	}
}

func TestLoadWallet(t *testing.T) {
	cfg, err := Load([]string{"-env-file", "", "-program", testProgram, "-wallet", testProgram})
	require.NoError(t, err)
	require.NotNil(t, cfg.WalletKey())
	assert.Equal(t, testProgram, cfg.WalletKey().String())
}
