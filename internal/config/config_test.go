package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/transfer"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flashforge.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Overrides(t *testing.T) {
	require := require.New(t)

	path := writeConfig(t, `
log_level = "debug"

[printer]
identity = "adventurer-4"
name = "Workshop"
address = "192.168.1.50"
port = 8900

[protocol]
chunk_size = 1024
status_lines = 9
post_transfer_delay = "500ms"
paused_backoff = "2s"
max_attempts = 3

[encoder]
debug_dump = ""
machine_type = "Adventurer 3"

[store]
path = "/var/lib/flashforge/prefs.db"

[server]
listen = "127.0.0.1:9090"
`)

	cfg, err := Load(path)
	require.NoError(err)

	require.Equal(logger.DebugLevel, cfg.Level())
	require.Equal(PrinterConfig{Identity: "adventurer-4", Name: "Workshop", Address: "192.168.1.50", Port: 8900}, cfg.Printer)
	require.Equal(1024, cfg.Protocol.ChunkSize)
	require.Equal(9, cfg.Protocol.StatusLines)
	require.Equal(500*time.Millisecond, cfg.Protocol.PostTransferDelay)
	require.Equal(2*time.Second, cfg.Protocol.PausedBackoff)
	require.Equal(3, cfg.Protocol.MaxAttempts)
	require.Empty(cfg.Encoder.DebugDump)
	require.Equal("Adventurer 3", cfg.Encoder.MachineType)
	require.Equal("/var/lib/flashforge/prefs.db", cfg.Store.Path)
	require.Equal("127.0.0.1:9090", cfg.Server.Listen)

	// untouched keys keep their defaults
	require.Equal(transfer.DefaultHeaderLines, cfg.Protocol.HeaderLines)
	require.Equal(transfer.DefaultStartSettleDelay, cfg.Protocol.StartSettleDelay)

	tc, err := transfer.NewConfig(cfg.TransferOptions()...)
	require.NoError(err)
	require.Equal(8900, tc.Port())
	require.Equal(1024, tc.ChunkSize())
	require.Equal(3, tc.MaxAttempts())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	def := Default()
	require.Equal(t, def, cfg)
	require.Equal(t, transfer.DefaultPort, cfg.Printer.Port)
	require.NotEmpty(t, cfg.Encoder.DebugDump)
	require.Len(t, cfg.EncoderOptions(logger.NewPermissiveMockLogger()), 3)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"bad duration":   "[protocol]\npaused_backoff = \"soon\"\n",
		"bad chunk size": "[protocol]\nchunk_size = 4096\n",
		"bad log level":  "log_level = \"loud\"\n",
		"empty identity": "[printer]\nidentity = \"\"\n",
		"unknown key":    "[printer]\nhostname = \"x\"\n",
		"syntax":         "[printer\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
