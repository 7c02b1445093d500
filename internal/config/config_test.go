package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/danmuck/znplink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "config.toml", `
[serial]
port = "/dev/ttyACM0"

[link]
attempt_timeout = "500ms"
max_attempts = 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	def := Default()

	require.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	require.Equal(t, def.Serial.Baud, cfg.Serial.Baud)
	require.Equal(t, 500*time.Millisecond, cfg.Link.AttemptTimeout)
	require.Equal(t, 5, cfg.Link.MaxAttempts)
	require.Equal(t, def.Link.ResultTimeout, cfg.Link.ResultTimeout)
	require.Equal(t, def.Schema, cfg.Schema)
	require.Equal(t, def.Diagnostics, cfg.Diagnostics)

	lc := cfg.LinkConfig()
	require.Equal(t, 500*time.Millisecond, lc.Session.AttemptTimeout)
	require.Equal(t, 5, lc.Session.MaxAttempts)
	require.Equal(t, def.Link.CommandTimeout, lc.CommandTimeout)

	sc := cfg.SerialConfig()
	require.Equal(t, "/dev/ttyACM0", sc.Port)
	require.False(t, sc.RTSCTS)
}

func TestLoadExplicitZeroFailsValidation(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "config.toml", `
[link]
max_attempts = 0
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_attempts")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "config.toml", `
[link]
result_timeout = "soon"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "link.result_timeout")
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "load znpctl config")
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, WriteTemplate(cfgPath, "link", false))
	require.Error(t, WriteTemplate(cfgPath, "link", false))
	require.NoError(t, WriteTemplate(cfgPath, "link", true))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	schemaPath := filepath.Join(dir, "commands.toml")
	require.NoError(t, WriteTemplate(schemaPath, "schema", false))
	reg, err := schema.Select(schema.SelectConfig{File: schemaPath})
	require.NoError(t, err)
	require.Equal(t, "site-1", reg.Version())
	_, err = reg.ByName("UTIL.LedControl")
	require.NoError(t, err)
	_, err = reg.ByName("SYS.Ping")
	require.NoError(t, err)

	_, err = Template("gateway")
	require.Error(t, err)
}
