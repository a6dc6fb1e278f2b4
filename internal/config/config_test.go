package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/sink"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func ptr[T any](v T) *T { return &v }

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "candecode.yaml", `
database_path: /etc/candecode/pack.dbc
channel: vcan0
emit_to_file: true
flush_interval_seconds: 0.5
flat_mode: true
compression: zstd
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/etc/candecode/pack.dbc", cfg.DatabasePath)
	assert.Equal(t, "vcan0", cfg.Channel)
	assert.True(t, cfg.EmitToFile)
	assert.True(t, cfg.FlatMode)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, 500*time.Millisecond, cfg.FlushIntervalDuration())
	// Untouched keys keep their defaults.
	assert.Equal(t, "./logs", cfg.OutputDir)
	assert.Equal(t, time.Second, cfg.ReceiveTimeoutDuration())
}

func TestLoad_JSONC(t *testing.T) {
	path := writeFile(t, "candecode.jsonc", `{
  // bench setup
  "database_path": "pack.dbc",
  "emit_to_console": true,
  "drop_unknown": true, /* quiet */
  "timezone": "UTC",
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pack.dbc", cfg.DatabasePath)
	assert.True(t, cfg.EmitToConsole)
	assert.True(t, cfg.DropUnknown)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = Load(writeFile(t, "typo.yaml", "flush_intervall: 3\n"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = Load(writeFile(t, "bad.json", `{"flat_mode": "yes"}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestApply_OnlyGivenFields(t *testing.T) {
	base := Default()
	base.DatabasePath = "base.dbc"
	base.EmitToFile = true
	base.FlatMode = true

	merged := base.Apply(Overrides{
		Channel:  ptr("vcan1"),
		FlatMode: ptr(false),
	})

	assert.Equal(t, "vcan1", merged.Channel)
	assert.False(t, merged.FlatMode, "explicit false overrides a true base")
	assert.Equal(t, "base.dbc", merged.DatabasePath)
	assert.True(t, merged.EmitToFile)
	assert.Equal(t, 2.0, merged.FlushInterval)

	assert.Equal(t, base, base.Apply(Overrides{}))
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.DatabasePath = "pack.dbc"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no database", func(c *Config) { c.DatabasePath = "" }},
		{"zero flush", func(c *Config) { c.FlushInterval = 0 }},
		{"negative timeout", func(c *Config) { c.ReceiveTimeout = -1 }},
		{"file without dir", func(c *Config) { c.EmitToFile = true; c.OutputDir = "" }},
		{"compression", func(c *Config) { c.Compression = "brotli" }},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestSinkOptions(t *testing.T) {
	cfg := Default()
	cfg.DatabasePath = "pack.dbc"
	cfg.EmitToFile = true
	cfg.EmitToCBOR = true
	cfg.OutputBaseName = "bench"
	cfg.Compression = "gzip"
	cfg.Timezone = "UTC"
	cfg.DropUnknown = true
	require.NoError(t, cfg.Validate())

	opts := cfg.SinkOptions("run-1")
	assert.Equal(t, sink.Options{
		ToFile:      true,
		ToCBOR:      true,
		DropUnknown: true,
		OutputDir:   "./logs",
		BaseName:    "bench",
		Compression: sink.CompressionGzip,
		Location:    time.UTC,
		RunID:       "run-1",
	}, opts)
}
