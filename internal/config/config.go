// Package config loads the decoder configuration. A base file (YAML or
// JSONC) is layered over the defaults, then command line overrides are
// applied field by field: an override that was not given leaves the base
// value untouched.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/sink"
)

// EnvPath names the environment variable consulted when no config path
// is given on the command line.
const EnvPath = "CANDECODE_CONFIG"

// Config is the merged configuration of one process.
type Config struct {
	DatabasePath   string  `yaml:"database_path" json:"database_path"`
	Channel        string  `yaml:"channel" json:"channel"`
	EmitToConsole  bool    `yaml:"emit_to_console" json:"emit_to_console"`
	EmitToFile     bool    `yaml:"emit_to_file" json:"emit_to_file"`
	EmitToCBOR     bool    `yaml:"emit_to_cbor" json:"emit_to_cbor"`
	OutputDir      string  `yaml:"output_dir" json:"output_dir"`
	OutputBaseName string  `yaml:"output_base_name" json:"output_base_name"`
	FlushInterval  float64 `yaml:"flush_interval_seconds" json:"flush_interval_seconds"`
	FlatMode       bool    `yaml:"flat_mode" json:"flat_mode"`
	DropUnknown    bool    `yaml:"drop_unknown" json:"drop_unknown"`

	Compression    string  `yaml:"compression" json:"compression"`
	Timezone       string  `yaml:"timezone" json:"timezone"`
	ReceiveTimeout float64 `yaml:"receive_timeout_seconds" json:"receive_timeout_seconds"`
	MetricsAddr    string  `yaml:"metrics_addr" json:"metrics_addr"`
	LogLevel       string  `yaml:"log_level" json:"log_level"`
	LogFormat      string  `yaml:"log_format" json:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Channel:        "can0",
		OutputDir:      "./logs",
		FlushInterval:  2.0,
		Compression:    "none",
		Timezone:       "Local",
		ReceiveTimeout: 1.0,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads the file at path over the defaults. An empty path yields the
// defaults. Files ending in .json or .jsonc are parsed as JSON with
// comments; everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%s: %w", path, errors.ErrMissingConfig)
		}
		return cfg, errors.WrapFatal(err, "Config", "Load", "read config file")
	}

	if err := Parse(data, filepath.Ext(path), &cfg); err != nil {
		return cfg, errors.WrapInvalid(fmt.Errorf("%s: %w", path, err), "Config", "Load", "parse config file")
	}
	return cfg, nil
}

// Parse decodes data into cfg. Keys absent from data keep their current
// values; unknown keys are rejected.
func Parse(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}
	return nil
}

// Overrides carries command line values. A nil field was not given.
type Overrides struct {
	DatabasePath   *string
	Channel        *string
	EmitToConsole  *bool
	EmitToFile     *bool
	EmitToCBOR     *bool
	OutputDir      *string
	OutputBaseName *string
	FlushInterval  *float64
	FlatMode       *bool
	DropUnknown    *bool
	Compression    *string
	Timezone       *string
	ReceiveTimeout *float64
	MetricsAddr    *string
	LogLevel       *string
	LogFormat      *string
}

// Apply returns c with every non-nil override replacing its field.
func (c Config) Apply(o Overrides) Config {
	set(&c.DatabasePath, o.DatabasePath)
	set(&c.Channel, o.Channel)
	set(&c.EmitToConsole, o.EmitToConsole)
	set(&c.EmitToFile, o.EmitToFile)
	set(&c.EmitToCBOR, o.EmitToCBOR)
	set(&c.OutputDir, o.OutputDir)
	set(&c.OutputBaseName, o.OutputBaseName)
	set(&c.FlushInterval, o.FlushInterval)
	set(&c.FlatMode, o.FlatMode)
	set(&c.DropUnknown, o.DropUnknown)
	set(&c.Compression, o.Compression)
	set(&c.Timezone, o.Timezone)
	set(&c.ReceiveTimeout, o.ReceiveTimeout)
	set(&c.MetricsAddr, o.MetricsAddr)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LogFormat, o.LogFormat)
	return c
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks the merged configuration.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...))
	}

	if c.DatabasePath == "" {
		invalid("database_path is required")
	}
	if c.FlushInterval <= 0 {
		invalid("flush_interval_seconds must be positive, got %v", c.FlushInterval)
	}
	if c.ReceiveTimeout <= 0 {
		invalid("receive_timeout_seconds must be positive, got %v", c.ReceiveTimeout)
	}
	if (c.EmitToFile || c.EmitToCBOR) && c.OutputDir == "" {
		invalid("output_dir is required when writing files")
	}
	if _, err := sink.ParseCompression(c.Compression); err != nil {
		invalid("compression: %v", err)
	}
	if _, err := c.Location(); err != nil {
		invalid("timezone: %v", err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		invalid("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		invalid("unknown log_format %q", c.LogFormat)
	}

	if len(errs) > 0 {
		return errors.WrapInvalid(errors.Join(errs...), "Config", "Validate", "validate config")
	}
	return nil
}

// FlushIntervalDuration converts flush_interval_seconds.
func (c Config) FlushIntervalDuration() time.Duration {
	return seconds(c.FlushInterval)
}

// ReceiveTimeoutDuration converts receive_timeout_seconds.
func (c Config) ReceiveTimeoutDuration() time.Duration {
	return seconds(c.ReceiveTimeout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Location resolves the timezone used to render timestamps.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SinkOptions derives the sink selection. Compression and timezone must
// have passed Validate.
func (c Config) SinkOptions(runID string) sink.Options {
	comp, _ := sink.ParseCompression(c.Compression)
	loc, _ := c.Location()
	return sink.Options{
		ToConsole:   c.EmitToConsole,
		ToFile:      c.EmitToFile,
		ToCBOR:      c.EmitToCBOR,
		Flat:        c.FlatMode,
		DropUnknown: c.DropUnknown,
		OutputDir:   c.OutputDir,
		BaseName:    c.OutputBaseName,
		Compression: comp,
		Location:    loc,
		RunID:       runID,
	}
}
