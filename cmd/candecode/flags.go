package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/knight1/candecode/internal/config"
	"github.com/knight1/candecode/internal/errors"
)

// commonFlags are the config overrides shared by live and batch. A flag
// only overrides the config file when it was given on the command line.
type commonFlags struct {
	configPath string

	dbc            string
	console        bool
	file           bool
	cbor           bool
	outputDir      string
	outputBase     string
	flushInterval  float64
	flat           bool
	dropUnknown    bool
	compression    string
	timezone       string
	logLevel       string
	logFormat      string
	channel        string
	receiveTimeout float64
	metricsAddr    string
}

func newFlagSet(name string, stderr io.Writer) (*pflag.FlagSet, *commonFlags) {
	fs := pflag.NewFlagSet(appName+" "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &commonFlags{}
	def := config.Default()
	fs.StringVarP(&f.configPath, "config", "c", "", "config file, YAML or JSONC (env: "+config.EnvPath+")")
	fs.StringVar(&f.dbc, "dbc", "", "DBC signal database")
	fs.BoolVar(&f.console, "console", false, "print decoded records to stdout")
	fs.BoolVar(&f.file, "file", false, "write decoded records to a CSV file")
	fs.BoolVar(&f.cbor, "cbor", false, "write decoded records to a CBOR stream")
	fs.StringVar(&f.outputDir, "output-dir", def.OutputDir, "directory for output files")
	fs.StringVar(&f.outputBase, "output-base", "", "output file name without extension")
	fs.Float64Var(&f.flushInterval, "flush-interval", def.FlushInterval, "seconds between file flushes")
	fs.BoolVar(&f.flat, "flat", false, "one row per frame with signals as JSON")
	fs.BoolVar(&f.dropUnknown, "drop-unknown", false, "suppress frames with no definition")
	fs.StringVar(&f.compression, "compression", def.Compression, "CSV compression: none, gzip, zstd, lz4")
	fs.StringVar(&f.timezone, "timezone", def.Timezone, "timezone for timestamps (Local or IANA name)")
	fs.StringVar(&f.logLevel, "log-level", def.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", def.LogFormat, "log format: text, json")
	return fs, f
}

func (f *commonFlags) addLiveFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.StringVar(&f.channel, "channel", def.Channel, "CAN interface")
	fs.Float64Var(&f.receiveTimeout, "receive-timeout", def.ReceiveTimeout, "seconds to wait for a frame before a flush check")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// overrides collects the flags that were given.
func (f *commonFlags) overrides(fs *pflag.FlagSet) config.Overrides {
	var o config.Overrides
	str := func(name string, v string) *string {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			return &v
		}
		return nil
	}
	boolean := func(name string, v bool) *bool {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			return &v
		}
		return nil
	}
	float := func(name string, v float64) *float64 {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			return &v
		}
		return nil
	}

	o.DatabasePath = str("dbc", f.dbc)
	o.EmitToConsole = boolean("console", f.console)
	o.EmitToFile = boolean("file", f.file)
	o.EmitToCBOR = boolean("cbor", f.cbor)
	o.OutputDir = str("output-dir", f.outputDir)
	o.OutputBaseName = str("output-base", f.outputBase)
	o.FlushInterval = float("flush-interval", f.flushInterval)
	o.FlatMode = boolean("flat", f.flat)
	o.DropUnknown = boolean("drop-unknown", f.dropUnknown)
	o.Compression = str("compression", f.compression)
	o.Timezone = str("timezone", f.timezone)
	o.LogLevel = str("log-level", f.logLevel)
	o.LogFormat = str("log-format", f.logFormat)
	o.Channel = str("channel", f.channel)
	o.ReceiveTimeout = float("receive-timeout", f.receiveTimeout)
	o.MetricsAddr = str("metrics-addr", f.metricsAddr)
	return o
}

// loadConfig merges the config file with the given flags and validates
// the result.
func (f *commonFlags) loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	path := f.configPath
	if path == "" {
		path = os.Getenv(config.EnvPath)
	}
	base, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg := base.Apply(f.overrides(fs))
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parseFlags parses args into fs. A help request is reported as
// pflag.ErrHelp after the usage has been printed.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "CLI", "parseFlags", "parse flags")
	}
	return nil
}
