package hostsim

import (
	"context"
	"io"

	"github.com/kmrgirish/hostsim/internal/config"
	"github.com/kmrgirish/hostsim/internal/prettylog"
	"github.com/kmrgirish/hostsim/internal/simulation"
)

type (
	Config        = config.Config
	Result        = simulation.Result
	HostResult    = simulation.HostResult
	ProcessResult = simulation.ProcessResult
)

// LoadConfig reads a TOML configuration. Paths in the file are relative to
// its directory.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes a TOML configuration. Relative paths are resolved
// against dir.
func ParseConfig(data []byte, dir string) (*Config, error) {
	return config.Parse(data, dir)
}

type RunOptions struct {
	// Log receives one JSON object per log line. Nil discards logs.
	Log io.Writer
	// Pretty renders the log for a console instead of as JSON.
	Pretty bool
	// Trace overrides the configured trace format if set.
	Trace string
}

// Check loads every script and file a configuration refers to without
// running anything.
func Check(cfg *Config) error {
	specs, err := cfg.HostSpecs()
	if err != nil {
		return err
	}
	_, err = simulation.New(specs, cfg.Options(simulation.NewJSONLogger(io.Discard, 0)))
	return err
}

// Run runs a configuration to completion. The error is non-nil if the
// simulation could not run to the end; processes that failed are listed by
// [Result.Failed].
func Run(ctx context.Context, cfg *Config, opts RunOptions) (*Result, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	out := opts.Log
	if out == nil {
		out = io.Discard
	} else if opts.Pretty {
		out = prettylog.NewWriter(out)
	}

	specs, err := cfg.HostSpecs()
	if err != nil {
		return nil, err
	}
	simOpts := cfg.Options(simulation.NewJSONLogger(out, level))
	if opts.Trace != "" {
		simOpts.Trace = simulation.TraceFormat(opts.Trace)
	}
	sim, err := simulation.New(specs, simOpts)
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx)
}
