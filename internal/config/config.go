// Package config loads simulation configurations from TOML files.
//
//	log_level = "debug"
//	trace = "slog"
//	max_steps = 10000
//	timeout = "1m"
//
//	[[host]]
//	name = "server"
//	dirs = ["/var/lib/app"]
//
//	[[host.file]]
//	path = "/etc/hosts"
//	content = "127.0.0.1 localhost\n"
//
//	[[host.process]]
//	name = "reader"
//	script = "reader.script"
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kmrgirish/hostsim/internal/script"
	"github.com/kmrgirish/hostsim/internal/simulation"
)

// TraceEnv overrides the configured trace format.
const TraceEnv = "HOSTSIM_TRACE"

type Config struct {
	LogLevel string        `toml:"log_level"`
	Trace    string        `toml:"trace"`
	MaxSteps int           `toml:"max_steps"`
	Timeout  time.Duration `toml:"timeout"`
	Hosts    []Host        `toml:"host"`

	// dir resolves relative paths in the file.
	dir string
}

type Host struct {
	Name      string    `toml:"name"`
	Dirs      []string  `toml:"dirs"`
	Files     []File    `toml:"file"`
	Processes []Process `toml:"process"`
}

// A File is added to the host filesystem before the run. Its data is either
// Content or the contents of Source.
type File struct {
	Path    string `toml:"path"`
	Content string `toml:"content"`
	Source  string `toml:"source"`
	Mode    uint32 `toml:"mode"`
}

// A Process runs a script, either inline in Source or read from Script.
type Process struct {
	Name   string `toml:"name"`
	Script string `toml:"script"`
	Source string `toml:"source"`
	// Count starts this many copies of the process.
	Count int `toml:"count"`
}

// Load reads and validates the configuration at path. Unknown keys are an
// error. Environment overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration. dir is used to resolve relative paths.
func Parse(data []byte, dir string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	cfg.dir = dir
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(simulation.LogLevelEnv); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(TraceEnv); v != "" {
		c.Trace = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch simulation.TraceFormat(c.Trace) {
	case simulation.TraceOff, simulation.TraceSlog, simulation.TraceZap:
	default:
		errs = append(errs, fmt.Errorf("trace: unknown format %q", c.Trace))
	}
	if c.MaxSteps < 0 {
		errs = append(errs, errors.New("max_steps: must not be negative"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout: must not be negative"))
	}
	if len(c.Hosts) == 0 {
		errs = append(errs, errors.New("no hosts"))
	}
	names := make(map[string]bool)
	for i, h := range c.Hosts {
		if h.Name != "" {
			if names[h.Name] {
				errs = append(errs, fmt.Errorf("host %q: duplicate name", h.Name))
			}
			names[h.Name] = true
		}
		for _, f := range h.Files {
			if !strings.HasPrefix(f.Path, "/") {
				errs = append(errs, fmt.Errorf("host %d: file %q: path must be absolute", i, f.Path))
			}
			if f.Content != "" && f.Source != "" {
				errs = append(errs, fmt.Errorf("host %d: file %q: both content and source set", i, f.Path))
			}
		}
		for _, d := range h.Dirs {
			if !strings.HasPrefix(d, "/") {
				errs = append(errs, fmt.Errorf("host %d: dir %q: path must be absolute", i, d))
			}
		}
		for _, p := range h.Processes {
			if (p.Script == "") == (p.Source == "") {
				errs = append(errs, fmt.Errorf("host %d: process %q: exactly one of script and source must be set", i, p.Name))
			}
			if p.Count < 0 {
				errs = append(errs, fmt.Errorf("host %d: process %q: count must not be negative", i, p.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// Level returns the configured log level, info by default.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// HostSpecs builds the host specifications, reading and parsing every referenced
// file and script.
func (c *Config) HostSpecs() ([]simulation.HostSpec, error) {
	var specs []simulation.HostSpec
	for _, h := range c.Hosts {
		spec := simulation.HostSpec{
			Name: h.Name,
			Dirs: h.Dirs,
		}
		for _, f := range h.Files {
			data := []byte(f.Content)
			if f.Source != "" {
				var err error
				data, err = os.ReadFile(c.resolve(f.Source))
				if err != nil {
					return nil, fmt.Errorf("file %s: %w", f.Path, err)
				}
			}
			spec.Files = append(spec.Files, simulation.FileSpec{Path: f.Path, Data: data, Mode: f.Mode})
		}
		for _, p := range h.Processes {
			s, err := c.loadScript(p)
			if err != nil {
				return nil, err
			}
			count := p.Count
			if count == 0 {
				count = 1
			}
			for range count {
				spec.Processes = append(spec.Processes, simulation.ProcessSpec{
					Name:    p.Name,
					Program: s.NewRunner(),
				})
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (c *Config) loadScript(p Process) (*script.Script, error) {
	if p.Source != "" {
		name := p.Name
		if name == "" {
			name = "inline"
		}
		return script.Parse(name, []byte(p.Source))
	}
	path := c.resolve(p.Script)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return script.Parse(path, data)
}

// Options returns the driver options. logger receives all simulation logs.
func (c *Config) Options(logger *slog.Logger) simulation.Options {
	return simulation.Options{
		Logger:   logger,
		Trace:    simulation.TraceFormat(c.Trace),
		MaxSteps: c.MaxSteps,
		Timeout:  c.Timeout,
	}
}
