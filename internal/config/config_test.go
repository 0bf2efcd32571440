package config_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kmrgirish/hostsim/internal/config"
	"github.com/kmrgirish/hostsim/internal/simulation"
)

const example = `
log_level = "debug"
trace = "zap"
max_steps = 500
timeout = "2s"

[[host]]
name = "a"
dirs = ["/var/data"]

[[host.file]]
path = "/etc/motd"
content = "hi"
mode = 0o600

[[host.file]]
path = "/etc/hosts"
source = "hosts.txt"

[[host.process]]
name = "inline"
source = "getpid = *"
count = 2

[[host.process]]
name = "file"
script = "main.script"

[[host]]
name = "b"

[[host.process]]
name = "idle"
source = "gettid"
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	t.Setenv(simulation.LogLevelEnv, "")
	t.Setenv(config.TraceEnv, "zap")
	dir := writeFiles(t, map[string]string{
		"sim.toml":    example,
		"hosts.txt":   "127.0.0.1 localhost\n",
		"main.script": "getpid\n",
	})

	cfg, err := config.Load(filepath.Join(dir, "sim.toml"))
	if err != nil {
		t.Fatal(err)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("level: got %v, %v", level, err)
	}

	specs, err := cfg.HostSpecs()
	if err != nil {
		t.Fatal(err)
	}
	want := []simulation.HostSpec{
		{
			Name: "a",
			Dirs: []string{"/var/data"},
			Files: []simulation.FileSpec{
				{Path: "/etc/motd", Data: []byte("hi"), Mode: 0o600},
				{Path: "/etc/hosts", Data: []byte("127.0.0.1 localhost\n")},
			},
			Processes: []simulation.ProcessSpec{{Name: "inline"}, {Name: "inline"}, {Name: "file"}},
		},
		{
			Name:      "b",
			Processes: []simulation.ProcessSpec{{Name: "idle"}},
		},
	}
	if diff := cmp.Diff(want, specs, cmpopts.IgnoreFields(simulation.ProcessSpec{}, "Program")); diff != "" {
		t.Errorf("diff: (-want +got)\n%s", diff)
	}

	opts := cfg.Options(slog.Default())
	if opts.Trace != simulation.TraceZap || opts.MaxSteps != 500 || opts.Timeout != 2*time.Second {
		t.Errorf("options: got %+v", opts)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(simulation.LogLevelEnv, "warn")
	t.Setenv(config.TraceEnv, "slog")
	cfg, err := config.Parse([]byte(example), "")
	if err != nil {
		t.Fatal(err)
	}
	if level, _ := cfg.Level(); level != slog.LevelWarn {
		t.Errorf("level: got %v", level)
	}
	if cfg.Trace != "slog" {
		t.Errorf("trace: got %q", cfg.Trace)
	}
}

func TestParseErrors(t *testing.T) {
	t.Setenv(simulation.LogLevelEnv, "")
	testcases := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "unknown key",
			src:  "[[host]]\nname = \"a\"\ncolour = \"red\"\n",
			want: []string{"unknown keys: host.colour"},
		},
		{
			name: "no hosts",
			src:  "",
			want: []string{"no hosts"},
		},
		{
			name: "bad values",
			src: `log_level = "loud"
trace = "xml"
max_steps = -1
[[host]]
name = "a"
dirs = ["relative"]
[[host.file]]
path = "etc/x"
[[host.process]]
name = "p"
[[host]]
name = "a"
`,
			want: []string{
				"log_level:",
				`trace: unknown format "xml"`,
				"max_steps: must not be negative",
				`file "etc/x": path must be absolute`,
				`dir "relative": path must be absolute`,
				`process "p": exactly one of script and source must be set`,
				`host "a": duplicate name`,
			},
		},
		{
			name: "syntax",
			src:  "[[host]\n",
			want: []string{"toml"},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(config.TraceEnv, "")
			_, err := config.Parse([]byte(tc.src), "")
			if err == nil {
				t.Fatal("expected error")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestHostSpecsScriptError(t *testing.T) {
	t.Setenv(simulation.LogLevelEnv, "")
	cfg, err := config.Parse([]byte("[[host]]\n[[host.process]]\nname = \"p\"\nsource = \"bogus 1\"\n"), "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = cfg.HostSpecs()
	if err == nil || !strings.Contains(err.Error(), `p:1: unknown syscall "bogus"`) {
		t.Errorf("got %v", err)
	}
}

func TestRunConfigured(t *testing.T) {
	t.Setenv(simulation.LogLevelEnv, "")
	cfg, err := config.Parse([]byte(`
[[host]]
[[host.file]]
path = "/data"
content = "xyz"
[[host.process]]
name = "reader"
source = '''
open "/data" O_RDONLY = 0
read $1 @buf 8 = 3
expect @buf "xyz"
'''
`), "")
	if err != nil {
		t.Fatal(err)
	}
	specs, err := cfg.HostSpecs()
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	sim, err := simulation.New(specs, cfg.Options(simulation.NewJSONLogger(&logs, slog.LevelInfo)))
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if failed := res.Failed(); len(failed) != 0 {
		t.Errorf("failed: %+v\n%s", failed, logs.String())
	}
}
