package script_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/txtar"

	"github.com/kmrgirish/hostsim/internal/script"
	"github.com/kmrgirish/hostsim/internal/simulation"
	"github.com/kmrgirish/hostsim/internal/simulation/trace"
)

func TestParseErrors(t *testing.T) {
	testcases := []struct {
		src  string
		want string
	}{
		{src: "frobnicate 1", want: `test:1: unknown syscall "frobnicate"`},
		{src: "close FOO", want: `test:1: unknown constant or bad number "FOO"`},
		{src: "read 1 2 3 4 5 6 7", want: "test:1: read: 7 arguments"},
		{src: "close 1 = 1 2", want: "test:1: want one value after '='"},
		{src: "close 1 = \"x\"", want: "test:1: strings cannot be expected values"},
		{src: "expect @buf \"x\"\nclose $1", want: "test:2: $1 does not name an earlier call"},
		{src: "close $3\ngetpid\ngetpid", want: "test:1: $3 does not name an earlier call"},
		{src: "expect @buf", want: `test:1: usage: expect ADDR "string"`},
		{src: "expect @buf 12", want: "test:1: expect: want a quoted string"},
		{src: "write 1 \"abc", want: "test:1: bad string: \"abc"},
		{src: "read 0 @buf+99999999 1", want: "test:1: bad buffer offset @buf+99999999"},
		{src: "close $x", want: "test:1: bad reference $x"},
	}
	for _, tc := range testcases {
		t.Run(tc.src, func(t *testing.T) {
			_, err := script.Parse("test", []byte(tc.src))
			if err == nil {
				t.Fatal("expected error")
			}
			var syntaxErr *script.SyntaxError
			if !errors.As(err, &syntaxErr) {
				t.Errorf("got %T, expected *script.SyntaxError", err)
			}
			if err.Error() != tc.want {
				t.Errorf("got %q, expected %q", err.Error(), tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	s, err := script.Parse("test", []byte(`
# comment
openat AT_FDCWD "/a b" O_RDWR|O_CREAT 0644 = *   # trailing comment
close $3 = -1 EBADF
expect @buf+8 "xyz"
291 = ENOSYS
`))
	if err != nil {
		t.Fatal(err)
	}
	if n := s.Calls(); n != 3 {
		t.Errorf("got %d calls, expected 3", n)
	}
}

type collectingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *collectingSink) Record(ctx context.Context, r *trace.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf("%d %s(%s) = %s", r.PID, r.Syscall, strings.Join(r.ArgStrings(), ", "), r.ResultString()))
}

// TestScripts runs each testdata archive. Files named files/PATH are added to
// the host filesystem, every NAME.script file becomes a process, an optional
// trace file holds the expected trace, and an optional exit file holds
// "NAME CODE" lines for processes expected to fail.
func TestScripts(t *testing.T) {
	paths, err := filepath.Glob("testdata/*.txtar")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no test archives")
	}
	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".txtar"), func(t *testing.T) {
			ar, err := txtar.ParseFile(path)
			if err != nil {
				t.Fatal(err)
			}
			runArchive(t, ar)
		})
	}
}

func runArchive(t *testing.T, ar *txtar.Archive) {
	spec := simulation.HostSpec{Name: "test"}
	var wantTrace []string
	wantExit := make(map[string]int)
	for _, f := range ar.Files {
		switch {
		case strings.HasPrefix(f.Name, "files/"):
			spec.Files = append(spec.Files, simulation.FileSpec{
				Path: strings.TrimPrefix(f.Name, "files"),
				Data: f.Data,
			})
		case strings.HasSuffix(f.Name, ".script"):
			name := strings.TrimSuffix(f.Name, ".script")
			s, err := script.Parse(f.Name, f.Data)
			if err != nil {
				t.Fatal(err)
			}
			spec.Processes = append(spec.Processes, simulation.ProcessSpec{Name: name, Program: s.NewRunner()})
		case f.Name == "trace":
			wantTrace = strings.Split(strings.TrimSpace(string(f.Data)), "\n")
		case f.Name == "exit":
			for _, line := range strings.Split(strings.TrimSpace(string(f.Data)), "\n") {
				name, code, _ := strings.Cut(line, " ")
				n, err := strconv.Atoi(code)
				if err != nil {
					t.Fatalf("bad exit line %q", line)
				}
				wantExit[name] = n
			}
		default:
			t.Fatalf("unexpected file %s", f.Name)
		}
	}

	sink := &collectingSink{}
	var logs bytes.Buffer
	sim, err := simulation.New([]simulation.HostSpec{spec}, simulation.Options{
		Logger: simulation.NewJSONLogger(&logs, 0),
		Sink:   sink,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range res.Hosts[0].Processes {
		if want := wantExit[p.Name]; p.ExitCode != want {
			t.Errorf("process %s: exit code %d, expected %d (err: %v)", p.Name, p.ExitCode, want, p.Err)
		}
		if p.ExitCode == 0 && p.Err != nil {
			t.Errorf("process %s: %v", p.Name, p.Err)
		}
	}
	if wantTrace != nil {
		if diff := cmp.Diff(wantTrace, sink.lines); diff != "" {
			t.Errorf("trace: (-want +got)\n%s", diff)
		}
	}
	if t.Failed() {
		t.Logf("logs:\n%s", logs.String())
	}
}

func TestExpectationError(t *testing.T) {
	s, err := script.Parse("fail", []byte("getpid\nclose 9 = 0\ngetpid\n"))
	if err != nil {
		t.Fatal(err)
	}
	runner := s.NewRunner()
	sim, err := simulation.New([]simulation.HostSpec{{
		Processes: []simulation.ProcessSpec{{Name: "fail", Program: runner}},
	}}, simulation.Options{Logger: simulation.NewJSONLogger(&bytes.Buffer{}, 0)})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p := res.Hosts[0].Processes[0]
	var expErr *script.ExpectationError
	if !errors.As(p.Err, &expErr) {
		t.Fatalf("got %v, expected an expectation error", p.Err)
	}
	want := &script.ExpectationError{
		Script: "fail",
		Line:   2,
		Text:   "close 9 = 0",
		Got:    "-1 EBADF (bad file descriptor)",
		Want:   "0",
	}
	if diff := cmp.Diff(want, expErr); diff != "" {
		t.Errorf("diff: (-want +got)\n%s", diff)
	}
	if diff := cmp.Diff(map[int]int64{1: 1000, 2: -9}, runner.Results()); diff != "" {
		t.Errorf("results: (-want +got)\n%s", diff)
	}
}
