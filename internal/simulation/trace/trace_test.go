package trace_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kmrgirish/hostsim/internal/hostlog"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
	"github.com/kmrgirish/hostsim/internal/simulation/trace"
)

func TestValueString(t *testing.T) {
	testCases := []struct {
		kind     trace.Kind
		raw      uint64
		expected string
	}{
		{trace.Int, uint64(1<<64 - 1), "-1"},
		{trace.Fd, 3, "3"},
		{trace.DirFd, uint64(0xffffff9c), "AT_FDCWD"},
		{trace.DirFd, 5, "5"},
		{trace.Ptr, 0, "NULL"},
		{trace.Ptr, 0x1000, "0x1000"},
		{trace.Mode, 0o644, "0644"},
		{trace.OpenFlags, syscallabi.O_WRONLY | syscallabi.O_CREAT | syscallabi.O_TRUNC, "O_WRONLY|O_CREAT|O_TRUNC"},
		{trace.ProtFlags, 0, "PROT_NONE"},
		{trace.ProtFlags, syscallabi.PROT_READ | syscallabi.PROT_WRITE, "PROT_READ|PROT_WRITE"},
		{trace.MapFlags, syscallabi.MAP_PRIVATE | syscallabi.MAP_ANONYMOUS, "MAP_PRIVATE|MAP_ANONYMOUS"},
		{trace.MapFlags, 0, "0"},
		{trace.FcntlCmd, syscallabi.F_GETFL, "F_GETFL"},
		{trace.FcntlCmd, 99, "99"},
		{trace.Whence, syscallabi.SEEK_END, "SEEK_END"},
		{trace.AtFlags, syscallabi.AT_EMPTY_PATH, "AT_EMPTY_PATH"},
		{trace.AtFlags, 0, "0"},
		{trace.OpenFlags, syscallabi.O_RDONLY | syscallabi.O_CREAT | syscallabi.O_EXCL, "O_RDONLY|O_CREAT|O_EXCL"},
		{trace.OpenFlags, 3 | syscallabi.O_CREAT, "0x3|O_CREAT"},
		{trace.OpenFlags, syscallabi.O_RDWR | syscallabi.O_CLOEXEC | 0x200000, "O_RDWR|O_CLOEXEC|0x200000"},
		{trace.MapFlags, syscallabi.MAP_PRIVATE | 0x40000, "MAP_PRIVATE|0x40000"},
		{trace.ProtFlags, syscallabi.PROT_READ | 0x1000000, "PROT_READ|0x1000000"},
		{trace.MemfdFlags, 0x8, "0x8"},
	}
	for _, tc := range testCases {
		got := trace.Value{Kind: tc.kind, Raw: tc.raw}.String()
		if got != tc.expected {
			t.Errorf("kind %d raw %#x: got %q, expected %q", tc.kind, tc.raw, got, tc.expected)
		}
	}
}

func TestDecodePath(t *testing.T) {
	schema := trace.Schema{{Name: "dirfd", Kind: trace.DirFd}, {Name: "path", Kind: trace.Path}, {Name: "flags", Kind: trace.OpenFlags}}
	args := syscallabi.NewSysCallArgs(syscallabi.NR_openat, uint64(0xffffff9c), 0x2000, syscallabi.O_RDONLY)

	values := schema.Decode(&args, func(addr uint64) (string, error) {
		if addr != 0x2000 {
			t.Fatalf("unexpected read at %#x", addr)
		}
		return "/etc/hosts", nil
	})
	var got []string
	for _, v := range values {
		got = append(got, v.String())
	}
	if diff := cmp.Diff([]string{"AT_FDCWD", `"/etc/hosts"`, "O_RDONLY"}, got); diff != "" {
		t.Errorf("diff: %s", diff)
	}

	values = schema.Decode(&args, func(addr uint64) (string, error) {
		return "", syscallabi.EFAULT
	})
	if got := values[1].String(); got != "0x2000 <EFAULT>" {
		t.Errorf("unreadable path: got %q", got)
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := &trace.SlogSink{Logger: logger, Level: slog.LevelInfo}

	sink.Record(context.Background(), &trace.Record{
		PID:     1000,
		TID:     1000,
		Syscall: "fstat",
		Args:    []trace.Value{{Name: "fd", Kind: trace.Fd, Raw: 99}, {Name: "statbuf", Kind: trace.Ptr, Raw: 0x5000}},
		Result:  syscallabi.Failed(syscallabi.EBADF),
	})

	logs := hostlog.ParseLog(buf.Bytes())
	if len(logs) != 1 {
		t.Fatalf("expected one log line, got %d: %s", len(logs), buf.String())
	}
	expected := &hostlog.Log{
		Level:   slog.LevelInfo,
		Msg:     "syscall",
		PID:     1000,
		TID:     1000,
		Syscall: "fstat",
		Result:  "-1 EBADF (bad file descriptor)",
		Args:    []string{"fd=99", "statbuf=0x5000"},
	}
	if diff := cmp.Diff(expected, logs[0]); diff != "" {
		t.Errorf("diff: %s", diff)
	}
}

func TestSlogSinkDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	sink := &trace.SlogSink{Logger: logger, Level: slog.LevelDebug}
	sink.Record(context.Background(), &trace.Record{Syscall: "getpid", Result: syscallabi.Done(1000)})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}

func TestZapSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink, err := trace.NewZapSink(logger)
	if err != nil {
		t.Fatal(err)
	}
	trace.Multi{sink}.Record(context.Background(), &trace.Record{
		PID:     7,
		TID:     8,
		Syscall: "getpid",
		Result:  syscallabi.Done(7),
	})
	sink.Logger.Sync()

	logs := hostlog.ParseLog(buf.Bytes())
	if len(logs) != 1 {
		t.Fatalf("expected one log line, got %d: %s", len(logs), buf.String())
	}
	if logs[0].Msg != "syscall" || logs[0].Syscall != "getpid" {
		t.Errorf("unexpected log %+v", logs[0])
	}
}
