package trace

import (
	"context"
	"log/slog"
	"time"

	zapslog "github.com/tommoulard/zap-slog"
	"go.uber.org/zap"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// A Record describes one dispatched syscall.
type Record struct {
	Time      time.Duration
	PID       int
	TID       int
	Syscall   string
	Args      []Value
	Result    syscallabi.SyscallResult
	Delegated bool
}

// ArgStrings formats every argument as name=value.
func (r *Record) ArgStrings() []string {
	out := make([]string, len(r.Args))
	for i, arg := range r.Args {
		out[i] = arg.Name + "=" + arg.String()
	}
	return out
}

func (r *Record) ResultString() string {
	return r.Result.String()
}

// A Sink receives trace records. Sinks are called from the goroutine driving
// the host and must not retain the record.
type Sink interface {
	Record(ctx context.Context, r *Record)
}

// SlogSink logs records through a slog.Logger.
type SlogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (s *SlogSink) Record(ctx context.Context, r *Record) {
	if !s.Logger.Enabled(ctx, s.Level) {
		return
	}
	attrs := []slog.Attr{
		slog.Int("pid", r.PID),
		slog.Int("tid", r.TID),
		slog.String("syscall", r.Syscall),
		slog.Any("args", r.ArgStrings()),
		slog.String("result", r.ResultString()),
		slog.Duration("simtime", r.Time),
	}
	if r.Delegated {
		attrs = append(attrs, slog.Bool("legacy", true))
	}
	s.Logger.LogAttrs(ctx, s.Level, "syscall", attrs...)
}

// ZapSink logs records through a zap.Logger.
type ZapSink struct {
	Logger *zap.Logger
}

// NewZapSink returns a ZapSink whose output is forwarded to logger, so zap
// records end up in the same stream as the rest of the simulation's logs.
func NewZapSink(logger *slog.Logger) (*ZapSink, error) {
	z, err := zap.NewProduction(zapslog.WrapCore(logger))
	if err != nil {
		return nil, err
	}
	return &ZapSink{Logger: z}, nil
}

func (s *ZapSink) Record(ctx context.Context, r *Record) {
	fields := []zap.Field{
		zap.Int("pid", r.PID),
		zap.Int("tid", r.TID),
		zap.String("syscall", r.Syscall),
		zap.Strings("args", r.ArgStrings()),
		zap.String("result", r.ResultString()),
		zap.Duration("simtime", r.Time),
	}
	if r.Delegated {
		fields = append(fields, zap.Bool("legacy", true))
	}
	s.Logger.Info("syscall", fields...)
}

// Multi sends records to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, r *Record) {
	for _, s := range m {
		s.Record(ctx, r)
	}
}
