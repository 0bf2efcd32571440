package simulation

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevelEnv overrides the configured log level.
const LogLevelEnv = "HOSTSIM_LOG_LEVEL"

// LevelFromEnv parses LogLevelEnv. ok is false when it is unset.
func LevelFromEnv() (level slog.Level, ok bool, err error) {
	s := strings.TrimSpace(os.Getenv(LogLevelEnv))
	if s == "" {
		return slog.LevelInfo, false, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, false, err
	}
	return level, true, nil
}

// NewJSONLogger returns a logger writing one JSON object per line. Wall clock
// times are left out so that runs produce identical output.
func NewJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(handler)
}

// stepSlogHandler adds the host's step counter to every record.
type stepSlogHandler struct {
	inner slog.Handler
	step  *atomic.Int64
}

func (w stepSlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return w.inner.Enabled(ctx, level)
}

func (w stepSlogHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.Int64("step", w.step.Load()))
	return w.inner.Handle(ctx, r)
}

func (w stepSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stepSlogHandler{
		inner: w.inner.WithAttrs(attrs),
		step:  w.step,
	}
}

func (w stepSlogHandler) WithGroup(name string) slog.Handler {
	return stepSlogHandler{
		inner: w.inner.WithGroup(name),
		step:  w.step,
	}
}
