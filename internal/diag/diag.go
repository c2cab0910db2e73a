// Package diag is the allocator's error sink (spec §7): invalid frees,
// double-frees, arena/OS mapping failures, and internal invariant
// violations are reported here rather than aborting the process. It
// replaces the teacher's bare-metal uartPuts/print trail with structured
// logging, since a hosted allocator has a real stdout/stderr.
package diag

import (
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var sink atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Str("component", "mazalloc").Logger()
	sink.Store(&l)
}

// SetLogger redirects the error sink; tests use this to capture output.
func SetLogger(l zerolog.Logger) {
	sink.Store(&l)
}

func logger() *zerolog.Logger {
	return sink.Load()
}

// Warn reports a recoverable condition: invalid-pointer-on-free,
// double-free, alignment-request-invalid, arena/OS mapping failure. The
// caller always continues; this never panics or aborts.
func Warn(msg string, kv ...any) {
	ev := logger().Warn()
	pairs(ev, kv)
	ev.Msg(msg)
}

// Invariant reports an internal invariant violation as a best-effort
// log-and-continue at Error level, matching §7's release-build policy;
// escalating to Fatal is left to the caller.
func Invariant(msg string, kv ...any) {
	ev := logger().Error()
	pairs(ev, kv)
	ev.Msg(msg)
}

// Fatal logs at Error level with assert=true. Reserved for debug-build assertion
// failures; it does not call os.Exit itself so callers can choose to
// continue (release) or panic (debug), per §7's split policy.
func Fatal(msg string, kv ...any) {
	ev := logger().Error().Bool("assert", true)
	pairs(ev, kv)
	ev.Msg(msg)
}

// Stats emits an informational line, used for periodic purge/GC-style
// status reporting (mirrors the teacher's gc_monitor.go print trail).
func Stats(msg string, kv ...any) {
	ev := logger().Info()
	pairs(ev, kv)
	ev.Msg(msg)
}

func pairs(ev *zerolog.Event, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ev.Interface(key, kv[i+1])
	}
}

// Wrap adds a stack trace to an internal error at an administrative
// fallibility boundary (arena reservation, process/thread init) — the
// allocation fast path never returns a Go error (OOM is a nil pointer).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
