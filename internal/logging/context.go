package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
	passKey
)

// EnsureRequestID returns ctx unchanged when it already carries a request
// id, and otherwise attaches a fresh one.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := newRequestID()
	return ContextWithRequestID(ctx, id), id
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRequestLogger ensures ctx has a request id and returns base tagged
// with it.
func WithRequestLogger(ctx context.Context, base Logger) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	ctx, id := EnsureRequestID(ctx)
	return ctx, base.With(String("request_id", id))
}

// ContextWithLogger stores l on ctx. A nil l stores the no-op logger.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if l == nil {
		l = Noop()
	}
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromContext returns the logger stored on ctx, or nil.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(loggerKey).(Logger)
	return l
}

// FromContextOr returns the context logger, or fallback when none is set.
func FromContextOr(ctx context.Context, fallback Logger) Logger {
	if l := LoggerFromContext(ctx); l != nil {
		return l
	}
	if fallback == nil {
		return Noop()
	}
	return fallback
}

// Pass identifies one propagation run through the network.
type Pass struct {
	ID     uint64
	Kind   string // turn_on, turn_off, ...
	Origin string // terminal that started the run
	Safe   bool
}

// Fields returns the pass as log fields.
func (p Pass) Fields() []Field {
	return []Field{
		Any("pass", p.ID),
		String("pass_kind", p.Kind),
		String("origin", p.Origin),
		Bool("safe", p.Safe),
	}
}

// WithPass scopes base to p and stores both on the returned context, so
// every record written during the run carries the pass id.
func WithPass(ctx context.Context, base Logger, p Pass) (context.Context, Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	l := FromContextOr(ctx, base).With(p.Fields()...)
	ctx = context.WithValue(ctx, passKey, p)
	return ContextWithLogger(ctx, l), l
}

// PassFromContext returns the pass a context was scoped to by WithPass.
func PassFromContext(ctx context.Context) (Pass, bool) {
	if ctx == nil {
		return Pass{}, false
	}
	p, ok := ctx.Value(passKey).(Pass)
	return p, ok
}

func newRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
