package log

import (
	"context"
	"sync/atomic"
)

type contextKey struct{}

// Extractors map a log key to a function reading its value from a context.
type Extractors map[string]func(context.Context) string

var extractors atomic.Pointer[Extractors]

// SetContextExtractors registers the values FromContext adds to every logger it returns.
func SetContextExtractors(e Extractors) {
	cp := make(Extractors, len(e))
	for k, fn := range e {
		cp[k] = fn
	}
	extractors.Store(&cp)
}

// WithContext returns a copy of ctx that carries l.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger carried by ctx, or the global one, with the values of
// the registered extractors attached. Empty values are skipped.
func FromContext(ctx context.Context) Logger {
	l, ok := ctx.Value(contextKey{}).(Logger)
	if !ok {
		l = std
	}

	e := extractors.Load()
	if e == nil {
		return l
	}
	var kv []any
	for key, fn := range *e {
		if v := fn(ctx); v != "" {
			kv = append(kv, key, v)
		}
	}
	if len(kv) == 0 {
		return l
	}
	return l.WithValues(kv...)
}
