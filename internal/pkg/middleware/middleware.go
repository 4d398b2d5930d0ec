// Package middleware wraps request handlers shared by every transport.
package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/autopeer-io/bankupdate/pkg/log"
)

// DefaultRequestTimeout applies when the transport sets no deadline of its own.
const DefaultRequestTimeout = 5 * time.Minute

// HandlerFunc handles one raw request and returns exactly one raw reply.
type HandlerFunc func(ctx context.Context, req []byte) []byte

// Middleware decorates a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// Chain applies middlewares so that the first one is outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Timeout bounds a request unless the caller already set a deadline.
func Timeout(d time.Duration) Middleware {
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req []byte) []byte {
			if _, ok := ctx.Deadline(); !ok {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx, req)
		}
	}
}

// Recover turns a panicking handler into the reply built by onPanic.
func Recover(onPanic func(err error) []byte) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req []byte) (reply []byte) {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("internal error: %v", r)
					log.Error(err, "Handler panicked", "stack", string(debug.Stack()))
					reply = onPanic(err)
				}
			}()
			return next(ctx, req)
		}
	}
}
