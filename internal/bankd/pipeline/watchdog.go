package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/clock"
)

// stallWatch cancels a download that has not received a byte for timeout.
type stallWatch struct {
	timer   clock.Timer
	timeout time.Duration
}

// watchStall starts the watchdog. The returned context is cancelled with a stall
// error when the watchdog fires; stop releases the watchdog goroutine.
func watchStall(ctx context.Context, clk clock.Clock, timeout time.Duration) (*stallWatch, context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	w := &stallWatch{timer: clk.NewTimer(timeout), timeout: timeout}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-w.timer.Chan():
			cancel(fmt.Errorf("stalled: no data received for %s", timeout))
		case <-ctx.Done():
		case <-stopped:
		}
	}()

	stop := func() {
		w.timer.Stop()
		close(stopped)
		cancel(nil)
	}
	return w, ctx, stop
}

// Wrap returns a writer that re-arms the watchdog on every write.
func (w *stallWatch) Wrap(dst io.Writer) io.Writer {
	return writerFunc(func(b []byte) (int, error) {
		w.timer.Reset(w.timeout)
		return dst.Write(b)
	})
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
