package pipeline

import (
	"sync/atomic"
)

// Phase spans on the overall progress scale.
const (
	downloadStart = 0
	verifyStart   = 40
	extractStart  = 50
	finalizeStart = 99
	done          = 100
)

// progress is a monotone percentage shared between the job goroutine and status
// readers. A negative value means no job is running.
type progress struct {
	v atomic.Int32
}

func newProgress() *progress {
	p := &progress{}
	p.v.Store(-1)
	return p
}

// Get returns the current percentage, nil when idle.
func (p *progress) Get() *int {
	v := int(p.v.Load())
	if v < 0 {
		return nil
	}
	return &v
}

// Advance raises the percentage to pct. Lower values are ignored.
func (p *progress) Advance(pct int) {
	if pct > done {
		pct = done
	}
	for {
		cur := p.v.Load()
		if cur < 0 || int32(pct) <= cur {
			return
		}
		if p.v.CompareAndSwap(cur, int32(pct)) {
			return
		}
	}
}

func (p *progress) Start() { p.v.Store(0) }

func (p *progress) Reset() { p.v.Store(-1) }

// span maps done/total of a phase onto [lo, hi). Unknown totals stay at lo.
func span(lo, hi int, n, total int64) int {
	if total <= 0 || n <= 0 {
		return lo
	}
	if n >= total {
		return hi
	}
	return lo + int(int64(hi-lo)*n/total)
}
