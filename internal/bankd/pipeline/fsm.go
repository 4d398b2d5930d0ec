package pipeline

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/bankupdate/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/bankupdate/internal/pkg/util/fsm"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// Pipeline states.
const (
	StateIdle        = "idle"
	StateDownloading = "downloading"
	StateVerifying   = "verifying"
	StateExtracting  = "extracting"
	StateFinalizing  = "finalizing"
)

// Pipeline events.
const (
	EventStart    = "start"
	EventVerify   = "verify"
	EventExtract  = "extract"
	EventFinalize = "finalize"
	EventDone     = "done"
	EventFail     = "fail"
)

var (
	states       = []string{StateIdle, StateDownloading, StateVerifying, StateExtracting, StateFinalizing}
	activeStates = []string{StateDownloading, StateVerifying, StateExtracting, StateFinalizing}
)

func (p *Pipeline) newMachine() *fsm.FSM {
	events := fsm.Events{
		{Name: EventStart, Src: []string{StateIdle}, Dst: StateDownloading},
		{Name: EventVerify, Src: []string{StateDownloading}, Dst: StateVerifying},
		{Name: EventExtract, Src: []string{StateVerifying}, Dst: StateExtracting},
		{Name: EventFinalize, Src: []string{StateExtracting}, Dst: StateFinalizing},
		{Name: EventDone, Src: []string{StateFinalizing}, Dst: StateIdle},

		// Any active phase may fail back to idle.
		{Name: EventFail, Src: activeStates, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(p.actionEnterState),

		fsmutil.EnterState(StateDownloading): fsmutil.WrapEvent(p.actionEnterDownloading),
		fsmutil.BeforeEvent(EventFail):       fsmutil.WrapEvent(p.actionBeforeFail),
		fsmutil.EnterState(StateIdle):        fsmutil.WrapEvent(p.actionEnterIdle),
	}

	metrics.SetPhase(StateIdle, states)
	return fsm.NewFSM(StateIdle, events, callbacks)
}

func (p *Pipeline) actionEnterState(ctx context.Context, e *fsm.Event) error {
	metrics.SetPhase(e.Dst, states)
	log.Info("Pipeline phase changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	return nil
}

// actionEnterDownloading starts a fresh progress count and forgets a stale failure.
func (p *Pipeline) actionEnterDownloading(ctx context.Context, e *fsm.Event) error {
	p.progress.Start()
	p.setLastError("")
	return nil
}

// actionBeforeFail records the failure for the next status read.
// Args: [0] error
func (p *Pipeline) actionBeforeFail(ctx context.Context, e *fsm.Event) error {
	msg := "unknown error"
	if err, ok := fsmutil.Arg[error](e, 0); ok && err != nil {
		msg = err.Error()
	}
	p.setLastError(msg)
	metrics.UpdatesTotal.WithLabelValues(e.Src).Inc()
	return nil
}

func (p *Pipeline) actionEnterIdle(ctx context.Context, e *fsm.Event) error {
	p.progress.Reset()
	if e.Event == EventDone {
		metrics.UpdatesTotal.WithLabelValues("succeeded").Inc()
	}
	return nil
}
