// Package dispatcher decodes control commands, delegates them to the registry and the
// pipeline, and encodes exactly one response for each.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/ptr"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/internal/bankd/pipeline"
	"github.com/autopeer-io/bankupdate/internal/bankd/registry"
	"github.com/autopeer-io/bankupdate/internal/pkg/metrics"
	"github.com/autopeer-io/bankupdate/internal/pkg/middleware"
	v1 "github.com/autopeer-io/bankupdate/pkg/apis/bank/v1"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

type Dispatcher struct {
	reg     *registry.Registry
	pipe    *pipeline.Pipeline
	storage core.Storage

	readOnly bool
}

func New(reg *registry.Registry, pipe *pipeline.Pipeline, storage core.Storage) *Dispatcher {
	return &Dispatcher{reg: reg, pipe: pipe, storage: storage}
}

// ReadOnly returns a dispatcher that answers only DetectBank and GetStatus.
func (d *Dispatcher) ReadOnly() *Dispatcher {
	ro := *d
	ro.readOnly = true
	return &ro
}

// Handler returns the dispatcher as a transport handler with panic recovery and a
// per-request deadline.
func (d *Dispatcher) Handler(timeout time.Duration) middleware.HandlerFunc {
	return middleware.Chain(d.Handle,
		middleware.Recover(func(err error) []byte { return encode(v1.NewError(err.Error())) }),
		middleware.Timeout(timeout),
	)
}

// Handle decodes one raw request and returns its encoded response.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	var cmd v1.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		metrics.CommandsTotal.WithLabelValues("invalid", "error").Inc()
		return encode(v1.NewError(fmt.Errorf("%w: %v", core.ErrInvalidRequest, err).Error()))
	}
	return encode(d.Dispatch(ctx, &cmd))
}

// Dispatch runs a decoded command. It never fails; errors become Error responses.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *v1.Command) any {
	resp, err := d.dispatch(ctx, cmd)

	label := cmd.Command
	if !known(label) {
		label = "unknown"
	}
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(label, "error").Inc()
		log.FromContext(ctx).Info("Command rejected", "command", cmd.Command, "err", err)
		return v1.NewError(err.Error())
	}
	metrics.CommandsTotal.WithLabelValues(label, "ok").Inc()
	log.FromContext(ctx).Debug("Command handled", "command", cmd.Command)
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd *v1.Command) (any, error) {
	if cmd.Command == "" {
		return nil, fmt.Errorf("%w: missing command", core.ErrInvalidRequest)
	}
	if !known(cmd.Command) {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCommand, cmd.Command)
	}
	if d.readOnly && !v1.ReadOnly(cmd.Command) {
		return nil, fmt.Errorf("%w: %s is not accepted on this endpoint", core.ErrCommandNotPermitted, cmd.Command)
	}

	switch cmd.Command {
	case v1.CommandDetectBank:
		return v1.NewCurrentState(toBankState(d.reg.Snapshot())), nil

	case v1.CommandGetStatus:
		st := d.pipe.Status()
		return v1.NewStatus(st.Progress, st.Phase, st.LastError, toBankStatus(d.reg.Snapshot())), nil

	case v1.CommandSetDesiredBank:
		bank, err := core.ParseBankID(ptr.Deref(cmd.Bank, ""))
		if err != nil {
			return nil, err
		}
		if err := d.reg.SetDesired(ctx, bank); err != nil {
			return nil, err
		}
		return v1.NewOk(fmt.Sprintf("desired bank set to %s", bank)), nil

	case v1.CommandUpdate:
		req := pipeline.Request{
			URL:      ptr.Deref(cmd.FromURL, ""),
			Username: cmd.Username,
			Password: cmd.Password,
		}
		if cmd.Bank != nil {
			target := core.BankID(*cmd.Bank)
			req.Target = &target
		}
		job, err := d.pipe.Start(ctx, req)
		if err != nil {
			return nil, err
		}
		return v1.NewOk(fmt.Sprintf("update accepted: job %s writing bank %s", job.ID, job.Target)), nil

	case v1.CommandFormatOtherBank:
		if err := d.reg.FormatOtherBank(ctx, d.storage.FormatBank); err != nil {
			return nil, err
		}
		return v1.NewOk(fmt.Sprintf("bank %s formatted", d.reg.OurBank().Other())), nil

	case v1.CommandSetBankOk:
		if err := d.reg.SetBankOK(); err != nil {
			return nil, err
		}
		return v1.NewOk(fmt.Sprintf("bank %s marked ok", d.reg.OurBank())), nil

	case v1.CommandCopyConfig:
		if err := d.pipe.CopyConfig(ctx); err != nil {
			return nil, err
		}
		return v1.NewOk(fmt.Sprintf("config copied to bank %s", d.reg.OurBank().Other())), nil
	}

	return nil, errors.New("unreachable")
}

func known(name string) bool {
	switch name {
	case v1.CommandDetectBank, v1.CommandGetStatus, v1.CommandSetDesiredBank, v1.CommandUpdate,
		v1.CommandFormatOtherBank, v1.CommandSetBankOk, v1.CommandCopyConfig:
		return true
	}
	return false
}

func encode(resp any) []byte {
	raw, err := json.Marshal(resp)
	if err != nil {
		raw, _ = json.Marshal(v1.NewError(fmt.Sprintf("encode response: %v", err)))
	}
	return raw
}
