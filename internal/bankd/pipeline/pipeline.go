// Package pipeline runs firmware updates into the non-running bank: download, verify,
// extract, finalize. Only one job runs at a time; progress and the outcome are polled.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/looplab/fsm"
	"gopkg.in/tomb.v2"
	"k8s.io/utils/ptr"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/internal/bankd/hal"
	"github.com/autopeer-io/bankupdate/internal/bankd/registry"
	"github.com/autopeer-io/bankupdate/internal/pkg/metrics"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// Claim holders.
const (
	holderUpdate     = "update"
	holderCopyConfig = "copy-config"
)

// Request asks for an update.
type Request struct {
	// Target is optional; it must be the non-running bank when given.
	Target *core.BankID

	URL      string
	Username *string
	Password *string
}

// Job is an accepted update.
type Job struct {
	ID      string
	Target  core.BankID
	Source  *Source
	Started time.Time
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Phase    string
	Progress *int

	// LastError is the previous job's failure. It is reported by one Status call only.
	LastError string
}

// Config holds everything the pipeline depends on.
type Config struct {
	Registry *registry.Registry
	HAL      core.HAL
	Fetcher  Fetcher
	Clock    clock.Clock

	StagingDir   string
	ConfigFiles  []string
	JobTimeout   time.Duration
	StallTimeout time.Duration
}

type Pipeline struct {
	cfg Config

	// startMu serializes Start so that the idle check and the start event are atomic.
	startMu sync.Mutex
	fsm     *fsm.FSM
	t       tomb.Tomb

	progress *progress

	errMu   sync.Mutex
	lastErr string
}

// New creates an idle pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil || cfg.HAL == nil || cfg.Fetcher == nil {
		return nil, errors.New("pipeline needs a registry, a hal and a fetcher")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 6 * time.Hour
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 2 * time.Minute
	}
	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	p := &Pipeline{
		cfg:      cfg,
		progress: newProgress(),
	}
	p.fsm = p.newMachine()

	// Keep the tomb alive between jobs.
	p.t.Go(func() error {
		<-p.t.Dying()
		return nil
	})
	return p, nil
}

// Start validates and accepts an update, then runs it in the background.
func (p *Pipeline) Start(ctx context.Context, req Request) (*Job, error) {
	src, err := p.parseSource(req)
	if err != nil {
		return nil, err
	}

	our := p.cfg.Registry.OurBank()
	target := our.Other()
	if req.Target != nil {
		if !req.Target.Valid() {
			return nil, fmt.Errorf("%w: %q (must be A or B)", core.ErrInvalidBank, *req.Target)
		}
		if *req.Target == our {
			return nil, fmt.Errorf("%w: bank %s is the running bank", core.ErrInvalidTarget, our)
		}
	}

	p.startMu.Lock()
	defer p.startMu.Unlock()

	select {
	case <-p.t.Dying():
		return nil, errors.New("pipeline is shutting down")
	default:
	}

	if cur := p.fsm.Current(); cur != StateIdle {
		return nil, fmt.Errorf("%w: pipeline is %s", core.ErrUpdateInProgress, cur)
	}
	if err := p.cfg.Registry.Claim(target, holderUpdate); err != nil {
		return nil, err
	}

	job := &Job{
		ID:      uuid.NewString(),
		Target:  target,
		Source:  src,
		Started: p.cfg.Clock.Now(),
	}
	if err := p.fsm.Event(context.Background(), EventStart, job); err != nil {
		p.cfg.Registry.Release(target)
		return nil, err
	}

	jl := log.FromContext(ctx).WithValues("job", job.ID, "bank", target)
	jl.Info("Update accepted", "url", src.Redacted())
	p.t.Go(func() error {
		p.run(log.WithContext(p.t.Context(nil), jl), job)
		return nil
	})
	return job, nil
}

func (p *Pipeline) parseSource(req Request) (*Source, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("%w: from_url is required", core.ErrInvalidRequest)
	}
	if (req.Username == nil) != (req.Password == nil) {
		return nil, fmt.Errorf("%w: specify both username and password, or neither", core.ErrInvalidRequest)
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: from_url: %v", core.ErrInvalidRequest, err)
	}
	if r, ok := p.cfg.Fetcher.(Router); ok && !r.Supports(u.Scheme) {
		return nil, fmt.Errorf("%w: unsupported source scheme %q", core.ErrInvalidRequest, u.Scheme)
	}

	return &Source{
		URL:      u,
		Username: ptr.Deref(req.Username, ""),
		Password: ptr.Deref(req.Password, ""),
	}, nil
}

// Status returns the current phase and progress, and consumes the last failure.
func (p *Pipeline) Status() Status {
	st := Status{
		Phase:    p.fsm.Current(),
		Progress: p.progress.Get(),
	}

	p.errMu.Lock()
	st.LastError, p.lastErr = p.lastErr, ""
	p.errMu.Unlock()
	return st
}

// Idle reports whether no job is running.
func (p *Pipeline) Idle() bool {
	return p.fsm.Current() == StateIdle
}

func (p *Pipeline) setLastError(msg string) {
	p.errMu.Lock()
	p.lastErr = msg
	p.errMu.Unlock()
}

// Close cancels a running job and waits for it to wind down.
func (p *Pipeline) Close() error {
	// Start must not reach t.Go once the keeper goroutine has returned.
	p.startMu.Lock()
	p.t.Kill(nil)
	p.startMu.Unlock()
	return p.t.Wait()
}

func (p *Pipeline) run(ctx context.Context, job *Job) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	l := log.FromContext(ctx)
	err := p.execute(ctx, job)
	p.cfg.Registry.Release(job.Target)
	metrics.UpdateDuration.Observe(p.cfg.Clock.Now().Sub(job.Started).Seconds())

	if err != nil {
		l.Error(err, "Update failed", "phase", p.fsm.Current())
		if ferr := p.fsm.Event(context.Background(), EventFail, err); ferr != nil {
			l.Error(ferr, "Failed to record pipeline failure")
		}
		return
	}

	if err := p.fsm.Event(context.Background(), EventDone); err != nil {
		l.Error(err, "Failed to finish pipeline")
		return
	}
	l.Info("Update completed")
}

func (p *Pipeline) execute(ctx context.Context, job *Job) error {
	stage := filepath.Join(p.cfg.StagingDir, "job-"+job.ID+".tar.zst")
	defer os.Remove(stage)

	if err := p.download(ctx, job, stage); err != nil {
		return fmt.Errorf("%w: %v", core.ErrDownloadFailed, err)
	}

	if err := p.transition(EventVerify); err != nil {
		return err
	}
	m, err := verify(ctx, stage, func(n, total int64) {
		p.progress.Advance(span(verifyStart, extractStart, n, total))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrVerificationFailed, err)
	}
	log.FromContext(ctx).Info("Artifact verified", "version", m.Version, "entries", m.Entries)

	if err := p.transition(EventExtract); err != nil {
		return err
	}
	mount, err := p.extract(ctx, job, stage)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrExtractionFailed, err)
	}

	if err := p.transition(EventFinalize); err != nil {
		_ = mount.Unmount()
		return err
	}
	if err := p.finalize(ctx, job, mount, m.Version); err != nil {
		return fmt.Errorf("%w: finalize: %v", core.ErrExtractionFailed, err)
	}
	return nil
}

func (p *Pipeline) transition(event string) error {
	return p.fsm.Event(context.Background(), event)
}

func (p *Pipeline) download(ctx context.Context, job *Job, stage string) error {
	f, err := os.Create(stage)
	if err != nil {
		return err
	}
	defer f.Close()

	watch, ctx, stop := watchStall(ctx, p.cfg.Clock, p.cfg.StallTimeout)
	defer stop()

	var last int64
	err = p.cfg.Fetcher.Fetch(ctx, job.Source, watch.Wrap(f), func(n, total int64) {
		metrics.DownloadedBytes.Add(float64(n - last))
		last = n
		p.progress.Advance(span(downloadStart, verifyStart, n, total))
	})
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	log.FromContext(ctx).Info("Artifact downloaded", "bytes", last)
	return f.Close()
}

// extract writes the artifact into the target bank. The bank is recorded as
// incomplete before the first byte is written and stays so until finalize succeeds.
func (p *Pipeline) extract(ctx context.Context, job *Job, stage string) (*core.Mount, error) {
	// The format below destroys the old contents, so the registry must stop
	// advertising them before it runs, even if this job later fails.
	if err := p.cfg.Registry.MarkBankIncomplete(job.Target); err != nil {
		return nil, err
	}
	if err := p.cfg.HAL.FormatBank(ctx, job.Target); err != nil {
		return nil, fmt.Errorf("format bank %s: %w", job.Target, err)
	}
	mount, err := p.cfg.HAL.MountBank(ctx, job.Target)
	if err != nil {
		return nil, fmt.Errorf("mount bank %s: %w", job.Target, err)
	}

	files, err := extract(ctx, stage, mount.Root, func(n, total int64) {
		p.progress.Advance(span(extractStart, finalizeStart, n, total))
	})
	if err != nil {
		if uerr := mount.Unmount(); uerr != nil {
			log.FromContext(ctx).Error(uerr, "Failed to unmount bank after extraction failure")
		}
		return nil, err
	}

	log.FromContext(ctx).Info("Artifact extracted", "files", files)
	return mount, nil
}

func (p *Pipeline) finalize(ctx context.Context, job *Job, mount *core.Mount, version string) error {
	p.progress.Advance(finalizeStart)
	now := p.cfg.Clock.Now()

	err := func() error {
		if err := hal.WriteExtractedAt(mount.Root, now); err != nil {
			return err
		}
		if _, err := copyConfig(p.cfg.HAL.RunningRoot(), mount.Root, p.cfg.ConfigFiles); err != nil {
			return err
		}
		return p.cfg.HAL.PrepareBank(ctx, job.Target, mount.Root)
	}()
	if uerr := mount.Unmount(); err == nil {
		err = uerr
	}
	if err != nil {
		return err
	}

	p.progress.Advance(done)
	return p.cfg.Registry.MarkBankUpdated(job.Target, version, now)
}

// CopyConfig refreshes the configuration files of the non-running bank from the
// running one and re-applies the device fixups.
func (p *Pipeline) CopyConfig(ctx context.Context) error {
	target := p.cfg.Registry.OurBank().Other()
	if err := p.cfg.Registry.Claim(target, holderCopyConfig); err != nil {
		return err
	}
	defer p.cfg.Registry.Release(target)

	mount, err := p.cfg.HAL.MountBank(ctx, target)
	if err != nil {
		return fmt.Errorf("mount bank %s: %w", target, err)
	}

	n, err := copyConfig(p.cfg.HAL.RunningRoot(), mount.Root, p.cfg.ConfigFiles)
	if err == nil {
		err = p.cfg.HAL.PrepareBank(ctx, target, mount.Root)
	}
	if uerr := mount.Unmount(); err == nil {
		err = uerr
	}
	if err != nil {
		return err
	}

	log.FromContext(ctx).Info("Copied config to other bank", "bank", target, "files", n)
	return nil
}
