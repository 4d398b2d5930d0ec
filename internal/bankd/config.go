package bankd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/autopeer-io/bankupdate/internal/bankd/dispatcher"
	"github.com/autopeer-io/bankupdate/internal/bankd/hal"
	"github.com/autopeer-io/bankupdate/internal/bankd/pipeline"
	"github.com/autopeer-io/bankupdate/internal/bankd/registry"
	"github.com/autopeer-io/bankupdate/internal/bankd/transport"
	"github.com/autopeer-io/bankupdate/pkg/options"
)

type Config struct {
	ZmqOptions    *options.ZmqOptions
	MqttOptions   *options.MqttOptions
	HttpOptions   *options.HttpOptions
	S3Options     *options.S3Options
	BankOptions   *options.BankOptions
	UpdateOptions *options.UpdateOptions
}

// NewDaemon opens the registry and builds the pipeline, the dispatcher and every
// endpoint. Nothing is served until Run.
func (cfg *Config) NewDaemon(ctx context.Context) (*Daemon, error) {
	h, err := hal.New(cfg.BankOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to init hal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.BankOptions.StateFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	store, err := registry.OpenBoltStore(cfg.BankOptions.StateFile)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Open(ctx, store, h)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open bank registry: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Config{
		Registry:     reg,
		HAL:          h,
		Fetcher:      pipeline.NewRouter(cfg.S3Options),
		StagingDir:   cfg.UpdateOptions.StagingDir,
		ConfigFiles:  cfg.BankOptions.ConfigFiles,
		JobTimeout:   cfg.UpdateOptions.JobTimeout,
		StallTimeout: cfg.UpdateOptions.StallTimeout,
	})
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("failed to init update pipeline: %w", err)
	}

	d := &Daemon{registry: reg, pipeline: pipe}
	disp := dispatcher.New(reg, pipe, h)
	timeout := cfg.ZmqOptions.RequestTimeout

	control := transport.NewZmqServer("control", cfg.ZmqOptions.ControlEndpoint, disp.Handler(timeout))
	d.servers = append(d.servers, control)
	d.waitReady = append(d.waitReady, control.Ready())

	if cfg.ZmqOptions.ProbeEndpoint != "" {
		probe := disp.ReadOnly()
		if cfg.ZmqOptions.ProbeReadWrite {
			probe = disp
		}
		srv := transport.NewZmqServer("probe", cfg.ZmqOptions.ProbeEndpoint, probe.Handler(timeout))
		d.servers = append(d.servers, srv)
		d.waitReady = append(d.waitReady, srv.Ready())
	}

	if cfg.MqttOptions.Enabled() {
		srv, err := transport.NewMqttServer(cfg.MqttOptions, disp.Handler(timeout))
		if err != nil {
			_ = d.close()
			return nil, fmt.Errorf("failed to init mqtt endpoint: %w", err)
		}
		d.servers = append(d.servers, srv)
	}

	if cfg.HttpOptions.Enabled() {
		d.servers = append(d.servers, transport.NewHTTPServer(cfg.HttpOptions, d.ready))
	}
	return d, nil
}
