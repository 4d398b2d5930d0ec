// Package bankd runs the bank update controller.
package bankd

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/bankupdate/internal/bankd/pipeline"
	"github.com/autopeer-io/bankupdate/internal/bankd/registry"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// Server is an endpoint served until its context ends.
type Server interface {
	Start(ctx context.Context) error
}

type Daemon struct {
	registry *registry.Registry
	pipeline *pipeline.Pipeline

	servers   []Server
	waitReady []<-chan struct{}
}

// Run serves every endpoint until ctx is done or one of them fails, then stops the
// pipeline and closes the registry.
func (d *Daemon) Run(ctx context.Context) error {
	snap := d.registry.Snapshot()
	log.Info("Starting bankupdated", "ourBank", snap.OurBank, "ourVersion", snap.Our().Version)

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range d.servers {
		s := s
		g.Go(func() error {
			return s.Start(gctx)
		})
	}

	err := g.Wait()
	log.Info("Shutting down bankupdated")
	return errors.Join(err, d.close())
}

func (d *Daemon) ready() bool {
	for _, ch := range d.waitReady {
		select {
		case <-ch:
		default:
			return false
		}
	}
	return true
}

func (d *Daemon) close() error {
	return errors.Join(d.pipeline.Close(), d.registry.Close())
}
