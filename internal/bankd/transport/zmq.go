// Package transport carries raw protocol requests to a handler and sends back its
// single reply.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/autopeer-io/bankupdate/internal/pkg/middleware"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// recvBackoff spaces out retries after a receive error.
const recvBackoff = 100 * time.Millisecond

// ZmqServer answers requests on a ZeroMQ REP socket, one at a time.
type ZmqServer struct {
	name     string
	endpoint string
	handler  middleware.HandlerFunc

	ready chan struct{}
}

func NewZmqServer(name, endpoint string, handler middleware.HandlerFunc) *ZmqServer {
	return &ZmqServer{
		name:     name,
		endpoint: endpoint,
		handler:  handler,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the socket is listening.
func (s *ZmqServer) Ready() <-chan struct{} {
	return s.ready
}

// Start serves until ctx is done.
func (s *ZmqServer) Start(ctx context.Context) error {
	sock := zmq4.NewRep(ctx)
	defer sock.Close()

	if err := sock.Listen(ListenAddr(s.endpoint)); err != nil {
		return fmt.Errorf("%s endpoint %s: %w", s.name, s.endpoint, err)
	}
	close(s.ready)
	log.Info("ZeroMQ endpoint listening", "name", s.name, "endpoint", s.endpoint)

	reqCtx := withEndpoint(ctx, s.name)
	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("ZeroMQ endpoint stopped", "name", s.name)
				return nil
			}
			log.Error(err, "ZeroMQ receive failed", "name", s.name)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(recvBackoff):
			}
			continue
		}

		reply := s.handler(reqCtx, bytes.Join(msg.Frames, nil))
		if err := sock.Send(zmq4.NewMsg(reply)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error(err, "ZeroMQ send failed", "name", s.name)
		}
	}
}

// ListenAddr rewrites the "tcp://*:port" wildcard form into an address net.Listen takes.
func ListenAddr(endpoint string) string {
	return strings.Replace(endpoint, "://*:", "://0.0.0.0:", 1)
}
