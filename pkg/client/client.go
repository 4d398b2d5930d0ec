// Package client is the caller side of the bank update protocol, over ZeroMQ REQ/REP
// or MQTT v5 request/response.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"k8s.io/utils/ptr"

	v1 "github.com/autopeer-io/bankupdate/pkg/apis/bank/v1"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// Default waits for one request/reply exchange.
const (
	DefaultProbeTimeout   = time.Second
	DefaultControlTimeout = 8 * time.Second
)

// ErrTransportTimeout is returned when no reply arrives within the wait.
var ErrTransportTimeout = errors.New("transport timeout")

// roundTripper carries one encoded request and returns its reply.
type roundTripper interface {
	roundTrip(ctx context.Context, body []byte, timeout time.Duration) ([]byte, error)
	close() error
}

// Client sends one command at a time to a controller.
type Client struct {
	rt      roundTripper
	timeout time.Duration
}

// zmqTransport speaks REQ/REP. A timed out exchange closes the socket; the next call
// dials again.
type zmqTransport struct {
	endpoint string

	mu     sync.Mutex
	sock   zmq4.Socket
	cancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every exchange.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New returns a client for a control endpoint such as "tcp://device:5552".
func New(endpoint string, opts ...Option) *Client {
	return newClient(&zmqTransport{endpoint: endpoint}, opts...)
}

func newClient(rt roundTripper, opts ...Option) *Client {
	c := &Client{rt: rt, timeout: DefaultControlTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewProbe returns a client with the short probe wait.
func NewProbe(endpoint string, opts ...Option) *Client {
	return New(endpoint, append([]Option{WithTimeout(DefaultProbeTimeout)}, opts...)...)
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.rt.close()
}

// Do sends a command and decodes its reply. Error responses are returned both as the
// decoded response and as a *v1.RemoteError.
func (c *Client) Do(ctx context.Context, cmd any) (*v1.Response, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	raw, err := c.rt.roundTrip(ctx, body, c.timeout)
	if err != nil {
		return nil, err
	}
	var resp v1.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, resp.Err()
}

func (c *Client) DetectBank(ctx context.Context) (*v1.BankState, error) {
	resp, err := c.Do(ctx, v1.NewCommand(v1.CommandDetectBank))
	if err != nil {
		return nil, err
	}
	if resp.State == nil {
		return nil, fmt.Errorf("unexpected %s response to %s", resp.Status, v1.CommandDetectBank)
	}
	return resp.State, nil
}

func (c *Client) GetStatus(ctx context.Context) (*v1.Response, error) {
	resp, err := c.Do(ctx, v1.NewCommand(v1.CommandGetStatus))
	if err != nil {
		return nil, err
	}
	if resp.Banks == nil {
		return nil, fmt.Errorf("unexpected %s response to %s", resp.Status, v1.CommandGetStatus)
	}
	return resp, nil
}

func (c *Client) SetDesiredBank(ctx context.Context, bank string) (string, error) {
	return c.detail(ctx, v1.NewSetDesiredBank(bank))
}

// Update starts an update. Empty credentials are sent as null. bank, when non-empty,
// names the target explicitly.
func (c *Client) Update(ctx context.Context, fromURL, username, password, bank string) (string, error) {
	cmd := v1.NewUpdate(fromURL, nil, nil)
	if username != "" || password != "" {
		cmd.Username = ptr.To(username)
		cmd.Password = ptr.To(password)
	}
	if bank != "" {
		cmd.Bank = ptr.To(bank)
	}
	return c.detail(ctx, cmd)
}

func (c *Client) FormatOtherBank(ctx context.Context) (string, error) {
	return c.detail(ctx, v1.NewCommand(v1.CommandFormatOtherBank))
}

func (c *Client) SetBankOk(ctx context.Context) (string, error) {
	return c.detail(ctx, v1.NewCommand(v1.CommandSetBankOk))
}

func (c *Client) CopyConfig(ctx context.Context) (string, error) {
	return c.detail(ctx, v1.NewCommand(v1.CommandCopyConfig))
}

func (c *Client) detail(ctx context.Context, cmd any) (string, error) {
	resp, err := c.Do(ctx, cmd)
	if resp == nil {
		return "", err
	}
	return resp.Detail, err
}

func (z *zmqTransport) close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.reset()
}

func (z *zmqTransport) roundTrip(ctx context.Context, body []byte, timeout time.Duration) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	sock, fresh := z.open()

	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		// Dialing retries while the endpoint is down, so it shares the wait.
		if fresh {
			if err := sock.Dial(z.endpoint); err != nil {
				done <- result{err: fmt.Errorf("dial %s: %w", z.endpoint, err)}
				return
			}
		}
		if err := sock.Send(zmq4.NewMsg(body)); err != nil {
			done <- result{err: fmt.Errorf("send: %w", err)}
			return
		}
		msg, err := sock.Recv()
		if err != nil {
			err = fmt.Errorf("receive: %w", err)
		}
		done <- result{msg: msg, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			// A REQ socket that lost its reply is stuck; start over next time.
			_ = z.reset()
			return nil, r.err
		}
		return r.msg.Bytes(), nil
	case <-timer.C:
		_ = z.reset()
		log.Debug("Request timed out", "endpoint", z.endpoint, "timeout", timeout)
		return nil, fmt.Errorf("%w after %s waiting for %s", ErrTransportTimeout, timeout, z.endpoint)
	case <-ctx.Done():
		_ = z.reset()
		return nil, ctx.Err()
	}
}

// open returns the current socket, creating an undialed one when there is none.
func (z *zmqTransport) open() (zmq4.Socket, bool) {
	if z.sock != nil {
		return z.sock, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	z.sock, z.cancel = zmq4.NewReq(ctx), cancel
	return z.sock, true
}

func (z *zmqTransport) reset() error {
	if z.sock == nil {
		return nil
	}
	z.cancel()
	err := z.sock.Close()
	z.sock, z.cancel = nil, nil
	return err
}
