package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autopeer-io/bankupdate/pkg/log"
	"github.com/autopeer-io/bankupdate/pkg/mqtt"
	"github.com/autopeer-io/bankupdate/pkg/mqtt/topic"
	"github.com/autopeer-io/bankupdate/pkg/options"
)

// mqttTransport publishes requests to one device and matches replies by correlation
// data on a reply topic private to this caller.
type mqttTransport struct {
	client  mqtt.Client
	owned   bool
	request string
	reply   string

	subMu      sync.Mutex
	subscribed bool

	mu      sync.Mutex
	pending map[string]chan []byte
}

// DialMQTT connects to the broker in opts and returns a client for the device named by
// opts.DeviceID.
func DialMQTT(ctx context.Context, opts *options.MqttOptions, copts ...Option) (*Client, error) {
	callerID := "bankctl-" + uuid.NewString()[:8]
	cfg := opts.ToClientConfig()
	if opts.ClientID == "" {
		cfg.ClientID = callerID
	}
	cfg.CleanStart = true

	mc, err := mqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := mc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mqtt client: %w", err)
	}

	c := NewMQTT(mc, opts.TopicRoot, opts.DeviceID, callerID, copts...)
	c.rt.(*mqttTransport).owned = true

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := mc.AwaitConnection(waitCtx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrTransportTimeout, opts.Broker, err)
	}
	return c, nil
}

// NewMQTT returns a client over a started MQTT client. Replies arrive on a topic
// derived from callerID.
func NewMQTT(mc mqtt.Client, root, deviceID, callerID string, opts ...Option) *Client {
	tb := topic.NewTopicBuilder(root)
	return newClient(&mqttTransport{
		client:  mc,
		request: tb.BankRequest(deviceID),
		reply:   tb.BankReply(callerID),
		pending: map[string]chan []byte{},
	}, opts...)
}

func (m *mqttTransport) roundTrip(ctx context.Context, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.subscribe(ctx); err != nil {
		return nil, m.timeoutOr(ctx, timeout, fmt.Errorf("subscribe %s: %w", m.reply, err))
	}

	corr := uuid.NewString()
	ch := make(chan []byte, 1)
	m.mu.Lock()
	m.pending[corr] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, corr)
		m.mu.Unlock()
	}()

	if err := m.client.Publish(ctx, &mqtt.Message{
		Topic:           m.request,
		Payload:         body,
		QoS:             topic.QoS,
		ContentType:     topic.ContentTypeJSON,
		ResponseTopic:   m.reply,
		CorrelationData: []byte(corr),
	}); err != nil {
		return nil, m.timeoutOr(ctx, timeout, fmt.Errorf("publish %s: %w", m.request, err))
	}

	select {
	case raw := <-ch:
		return raw, nil
	case <-ctx.Done():
		return nil, m.timeoutOr(ctx, timeout, ctx.Err())
	}
}

// timeoutOr reports err as a transport timeout when the wait ran out.
func (m *mqttTransport) timeoutOr(ctx context.Context, timeout time.Duration, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		log.Debug("Request timed out", "topic", m.request, "timeout", timeout)
		return fmt.Errorf("%w after %s waiting for %s", ErrTransportTimeout, timeout, m.request)
	}
	return err
}

func (m *mqttTransport) subscribe(ctx context.Context) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subscribed {
		return nil
	}
	if err := m.client.Subscribe(ctx, m.reply, topic.QoS, m.onReply); err != nil {
		return err
	}
	m.subscribed = true
	return nil
}

func (m *mqttTransport) onReply(_ context.Context, msg *mqtt.Message) {
	m.mu.Lock()
	ch, ok := m.pending[string(msg.CorrelationData)]
	m.mu.Unlock()
	if !ok {
		log.Debug("Dropping uncorrelated reply", "topic", msg.Topic)
		return
	}
	select {
	case ch <- msg.Payload:
	default:
	}
}

func (m *mqttTransport) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.subMu.Lock()
	if m.subscribed {
		_ = m.client.Unsubscribe(ctx, m.reply)
		m.subscribed = false
	}
	m.subMu.Unlock()

	if m.owned {
		m.client.Disconnect(ctx)
	}
	return nil
}
