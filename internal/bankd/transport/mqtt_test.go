package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/bankupdate/pkg/mqtt"
)

type fakeClient struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []*mqtt.Message
	started   bool
	stopped   bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeClient) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeClient) Disconnect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeClient) Publish(_ context.Context, msg *mqtt.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ int, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeClient) AwaitConnection(context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool                     { return true }

func (f *fakeClient) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

func (f *fakeClient) sent() []*mqtt.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mqtt.Message(nil), f.published...)
}

func TestMqttServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := newFakeClient()
	srv := NewMqttServerWithClient(fc, "bankupdate/v1", "dev-1", echo)
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	const reqTopic = "bankupdate/v1/bank/request/dev-1"
	require.Eventually(t, func() bool { return fc.handler(reqTopic) != nil }, 5*time.Second, 5*time.Millisecond)
	h := fc.handler(reqTopic)

	t.Run("explicit response topic", func(t *testing.T) {
		h(ctx, &mqtt.Message{
			Topic:           reqTopic,
			Payload:         []byte("ping"),
			ResponseTopic:   "caller/replies",
			CorrelationData: []byte("c-1"),
		})
		out := fc.sent()
		require.NotEmpty(t, out)
		last := out[len(out)-1]
		assert.Equal(t, "caller/replies", last.Topic)
		assert.Equal(t, "re:ping", string(last.Payload))
		assert.Equal(t, []byte("c-1"), last.CorrelationData)
		assert.Equal(t, "application/json", last.ContentType)
	})

	t.Run("default response topic", func(t *testing.T) {
		h(ctx, &mqtt.Message{Topic: reqTopic, Payload: []byte("pong")})
		out := fc.sent()
		last := out[len(out)-1]
		assert.Equal(t, "bankupdate/v1/bank/response/dev-1", last.Topic)
		assert.Equal(t, "re:pong", string(last.Payload))
	})

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	out := fc.sent()
	last := out[len(out)-1]
	assert.Equal(t, "bankupdate/v1/online/dev-1", last.Topic)
	assert.Equal(t, "offline", string(last.Payload))
	assert.True(t, last.Retain)
	assert.True(t, fc.stopped)
}

func TestMqttServerAnnounce(t *testing.T) {
	fc := newFakeClient()
	srv := NewMqttServerWithClient(fc, "root", "dev-2", echo)
	srv.announce()

	out := fc.sent()
	require.Len(t, out, 1)
	assert.Equal(t, "root/online/dev-2", out[0].Topic)
	assert.Equal(t, "online", string(out[0].Payload))
	assert.True(t, out[0].Retain)
}
