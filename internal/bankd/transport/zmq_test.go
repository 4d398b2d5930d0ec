package transport

import (
	"context"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, req []byte) []byte {
	return append([]byte("re:"), req...)
}

func endpointEcho(ctx context.Context, _ []byte) []byte {
	return []byte(Endpoint(ctx))
}

func TestListenAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"tcp://*:5552", "tcp://0.0.0.0:5552"},
		{"tcp://127.0.0.1:5556", "tcp://127.0.0.1:5556"},
		{"inproc://bank", "inproc://bank"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ListenAddr(tt.in))
	}
}

func TestZmqServerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint := "inproc://" + t.Name()
	srv := NewZmqServer("control", endpoint, echo)
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	req := zmq4.NewReq(ctx)
	defer req.Close()
	require.NoError(t, req.Dial(endpoint))

	for _, body := range []string{`{"command":"DetectBank"}`, `{"command":"GetStatus"}`} {
		require.NoError(t, req.Send(zmq4.NewMsgString(body)))
		msg, err := req.Recv()
		require.NoError(t, err)
		assert.Equal(t, "re:"+body, string(msg.Bytes()))
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestZmqServerNamesEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint := "inproc://" + t.Name()
	srv := NewZmqServer("probe", endpoint, endpointEcho)
	go func() { _ = srv.Start(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	req := zmq4.NewReq(ctx)
	defer req.Close()
	require.NoError(t, req.Dial(endpoint))
	require.NoError(t, req.Send(zmq4.NewMsgString("{}")))
	msg, err := req.Recv()
	require.NoError(t, err)
	assert.Equal(t, "probe", string(msg.Bytes()))
}
