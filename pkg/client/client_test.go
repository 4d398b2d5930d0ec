package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/bankupdate/internal/bankd/transport"
	v1 "github.com/autopeer-io/bankupdate/pkg/apis/bank/v1"
)

// serve runs a REP endpoint answering with reply(command).
func serve(t *testing.T, reply func(cmd map[string]any) any) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	endpoint := "inproc://" + t.Name()
	srv := transport.NewZmqServer("test", endpoint, func(_ context.Context, raw []byte) []byte {
		var cmd map[string]any
		if err := json.Unmarshal(raw, &cmd); err != nil {
			out, _ := json.Marshal(v1.NewError("invalid request: " + err.Error()))
			return out
		}
		out, _ := json.Marshal(reply(cmd))
		return out
	})
	go func() { _ = srv.Start(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	return endpoint
}

func TestDetectBank(t *testing.T) {
	endpoint := serve(t, func(cmd map[string]any) any {
		assert.Equal(t, v1.CommandDetectBank, cmd["command"])
		return v1.NewCurrentState(v1.BankState{OurBank: "A", OurVersion: "1.0", OurExtractTime: v1.NotAvailable})
	})
	c := New(endpoint)
	defer c.Close()

	state, err := c.DetectBank(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", state.OurBank)
	assert.Nil(t, state.DesiredBank)
	assert.Equal(t, v1.NotAvailable, state.OurExtractTime)
}

func TestUpdateEncoding(t *testing.T) {
	var got []map[string]any
	endpoint := serve(t, func(cmd map[string]any) any {
		got = append(got, cmd)
		return v1.NewOk("update accepted")
	})
	c := New(endpoint)
	defer c.Close()

	ctx := context.Background()
	_, err := c.Update(ctx, "https://example.com/fw.tar.zst", "", "", "")
	require.NoError(t, err)
	_, err = c.Update(ctx, "https://example.com/fw.tar.zst", "user", "secret", "B")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Contains(t, got[0], "username")
	assert.Nil(t, got[0]["username"])
	assert.Nil(t, got[0]["password"])
	assert.NotContains(t, got[0], "bank")
	assert.Equal(t, "user", got[1]["username"])
	assert.Equal(t, "secret", got[1]["password"])
	assert.Equal(t, "B", got[1]["bank"])
}

func TestRemoteError(t *testing.T) {
	endpoint := serve(t, func(map[string]any) any {
		return v1.NewError("invalid bank: C")
	})
	c := New(endpoint)
	defer c.Close()

	detail, err := c.SetDesiredBank(context.Background(), "C")
	require.Error(t, err)
	assert.True(t, errors.Is(err, v1.ErrRemote))
	assert.Equal(t, "invalid bank: C", detail)
}

func TestTimeoutRedials(t *testing.T) {
	block := make(chan struct{})
	calls := 0
	endpoint := serve(t, func(map[string]any) any {
		calls++
		if calls == 1 {
			<-block
		}
		return v1.NewOk("marked")
	})
	c := New(endpoint, WithTimeout(200*time.Millisecond))
	defer c.Close()

	_, err := c.SetBankOk(context.Background())
	require.ErrorIs(t, err, ErrTransportTimeout)
	close(block)

	c.timeout = 5 * time.Second
	detail, err := c.SetBankOk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "marked", detail)
}
