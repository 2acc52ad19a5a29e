package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoReq struct {
	Text string `json:"text"`
}

type echoResp struct {
	Text string `json:"text"`
	ID   string `json:"id"`
}

func newTestMux(t *testing.T) *Mux {
	t.Helper()
	mux := NewMux()
	require.NoError(t, mux.HandleFunc("test/echo", func(ctx context.Context, msg Message) (interface{}, error) {
		var req echoReq
		if err := msg.Decode(&req); err != nil {
			return nil, err
		}
		return echoResp{Text: req.Text, ID: msg.ID}, nil
	}))
	require.NoError(t, mux.HandleFunc("test/fail", func(ctx context.Context, msg Message) (interface{}, error) {
		return nil, errors.New("jar locked")
	}))
	require.NoError(t, mux.HandleFunc("test/empty", func(ctx context.Context, msg Message) (interface{}, error) {
		return nil, nil
	}))
	require.NoError(t, mux.HandleFunc("test/slow", func(ctx context.Context, msg Message) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	return mux
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "ptw.bridge.cookie.get", Subject("ptw.bridge", "cookie/get"))
	assert.Equal(t, "p.ping", Subject("p", "ping"))
}

func TestValidateType(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"cookie/get", true},
		{"ping", true},
		{"", false},
		{"cookie/", false},
		{"/get", false},
		{"cookie.get", false},
		{"cookie/*", false},
		{"a b", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := ValidateType(tt.in)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidType)
			}
		})
	}
}

func TestMux_TypesSorted(t *testing.T) {
	mux := newTestMux(t)
	assert.Equal(t, []string{"test/echo", "test/empty", "test/fail", "test/slow"}, mux.Types())
	assert.ErrorIs(t, mux.HandleFunc("", nil), ErrInvalidType)
}

func TestLocal_RoundTrip(t *testing.T) {
	client := NewLocal(newTestMux(t))

	var resp echoResp
	err := client.Request(context.Background(), "test/echo", echoReq{Text: "hi"}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.NotEmpty(t, resp.ID)

	// Nil out discards the payload
	require.NoError(t, client.Request(context.Background(), "test/echo", echoReq{Text: "x"}, nil))
	require.NoError(t, client.Request(context.Background(), "test/empty", nil, &resp))
}

func TestLocal_Errors(t *testing.T) {
	client := NewLocal(newTestMux(t))

	err := client.Request(context.Background(), "test/missing", nil, nil)
	assert.ErrorIs(t, err, ErrNoHandler)

	err = client.Request(context.Background(), "test/fail", nil, nil)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "jar locked")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = client.Request(ctx, "test/slow", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func connectTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	server, err := StartEmbedded("127.0.0.1", -1)
	require.NoError(t, err)
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATS_RoundTrip(t *testing.T) {
	nc := connectTestNATS(t)
	tl := logging.NewTestLogger()

	srv, err := Serve(nc, "ptw.test", newTestMux(t), tl.Logger, time.Second)
	require.NoError(t, err)
	defer srv.Close()

	client := NewNATSClient(nc, "ptw.test", 2*time.Second)

	var resp echoResp
	require.NoError(t, client.Request(context.Background(), "test/echo", echoReq{Text: "whisper"}, &resp))
	assert.Equal(t, "whisper", resp.Text)
	assert.NotEmpty(t, resp.ID)

	require.NoError(t, client.Request(context.Background(), "test/empty", nil, &resp))
}

func TestNATS_RemoteError(t *testing.T) {
	nc := connectTestNATS(t)
	tl := logging.NewTestLogger()

	srv, err := Serve(nc, "ptw.test", newTestMux(t), tl.Logger, time.Second)
	require.NoError(t, err)
	defer srv.Close()

	client := NewNATSClient(nc, "ptw.test", 2*time.Second)
	err = client.Request(context.Background(), "test/fail", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "jar locked")

	tl.AssertField(t, "bridge handler failed", "type", "test/fail")
}

func TestNATS_NoResponders(t *testing.T) {
	nc := connectTestNATS(t)

	client := NewNATSClient(nc, "ptw.test", time.Second)
	err := client.Request(context.Background(), "cookie/get", nil, nil)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestNATS_CloseUnsubscribes(t *testing.T) {
	nc := connectTestNATS(t)

	srv, err := Serve(nc, "ptw.test", newTestMux(t), logging.NewNop(), time.Second)
	require.NoError(t, err)
	require.NoError(t, srv.Close())
	require.NoError(t, nc.Flush())

	client := NewNATSClient(nc, "ptw.test", time.Second)
	err = client.Request(context.Background(), "test/echo", echoReq{Text: "x"}, nil)
	assert.ErrorIs(t, err, ErrNoHandler)
}
