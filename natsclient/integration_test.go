//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_RequestReply(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	responder, err := NewClient(tc.URL)
	require.NoError(t, err)
	require.NoError(t, responder.Connect(ctx))
	defer responder.Close(ctx)

	conn, err := responder.connection()
	require.NoError(t, err)
	_, err = conn.Subscribe("lgr.echo", func(msg *nats.Msg) {
		_ = msg.Respond(append([]byte("echo:"), msg.Data...))
	})
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	reply, err := tc.Client.Request(reqCtx, "lgr.echo", []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(reply))
}

func TestIntegration_SubscribeAndPublish(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	received := make(chan string, 1)
	sub, err := tc.Client.Subscribe(ctx, "lgr.feed.1", func(_ context.Context, data []byte) {
		received <- string(data)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tc.Client.Subscriptions())

	require.NoError(t, tc.Client.Publish(ctx, "lgr.feed.1", []byte("rec")))

	select {
	case got := <-received:
		assert.Equal(t, "rec", got)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, tc.Client.Subscriptions())
}

func TestIntegration_NoResponders(t *testing.T) {
	tc := NewTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := tc.Client.Request(ctx, "nobody.home", nil)
	assert.ErrorIs(t, err, ErrNoResponders)
}
