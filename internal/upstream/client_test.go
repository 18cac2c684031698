package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	walleterrors "github.com/walletmemory/core/internal/errors"
)

func TestMessage_ValidateRejectsMissingFields(t *testing.T) {
	require.Error(t, Message{}.Validate())
	require.Error(t, Message{Kind: "transaction"}.Validate())
	require.NoError(t, Message{Kind: "error"}.Validate(), "non-transaction frames need no wallet_addr")
	require.NoError(t, Message{Kind: "pong"}.Validate())
	require.NoError(t, Message{Kind: "transaction", WalletAddr: "wallet-1"}.Validate())
}

func TestReconnectSchedule_IsCappedExponentialLadder(t *testing.T) {
	require.Len(t, ReconnectSchedule, 5)
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, ReconnectSchedule)
}

func TestClient_StopAfterCancelledStartReturnsOnceDone(t *testing.T) {
	c := New("ws://example.invalid", "", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, c.Stop(stopCtx))
}

func TestClient_SubscribeTracksAuthoritativeSet(t *testing.T) {
	c := New("ws://example.invalid", "", nil, nil)

	err := c.Subscribe("wallet-a")
	require.True(t, walleterrors.Is(err, walleterrors.CodeNotConnected), "no session is open yet")

	require.True(t, walleterrors.Is(c.Subscribe("wallet-b"), walleterrors.CodeNotConnected))
	require.True(t, walleterrors.Is(c.Unsubscribe("wallet-a"), walleterrors.CodeNotConnected))

	assert.False(t, c.subscriptions["wallet-a"])
	assert.True(t, c.subscriptions["wallet-b"])
}

func TestClient_RunTwiceConcurrentlyReturnsAlreadyConnecting(t *testing.T) {
	c := New("ws://example.invalid", "", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = c.Run(ctx)
	}()
	<-started
	// Give the first Run a moment to flip c.connecting before the second call.
	time.Sleep(10 * time.Millisecond)

	err := c.Run(context.Background())
	require.True(t, walleterrors.Is(err, walleterrors.CodeAlreadyConnecting))
	cancel()
}
