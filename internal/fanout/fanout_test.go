package fanout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/logging"
)

func TestPublish_DeliversToMatchingSubscriberOnly(t *testing.T) {
	f := New(logging.New("test", "error", "text"))
	ctx := context.Background()

	received := make(chan domain.Event, 1)
	require.NoError(t, f.Subscribe(ctx, domain.Subscription{
		ID:           "sub-wallet-a",
		WalletFilter: map[string]bool{"wallet-a": true},
	}, func(_ context.Context, e domain.Event) error {
		received <- e
		return nil
	}))

	f.Publish(ctx, domain.Event{Kind: "transaction", WalletAddr: "wallet-b"})
	f.Publish(ctx, domain.Event{Kind: "transaction", WalletAddr: "wallet-a"})

	select {
	case e := <-received:
		assert.Equal(t, "wallet-a", e.WalletAddr)
	case <-time.After(time.Second):
		t.Fatal("expected matching event to be delivered")
	}
}

func TestPublish_UnsubscribesOnSinkFailure(t *testing.T) {
	f := New(logging.New("test", "error", "text"))
	ctx := context.Background()

	gotErr := make(chan struct{})
	require.NoError(t, f.Subscribe(ctx, domain.Subscription{ID: "sub-fail"}, func(_ context.Context, _ domain.Event) error {
		close(gotErr)
		return errors.New("sink exploded")
	}))

	f.Publish(ctx, domain.Event{Kind: "transaction", WalletAddr: "wallet-x"})

	select {
	case <-gotErr:
	case <-time.After(time.Second):
		t.Fatal("sink was never invoked")
	}

	assert.Eventually(t, func() bool { return f.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscribe_RejectsEmptyID(t *testing.T) {
	f := New(logging.New("test", "error", "text"))
	err := f.Subscribe(context.Background(), domain.Subscription{}, func(context.Context, domain.Event) error { return nil })
	require.Error(t, err)
}
