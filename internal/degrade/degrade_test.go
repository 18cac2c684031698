package degrade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmemory/core/internal/domain"
	walleterrors "github.com/walletmemory/core/internal/errors"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/resilience"
	"github.com/walletmemory/core/internal/store/memory"
)

func breakerForTest() *resilience.CircuitBreaker {
	return resilience.New(resilience.Config{Name: "test-store", MaxFailures: 1, Timeout: time.Minute, HalfOpenMax: 1})
}

func TestExecuteQuery_MapsOpenBreakerToUnavailable(t *testing.T) {
	breaker := breakerForTest()
	ctrl := New(memory.New(), breaker, 10, logging.New("test", "error", "text"))
	ctx := context.Background()

	failing := func(context.Context) error { return errors.New("boom") }
	var dest interface{}
	_ = ctrl.ExecuteQuery(ctx, "test-key", &dest, time.Minute, failing)

	err := ctrl.ExecuteQuery(ctx, "test-key", &dest, time.Minute, failing)
	require.Error(t, err)
	assert.True(t, walleterrors.Is(err, walleterrors.CodeUnavailable), "an open breaker must surface as Unavailable")
}

func TestExecuteQuery_FallsThroughToDBFnWithoutCache(t *testing.T) {
	breaker := resilience.New(resilience.Config{Name: "test-store-3", MaxFailures: 100, Timeout: time.Minute, HalfOpenMax: 1})
	ctrl := New(memory.New(), breaker, 10, logging.New("test", "error", "text"))
	ctx := context.Background()

	var dest string
	err := ctrl.ExecuteQuery(ctx, "wallet:abc:balances", &dest, time.Minute, func(context.Context) error {
		dest = "loaded-from-store"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "loaded-from-store", dest)
}

func TestExecuteWrite_QueuesOnFailureAndOverflows(t *testing.T) {
	breaker := resilience.New(resilience.Config{Name: "test-store-2", MaxFailures: 100, Timeout: time.Minute, HalfOpenMax: 1})
	st := &alwaysFailStore{Store: memory.New()}
	ctrl := New(st, breaker, 1, logging.New("test", "error", "text"))
	ctx := context.Background()

	require.NoError(t, ctrl.ExecuteWrite(ctx, domain.QueuedWrite{Kind: "insert", Table: "transactions"}))

	status := ctrl.Status()
	assert.True(t, status.Degraded)
	assert.Equal(t, 1, status.QueueDepth)

	err := ctrl.ExecuteWrite(ctx, domain.QueuedWrite{Kind: "insert", Table: "transactions"})
	require.Error(t, err)
}

// alwaysFailStore wraps memory.Store and fails every generic write so the
// degradation controller's queueing path can be exercised deterministically.
type alwaysFailStore struct {
	*memory.Store
}

func (s *alwaysFailStore) Insert(context.Context, string, interface{}) error {
	return errors.New("store unavailable")
}
