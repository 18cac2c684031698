package registry

import (
	"context"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/store/memory"
)

func validAddress(t *testing.T) string {
	t.Helper()
	return base58.Encode([]byte("0123456789012345678901234567890a"))
}

func TestValidateAddress_RejectsMalformed(t *testing.T) {
	require.Error(t, ValidateAddress(""))
	require.Error(t, ValidateAddress("not-base58!!"))
	require.Error(t, ValidateAddress(base58.Encode([]byte("short"))))
}

func TestValidateAddress_AcceptsPlausibleKey(t *testing.T) {
	require.NoError(t, ValidateAddress(validAddress(t)))
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	st := memory.New()
	reg := New(st, nil, logging.New("test", "error", "text"))
	addr := validAddress(t)

	require.NoError(t, reg.Register(context.Background(), addr, "primary"))
	err := reg.Register(context.Background(), addr, "primary")
	require.Error(t, err)
}

func TestRegisterBulk_AllOrNothing(t *testing.T) {
	st := memory.New()
	reg := New(st, nil, logging.New("test", "error", "text"))

	good := validAddress(t)
	bad := "not-valid"

	err := reg.RegisterBulk(context.Background(), []string{good, bad}, "batch")
	require.Error(t, err)

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "a failed bulk registration must not leave a partial write")
}

func TestUnregister_PausesWithoutDeletingHistory(t *testing.T) {
	st := memory.New()
	reg := New(st, nil, logging.New("test", "error", "text"))
	addr := validAddress(t)

	require.NoError(t, reg.Register(context.Background(), addr, "primary"))
	require.NoError(t, st.BumpTransactionCount(context.Background(), addr, time.Now()))

	require.NoError(t, reg.Unregister(context.Background(), addr))

	got, ok, err := st.GetRegistration(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, ok, "unregistering must not delete the registration row")
	assert.Equal(t, domain.StatePaused, got.State)
	assert.Equal(t, int64(1), got.TransactionCount, "history accumulated before unregister must survive")
}

func TestAutoRegister_IsIdempotent(t *testing.T) {
	st := memory.New()
	reg := New(st, nil, logging.New("test", "error", "text"))
	addr := validAddress(t)

	require.NoError(t, reg.AutoRegister(context.Background(), addr))
	require.NoError(t, reg.AutoRegister(context.Background(), addr))

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
}
