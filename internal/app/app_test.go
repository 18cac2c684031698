package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmemory/core/internal/config"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/store/memory"
	"github.com/walletmemory/core/internal/store/supabase"
)

func TestNew_FallsBackToInMemoryStoreWithoutStoreURL(t *testing.T) {
	cfg := &config.Config{}
	application, err := New(cfg, logging.New("test", "error", "text"))
	require.NoError(t, err)

	_, ok := application.Store.(*memory.Store)
	assert.True(t, ok, "expected the in-memory store fallback when cfg.Store.URL is empty")
}

func TestNew_UsesSupabaseStoreWhenConfigured(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.URL = "https://example.supabase.co"
	cfg.Store.Key = "service-role-key"

	application, err := New(cfg, logging.New("test", "error", "text"))
	require.NoError(t, err)

	_, ok := application.Store.(*supabase.Store)
	assert.True(t, ok, "expected the Supabase-backed store when cfg.Store.URL is set")
}

func TestNew_RegistersAutoRegisterListAtStartup(t *testing.T) {
	cfg := &config.Config{}
	cfg.Registry.AutoRegister = true
	addr := "So11111111111111111111111111111111111111112"
	cfg.Registry.AutoRegisterList = []string{addr}

	application, err := New(cfg, logging.New("test", "error", "text"))
	require.NoError(t, err)
	assert.NotNil(t, application.Registry)

	reg, ok, err := application.Store.GetRegistration(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, ok, "every address in AutoRegisterList must be registered by New")
	assert.True(t, reg.AutoRegistered)
}
