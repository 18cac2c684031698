package pnl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/store/memory"
)

func TestRecordDisposal_ConsumesLotsFIFO(t *testing.T) {
	st := memory.New()
	engine := New(st, nil, logging.New("test", "error", "text"))
	ctx := context.Background()
	wallet, mint := "wallet-1", "usdc"

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, engine.RecordAcquisition(ctx, wallet, mint, 10, 1.00, base, "tx-1"))
	require.NoError(t, engine.RecordAcquisition(ctx, wallet, mint, 10, 1.50, base.Add(time.Hour), "tx-2"))

	// Dispose 15 units at 2.00/unit: fully consumes the first (10 @ 1.00)
	// lot and half of the second (5 @ 1.50) lot, oldest first.
	gain, err := engine.RecordDisposal(ctx, wallet, mint, 15, 2.00, 0, base.Add(2*time.Hour), "tx-3")
	require.NoError(t, err)

	// proceeds = 15*2.00 = 30.00; cost = 10*1.00 + 5*1.50 = 17.50; gain = 12.50
	assert.InDelta(t, 12.50, gain, 1e-9)

	remaining, err := st.ListOpenLots(ctx, wallet, mint)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.InDelta(t, 5.0, remaining[0].RemainingQty, 1e-9)
	assert.Equal(t, "tx-2", remaining[0].AcquiredTxSig)
}

func TestRecompute_ReportsStaleWithoutPriceSource(t *testing.T) {
	st := memory.New()
	engine := New(st, nil, logging.New("test", "error", "text"))
	ctx := context.Background()

	require.NoError(t, engine.RecordAcquisition(ctx, "wallet-2", "sol", 3, 100, time.Now(), "tx-a"))

	snaps, err := engine.Recompute(ctx, "wallet-2", "sol")
	require.NoError(t, err)
	require.Len(t, snaps, len(domain.PnLPeriods))
	for _, snap := range snaps {
		assert.True(t, snap.UnrealizedStale)
		assert.Zero(t, snap.UnrealizedUSD)
	}
}

func TestRecompute_RealizedScopedToPeriodWindow(t *testing.T) {
	st := memory.New()
	engine := New(st, nil, logging.New("test", "error", "text"))
	ctx := context.Background()
	wallet, mint := "wallet-3", "usdc"

	require.NoError(t, engine.RecordAcquisition(ctx, wallet, mint, 10, 1.00, time.Now().Add(-40*24*time.Hour), "tx-old"))
	// Disposed 40 days ago: outside every bounded window, still in "all".
	_, err := engine.RecordDisposal(ctx, wallet, mint, 10, 2.00, 0, time.Now().Add(-40*24*time.Hour), "tx-old-disposal")
	require.NoError(t, err)

	require.NoError(t, engine.RecordAcquisition(ctx, wallet, mint, 5, 1.00, time.Now(), "tx-new"))
	gain, err := engine.RecordDisposal(ctx, wallet, mint, 5, 3.00, 1.0, time.Now(), "tx-new-disposal")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, gain, 1e-9) // 5*3.00 - 5*1.00 - 1.0 fee

	snaps, err := engine.Recompute(ctx, wallet, mint)
	require.NoError(t, err)

	byPeriod := make(map[domain.PnLPeriod]domain.PnLSnapshot, len(snaps))
	for _, s := range snaps {
		byPeriod[s.Period] = s
	}

	assert.InDelta(t, 9.0, byPeriod[domain.PnLPeriod24h].RealizedUSD, 1e-9, "24h window must exclude the 40-day-old disposal")
	assert.InDelta(t, 19.0, byPeriod[domain.PnLPeriodAll].RealizedUSD, 1e-9, "all-time window includes every disposal")
	assert.InDelta(t, 1.0, byPeriod[domain.PnLPeriodAll].FeesPaidUSD, 1e-9)
}
