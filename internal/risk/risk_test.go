package risk

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

func TestAnalyze_FlagsDenylistedCounterparty(t *testing.T) {
	st := memory.New()
	cfg := DefaultConfig()
	cfg.Denylist = map[string]bool{"bad-actor": true}
	engine := New(cfg, st, logging.New("test", "error", "text"))

	err := engine.Analyze(context.Background(), domain.Transaction{
		Signature:    "sig-1",
		WalletAddr:   "wallet-1",
		Counterparty: "bad-actor",
		Amount:       10,
		// Midday UTC, outside the default quiet window, so the denylist is
		// the only signal raised.
		BlockTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	profile, ok, err := st.GetRiskProfile(context.Background(), "wallet-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, profile.Denylisted)

	anomalies, err := st.ListAnomalies(context.Background(), "wallet-1")
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "denylist", anomalies[0].Kind)
}

func TestAnalyze_FlagsFrequencyBurst(t *testing.T) {
	st := memory.New()
	cfg := DefaultConfig()
	cfg.FrequencyThreshold = 3
	cfg.FrequencyWindow = time.Minute
	engine := New(cfg, st, logging.New("test", "error", "text"))

	now := time.Now()
	for i := 0; i < 3; i++ {
		err := engine.Analyze(context.Background(), domain.Transaction{
			Signature:  "sig-" + string(rune('a'+i)),
			WalletAddr: "wallet-2",
			Amount:     1,
			BlockTime:  now,
		})
		require.NoError(t, err)
	}

	anomalies, err := st.ListAnomalies(context.Background(), "wallet-2")
	require.NoError(t, err)

	found := false
	for _, a := range anomalies {
		if a.Kind == "frequency" {
			found = true
		}
	}
	assert.True(t, found, "expected a frequency anomaly once the count reaches the threshold within the window")
}

func TestAnalyze_FlagsZScoreOutlier(t *testing.T) {
	st := memory.New()
	cfg := DefaultConfig()
	engine := New(cfg, st, logging.New("test", "error", "text"))
	ctx := context.Background()

	baseline := []float64{9, 10, 11, 9, 10, 11, 9, 10, 11, 10}
	for i, amount := range baseline {
		require.NoError(t, engine.Analyze(ctx, domain.Transaction{
			Signature:  "baseline-" + string(rune('a'+i)),
			WalletAddr: "wallet-3",
			Amount:     amount,
			BlockTime:  time.Now(),
		}))
	}

	require.NoError(t, engine.Analyze(ctx, domain.Transaction{
		Signature:  "outlier-1",
		WalletAddr: "wallet-3",
		Amount:     100000,
		BlockTime:  time.Now(),
	}))

	anomalies, err := st.ListAnomalies(ctx, "wallet-3")
	require.NoError(t, err)

	found := false
	for _, a := range anomalies {
		if a.Kind == "z-score" {
			found = true
		}
	}
	assert.True(t, found)
}

type recordingPublisher struct {
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) {
	p.events = append(p.events, event)
}

func TestAnalyze_PublishesSecurityAnomalyAboveCompositeThreshold(t *testing.T) {
	st := memory.New()
	cfg := DefaultConfig()
	cfg.Denylist = map[string]bool{"bad-actor": true}
	pub := &recordingPublisher{}
	engine := New(cfg, st, logging.New("test", "error", "text")).WithPublisher(pub)
	ctx := context.Background()

	baseline := []float64{9, 10, 11, 9, 10, 11, 9, 10, 11, 10}
	for i, amount := range baseline {
		require.NoError(t, engine.Analyze(ctx, domain.Transaction{
			Signature:  "baseline-" + string(rune('a'+i)),
			WalletAddr: "wallet-4",
			Amount:     amount,
			BlockTime:  time.Now(),
		}))
	}

	// denylist (+50) combined with a large z-score outlier pushes the
	// composite score well above the 70 publish threshold.
	require.NoError(t, engine.Analyze(ctx, domain.Transaction{
		Signature:    "outlier-denylist",
		WalletAddr:   "wallet-4",
		Counterparty: "bad-actor",
		Amount:       100000,
		BlockTime:    time.Now(),
	}))

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventSecurityAnomaly, pub.events[0].Kind)

	profile, ok, err := st.GetRiskProfile(ctx, "wallet-4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, profile.Score, 0.0)
	assert.Greater(t, profile.HighRiskPercent, 0.0)
}
