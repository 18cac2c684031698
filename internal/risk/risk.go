// Package risk implements wallet risk analysis (component C7): z-score
// outlier detection over recent transfer amounts, frequency-burst
// detection, denylist matching, and a circadian (unusual-hour) heuristic,
// combined into a composite per-transaction score and aggregated into a
// per-wallet RiskProfile. Grounded on the teacher's per-wallet aggregate
// analytics pattern (gasbank/settlement risk scoring); the z-score/frequency
// statistics themselves use only the standard library math package, since
// no statistics library appears anywhere in the retrieval pack (justified
// in DESIGN.md).
package risk

import (
	"context"
	"math"
	"time"

	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/metrics"
	"github.com/walletmemory/core/internal/store"
)

// Config tunes the risk heuristics.
type Config struct {
	ZScoreThreshold    float64
	FrequencyWindow    time.Duration
	FrequencyThreshold int
	QuietHourStart     int // 0-23, UTC hour considered "unusual" start
	QuietHourEnd       int
	Denylist           map[string]bool
}

// DefaultConfig returns reasonable thresholds.
func DefaultConfig() Config {
	return Config{
		ZScoreThreshold:    3.0,
		FrequencyWindow:    time.Hour,
		FrequencyThreshold: 20,
		QuietHourStart:     2,
		QuietHourEnd:       5,
		Denylist:           map[string]bool{},
	}
}

// Publisher fans out a domain.Event to live subscribers. Implemented by the
// fanout package; defined here to avoid a cyclic import.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// Engine evaluates incoming transactions for anomalies and maintains
// per-wallet risk profiles.
type Engine struct {
	cfg   Config
	store store.Store
	log   *logging.Logger

	history map[string][]float64   // recent amounts per wallet, bounded
	events  map[string][]time.Time // recent event times per wallet, bounded

	totalEvaluated    map[string]int64 // transactions analyzed per wallet
	highRiskEvaluated map[string]int64 // transactions scoring >= 70 per wallet

	metrics   *metrics.Metrics
	publisher Publisher
}

const historyWindow = 50

// minZScoreSamples is the minimum amount-history size before a z-score is
// considered meaningful enough to act on.
const minZScoreSamples = 10

// New constructs an Engine.
func New(cfg Config, st store.Store, log *logging.Logger) *Engine {
	return &Engine{
		cfg:               cfg,
		store:             st,
		log:               log,
		history:           make(map[string][]float64),
		events:            make(map[string][]time.Time),
		totalEvaluated:    make(map[string]int64),
		highRiskEvaluated: make(map[string]int64),
	}
}

// WithMetrics attaches m so every detected anomaly increments the
// anomalies-detected counter, labeled by kind.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithPublisher attaches p so a composite score of 70 or above publishes a
// security-anomaly event.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

const highRiskScore = 70

// classifySeverity maps a composite [0,100] score to a RiskSeverity tier.
func classifySeverity(score float64) domain.RiskSeverity {
	switch {
	case score > 90:
		return domain.SeverityCritical
	case score >= highRiskScore:
		return domain.SeverityHigh
	case score >= 40:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Analyze evaluates tx for anomalies, computes a composite [0,100] score for
// the transaction, records one Anomaly per triggered signal, and updates the
// wallet's aggregate RiskProfile. A composite score >= 70 publishes a
// security-anomaly event when a Publisher is attached.
func (e *Engine) Analyze(ctx context.Context, tx domain.Transaction) error {
	denylisted := e.cfg.Denylist[tx.Counterparty]
	z, zOK := e.zScore(tx.WalletAddr, tx.Amount)
	zHit := zOK && math.Abs(z) >= e.cfg.ZScoreThreshold
	freqCount, freqHit := e.recordAndCheckFrequency(tx.WalletAddr, tx.BlockTime)
	quiet := e.isQuietHour(tx.BlockTime)

	score := 0.0
	if zHit {
		score += math.Min(40, 10*math.Abs(z))
	}
	if freqHit {
		score += math.Min(30, float64(freqCount))
	}
	if denylisted {
		score += 50
	}
	if quiet {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	severity := classifySeverity(score)
	now := time.Now()

	var detected []domain.Anomaly
	addSignal := func(kind, detail string) {
		detected = append(detected, domain.Anomaly{
			WalletAddr: tx.WalletAddr,
			Kind:       kind,
			Signature:  tx.Signature,
			Severity:   severity,
			Score:      score,
			DetectedAt: now,
			Detail:     detail,
		})
	}
	if denylisted {
		addSignal("denylist", "counterparty "+tx.Counterparty+" is denylisted")
	}
	if zHit {
		addSignal("z-score", "transfer amount is a statistical outlier")
	}
	if freqHit {
		addSignal("frequency", "transaction burst detected")
	}
	if quiet {
		addSignal("circadian", "activity during an unusual hour")
	}

	for _, a := range detected {
		if err := e.store.RecordAnomaly(ctx, a); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.AnomaliesDetectedTotal.WithLabelValues(a.Kind).Inc()
		}
	}

	e.totalEvaluated[tx.WalletAddr]++
	if score >= highRiskScore {
		e.highRiskEvaluated[tx.WalletAddr]++
		if e.publisher != nil {
			e.publisher.Publish(ctx, domain.Event{
				Kind:       domain.EventSecurityAnomaly,
				WalletAddr: tx.WalletAddr,
				Payload:    detected,
				OccurredAt: now,
			})
		}
	}

	return e.refreshProfile(ctx, tx.WalletAddr, detected, zHit, freqHit, denylisted)
}

// zScore computes the z-score of amount against the wallet's recent amount
// history, updating the history afterward. Returns ok=false until at least
// minZScoreSamples observations have accumulated.
func (e *Engine) zScore(wallet string, amount float64) (float64, bool) {
	hist := e.history[wallet]
	defer func() {
		hist = append(hist, amount)
		if len(hist) > historyWindow {
			hist = hist[len(hist)-historyWindow:]
		}
		e.history[wallet] = hist
	}()

	if len(hist) < minZScoreSamples {
		return 0, false
	}

	mean := 0.0
	for _, v := range hist {
		mean += v
	}
	mean /= float64(len(hist))

	variance := 0.0
	for _, v := range hist {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(hist))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0, false
	}

	return (amount - mean) / stddev, true
}

// recordAndCheckFrequency records at against wallet's event history and
// returns the count of events within the configured frequency window along
// with whether that count meets the burst threshold.
func (e *Engine) recordAndCheckFrequency(wallet string, at time.Time) (int, bool) {
	events := e.events[wallet]
	events = append(events, at)

	cutoff := at.Add(-e.cfg.FrequencyWindow)
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.events[wallet] = kept

	return len(kept), len(kept) >= e.cfg.FrequencyThreshold
}

func (e *Engine) isQuietHour(at time.Time) bool {
	hour := at.UTC().Hour()
	if e.cfg.QuietHourStart <= e.cfg.QuietHourEnd {
		return hour >= e.cfg.QuietHourStart && hour < e.cfg.QuietHourEnd
	}
	return hour >= e.cfg.QuietHourStart || hour < e.cfg.QuietHourEnd
}

// Per-wallet aggregate factor penalties. The spec's RiskProfile formula
// names a four-element factor set {large, frequency, denylist,
// rapid-balance} against three penalty values (10, 15, 25); "large" (a
// z-score outlier transaction) is mapped to the smallest penalty and
// "rapid-balance" is not computable here since the engine only receives
// per-transaction data, not balance-velocity history (see DESIGN.md).
const (
	penaltyLarge     = 10
	penaltyFrequency = 15
	penaltyDenylist  = 25
)

func (e *Engine) refreshProfile(ctx context.Context, wallet string, newAnomalies []domain.Anomaly, largeHit, freqHit, denylistHit bool) error {
	profile, _, err := e.store.GetRiskProfile(ctx, wallet)
	if err != nil {
		return err
	}
	profile.WalletAddr = wallet
	profile.LastUpdated = time.Now()
	profile.AnomalyCount += int64(len(newAnomalies))

	for _, a := range newAnomalies {
		if a.Kind == "denylist" {
			profile.Denylisted = true
		}
		found := false
		for _, k := range profile.ActiveSignal {
			if k == a.Kind {
				found = true
				break
			}
		}
		if !found {
			profile.ActiveSignal = append(profile.ActiveSignal, a.Kind)
		}
	}

	total := e.totalEvaluated[wallet]
	highRisk := e.highRiskEvaluated[wallet]
	anomalyRatio := 0.0
	highRiskRatio := 0.0
	if total > 0 {
		anomalyRatio = float64(profile.AnomalyCount) / float64(total)
		highRiskRatio = float64(highRisk) / float64(total)
	}
	profile.HighRiskPercent = highRiskRatio * 100
	profile.CounterpartyRisk = anomalyRatio * 100

	score := 0.4*anomalyRatio*100 + 0.6*highRiskRatio*100
	if largeHit {
		score += penaltyLarge
	}
	if freqHit {
		score += penaltyFrequency
	}
	if denylistHit {
		score += penaltyDenylist
	}
	if score > 100 {
		score = 100
	}
	profile.Score = score

	return e.store.SaveRiskProfile(ctx, profile)
}
