// Package pnl implements FIFO cost-basis accounting and periodic
// profit-and-loss recomputation (component C6). Disposals consume the
// oldest open lots first; unrealized value depends on an injected price
// source (Open Question #2 in SPEC_FULL.md). The periodic driver uses
// github.com/robfig/cron/v3, grounded on the teacher's automation trigger
// scheduling.
package pnl

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/walletmemory/core/internal/cache"
	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/pricefeed"
	"github.com/walletmemory/core/internal/store"
)

// Publisher fans out a domain.Event to live subscribers. Implemented by the
// fanout package; defined here to avoid a cyclic import.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// Engine computes realized and unrealized PnL from cost-basis lots.
type Engine struct {
	store     store.Store
	prices    pricefeed.Source
	log       *logging.Logger
	cache     *cache.Cache
	publisher Publisher

	cron *cron.Cron
}

// New constructs an Engine. prices may be nil, in which case unrealized
// value is always reported stale and zero.
func New(st store.Store, prices pricefeed.Source, log *logging.Logger) *Engine {
	return &Engine{store: st, prices: prices, log: log}
}

// WithCache attaches c so every Recompute invalidates the wallet's pnl
// family for the recomputed period.
func (e *Engine) WithCache(c *cache.Cache) *Engine {
	e.cache = c
	return e
}

// WithPublisher attaches p so every Recompute publishes a pnl-updated event.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

// RecordAcquisition adds a new FIFO lot for an incoming transfer.
func (e *Engine) RecordAcquisition(ctx context.Context, wallet, mint string, quantity, unitCostUSD float64, acquiredAt time.Time, txSig string) error {
	return e.store.AddLot(ctx, domain.CostBasisLot{
		ID:            txSig + ":" + mint,
		WalletAddr:    wallet,
		Mint:          mint,
		Quantity:      quantity,
		RemainingQty:  quantity,
		UnitCostUSD:   unitCostUSD,
		AcquiredAt:    acquiredAt,
		AcquiredTxSig: txSig,
	})
}

// RecordDisposal consumes open lots oldest-first to cover quantity disposed,
// recording one RealizedGain per lot touched (possibly partial on the last
// lot), and returns the total realized gain in USD. feeUSD is allocated
// across the touched lots in proportion to the quantity each one
// contributed, so summing RealizedGain.FeeUSD over a disposal reproduces
// feeUSD exactly: realized += sale-value - consumed-cost - fee.
func (e *Engine) RecordDisposal(ctx context.Context, wallet, mint string, quantity, proceedsPerUnitUSD, feeUSD float64, disposedAt time.Time, txSig string) (float64, error) {
	lots, err := e.store.ListOpenLots(ctx, wallet, mint)
	if err != nil {
		return 0, err
	}

	remaining := quantity
	var totalGain float64

	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		consume := lot.RemainingQty
		if consume > remaining {
			consume = remaining
		}

		proceeds := consume * proceedsPerUnitUSD
		cost := consume * lot.UnitCostUSD
		var feeShare float64
		if quantity > 0 {
			feeShare = feeUSD * (consume / quantity)
		}
		gain := proceeds - cost - feeShare
		totalGain += gain

		if err := e.store.RecordRealizedGain(ctx, domain.RealizedGain{
			WalletAddr:    wallet,
			Mint:          mint,
			Quantity:      consume,
			ProceedsUSD:   proceeds,
			CostBasisUSD:  cost,
			FeeUSD:        feeShare,
			GainUSD:       gain,
			DisposalTxSig: txSig,
			OccurredAt:    disposedAt,
		}); err != nil {
			return totalGain, err
		}

		newRemaining := lot.RemainingQty - consume
		if err := e.store.UpdateLotRemaining(ctx, lot.ID, newRemaining); err != nil {
			return totalGain, err
		}

		remaining -= consume
	}

	return totalGain, nil
}

// sinceFor returns the lower bound for period's realized-gain window,
// relative to now. PnLPeriodAll returns the zero time (no lower bound).
func sinceFor(period domain.PnLPeriod, now time.Time) time.Time {
	switch period {
	case domain.PnLPeriod24h:
		return now.Add(-24 * time.Hour)
	case domain.PnLPeriod7d:
		return now.Add(-7 * 24 * time.Hour)
	case domain.PnLPeriod30d:
		return now.Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// Recompute recalculates realized (booked within each reporting window) and
// unrealized PnL for one (wallet, mint) pair, persisting and returning one
// fresh snapshot per domain.PnLPeriods entry.
func (e *Engine) Recompute(ctx context.Context, wallet, mint string) ([]domain.PnLSnapshot, error) {
	lots, err := e.store.ListOpenLots(ctx, wallet, mint)
	if err != nil {
		return nil, err
	}

	var openQty, openCost float64
	for _, lot := range lots {
		openQty += lot.RemainingQty
		openCost += lot.RemainingQty * lot.UnitCostUSD
	}

	var unrealizedUSD float64
	var unrealizedStale bool
	if e.prices == nil {
		unrealizedStale = true
	} else {
		point, err := e.prices.Price(ctx, mint)
		if err != nil {
			unrealizedStale = true
		} else {
			unrealizedUSD = openQty*point.USD - openCost
			unrealizedStale = point.Stale
		}
	}

	now := time.Now()
	snapshots := make([]domain.PnLSnapshot, 0, len(domain.PnLPeriods))
	for _, period := range domain.PnLPeriods {
		gains, err := e.store.ListRealizedGains(ctx, wallet, mint, sinceFor(period, now))
		if err != nil {
			return nil, err
		}

		var realizedUSD, feesPaidUSD, costBasisUSD float64
		for _, g := range gains {
			realizedUSD += g.GainUSD
			feesPaidUSD += g.FeeUSD
			costBasisUSD += g.CostBasisUSD
		}

		totalUSD := realizedUSD + unrealizedUSD
		var returnPct float64
		if denom := costBasisUSD + openCost; denom > 0 {
			returnPct = totalUSD / denom * 100
		}

		snap := domain.PnLSnapshot{
			WalletAddr:       wallet,
			Mint:             mint,
			Period:           period,
			RealizedUSD:      realizedUSD,
			UnrealizedUSD:    unrealizedUSD,
			TotalUSD:         totalUSD,
			ReturnPercentage: returnPct,
			FeesPaidUSD:      feesPaidUSD,
			TokenBreakdown: []domain.TokenPnL{{
				Mint:          mint,
				RealizedUSD:   realizedUSD,
				UnrealizedUSD: unrealizedUSD,
			}},
			UnrealizedStale: unrealizedStale,
			ComputedAt:      now,
		}

		if err := e.store.SavePnLSnapshot(ctx, snap); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)

		if e.cache != nil {
			key := cache.DeriveKey(wallet, "pnl:"+string(period), nil)
			if _, err := e.cache.InvalidateFamily(ctx, key+"*"); err != nil && e.log != nil {
				e.log.WithError(err).Warn("pnl: cache invalidation failed")
			}
		}
		if e.publisher != nil {
			e.publisher.Publish(ctx, domain.Event{
				Kind:       domain.EventPnLUpdated,
				WalletAddr: wallet,
				Payload:    snap,
				OccurredAt: now,
			})
		}
	}

	return snapshots, nil
}

// StartPeriodicDriver schedules Recompute for every mint held by every
// state=active registration, every 10 minutes, matching the spec's periodic
// PnL driver cadence. Call Stop to halt it.
func (e *Engine) StartPeriodicDriver(ctx context.Context, wallets func(ctx context.Context) ([]domain.WalletRegistration, error), mints func(ctx context.Context, wallet string) ([]string, error)) error {
	e.cron = cron.New()
	_, err := e.cron.AddFunc("@every 10m", func() {
		regs, err := wallets(ctx)
		if err != nil {
			if e.log != nil {
				e.log.WithError(err).Warn("pnl: periodic driver failed to list wallets")
			}
			return
		}
		for _, reg := range regs {
			if reg.State != domain.StateActive {
				continue
			}
			mintList, err := mints(ctx, reg.Address)
			if err != nil {
				continue
			}
			for _, mint := range mintList {
				if _, err := e.Recompute(ctx, reg.Address, mint); err != nil && e.log != nil {
					e.log.WithError(err).Warn("pnl: recompute failed")
				}
			}
		}
	})
	if err != nil {
		return err
	}
	e.cron.Start()
	return nil
}

// Stop halts the periodic driver, if running.
func (e *Engine) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}
