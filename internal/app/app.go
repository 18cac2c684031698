// Package app is the composition root wiring every component (C1-C9) into
// a runnable Application, grounded on the teacher's internal/app.Application
// container: a Stores-style dependency struct, functional Options, and a
// system.Manager driving background service lifecycles.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/walletmemory/core/internal/cache"
	"github.com/walletmemory/core/internal/config"
	"github.com/walletmemory/core/internal/degrade"
	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/fanout"
	"github.com/walletmemory/core/internal/indexer"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/metrics"
	"github.com/walletmemory/core/internal/pnl"
	"github.com/walletmemory/core/internal/pricefeed"
	"github.com/walletmemory/core/internal/registry"
	"github.com/walletmemory/core/internal/resilience"
	"github.com/walletmemory/core/internal/risk"
	"github.com/walletmemory/core/internal/store"
	"github.com/walletmemory/core/internal/store/memory"
	"github.com/walletmemory/core/internal/store/supabase"
	"github.com/walletmemory/core/internal/system"
	"github.com/walletmemory/core/internal/upstream"
)

// builderConfig accumulates Option values before New constructs the
// Application.
type builderConfig struct {
	httpClient *http.Client
	prices     pricefeed.Source
}

// Option customizes Application construction.
type Option func(*builderConfig)

// WithHTTPClient records an HTTP client on the builder. No component built
// by New reads it: the Supabase store constructs its own client with a
// 30-second timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(b *builderConfig) { b.httpClient = c }
}

// WithPriceSource injects a pricefeed.Source for PnL unrealized-value
// computation (Open Question #2 in SPEC_FULL.md). Without it, unrealized
// PnL is always reported stale.
func WithPriceSource(src pricefeed.Source) Option {
	return func(b *builderConfig) { b.prices = src }
}

// Application wires together the registry, indexer, cache, resilience
// breakers, PnL engine, risk engine, fan-out, upstream client, and
// degradation controller, and manages their background lifecycles.
type Application struct {
	Log *logging.Logger

	Metrics    *metrics.Metrics
	Store      store.Store
	Cache      *cache.Cache
	Breakers   *resilience.Registry
	Registry   *registry.Registry
	Indexer    *indexer.Indexer
	PnL        *pnl.Engine
	Risk       *risk.Engine
	Fanout     *fanout.Fanout
	Upstream   *upstream.Client
	Degrade    *degrade.Controller

	manager *system.Manager
}

// New constructs an Application from cfg. When cfg.Store.URL is empty, an
// in-memory store is used instead (mirroring the teacher's applyDefaults
// fallback), so the service is runnable without external dependencies.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) (*Application, error) {
	b := &builderConfig{httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(b)
	}

	var st store.Store
	if cfg.Store.URL != "" {
		sb, err := supabase.New(supabase.Config{URL: cfg.Store.URL, Key: cfg.Store.Key})
		if err != nil {
			return nil, err
		}
		st = sb
	} else {
		st = memory.New()
	}

	// Each Application gets its own registry rather than the global
	// prometheus.DefaultRegisterer, so constructing more than one Application
	// in a process (e.g. across tests) never collides on duplicate collector
	// registration.
	m := metrics.New(prometheus.NewRegistry())
	breakers := resilience.NewRegistry(log, m)

	var c *cache.Cache
	if cfg.Cache.URL != "" {
		memThreshold, _ := config.ParseByteSize(cfg.Cache.MemoryThresholds)
		c = cache.New(cache.Config{
			URL:              cfg.Cache.URL,
			Password:         cfg.Cache.Password,
			MinPoolSize:      cfg.Cache.MinPoolSize,
			MaxPoolSize:      cfg.Cache.MaxPoolSize,
			DefaultTTL:       cfg.Cache.DefaultTTL,
			EvictionIdle:     cfg.Cache.EvictionIdle,
			MemoryThresholds: memThreshold,
		}, log, breakers.Get(resilience.NameCache)).WithMetrics(m, "balances")
	}

	reg := registry.New(st, c, log)

	fanoutHub := fanout.New(log)
	riskEngine := risk.New(risk.DefaultConfig(), st, log).WithMetrics(m).WithPublisher(fanoutHub)
	pnlEngine := pnl.New(st, b.prices, log).WithCache(c).WithPublisher(fanoutHub)

	idx := indexer.New(indexer.Config{
		PrivacyEnabled:   cfg.Privacy.EncryptionSalt != "",
		EncryptionSalt:   cfg.Privacy.EncryptionSalt,
		AutoRegister:     cfg.Registry.AutoRegister,
		AutoRegisterWarm: cfg.Registry.AutoRegister && c != nil,
	}, st, c, reg, riskEngine, fanoutHub, log).WithMetrics(m).WithPnL(pnlEngine, b.prices)

	var upstreamClient *upstream.Client
	if cfg.Upstream.URL != "" {
		upstreamClient = upstream.New(cfg.Upstream.URL, cfg.Upstream.APIKey, log, func(ctx context.Context, msg upstream.Message) {
			switch msg.Kind {
			case upstream.KindTransaction:
				if err := idx.Ingest(ctx, msg); err != nil {
					log.WithError(err).WithField("wallet", msg.WalletAddr).Warn("app: ingest failed")
				}
			case upstream.KindError:
				log.WithField("wallet", msg.WalletAddr).Warn("app: upstream reported an error frame")
			}
		})
	}

	degradeCtl := degrade.New(st, breakers.Get(resilience.NamePrimaryStore), 1000, log).WithMetrics(m).WithCache(c)

	manager := system.NewManager()
	if err := manager.Register(degradeCtl); err != nil {
		return nil, err
	}
	if upstreamClient != nil {
		if err := manager.Register(upstreamClient); err != nil {
			return nil, err
		}
	}

	application := &Application{
		Log:      log,
		Metrics:  m,
		Store:    st,
		Cache:    c,
		Breakers: breakers,
		Registry: reg,
		Indexer:  idx,
		PnL:      pnlEngine,
		Risk:     riskEngine,
		Fanout:   fanoutHub,
		Upstream: upstreamClient,
		Degrade:  degradeCtl,
		manager:  manager,
	}

	for _, addr := range cfg.Registry.AutoRegisterList {
		if err := reg.AutoRegister(context.Background(), addr); err != nil {
			log.WithError(err).WithField("wallet", addr).Warn("app: startup auto-register failed")
		}
	}

	return application, nil
}

// GetBalances returns a wallet's balances, reading through the
// degradation controller's cache-then-store contract (spec §4.9).
func (a *Application) GetBalances(ctx context.Context, wallet string) ([]domain.Balance, error) {
	var balances []domain.Balance
	key := cache.DeriveKey(wallet, "balances", nil)
	err := a.Degrade.ExecuteQuery(ctx, key, &balances, 0, func(ctx context.Context) error {
		loaded, err := a.Store.ListBalances(ctx, wallet)
		if err != nil {
			return err
		}
		balances = loaded
		return nil
	})
	return balances, err
}

// Start starts every background service (degradation queue processor,
// upstream client, PnL periodic driver).
func (a *Application) Start(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	if a.Cache != nil {
		a.Cache.StartActiveEviction(ctx, 30*time.Second)
	}
	return a.PnL.StartPeriodicDriver(ctx,
		a.Store.ListRegistrations,
		func(ctx context.Context, wallet string) ([]string, error) {
			balances, err := a.Store.ListBalances(ctx, wallet)
			if err != nil {
				return nil, err
			}
			mints := make([]string, 0, len(balances))
			for _, b := range balances {
				mints = append(mints, b.Mint)
			}
			return mints, nil
		},
	)
}

// Stop stops every background service in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	a.PnL.Stop()
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	return a.manager.Stop(ctx)
}
