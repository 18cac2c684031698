// Package indexer implements the ingestion pipeline (component C5):
// upstream message parsing, registration resolution (with optional
// auto-registration), privacy encryption, the atomic transaction+balance
// write, cache invalidation, event publication, and triggering risk
// analysis. Metadata field extraction uses github.com/tidwall/gjson,
// present in the teacher's go.mod as an indirect dependency.
package indexer

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	"github.com/walletmemory/core/internal/cache"
	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/errors"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/metrics"
	"github.com/walletmemory/core/internal/pricefeed"
	"github.com/walletmemory/core/internal/privacy"
	"github.com/walletmemory/core/internal/registry"
	"github.com/walletmemory/core/internal/store"
	"github.com/walletmemory/core/internal/upstream"
)

// RiskAnalyzer is invoked after every successful index to evaluate the
// activity for anomalies. Implemented by the risk package; defined here to
// avoid a cyclic import.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, tx domain.Transaction) error
}

// Publisher fans out a domain.Event to live subscribers. Implemented by the
// fanout package.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// PnLRecorder records the cost-basis effect of an indexed transaction.
// Implemented by the pnl package; defined here to avoid a cyclic import.
type PnLRecorder interface {
	RecordAcquisition(ctx context.Context, wallet, mint string, quantity, unitCostUSD float64, acquiredAt time.Time, txSig string) error
	RecordDisposal(ctx context.Context, wallet, mint string, quantity, proceedsPerUnitUSD, feeUSD float64, disposedAt time.Time, txSig string) (float64, error)
}

// Config configures the Indexer's privacy and auto-registration behavior.
type Config struct {
	PrivacyEnabled   bool
	EncryptionSalt   string
	AutoRegister     bool
	AutoRegisterWarm bool
}

// deltaMapping describes how a transaction Kind affects the wallet's liquid
// balance relative to the wire payload's raw amount and direction. Stake and
// liquidity operations move funds into/out of a non-liquid position
// regardless of the wire direction field; votes never move a balance.
type deltaMapping struct {
	usesDirection bool
	fixedSign     float64 // used when !usesDirection
}

var balanceDeltaTable = map[domain.TransactionKind]deltaMapping{
	domain.KindTransfer:        {usesDirection: true},
	domain.KindSwap:            {usesDirection: true},
	domain.KindStake:           {fixedSign: -1},
	domain.KindUnstake:         {fixedSign: 1},
	domain.KindLiquidityAdd:    {fixedSign: -1},
	domain.KindLiquidityRemove: {fixedSign: 1},
	domain.KindVote:            {fixedSign: 0},
	domain.KindUnknown:         {usesDirection: true},
}

// Indexer ingests raw upstream.Message frames into transactions, balances,
// and downstream analytics triggers.
type Indexer struct {
	cfg      Config
	store    store.Store
	cache    *cache.Cache
	registry *registry.Registry
	risk     RiskAnalyzer
	events   Publisher
	log      *logging.Logger
	metrics  *metrics.Metrics

	pnl    PnLRecorder
	prices pricefeed.Source
}

// New constructs an Indexer.
func New(cfg Config, st store.Store, c *cache.Cache, reg *registry.Registry, risk RiskAnalyzer, events Publisher, log *logging.Logger) *Indexer {
	return &Indexer{cfg: cfg, store: st, cache: c, registry: reg, risk: risk, events: events, log: log}
}

// WithMetrics attaches m so every non-deduplicated ingest increments the
// transactions-indexed counter.
func (idx *Indexer) WithMetrics(m *metrics.Metrics) *Indexer {
	idx.metrics = m
	return idx
}

// WithPnL attaches a PnLRecorder and the price source used to value
// acquisitions and disposals observed during ingestion. The wire protocol
// carries no historical USD price, so the current price-feed quote is used
// as an approximation for both sides (documented as an extension of the
// unrealized-value price source in DESIGN.md).
func (idx *Indexer) WithPnL(pnl PnLRecorder, prices pricefeed.Source) *Indexer {
	idx.pnl = pnl
	idx.prices = prices
	return idx
}

// Ingest processes one validated upstream message end to end.
func (idx *Indexer) Ingest(ctx context.Context, msg upstream.Message) error {
	if idx.cfg.AutoRegister {
		var err error
		if idx.cfg.AutoRegisterWarm {
			err = idx.registry.AutoRegisterAndWarm(ctx, msg.WalletAddr)
		} else {
			err = idx.registry.AutoRegister(ctx, msg.WalletAddr)
		}
		if err != nil {
			return err
		}
	} else if _, ok, err := idx.lookupRegistration(ctx, msg.WalletAddr); err != nil {
		return err
	} else if !ok {
		return errors.NotRegistered(msg.WalletAddr)
	}

	tx, delta, err := idx.parse(msg)
	if err != nil {
		return err
	}

	// Floor the post-delta balance at 0: a malformed or out-of-order feed
	// can otherwise drive a wallet's recorded balance negative. A missing
	// balance row counts as a zero balance.
	if existing, _, err := idx.store.GetBalance(ctx, delta.WalletAddr, delta.Mint); err != nil {
		return err
	} else if existing.Amount+delta.Delta < 0 {
		if idx.log != nil {
			idx.log.WithField("wallet", delta.WalletAddr).WithField("mint", delta.Mint).
				Warn("indexer: balance delta would go negative, flooring at 0")
		}
		delta.Delta = -existing.Amount
	}

	if idx.cfg.PrivacyEnabled {
		payload, err := privacy.Encrypt(msg.WalletAddr, idx.cfg.EncryptionSalt, msg.Payload)
		if err != nil {
			return err
		}
		tx.Privacy = payload
		// Null the plaintext fields once the encrypted payload carries the
		// record: the stored row must not also hold them in the clear.
		tx.Amount = 0
		tx.Counterparty = ""
	}

	inserted, err := idx.store.WriteTransactionAndBalance(ctx, tx, delta)
	if err != nil {
		return err
	}
	if !inserted {
		// True no-op re-index: do not bump transaction-count, invalidate
		// caches, or re-publish (Open Question #1 in SPEC_FULL.md).
		return nil
	}

	if err := idx.store.BumpTransactionCount(ctx, tx.WalletAddr, tx.BlockTime); err != nil {
		return err
	}

	if idx.metrics != nil {
		idx.metrics.TransactionsIndexedTotal.WithLabelValues(tx.WalletAddr).Inc()
	}

	if idx.cache != nil {
		if _, err := idx.cache.InvalidateFamily(ctx, "wallet:"+tx.WalletAddr+":*"); err != nil && idx.log != nil {
			idx.log.WithError(err).Warn("indexer: cache invalidation failed")
		}
	}

	if idx.events != nil {
		idx.events.Publish(ctx, domain.Event{
			Kind:       domain.EventTransactionNew,
			WalletAddr: tx.WalletAddr,
			Payload:    tx,
			OccurredAt: tx.BlockTime,
		})
	}

	idx.recordPnL(ctx, tx, delta)

	if idx.risk != nil {
		if err := idx.risk.Analyze(ctx, tx); err != nil {
			if idx.log != nil {
				idx.log.WithError(err).Warn("indexer: risk analysis failed")
			}
		}
	}

	return nil
}

// recordPnL routes a successfully indexed transaction into the cost-basis
// ledger: a positive balance delta opens a new FIFO lot, a negative delta
// disposes against open lots. Failures are logged, not propagated, since
// cost-basis accounting is best-effort relative to the indexing write path.
func (idx *Indexer) recordPnL(ctx context.Context, tx domain.Transaction, delta domain.BalanceDelta) {
	if idx.pnl == nil || delta.Delta == 0 {
		return
	}

	var unitPrice float64
	if idx.prices != nil {
		if point, err := idx.prices.Price(ctx, tx.Mint); err == nil {
			unitPrice = point.USD
		}
	}

	if delta.Delta > 0 {
		if err := idx.pnl.RecordAcquisition(ctx, tx.WalletAddr, tx.Mint, delta.Delta, unitPrice, tx.BlockTime, tx.Signature); err != nil && idx.log != nil {
			idx.log.WithError(err).Warn("indexer: record acquisition failed")
		}
		return
	}

	quantity := -delta.Delta
	if _, err := idx.pnl.RecordDisposal(ctx, tx.WalletAddr, tx.Mint, quantity, unitPrice, tx.Fee, tx.BlockTime, tx.Signature); err != nil && idx.log != nil {
		idx.log.WithError(err).Warn("indexer: record disposal failed")
	}
}

func (idx *Indexer) lookupRegistration(ctx context.Context, address string) (domain.WalletRegistration, bool, error) {
	return idx.store.GetRegistration(ctx, address)
}

// parse extracts a domain.Transaction and domain.BalanceDelta from a raw
// upstream message using gjson field lookups, matching the spec's
// counterparty/fee/symbol/block metadata fields. The balance delta's sign
// follows balanceDeltaTable: most kinds follow the wire "direction" field,
// but stake/unstake/liquidity operations have a fixed sign and votes never
// move a balance.
func (idx *Indexer) parse(msg upstream.Message) (domain.Transaction, domain.BalanceDelta, error) {
	raw := string(msg.Payload)
	signature := gjson.Get(raw, "signature").String()
	if signature == "" {
		return domain.Transaction{}, domain.BalanceDelta{}, errors.ValidationFailed("message payload missing signature")
	}
	mint := gjson.Get(raw, "mint").String()
	amount := gjson.Get(raw, "amount").Float()
	kind := domain.ParseTransactionKind(gjson.Get(raw, "type").String())
	direction := gjson.Get(raw, "direction").String()
	counterparty := gjson.Get(raw, "counterparty").String()
	fee := gjson.Get(raw, "fee").Float()
	symbol := gjson.Get(raw, "symbol").String()
	slot := gjson.Get(raw, "slot").Uint()
	blockTimeUnix := gjson.Get(raw, "block_time").Int()

	blockTime := time.Unix(blockTimeUnix, 0).UTC()
	if blockTimeUnix == 0 {
		blockTime = time.Now().UTC()
	}

	mapping, ok := balanceDeltaTable[kind]
	if !ok {
		mapping = balanceDeltaTable[domain.KindUnknown]
	}
	var delta float64
	if mapping.usesDirection {
		delta = amount
		if direction == "out" {
			delta = -amount
		}
	} else {
		delta = amount * mapping.fixedSign
	}

	tx := domain.Transaction{
		Signature:    signature,
		WalletAddr:   msg.WalletAddr,
		Mint:         mint,
		Amount:       amount,
		Kind:         kind,
		Counterparty: counterparty,
		Fee:          fee,
		Symbol:       symbol,
		BlockTime:    blockTime,
		Slot:         slot,
	}
	bd := domain.BalanceDelta{
		WalletAddr: msg.WalletAddr,
		Mint:       mint,
		Delta:      delta,
		Signature:  signature,
		OccurredAt: blockTime,
	}
	return tx, bd, nil
}
