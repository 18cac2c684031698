// Package store defines the persistence interface the wallet memory layer
// depends on, grounded on the teacher's PostgREST-style Supabase client
// (infrastructure/database/supabase_client.go): inserts, updates, upserts
// and equality-filtered deletes over named tables, plus one explicit
// transactional entry point for the transaction+balance write path.
package store

import (
	"context"
	"time"

	"github.com/walletmemory/core/internal/domain"
)

// Filter is an equality-only filter map, mirroring PostgREST's "eq." syntax.
type Filter map[string]string

// Store is the persistence contract for the wallet memory layer.
type Store interface {
	// Registration
	RegisterWallet(ctx context.Context, reg domain.WalletRegistration) error
	UnregisterWallet(ctx context.Context, address string) error
	GetRegistration(ctx context.Context, address string) (domain.WalletRegistration, bool, error)
	ListRegistrations(ctx context.Context) ([]domain.WalletRegistration, error)
	BumpTransactionCount(ctx context.Context, address string, at time.Time) error

	// WriteTransactionAndBalance is the single explicit transactional write
	// path: insert the transaction (idempotent on signature) and apply the
	// resulting balance delta atomically. Returns inserted=false when the
	// signature already existed (a true no-op, not an error).
	WriteTransactionAndBalance(ctx context.Context, tx domain.Transaction, delta domain.BalanceDelta) (inserted bool, err error)

	GetBalance(ctx context.Context, wallet, mint string) (domain.Balance, bool, error)
	ListBalances(ctx context.Context, wallet string) ([]domain.Balance, error)
	ListTransactions(ctx context.Context, wallet string, limit int) ([]domain.Transaction, error)

	// Cost basis / PnL
	AddLot(ctx context.Context, lot domain.CostBasisLot) error
	ListOpenLots(ctx context.Context, wallet, mint string) ([]domain.CostBasisLot, error)
	UpdateLotRemaining(ctx context.Context, lotID string, remaining float64) error
	RecordRealizedGain(ctx context.Context, gain domain.RealizedGain) error
	// ListRealizedGains returns every realized gain for (wallet, mint) with
	// OccurredAt at or after since (the zero time means "all").
	ListRealizedGains(ctx context.Context, wallet, mint string, since time.Time) ([]domain.RealizedGain, error)
	SavePnLSnapshot(ctx context.Context, snap domain.PnLSnapshot) error
	GetPnLSnapshot(ctx context.Context, wallet, mint string, period domain.PnLPeriod) (domain.PnLSnapshot, bool, error)

	// Risk
	SaveRiskProfile(ctx context.Context, profile domain.RiskProfile) error
	GetRiskProfile(ctx context.Context, wallet string) (domain.RiskProfile, bool, error)
	RecordAnomaly(ctx context.Context, anomaly domain.Anomaly) error
	ListAnomalies(ctx context.Context, wallet string) ([]domain.Anomaly, error)

	// Generic REST-shaped operations, used by the degradation controller's
	// queue replay path when the specific typed method isn't a fit.
	Insert(ctx context.Context, table string, data interface{}) error
	Update(ctx context.Context, table string, data interface{}, filter Filter) error
	Upsert(ctx context.Context, table string, data interface{}, conflictKey string) error
	Delete(ctx context.Context, table string, filter Filter) error
}
