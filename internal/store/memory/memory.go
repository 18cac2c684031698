// Package memory provides an in-memory Store implementation used as the
// applyDefaults fallback (mirroring the teacher's internal/app.applyDefaults
// pattern) and as the backing store for tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/errors"
	"github.com/walletmemory/core/internal/store"
)

// Store is a mutex-guarded, map-backed implementation of store.Store.
type Store struct {
	mu            sync.Mutex
	registrations map[string]domain.WalletRegistration
	balances      map[string]map[string]domain.Balance
	transactions  map[string][]domain.Transaction
	txSeen        map[string]bool
	lots          map[string]map[string][]domain.CostBasisLot
	gains         []domain.RealizedGain
	pnl           map[string]map[string]domain.PnLSnapshot // keyed by wallet, then "mint|period"
	risk          map[string]domain.RiskProfile
	anomalies     map[string][]domain.Anomaly
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		registrations: make(map[string]domain.WalletRegistration),
		balances:      make(map[string]map[string]domain.Balance),
		transactions:  make(map[string][]domain.Transaction),
		txSeen:        make(map[string]bool),
		lots:          make(map[string]map[string][]domain.CostBasisLot),
		pnl:           make(map[string]map[string]domain.PnLSnapshot),
		risk:          make(map[string]domain.RiskProfile),
		anomalies:     make(map[string][]domain.Anomaly),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) RegisterWallet(_ context.Context, reg domain.WalletRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[reg.Address]; ok {
		return errors.AlreadyRegistered(reg.Address)
	}
	if reg.State == "" {
		reg.State = domain.StatePending
	}
	s.registrations[reg.Address] = reg
	return nil
}

// UnregisterWallet transitions the registration to paused in place. It never
// deletes the row, so every historical transaction/balance/PnL row for the
// wallet (foreign-keyed to the registration) remains intact.
func (s *Store) UnregisterWallet(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[address]
	if !ok {
		return errors.NotRegistered(address)
	}
	reg.State = domain.StatePaused
	s.registrations[address] = reg
	return nil
}

func (s *Store) GetRegistration(_ context.Context, address string) (domain.WalletRegistration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[address]
	return reg, ok, nil
}

func (s *Store) ListRegistrations(_ context.Context) ([]domain.WalletRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WalletRegistration, 0, len(s.registrations))
	for _, r := range s.registrations {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) BumpTransactionCount(_ context.Context, address string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[address]
	if !ok {
		return errors.NotRegistered(address)
	}
	reg.TransactionCount++
	reg.LastActivityAt = at
	reg.State = domain.StateActive
	s.registrations[address] = reg
	return nil
}

func (s *Store) WriteTransactionAndBalance(_ context.Context, tx domain.Transaction, delta domain.BalanceDelta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txSeen[tx.Signature] {
		return false, nil
	}
	s.txSeen[tx.Signature] = true
	s.transactions[tx.WalletAddr] = append(s.transactions[tx.WalletAddr], tx)

	if s.balances[delta.WalletAddr] == nil {
		s.balances[delta.WalletAddr] = make(map[string]domain.Balance)
	}
	bal := s.balances[delta.WalletAddr][delta.Mint]
	bal.WalletAddr = delta.WalletAddr
	bal.Mint = delta.Mint
	bal.Amount += delta.Delta
	bal.UpdatedAt = delta.OccurredAt
	s.balances[delta.WalletAddr][delta.Mint] = bal

	return true, nil
}

func (s *Store) GetBalance(_ context.Context, wallet, mint string) (domain.Balance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.balances[wallet]
	if !ok {
		return domain.Balance{}, false, nil
	}
	b, ok := m[mint]
	return b, ok, nil
}

func (s *Store) ListBalances(_ context.Context, wallet string) ([]domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Balance, 0, len(s.balances[wallet]))
	for _, b := range s.balances[wallet] {
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) ListTransactions(_ context.Context, wallet string, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txs := s.transactions[wallet]
	if limit <= 0 || limit >= len(txs) {
		out := make([]domain.Transaction, len(txs))
		copy(out, txs)
		return out, nil
	}
	start := len(txs) - limit
	out := make([]domain.Transaction, limit)
	copy(out, txs[start:])
	return out, nil
}

func (s *Store) AddLot(_ context.Context, lot domain.CostBasisLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lots[lot.WalletAddr] == nil {
		s.lots[lot.WalletAddr] = make(map[string][]domain.CostBasisLot)
	}
	s.lots[lot.WalletAddr][lot.Mint] = append(s.lots[lot.WalletAddr][lot.Mint], lot)
	return nil
}

func (s *Store) ListOpenLots(_ context.Context, wallet, mint string) ([]domain.CostBasisLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CostBasisLot
	for _, lot := range s.lots[wallet][mint] {
		if lot.RemainingQty > 0 {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (s *Store) UpdateLotRemaining(_ context.Context, lotID string, remaining float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for wallet, byMint := range s.lots {
		for mint, lots := range byMint {
			for i := range lots {
				if lots[i].ID == lotID {
					lots[i].RemainingQty = remaining
					s.lots[wallet][mint] = lots
					return nil
				}
			}
		}
	}
	return errors.NotFound("cost_basis_lot", lotID)
}

func (s *Store) RecordRealizedGain(_ context.Context, gain domain.RealizedGain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = append(s.gains, gain)
	return nil
}

// ListRealizedGains returns every realized gain for (wallet, mint) with
// OccurredAt at or after since, in recording order.
func (s *Store) ListRealizedGains(_ context.Context, wallet, mint string, since time.Time) ([]domain.RealizedGain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RealizedGain
	for _, g := range s.gains {
		if g.WalletAddr != wallet || g.Mint != mint {
			continue
		}
		if !since.IsZero() && g.OccurredAt.Before(since) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func pnlKey(mint string, period domain.PnLPeriod) string {
	return mint + "|" + string(period)
}

func (s *Store) SavePnLSnapshot(_ context.Context, snap domain.PnLSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pnl[snap.WalletAddr] == nil {
		s.pnl[snap.WalletAddr] = make(map[string]domain.PnLSnapshot)
	}
	s.pnl[snap.WalletAddr][pnlKey(snap.Mint, snap.Period)] = snap
	return nil
}

func (s *Store) GetPnLSnapshot(_ context.Context, wallet, mint string, period domain.PnLPeriod) (domain.PnLSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.pnl[wallet][pnlKey(mint, period)]
	return snap, ok, nil
}

func (s *Store) SaveRiskProfile(_ context.Context, profile domain.RiskProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk[profile.WalletAddr] = profile
	return nil
}

func (s *Store) GetRiskProfile(_ context.Context, wallet string) (domain.RiskProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.risk[wallet]
	return p, ok, nil
}

func (s *Store) RecordAnomaly(_ context.Context, anomaly domain.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies[anomaly.WalletAddr] = append(s.anomalies[anomaly.WalletAddr], anomaly)
	return nil
}

func (s *Store) ListAnomalies(_ context.Context, wallet string) ([]domain.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Anomaly, len(s.anomalies[wallet]))
	copy(out, s.anomalies[wallet])
	return out, nil
}

// Generic REST-shaped operations are no-ops against the typed maps above;
// they exist so the in-memory store satisfies store.Store for tests that
// exercise the degradation controller's generic replay path.
func (s *Store) Insert(_ context.Context, _ string, _ interface{}) error                { return nil }
func (s *Store) Update(_ context.Context, _ string, _ interface{}, _ store.Filter) error { return nil }
func (s *Store) Upsert(_ context.Context, _ string, _ interface{}, _ string) error       { return nil }
func (s *Store) Delete(_ context.Context, _ string, _ store.Filter) error                { return nil }
