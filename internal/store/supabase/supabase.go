// Package supabase implements store.Store against a PostgREST-compatible
// HTTP API, following the request/response shape of the teacher's
// infrastructure/database/supabase_client.go: table-scoped POST/GET/PATCH/
// DELETE with "eq." equality filters and a Prefer header controlling
// representation and upsert conflict resolution.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/walletmemory/core/internal/domain"
	serrors "github.com/walletmemory/core/internal/errors"
	"github.com/walletmemory/core/internal/store"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorBodyBytes = 32 << 10
)

// Store is a PostgREST-backed store.Store implementation.
type Store struct {
	url        string
	key        string
	restPrefix string
	httpClient *http.Client
}

// Config configures a Store.
type Config struct {
	URL        string
	Key        string
	RestPrefix string // defaults to "/rest/v1"
}

// New constructs a Store from cfg.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("store key is required")
	}
	prefix := strings.TrimRight(cfg.RestPrefix, "/")
	if prefix == "" {
		prefix = "/rest/v1"
	}
	return &Store{
		url:        strings.TrimRight(cfg.URL, "/"),
		key:        cfg.Key,
		restPrefix: prefix,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *Store) request(ctx context.Context, method, table string, body interface{}, query string) ([]byte, error) {
	url := fmt.Sprintf("%s%s/%s", s.url, s.restPrefix, table)
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	prefer := "return=representation"
	if method == http.MethodPost && strings.Contains(query, "on_conflict=") {
		prefer = "return=representation,resolution=merge-duplicates"
	}
	req.Header.Set("Prefer", prefer)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, serrors.Unavailable("store", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		limited := io.LimitReader(resp.Body, maxErrorBodyBytes)
		raw, _ := io.ReadAll(limited)
		return nil, serrors.Unavailable("store", fmt.Errorf("store API error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	return io.ReadAll(limited)
}

func filterQuery(f store.Filter) string {
	if len(f) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=eq.%s", k, v))
	}
	return strings.Join(parts, "&")
}

func (s *Store) Insert(ctx context.Context, table string, data interface{}) error {
	_, err := s.request(ctx, http.MethodPost, table, data, "")
	return err
}

func (s *Store) Update(ctx context.Context, table string, data interface{}, filter store.Filter) error {
	_, err := s.request(ctx, http.MethodPatch, table, data, filterQuery(filter))
	return err
}

func (s *Store) Upsert(ctx context.Context, table string, data interface{}, conflictKey string) error {
	query := ""
	if conflictKey != "" {
		query = "on_conflict=" + conflictKey
	}
	_, err := s.request(ctx, http.MethodPost, table, data, query)
	return err
}

func (s *Store) Delete(ctx context.Context, table string, filter store.Filter) error {
	_, err := s.request(ctx, http.MethodDelete, table, nil, filterQuery(filter))
	return err
}

func (s *Store) RegisterWallet(ctx context.Context, reg domain.WalletRegistration) error {
	existing, ok, err := s.GetRegistration(ctx, reg.Address)
	if err != nil {
		return err
	}
	if ok && existing.Address != "" {
		return serrors.AlreadyRegistered(reg.Address)
	}
	return s.Insert(ctx, "wallet_registrations", reg)
}

// UnregisterWallet transitions the registration to paused in place rather
// than deleting it, so cascade-owned historical rows survive.
func (s *Store) UnregisterWallet(ctx context.Context, address string) error {
	return s.Update(ctx, "wallet_registrations", map[string]interface{}{
		"state": domain.StatePaused,
	}, store.Filter{"address": address})
}

func (s *Store) GetRegistration(ctx context.Context, address string) (domain.WalletRegistration, bool, error) {
	raw, err := s.request(ctx, http.MethodGet, "wallet_registrations", nil, fmt.Sprintf("address=eq.%s&limit=1", address))
	if err != nil {
		return domain.WalletRegistration{}, false, err
	}
	results := gjson.ParseBytes(raw).Array()
	if len(results) == 0 {
		return domain.WalletRegistration{}, false, nil
	}
	var reg domain.WalletRegistration
	if err := json.Unmarshal([]byte(results[0].Raw), &reg); err != nil {
		return domain.WalletRegistration{}, false, fmt.Errorf("decode registration: %w", err)
	}
	return reg, true, nil
}

func (s *Store) ListRegistrations(ctx context.Context) ([]domain.WalletRegistration, error) {
	raw, err := s.request(ctx, http.MethodGet, "wallet_registrations", nil, "order=registered_at.asc")
	if err != nil {
		return nil, err
	}
	var out []domain.WalletRegistration
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode registrations: %w", err)
	}
	return out, nil
}

func (s *Store) BumpTransactionCount(ctx context.Context, address string, at time.Time) error {
	return s.Update(ctx, "wallet_registrations", map[string]interface{}{
		"last_activity_at": at,
		"state":            domain.StateActive,
	}, store.Filter{"address": address})
}

// WriteTransactionAndBalance calls the "apply_transaction" RPC-shaped
// endpoint, the store's single atomic primitive for the insert-transaction
// + apply-balance-delta write path (Open Question #3 in SPEC_FULL.md).
func (s *Store) WriteTransactionAndBalance(ctx context.Context, tx domain.Transaction, delta domain.BalanceDelta) (bool, error) {
	raw, err := s.request(ctx, http.MethodPost, "rpc/apply_transaction", map[string]interface{}{
		"transaction": tx,
		"delta":       delta,
	}, "")
	if err != nil {
		return false, err
	}
	inserted := gjson.GetBytes(raw, "inserted").Bool()
	return inserted, nil
}

func (s *Store) GetBalance(ctx context.Context, wallet, mint string) (domain.Balance, bool, error) {
	raw, err := s.request(ctx, http.MethodGet, "wallet_balances", nil,
		fmt.Sprintf("wallet_addr=eq.%s&mint=eq.%s&limit=1", wallet, mint))
	if err != nil {
		return domain.Balance{}, false, err
	}
	results := gjson.ParseBytes(raw).Array()
	if len(results) == 0 {
		return domain.Balance{}, false, nil
	}
	var bal domain.Balance
	if err := json.Unmarshal([]byte(results[0].Raw), &bal); err != nil {
		return domain.Balance{}, false, fmt.Errorf("decode balance: %w", err)
	}
	return bal, true, nil
}

func (s *Store) ListBalances(ctx context.Context, wallet string) ([]domain.Balance, error) {
	raw, err := s.request(ctx, http.MethodGet, "wallet_balances", nil, fmt.Sprintf("wallet_addr=eq.%s", wallet))
	if err != nil {
		return nil, err
	}
	var out []domain.Balance
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, wallet string, limit int) ([]domain.Transaction, error) {
	query := fmt.Sprintf("wallet_addr=eq.%s&order=block_time.desc", wallet)
	if limit > 0 {
		query += fmt.Sprintf("&limit=%d", limit)
	}
	raw, err := s.request(ctx, http.MethodGet, "wallet_transactions", nil, query)
	if err != nil {
		return nil, err
	}
	var out []domain.Transaction
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return out, nil
}

func (s *Store) AddLot(ctx context.Context, lot domain.CostBasisLot) error {
	return s.Insert(ctx, "cost_basis_lots", lot)
}

func (s *Store) ListOpenLots(ctx context.Context, wallet, mint string) ([]domain.CostBasisLot, error) {
	raw, err := s.request(ctx, http.MethodGet, "cost_basis_lots", nil,
		fmt.Sprintf("wallet_addr=eq.%s&mint=eq.%s&remaining_qty=gt.0&order=acquired_at.asc", wallet, mint))
	if err != nil {
		return nil, err
	}
	var out []domain.CostBasisLot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode lots: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateLotRemaining(ctx context.Context, lotID string, remaining float64) error {
	return s.Update(ctx, "cost_basis_lots", map[string]interface{}{
		"remaining_qty": remaining,
	}, store.Filter{"id": lotID})
}

func (s *Store) RecordRealizedGain(ctx context.Context, gain domain.RealizedGain) error {
	return s.Insert(ctx, "realized_gains", gain)
}

// ListRealizedGains returns every realized gain for (wallet, mint) with
// occurred_at at or after since (zero time omits the lower bound).
func (s *Store) ListRealizedGains(ctx context.Context, wallet, mint string, since time.Time) ([]domain.RealizedGain, error) {
	query := fmt.Sprintf("wallet_addr=eq.%s&mint=eq.%s&order=occurred_at.asc", wallet, mint)
	if !since.IsZero() {
		query += "&occurred_at=gte." + since.UTC().Format(time.RFC3339)
	}
	raw, err := s.request(ctx, http.MethodGet, "realized_gains", nil, query)
	if err != nil {
		return nil, err
	}
	var out []domain.RealizedGain
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode realized gains: %w", err)
	}
	return out, nil
}

func (s *Store) SavePnLSnapshot(ctx context.Context, snap domain.PnLSnapshot) error {
	return s.Upsert(ctx, "pnl_snapshots", snap, "wallet_addr,mint,period")
}

func (s *Store) GetPnLSnapshot(ctx context.Context, wallet, mint string, period domain.PnLPeriod) (domain.PnLSnapshot, bool, error) {
	raw, err := s.request(ctx, http.MethodGet, "pnl_snapshots", nil,
		fmt.Sprintf("wallet_addr=eq.%s&mint=eq.%s&period=eq.%s&limit=1", wallet, mint, period))
	if err != nil {
		return domain.PnLSnapshot{}, false, err
	}
	results := gjson.ParseBytes(raw).Array()
	if len(results) == 0 {
		return domain.PnLSnapshot{}, false, nil
	}
	var snap domain.PnLSnapshot
	if err := json.Unmarshal([]byte(results[0].Raw), &snap); err != nil {
		return domain.PnLSnapshot{}, false, fmt.Errorf("decode pnl snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *Store) SaveRiskProfile(ctx context.Context, profile domain.RiskProfile) error {
	return s.Upsert(ctx, "risk_profiles", profile, "wallet_addr")
}

func (s *Store) GetRiskProfile(ctx context.Context, wallet string) (domain.RiskProfile, bool, error) {
	raw, err := s.request(ctx, http.MethodGet, "risk_profiles", nil, fmt.Sprintf("wallet_addr=eq.%s&limit=1", wallet))
	if err != nil {
		return domain.RiskProfile{}, false, err
	}
	results := gjson.ParseBytes(raw).Array()
	if len(results) == 0 {
		return domain.RiskProfile{}, false, nil
	}
	var profile domain.RiskProfile
	if err := json.Unmarshal([]byte(results[0].Raw), &profile); err != nil {
		return domain.RiskProfile{}, false, fmt.Errorf("decode risk profile: %w", err)
	}
	return profile, true, nil
}

func (s *Store) RecordAnomaly(ctx context.Context, anomaly domain.Anomaly) error {
	return s.Insert(ctx, "anomalies", anomaly)
}

func (s *Store) ListAnomalies(ctx context.Context, wallet string) ([]domain.Anomaly, error) {
	raw, err := s.request(ctx, http.MethodGet, "anomalies", nil, fmt.Sprintf("wallet_addr=eq.%s&order=detected_at.desc", wallet))
	if err != nil {
		return nil, err
	}
	var out []domain.Anomaly
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode anomalies: %w", err)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
