// Package domain defines the entity types shared across the wallet memory
// layer's components.
package domain

import "time"

// RegistrationState is the wallet's indexing lifecycle state.
type RegistrationState string

const (
	StatePending RegistrationState = "pending"
	StateActive  RegistrationState = "active"
	StateError   RegistrationState = "error"
	StatePaused  RegistrationState = "paused"
)

// WalletRegistration records that a wallet address is tracked by the
// ingestion pipeline.
type WalletRegistration struct {
	Address          string
	Label            string
	RegisteredAt     time.Time
	AutoRegistered   bool
	TransactionCount int64
	LastActivityAt   time.Time
	State            RegistrationState
	PrivacyFlag      bool
	OwningAgent      string
	LastError        string
}

// TransactionKind enumerates the on-chain activity kinds the indexer
// recognizes. Unrecognized wire values fall back to KindUnknown.
type TransactionKind string

const (
	KindTransfer        TransactionKind = "transfer"
	KindSwap            TransactionKind = "swap"
	KindStake           TransactionKind = "stake"
	KindUnstake         TransactionKind = "unstake"
	KindLiquidityAdd    TransactionKind = "liquidity-add"
	KindLiquidityRemove TransactionKind = "liquidity-remove"
	KindVote            TransactionKind = "vote"
	KindUnknown         TransactionKind = "unknown"
)

// ParseTransactionKind maps a raw wire value to a known TransactionKind,
// defaulting to KindUnknown.
func ParseTransactionKind(raw string) TransactionKind {
	switch TransactionKind(raw) {
	case KindTransfer, KindSwap, KindStake, KindUnstake, KindLiquidityAdd, KindLiquidityRemove, KindVote:
		return TransactionKind(raw)
	default:
		return KindUnknown
	}
}

// Transaction is a single observed wallet activity record.
type Transaction struct {
	Signature    string
	WalletAddr   string
	Mint         string
	Amount       float64
	Kind         TransactionKind
	Counterparty string
	Fee          float64
	Symbol       string
	BlockTime    time.Time
	Slot         uint64
	Privacy      *EncryptedPayload // nil when privacy mode is not enabled
}

// Balance is the latest known token balance for a wallet.
type Balance struct {
	WalletAddr string
	Mint       string
	Amount     float64
	UpdatedAt  time.Time
}

// BalanceDelta records a single balance-changing event, distinct from the
// point-in-time Balance snapshot.
type BalanceDelta struct {
	WalletAddr string
	Mint       string
	Delta      float64
	Signature  string
	OccurredAt time.Time
}

// CostBasisLot is one FIFO acquisition lot for a (wallet, mint) pair.
type CostBasisLot struct {
	ID            string
	WalletAddr    string
	Mint          string
	Quantity      float64
	RemainingQty  float64
	UnitCostUSD   float64
	AcquiredAt    time.Time
	AcquiredTxSig string
}

// RealizedGain is produced when a disposal consumes one or more lots.
type RealizedGain struct {
	WalletAddr    string
	Mint          string
	Quantity      float64
	ProceedsUSD   float64
	CostBasisUSD  float64
	FeeUSD        float64
	GainUSD       float64
	DisposalTxSig string
	OccurredAt    time.Time
}

// PnLPeriod is one of the snapshot windows the PnL engine reports over.
type PnLPeriod string

const (
	PnLPeriod24h PnLPeriod = "24h"
	PnLPeriod7d  PnLPeriod = "7d"
	PnLPeriod30d PnLPeriod = "30d"
	PnLPeriodAll PnLPeriod = "all"
)

// PnLPeriods lists every period the periodic driver recomputes.
var PnLPeriods = []PnLPeriod{PnLPeriod24h, PnLPeriod7d, PnLPeriod30d, PnLPeriodAll}

// TokenPnL is one token's contribution to a PnLSnapshot's breakdown.
type TokenPnL struct {
	Mint          string
	RealizedUSD   float64
	UnrealizedUSD float64
}

// PnLSnapshot is the periodic per-wallet profit-and-loss rollup for one
// token over one reporting period.
type PnLSnapshot struct {
	WalletAddr       string
	Mint             string
	Period           PnLPeriod
	RealizedUSD      float64
	UnrealizedUSD    float64
	TotalUSD         float64
	ReturnPercentage float64
	FeesPaidUSD      float64
	TokenBreakdown   []TokenPnL
	UnrealizedStale  bool
	ComputedAt       time.Time
}

// RiskSeverity classifies an Anomaly's disposition.
type RiskSeverity string

const (
	SeverityLow      RiskSeverity = "low"
	SeverityMedium   RiskSeverity = "medium"
	SeverityHigh     RiskSeverity = "high"
	SeverityCritical RiskSeverity = "critical"
)

// RiskProfile is the aggregate per-wallet risk assessment.
type RiskProfile struct {
	WalletAddr        string
	Score             float64
	AnomalyCount      int64
	HighRiskPercent   float64
	CounterpartyRisk  float64
	Denylisted        bool
	LastUpdated       time.Time
	ActiveSignal      []string
}

// Anomaly is a single detected risk signal instance.
type Anomaly struct {
	ID         string
	WalletAddr string
	Kind       string // "z-score", "frequency", "denylist", "circadian"
	Signature  string
	Severity   RiskSeverity
	Score      float64 // composite transaction score in [0, 100]
	DetectedAt time.Time
	Detail     string
}

// EncryptedPayload is the wire format for an encrypted metadata record.
type EncryptedPayload struct {
	CiphertextHex string `json:"ciphertext_hex"`
	IVHex         string `json:"iv_hex"`
	TagHex        string `json:"tag_hex"`
	KeyHashHex    string `json:"key_hash_hex"`
	Algorithm     string `json:"algorithm"`
	Version       int    `json:"version"`
}

// Subscription is a live event-fan-out registration.
type Subscription struct {
	ID            string
	WalletFilter  map[string]bool // empty/nil means "all wallets"
	KindFilter    map[string]bool // empty/nil means "all kinds"
	RatePerSecond float64
	CreatedAt     time.Time
}

// Event kinds, matching the consumer event wire's eventType vocabulary.
const (
	EventTransactionNew    = "transaction-new"
	EventBalanceUpdated    = "balance-updated"
	EventSecurityAnomaly   = "security-anomaly"
	EventMarketOddsChanged = "market-odds-changed"
	EventPnLUpdated        = "pnl-updated"
	EventSystemError       = "system-error"
)

// Event is a single fan-out payload.
type Event struct {
	Kind       string
	WalletAddr string
	Payload    interface{}
	OccurredAt time.Time
}

// QueuedWrite is a write operation held by the degradation controller while
// the primary store is unavailable.
type QueuedWrite struct {
	ID         string
	Kind       string // "insert", "update", "upsert", "delete"
	Table      string
	Data       interface{}
	Filter     map[string]string
	EnqueuedAt time.Time
	Attempts   int
}
