package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/registry"
	"github.com/walletmemory/core/internal/store/memory"
	"github.com/walletmemory/core/internal/upstream"
)

// Well-formed base58 wallet addresses (each decodes to 32 bytes), since
// auto-registration validates the address before indexing.
const (
	walletDedup   = "So11111111111111111111111111111111111111112"
	walletPub     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	walletPrivacy = "Vote111111111111111111111111111111111111111"
	walletStake   = "Stake11111111111111111111111111111111111111"
)

func sampleMessage(wallet, signature string) upstream.Message {
	payload := []byte(`{"signature":"` + signature + `","mint":"usdc","amount":5,"type":"transfer","direction":"in","counterparty":"exchange","fee":0.1,"symbol":"USDC","slot":1,"block_time":1700000000}`)
	return upstream.Message{Kind: "transaction", WalletAddr: wallet, Payload: payload}
}

func TestIndex_DedupDoesNotDoubleCountTransactions(t *testing.T) {
	st := memory.New()
	log := logging.New("test", "error", "text")
	reg := registry.New(st, nil, log)
	idx := New(Config{AutoRegister: true}, st, nil, reg, nil, nil, log)
	ctx := context.Background()

	msg := sampleMessage(walletDedup, "sig-shared")

	require.NoError(t, idx.Ingest(ctx, msg))
	require.NoError(t, idx.Ingest(ctx, msg))

	registration, ok, err := st.GetRegistration(ctx, walletDedup)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, registration.TransactionCount, "re-indexing an identical signature must not double-count transactions")

	txs, err := st.ListTransactions(ctx, walletDedup, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestIngest_RequiresRegistrationWhenAutoRegisterDisabled(t *testing.T) {
	st := memory.New()
	log := logging.New("test", "error", "text")
	reg := registry.New(st, nil, log)
	idx := New(Config{AutoRegister: false}, st, nil, reg, nil, nil, log)

	err := idx.Ingest(context.Background(), sampleMessage("wallet-unregistered", "sig-1"))
	require.Error(t, err)
}

type recordingPublisher struct {
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) {
	p.events = append(p.events, event)
}

func TestIngest_PublishesOnlyOnInsert(t *testing.T) {
	st := memory.New()
	log := logging.New("test", "error", "text")
	reg := registry.New(st, nil, log)
	pub := &recordingPublisher{}
	idx := New(Config{AutoRegister: true}, st, nil, reg, nil, pub, log)
	ctx := context.Background()

	msg := sampleMessage(walletPub, "sig-pub")
	require.NoError(t, idx.Ingest(ctx, msg))
	require.NoError(t, idx.Ingest(ctx, msg))

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventTransactionNew, pub.events[0].Kind)
}

func TestIngest_NullsPlaintextFieldsWhenPrivacyEnabled(t *testing.T) {
	st := memory.New()
	log := logging.New("test", "error", "text")
	reg := registry.New(st, nil, log)
	idx := New(Config{AutoRegister: true, PrivacyEnabled: true, EncryptionSalt: "test-salt"}, st, nil, reg, nil, nil, log)
	ctx := context.Background()

	msg := sampleMessage(walletPrivacy, "sig-privacy")
	require.NoError(t, idx.Ingest(ctx, msg))

	txs, err := st.ListTransactions(ctx, walletPrivacy, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Zero(t, tx.Amount, "amount must be nulled once the encrypted payload carries it")
	assert.Empty(t, tx.Counterparty, "counterparty must be nulled once the encrypted payload carries it")
	require.NotNil(t, tx.Privacy, "the encrypted payload must still be attached")
}

func TestIngest_StakeMovesBalanceOutRegardlessOfDirection(t *testing.T) {
	st := memory.New()
	log := logging.New("test", "error", "text")
	reg := registry.New(st, nil, log)
	idx := New(Config{AutoRegister: true}, st, nil, reg, nil, nil, log)
	ctx := context.Background()

	fund := []byte(`{"signature":"sig-fund","mint":"sol","amount":10,"type":"transfer","direction":"in","slot":1,"block_time":1700000000}`)
	require.NoError(t, idx.Ingest(ctx, upstream.Message{Kind: "transaction", WalletAddr: walletStake, Payload: fund}))

	payload := []byte(`{"signature":"sig-stake","mint":"sol","amount":5,"type":"stake","direction":"in","slot":2,"block_time":1700000001}`)
	require.NoError(t, idx.Ingest(ctx, upstream.Message{Kind: "transaction", WalletAddr: walletStake, Payload: payload}))

	bal, ok, err := st.GetBalance(ctx, walletStake, "sol")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 5.0, bal.Amount, 1e-9, "staking must debit the liquid balance (10 - 5) regardless of the wire direction field")
}
