package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKey_StableUnderParamReordering(t *testing.T) {
	a := DeriveKey("abc", "balances", map[string]interface{}{"wallet": "abc", "mint": "usdc"})
	b := DeriveKey("abc", "balances", map[string]interface{}{"mint": "usdc", "wallet": "abc"})
	assert.Equal(t, a, b)
}

func TestDeriveKey_DiffersOnValueChange(t *testing.T) {
	a := DeriveKey("abc", "balances", map[string]interface{}{"mint": "usdc"})
	b := DeriveKey("abc", "balances", map[string]interface{}{"mint": "sol"})
	assert.NotEqual(t, a, b)
}

func TestDeriveKey_DiffersOnFamily(t *testing.T) {
	a := DeriveKey("abc", "balances", nil)
	b := DeriveKey("abc", "transactions", nil)
	assert.NotEqual(t, a, b)
}

func TestDeriveKey_DiffersOnWallet(t *testing.T) {
	a := DeriveKey("abc", "balances", nil)
	b := DeriveKey("xyz", "balances", nil)
	assert.NotEqual(t, a, b)
}

func TestDeriveKey_OmitsHashSegmentWithoutParams(t *testing.T) {
	assert.Equal(t, "wallet:abc:balances", DeriveKey("abc", "balances", nil))
}

func TestDeriveKey_IsGlobbableByFamily(t *testing.T) {
	k := DeriveKey("abc", "pnl:24h", nil)
	assert.Equal(t, "wallet:abc:pnl:24h", k)
}
