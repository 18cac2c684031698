package privacy

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	plaintext := []byte(`{"counterparty":"exchange-x","note":"payroll"}`)

	payload, err := Encrypt("wallet-abc", "pepper", plaintext)
	require.NoError(t, err)
	assert.Equal(t, "aes-256-gcm", payload.Algorithm)
	assert.Equal(t, 1, payload.Version)
	assert.NotContains(t, payload.CiphertextHex, string(plaintext))

	recovered, err := Decrypt("wallet-abc", "pepper", payload)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestDecrypt_FailsOnWalletMismatch(t *testing.T) {
	plaintext := []byte("secret")
	payload, err := Encrypt("wallet-abc", "pepper", plaintext)
	require.NoError(t, err)

	_, err = Decrypt("wallet-xyz", "pepper", payload)
	require.Error(t, err)
}

func TestDecrypt_FailsOnSaltMismatch(t *testing.T) {
	plaintext := []byte("secret")
	payload, err := Encrypt("wallet-abc", "pepper", plaintext)
	require.NoError(t, err)

	_, err = Decrypt("wallet-abc", "different-pepper", payload)
	require.Error(t, err)
}

func TestDecrypt_FailsOnTamperedCiphertext(t *testing.T) {
	plaintext := []byte("secret")
	payload, err := Encrypt("wallet-abc", "pepper", plaintext)
	require.NoError(t, err)

	raw, err := hex.DecodeString(payload.CiphertextHex)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	payload.CiphertextHex = hex.EncodeToString(raw)

	_, err = Decrypt("wallet-abc", "pepper", payload)
	require.Error(t, err)
}
