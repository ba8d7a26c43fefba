package testutils

import (
	"crypto/rand"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

// RandomPublicKey returns 32 random bytes as a key. It is not necessarily
// on the curve, which is fine for wallets in tests.
func RandomPublicKey(t *testing.T) solana.PublicKey {
	var key solana.PublicKey
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return key
}
