package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint64RoundTrip(t *testing.T) {
	for _, num := range []uint64{0, 1, 255, 1 << 32, 1<<64 - 1} {
		require.Equal(t, num, BytesToUint64(Uint64ToBytes(num)))
	}
}

func TestUint32RoundTrip(t *testing.T) {
	for _, num := range []uint32{0, 1, 255, 1<<32 - 1} {
		require.Equal(t, num, BytesToUint32(Uint32ToBytes(num)))
	}
}

func TestHashTransactionIDDeterminism(t *testing.T) {
	amount := big.NewInt(1000)
	h1 := HashTransactionID("account-hash-aa", "account-hash-bb", amount, 42)
	h2 := HashTransactionID("account-hash-aa", "account-hash-bb", amount, 42)
	require.Equal(t, h1, h2)

	// timestamp is part of the preimage
	h3 := HashTransactionID("account-hash-aa", "account-hash-bb", amount, 43)
	require.NotEqual(t, h1, h3)
}

func TestHashTransactionLeafDependsOnBatch(t *testing.T) {
	id := HashTransactionID("a", "b", big.NewInt(1), 1)
	require.NotEqual(t, HashTransactionLeaf(id, 1), HashTransactionLeaf(id, 2))
}
