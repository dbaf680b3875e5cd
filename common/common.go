package common

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/keccak256"
)

// Uint64ToBytes converts a uint64 to a byte slice
func Uint64ToBytes(num uint64) []byte {
	const uint64ByteSize = 8

	bytes := make([]byte, uint64ByteSize)
	binary.BigEndian.PutUint64(bytes, num)

	return bytes
}

// BytesToUint64 converts a byte slice to a uint64
func BytesToUint64(bytes []byte) uint64 {
	return binary.BigEndian.Uint64(bytes)
}

// Uint32ToBytes converts a uint32 to a byte slice in big-endian order
func Uint32ToBytes(num uint32) []byte {
	const uint32ByteSize = 4

	key := make([]byte, uint32ByteSize)
	binary.BigEndian.PutUint32(key, num)

	return key
}

// BytesToUint32 converts a byte slice to a uint32
func BytesToUint32(bytes []byte) uint32 {
	return binary.BigEndian.Uint32(bytes)
}

// HashTransactionID computes the content-derived identifier of a transaction.
// The submission timestamp is part of the preimage so that two otherwise
// identical transfers get distinct ids.
func HashTransactionID(sender, recipient string, amount *big.Int, submittedAtUnixNano int64) common.Hash {
	v1 := []byte(sender)
	v2 := []byte(recipient)
	v3 := amount.Bytes()
	v4 := Uint64ToBytes(uint64(submittedAtUnixNano))

	return common.BytesToHash(keccak256.Hash(v1, v2, v3, v4))
}

// HashTransactionLeaf computes the state tree leaf value for a transaction.
// The batch id is part of the preimage, so the same transaction sealed under a
// different batch produces a different leaf.
func HashTransactionLeaf(txID common.Hash, batchID uint64) common.Hash {
	return common.BytesToHash(keccak256.Hash(txID.Bytes(), Uint64ToBytes(batchID)))
}
