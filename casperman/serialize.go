package casperman

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// Canonical Casper byte serialization for the handful of CL types the client
// emits. The node recomputes the body hash from these bytes, so they have to
// match the scheme exactly.

var errMalformedNamedArg = errors.New("malformed named arg")

const (
	clTypeTagU64    byte = 5
	clTypeTagU512   byte = 8
	clTypeTagString byte = 10
)

func clString(value string) CLValue {
	buf := make([]byte, 4, 4+len(value))
	binary.LittleEndian.PutUint32(buf, uint32(len(value)))
	buf = append(buf, value...)
	return CLValue{CLType: "String", Bytes: hex.EncodeToString(buf)}
}

func clU64(value uint64) CLValue {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return CLValue{CLType: "U64", Bytes: hex.EncodeToString(buf)}
}

// clU512 encodes a big endian magnitude as length prefixed little endian bytes
func clU512(value *big.Int) CLValue {
	be := value.Bytes()
	buf := make([]byte, 0, 1+len(be))
	buf = append(buf, byte(len(be)))
	for i := len(be) - 1; i >= 0; i-- {
		buf = append(buf, be[i])
	}
	return CLValue{CLType: "U512", Bytes: hex.EncodeToString(buf)}
}

func clTypeTag(clType string) byte {
	switch clType {
	case "U64":
		return clTypeTagU64
	case "U512":
		return clTypeTagU512
	default:
		return clTypeTagString
	}
}

func (v CLValue) toBytes() ([]byte, error) {
	raw, err := hex.DecodeString(v.Bytes)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4, 4+len(raw)+1)
	binary.LittleEndian.PutUint32(buf, uint32(len(raw)))
	buf = append(buf, raw...)
	buf = append(buf, clTypeTag(v.CLType))
	return buf, nil
}

func argsToBytes(args []NamedArg) ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(args)))
	for _, arg := range args {
		name := make([]byte, 4, 4+len(arg.Name))
		binary.LittleEndian.PutUint32(name, uint32(len(arg.Name)))
		name = append(name, arg.Name...)
		buf = append(buf, name...)

		value, err := arg.Value.toBytes()
		if err != nil {
			return nil, err
		}
		buf = append(buf, value...)
	}
	return buf, nil
}

const (
	deployItemTagModuleBytes          byte = 0
	deployItemTagStoredContractByHash byte = 1
)

func (d DeployItem) toBytes() ([]byte, error) {
	switch {
	case d.ModuleBytes != nil:
		module, err := hex.DecodeString(d.ModuleBytes.ModuleBytes)
		if err != nil {
			return nil, err
		}
		args, err := argsToBytes(d.ModuleBytes.Args)
		if err != nil {
			return nil, err
		}
		buf := []byte{deployItemTagModuleBytes}
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(module)))
		buf = append(buf, lenBuf...)
		buf = append(buf, module...)
		return append(buf, args...), nil

	case d.StoredContractByHash != nil:
		contractHash, err := hex.DecodeString(d.StoredContractByHash.Hash)
		if err != nil {
			return nil, err
		}
		args, err := argsToBytes(d.StoredContractByHash.Args)
		if err != nil {
			return nil, err
		}
		buf := []byte{deployItemTagStoredContractByHash}
		buf = append(buf, contractHash...)
		entryPoint := make([]byte, 4, 4+len(d.StoredContractByHash.EntryPoint))
		binary.LittleEndian.PutUint32(entryPoint, uint32(len(d.StoredContractByHash.EntryPoint)))
		entryPoint = append(entryPoint, d.StoredContractByHash.EntryPoint...)
		buf = append(buf, entryPoint...)
		return append(buf, args...), nil
	}
	return nil, errors.New("empty deploy item")
}

func bodyHash(payment, session DeployItem) ([32]byte, error) {
	paymentBytes, err := payment.toBytes()
	if err != nil {
		return [32]byte{}, err
	}
	sessionBytes, err := session.toBytes()
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(append(paymentBytes, sessionBytes...)), nil
}

func (h Header) toBytes() ([]byte, error) {
	account, err := hex.DecodeString(h.Account)
	if err != nil {
		return nil, err
	}
	timestamp, err := parseTimestampMillis(h.Timestamp)
	if err != nil {
		return nil, err
	}
	ttl, err := parseTTLMillis(h.TTL)
	if err != nil {
		return nil, err
	}
	body, err := hex.DecodeString(h.BodyHash)
	if err != nil {
		return nil, err
	}

	buf := append([]byte{}, account...)
	nums := make([]byte, 24)
	binary.LittleEndian.PutUint64(nums[0:], timestamp)
	binary.LittleEndian.PutUint64(nums[8:], ttl)
	binary.LittleEndian.PutUint64(nums[16:], h.GasPrice)
	buf = append(buf, nums...)
	buf = append(buf, body...)
	// no dependencies
	buf = append(buf, 0, 0, 0, 0)
	chain := make([]byte, 4, 4+len(h.ChainName))
	binary.LittleEndian.PutUint32(chain, uint32(len(h.ChainName)))
	chain = append(chain, h.ChainName...)
	return append(buf, chain...), nil
}

func deployHash(header Header) ([32]byte, error) {
	headerBytes, err := header.toBytes()
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(headerBytes), nil
}
