package statetree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	// DefaultDepth is the default tree depth. Leaf capacity is 2^depth.
	DefaultDepth uint8 = 16

	// MaxDepth bounds the depth so capacity fits a uint64 and the zero
	// hash table stays small.
	MaxDepth uint8 = 32
)

var (
	// ErrIndexOutOfRange is returned when inserting at an index >= capacity.
	// Writing past the capacity is a programming error of the caller, the
	// tree never wraps the index silently.
	ErrIndexOutOfRange = errors.New("leaf index out of range")

	// ErrInvalidDepth is returned when constructing a tree with depth 0 or > MaxDepth
	ErrInvalidDepth = errors.New("invalid tree depth")
)

// StateTree is a fixed-depth binary merkle accumulator over account leaves.
// Empty leaves take the zero hash of their level. The root is recomputed
// lazily on Root() and cached until the next Insert.
type StateTree struct {
	mu         sync.RWMutex
	depth      uint8
	capacity   uint64
	leaves     map[uint64]common.Hash
	zeroHashes []common.Hash
	root       common.Hash
	dirty      bool
}

// New returns an empty StateTree of the given depth.
func New(depth uint8) (*StateTree, error) {
	if depth == 0 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	zeroHashes := generateZeroHashes(depth)
	return &StateTree{
		depth:      depth,
		capacity:   uint64(1) << depth,
		leaves:     make(map[uint64]common.Hash),
		zeroHashes: zeroHashes,
		root:       zeroHashes[depth],
	}, nil
}

// Depth returns the tree depth.
func (t *StateTree) Depth() uint8 {
	return t.depth
}

// Capacity returns the number of leaf slots (2^depth).
func (t *StateTree) Capacity() uint64 {
	return t.capacity
}

// Insert overwrites the leaf at the given index. It does not recompute the
// root, that happens on the next Root() call.
func (t *StateTree) Insert(index uint64, leaf common.Hash) error {
	if index >= t.capacity {
		return fmt.Errorf("%w: index %d, capacity %d", ErrIndexOutOfRange, index, t.capacity)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.leaves[index] = leaf
	t.dirty = true
	return nil
}

// GetLeaf returns the content of the leaf at the given index, or the zero
// hash if it was never written.
func (t *StateTree) GetLeaf(index uint64) (common.Hash, error) {
	if index >= t.capacity {
		return common.Hash{}, fmt.Errorf("%w: index %d, capacity %d", ErrIndexOutOfRange, index, t.capacity)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if leaf, ok := t.leaves[index]; ok {
		return leaf, nil
	}
	return common.Hash{}, nil
}

// Root returns the merkle root over all leaves. Two consecutive calls with no
// intervening Insert return the same value.
func (t *StateTree) Root() common.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return t.root
	}
	t.root = t.computeRoot()
	t.dirty = false
	return t.root
}

// GetProof returns the sibling path for the leaf at the given index against
// the current root. Missing siblings take the zero hash of their level.
func (t *StateTree) GetProof(index uint64) ([]common.Hash, error) {
	if index >= t.capacity {
		return nil, fmt.Errorf("%w: index %d, capacity %d", ErrIndexOutOfRange, index, t.capacity)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	siblings := make([]common.Hash, t.depth)
	level := t.leaves
	for h := uint8(0); h < t.depth; h++ {
		siblingIndex := index ^ 1
		if sibling, ok := level[siblingIndex]; ok {
			siblings[h] = sibling
		} else {
			siblings[h] = t.zeroHashes[h]
		}
		level = t.hashLevel(level, h)
		index >>= 1
	}
	return siblings, nil
}

// computeRoot hashes all occupied nodes bottom-up. Nodes with no occupied
// descendant keep the zero hash of their level and are never materialized.
func (t *StateTree) computeRoot() common.Hash {
	level := t.leaves
	for h := uint8(0); h < t.depth; h++ {
		level = t.hashLevel(level, h)
	}
	if root, ok := level[0]; ok {
		return root
	}
	return t.zeroHashes[t.depth]
}

// hashLevel computes the parent level of the given level at height h.
func (t *StateTree) hashLevel(level map[uint64]common.Hash, h uint8) map[uint64]common.Hash {
	parents := make(map[uint64]common.Hash, (len(level)+1)/2)
	for index := range level {
		parentIndex := index >> 1
		if _, done := parents[parentIndex]; done {
			continue
		}
		left, ok := level[parentIndex*2]
		if !ok {
			left = t.zeroHashes[h]
		}
		right, ok := level[parentIndex*2+1]
		if !ok {
			right = t.zeroHashes[h]
		}
		parents[parentIndex] = hashPair(left, right)
	}
	return parents
}

func hashPair(left, right common.Hash) common.Hash {
	var hash common.Hash
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(left[:])
	hasher.Write(right[:])
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// generateZeroHashes returns the hash of the empty subtree per level, from
// the empty leaf at position 0 up to the empty root at position depth.
func generateZeroHashes(depth uint8) []common.Hash {
	var zeroHashes = []common.Hash{
		{},
	}
	for i := 1; i <= int(depth); i++ {
		zeroHashes = append(zeroHashes, hashPair(zeroHashes[i-1], zeroHashes[i-1]))
	}
	return zeroHashes
}
