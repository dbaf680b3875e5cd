package sequencer

import (
	"math/big"
	"testing"

	accelcommon "github.com/mertksk/accelerate/common"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/mempool"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/mertksk/accelerate/statetree"
	"github.com/stretchr/testify/require"
)

const (
	testSender    = "account-hash-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testRecipient = "account-hash-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newTestBuilder(t *testing.T, depth uint8) (*BatchBuilder, *mempool.Mempool, *statetree.StateTree) {
	t.Helper()
	logger := log.WithFields("module", "builder-test")
	pool := mempool.New(logger, mempool.Config{})
	tree, err := statetree.New(depth)
	require.NoError(t, err)
	return NewBatchBuilder(logger, pool, tree, 0), pool, tree
}

func admit(t *testing.T, pool *mempool.Mempool, amount int64) *types.Transaction {
	t.Helper()
	transaction, err := pool.Admit(testSender, testRecipient, big.NewInt(amount))
	require.NoError(t, err)
	return transaction
}

func TestBuildEmptyMempoolIsNoOp(t *testing.T) {
	sut, _, tree := newTestBuilder(t, 4)
	rootBefore := tree.Root()

	batch, err := sut.Build()
	require.NoError(t, err)
	require.Nil(t, batch)
	require.Equal(t, rootBefore, tree.Root())
	require.Equal(t, uint64(1), sut.NextBatchID())
}

func TestBuildSealsPendingInOrder(t *testing.T) {
	sut, pool, _ := newTestBuilder(t, 4)
	first := admit(t, pool, 10)
	second := admit(t, pool, 20)
	third := admit(t, pool, 30)

	batch, err := sut.Build()
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Equal(t, uint64(1), batch.ID)
	require.Equal(t, types.BatchProcessing, batch.Status)
	require.NotEqual(t, batch.PreRoot, batch.PostRoot)

	require.Len(t, batch.Transactions, 3)
	require.Equal(t, first.ID, batch.Transactions[0].ID)
	require.Equal(t, second.ID, batch.Transactions[1].ID)
	require.Equal(t, third.ID, batch.Transactions[2].ID)
	for _, transaction := range batch.Transactions {
		require.Equal(t, types.TxBatched, transaction.Status)
		require.NotNil(t, transaction.BatchID)
		require.Equal(t, batch.ID, *transaction.BatchID)
	}
	require.Zero(t, pool.Len())
}

func TestBuildMonotonicBatchIDs(t *testing.T) {
	sut, pool, _ := newTestBuilder(t, 4)

	admit(t, pool, 10)
	first, err := sut.Build()
	require.NoError(t, err)

	// an empty pass in between does not consume an id
	skipped, err := sut.Build()
	require.NoError(t, err)
	require.Nil(t, skipped)

	admit(t, pool, 20)
	second, err := sut.Build()
	require.NoError(t, err)

	require.Equal(t, uint64(1), first.ID)
	require.Equal(t, uint64(2), second.ID)
}

func TestBuildPostRootIsReproducible(t *testing.T) {
	sut, pool, _ := newTestBuilder(t, 4)
	admit(t, pool, 10)
	admit(t, pool, 20)

	batch, err := sut.Build()
	require.NoError(t, err)

	// replaying the batch from scratch yields the same post root
	replay, err := statetree.New(4)
	require.NoError(t, err)
	require.Equal(t, batch.PreRoot, replay.Root())
	for i, transaction := range batch.Transactions {
		leaf := accelcommon.HashTransactionLeaf(transaction.ID, batch.ID)
		require.NoError(t, replay.Insert(uint64(i), leaf))
	}
	require.Equal(t, batch.PostRoot, replay.Root())
}

func TestBuildWrapsLeafCursorPastCapacity(t *testing.T) {
	// depth 1 gives room for 2 leaves
	sut, pool, tree := newTestBuilder(t, 1)
	admit(t, pool, 10)
	admit(t, pool, 20)
	admit(t, pool, 30)

	batch, err := sut.Build()
	require.NoError(t, err)
	require.Len(t, batch.Transactions, 3)
	require.Equal(t, uint64(3), sut.LeafCursor())

	// the third leaf overwrote index 0
	leaf, err := tree.GetLeaf(0)
	require.NoError(t, err)
	require.Equal(t, accelcommon.HashTransactionLeaf(batch.Transactions[2].ID, batch.ID), leaf)
}
