package sequencer

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	accelcommon "github.com/mertksk/accelerate/common"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/mempool"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/mertksk/accelerate/statetree"
)

// BatchBuilder drains the mempool and seals batches, applying the drained
// transactions to the state tree. It is driven by the sequencer's single
// batching loop, never concurrently.
type BatchBuilder struct {
	logger *log.Logger
	pool   *mempool.Mempool
	tree   *statetree.StateTree

	nextBatchID uint64
	// leafCursor advances once per sealed transaction, across batches. Past
	// the tree capacity it wraps modulo capacity, overwriting the oldest
	// leaves.
	leafCursor uint64
}

// NewBatchBuilder returns a builder whose next batch id follows lastBatchID
func NewBatchBuilder(logger *log.Logger, pool *mempool.Mempool, tree *statetree.StateTree, lastBatchID uint64) *BatchBuilder {
	return &BatchBuilder{
		logger:      logger,
		pool:        pool,
		tree:        tree,
		nextBatchID: lastBatchID + 1,
	}
}

// Build drains the pending transactions and seals them into a batch. It
// returns nil when the mempool is empty, a batch is never created for zero
// transactions.
func (b *BatchBuilder) Build() (*types.Batch, error) {
	pending := b.pool.DrainPending()
	if len(pending) == 0 {
		return nil, nil
	}

	preRoot := b.tree.Root()
	batchID := b.nextBatchID

	transactions := make([]types.Transaction, 0, len(pending))
	for _, transaction := range pending {
		transaction.Status = types.TxBatched
		transaction.BatchID = &batchID

		if err := b.applyLeaf(transaction.ID, batchID); err != nil {
			return nil, err
		}
		transactions = append(transactions, *transaction)
	}

	postRoot := b.tree.Root()
	batch := &types.Batch{
		ID:           batchID,
		Transactions: transactions,
		PreRoot:      preRoot,
		PostRoot:     postRoot,
		Status:       types.BatchProcessing,
		SealedAt:     time.Now().UTC(),
	}
	b.nextBatchID++

	b.logger.Infof("sealed %s", batch)
	return batch, nil
}

// applyLeaf writes the transaction leaf at the next cursor position. Once the
// cursor passes the tree capacity it wraps and overwrites old leaves, which is
// surfaced loudly: the operator has to re-plan capacity, the tree itself
// refuses out of range writes.
func (b *BatchBuilder) applyLeaf(txID common.Hash, batchID uint64) error {
	capacity := b.tree.Capacity()
	index := b.leafCursor % capacity
	if b.leafCursor >= capacity {
		b.logger.Warnf(
			"state tree capacity %d exhausted, leaf cursor %d wraps to index %d overwriting an older leaf",
			capacity, b.leafCursor, index,
		)
	}

	leaf := accelcommon.HashTransactionLeaf(txID, batchID)
	if err := b.tree.Insert(index, leaf); err != nil {
		return fmt.Errorf("error inserting the leaf of tx %s: %w", txID, err)
	}
	b.leafCursor++
	return nil
}

// LeafCursor returns how many leaves have been written since genesis
func (b *BatchBuilder) LeafCursor() uint64 {
	return b.leafCursor
}

// NextBatchID returns the id the next sealed batch will get
func (b *BatchBuilder) NextBatchID() uint64 {
	return b.nextBatchID
}
