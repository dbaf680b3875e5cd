package sequencer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/mertksk/accelerate/settlement"
)

// Storage persists the transaction registry and the batch history
type Storage interface {
	AddTransaction(ctx context.Context, transaction *types.Transaction) error
	UpdateTransactions(ctx context.Context, transactions []types.Transaction) error
	GetTransaction(id common.Hash) (types.Transaction, error)
	GetTransactions(statuses ...types.TxStatus) ([]*types.Transaction, error)
	AddBatch(ctx context.Context, batch *types.Batch) error
	UpdateBatch(ctx context.Context, batch *types.Batch) error
	GetBatch(id uint64) (types.Batch, error)
	GetBatches(limit uint64) ([]*types.Batch, error)
	GetLastBatch() (types.Batch, error)
	GetBatchCount() (uint64, error)
}

// proverCoordinator drives proof generation for a sealed batch
type proverCoordinator interface {
	Prove(ctx context.Context, batch *types.Batch) error
}

// settlementCoordinator submits a proven batch and reconciles finality
type settlementCoordinator interface {
	Submit(ctx context.Context, batch *types.Batch) (settlement.Handle, error)
	AwaitFinality(ctx context.Context, batch *types.Batch, handle settlement.Handle) error
}
