package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mertksk/accelerate/db"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ACCELERATE is the namespace of the sequencer service
	ACCELERATE = "accelerate"
	meterName  = "github.com/mertksk/accelerate/rpc"
)

// sequencerer is the sequencer surface the endpoints are served from
type sequencerer interface {
	AdmitTransaction(ctx context.Context, sender, recipient string, amount *big.Int) (*types.Transaction, error)
	ListTransactions() ([]*types.Transaction, error)
	GetTransactionStatus(id common.Hash) (types.TxStatus, error)
	ListBatches(limit uint64) ([]*types.Batch, error)
	GetBatchCount() (uint64, error)
	GetStateRoot() common.Hash
	GetMetrics() types.Metrics
}

// settlementInfoer reads the settlement contract state on the base layer
type settlementInfoer interface {
	GetCurrentRoot(ctx context.Context) (common.Hash, error)
	GetBatchCount(ctx context.Context) (uint64, error)
	GetTotalDeposits(ctx context.Context) (*big.Int, error)
	GetTotalWithdrawals(ctx context.Context) (*big.Int, error)
}

// SettlementInfo is the accelerate_getSettlementInfo response
type SettlementInfo struct {
	CurrentRoot      common.Hash `json:"currentRoot"`
	BatchCount       uint64      `json:"batchCount"`
	TotalDeposits    string      `json:"totalDeposits"`
	TotalWithdrawals string      `json:"totalWithdrawals"`
}

// AccelerateEndpoints contains implementations for the "accelerate" RPC endpoints
type AccelerateEndpoints struct {
	logger       *log.Logger
	meter        metric.Meter
	readTimeout  time.Duration
	writeTimeout time.Duration
	sequencer    sequencerer
	settlement   settlementInfoer
}

// NewAccelerateEndpoints returns AccelerateEndpoints
func NewAccelerateEndpoints(
	logger *log.Logger,
	writeTimeout time.Duration,
	readTimeout time.Duration,
	sequencer sequencerer,
	settlement settlementInfoer,
) *AccelerateEndpoints {
	meter := otel.Meter(meterName)
	return &AccelerateEndpoints{
		logger:       logger,
		meter:        meter,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		sequencer:    sequencer,
		settlement:   settlement,
	}
}

// SendTransaction admits a transfer into the mempool. The amount is a decimal
// string so values past the machine word range survive the JSON trip.
func (a *AccelerateEndpoints) SendTransaction(sender, recipient, amount string) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()
	a.count(ctx, "send_transaction")

	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("malformed amount %q", amount))
	}

	transaction, err := a.sequencer.AdmitTransaction(ctx, sender, recipient, value)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("transaction rejected: %s", err))
	}
	return transaction, nil
}

// GetTransactions returns every transaction the sequencer has ever admitted
func (a *AccelerateEndpoints) GetTransactions() (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.readTimeout)
	defer cancel()
	a.count(ctx, "get_transactions")

	transactions, err := a.sequencer.ListTransactions()
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("failed to list transactions: %s", err))
	}
	return transactions, nil
}

// GetTransactionStatus returns the lifecycle status of a transaction
func (a *AccelerateEndpoints) GetTransactionStatus(id common.Hash) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.readTimeout)
	defer cancel()
	a.count(ctx, "get_transaction_status")

	status, err := a.sequencer.GetTransactionStatus(id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, rpc.NewRPCError(rpc.NotFoundErrorCode, fmt.Sprintf("transaction %s not found", id.Hex()))
	}
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("failed to get transaction status: %s", err))
	}
	return status, nil
}

// GetBatches returns the batch history, newest first. limit is optional, nil
// returns everything.
func (a *AccelerateEndpoints) GetBatches(limit *uint64) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.readTimeout)
	defer cancel()
	a.count(ctx, "get_batches")

	max := uint64(0)
	if limit != nil {
		max = *limit
	}
	batches, err := a.sequencer.ListBatches(max)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("failed to list batches: %s", err))
	}
	return batches, nil
}

// GetBatchCount returns how many batches have been sealed
func (a *AccelerateEndpoints) GetBatchCount() (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.readTimeout)
	defer cancel()
	a.count(ctx, "get_batch_count")

	count, err := a.sequencer.GetBatchCount()
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("failed to count batches: %s", err))
	}
	return count, nil
}

// GetStateRoot returns the current state tree root
func (a *AccelerateEndpoints) GetStateRoot() (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.readTimeout)
	defer cancel()
	a.count(ctx, "get_state_root")

	return a.sequencer.GetStateRoot(), nil
}

// GetSettlementInfo reads the settlement contract state on the base layer:
// the current root, the verified batch count and the cumulative bridge totals
func (a *AccelerateEndpoints) GetSettlementInfo() (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.readTimeout)
	defer cancel()
	a.count(ctx, "get_settlement_info")

	root, err := a.settlement.GetCurrentRoot(ctx)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("failed to read the contract root: %s", err))
	}
	count, err := a.settlement.GetBatchCount(ctx)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("failed to read the batch count: %s", err))
	}
	deposits, err := a.settlement.GetTotalDeposits(ctx)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("failed to read the deposits total: %s", err))
	}
	withdrawals, err := a.settlement.GetTotalWithdrawals(ctx)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.DefaultErrorCode, fmt.Sprintf("failed to read the withdrawals total: %s", err))
	}

	return SettlementInfo{
		CurrentRoot:      root,
		BatchCount:       count,
		TotalDeposits:    deposits.String(),
		TotalWithdrawals: withdrawals.String(),
	}, nil
}

// GetMetrics returns a snapshot of the pipeline counters
func (a *AccelerateEndpoints) GetMetrics() (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.readTimeout)
	defer cancel()
	a.count(ctx, "get_metrics")

	return a.sequencer.GetMetrics(), nil
}

func (a *AccelerateEndpoints) count(ctx context.Context, name string) {
	c, merr := a.meter.Int64Counter(name)
	if merr != nil {
		a.logger.Warnf("failed to create %s counter: %s", name, merr)
		return
	}
	c.Add(ctx, 1)
}
