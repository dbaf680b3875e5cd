package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer/types"
)

var (
	// ErrFinalityTimeout is returned when the base layer did not reach a
	// terminal decision on a submitted batch within the configured bound.
	ErrFinalityTimeout = errors.New("timed out waiting for settlement finality")

	// ErrBatchRejected is returned when the base layer rejected a submitted batch.
	ErrBatchRejected = errors.New("batch rejected by the base layer")

	// ErrOutOfOrder is returned when submitting a batch whose id is not
	// greater than the last submitted one. The pipeline submits batches in
	// strictly increasing id order.
	ErrOutOfOrder = errors.New("batch submitted out of order")

	// ErrSubmissionAmbiguous is used by Client implementations to signal that
	// a submission may or may not have been sent (e.g. network timeout after
	// send). The coordinator reconciles with the base layer before resubmitting.
	ErrSubmissionAmbiguous = errors.New("submission result is ambiguous")
)

// Handle references a submission on the base layer, e.g. a deploy hash.
type Handle string

// StatusKind is the base layer's view of a submission.
type StatusKind string

const (
	StatusPending StatusKind = "pending"
	StatusSuccess StatusKind = "success"
	StatusFailure StatusKind = "failure"
)

// Status is the result of polling a submission.
type Status struct {
	Kind   StatusKind
	Detail string
}

// Client is the base layer settlement contract client.
type Client interface {
	// SubmitBatch sends the post root and proof to the settlement contract.
	// It returns as soon as the submission is accepted by the node, without
	// waiting for finality.
	SubmitBatch(ctx context.Context, postRoot common.Hash, proof *types.Proof) (Handle, error)
	// GetStatus polls the submission referenced by the handle
	GetStatus(ctx context.Context, handle Handle) (Status, error)
	// GetCurrentRoot reads the state root currently stored by the contract
	GetCurrentRoot(ctx context.Context) (common.Hash, error)
	// GetBatchCount reads the number of batches the contract has accepted
	GetBatchCount(ctx context.Context) (uint64, error)
}

// Coordinator submits proven batches to the base layer and reconciles the
// local batch status with on-chain finality.
type Coordinator struct {
	cfg    Config
	logger *log.Logger
	client Client

	lastSubmittedID uint64
}

// NewCoordinator returns a settlement coordinator on top of the given client.
func NewCoordinator(logger *log.Logger, cfg Config, client Client) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		logger: logger,
		client: client,
	}
}

// Settle submits the batch and waits for the base layer decision. On success
// the batch becomes VERIFIED and its transactions FINALIZED; on failure or
// timeout the batch becomes REJECTED and its transactions are parked for
// operator intervention. They are never re-admitted to the mempool, their
// state tree effects have already been applied.
func (c *Coordinator) Settle(ctx context.Context, batch *types.Batch) error {
	handle, err := c.Submit(ctx, batch)
	if err != nil {
		batch.Status = types.BatchRejected
		c.rejectTransactions(batch)
		return err
	}
	return c.AwaitFinality(ctx, batch, handle)
}

// Submit sends the batch to the base layer and returns the submission handle.
// If the client reports an ambiguous result, the contract state is queried
// before resubmitting so the same batch is never submitted twice.
func (c *Coordinator) Submit(ctx context.Context, batch *types.Batch) (Handle, error) {
	if batch.ID <= c.lastSubmittedID {
		return "", fmt.Errorf("%w: batch %d, last submitted %d", ErrOutOfOrder, batch.ID, c.lastSubmittedID)
	}
	if batch.Proof == nil {
		return "", fmt.Errorf("batch %d has no proof attached", batch.ID)
	}

	tmpLogger := c.logger.WithFields("batch", batch.ID)
	tmpLogger.Infof("submitting batch, postRoot %s", batch.PostRoot.TerminalString())

	handle, err := c.client.SubmitBatch(ctx, batch.PostRoot, batch.Proof)
	if errors.Is(err, ErrSubmissionAmbiguous) {
		tmpLogger.Warnf("ambiguous submission result, reconciling with the contract state: %v", err)
		accepted, reconcileErr := c.alreadyAccepted(ctx, batch)
		if reconcileErr != nil {
			return "", fmt.Errorf("error reconciling ambiguous submission of batch %d: %w", batch.ID, reconcileErr)
		}
		if !accepted {
			handle, err = c.client.SubmitBatch(ctx, batch.PostRoot, batch.Proof)
		} else {
			// already on chain, nothing to resubmit
			handle, err = "", nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("error submitting batch %d: %w", batch.ID, err)
	}

	c.lastSubmittedID = batch.ID
	batch.Status = types.BatchSubmitted
	batch.SettlementRef = string(handle)
	return handle, nil
}

// AwaitFinality polls the base layer until the submission reaches a terminal
// status or the finality timeout elapses.
func (c *Coordinator) AwaitFinality(ctx context.Context, batch *types.Batch, handle Handle) error {
	tmpLogger := c.logger.WithFields("batch", batch.ID, "deploy", string(handle))

	if handle == "" {
		// reconciled ambiguous submission, already accepted on chain
		c.verify(batch)
		return nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.FinalityTimeout.Duration)
	defer cancel()

	ticker := time.NewTicker(c.cfg.StatusPollInterval.Duration)
	defer ticker.Stop()

	for {
		status, err := c.client.GetStatus(pollCtx, handle)
		if err != nil {
			tmpLogger.Warnf("error polling settlement status: %v", err)
		} else {
			switch status.Kind {
			case StatusSuccess:
				tmpLogger.Info("batch verified on the base layer")
				c.verify(batch)
				return nil
			case StatusFailure:
				tmpLogger.Errorf("batch rejected by the base layer: %s", status.Detail)
				batch.Status = types.BatchRejected
				c.rejectTransactions(batch)
				return fmt.Errorf("%w: batch %d: %s", ErrBatchRejected, batch.ID, status.Detail)
			case StatusPending:
				tmpLogger.Debugf("settlement still pending")
			}
		}

		select {
		case <-pollCtx.Done():
			tmpLogger.Errorf("finality not reached within %s, marking batch rejected", c.cfg.FinalityTimeout)
			batch.Status = types.BatchRejected
			c.rejectTransactions(batch)
			return fmt.Errorf("%w: batch %d", ErrFinalityTimeout, batch.ID)
		case <-ticker.C:
		}
	}
}

// alreadyAccepted checks whether the contract already holds this batch's post
// root, which means the ambiguous submission actually went through.
func (c *Coordinator) alreadyAccepted(ctx context.Context, batch *types.Batch) (bool, error) {
	currentRoot, err := c.client.GetCurrentRoot(ctx)
	if err != nil {
		return false, err
	}
	return currentRoot == batch.PostRoot, nil
}

func (c *Coordinator) verify(batch *types.Batch) {
	batch.Status = types.BatchVerified
	for i := range batch.Transactions {
		batch.Transactions[i].Status = types.TxFinalized
	}
}

// rejectTransactions parks the batch's transactions for operator
// intervention. Their leaf writes are already part of the state tree, so
// re-admitting them to the mempool would double-apply them.
func (c *Coordinator) rejectTransactions(batch *types.Batch) {
	for i := range batch.Transactions {
		batch.Transactions[i].Status = types.TxRejected
	}
}
