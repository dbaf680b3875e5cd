package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer/types"
)

var (
	// ErrProofFailed is returned when proof generation exhausted its retries
	// or hit a permanent backend failure. The owning batch must be parked as
	// PROOF_FAILED, never silently settled without a proof.
	ErrProofFailed = errors.New("proof generation failed")

	// ErrProofMismatch is returned when the backend's public signals do not
	// match the batch roots
	ErrProofMismatch = errors.New("proof public signals do not match batch roots")
)

// Coordinator drives a sealed batch through the proof backend.
type Coordinator struct {
	cfg     Config
	logger  *log.Logger
	backend Backend
}

// NewCoordinator returns a proof coordinator on top of the given backend.
func NewCoordinator(logger *log.Logger, cfg Config, backend Backend) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
	}
}

// Backend returns the backend in use.
func (c *Coordinator) Backend() Backend {
	return c.backend
}

// Prove requests a proof for the batch and attaches it. Transactions in the
// batch are moved to PROVING for the duration of the phase. Transient backend
// failures are retried with a bounded delay; when retries exhaust or the
// failure is permanent the batch is marked PROOF_FAILED and ErrProofFailed is
// returned.
func (c *Coordinator) Prove(ctx context.Context, batch *types.Batch) error {
	tmpLogger := c.logger.WithFields("batch", batch.ID, "backend", c.backend.Name())
	tmpLogger.Debugf("requesting proof for %d transactions", len(batch.Transactions))

	for i := range batch.Transactions {
		batch.Transactions[i].Status = types.TxProving
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			tmpLogger.Infof("retrying proof generation, attempt %d/%d", attempt, c.cfg.MaxRetries)
			select {
			case <-ctx.Done():
				c.fail(batch)
				return fmt.Errorf("%w: batch %d: %v", ErrProofFailed, batch.ID, ctx.Err())
			case <-time.After(c.cfg.RetryDelay.Duration):
			}
		}

		proof, err := c.generate(ctx, batch)
		if err == nil {
			batch.Proof = proof
			batch.Status = types.BatchProven
			tmpLogger.Info("proof generated")
			return nil
		}

		lastErr = err
		if errors.Is(err, ErrPermanent) || errors.Is(err, ErrProofMismatch) {
			tmpLogger.Errorf("permanent proof failure: %v", err)
			break
		}
		tmpLogger.Warnf("proof generation attempt failed: %v", err)
	}

	c.fail(batch)
	return fmt.Errorf("%w: batch %d: %v", ErrProofFailed, batch.ID, lastErr)
}

// fail parks the batch as PROOF_FAILED and moves its transactions back to
// BATCHED, they were never proven
func (c *Coordinator) fail(batch *types.Batch) {
	batch.Status = types.BatchProofFailed
	for i := range batch.Transactions {
		batch.Transactions[i].Status = types.TxBatched
	}
}

// generate performs one bounded proof generation attempt and sanity checks
// the public signals against the batch roots.
func (c *Coordinator) generate(ctx context.Context, batch *types.Batch) (*types.Proof, error) {
	attemptCtx := ctx
	if c.cfg.GenerationTimeout.Duration > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.GenerationTimeout.Duration)
		defer cancel()
	}

	proof, err := c.backend.GenerateProof(attemptCtx, batch.Transactions, batch.PreRoot, batch.PostRoot)
	if err != nil {
		return nil, err
	}

	// the first two public signals must commit to the batch roots
	if len(proof.PublicSignals) < 2 ||
		proof.PublicSignals[0] != batch.PreRoot.Hex() ||
		proof.PublicSignals[1] != batch.PostRoot.Hex() {
		return nil, fmt.Errorf("%w: got %v", ErrProofMismatch, proof.PublicSignals)
	}
	return proof, nil
}
