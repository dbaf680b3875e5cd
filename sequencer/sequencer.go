package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mertksk/accelerate/db"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/mempool"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/mertksk/accelerate/statetree"
)

// Sequencer owns the whole batching pipeline: mempool, state tree, batch
// builder, prover and settlement coordinators, storage and the observer
// registry. A single tick loop drives build -> prove -> settle, one pass at a
// time.
type Sequencer struct {
	cfg    Config
	logger *log.Logger

	pool    *mempool.Mempool
	tree    *statetree.StateTree
	builder *BatchBuilder
	prover  proverCoordinator
	settler settlementCoordinator
	storage Storage

	metrics metrics

	subscribersMutex sync.RWMutex
	subscribers      map[uint64]chan types.Event
	nextSubscriberID uint64

	lifecycleMutex sync.Mutex
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
}

const defaultEventBufferSize = 32

// New wires the pipeline and restores the batch history from storage, so ids
// keep increasing across restarts and the state tree holds the already sealed
// leaves.
func New(
	logger *log.Logger,
	cfg Config,
	pool *mempool.Mempool,
	tree *statetree.StateTree,
	proverCoord proverCoordinator,
	settlementCoord settlementCoordinator,
	storage Storage,
) (*Sequencer, error) {
	lastBatchID := uint64(0)
	lastBatch, err := storage.GetLastBatch()
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("error reading the last batch: %w", err)
	}
	if err == nil {
		lastBatchID = lastBatch.ID
	}

	builder := NewBatchBuilder(logger, pool, tree, lastBatchID)
	if err := replayBatches(builder, storage); err != nil {
		return nil, err
	}

	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = defaultEventBufferSize
	}

	return &Sequencer{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		tree:        tree,
		builder:     builder,
		prover:      proverCoord,
		settler:     settlementCoord,
		storage:     storage,
		subscribers: make(map[uint64]chan types.Event),
	}, nil
}

// replayBatches re-applies the stored batches to the in-memory tree, oldest
// first, so the root matches the one before the restart
func replayBatches(builder *BatchBuilder, storage Storage) error {
	batches, err := storage.GetBatches(0)
	if err != nil {
		return fmt.Errorf("error loading the batch history: %w", err)
	}
	// newest first in storage order
	for i := len(batches) - 1; i >= 0; i-- {
		for _, transaction := range batches[i].Transactions {
			if err := builder.applyLeaf(transaction.ID, batches[i].ID); err != nil {
				return fmt.Errorf("error replaying batch %d: %w", batches[i].ID, err)
			}
		}
	}
	return nil
}

// Start launches the batching loop. A second Start while running is a no-op.
func (s *Sequencer) Start(ctx context.Context) {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()
	if s.running {
		s.logger.Warn("sequencer already running, ignoring start")
		return
	}

	stopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Infof("starting the batching loop, tick interval %s", s.cfg.TickInterval)
	go s.loop(ctx, stopCtx)
}

// Stop halts the batching loop after the in-flight pipeline pass finishes.
// The pass keeps running on the Start context, so a routine stop never aborts
// a batch mid flight and never records a false terminal failure for it.
func (s *Sequencer) Stop() {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()
	if !s.running {
		return
	}

	s.cancel()
	<-s.done
	s.running = false
	s.logger.Info("sequencer stopped")
}

// loop ticks until stopCtx is cancelled. Pipeline passes run on ctx, the
// Start context, so Stop only prevents new passes while cancelling the Start
// context aborts the in-flight one too.
func (s *Sequencer) loop(ctx, stopCtx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-stopCtx.Done():
			return
		case <-ticker.C:
			// one pass at a time, the next tick waits for this one
			s.runPipeline(ctx)
		}
	}
}

// runPipeline executes one build -> prove -> settle pass. A proof or
// settlement failure parks the batch in its terminal failure status, later
// batches keep flowing.
func (s *Sequencer) runPipeline(ctx context.Context) {
	batch, err := s.builder.Build()
	if err != nil {
		s.logger.Errorf("error building a batch: %v", err)
		return
	}
	if batch == nil {
		return
	}

	s.metrics.batchesSealed.Add(1)
	if err := s.storage.AddBatch(ctx, batch); err != nil {
		s.logger.Errorf("error persisting batch %d: %v", batch.ID, err)
	}
	if err := s.storage.UpdateTransactions(ctx, batch.Transactions); err != nil {
		s.logger.Errorf("error persisting the transactions of batch %d: %v", batch.ID, err)
	}
	s.publish(types.Event{Type: types.EventBatchSealed, BatchID: batch.ID, Time: time.Now().UTC()})

	if err := s.prover.Prove(ctx, batch); err != nil {
		s.logger.Errorf("batch %d parked after proof failure: %v", batch.ID, err)
		s.metrics.proofsFailed.Add(1)
		s.persistBatch(ctx, batch)
		s.publish(types.Event{Type: types.EventProofFailed, BatchID: batch.ID, Time: time.Now().UTC()})
		return
	}
	s.metrics.proofsGenerated.Add(1)
	s.persistBatch(ctx, batch)
	s.publish(types.Event{Type: types.EventProofGenerated, BatchID: batch.ID, Time: time.Now().UTC()})

	s.settle(ctx, batch)
}

func (s *Sequencer) settle(ctx context.Context, batch *types.Batch) {
	s.metrics.settlementAttempts.Add(1)

	handle, err := s.settler.Submit(ctx, batch)
	if err != nil {
		s.logger.Errorf("error submitting batch %d: %v", batch.ID, err)
		s.metrics.settlementFailures.Add(1)
		batch.Status = types.BatchRejected
		for i := range batch.Transactions {
			batch.Transactions[i].Status = types.TxRejected
		}
		s.persistBatch(ctx, batch)
		s.publish(types.Event{Type: types.EventBatchRejected, BatchID: batch.ID, Time: time.Now().UTC()})
		return
	}
	s.persistBatch(ctx, batch)
	s.publish(types.Event{Type: types.EventBatchSubmitted, BatchID: batch.ID, Time: time.Now().UTC()})

	err = s.settler.AwaitFinality(ctx, batch, handle)
	s.persistBatch(ctx, batch)
	if err != nil {
		s.metrics.settlementFailures.Add(1)
		s.publish(types.Event{Type: types.EventBatchRejected, BatchID: batch.ID, Time: time.Now().UTC()})
		return
	}

	s.metrics.settlementSuccesses.Add(1)
	s.metrics.transactionsFinalized.Add(uint64(len(batch.Transactions)))
	s.publish(types.Event{Type: types.EventBatchVerified, BatchID: batch.ID, Time: time.Now().UTC()})
}

func (s *Sequencer) persistBatch(ctx context.Context, batch *types.Batch) {
	if err := s.storage.UpdateBatch(ctx, batch); err != nil {
		s.logger.Errorf("error persisting batch %d: %v", batch.ID, err)
	}
}

// AdmitTransaction validates and queues a transfer. Admission errors surface
// synchronously, the transaction never enters the mempool.
func (s *Sequencer) AdmitTransaction(ctx context.Context, sender, recipient string, amount *big.Int) (*types.Transaction, error) {
	transaction, err := s.pool.Admit(sender, recipient, amount)
	if err != nil {
		s.metrics.transactionsRejected.Add(1)
		return nil, err
	}

	s.metrics.transactionsAdmitted.Add(1)
	if err := s.storage.AddTransaction(ctx, transaction); err != nil {
		s.logger.Errorf("error persisting transaction %s: %v", transaction.ID, err)
	}
	s.publish(types.Event{Type: types.EventTransactionAdmitted, TxID: transaction.ID, Time: time.Now().UTC()})
	return transaction.Copy(), nil
}

// Subscribe registers an observer. Events are delivered per subscriber FIFO,
// fire and forget: a subscriber that stops draining its channel misses events
// but never blocks the pipeline or the other subscribers.
func (s *Sequencer) Subscribe() (<-chan types.Event, func()) {
	s.subscribersMutex.Lock()
	defer s.subscribersMutex.Unlock()

	id := s.nextSubscriberID
	s.nextSubscriberID++
	events := make(chan types.Event, s.cfg.EventBufferSize)
	s.subscribers[id] = events

	unsubscribe := func() {
		s.subscribersMutex.Lock()
		defer s.subscribersMutex.Unlock()
		if ch, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
	}
	return events, unsubscribe
}

func (s *Sequencer) publish(event types.Event) {
	s.subscribersMutex.RLock()
	defer s.subscribersMutex.RUnlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Warnf("subscriber %d is not keeping up, dropping event %s", id, event.Type)
		}
	}
}

// ListTransactions returns every transaction ever admitted, oldest first
func (s *Sequencer) ListTransactions() ([]*types.Transaction, error) {
	return s.storage.GetTransactions()
}

// GetTransactionStatus returns the status of a transaction by id
func (s *Sequencer) GetTransactionStatus(id common.Hash) (types.TxStatus, error) {
	transaction, err := s.storage.GetTransaction(id)
	if err != nil {
		return "", err
	}
	return transaction.Status, nil
}

// ListBatches returns the batch history, newest first. A rejected or stuck
// batch stays visible with its failure status.
func (s *Sequencer) ListBatches(limit uint64) ([]*types.Batch, error) {
	return s.storage.GetBatches(limit)
}

// GetBatchCount returns how many batches have been sealed
func (s *Sequencer) GetBatchCount() (uint64, error) {
	return s.storage.GetBatchCount()
}

// GetStateRoot returns the current state tree root
func (s *Sequencer) GetStateRoot() common.Hash {
	return s.tree.Root()
}

// GetMetrics returns a snapshot of the pipeline counters
func (s *Sequencer) GetMetrics() types.Metrics {
	return s.metrics.snapshot()
}
