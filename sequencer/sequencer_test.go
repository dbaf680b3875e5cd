package sequencer

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	configtypes "github.com/mertksk/accelerate/config/types"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/mempool"
	"github.com/mertksk/accelerate/prover"
	seqdb "github.com/mertksk/accelerate/sequencer/db"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/mertksk/accelerate/settlement"
	"github.com/mertksk/accelerate/statetree"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory settlement contract. Every submission reaches
// the configured terminal status.
type fakeClient struct {
	mu          sync.Mutex
	status      settlement.Status
	currentRoot common.Hash
	submissions int
}

func newFakeClient(status settlement.Status) *fakeClient {
	return &fakeClient{status: status}
}

func (f *fakeClient) SubmitBatch(_ context.Context, postRoot common.Hash, _ *types.Proof) (settlement.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions++
	if f.status.Kind == settlement.StatusSuccess {
		f.currentRoot = postRoot
	}
	return settlement.Handle("deploy-" + postRoot.TerminalString()), nil
}

func (f *fakeClient) GetStatus(context.Context, settlement.Handle) (settlement.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeClient) GetCurrentRoot(context.Context) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentRoot, nil
}

func (f *fakeClient) GetBatchCount(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(f.submissions), nil
}

// failingBackend always rejects the batch
type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) GenerateProof(
	context.Context, []types.Transaction, common.Hash, common.Hash,
) (*types.Proof, error) {
	return nil, prover.ErrPermanent
}

func testSequencerConfig(dbPath string) Config {
	return Config{
		TickInterval:    configtypes.NewDuration(10 * time.Millisecond),
		TreeDepth:       4,
		DBPath:          dbPath,
		EventBufferSize: 16,
	}
}

func newTestSequencer(t *testing.T, backend prover.Backend, client settlement.Client) *Sequencer {
	t.Helper()
	return newTestSequencerWithDB(t, backend, client, filepath.Join(t.TempDir(), "sequencer.sqlite"))
}

func newTestSequencerWithDB(
	t *testing.T, backend prover.Backend, client settlement.Client, dbPath string,
) *Sequencer {
	t.Helper()
	logger := log.WithFields("module", "sequencer-test")

	pool := mempool.New(logger, mempool.Config{})
	tree, err := statetree.New(4)
	require.NoError(t, err)
	storage, err := seqdb.NewStorage(logger, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, storage.Close()) })

	proverCoord := prover.NewCoordinator(logger, prover.Config{
		MaxRetries:        1,
		RetryDelay:        configtypes.NewDuration(time.Millisecond),
		GenerationTimeout: configtypes.NewDuration(time.Second),
	}, backend)
	settlementCoord := settlement.NewCoordinator(logger, settlement.Config{
		StatusPollInterval: configtypes.NewDuration(time.Millisecond),
		FinalityTimeout:    configtypes.NewDuration(50 * time.Millisecond),
	}, client)

	sut, err := New(logger, testSequencerConfig(dbPath), pool, tree, proverCoord, settlementCoord, storage)
	require.NoError(t, err)
	return sut
}

func TestFullRoundTrip(t *testing.T) {
	sut := newTestSequencer(t,
		prover.NewSimulatedBackend(),
		newFakeClient(settlement.Status{Kind: settlement.StatusSuccess}),
	)
	ctx := context.Background()

	for _, amount := range []int64{10, 20, 30} {
		_, err := sut.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(amount))
		require.NoError(t, err)
	}

	sut.runPipeline(ctx)

	batches, err := sut.ListBatches(0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	batch := batches[0]
	require.Equal(t, types.BatchVerified, batch.Status)
	require.NotEqual(t, batch.PreRoot, batch.PostRoot)
	require.NotNil(t, batch.Proof)
	require.Len(t, batch.Transactions, 3)
	for _, transaction := range batch.Transactions {
		require.Equal(t, types.TxFinalized, transaction.Status)
	}

	m := sut.GetMetrics()
	require.Equal(t, uint64(3), m.TransactionsAdmitted)
	require.Equal(t, uint64(3), m.TransactionsFinalized)
	require.Equal(t, uint64(1), m.BatchesSealed)
	require.Equal(t, uint64(1), m.ProofsGenerated)
	require.Equal(t, uint64(1), m.SettlementSuccesses)
}

func TestAdmitInvalidAmountIsRejectedSynchronously(t *testing.T) {
	sut := newTestSequencer(t,
		prover.NewSimulatedBackend(),
		newFakeClient(settlement.Status{Kind: settlement.StatusSuccess}),
	)

	_, err := sut.AdmitTransaction(context.Background(), testSender, testRecipient, big.NewInt(-5))
	require.ErrorIs(t, err, mempool.ErrInvalidAmount)

	transactions, err := sut.ListTransactions()
	require.NoError(t, err)
	require.Empty(t, transactions)
	require.Equal(t, uint64(1), sut.GetMetrics().TransactionsRejected)
}

func TestProofFailureParksBatch(t *testing.T) {
	sut := newTestSequencer(t,
		failingBackend{},
		newFakeClient(settlement.Status{Kind: settlement.StatusSuccess}),
	)
	ctx := context.Background()

	_, err := sut.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(10))
	require.NoError(t, err)

	sut.runPipeline(ctx)

	batches, err := sut.ListBatches(0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, types.BatchProofFailed, batches[0].Status)
	for _, transaction := range batches[0].Transactions {
		require.Equal(t, types.TxBatched, transaction.Status)
	}

	m := sut.GetMetrics()
	require.Equal(t, uint64(1), m.BatchesSealed)
	require.Zero(t, m.ProofsGenerated)
	require.Equal(t, uint64(1), m.ProofsFailed)
	require.Zero(t, m.SettlementAttempts)
}

func TestFinalityTimeoutRejectsBatch(t *testing.T) {
	sut := newTestSequencer(t,
		prover.NewSimulatedBackend(),
		newFakeClient(settlement.Status{Kind: settlement.StatusPending}),
	)
	ctx := context.Background()

	_, err := sut.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(10))
	require.NoError(t, err)

	sut.runPipeline(ctx)

	batches, err := sut.ListBatches(0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, types.BatchRejected, batches[0].Status)
	for _, transaction := range batches[0].Transactions {
		require.NotEqual(t, types.TxFinalized, transaction.Status)
	}
	require.Equal(t, uint64(1), sut.GetMetrics().SettlementFailures)
}

func TestNoEmptyBatches(t *testing.T) {
	sut := newTestSequencer(t,
		prover.NewSimulatedBackend(),
		newFakeClient(settlement.Status{Kind: settlement.StatusSuccess}),
	)

	sut.runPipeline(context.Background())

	count, err := sut.GetBatchCount()
	require.NoError(t, err)
	require.Zero(t, count)
	require.Zero(t, sut.GetMetrics().BatchesSealed)
}

func TestEventsArePublished(t *testing.T) {
	sut := newTestSequencer(t,
		prover.NewSimulatedBackend(),
		newFakeClient(settlement.Status{Kind: settlement.StatusSuccess}),
	)
	ctx := context.Background()

	events, unsubscribe := sut.Subscribe()
	defer unsubscribe()

	_, err := sut.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(10))
	require.NoError(t, err)
	sut.runPipeline(ctx)

	var got []types.EventType
	for len(events) > 0 {
		got = append(got, (<-events).Type)
	}
	require.Equal(t, []types.EventType{
		types.EventTransactionAdmitted,
		types.EventBatchSealed,
		types.EventProofGenerated,
		types.EventBatchSubmitted,
		types.EventBatchVerified,
	}, got)
}

func TestSlowSubscriberDoesNotBlockPipeline(t *testing.T) {
	sut := newTestSequencer(t,
		prover.NewSimulatedBackend(),
		newFakeClient(settlement.Status{Kind: settlement.StatusSuccess}),
	)
	sut.cfg.EventBufferSize = 1
	ctx := context.Background()

	// never drained
	_, unsubscribe := sut.Subscribe()
	defer unsubscribe()
	events, unsubscribeActive := sut.Subscribe()
	defer unsubscribeActive()

	for _, amount := range []int64{10, 20} {
		_, err := sut.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(amount))
		require.NoError(t, err)
	}
	sut.runPipeline(ctx)

	// the active subscriber still got at least its buffer worth of events
	require.NotEmpty(t, events)

	batches, err := sut.ListBatches(0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, types.BatchVerified, batches[0].Status)
}

func TestStartIsIdempotentAndStopIsGraceful(t *testing.T) {
	sut := newTestSequencer(t,
		prover.NewSimulatedBackend(),
		newFakeClient(settlement.Status{Kind: settlement.StatusSuccess}),
	)
	ctx := context.Background()

	sut.Start(ctx)
	sut.Start(ctx) // no-op

	_, err := sut.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(10))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		count, errCount := sut.GetBatchCount()
		return errCount == nil && count == 1
	}, 2*time.Second, 5*time.Millisecond)

	sut.Stop()
	sut.Stop() // no-op

	batches, err := sut.ListBatches(0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, types.BatchVerified, batches[0].Status)
}

// gatedSettler blocks inside Submit until released, recording the context
// state it observed there
type gatedSettler struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func (g *gatedSettler) Submit(ctx context.Context, batch *types.Batch) (settlement.Handle, error) {
	close(g.entered)
	<-g.release
	g.ctxErr = ctx.Err()
	batch.Status = types.BatchSubmitted
	return settlement.Handle("deploy-gated"), nil
}

func (g *gatedSettler) AwaitFinality(_ context.Context, batch *types.Batch, _ settlement.Handle) error {
	batch.Status = types.BatchVerified
	for i := range batch.Transactions {
		batch.Transactions[i].Status = types.TxFinalized
	}
	return nil
}

func TestStopWaitsForInFlightPass(t *testing.T) {
	logger := log.WithFields("module", "sequencer-test")
	dbPath := filepath.Join(t.TempDir(), "sequencer.sqlite")

	pool := mempool.New(logger, mempool.Config{})
	tree, err := statetree.New(4)
	require.NoError(t, err)
	storage, err := seqdb.NewStorage(logger, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, storage.Close()) })

	proverCoord := prover.NewCoordinator(logger, prover.Config{
		MaxRetries:        1,
		RetryDelay:        configtypes.NewDuration(time.Millisecond),
		GenerationTimeout: configtypes.NewDuration(time.Second),
	}, prover.NewSimulatedBackend())
	settler := &gatedSettler{entered: make(chan struct{}), release: make(chan struct{})}

	sut, err := New(logger, testSequencerConfig(dbPath), pool, tree, proverCoord, settler, storage)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = sut.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(10))
	require.NoError(t, err)

	sut.Start(ctx)
	<-settler.entered

	stopped := make(chan struct{})
	go func() {
		sut.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(settler.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}

	// the pass ran to completion on a live context, the batch settled
	require.NoError(t, settler.ctxErr)
	batches, err := sut.ListBatches(0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, types.BatchVerified, batches[0].Status)
	require.Equal(t, types.TxFinalized, batches[0].Transactions[0].Status)
}

func TestRestartResumesBatchNumberingAndRoot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sequencer.sqlite")
	backend := prover.NewSimulatedBackend()
	client := newFakeClient(settlement.Status{Kind: settlement.StatusSuccess})
	ctx := context.Background()

	first := newTestSequencerWithDB(t, backend, client, dbPath)
	_, err := first.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(10))
	require.NoError(t, err)
	first.runPipeline(ctx)
	rootBefore := first.GetStateRoot()

	second := newTestSequencerWithDB(t, backend, client, dbPath)
	require.Equal(t, rootBefore, second.GetStateRoot())
	require.Equal(t, uint64(2), second.builder.NextBatchID())

	_, err = second.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(20))
	require.NoError(t, err)
	second.runPipeline(ctx)

	batches, err := second.ListBatches(0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, uint64(2), batches[0].ID)
	require.Equal(t, uint64(1), batches[1].ID)
}

func TestGetTransactionStatus(t *testing.T) {
	sut := newTestSequencer(t,
		prover.NewSimulatedBackend(),
		newFakeClient(settlement.Status{Kind: settlement.StatusSuccess}),
	)
	ctx := context.Background()

	transaction, err := sut.AdmitTransaction(ctx, testSender, testRecipient, big.NewInt(10))
	require.NoError(t, err)

	status, err := sut.GetTransactionStatus(transaction.ID)
	require.NoError(t, err)
	require.Equal(t, types.TxPending, status)

	sut.runPipeline(ctx)

	status, err = sut.GetTransactionStatus(transaction.ID)
	require.NoError(t, err)
	require.Equal(t, types.TxFinalized, status)
}
