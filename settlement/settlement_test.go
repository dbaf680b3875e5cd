package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	configtypes "github.com/mertksk/accelerate/config/types"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type clientMock struct {
	mock.Mock
}

func (m *clientMock) SubmitBatch(ctx context.Context, postRoot common.Hash, proof *types.Proof) (Handle, error) {
	args := m.Called(ctx, postRoot, proof)
	return args.Get(0).(Handle), args.Error(1)
}

func (m *clientMock) GetStatus(ctx context.Context, handle Handle) (Status, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(Status), args.Error(1)
}

func (m *clientMock) GetCurrentRoot(ctx context.Context) (common.Hash, error) {
	args := m.Called(ctx)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *clientMock) GetBatchCount(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func testConfig() Config {
	return Config{
		StatusPollInterval: configtypes.NewDuration(time.Millisecond),
		FinalityTimeout:    configtypes.NewDuration(100 * time.Millisecond),
	}
}

func provenBatch(id uint64) *types.Batch {
	return &types.Batch{
		ID:       id,
		PreRoot:  common.HexToHash("0x01"),
		PostRoot: common.HexToHash("0x02"),
		Status:   types.BatchProven,
		Proof: &types.Proof{
			Data:          "0xbeef",
			PublicSignals: []string{common.HexToHash("0x01").Hex(), common.HexToHash("0x02").Hex()},
		},
		Transactions: []types.Transaction{
			{ID: common.HexToHash("0xaa"), Amount: big.NewInt(10), Status: types.TxProving},
		},
	}
}

func newSut(client Client) *Coordinator {
	return NewCoordinator(log.WithFields("module", "settlement-test"), testConfig(), client)
}

func TestSettleSuccess(t *testing.T) {
	client := &clientMock{}
	sut := newSut(client)
	batch := provenBatch(1)

	client.On("SubmitBatch", mock.Anything, batch.PostRoot, batch.Proof).
		Return(Handle("deploy-1"), nil).Once()
	client.On("GetStatus", mock.Anything, Handle("deploy-1")).
		Return(Status{Kind: StatusPending}, nil).Once()
	client.On("GetStatus", mock.Anything, Handle("deploy-1")).
		Return(Status{Kind: StatusSuccess}, nil).Once()

	require.NoError(t, sut.Settle(context.Background(), batch))
	require.Equal(t, types.BatchVerified, batch.Status)
	require.Equal(t, "deploy-1", batch.SettlementRef)
	require.Equal(t, types.TxFinalized, batch.Transactions[0].Status)
	client.AssertExpectations(t)
}

func TestSettleBaseLayerRejection(t *testing.T) {
	client := &clientMock{}
	sut := newSut(client)
	batch := provenBatch(1)

	client.On("SubmitBatch", mock.Anything, batch.PostRoot, batch.Proof).
		Return(Handle("deploy-1"), nil).Once()
	client.On("GetStatus", mock.Anything, Handle("deploy-1")).
		Return(Status{Kind: StatusFailure, Detail: "invalid proof"}, nil).Once()

	err := sut.Settle(context.Background(), batch)
	require.ErrorIs(t, err, ErrBatchRejected)
	require.Equal(t, types.BatchRejected, batch.Status)
	// transactions are parked, never silently finalized nor re-admitted
	require.Equal(t, types.TxRejected, batch.Transactions[0].Status)
	client.AssertExpectations(t)
}

func TestSettleFinalityTimeout(t *testing.T) {
	client := &clientMock{}
	sut := newSut(client)
	batch := provenBatch(1)

	client.On("SubmitBatch", mock.Anything, batch.PostRoot, batch.Proof).
		Return(Handle("deploy-1"), nil).Once()
	client.On("GetStatus", mock.Anything, Handle("deploy-1")).
		Return(Status{Kind: StatusPending}, nil)

	err := sut.Settle(context.Background(), batch)
	require.ErrorIs(t, err, ErrFinalityTimeout)
	require.Equal(t, types.BatchRejected, batch.Status)
	require.Equal(t, types.TxRejected, batch.Transactions[0].Status)
}

func TestSubmitOrdering(t *testing.T) {
	client := &clientMock{}
	sut := newSut(client)

	client.On("SubmitBatch", mock.Anything, mock.Anything, mock.Anything).
		Return(Handle("deploy-5"), nil).Once()

	_, err := sut.Submit(context.Background(), provenBatch(5))
	require.NoError(t, err)

	// a batch with an id not greater than the last submitted one is refused
	_, err = sut.Submit(context.Background(), provenBatch(5))
	require.ErrorIs(t, err, ErrOutOfOrder)
	_, err = sut.Submit(context.Background(), provenBatch(4))
	require.ErrorIs(t, err, ErrOutOfOrder)
	client.AssertExpectations(t)
}

func TestSubmitWithoutProof(t *testing.T) {
	client := &clientMock{}
	sut := newSut(client)
	batch := provenBatch(1)
	batch.Proof = nil

	_, err := sut.Submit(context.Background(), batch)
	require.Error(t, err)
}

func TestSubmitAmbiguousAlreadyAccepted(t *testing.T) {
	client := &clientMock{}
	sut := newSut(client)
	batch := provenBatch(1)

	client.On("SubmitBatch", mock.Anything, batch.PostRoot, batch.Proof).
		Return(Handle(""), ErrSubmissionAmbiguous).Once()
	client.On("GetCurrentRoot", mock.Anything).
		Return(batch.PostRoot, nil).Once()

	// no resubmission: the contract already holds the post root
	require.NoError(t, sut.Settle(context.Background(), batch))
	require.Equal(t, types.BatchVerified, batch.Status)
	client.AssertExpectations(t)
}

func TestSubmitAmbiguousNotAcceptedResubmits(t *testing.T) {
	client := &clientMock{}
	sut := newSut(client)
	batch := provenBatch(1)

	client.On("SubmitBatch", mock.Anything, batch.PostRoot, batch.Proof).
		Return(Handle(""), ErrSubmissionAmbiguous).Once()
	client.On("GetCurrentRoot", mock.Anything).
		Return(common.HexToHash("0x99"), nil).Once()
	client.On("SubmitBatch", mock.Anything, batch.PostRoot, batch.Proof).
		Return(Handle("deploy-retry"), nil).Once()
	client.On("GetStatus", mock.Anything, Handle("deploy-retry")).
		Return(Status{Kind: StatusSuccess}, nil).Once()

	require.NoError(t, sut.Settle(context.Background(), batch))
	require.Equal(t, types.BatchVerified, batch.Status)
	require.Equal(t, "deploy-retry", batch.SettlementRef)
	client.AssertExpectations(t)
}

func TestSubmitHardFailure(t *testing.T) {
	client := &clientMock{}
	sut := newSut(client)
	batch := provenBatch(1)

	client.On("SubmitBatch", mock.Anything, batch.PostRoot, batch.Proof).
		Return(Handle(""), errors.New("node unreachable")).Once()

	err := sut.Settle(context.Background(), batch)
	require.Error(t, err)
	require.Equal(t, types.BatchRejected, batch.Status)
	client.AssertExpectations(t)
}
