package mempool

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/stretchr/testify/require"
)

const (
	senderA    = "account-hash-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	recipientB = "account-hash-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newTestMempool(t *testing.T, cfg Config) *Mempool {
	t.Helper()
	return New(log.WithFields("module", "mempool-test"), cfg)
}

func TestAdmit(t *testing.T) {
	pool := newTestMempool(t, Config{})

	tx, err := pool.Admit(senderA, recipientB, big.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, types.TxPending, tx.Status)
	require.Equal(t, 1, pool.Len())

	status, err := pool.StatusOf(tx.ID)
	require.NoError(t, err)
	require.Equal(t, types.TxPending, status)
}

func TestAdmitRejectsInvalidAmount(t *testing.T) {
	pool := newTestMempool(t, Config{})

	testCases := []struct {
		name   string
		amount *big.Int
	}{
		{name: "negative", amount: big.NewInt(-5)},
		{name: "zero", amount: big.NewInt(0)},
		{name: "nil", amount: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pool.Admit(senderA, recipientB, tc.amount)
			require.ErrorIs(t, err, ErrInvalidAmount)
			require.Equal(t, 0, pool.Len())
		})
	}
}

func TestAdmitRejectsMalformedAccounts(t *testing.T) {
	pool := newTestMempool(t, Config{})

	_, err := pool.Admit(senderA, "not-an-account", big.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = pool.Admit(senderA, "account-hash-xyz", big.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = pool.Admit("", recipientB, big.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidSender)

	require.Equal(t, 0, pool.Len())
}

func TestAdmitSenderBacklogLimit(t *testing.T) {
	pool := newTestMempool(t, Config{MaxSenderBacklog: 2})

	for i := 0; i < 2; i++ {
		_, err := pool.Admit(senderA, recipientB, big.NewInt(int64(i+1)))
		require.NoError(t, err)
	}
	_, err := pool.Admit(senderA, recipientB, big.NewInt(3))
	require.ErrorIs(t, err, ErrSenderBacklogExceeded)

	// draining frees the backlog
	pool.DrainPending()
	_, err = pool.Admit(senderA, recipientB, big.NewInt(3))
	require.NoError(t, err)
}

func TestDrainPendingFIFO(t *testing.T) {
	pool := newTestMempool(t, Config{})

	amounts := []int64{10, 20, 30}
	for _, amount := range amounts {
		_, err := pool.Admit(senderA, recipientB, big.NewInt(amount))
		require.NoError(t, err)
	}

	drained := pool.DrainPending()
	require.Len(t, drained, 3)
	for i, amount := range amounts {
		require.Equal(t, big.NewInt(amount), drained[i].Amount)
	}
	require.Equal(t, 0, pool.Len())
	require.Empty(t, pool.DrainPending())
}

func TestConcurrentAdmitNoLossNoDup(t *testing.T) {
	pool := newTestMempool(t, Config{})

	const (
		admitters      = 8
		txsPerAdmitter = 50
	)

	var wg sync.WaitGroup
	drainedCh := make(chan []*types.Transaction, admitters*txsPerAdmitter)
	for i := 0; i < admitters; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < txsPerAdmitter; j++ {
				_, err := pool.Admit(senderA, recipientB, big.NewInt(int64(worker*txsPerAdmitter+j+1)))
				require.NoError(t, err)
				if j%10 == 0 {
					drainedCh <- pool.DrainPending()
				}
			}
		}(i)
	}
	wg.Wait()
	close(drainedCh)

	seen := make(map[common.Hash]bool)
	total := 0
	collect := func(txs []*types.Transaction) {
		for _, tx := range txs {
			require.False(t, seen[tx.ID], "transaction drained twice")
			seen[tx.ID] = true
			total++
		}
	}
	for txs := range drainedCh {
		collect(txs)
	}
	collect(pool.DrainPending())

	require.Equal(t, admitters*txsPerAdmitter, total)
}
