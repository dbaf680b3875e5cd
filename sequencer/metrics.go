package sequencer

import (
	"sync/atomic"

	"github.com/mertksk/accelerate/sequencer/types"
)

// metrics holds the process-wide monotonic counters. Stages increment them
// independently, snapshots are taken lock free.
type metrics struct {
	transactionsAdmitted  atomic.Uint64
	transactionsRejected  atomic.Uint64
	transactionsFinalized atomic.Uint64
	batchesSealed         atomic.Uint64
	proofsGenerated       atomic.Uint64
	proofsFailed          atomic.Uint64
	settlementAttempts    atomic.Uint64
	settlementSuccesses   atomic.Uint64
	settlementFailures    atomic.Uint64
}

func (m *metrics) snapshot() types.Metrics {
	return types.Metrics{
		TransactionsAdmitted:  m.transactionsAdmitted.Load(),
		TransactionsRejected:  m.transactionsRejected.Load(),
		TransactionsFinalized: m.transactionsFinalized.Load(),
		BatchesSealed:         m.batchesSealed.Load(),
		ProofsGenerated:       m.proofsGenerated.Load(),
		ProofsFailed:          m.proofsFailed.Load(),
		SettlementAttempts:    m.settlementAttempts.Load(),
		SettlementSuccesses:   m.settlementSuccesses.Load(),
		SettlementFailures:    m.settlementFailures.Load(),
	}
}
