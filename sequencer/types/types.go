package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus represents the lifecycle status of an L2 transaction.
type TxStatus string

const (
	// TxPending transaction admitted to the mempool, waiting for a batch
	TxPending TxStatus = "PENDING"
	// TxBatched transaction drained into a sealed batch
	TxBatched TxStatus = "BATCHED"
	// TxProving the owning batch is being proven
	TxProving TxStatus = "PROVING"
	// TxFinalized the owning batch reached finality on the base layer
	TxFinalized TxStatus = "FINALIZED"
	// TxRejected terminal failure, either at admission or because the owning
	// batch was rejected by the base layer
	TxRejected TxStatus = "REJECTED"
)

// BatchStatus represents the lifecycle status of a batch.
type BatchStatus string

const (
	// BatchProcessing batch sealed, proof not yet generated
	BatchProcessing BatchStatus = "PROCESSING"
	// BatchProven proof attached, not yet submitted
	BatchProven BatchStatus = "PROVEN"
	// BatchProofFailed proof generation exhausted its retries. The batch needs
	// operator intervention, it is never silently dropped.
	BatchProofFailed BatchStatus = "PROOF_FAILED"
	// BatchSubmitted submitted to the base layer, waiting for finality
	BatchSubmitted BatchStatus = "SUBMITTED"
	// BatchVerified the base layer accepted the batch
	BatchVerified BatchStatus = "VERIFIED"
	// BatchRejected the base layer rejected the batch or finality timed out
	BatchRejected BatchStatus = "REJECTED"
)

// Transaction is an L2 value transfer submitted by a user.
type Transaction struct {
	ID          common.Hash `meddler:"id,hash"        json:"id"`
	Sender      string      `meddler:"sender"         json:"sender"`
	Recipient   string      `meddler:"recipient"      json:"recipient"`
	Amount      *big.Int    `meddler:"amount,bigint"  json:"amount"`
	SubmittedAt time.Time   `meddler:"submitted_at,utctime" json:"submittedAt"`
	Status      TxStatus    `meddler:"status"         json:"status"`
	// BatchID is set once the transaction is sealed into a batch. A
	// transaction belongs to at most one batch.
	BatchID *uint64 `meddler:"batch_id" json:"batchId,omitempty"`
}

// Copy returns a deep copy of the transaction.
func (t *Transaction) Copy() *Transaction {
	cp := *t
	if t.Amount != nil {
		cp.Amount = new(big.Int).Set(t.Amount)
	}
	if t.BatchID != nil {
		batchID := *t.BatchID
		cp.BatchID = &batchID
	}
	return &cp
}

func (t *Transaction) String() string {
	return fmt.Sprintf("tx %s: %s -> %s amount %s status %s",
		t.ID.TerminalString(), t.Sender, t.Recipient, t.Amount, t.Status)
}

// Proof is the opaque succinct proof of a batch state transition, as returned
// by the proof backend.
type Proof struct {
	// Data is the serialized proof blob, hex encoded
	Data string `json:"data"`
	// PublicSignals are the public inputs the proof commits to. The first two
	// entries match the pre and post state roots of the batch.
	PublicSignals []string `json:"publicSignals"`
	// Backend names the backend that produced the proof, so simulated proofs
	// are always distinguishable from real ones.
	Backend string `json:"backend"`
}

// Batch is a sealed group of transactions proven and submitted to the base
// layer as a single state transition.
type Batch struct {
	ID           uint64        `meddler:"id"             json:"id"`
	Transactions []Transaction `meddler:"-"              json:"transactions"`
	PreRoot      common.Hash   `meddler:"pre_root,hash"  json:"preRoot"`
	PostRoot     common.Hash   `meddler:"post_root,hash" json:"postRoot"`
	Proof        *Proof        `meddler:"proof,json"     json:"proof,omitempty"`
	Status       BatchStatus   `meddler:"status"         json:"status"`
	// SettlementRef is the base layer deploy hash, set once submitted
	SettlementRef string    `meddler:"settlement_ref" json:"settlementRef,omitempty"`
	SealedAt      time.Time `meddler:"sealed_at,utctime" json:"sealedAt"`
}

// Copy returns a deep copy of the batch.
func (b *Batch) Copy() *Batch {
	cp := *b
	cp.Transactions = make([]Transaction, len(b.Transactions))
	for i := range b.Transactions {
		cp.Transactions[i] = *b.Transactions[i].Copy()
	}
	if b.Proof != nil {
		proof := *b.Proof
		proof.PublicSignals = append([]string{}, b.Proof.PublicSignals...)
		cp.Proof = &proof
	}
	return &cp
}

func (b *Batch) String() string {
	return fmt.Sprintf("batch %d: %d txs, preRoot %s, postRoot %s, status %s",
		b.ID, len(b.Transactions), b.PreRoot.TerminalString(), b.PostRoot.TerminalString(), b.Status)
}

// EventType identifies a state change published to subscribers.
type EventType string

const (
	EventTransactionAdmitted EventType = "transaction_admitted"
	EventBatchSealed         EventType = "batch_sealed"
	EventProofGenerated      EventType = "proof_generated"
	EventProofFailed         EventType = "proof_failed"
	EventBatchSubmitted      EventType = "batch_submitted"
	EventBatchVerified       EventType = "batch_verified"
	EventBatchRejected       EventType = "batch_rejected"
)

// Event is a state change notification. Delivery is fire and forget, per
// subscriber FIFO.
type Event struct {
	Type    EventType   `json:"type"`
	TxID    common.Hash `json:"txId,omitempty"`
	BatchID uint64      `json:"batchId,omitempty"`
	Time    time.Time   `json:"time"`
}

// Metrics is a snapshot of the process-wide sequencer counters. Counters are
// monotonic and reset only on process restart.
type Metrics struct {
	TransactionsAdmitted  uint64 `json:"transactionsAdmitted"`
	TransactionsRejected  uint64 `json:"transactionsRejected"`
	TransactionsFinalized uint64 `json:"transactionsFinalized"`
	BatchesSealed         uint64 `json:"batchesSealed"`
	ProofsGenerated       uint64 `json:"proofsGenerated"`
	ProofsFailed          uint64 `json:"proofsFailed"`
	SettlementAttempts    uint64 `json:"settlementAttempts"`
	SettlementSuccesses   uint64 `json:"settlementSuccesses"`
	SettlementFailures    uint64 `json:"settlementFailures"`
}
