package mempool

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-collections/collections/queue"
	accelcommon "github.com/mertksk/accelerate/common"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer/types"
)

const (
	// accountHashPrefix is the textual prefix of base layer account hashes
	accountHashPrefix = "account-hash-"
	// accountHashHexLen is the length of the blake2b-256 digest in hex
	accountHashHexLen = 64
)

var (
	// ErrInvalidAmount is returned when admitting a transaction with a nil,
	// zero or negative amount.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInvalidRecipient is returned when the recipient is not a well formed
	// account hash.
	ErrInvalidRecipient = errors.New("malformed recipient account hash")
	// ErrInvalidSender is returned when the sender is not a well formed
	// account hash.
	ErrInvalidSender = errors.New("malformed sender account hash")
	// ErrSenderBacklogExceeded is returned when a sender has too many pending
	// transactions already.
	ErrSenderBacklogExceeded = errors.New("sender pending backlog exceeded")
	// ErrNotFound is returned when querying a transaction the pool does not hold.
	ErrNotFound = errors.New("transaction not found in mempool")
)

// Mempool is a FIFO queue of transactions waiting for inclusion in a batch.
// Admission is safe from arbitrary many concurrent callers and never blocks
// on batching.
type Mempool struct {
	logger *log.Logger
	cfg    Config

	mutex   sync.Mutex
	pending *queue.Queue
	// byID holds the transactions currently in the pool, drained
	// transactions are owned by the sequencer from then on
	byID     map[common.Hash]*types.Transaction
	bySender map[string]uint64
}

// New returns an empty mempool.
func New(logger *log.Logger, cfg Config) *Mempool {
	return &Mempool{
		logger:   logger,
		cfg:      cfg,
		pending:  queue.New(),
		byID:     make(map[common.Hash]*types.Transaction),
		bySender: make(map[string]uint64),
	}
}

// Admit validates the transfer and appends it to the pool in PENDING state.
// The returned transaction carries the content-derived id. Validation errors
// are reported synchronously and leave the pool untouched.
func (m *Mempool) Admit(sender, recipient string, amount *big.Int) (*types.Transaction, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w, got %s", ErrInvalidAmount, amount)
	}
	if !isAccountHash(sender) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}
	if !isAccountHash(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.cfg.MaxSenderBacklog > 0 && m.bySender[sender] >= m.cfg.MaxSenderBacklog {
		return nil, fmt.Errorf("%w: sender %s has %d pending transactions",
			ErrSenderBacklogExceeded, sender, m.bySender[sender])
	}

	submittedAt := time.Now()
	tx := &types.Transaction{
		ID:          accelcommon.HashTransactionID(sender, recipient, amount, submittedAt.UnixNano()),
		Sender:      sender,
		Recipient:   recipient,
		Amount:      new(big.Int).Set(amount),
		SubmittedAt: submittedAt,
		Status:      types.TxPending,
	}

	m.pending.Enqueue(tx)
	m.byID[tx.ID] = tx
	m.bySender[sender]++

	m.logger.Debugf("admitted %s", tx.String())
	return tx.Copy(), nil
}

// DrainPending atomically removes and returns all pending transactions in
// admission order. Transactions admitted while a drain is in progress stay
// pending for the next cycle.
func (m *Mempool) DrainPending() []*types.Transaction {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	drained := make([]*types.Transaction, 0, m.pending.Len())
	for m.pending.Len() > 0 {
		tx := m.pending.Dequeue().(*types.Transaction)
		delete(m.byID, tx.ID)
		m.bySender[tx.Sender]--
		if m.bySender[tx.Sender] == 0 {
			delete(m.bySender, tx.Sender)
		}
		drained = append(drained, tx)
	}
	return drained
}

// StatusOf returns the status of a transaction currently held by the pool.
// Once drained, a transaction is tracked by the sequencer, not the pool.
func (m *Mempool) StatusOf(id common.Hash) (types.TxStatus, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	tx, ok := m.byID[id]
	if !ok {
		return "", ErrNotFound
	}
	return tx.Status, nil
}

// ListAll returns a snapshot of the pool contents in no particular order.
func (m *Mempool) ListAll() []*types.Transaction {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	txs := make([]*types.Transaction, 0, len(m.byID))
	for _, tx := range m.byID {
		txs = append(txs, tx.Copy())
	}
	return txs
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.pending.Len()
}

func isAccountHash(account string) bool {
	if !strings.HasPrefix(account, accountHashPrefix) {
		return false
	}
	digest := account[len(accountHashPrefix):]
	if len(digest) != accountHashHexLen {
		return false
	}
	for _, c := range digest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
