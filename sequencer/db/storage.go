package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mertksk/accelerate/db"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer/db/migrations"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/russross/meddler"
)

const errWhileRollbackFormat = "error while rolling back tx: %w"

// Storage persists the sequencer's transaction registry and batch history, so
// a restart resumes from the last sealed batch.
type Storage struct {
	logger *log.Logger
	db     *sql.DB
}

// NewStorage runs the migrations and opens the sequencer database
func NewStorage(logger *log.Logger, dbPath string) (*Storage, error) {
	if err := migrations.RunMigrations(dbPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, err
	}

	return &Storage{
		logger: logger,
		db:     database,
	}, nil
}

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

// AddTransaction records a newly admitted transaction
func (s *Storage) AddTransaction(ctx context.Context, transaction *types.Transaction) error {
	tx, err := db.NewTx(ctx, s.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil {
				s.logger.Errorf(errWhileRollbackFormat, errRllbck)
			}
		}
	}()

	if err = meddler.Insert(tx, "transactions", transaction); err != nil {
		return fmt.Errorf("error inserting transaction %s: %w", transaction.ID, err)
	}
	return tx.Commit()
}

// UpdateTransactions persists status and batch assignment changes for a set
// of transactions in a single tx
func (s *Storage) UpdateTransactions(ctx context.Context, transactions []types.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	tx, err := db.NewTx(ctx, s.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil {
				s.logger.Errorf(errWhileRollbackFormat, errRllbck)
			}
		}
	}()

	for i := range transactions {
		if err = updateTransaction(tx, &transactions[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func updateTransaction(tx db.Querier, transaction *types.Transaction) error {
	if _, err := tx.Exec(
		"UPDATE transactions SET status = $1, batch_id = $2 WHERE id = $3;",
		transaction.Status, transaction.BatchID, transaction.ID.Hex(),
	); err != nil {
		return fmt.Errorf("error updating transaction %s: %w", transaction.ID, err)
	}
	return nil
}

// GetTransaction returns a transaction by id. Returns db.ErrNotFound when the
// id was never admitted.
func (s *Storage) GetTransaction(id common.Hash) (types.Transaction, error) {
	var transaction types.Transaction
	if err := meddler.QueryRow(s.db, &transaction,
		"SELECT * FROM transactions WHERE id = $1;", id.Hex()); err != nil {
		return types.Transaction{}, db.ReturnErrNotFound(err)
	}
	return transaction, nil
}

// GetTransactions lists transactions, optionally filtered by status, oldest
// first
func (s *Storage) GetTransactions(statuses ...types.TxStatus) ([]*types.Transaction, error) {
	query := "SELECT * FROM transactions"
	args := make([]interface{}, len(statuses))

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = statuses[i]
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	// rowid is the insert order, which is the admission order. The stored
	// timestamp string does not sort chronologically within a second.
	query += " ORDER BY rowid ASC"

	var transactions []*types.Transaction
	if err := meddler.QueryAll(s.db, &transactions, query, args...); err != nil {
		return nil, err
	}
	return transactions, nil
}

// GetBatchTransactions returns the transactions assigned to a batch, in
// admission order. Replaying them against the batch preRoot must reproduce
// the batch postRoot, so the order has to match the original build.
func (s *Storage) GetBatchTransactions(batchID uint64) ([]*types.Transaction, error) {
	var transactions []*types.Transaction
	if err := meddler.QueryAll(s.db, &transactions,
		"SELECT * FROM transactions WHERE batch_id = $1 ORDER BY rowid ASC;", batchID); err != nil {
		return nil, err
	}
	return transactions, nil
}

// AddBatch records a freshly sealed batch
func (s *Storage) AddBatch(ctx context.Context, batch *types.Batch) error {
	tx, err := db.NewTx(ctx, s.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil {
				s.logger.Errorf(errWhileRollbackFormat, errRllbck)
			}
		}
	}()

	if err = meddler.Insert(tx, "batches", batch); err != nil {
		return fmt.Errorf("error inserting batch %d: %w", batch.ID, err)
	}
	return tx.Commit()
}

// UpdateBatch persists the batch and its transactions after a pipeline stage
// changed them
func (s *Storage) UpdateBatch(ctx context.Context, batch *types.Batch) error {
	tx, err := db.NewTx(ctx, s.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil {
				s.logger.Errorf(errWhileRollbackFormat, errRllbck)
			}
		}
	}()

	var proofJSON interface{}
	if batch.Proof != nil {
		encoded, errMarshal := json.Marshal(batch.Proof)
		if errMarshal != nil {
			err = fmt.Errorf("error encoding the proof of batch %d: %w", batch.ID, errMarshal)
			return err
		}
		proofJSON = string(encoded)
	}
	if _, err = tx.Exec(
		"UPDATE batches SET proof = $1, status = $2, settlement_ref = $3 WHERE id = $4;",
		proofJSON, batch.Status, batch.SettlementRef, batch.ID,
	); err != nil {
		return fmt.Errorf("error updating batch %d: %w", batch.ID, err)
	}
	for i := range batch.Transactions {
		if err = updateTransaction(tx, &batch.Transactions[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetBatch returns a batch with its transactions attached
func (s *Storage) GetBatch(id uint64) (types.Batch, error) {
	var batch types.Batch
	if err := meddler.QueryRow(s.db, &batch,
		"SELECT * FROM batches WHERE id = $1;", id); err != nil {
		return types.Batch{}, db.ReturnErrNotFound(err)
	}
	if err := s.attachTransactions(&batch); err != nil {
		return types.Batch{}, err
	}
	return batch, nil
}

// GetBatches lists batches newest first, up to limit (0 means no limit)
func (s *Storage) GetBatches(limit uint64) ([]*types.Batch, error) {
	query := "SELECT * FROM batches ORDER BY id DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var batches []*types.Batch
	if err := meddler.QueryAll(s.db, &batches, query, args...); err != nil {
		return nil, err
	}
	for _, batch := range batches {
		if err := s.attachTransactions(batch); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

// GetLastBatch returns the batch with the highest id. Returns db.ErrNotFound
// on a fresh database.
func (s *Storage) GetLastBatch() (types.Batch, error) {
	var batch types.Batch
	if err := meddler.QueryRow(s.db, &batch,
		"SELECT * FROM batches ORDER BY id DESC LIMIT 1;"); err != nil {
		return types.Batch{}, db.ReturnErrNotFound(err)
	}
	if err := s.attachTransactions(&batch); err != nil {
		return types.Batch{}, err
	}
	return batch, nil
}

// GetBatchCount returns how many batches have been sealed
func (s *Storage) GetBatchCount() (uint64, error) {
	var count uint64
	row := s.db.QueryRow("SELECT COUNT(*) FROM batches;")
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Storage) attachTransactions(batch *types.Batch) error {
	transactions, err := s.GetBatchTransactions(batch.ID)
	if err != nil {
		return fmt.Errorf("error loading transactions of batch %d: %w", batch.ID, err)
	}
	batch.Transactions = db.SlicePtrsToSlice(transactions).([]types.Transaction)
	return nil
}
