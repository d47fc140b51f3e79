package concurrency

import (
	"sync/atomic"

	"github.com/jomo/granite/logger"
)

func NewTransactionManager(lockManager *LockManager) *TransactionManager {
	return &TransactionManager{
		lockManager: lockManager,
	}
}

// Begin starts a transaction with a monotonically increasing id; the
// deadlock detector treats higher ids as younger.
func (tm *TransactionManager) Begin(isolation IsolationLevel) *Transaction {
	id := tm.nextTxnId.Add(1) - 1
	return NewTransaction(id, isolation)
}

func (tm *TransactionManager) Commit(txn *Transaction) {
	txn.SetState(COMMITTED)
	tm.releaseLocks(txn)

	logger.WithFields(map[string]any{"txnId": txn.Id()}).Debug("txn committed")
}

func (tm *TransactionManager) Abort(txn *Transaction) {
	txn.SetState(ABORTED)
	tm.releaseLocks(txn)

	logger.WithFields(map[string]any{"txnId": txn.Id()}).Debug("txn aborted")
}

// releaseLocks drops everything the transaction still holds, rows before
// their tables. The transaction is already committed or aborted, so no
// phase transition fires.
func (tm *TransactionManager) releaseLocks(txn *Transaction) {
	rows, tables := txn.heldLocks()

	for _, ref := range rows {
		_ = tm.lockManager.UnlockRow(txn, ref.oid, ref.rid)
	}
	for _, ref := range tables {
		_ = tm.lockManager.UnlockTable(txn, ref.oid)
	}
}

type TransactionManager struct {
	lockManager *LockManager
	nextTxnId   atomic.Int64
}
