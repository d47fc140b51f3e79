package concurrency

import (
	"slices"
	"sync"
	"time"

	"github.com/jomo/granite/common"
	"github.com/jomo/granite/logger"
)

// NewLockManager builds a hierarchical lock manager and starts its
// deadlock detector. Close stops the detector.
func NewLockManager(deadlockInterval time.Duration) *LockManager {
	lm := &LockManager{
		tableLocks:       map[uint32]*lockRequestQueue{},
		rowLocks:         map[rowKey]*lockRequestQueue{},
		deadlockInterval: deadlockInterval,
		stopCh:           make(chan struct{}),
	}

	go lm.runCycleDetection()
	return lm
}

func (lm *LockManager) Close() {
	lm.closeOnce.Do(func() { close(lm.stopCh) })
}

// LockTable acquires mode on the table, blocking until compatible.
// Re-requesting a held mode is a no-op; requesting a different held mode
// upgrades, jumping ahead of other waiters.
func (lm *LockManager) LockTable(txn *Transaction, mode LockMode, oid uint32) error {
	if err := lm.checkLockable(txn, mode); err != nil {
		return err
	}

	lm.tableMapMu.Lock()
	queue, ok := lm.tableLocks[oid]
	if !ok {
		queue = newLockRequestQueue()
		lm.tableLocks[oid] = queue
	}
	lm.tableMapMu.Unlock()

	req := &lockRequest{txn: txn, mode: mode, oid: oid}
	return lm.acquire(queue, req)
}

// UnlockTable releases the transaction's table lock. All row locks under
// the table must have been released first.
func (lm *LockManager) UnlockTable(txn *Transaction, oid uint32) error {
	if txn.holdsRowLocksOn(oid) {
		return lm.abort(txn, TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS)
	}

	lm.tableMapMu.Lock()
	queue, ok := lm.tableLocks[oid]
	lm.tableMapMu.Unlock()
	if !ok {
		return &LockNotHeldError{TxnId: txn.Id()}
	}

	queue.mu.Lock()
	req := queue.grantedRequestOf(txn)
	if req == nil {
		queue.mu.Unlock()
		return &LockNotHeldError{TxnId: txn.Id()}
	}

	queue.remove(req)
	txn.removeTableLock(req.mode, oid)
	lm.maybeShrink(txn, req.mode)
	queue.cond.Broadcast()
	queue.mu.Unlock()

	return nil
}

// LockRow acquires a shared or exclusive row lock. The transaction must
// already hold a table lock that covers the request.
func (lm *LockManager) LockRow(txn *Transaction, mode LockMode, oid uint32, rid common.RID) error {
	if mode != SHARED && mode != EXCLUSIVE {
		return &LockNotHeldError{TxnId: txn.Id()}
	}

	if err := lm.checkLockable(txn, mode); err != nil {
		return err
	}

	tableMode, held := txn.tableLockMode(oid)
	if !held {
		return lm.abort(txn, TABLE_LOCK_NOT_PRESENT)
	}
	if mode == EXCLUSIVE &&
		tableMode != INTENTION_EXCLUSIVE && tableMode != SHARED_INTENTION_EXCLUSIVE && tableMode != EXCLUSIVE {
		return lm.abort(txn, TABLE_LOCK_NOT_PRESENT)
	}

	lm.rowMapMu.Lock()
	key := rowKey{oid: oid, rid: rid}
	queue, ok := lm.rowLocks[key]
	if !ok {
		queue = newLockRequestQueue()
		lm.rowLocks[key] = queue
	}
	lm.rowMapMu.Unlock()

	req := &lockRequest{txn: txn, mode: mode, oid: oid, rid: rid, onRow: true}
	return lm.acquire(queue, req)
}

func (lm *LockManager) UnlockRow(txn *Transaction, oid uint32, rid common.RID) error {
	lm.rowMapMu.Lock()
	queue, ok := lm.rowLocks[rowKey{oid: oid, rid: rid}]
	lm.rowMapMu.Unlock()
	if !ok {
		return &LockNotHeldError{TxnId: txn.Id()}
	}

	queue.mu.Lock()
	req := queue.grantedRequestOf(txn)
	if req == nil {
		queue.mu.Unlock()
		return &LockNotHeldError{TxnId: txn.Id()}
	}

	queue.remove(req)
	txn.removeRowLock(req.mode, oid, rid)
	lm.maybeShrink(txn, req.mode)
	queue.cond.Broadcast()
	queue.mu.Unlock()

	return nil
}

// acquire runs the shared queue protocol: enqueue (or re-enqueue as an
// upgrade), then wait until the grant predicate holds. A transaction
// aborted while waiting removes itself and fails.
func (lm *LockManager) acquire(queue *lockRequestQueue, req *lockRequest) error {
	txn := req.txn

	queue.mu.Lock()

	if existing := queue.grantedRequestOf(txn); existing != nil {
		if existing.mode == req.mode {
			queue.mu.Unlock()
			return nil
		}

		if queue.upgrading != common.INVALID_TXN_ID {
			queue.mu.Unlock()
			return lm.abort(txn, UPGRADE_CONFLICT)
		}

		if !upgradable(existing.mode, req.mode) {
			queue.mu.Unlock()
			return lm.abort(txn, INCOMPATIBLE_UPGRADE)
		}

		queue.upgrading = txn.Id()
		queue.remove(existing)
		if existing.onRow {
			txn.removeRowLock(existing.mode, existing.oid, existing.rid)
		} else {
			txn.removeTableLock(existing.mode, existing.oid)
		}

		// upgrades wait ahead of every other waiter
		idx := 0
		for i, r := range queue.requests {
			if r.granted {
				idx = i + 1
			}
		}
		queue.requests = slices.Insert(queue.requests, idx, req)
	} else {
		queue.requests = append(queue.requests, req)
	}

	for !queue.grantable(req) {
		queue.cond.Wait()

		if txn.State() == ABORTED {
			queue.remove(req)
			if queue.upgrading == txn.Id() {
				queue.upgrading = common.INVALID_TXN_ID
			}
			queue.cond.Broadcast()
			queue.mu.Unlock()
			return &TransactionAbortError{TxnId: txn.Id(), Reason: DEADLOCK_VICTIM}
		}
	}

	req.granted = true
	if queue.upgrading == txn.Id() {
		queue.upgrading = common.INVALID_TXN_ID
	}

	if req.onRow {
		txn.addRowLock(req.mode, req.oid, req.rid)
	} else {
		txn.addTableLock(req.mode, req.oid)
	}

	logger.WithFields(map[string]any{"txnId": txn.Id(), "mode": req.mode.String(), "oid": req.oid}).
		Debug("lock granted")

	queue.cond.Broadcast()
	queue.mu.Unlock()
	return nil
}

// checkLockable enforces the isolation-level and 2PL phase rules.
func (lm *LockManager) checkLockable(txn *Transaction, mode LockMode) error {
	switch txn.IsolationLevel() {
	case READ_UNCOMMITTED:
		if mode == SHARED || mode == INTENTION_SHARED || mode == SHARED_INTENTION_EXCLUSIVE {
			return lm.abort(txn, LOCK_SHARED_ON_READ_UNCOMMITTED)
		}
		if txn.State() == SHRINKING {
			return lm.abort(txn, LOCK_ON_SHRINKING)
		}
	case READ_COMMITTED:
		if txn.State() == SHRINKING && mode != SHARED && mode != INTENTION_SHARED {
			return lm.abort(txn, LOCK_ON_SHRINKING)
		}
	case REPEATABLE_READ:
		if txn.State() == SHRINKING {
			return lm.abort(txn, LOCK_ON_SHRINKING)
		}
	}

	return nil
}

// maybeShrink applies the 2PL state transition for a release. Intent
// locks never end the growing phase.
func (lm *LockManager) maybeShrink(txn *Transaction, released LockMode) {
	if txn.State() != GROWING {
		return
	}

	switch txn.IsolationLevel() {
	case REPEATABLE_READ:
		if released == SHARED || released == EXCLUSIVE {
			txn.SetState(SHRINKING)
		}
	case READ_COMMITTED, READ_UNCOMMITTED:
		if released == EXCLUSIVE {
			txn.SetState(SHRINKING)
		}
	}
}

func (lm *LockManager) abort(txn *Transaction, reason AbortReason) error {
	txn.SetState(ABORTED)

	err := &TransactionAbortError{TxnId: txn.Id(), Reason: reason}
	logger.WithFields(map[string]any{"txnId": txn.Id()}).Warn(err.Error())
	return err
}

func compatible(held, requested LockMode) bool {
	switch held {
	case INTENTION_SHARED:
		return requested != EXCLUSIVE
	case INTENTION_EXCLUSIVE:
		return requested == INTENTION_SHARED || requested == INTENTION_EXCLUSIVE
	case SHARED:
		return requested == INTENTION_SHARED || requested == SHARED
	case SHARED_INTENTION_EXCLUSIVE:
		return requested == INTENTION_SHARED
	case EXCLUSIVE:
		return false
	}
	return false
}

func upgradable(held, requested LockMode) bool {
	switch held {
	case INTENTION_SHARED:
		return requested == SHARED || requested == EXCLUSIVE ||
			requested == INTENTION_EXCLUSIVE || requested == SHARED_INTENTION_EXCLUSIVE
	case SHARED, INTENTION_EXCLUSIVE:
		return requested == EXCLUSIVE || requested == SHARED_INTENTION_EXCLUSIVE
	case SHARED_INTENTION_EXCLUSIVE:
		return requested == EXCLUSIVE
	}
	return false
}

func newLockRequestQueue() *lockRequestQueue {
	q := &lockRequestQueue{upgrading: common.INVALID_TXN_ID}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *lockRequestQueue) grantedRequestOf(txn *Transaction) *lockRequest {
	for _, r := range q.requests {
		if r.txn == txn && r.granted {
			return r
		}
	}

	return nil
}

func (q *lockRequestQueue) remove(req *lockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = slices.Delete(q.requests, i, i+1)
			return
		}
	}
}

// grantable holds when every granted request is compatible and the
// request heads the wait region (or is the queue's upgrader).
func (q *lockRequestQueue) grantable(req *lockRequest) bool {
	for _, r := range q.requests {
		if r == req {
			continue
		}
		if r.granted && !compatible(r.mode, req.mode) {
			return false
		}
	}

	if q.upgrading == req.txn.Id() {
		return true
	}

	for _, r := range q.requests {
		if r.granted {
			continue
		}
		return r == req
	}

	return false
}

type lockRequest struct {
	txn     *Transaction
	mode    LockMode
	oid     uint32
	rid     common.RID
	onRow   bool
	granted bool
}

type lockRequestQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*lockRequest
	upgrading int64
}

type rowKey struct {
	oid uint32
	rid common.RID
}

type LockManager struct {
	tableMapMu sync.Mutex
	tableLocks map[uint32]*lockRequestQueue

	rowMapMu sync.Mutex
	rowLocks map[rowKey]*lockRequestQueue

	deadlockInterval time.Duration
	stopCh           chan struct{}
	closeOnce        sync.Once
}
