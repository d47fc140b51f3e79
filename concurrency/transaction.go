package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/jomo/granite/common"
)

type IsolationLevel int32

const (
	READ_UNCOMMITTED IsolationLevel = iota
	READ_COMMITTED
	REPEATABLE_READ
)

type TransactionState int32

const (
	GROWING TransactionState = iota
	SHRINKING
	COMMITTED
	ABORTED
)

type LockMode int

const (
	INTENTION_SHARED LockMode = iota
	INTENTION_EXCLUSIVE
	SHARED
	SHARED_INTENTION_EXCLUSIVE
	EXCLUSIVE
)

func (m LockMode) String() string {
	switch m {
	case INTENTION_SHARED:
		return "IS"
	case INTENTION_EXCLUSIVE:
		return "IX"
	case SHARED:
		return "S"
	case SHARED_INTENTION_EXCLUSIVE:
		return "SIX"
	case EXCLUSIVE:
		return "X"
	}
	return "?"
}

func NewTransaction(id int64, isolation IsolationLevel) *Transaction {
	t := &Transaction{
		id:         id,
		isolation:  isolation,
		tableLocks: map[LockMode]map[uint32]struct{}{},
		rowLocks:   map[LockMode]map[uint32]map[common.RID]struct{}{},
	}

	for _, m := range []LockMode{INTENTION_SHARED, INTENTION_EXCLUSIVE, SHARED, SHARED_INTENTION_EXCLUSIVE, EXCLUSIVE} {
		t.tableLocks[m] = map[uint32]struct{}{}
	}
	for _, m := range []LockMode{SHARED, EXCLUSIVE} {
		t.rowLocks[m] = map[uint32]map[common.RID]struct{}{}
	}

	return t
}

func (t *Transaction) Id() int64 {
	return t.id
}

func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolation
}

func (t *Transaction) State() TransactionState {
	return TransactionState(t.state.Load())
}

func (t *Transaction) SetState(state TransactionState) {
	t.state.Store(int32(state))
}

func (t *Transaction) addTableLock(mode LockMode, oid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tableLocks[mode][oid] = struct{}{}
}

func (t *Transaction) removeTableLock(mode LockMode, oid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.tableLocks[mode], oid)
}

func (t *Transaction) addRowLock(mode LockMode, oid uint32, rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, ok := t.rowLocks[mode][oid]
	if !ok {
		rows = map[common.RID]struct{}{}
		t.rowLocks[mode][oid] = rows
	}
	rows[rid] = struct{}{}
}

func (t *Transaction) removeRowLock(mode LockMode, oid uint32, rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rows, ok := t.rowLocks[mode][oid]; ok {
		delete(rows, rid)
		if len(rows) == 0 {
			delete(t.rowLocks[mode], oid)
		}
	}
}

// tableLockMode reports the single mode this transaction holds on oid.
func (t *Transaction) tableLockMode(oid uint32) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for mode, oids := range t.tableLocks {
		if _, ok := oids[oid]; ok {
			return mode, true
		}
	}

	return 0, false
}

func (t *Transaction) holdsRowLocksOn(oid uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, byOid := range t.rowLocks {
		if rows, ok := byOid[oid]; ok && len(rows) > 0 {
			return true
		}
	}

	return false
}

// heldLocks snapshots everything the transaction holds, rows first, so
// release order satisfies the rows-before-tables rule.
func (t *Transaction) heldLocks() ([]rowLockRef, []tableLockRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := []rowLockRef{}
	for mode, byOid := range t.rowLocks {
		for oid, rids := range byOid {
			for rid := range rids {
				rows = append(rows, rowLockRef{mode: mode, oid: oid, rid: rid})
			}
		}
	}

	tables := []tableLockRef{}
	for mode, oids := range t.tableLocks {
		for oid := range oids {
			tables = append(tables, tableLockRef{mode: mode, oid: oid})
		}
	}

	return rows, tables
}

type rowLockRef struct {
	mode LockMode
	oid  uint32
	rid  common.RID
}

type tableLockRef struct {
	mode LockMode
	oid  uint32
}

// Transaction tracks two-phase locking state: growing until the first
// lock release that matters for its isolation level, then shrinking.
type Transaction struct {
	id        int64
	isolation IsolationLevel
	state     atomic.Int32

	mu         sync.Mutex
	tableLocks map[LockMode]map[uint32]struct{}
	rowLocks   map[LockMode]map[uint32]map[common.RID]struct{}
}
