package concurrency

import (
	"slices"
	"time"

	"github.com/jomo/granite/common"
	"github.com/jomo/granite/logger"
)

func (lm *LockManager) runCycleDetection() {
	ticker := time.NewTicker(lm.deadlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopCh:
			return
		case <-ticker.C:
			lm.detectDeadlocks()
		}
	}
}

// detectDeadlocks repeatedly builds the waits-for graph and aborts the
// youngest participant of a cycle until none remain.
func (lm *LockManager) detectDeadlocks() {
	for {
		graph, txns := lm.buildWaitsFor()

		victim := findCycleVictim(graph)
		if victim == common.INVALID_TXN_ID {
			return
		}

		txn := txns[victim]
		txn.SetState(ABORTED)
		logger.WithFields(map[string]any{"txnId": victim}).Warn("deadlock victim aborted")

		lm.broadcastAll()
	}
}

// buildWaitsFor snapshots queue state: every waiting request points to
// each granted, incompatible holder on its queue.
func (lm *LockManager) buildWaitsFor() (map[int64][]int64, map[int64]*Transaction) {
	graph := map[int64][]int64{}
	txns := map[int64]*Transaction{}

	collect := func(queue *lockRequestQueue) {
		queue.mu.Lock()
		defer queue.mu.Unlock()

		for _, waiter := range queue.requests {
			// an aborted waiter is on its way out of the queue
			if waiter.granted || waiter.txn.State() == ABORTED {
				continue
			}

			for _, holder := range queue.requests {
				if !holder.granted || compatible(holder.mode, waiter.mode) {
					continue
				}

				graph[waiter.txn.Id()] = append(graph[waiter.txn.Id()], holder.txn.Id())
				txns[waiter.txn.Id()] = waiter.txn
				txns[holder.txn.Id()] = holder.txn
			}
		}
	}

	lm.tableMapMu.Lock()
	tableQueues := make([]*lockRequestQueue, 0, len(lm.tableLocks))
	for _, q := range lm.tableLocks {
		tableQueues = append(tableQueues, q)
	}
	lm.tableMapMu.Unlock()

	lm.rowMapMu.Lock()
	rowQueues := make([]*lockRequestQueue, 0, len(lm.rowLocks))
	for _, q := range lm.rowLocks {
		rowQueues = append(rowQueues, q)
	}
	lm.rowMapMu.Unlock()

	for _, q := range tableQueues {
		collect(q)
	}
	for _, q := range rowQueues {
		collect(q)
	}

	for id := range graph {
		slices.Sort(graph[id])
		graph[id] = slices.Compact(graph[id])
	}

	return graph, txns
}

// findCycleVictim runs DFS in ascending txn-id order and returns the
// youngest (highest id) transaction on the first cycle found.
func findCycleVictim(graph map[int64][]int64) int64 {
	nodes := make([]int64, 0, len(graph))
	for id := range graph {
		nodes = append(nodes, id)
	}
	slices.Sort(nodes)

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := map[int64]int{}
	stack := []int64{}

	var dfs func(id int64) int64
	dfs = func(id int64) int64 {
		state[id] = inStack
		stack = append(stack, id)

		for _, next := range graph[id] {
			if state[next] == inStack {
				// extract the cycle from the stack and pick the youngest
				victim := next
				for i := len(stack) - 1; i >= 0; i-- {
					victim = max(victim, stack[i])
					if stack[i] == next {
						break
					}
				}
				return victim
			}

			if state[next] == unvisited {
				if victim := dfs(next); victim != common.INVALID_TXN_ID {
					return victim
				}
			}
		}

		state[id] = done
		stack = stack[:len(stack)-1]
		return common.INVALID_TXN_ID
	}

	for _, id := range nodes {
		if state[id] == unvisited {
			if victim := dfs(id); victim != common.INVALID_TXN_ID {
				return victim
			}
		}
	}

	return common.INVALID_TXN_ID
}

// broadcastAll wakes every queue so aborted waiters notice their state.
func (lm *LockManager) broadcastAll() {
	lm.tableMapMu.Lock()
	tableQueues := make([]*lockRequestQueue, 0, len(lm.tableLocks))
	for _, q := range lm.tableLocks {
		tableQueues = append(tableQueues, q)
	}
	lm.tableMapMu.Unlock()

	lm.rowMapMu.Lock()
	rowQueues := make([]*lockRequestQueue, 0, len(lm.rowLocks))
	for _, q := range lm.rowLocks {
		rowQueues = append(rowQueues, q)
	}
	lm.rowMapMu.Unlock()

	for _, q := range append(tableQueues, rowQueues...) {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}
