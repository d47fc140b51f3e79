package buffer

import (
	"sync"
)

// NewLrukReplacer builds an LRU-K replacer over at most capacity frames.
// Victims are chosen by largest backward K-distance: frames with fewer
// than K recorded accesses have infinite distance and are picked first,
// ordered by their earliest access.
func NewLrukReplacer(capacity, k int) *lrukReplacer {
	return &lrukReplacer{
		k:            k,
		nodeStore:    map[int]*lrukNode{},
		replacerSize: capacity,
	}
}

func (lru *lrukReplacer) recordAccess(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		node = &lrukNode{frameId: frameId, k: lru.k}
		lru.nodeStore[frameId] = node
	}

	lru.currTimestamp += 1
	node.addTimestamp(lru.currTimestamp)
}

func (lru *lrukReplacer) setEvictable(frameId int, evictable bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return
	}

	if evictable && !node.isEvictable {
		lru.currSize += 1
	} else if !evictable && node.isEvictable {
		lru.currSize -= 1
	}
	node.isEvictable = evictable
}

func (lru *lrukReplacer) evict() (int, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	victimId := INVALID_FRAME_ID
	victimInHistory := false
	var victimTs int64

	for frameId, node := range lru.nodeStore {
		if !node.isEvictable {
			continue
		}

		inHistory := !node.hasKAccess()
		switch {
		case victimId == INVALID_FRAME_ID,
			inHistory && !victimInHistory,
			inHistory == victimInHistory && node.kthAccess() < victimTs:
			victimId = frameId
			victimInHistory = inHistory
			victimTs = node.kthAccess()
		}
	}

	if victimId == INVALID_FRAME_ID {
		return INVALID_FRAME_ID, false
	}

	delete(lru.nodeStore, victimId)
	lru.currSize -= 1
	return victimId, true
}

func (lru *lrukReplacer) remove(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return
	}

	if !node.isEvictable {
		panic("removing a non-evictable frame from the replacer")
	}

	delete(lru.nodeStore, frameId)
	lru.currSize -= 1
}

func (lru *lrukReplacer) size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	return lru.currSize
}

type lrukReplacer struct {
	mu            sync.Mutex
	nodeStore     map[int]*lrukNode
	replacerSize  int
	currSize      int
	currTimestamp int64
	k             int
}
