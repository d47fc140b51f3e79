package index

import (
	"github.com/jomo/granite/buffer"
	"github.com/jomo/granite/storage/disk"
	"github.com/jomo/granite/util"
)

// Begin positions an iterator at the tree's smallest key.
func (b *BplusTree[K, V]) Begin() (*IndexIterator[K, V], error) {
	return b.begin(nil)
}

// BeginAt positions an iterator at key, or at the first key after it.
func (b *BplusTree[K, V]) BeginAt(key K) (*IndexIterator[K, V], error) {
	return b.begin(&key)
}

func (b *BplusTree[K, V]) begin(key *K) (*IndexIterator[K, V], error) {
	it := &IndexIterator[K, V]{bpm: b.bpm}

	b.rootMu.RLock()
	if b.rootPageId == disk.INVALID_PAGE_ID {
		b.rootMu.RUnlock()
		return it, nil
	}

	page, err := b.bpm.FetchPage(b.rootPageId)
	if err != nil {
		b.rootMu.RUnlock()
		return nil, err
	}
	page.RLatch()
	b.rootMu.RUnlock()

	for {
		probe, err := b.probe(page)
		if err != nil {
			b.releaseRead(page)
			return nil, err
		}

		if probe.PageType == LEAF_PAGE {
			leaf, err := b.asLeaf(page)
			if err != nil {
				b.releaseRead(page)
				return nil, err
			}

			it.page = page
			it.leaf = leaf
			if key != nil {
				it.pos = leaf.getInsertIdx(*key, b.cmp)
			}

			// the sought key may sit past this leaf's last entry
			if it.pos >= leaf.getSize() {
				if err := it.advance(); err != nil {
					return nil, err
				}
			}
			return it, nil
		}

		node, err := b.asInternal(page)
		if err != nil {
			b.releaseRead(page)
			return nil, err
		}

		childId := node.valueAt(0)
		if key != nil {
			childId = node.lookUp(*key, b.cmp)
		}

		child, err := b.bpm.FetchPage(childId)
		if err != nil {
			b.releaseRead(page)
			return nil, err
		}
		child.RLatch()
		b.releaseRead(page)
		page = child
	}
}

func (it *IndexIterator[K, V]) IsEnd() bool {
	return it.page == nil
}

// Next returns the current entry and steps forward, hopping across the
// leaf chain as leaves are exhausted.
func (it *IndexIterator[K, V]) Next() (K, V, error) {
	var zeroK K
	var zeroV V

	if it.IsEnd() {
		return zeroK, zeroV, &util.GraniteError{Message: "iterating past the end of the index"}
	}

	key := it.leaf.keyAt(it.pos)
	val := it.leaf.valueAt(it.pos)
	it.pos += 1

	if it.pos >= it.leaf.getSize() {
		if err := it.advance(); err != nil {
			return zeroK, zeroV, err
		}
	}

	return key, val, nil
}

// Close releases the iterator's leaf. Safe to call more than once.
func (it *IndexIterator[K, V]) Close() {
	if it.page == nil {
		return
	}

	pageId := it.page.PageId()
	it.page.RUnlatch()
	it.bpm.UnpinPage(pageId, false)
	it.page = nil
	it.leaf = nil
}

// advance releases the current leaf before latching the next so a
// structure operation moving right-to-left cannot deadlock with us.
func (it *IndexIterator[K, V]) advance() error {
	next := it.leaf.Next
	it.Close()

	if next == INVALID_NEXT {
		return nil
	}

	page, err := it.bpm.FetchPage(next)
	if err != nil {
		return err
	}
	page.RLatch()

	leaf, err := util.ToStruct[leafPage[K, V]](page.Data())
	if err != nil {
		page.RUnlatch()
		it.bpm.UnpinPage(page.PageId(), false)
		return err
	}

	it.page = page
	it.leaf = &leaf
	it.pos = 0
	return nil
}

type IndexIterator[K any, V any] struct {
	bpm  *buffer.BufferpoolManager
	page *buffer.Page
	leaf *leafPage[K, V]
	pos  int
}
