package index

import (
	"slices"

	"github.com/jomo/granite/util"
)

func (p *leafPage[K, V]) init(pageId, parentPageId int64, maxSize int32) {
	p.PageType = LEAF_PAGE
	p.PageId = pageId
	p.Parent = parentPageId
	p.MaxSize = maxSize
	p.Next = INVALID_NEXT
	p.Keys = []K{}
	p.Values = []V{}
}

func (p *leafPage[K, V]) lookUp(key K, cmp Comparator[K]) (V, bool) {
	var zero V

	idx := p.getInsertIdx(key, cmp)
	if idx >= p.getSize() || cmp(p.keyAt(idx), key) != 0 {
		return zero, false
	}

	return p.valueAt(idx), true
}

// insert places the pair in key order, refusing duplicates.
func (p *leafPage[K, V]) insert(key K, value V, cmp Comparator[K]) bool {
	idx := p.getInsertIdx(key, cmp)
	if idx < p.getSize() && cmp(p.keyAt(idx), key) == 0 {
		return false
	}

	p.Keys = slices.Insert(p.Keys, idx, key)
	p.Values = slices.Insert(p.Values, idx, value)
	p.Size += 1
	return true
}

func (p *leafPage[K, V]) remove(key K, cmp Comparator[K]) bool {
	idx := p.getInsertIdx(key, cmp)
	if idx >= p.getSize() || cmp(p.keyAt(idx), key) != 0 {
		return false
	}

	p.Keys = slices.Delete(p.Keys, idx, idx+1)
	p.Values = slices.Delete(p.Values, idx, idx+1)
	p.Size -= 1
	return true
}

func (p *leafPage[K, V]) encode() ([]byte, error) {
	return util.ToByteSlice(*p)
}

const INVALID_NEXT int64 = -1

type leafPage[K any, V any] struct {
	BplusPageHeader[K, V]
	Next int64
}
