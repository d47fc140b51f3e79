package index

import (
	"slices"

	"github.com/jomo/granite/util"
)

func (p *internalPage[K]) init(pageId, parentPageId int64, maxSize int32) {
	p.PageType = INTERNAL_PAGE
	p.PageId = pageId
	p.Parent = parentPageId
	p.MaxSize = maxSize
	p.Keys = []K{}
	p.Values = []int64{}
}

// lookUp picks the child for key: the last slot i whose separator is
// <= key. Slot 0 has no separator and acts as negative infinity.
func (p *internalPage[K]) lookUp(key K, cmp Comparator[K]) int64 {
	idx := 0
	left, right := 1, p.getSize()-1

	for left <= right {
		mid := left + (right-left)/2
		if cmp(key, p.keyAt(mid)) >= 0 {
			idx = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}

	return p.valueAt(idx)
}

func (p *internalPage[K]) childIndex(pageId int64) int {
	for i, v := range p.Values {
		if v == pageId {
			return i
		}
	}

	return -1
}

// insertAt wires a new child immediately after its left sibling.
func (p *internalPage[K]) insertAt(idx int, key K, childPageId int64) {
	p.Keys = slices.Insert(p.Keys, idx, key)
	p.Values = slices.Insert(p.Values, idx, childPageId)
	p.Size += 1
}

// removeAt drops the child pointer at idx together with its separator.
// idx 0 never holds a separator and cannot be removed this way.
func (p *internalPage[K]) removeAt(idx int) {
	p.Keys = slices.Delete(p.Keys, idx, idx+1)
	p.Values = slices.Delete(p.Values, idx, idx+1)
	p.Size -= 1
}

func (p *internalPage[K]) encode() ([]byte, error) {
	return util.ToByteSlice(*p)
}

type internalPage[K any] struct {
	BplusPageHeader[K, int64]
}
