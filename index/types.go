package index

import "cmp"

type PAGE_TYPE = int32

const (
	INVALID_PAGE PAGE_TYPE = iota
	INTERNAL_PAGE
	LEAF_PAGE
)

// Comparator orders keys: negative when a < b, zero when equal.
type Comparator[K any] func(a, b K) int

func OrderedComparator[K cmp.Ordered]() Comparator[K] {
	return func(a, b K) int {
		return cmp.Compare(a, b)
	}
}
