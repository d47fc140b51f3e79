package common

import "fmt"

const INVALID_PAGE_ID int64 = -1
const INVALID_TXN_ID int64 = -1

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageId, r.SlotNum)
}

// RID identifies a record by the page holding it and its slot within the page.
type RID struct {
	PageId  int64
	SlotNum uint32
}
