package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/jomo/granite/storage/disk"
)

func (p *Page) RLatch()   { p.mu.RLock() }
func (p *Page) RUnlatch() { p.mu.RUnlock() }
func (p *Page) WLatch()   { p.mu.Lock() }
func (p *Page) WUnlatch() { p.mu.Unlock() }

func (p *Page) Data() []byte {
	return p.data
}

func (p *Page) PageId() int64 {
	return p.pageId
}

func (p *Page) PinCount() int32 {
	return p.pins.Load()
}

func (p *Page) pin() {
	p.pins.Add(1)
}

func (p *Page) unpin() int32 {
	return p.pins.Add(-1)
}

func (p *Page) reset() {
	p.pageId = disk.INVALID_PAGE_ID
	p.dirty = false
	p.pins.Store(0)
	p.data = make([]byte, disk.PAGE_SIZE)
}

// Page is an in-memory frame hosting one disk page. A frame with pin
// count > 0 is never evicted; the latch protects the page bytes, the
// buffer pool mutex protects everything else.
type Page struct {
	mu     sync.RWMutex
	id     int
	data   []byte
	pins   atomic.Int32
	dirty  bool
	pageId int64
}
