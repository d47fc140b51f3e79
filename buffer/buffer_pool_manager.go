package buffer

import (
	"fmt"
	"sync"

	"github.com/jomo/granite/logger"
	"github.com/jomo/granite/recovery"
	"github.com/jomo/granite/storage/disk"
	"github.com/jomo/granite/util"
)

func NewBufferpoolManager(size int, replacer *lrukReplacer, diskScheduler *disk.DiskScheduler, logManager *recovery.LogManager) *BufferpoolManager {
	frames := make([]*Page, size)
	freeFrames := make([]int, size)

	for i := 0; i < size; i++ {
		p := &Page{
			id:     i,
			pageId: disk.INVALID_PAGE_ID,
			data:   make([]byte, disk.PAGE_SIZE),
		}

		frames[i] = p
		freeFrames[i] = i
	}

	return &BufferpoolManager{
		frames:        frames,
		pageTable:     make(map[int64]int),
		replacer:      replacer,
		diskScheduler: diskScheduler,
		logManager:    logManager,
		freeFrames:    freeFrames,
	}
}

// NewPage allocates a fresh page id and pins it into a frame. Returns
// nil when every frame is pinned; the caller treats that as a hard fault.
func (b *BufferpoolManager) NewPage() (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame, err := b.availableFrame()
	if err != nil {
		return nil, err
	}

	pageId := b.diskScheduler.AllocatePage()
	b.pageTable[pageId] = frame.id

	frame.reset()
	frame.pageId = pageId
	frame.pin()

	b.replacer.recordAccess(frame.id)
	b.replacer.setEvictable(frame.id, false)

	return frame, nil
}

// FetchPage pins the page, reading it from disk if it is not resident.
func (b *BufferpoolManager) FetchPage(pageId int64) (*Page, error) {
	if pageId == disk.INVALID_PAGE_ID {
		return nil, &util.GraniteError{Message: "fetching the invalid page id"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.pageTable[pageId]; ok {
		frame := b.frames[id]
		frame.pin()

		b.replacer.recordAccess(frame.id)
		b.replacer.setEvictable(frame.id, false)
		return frame, nil
	}

	frame, err := b.availableFrame()
	if err != nil {
		return nil, err
	}

	b.pageTable[pageId] = frame.id
	frame.reset()
	frame.pageId = pageId
	frame.pin()

	req := disk.NewRequest(pageId, nil, false)
	resp := <-b.diskScheduler.Schedule(req)
	if !resp.Success {
		return nil, &util.GraniteError{Message: fmt.Sprintf("reading page %d", pageId), Err: resp.Err}
	}
	copy(frame.data, resp.Data)

	b.replacer.recordAccess(frame.id)
	b.replacer.setEvictable(frame.id, false)

	return frame, nil
}

// UnpinPage drops one pin. The dirty flag is sticky until the page is
// flushed or evicted.
func (b *BufferpoolManager) UnpinPage(pageId int64, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return false
	}

	frame := b.frames[id]
	if frame.pins.Load() <= 0 {
		return false
	}

	if isDirty && !frame.dirty {
		b.logManager.AppendRecord(fmt.Appendf(nil, "dirty page=%d", pageId))
	}
	frame.dirty = frame.dirty || isDirty

	if frame.unpin() == 0 {
		b.replacer.setEvictable(frame.id, true)
	}

	return true
}

// FlushPage writes the page to disk regardless of its dirty flag.
func (b *BufferpoolManager) FlushPage(pageId int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return false
	}

	frame := b.frames[id]
	req := disk.NewRequest(frame.pageId, frame.data, true)
	<-b.diskScheduler.Schedule(req)
	frame.dirty = false

	return true
}

func (b *BufferpoolManager) FlushAllPages() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.pageTable {
		frame := b.frames[id]
		req := disk.NewRequest(frame.pageId, frame.data, true)
		<-b.diskScheduler.Schedule(req)
		frame.dirty = false
	}
}

// DeletePage evicts the page and returns its frame to the free list.
// Deleting a non-resident page succeeds; deleting a pinned page fails.
func (b *BufferpoolManager) DeletePage(pageId int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return true
	}

	frame := b.frames[id]
	if frame.pins.Load() > 0 {
		return false
	}

	if frame.dirty {
		b.flush(frame)
	}

	delete(b.pageTable, pageId)
	b.replacer.remove(frame.id)
	frame.reset()
	b.freeFrames = append(b.freeFrames, frame.id)
	b.diskScheduler.DeallocatePage(pageId)

	return true
}

// availableFrame pops the free list, falling back to a replacer victim.
// Dirty victims are written back before the frame is handed out.
func (b *BufferpoolManager) availableFrame() (*Page, error) {
	if len(b.freeFrames) > 0 {
		id := b.freeFrames[0]
		b.freeFrames = b.freeFrames[1:]
		return b.frames[id], nil
	}

	id, ok := b.replacer.evict()
	if !ok {
		return nil, util.NewBufferpoolExhaustedError()
	}

	frame := b.frames[id]
	logger.WithFields(map[string]any{"frameId": id, "pageId": frame.pageId}).
		Debug("evicting frame")

	if frame.dirty {
		b.flush(frame)
	}
	delete(b.pageTable, frame.pageId)

	return frame, nil
}

func (b *BufferpoolManager) flush(frame *Page) {
	req := disk.NewRequest(frame.pageId, frame.data, true)

	// block until data is written to disk
	<-b.diskScheduler.Schedule(req)
	frame.dirty = false
}

type BufferpoolManager struct {
	mu            sync.Mutex
	frames        []*Page
	pageTable     map[int64]int
	diskScheduler *disk.DiskScheduler
	logManager    *recovery.LogManager
	replacer      *lrukReplacer
	freeFrames    []int
}
