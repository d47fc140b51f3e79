package buffer

// ReadPage pins the page and takes its latch in shared mode. The latch is
// acquired outside the bufferpool mutex so a blocked latch never stalls
// unrelated pool operations.
func (b *BufferpoolManager) ReadPage(pageId int64) (*ReadPageGuard, error) {
	page, err := b.FetchPage(pageId)
	if err != nil {
		return nil, err
	}

	page.RLatch()
	return &ReadPageGuard{PageGuard{page: page, bpm: b}}, nil
}

// WritePage pins the page and takes its latch exclusively. Dropping the
// guard unpins with the dirty flag set.
func (b *BufferpoolManager) WritePage(pageId int64) (*WritePageGuard, error) {
	page, err := b.FetchPage(pageId)
	if err != nil {
		return nil, err
	}

	page.WLatch()
	return &WritePageGuard{PageGuard{page: page, bpm: b}}, nil
}

// NewWritePage allocates a fresh page and returns it latched exclusively.
func (b *BufferpoolManager) NewWritePage() (*WritePageGuard, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}

	page.WLatch()
	return &WritePageGuard{PageGuard{page: page, bpm: b}}, nil
}

func (pg *ReadPageGuard) Drop() {
	if pg == nil || pg.page == nil {
		return
	}

	pg.page.RUnlatch()
	pg.bpm.UnpinPage(pg.page.pageId, false)
	pg.page = nil
}

func (pg *WritePageGuard) Drop() {
	if pg == nil || pg.page == nil {
		return
	}

	pg.page.WUnlatch()
	pg.bpm.UnpinPage(pg.page.pageId, true)
	pg.page = nil
}

func (pg *PageGuard) PageId() int64 {
	return pg.page.pageId
}

func (pg *ReadPageGuard) GetData() []byte {
	return pg.page.data
}

func (pg *WritePageGuard) GetDataMut() []byte {
	return pg.page.data
}

type PageGuard struct {
	page *Page
	bpm  *BufferpoolManager
}

type ReadPageGuard struct {
	PageGuard
}

type WritePageGuard struct {
	PageGuard
}
