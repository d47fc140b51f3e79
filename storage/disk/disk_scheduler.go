package disk

import (
	"sync"
)

func NewScheduler(diskManager *diskManager) *DiskScheduler {
	ds := &DiskScheduler{
		reqCh:       make(chan DiskReq, 100),
		pageQueue:   make(map[int64]chan DiskReq),
		diskManager: diskManager,
	}

	go ds.handleDiskReq()
	return ds
}

func NewRequest(pageId int64, data []byte, isWrite bool) DiskReq {
	return DiskReq{
		PageId: pageId,
		Data:   data,
		Write:  isWrite,
		RespCh: make(chan DiskResp),
	}
}

func (ds *DiskScheduler) Schedule(req DiskReq) <-chan DiskResp {
	ds.reqCh <- req
	return req.RespCh
}

// AllocatePage hands out the next page id; ids are stable across restarts.
func (ds *DiskScheduler) AllocatePage() int64 {
	return ds.diskManager.allocatePage()
}

func (ds *DiskScheduler) DeallocatePage(pageId int64) {
	ds.diskManager.deallocatePage(pageId)
}

func (ds *DiskScheduler) handleDiskReq() {
	for req := range ds.reqCh {
		ds.pageQueueMu.Lock()
		queue, ok := ds.pageQueue[req.PageId]
		if !ok {
			queue = make(chan DiskReq, 10)
			ds.pageQueue[req.PageId] = queue
		}

		// enqueue while holding the latch so the worker can't tear the
		// queue down between the lookup and the send
		queue <- req
		ds.pageQueueMu.Unlock()

		// !ok means we created a new page queue, therefore we should start a
		// new worker to handle the queue's page requests
		if !ok {
			go ds.pageWorker(req.PageId, queue)
		}
	}
}

func (ds *DiskScheduler) pageWorker(pageId int64, reqQueue chan DiskReq) {
	for {
		select {
		case req := <-reqQueue:
			if req.Write {
				if err := ds.diskManager.writePage(req.PageId, req.Data); err != nil {
					req.RespCh <- DiskResp{Success: false, Err: err}
				} else {
					req.RespCh <- DiskResp{Success: true}
				}
			} else {
				if data, err := ds.diskManager.readPage(req.PageId); err != nil {
					req.RespCh <- DiskResp{Success: false, Err: err}
				} else {
					req.RespCh <- DiskResp{Success: true, Data: data}
				}
			}

		default:
			// done handling requests for this page; re-check emptiness under
			// the latch so a racing enqueue isn't stranded
			ds.pageQueueMu.Lock()
			if len(reqQueue) > 0 {
				ds.pageQueueMu.Unlock()
				continue
			}
			delete(ds.pageQueue, pageId)
			ds.pageQueueMu.Unlock()
			return
		}
	}
}

type DiskScheduler struct {
	reqCh       chan DiskReq
	diskManager *diskManager

	pageQueue   map[int64]chan DiskReq
	pageQueueMu sync.Mutex
}

type DiskReq struct {
	PageId int64
	Data   []byte
	Write  bool
	RespCh chan DiskResp
}

type DiskResp struct {
	Success bool
	Data    []byte
	Err     error
}
