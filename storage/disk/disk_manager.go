package disk

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

const PAGE_SIZE = 4096
const DEFAULT_PAGE_CAPACITY = 16
const INVALID_PAGE_ID int64 = -1

func NewManager(file *os.File) (*diskManager, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", file.Name())
	}

	capacity := int64(DEFAULT_PAGE_CAPACITY)
	if pages := info.Size() / PAGE_SIZE; pages > capacity {
		capacity = pages
	}

	return &diskManager{
		dbFile:       file,
		pageCapacity: capacity,
		// page ids are stable across restarts; resume allocation past the
		// highest page the file already holds
		nextPageId: info.Size() / PAGE_SIZE,
		freePages:  []int64{},
	}, nil
}

func (dm *diskManager) allocatePage() int64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if len(dm.freePages) > 0 {
		pageId := dm.freePages[0]
		dm.freePages = dm.freePages[1:]
		return pageId
	}

	pageId := dm.nextPageId
	dm.nextPageId++
	return pageId
}

func (dm *diskManager) deallocatePage(pageId int64) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.freePages = append(dm.freePages, pageId)
}

func (dm *diskManager) writePage(pageId int64, data []byte) error {
	if err := dm.ensureCapacity(pageId); err != nil {
		return err
	}

	if _, err := dm.dbFile.WriteAt(data[:PAGE_SIZE], pageId*PAGE_SIZE); err != nil {
		return errors.Wrapf(err, "writing page %d", pageId)
	}

	return nil
}

func (dm *diskManager) readPage(pageId int64) ([]byte, error) {
	buf := make([]byte, PAGE_SIZE)

	// a page the file has never been grown to read back as zeroes
	n, err := dm.dbFile.ReadAt(buf, pageId*PAGE_SIZE)
	if err != nil && err != io.EOF && n == 0 {
		return nil, errors.Wrapf(err, "reading page %d", pageId)
	}

	return buf, nil
}

func (dm *diskManager) ensureCapacity(pageId int64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if pageId < dm.pageCapacity {
		return nil
	}

	for dm.pageCapacity <= pageId {
		dm.pageCapacity *= 2
	}

	if err := os.Truncate(dm.dbFile.Name(), dm.pageCapacity*PAGE_SIZE); err != nil {
		return errors.Wrapf(err, "resizing db file to %d pages", dm.pageCapacity)
	}

	return nil
}

type diskManager struct {
	mu           sync.Mutex
	dbFile       *os.File
	pageCapacity int64
	nextPageId   int64
	freePages    []int64
}
