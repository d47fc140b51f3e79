package index

import (
	"bytes"
	"encoding/binary"

	"github.com/jomo/granite/storage/disk"
	"github.com/jomo/granite/util"
)

// The header page is page 0 of the database file. It maps index names to
// root page ids with a fixed little-endian layout:
//
//	u32 record_count
//	record_count * (char[32] name, u32 root_page_id)
//
// Records are updated in place; lookup is a linear scan.
const HEADER_PAGE_ID int64 = 0
const INDEX_NAME_SIZE = 32

const headerRecordSize = INDEX_NAME_SIZE + 4
const invalidRootMarker = ^uint32(0)

func newHeaderView(data []byte) headerView {
	return headerView{data: data}
}

func (h headerView) recordCount() int {
	return int(binary.LittleEndian.Uint32(h.data[:4]))
}

func (h headerView) maxRecords() int {
	return (len(h.data) - 4) / headerRecordSize
}

func (h headerView) name(i int) string {
	off := 4 + i*headerRecordSize
	raw := h.data[off : off+INDEX_NAME_SIZE]

	if idx := bytes.IndexByte(raw, 0); idx >= 0 {
		raw = raw[:idx]
	}
	return string(raw)
}

func (h headerView) rootPageId(i int) int64 {
	off := 4 + i*headerRecordSize + INDEX_NAME_SIZE

	raw := binary.LittleEndian.Uint32(h.data[off : off+4])
	if raw == invalidRootMarker {
		return disk.INVALID_PAGE_ID
	}
	return int64(raw)
}

func (h headerView) setRootPageId(i int, pageId int64) {
	off := 4 + i*headerRecordSize + INDEX_NAME_SIZE

	raw := invalidRootMarker
	if pageId != disk.INVALID_PAGE_ID {
		raw = uint32(pageId)
	}
	binary.LittleEndian.PutUint32(h.data[off:off+4], raw)
}

func (h headerView) find(name string) int {
	for i := 0; i < h.recordCount(); i++ {
		if h.name(i) == name {
			return i
		}
	}

	return -1
}

func (h headerView) append(name string, pageId int64) (int, error) {
	if len(name) >= INDEX_NAME_SIZE {
		return -1, &util.GraniteError{Message: "index name too long: " + name}
	}

	i := h.recordCount()
	if i >= h.maxRecords() {
		return -1, &util.GraniteError{Message: "header page full"}
	}

	off := 4 + i*headerRecordSize
	copy(h.data[off:off+INDEX_NAME_SIZE], make([]byte, INDEX_NAME_SIZE))
	copy(h.data[off:], name)
	h.setRootPageId(i, pageId)
	binary.LittleEndian.PutUint32(h.data[:4], uint32(i+1))

	return i, nil
}

type headerView struct {
	data []byte
}
