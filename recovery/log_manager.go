package recovery

import (
	"sync"
	"sync/atomic"

	"github.com/jomo/granite/logger"
)

const INVALID_LSN int64 = -1

// LogManager is the append-only write-ahead log surface the buffer pool
// calls before a page is dirtied. Records are buffered in memory; this
// engine does not replay them (no crash recovery), so Flush only drains
// the buffer.
func NewLogManager() *LogManager {
	return &LogManager{
		records: [][]byte{},
	}
}

func (lm *LogManager) AppendRecord(record []byte) int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lsn := lm.nextLsn.Add(1) - 1
	buf := make([]byte, len(record))
	copy(buf, record)
	lm.records = append(lm.records, buf)

	return lsn
}

func (lm *LogManager) Flush() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if len(lm.records) > 0 {
		logger.Debugf("log manager dropping %d buffered records", len(lm.records))
	}
	lm.records = lm.records[:0]
}

func (lm *LogManager) PersistentLSN() int64 {
	return lm.nextLsn.Load() - 1
}

type LogManager struct {
	mu      sync.Mutex
	records [][]byte
	nextLsn atomic.Int64
}
