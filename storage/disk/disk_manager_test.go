package disk

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskManager(t *testing.T) {
	t.Run("page ids are allocated monotonically", func(t *testing.T) {
		dm := newTestManager(t, 0)

		assert.Equal(t, int64(0), dm.allocatePage())
		assert.Equal(t, int64(1), dm.allocatePage())
		assert.Equal(t, int64(2), dm.allocatePage())
	})

	t.Run("allocation resumes past existing pages on reopen", func(t *testing.T) {
		dm := newTestManager(t, 3)

		assert.Equal(t, int64(3), dm.allocatePage())
	})

	t.Run("deallocated page ids are reused", func(t *testing.T) {
		dm := newTestManager(t, 0)

		assert.Equal(t, int64(0), dm.allocatePage())
		assert.Equal(t, int64(1), dm.allocatePage())

		dm.deallocatePage(0)
		assert.Equal(t, int64(0), dm.allocatePage())
		assert.Equal(t, int64(2), dm.allocatePage())
	})

	t.Run("db file gets resized when full", func(t *testing.T) {
		dm := newTestManager(t, 0)
		dm.pageCapacity = 1

		buf := make([]byte, PAGE_SIZE)
		require.NoError(t, dm.writePage(4, buf))

		assert.GreaterOrEqual(t, dm.pageCapacity, int64(5))
		fileInfo, err := os.Stat(dm.dbFile.Name())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, fileInfo.Size(), int64(5*PAGE_SIZE))
	})

	t.Run("written pages read back identically", func(t *testing.T) {
		dm := newTestManager(t, 0)

		buf := make([]byte, PAGE_SIZE)
		copy(buf, []byte("hello world"))

		require.NoError(t, dm.writePage(1, buf))

		res, err := dm.readPage(1)
		require.NoError(t, err)
		assert.Equal(t, buf, res)
	})

	t.Run("pages are written at stable offsets", func(t *testing.T) {
		dm := newTestManager(t, 0)

		buf := make([]byte, PAGE_SIZE)
		copy(buf, []byte("page two"))
		require.NoError(t, dm.writePage(2, buf))

		raw := make([]byte, PAGE_SIZE)
		_, err := dm.dbFile.ReadAt(raw, 2*PAGE_SIZE)
		require.NoError(t, err)
		assert.Equal(t, buf, raw)
	})

	t.Run("never-written pages read back as zeroes", func(t *testing.T) {
		dm := newTestManager(t, 0)

		res, err := dm.readPage(7)
		require.NoError(t, err)
		assert.Equal(t, make([]byte, PAGE_SIZE), res)
	})
}

func newTestManager(t *testing.T, pages int64) *diskManager {
	t.Helper()

	dbFile := path.Join(t.TempDir(), "test.db")
	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}
	t.Cleanup(func() {
		_ = file.Close()
	})

	if pages > 0 {
		require.NoError(t, os.Truncate(file.Name(), pages*PAGE_SIZE))
	}

	dm, err := NewManager(file)
	require.NoError(t, err)
	return dm
}
