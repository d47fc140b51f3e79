package index

import (
	"fmt"
	"math/rand"
	"os"
	"path"
	"sync"
	"testing"

	"github.com/jomo/granite/buffer"
	"github.com/jomo/granite/recovery"
	"github.com/jomo/granite/storage/disk"
	"github.com/jomo/granite/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBPlusTree(t *testing.T) {
	t.Run("stored values can be retrieved", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[string, int]("register", bpm, OrderedComparator[string](), 4, 4)
		require.NoError(t, err)

		register := map[string]int{
			"john": 25,
			"doe":  45,
			"jane": 40,
		}

		for k, v := range register {
			inserted, err := bplus.Insert(k, v)
			require.NoError(t, err)
			assert.True(t, inserted)
		}

		for k, v := range register {
			val, err := bplus.GetValue(k)
			require.NoError(t, err)
			assert.Equal(t, v, val)
		}
	})

	t.Run("missing keys are reported as not found", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("sparse", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		_, err = bplus.GetValue(1)
		var notFound *util.KeyNotFoundError
		assert.ErrorAs(t, err, &notFound)

		_, err = bplus.Insert(1, 100)
		require.NoError(t, err)

		_, err = bplus.GetValue(2)
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("duplicate inserts are refused and change nothing", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("uniq", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		inserted, err := bplus.Insert(1, 100)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = bplus.Insert(1, 999)
		require.NoError(t, err)
		assert.False(t, inserted)

		val, err := bplus.GetValue(1)
		require.NoError(t, err)
		assert.Equal(t, 100, val)
	})

	t.Run("the fourth insert splits the root leaf", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("split", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 1; i <= 4; i++ {
			inserted, err := bplus.Insert(i, i*100)
			require.NoError(t, err)
			assert.True(t, inserted)
		}

		root := readInternal[int](t, bpm, bplus.rootPageId)
		require.Equal(t, 2, root.getSize())
		assert.Equal(t, 3, root.keyAt(1))
		assert.Equal(t, disk.INVALID_PAGE_ID, root.Parent)

		left := readLeaf[int, int](t, bpm, root.valueAt(0))
		right := readLeaf[int, int](t, bpm, root.valueAt(1))
		assert.Equal(t, []int{1, 2}, left.Keys)
		assert.Equal(t, []int{3, 4}, right.Keys)
		assert.Equal(t, right.PageId, left.Next)
		assert.Equal(t, INVALID_NEXT, right.Next)
		assert.Equal(t, root.PageId, left.Parent)
		assert.Equal(t, root.PageId, right.Parent)

		for i := 1; i <= 4; i++ {
			val, err := bplus.GetValue(i)
			require.NoError(t, err)
			assert.Equal(t, i*100, val)
		}
	})

	t.Run("removing below min size merges and collapses the root", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("merge", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 1; i <= 4; i++ {
			_, err := bplus.Insert(i, i*100)
			require.NoError(t, err)
		}

		// the underflowing left leaf and its sibling fit in one leaf, so
		// they merge and the lone-child root hands over to the leaf
		require.NoError(t, bplus.Remove(2))

		root := readLeaf[int, int](t, bpm, bplus.rootPageId)
		assert.Equal(t, []int{1, 3, 4}, root.Keys)
		assert.Equal(t, disk.INVALID_PAGE_ID, root.Parent)
		assert.Equal(t, INVALID_NEXT, root.Next)

		for _, i := range []int{1, 3, 4} {
			val, err := bplus.GetValue(i)
			require.NoError(t, err)
			assert.Equal(t, i*100, val)
		}
	})

	t.Run("an underflowing leaf borrows when merging would overflow", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("borrow", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			_, err := bplus.Insert(i, i*100)
			require.NoError(t, err)
		}

		// leaves are now {1,2} and {3,4,5}; removing 2 borrows 3 from the
		// right sibling and the separator becomes 4
		require.NoError(t, bplus.Remove(2))

		root := readInternal[int](t, bpm, bplus.rootPageId)
		require.Equal(t, 2, root.getSize())
		assert.Equal(t, 4, root.keyAt(1))

		left := readLeaf[int, int](t, bpm, root.valueAt(0))
		right := readLeaf[int, int](t, bpm, root.valueAt(1))
		assert.Equal(t, []int{1, 3}, left.Keys)
		assert.Equal(t, []int{4, 5}, right.Keys)
	})

	t.Run("removing an absent key is a no-op", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("noop", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		require.NoError(t, bplus.Remove(1))

		_, err = bplus.Insert(1, 100)
		require.NoError(t, err)
		require.NoError(t, bplus.Remove(1))
		require.NoError(t, bplus.Remove(1))

		assert.True(t, bplus.IsEmpty())
	})

	t.Run("emptying the tree clears the root", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("drain", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 0; i < 30; i++ {
			_, err := bplus.Insert(i, i)
			require.NoError(t, err)
		}
		for i := 0; i < 30; i++ {
			require.NoError(t, bplus.Remove(i))
		}

		assert.True(t, bplus.IsEmpty())
		assert.Equal(t, disk.INVALID_PAGE_ID, bplus.rootPageId)

		_, err = bplus.GetValue(0)
		var notFound *util.KeyNotFoundError
		assert.ErrorAs(t, err, &notFound)

		// the tree is usable again afterwards
		inserted, err := bplus.Insert(7, 700)
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("can store items larger than a page's max size", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("grow", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 100; i >= 0; i-- {
			inserted, err := bplus.Insert(i, i)
			require.NoError(t, err)
			assert.True(t, inserted)
		}

		for i := 0; i < 101; i++ {
			val, err := bplus.GetValue(i)
			require.NoError(t, err)
			assert.Equal(t, i, val)
		}
	})

	t.Run("random churn keeps lookups exact", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("churn", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(42))
		keys := rng.Perm(200)
		for _, k := range keys {
			_, err := bplus.Insert(k, k*10)
			require.NoError(t, err)
		}

		for _, k := range keys[:100] {
			require.NoError(t, bplus.Remove(k))
		}

		for _, k := range keys[:100] {
			_, err := bplus.GetValue(k)
			assert.Error(t, err)
		}
		for _, k := range keys[100:] {
			val, err := bplus.GetValue(k)
			require.NoError(t, err)
			assert.Equal(t, k*10, val)
		}
	})

	t.Run("a full scan visits every key in ascending order once", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("scan", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 100; i >= 0; i-- {
			_, err := bplus.Insert(i, i)
			require.NoError(t, err)
		}

		iter, err := bplus.Begin()
		require.NoError(t, err)
		defer iter.Close()

		res := []int{}
		for !iter.IsEnd() {
			key, val, err := iter.Next()
			require.NoError(t, err)
			assert.Equal(t, key, val)
			res = append(res, key)
		}

		expected := []int{}
		for i := 0; i < 101; i++ {
			expected = append(expected, i)
		}
		assert.Equal(t, expected, res)
	})

	t.Run("iteration can start mid-tree", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("seek", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 0; i < 50; i += 2 {
			_, err := bplus.Insert(i, i)
			require.NoError(t, err)
		}

		// 21 is absent: the iterator lands on the next key up
		iter, err := bplus.BeginAt(21)
		require.NoError(t, err)
		defer iter.Close()

		key, _, err := iter.Next()
		require.NoError(t, err)
		assert.Equal(t, 22, key)
	})

	t.Run("iterating an empty tree ends immediately", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("empty", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		iter, err := bplus.Begin()
		require.NoError(t, err)
		assert.True(t, iter.IsEnd())
	})

	t.Run("key ranges are inclusive", func(t *testing.T) {
		bpm := createBpm(t, 16)
		bplus, err := NewBplusTree[int, int]("range", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 0; i < 20; i++ {
			_, err := bplus.Insert(i, i*10)
			require.NoError(t, err)
		}

		res, err := bplus.GetKeyRange(5, 9)
		require.NoError(t, err)
		assert.Equal(t, []int{50, 60, 70, 80, 90}, res)
	})

	t.Run("the root page id survives a restart", func(t *testing.T) {
		file := createDbFile(t)

		bpm := bpmOverFile(t, file, 16)
		bplus, err := NewBplusTree[int, int]("persist", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)

		for i := 0; i < 40; i++ {
			_, err := bplus.Insert(i, i*3)
			require.NoError(t, err)
		}
		bpm.FlushAllPages()

		reopened := bpmOverFile(t, file, 16)
		bplus2, err := NewBplusTree[int, int]("persist", reopened, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)
		assert.Equal(t, bplus.rootPageId, bplus2.rootPageId)

		for i := 0; i < 40; i++ {
			val, err := bplus2.GetValue(i)
			require.NoError(t, err)
			assert.Equal(t, i*3, val)
		}
	})

	t.Run("two indexes share the header page", func(t *testing.T) {
		bpm := createBpm(t, 16)

		first, err := NewBplusTree[int, int]("first", bpm, OrderedComparator[int](), 4, 4)
		require.NoError(t, err)
		second, err := NewBplusTree[string, int]("second", bpm, OrderedComparator[string](), 4, 4)
		require.NoError(t, err)

		_, err = first.Insert(1, 100)
		require.NoError(t, err)
		_, err = second.Insert("one", 1)
		require.NoError(t, err)

		val, err := first.GetValue(1)
		require.NoError(t, err)
		assert.Equal(t, 100, val)

		sval, err := second.GetValue("one")
		require.NoError(t, err)
		assert.Equal(t, 1, sval)
	})

	t.Run("concurrent inserters never lose a key", func(t *testing.T) {
		bpm := createBpm(t, 32)
		bplus, err := NewBplusTree[int, int]("parallel", bpm, OrderedComparator[int](), 8, 8)
		require.NoError(t, err)

		const workers = 4
		const perWorker = 50

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					key := w*perWorker + i
					_, err := bplus.Insert(key, key)
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		for key := 0; key < workers*perWorker; key++ {
			val, err := bplus.GetValue(key)
			require.NoError(t, err)
			assert.Equal(t, key, val)
		}
	})
}

func readLeaf[K any, V any](t *testing.T, bpm *buffer.BufferpoolManager, pageId int64) *leafPage[K, V] {
	t.Helper()

	guard, err := bpm.ReadPage(pageId)
	require.NoError(t, err)
	defer guard.Drop()

	page, err := util.ToStruct[leafPage[K, V]](guard.GetData())
	require.NoError(t, err)
	require.Equal(t, LEAF_PAGE, page.PageType)
	return &page
}

func readInternal[K any](t *testing.T, bpm *buffer.BufferpoolManager, pageId int64) *internalPage[K] {
	t.Helper()

	guard, err := bpm.ReadPage(pageId)
	require.NoError(t, err)
	defer guard.Drop()

	page, err := util.ToStruct[internalPage[K]](guard.GetData())
	require.NoError(t, err)
	require.Equal(t, INTERNAL_PAGE, page.PageType)
	return &page
}

func createBpm(t *testing.T, poolSize int) *buffer.BufferpoolManager {
	t.Helper()
	return bpmOverFile(t, createDbFile(t), poolSize)
}

func bpmOverFile(t *testing.T, file *os.File, poolSize int) *buffer.BufferpoolManager {
	t.Helper()

	diskMgr, err := disk.NewManager(file)
	require.NoError(t, err)

	replacer := buffer.NewLrukReplacer(poolSize, 2)
	return buffer.NewBufferpoolManager(poolSize, replacer, disk.NewScheduler(diskMgr), recovery.NewLogManager())
}

func createDbFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}
	t.Cleanup(func() {
		_ = file.Close()
	})

	// reserve page 0 for the header page
	_ = os.Truncate(file.Name(), disk.PAGE_SIZE)
	return file
}
