package disk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskScheduler(t *testing.T) {
	t.Run("schedule is non blocking", func(t *testing.T) {
		ds := NewScheduler(newTestManager(t, 0))

		data := make([]byte, PAGE_SIZE)
		copy(data, []byte("hello world"))

		start := time.Now()
		respCh := ds.Schedule(NewRequest(1, data, true))
		elapsed := time.Since(start)

		assert.Less(t, elapsed, 100*time.Millisecond)
		<-respCh
	})

	t.Run("can schedule read and write requests", func(t *testing.T) {
		ds := NewScheduler(newTestManager(t, 0))

		data := make([]byte, PAGE_SIZE)
		copy(data, []byte("hello world"))

		writeReq := NewRequest(1, data, true)
		readReq := NewRequest(1, nil, false)

		ds.Schedule(writeReq)
		ds.Schedule(readReq)

		writeResp := <-writeReq.RespCh
		require.True(t, writeResp.Success)

		readResp := <-readReq.RespCh
		require.True(t, readResp.Success)
		assert.Equal(t, data, readResp.Data)
	})

	t.Run("requests for different pages run concurrently", func(t *testing.T) {
		ds := NewScheduler(newTestManager(t, 0))

		reqs := []DiskReq{}
		for i := 0; i < 8; i++ {
			data := make([]byte, PAGE_SIZE)
			data[0] = byte(i + 1)
			req := NewRequest(int64(i), data, true)
			reqs = append(reqs, req)
			ds.Schedule(req)
		}

		for _, req := range reqs {
			resp := <-req.RespCh
			require.True(t, resp.Success)
		}

		for i := 0; i < 8; i++ {
			readReq := NewRequest(int64(i), nil, false)
			ds.Schedule(readReq)
			resp := <-readReq.RespCh
			require.True(t, resp.Success)
			assert.Equal(t, byte(i+1), resp.Data[0])
		}
	})

	t.Run("allocate passes through to the disk manager", func(t *testing.T) {
		ds := NewScheduler(newTestManager(t, 0))

		assert.Equal(t, int64(0), ds.AllocatePage())
		assert.Equal(t, int64(1), ds.AllocatePage())

		ds.DeallocatePage(0)
		assert.Equal(t, int64(0), ds.AllocatePage())
	})
}
