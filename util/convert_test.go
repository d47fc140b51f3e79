package util

import (
	"testing"

	"github.com/jomo/granite/storage/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	type record struct {
		Id   int64
		Name string
	}

	t.Run("structs round-trip through a page buffer", func(t *testing.T) {
		data, err := ToByteSlice(record{Id: 7, Name: "seven"})
		require.NoError(t, err)
		assert.Len(t, data, disk.PAGE_SIZE)

		got, err := ToStruct[record](data)
		require.NoError(t, err)
		assert.Equal(t, record{Id: 7, Name: "seven"}, got)
	})

	t.Run("values larger than a page are rejected", func(t *testing.T) {
		_, err := ToByteSlice(record{Id: 1, Name: string(make([]byte, disk.PAGE_SIZE))})
		assert.Error(t, err)
	})
}
