package util

import (
	"fmt"

	"github.com/jomo/granite/storage/disk"
	"github.com/vmihailenco/msgpack"
)

func ToByteSlice[T any](obj T) ([]byte, error) {
	res := make([]byte, disk.PAGE_SIZE)

	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}
	if len(data) > disk.PAGE_SIZE {
		return nil, fmt.Errorf("encoded page is %d bytes, larger than a page", len(data))
	}
	copy(res, data)

	return res, nil
}

func ToStruct[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
