package index

// GetKeyRange collects the values for keys in [start, stop].
func (b *BplusTree[K, V]) GetKeyRange(start, stop K) ([]V, error) {
	iter, err := b.BeginAt(start)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	res := []V{}
	for !iter.IsEnd() {
		key, val, err := iter.Next()
		if err != nil {
			return res, err
		}

		if b.cmp(key, stop) > 0 {
			break
		}
		res = append(res, val)
	}

	return res, nil
}

func (b *BplusTree[K, V]) BatchInsert(keys []K, values []V) error {
	for i, k := range keys {
		if _, err := b.Insert(k, values[i]); err != nil {
			return err
		}
	}

	return nil
}

func (b *BplusTree[K, V]) IsEmpty() bool {
	return b.isEmpty()
}
