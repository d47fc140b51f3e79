package buffer

const INVALID_FRAME_ID = -1

type lrukNode struct {
	frameId     int
	k           int
	history     []int64
	isEvictable bool
}

func (n *lrukNode) hasKAccess() bool {
	return len(n.history) >= n.k
}

// kthAccess is the frame's K-th most recent access once the history is
// full, and its first-ever access while it is still short of K entries.
func (n *lrukNode) kthAccess() int64 {
	if len(n.history) > 0 {
		return n.history[0]
	}

	return -1
}

func (n *lrukNode) addTimestamp(timestamp int64) {
	if len(n.history) < n.k {
		n.history = append(n.history, timestamp)
		return
	}

	n.history = n.history[1:]
	n.history = append(n.history, timestamp)
}
