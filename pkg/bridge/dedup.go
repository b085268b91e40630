package bridge

import "sync"

// dedupWindow remembers the most recent sequences seen per origin node so
// exact duplicates redelivered by the broker can be dropped. Eviction is
// FIFO bounded by count, not time, to bound memory.
type dedupWindow struct {
	mu      sync.Mutex
	size    int
	origins map[string]*originWindow
}

type originWindow struct {
	seen map[uint64]struct{}
	fifo []uint64
	next int
}

func newDedupWindow(size int) *dedupWindow {
	return &dedupWindow{
		size:    size,
		origins: make(map[string]*originWindow),
	}
}

// observe records (origin, seq) and reports whether it was already present
func (w *dedupWindow) observe(origin string, seq uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	ow := w.origins[origin]
	if ow == nil {
		ow = &originWindow{seen: make(map[uint64]struct{})}
		w.origins[origin] = ow
	}

	if _, dup := ow.seen[seq]; dup {
		return true
	}

	if len(ow.fifo) < w.size {
		ow.fifo = append(ow.fifo, seq)
	} else {
		evicted := ow.fifo[ow.next]
		delete(ow.seen, evicted)
		ow.fifo[ow.next] = seq
		ow.next = (ow.next + 1) % w.size
	}
	ow.seen[seq] = struct{}{}
	return false
}
