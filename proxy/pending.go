package proxy

import "sync"

// pendingTable maps in-flight call ids to their futures. The call-issuing
// path inserts, the response listener resolves; both run concurrently, so
// every operation holds the mutex. Plain map+mutex rather than sync.Map:
// resolveAll must atomically claim the whole table so that no insert can
// slip in between draining and closing.
type pendingTable struct {
	mu       sync.Mutex
	calls    map[uint64]*Future
	closed   bool
	closeErr error
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint64]*Future)}
}

// insert registers a future under its call id. After resolveAll the table
// is closed and insert fails with the closing error.
func (t *pendingTable) insert(id uint64, f *Future) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return t.closeErr
	}
	t.calls[id] = f
	return nil
}

// remove drops an entry without resolving it. Used when a call envelope
// could not be written after its future was registered.
func (t *pendingTable) remove(id uint64) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

// resolve completes the future registered under id and removes it. Returns
// nil for an unknown or already-resolved id — a protocol violation the
// caller must report.
func (t *pendingTable) resolve(id uint64, payload []byte, err error) *Future {
	t.mu.Lock()
	f, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()
	if !ok || !f.resolve(payload, err) {
		return nil
	}
	return f
}

// resolveAll fails every outstanding future with err and closes the table.
// Returns how many futures were failed. Idempotent.
func (t *pendingTable) resolveAll(err error) int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	t.closed = true
	t.closeErr = err
	claimed := t.calls
	t.calls = nil
	t.mu.Unlock()

	for _, f := range claimed {
		f.resolve(nil, err)
	}
	return len(claimed)
}

// size reports the number of in-flight calls.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
