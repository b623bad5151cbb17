package client

import "sync"

// pendingTable maps correlation ids to unresolved futures. Whoever removes
// an entry owns resolving it, which makes resolution happen exactly once.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint32]*Future
	next    uint32
	err     error // set once the table is drained; add fails afterwards
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint32]*Future)}
}

// add assigns f a fresh non-zero id that is not in use and stores it. Zero is
// reserved for the handshake.
func (t *pendingTable) add(f *Future) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return 0, t.err
	}
	for {
		t.next++
		if t.next == 0 {
			continue
		}
		if _, taken := t.entries[t.next]; !taken {
			break
		}
	}
	f.id = t.next
	t.entries[f.id] = f
	return f.id, nil
}

// take removes and returns the entry for id, or nil for an orphan.
func (t *pendingTable) take(id uint32) *Future {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	return f
}

// takeIf removes id only while it still maps to f, so a stale timer cannot
// remove a later future that reused the id.
func (t *pendingTable) takeIf(id uint32, f *Future) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[id] != f {
		return false
	}
	delete(t.entries, id)
	return true
}

// drain empties the table and makes every later add fail with err.
func (t *pendingTable) drain(err error) []*Future {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
	out := make([]*Future, 0, len(t.entries))
	for id, f := range t.entries {
		out = append(out, f)
		delete(t.entries, id)
	}
	return out
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
