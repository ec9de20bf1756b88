package vault

import "sync"

// HandleKind identifies which of the three open-handle shapes a Handle
// wraps (spec.md §4.6).
type HandleKind uint8

const (
	HandleReader HandleKind = iota
	HandleWriter
	HandleWriteBuffer
)

// Handle is one entry of the handle table: exactly one of its payload
// fields is populated, matching HandleKind.
type Handle struct {
	Kind        HandleKind
	Reader      *Reader
	Writer      *Writer
	WriteBuffer *WriteBuffer
	Path        string
}

// HandleTable is a concurrent monotonic-ID map from handle ID to Handle.
// IDs are never reused for the table's lifetime, mirroring the mount
// adapters' fh-style contract (spec.md §4.6) without this package knowing
// anything about any particular mount surface.
type HandleTable struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]Handle
}

// NewHandleTable returns an empty table whose first allocated ID is 1 (0 is
// reserved as "no handle").
func NewHandleTable() *HandleTable {
	return &HandleTable{entries: make(map[uint64]Handle)}
}

// Insert allocates a fresh monotonic ID for h and stores it.
func (t *HandleTable) Insert(h Handle) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := t.next
	t.entries[id] = h
	return id
}

// Get returns the handle for id, if any.
func (t *HandleTable) Get(id uint64) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[id]
	return h, ok
}

// Remove deletes and returns the handle for id, so the caller can Finish,
// Abort, or Flush it outside the table's lock.
func (t *HandleTable) Remove(id uint64) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return h, ok
}

// Len reports the number of currently open handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Release closes the underlying handle per its kind: a Reader is closed, a
// Writer is finished (flushing its trailing chunk), and a WriteBuffer is
// flushed. Called by ReleaseHandle; Vault.Close does not release handles
// that are still open.
func (h Handle) Release() error {
	switch h.Kind {
	case HandleReader:
		if h.Reader != nil {
			return h.Reader.Close()
		}
	case HandleWriter:
		if h.Writer != nil {
			return h.Writer.Finish()
		}
	case HandleWriteBuffer:
		if h.WriteBuffer != nil {
			return h.WriteBuffer.Flush()
		}
	}
	return nil
}
