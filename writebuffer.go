package vault

import "sync"

// WriteBuffer materializes random-access writes to a file entirely in
// memory and flushes a whole new ciphertext body on demand (spec.md §4.7):
// AEAD chunk AAD binds to (index, header_nonce), so mutating one chunk in
// place would mean re-encrypting every later chunk under the same content
// key and reusing its nonce, which this format forbids. A rewrite of the
// whole body is the only safe way to apply an overlapping write.
type WriteBuffer struct {
	mu sync.Mutex

	v        *Vault
	dirID    DirId
	filename string
	bodyPath string

	data  []byte
	dirty bool
}

// NewWriteBuffer seeds a buffer from an existing file's plaintext (or an
// empty vector for create/truncate-to-zero).
func (v *Vault) NewWriteBuffer(dirID DirId, filename, bodyPath string, existing []byte) *WriteBuffer {
	data := append([]byte(nil), existing...)
	return &WriteBuffer{v: v, dirID: dirID, filename: filename, bodyPath: bodyPath, data: data}
}

// growTo extends b.data to at least n bytes, zero-filling the gap, using a
// 1.5x geometric strategy so repeated small appends don't reallocate every
// call.
func (b *WriteBuffer) growTo(n int) {
	if n <= len(b.data) {
		return
	}
	if cap(b.data) < n {
		newCap := cap(b.data) + cap(b.data)/2
		if newCap < n {
			newCap = n
		}
		grown := make([]byte, len(b.data), newCap)
		copy(grown, b.data)
		b.data = grown
	}
	old := len(b.data)
	b.data = b.data[:n]
	for i := old; i < n; i++ {
		b.data[i] = 0
	}
}

// Write copies data into the buffer at offset, zero-filling any gap between
// the current length and offset, and marks the buffer dirty.
func (b *WriteBuffer) Write(offset int64, data []byte) (int, error) {
	if err := ValidateOffset(offset, "offset"); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	end := offset + int64(len(data))
	b.growTo(int(end))
	copy(b.data[offset:end], data)
	b.dirty = true
	return len(data), nil
}

// Read returns the buffered slice [offset, offset+length), clamped to the
// buffer's current length.
func (b *WriteBuffer) Read(offset int64, length int) ([]byte, error) {
	if err := ValidateOffset(offset, "offset"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset >= int64(len(b.data)) || length <= 0 {
		return []byte{}, nil
	}
	end := offset + int64(length)
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	out := make([]byte, end-offset)
	copy(out, b.data[offset:end])
	return out, nil
}

// Truncate resizes the buffer, zero-extending if size grows, and marks it
// dirty unless size leaves the length unchanged.
func (b *WriteBuffer) Truncate(size int64) error {
	if err := ValidateOffset(size, "size"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if int64(len(b.data)) == size {
		return nil
	}
	if size > int64(len(b.data)) {
		b.growTo(int(size))
	} else {
		b.data = b.data[:size]
	}
	b.dirty = true
	return nil
}

// Size returns the buffer's current logical length.
func (b *WriteBuffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data))
}

// Dirty reports whether the buffer has unflushed writes.
func (b *WriteBuffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Flush hands the buffer's current contents to the body codec for a full
// rewrite of bodyPath. The buffered data is kept after the write-back and
// only the dirty flag is cleared, and only on success, so a failed flush
// leaves the buffer exactly as it was, safe to retry.
func (b *WriteBuffer) Flush() error {
	b.mu.Lock()
	if !b.dirty {
		b.mu.Unlock()
		return nil
	}
	taken := b.data
	b.mu.Unlock()

	if _, err := b.v.writeEncryptedFile(b.bodyPath, taken); err != nil {
		return err // buffer untouched; caller may retry Flush
	}

	b.mu.Lock()
	b.dirty = false
	b.mu.Unlock()
	return nil
}
