package vault

import "fmt"

// Input validation helpers shared across the codec, name, and vault-op
// layers.

// ValidateBuffer checks that buf is non-nil and at least minSize bytes.
func ValidateBuffer(buf []byte, name string, minSize int) error {
	if buf == nil {
		return NewValidationError(name, nil, "buffer cannot be nil")
	}
	if minSize > 0 && len(buf) < minSize {
		return NewValidationError(name, len(buf), fmt.Sprintf("buffer too small: need at least %d bytes", minSize))
	}
	return nil
}

// ValidateOffset checks that offset is non-negative.
func ValidateOffset(offset int64, name string) error {
	if offset < 0 {
		return NewValidationError(name, offset, "offset cannot be negative")
	}
	return nil
}

// ValidateSize checks that size falls within [minSize, maxSize]; maxSize
// of 0 means unbounded.
func ValidateSize(size int, name string, minSize, maxSize int) error {
	if size < 0 {
		return NewValidationError(name, size, "size cannot be negative")
	}
	if minSize >= 0 && size < minSize {
		return NewValidationError(name, size, fmt.Sprintf("size too small: minimum is %d", minSize))
	}
	if maxSize > 0 && size > maxSize {
		return NewValidationError(name, size, fmt.Sprintf("size too large: maximum is %d", maxSize))
	}
	return nil
}

// ValidateKey checks that key has exactly expectedSize bytes.
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return NewValidationError("key", nil, "key cannot be nil")
	}
	if len(key) != expectedSize {
		return NewValidationError("key", len(key), fmt.Sprintf("invalid key size: expected %d bytes", expectedSize))
	}
	return nil
}

// ValidateChunkIndex checks that index does not exceed maxIndex.
func ValidateChunkIndex(index, maxIndex uint64, context string) error {
	if index > maxIndex {
		return NewValidationError("chunk_index", index, fmt.Sprintf("%s: chunk index exceeds maximum %d", context, maxIndex))
	}
	return nil
}

// ValidatePathComponent checks that a single logical path segment (not a
// full path) is non-empty and not a directory-traversal token.
func ValidatePathComponent(name string) error {
	if name == "" {
		return NewValidationError("name", name, "path component cannot be empty")
	}
	if name == "." || name == ".." {
		return NewValidationError("name", name, "path component cannot be . or ..")
	}
	return nil
}

// ValidateReadWrite checks common preconditions for read/write operations.
func ValidateReadWrite(buf []byte, position int64) error {
	if buf == nil {
		return NewValidationError("buffer", nil, "buffer cannot be nil")
	}
	if position < 0 {
		return NewValidationError("position", position, "offset cannot be negative")
	}
	return nil
}
