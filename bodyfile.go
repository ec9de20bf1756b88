package vault

import (
	"bufio"
	"io"
	"os"
)

// chunkOverhead returns the per-chunk nonce+tag overhead for combo.
func chunkOverhead(combo CipherCombo) (int, error) {
	e, err := newBodyEngine(combo, make([]byte, 32), make([]byte, 32))
	if err != nil {
		return 0, err
	}
	return e.NonceSize() + e.TagSize(), nil
}

// plaintextSizeForCiphertext inverts the size formula of spec.md §3, given
// the on-disk ciphertext size of a whole file (header + chunks).
func plaintextSizeForCiphertext(combo CipherCombo, ciphertextSize int64) (int64, error) {
	hdrSize, err := headerSizeFor(combo)
	if err != nil {
		return 0, err
	}
	overhead, err := chunkOverhead(combo)
	if err != nil {
		return 0, err
	}
	body := ciphertextSize - int64(hdrSize)
	if body < int64(overhead) {
		return 0, &HeaderIntegrityError{Err: io.ErrUnexpectedEOF}
	}
	fullChunks := body / int64(ChunkPayloadSize+overhead)
	rem := body - fullChunks*int64(ChunkPayloadSize+overhead)
	if rem == 0 {
		// The remainder is a perfect multiple of full chunks; the last
		// chunk present is a full one, not an extra empty chunk.
		return fullChunks * ChunkPayloadSize, nil
	}
	return fullChunks*ChunkPayloadSize + (rem - int64(overhead)), nil
}

func headerSizeFor(combo CipherCombo) (int, error) {
	e, err := newBodyEngine(combo, make([]byte, 32), make([]byte, 32))
	if err != nil {
		return 0, err
	}
	return headerSize(e), nil
}

// readEncryptedFile decrypts an entire on-disk ciphertext file (header plus
// every chunk) into a single plaintext buffer. Used for small bodies —
// symlink targets and, via vault ops, whole-file reads that don't need the
// random-access windowing stream.go provides.
func (v *Vault) readEncryptedFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, NewIOError("open", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var macKey []byte
	if err := v.withAccess(func(access KeyAccess) error {
		macKey = access.MacKey
		return nil
	}); err != nil {
		return nil, err
	}
	engine, err := newBodyEngine(v.combo, make([]byte, 32), macKey)
	if err != nil {
		return nil, err
	}

	header, err := unmarshalHeader(engine, r)
	if err != nil {
		return nil, err
	}

	chunkOv, err := chunkOverhead(v.combo)
	if err != nil {
		return nil, err
	}

	// Disk reads are inherently sequential, so every raw ciphertext chunk
	// is pulled off the wire first; the AEAD opening of each chunk is
	// independent of every other and is the part worth handing to the
	// worker pool (spec.md §5's "CPU-bound cryptographic steps run on a
	// worker pool").
	var jobs []*chunkCodecJob
	chunkBuf := make([]byte, ChunkPayloadSize+chunkOv)
	for idx := uint64(0); ; idx++ {
		n, readErr := io.ReadFull(r, chunkBuf)
		if n == 0 && readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return nil, NewIOErrorAt("read_chunk", path, int64(idx), readErr)
		}
		raw := make([]byte, n)
		copy(raw, chunkBuf[:n])
		jobs = append(jobs, &chunkCodecJob{index: idx, ciphertext: raw})
		if readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	decrypt := func(j *chunkCodecJob) error {
		plaintext, err := decryptChunkAt(v.combo, header.ContentKey, macKey, header.Nonce, j.ciphertext, j.index)
		if err != nil {
			v.stats.recordIntegrityFailure()
			return err
		}
		j.plaintext = plaintext
		v.stats.recordChunkRead()
		return nil
	}
	if err := runChunkJobs(v.cfg.Parallel, jobs, decrypt); err != nil {
		return nil, err
	}

	var out []byte
	for _, j := range jobs {
		out = append(out, j.plaintext...)
	}
	return out, nil
}

// writeEncryptedFile atomically (from the codec's point of view — callers
// handle the temp+rename dance at the vault-op layer) writes plaintext as a
// fresh header plus one or more 32 KiB chunks, per spec.md §3: an empty
// plaintext still writes exactly one empty authenticated chunk.
func (v *Vault) writeEncryptedFile(path string, plaintext []byte) (ciphertextSize int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, NewIOError("create", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var macKey []byte
	if err := v.withAccess(func(access KeyAccess) error {
		macKey = access.MacKey
		return nil
	}); err != nil {
		return 0, err
	}
	engine, err := newBodyEngine(v.combo, make([]byte, 32), macKey)
	if err != nil {
		return 0, err
	}

	header, err := newFileHeader(engine)
	if err != nil {
		return 0, err
	}
	if err := marshalHeader(engine, header, w); err != nil {
		return 0, NewIOError("write_header", path, err)
	}
	written := int64(headerSize(engine))

	// The chunk split is computed up front so the (independent,
	// CPU-bound) encryption of each chunk can run on the worker pool;
	// only the resulting ciphertexts need to be written out in order.
	var jobs []*chunkCodecJob
	if len(plaintext) == 0 {
		jobs = append(jobs, &chunkCodecJob{index: 0})
	} else {
		for idx, off := uint64(0), 0; off < len(plaintext); idx, off = idx+1, off+ChunkPayloadSize {
			end := off + ChunkPayloadSize
			if end > len(plaintext) {
				end = len(plaintext)
			}
			jobs = append(jobs, &chunkCodecJob{index: idx, plaintext: plaintext[off:end]})
		}
	}

	encrypt := func(j *chunkCodecJob) error {
		ciphertext, err := encryptChunkAt(v.combo, header.ContentKey, macKey, header.Nonce, j.plaintext, j.index)
		if err != nil {
			return err
		}
		j.ciphertext = ciphertext
		return nil
	}
	if err := runChunkJobs(v.cfg.Parallel, jobs, encrypt); err != nil {
		return 0, err
	}

	for _, j := range jobs {
		if _, err := w.Write(j.ciphertext); err != nil {
			return 0, NewIOErrorAt("write_chunk", path, int64(j.index), err)
		}
		written += int64(len(j.ciphertext))
		v.stats.recordChunkWrite()
	}

	if err := w.Flush(); err != nil {
		return 0, NewIOError("flush", path, err)
	}
	if err := f.Sync(); err != nil {
		return 0, NewIOError("fsync", path, err)
	}
	v.stats.recordWrite(len(plaintext))
	return written, nil
}
