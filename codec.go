package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
)

// ChunkPayloadSize is the fixed plaintext size of every chunk but the
// last (spec.md §3): 32 KiB.
const ChunkPayloadSize = 32 * 1024

const (
	// HeaderContentKeySize is the size of the per-file content key carried,
	// encrypted, inside the file header.
	HeaderContentKeySize = 32
	// HeaderReservedSize is the size of the header's reserved field.
	HeaderReservedSize = 8
	// HeaderPayloadSize is Reserved||ContentKey before header encryption.
	HeaderPayloadSize = HeaderReservedSize + HeaderContentKeySize
	// HeaderReservedValue is the all-ones value newFileHeader writes into
	// the header's reserved field; unmarshalHeader does not check it.
	HeaderReservedValue uint64 = 0xFFFFFFFFFFFFFFFF
)

// bodyEngine performs the body AEAD for one cipher combo: encrypting and
// decrypting both the file header and the 32 KiB content chunks built on
// top of it share the same primitive, following rclone's cryptomator
// backend (cryptor.go/header.go).
type bodyEngine interface {
	NonceSize() int
	TagSize() int
	// EncryptChunk seals payload under nonce, appending nonce to the front
	// of the returned ciphertext.
	EncryptChunk(payload, nonce, aad []byte) []byte
	// DecryptChunk opens a chunk previously produced by EncryptChunk.
	DecryptChunk(chunk, aad []byte) ([]byte, error)
	// chunkAAD builds the additional authenticated data binding a chunk
	// to its file (via the header nonce) and its position (via index).
	chunkAAD(headerNonce []byte, chunkIndex uint64) []byte
}

func newBodyEngine(combo CipherCombo, encryptKey, macKey []byte) (bodyEngine, error) {
	block, err := aes.NewCipher(encryptKey)
	if err != nil {
		return nil, fmt.Errorf("building content cipher: %w", err)
	}
	switch combo {
	case CipherComboSIVGCM:
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("building gcm content cipher: %w", err)
		}
		return &gcmEngine{aead: aead}, nil
	case CipherComboSIVCTRMAC:
		return &ctrMacEngine{block: block, macKey: macKey}, nil
	default:
		return nil, fmt.Errorf("%w: cipher combo %v", ErrUnsupportedVaultFormat, combo)
	}
}

type gcmEngine struct{ aead cipher.AEAD }

func (e *gcmEngine) NonceSize() int { return 12 }
func (e *gcmEngine) TagSize() int   { return 16 }

func (e *gcmEngine) EncryptChunk(payload, nonce, aad []byte) []byte {
	var buf bytes.Buffer
	buf.Write(nonce)
	buf.Write(e.aead.Seal(nil, nonce, payload, aad))
	return buf.Bytes()
}

func (e *gcmEngine) DecryptChunk(chunk, aad []byte) ([]byte, error) {
	if len(chunk) < e.NonceSize() {
		return nil, fmt.Errorf("chunk shorter than nonce")
	}
	nonce := chunk[:e.NonceSize()]
	plaintext, err := e.aead.Open(nil, nonce, chunk[e.NonceSize():], aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// chunkAAD for SIV_GCM is chunk_index_be64 || header_nonce (spec.md §3).
func (e *gcmEngine) chunkAAD(headerNonce []byte, chunkIndex uint64) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, chunkIndex)
	buf.Write(headerNonce)
	return buf.Bytes()
}

type ctrMacEngine struct {
	block  cipher.Block
	macKey []byte
}

func (e *ctrMacEngine) NonceSize() int { return 16 }
func (e *ctrMacEngine) TagSize() int   { return 32 }

func (e *ctrMacEngine) newHMAC() hash.Hash { return hmac.New(sha256.New, e.macKey) }

func (e *ctrMacEngine) EncryptChunk(payload, nonce, aad []byte) []byte {
	ciphertext := make([]byte, len(payload))
	cipher.NewCTR(e.block, nonce).XORKeyStream(ciphertext, payload)

	var buf bytes.Buffer
	buf.Write(nonce)
	buf.Write(ciphertext)

	mac := e.newHMAC()
	mac.Write(aad)
	mac.Write(buf.Bytes())

	buf.Write(mac.Sum(nil))
	return buf.Bytes()
}

func (e *ctrMacEngine) DecryptChunk(chunk, aad []byte) ([]byte, error) {
	if len(chunk) < e.NonceSize()+e.TagSize() {
		return nil, fmt.Errorf("chunk shorter than nonce+tag")
	}
	tagStart := len(chunk) - e.TagSize()
	tag := chunk[tagStart:]
	body := chunk[:tagStart]

	mac := e.newHMAC()
	mac.Write(aad)
	mac.Write(body)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, ErrAuthFailed
	}

	nonce := body[:e.NonceSize()]
	ciphertext := body[e.NonceSize():]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(e.block, nonce).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// chunkAAD for SIV_CTRMAC is header_nonce || chunk_index_be64 (spec.md §3,
// the reverse order from SIV_GCM).
func (e *ctrMacEngine) chunkAAD(headerNonce []byte, chunkIndex uint64) []byte {
	var buf bytes.Buffer
	buf.Write(headerNonce)
	_ = binary.Write(&buf, binary.BigEndian, chunkIndex)
	return buf.Bytes()
}

// FileHeader is the per-file header: a random nonce, a reserved sentinel
// field, and the content key used for every chunk in the file.
type FileHeader struct {
	Nonce      []byte
	Reserved   []byte
	ContentKey []byte
}

func newFileHeader(e bodyEngine) (FileHeader, error) {
	h := FileHeader{
		Nonce:      make([]byte, e.NonceSize()),
		Reserved:   make([]byte, HeaderReservedSize),
		ContentKey: make([]byte, HeaderContentKeySize),
	}
	if _, err := rand.Read(h.Nonce); err != nil {
		return FileHeader{}, fmt.Errorf("generating header nonce: %w", err)
	}
	if _, err := rand.Read(h.ContentKey); err != nil {
		return FileHeader{}, fmt.Errorf("generating content key: %w", err)
	}
	binary.BigEndian.PutUint64(h.Reserved, HeaderReservedValue)
	return h, nil
}

// headerSize is the wire size of an encrypted header for the given engine:
// 68 bytes for SIV_GCM (12 + 40 + 16), 88 for SIV_CTRMAC (16 + 40 + 32).
func headerSize(e bodyEngine) int {
	return e.NonceSize() + HeaderPayloadSize + e.TagSize()
}

func marshalHeader(e bodyEngine, h FileHeader, w io.Writer) error {
	if len(h.Reserved) != HeaderReservedSize || len(h.ContentKey) != HeaderContentKeySize {
		return fmt.Errorf("malformed file header")
	}
	payload := make([]byte, 0, HeaderPayloadSize)
	payload = append(payload, h.Reserved...)
	payload = append(payload, h.ContentKey...)
	encrypted := e.EncryptChunk(payload, h.Nonce, nil)
	_, err := w.Write(encrypted)
	return err
}

func unmarshalHeader(e bodyEngine, r io.Reader) (FileHeader, error) {
	raw := make([]byte, headerSize(e))
	if _, err := io.ReadFull(r, raw); err != nil {
		return FileHeader{}, fmt.Errorf("%w", NewIOError("read_header", "", err))
	}
	nonce := append([]byte(nil), raw[:e.NonceSize()]...)
	payload, err := e.DecryptChunk(raw, nil)
	if err != nil {
		return FileHeader{}, &HeaderIntegrityError{Err: err}
	}
	if len(payload) != HeaderPayloadSize {
		return FileHeader{}, &HeaderIntegrityError{Err: fmt.Errorf("unexpected header payload size %d", len(payload))}
	}
	// The reserved field is intentionally not validated here (spec.md §4.1,
	// §7): whatever is present is accepted and carried forward, so a future
	// format revision can repurpose these bytes without breaking readers.
	reserved := payload[:HeaderReservedSize]
	return FileHeader{
		Nonce:      nonce,
		Reserved:   append([]byte(nil), reserved...),
		ContentKey: append([]byte(nil), payload[HeaderReservedSize:]...),
	}, nil
}

// encryptChunkAt encrypts the chunkIndex'th plaintext chunk of a file.
// contentKey comes from the file's header; masterMacKey is the vault's
// own MacKey, which SIV_CTRMAC uses directly for chunk HMACs rather than
// a per-file derivative (matching rclone's ctrMacCryptor).
func encryptChunkAt(combo CipherCombo, contentKey, masterMacKey, headerNonce, plaintext []byte, chunkIndex uint64) ([]byte, error) {
	e, err := newBodyEngine(combo, contentKey, masterMacKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, e.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating chunk nonce: %w", err)
	}
	aad := e.chunkAAD(headerNonce, chunkIndex)
	return e.EncryptChunk(plaintext, nonce, aad), nil
}

// decryptChunkAt decrypts one on-disk chunk, returning a *ContentIntegrityError
// on authentication failure so callers never mistake tampering for a
// generic I/O error.
func decryptChunkAt(combo CipherCombo, contentKey, masterMacKey, headerNonce, chunk []byte, chunkIndex uint64) ([]byte, error) {
	e, err := newBodyEngine(combo, contentKey, masterMacKey)
	if err != nil {
		return nil, err
	}
	aad := e.chunkAAD(headerNonce, chunkIndex)
	plaintext, err := e.DecryptChunk(chunk, aad)
	if err != nil {
		return nil, &ContentIntegrityError{ChunkIdx: chunkIndex, Err: err}
	}
	return plaintext, nil
}

// chunkWireSize returns the on-disk size of a chunk carrying plaintextLen
// bytes of payload for the given combo.
func chunkWireSize(combo CipherCombo, plaintextLen int) (int, error) {
	e, err := newBodyEngine(combo, make([]byte, 32), make([]byte, 32))
	if err != nil {
		return 0, err
	}
	return e.NonceSize() + plaintextLen + e.TagSize(), nil
}
