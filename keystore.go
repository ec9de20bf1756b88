package vault

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"hash"
	"os"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

// MasterKeySize is the size, in bytes, of each of the master key's two
// independent 256-bit keys (spec.md §3).
const MasterKeySize = 32

// KeyDeriver turns a passphrase and salt into a key-encryption key. The
// default is scrypt (spec.md §4.1); Argon2id and PBKDF2 remain available
// for callers migrating from the teacher library's KeyProvider, following
// the same multi-KDF shape as key_provider.go.
type KeyDeriver interface {
	// Derive derives a dkLen-byte key-encryption key from passphrase and salt.
	Derive(passphrase []byte, salt []byte, dkLen int) ([]byte, error)
}

// ScryptParams mirrors the scryptSalt/scryptCostParam/scryptBlockSize
// fields persisted in masterkey.cryptomator.
type ScryptParams struct {
	N         int // CPU/memory cost parameter, must be a power of two
	R         int // block size parameter
	P         int // parallelization parameter
	SaltSize  int
	Pepper    []byte // optional, concatenated to the salt before derivation
	FastMode  bool   // test-only marker set by FastScryptParamsForTests; Derive does not read it
}

// DefaultScryptParams returns the spec-mandated N=2^15, r=8, p=1.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: 1 << 15, R: 8, P: 1, SaltSize: 32}
}

// FastScryptParamsForTests returns parameters cheap enough for unit tests;
// never select this outside of tests (spec.md §4.1: "selectable at build
// time only for tests").
func FastScryptParamsForTests() ScryptParams {
	p := DefaultScryptParams()
	p.N = 1 << 10
	p.FastMode = true
	return p
}

type scryptDeriver struct{ params ScryptParams }

// NewScryptDeriver builds the spec-mandated passphrase KDF.
func NewScryptDeriver(params ScryptParams) KeyDeriver {
	if params.N == 0 {
		params = DefaultScryptParams()
	}
	return &scryptDeriver{params: params}
}

func (d *scryptDeriver) Derive(passphrase, salt []byte, dkLen int) ([]byte, error) {
	normalized := norm.NFC.Bytes(passphrase)
	saltedInput := append(append([]byte(nil), salt...), d.params.Pepper...)
	return scrypt.Key(normalized, saltedInput, d.params.N, d.params.R, d.params.P, dkLen)
}

// Argon2idParams mirrors the teacher's Argon2idParams (types.go), kept as
// an alternate KDF behind the same interface.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

type argon2Deriver struct{ params Argon2idParams }

// NewArgon2idDeriver builds an Argon2id-backed KeyDeriver.
func NewArgon2idDeriver(params Argon2idParams) KeyDeriver {
	if params.Memory == 0 {
		params.Memory = 64 * 1024
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	return &argon2Deriver{params: params}
}

func (d *argon2Deriver) Derive(passphrase, salt []byte, dkLen int) ([]byte, error) {
	normalized := norm.NFC.Bytes(passphrase)
	key := argon2.IDKey(normalized, salt, d.params.Iterations, d.params.Memory, d.params.Parallelism, uint32(dkLen))
	return key, nil
}

// PBKDF2HashFunc selects the HMAC hash used by a PBKDF2Deriver.
type PBKDF2HashFunc uint8

const (
	PBKDF2SHA256 PBKDF2HashFunc = iota
	PBKDF2SHA512
)

type pbkdf2Deriver struct {
	iterations int
	hashFunc   PBKDF2HashFunc
}

// NewPBKDF2Deriver builds a PBKDF2-backed KeyDeriver, kept for callers that
// need FIPS-approved derivation over scrypt's memory-hardness.
func NewPBKDF2Deriver(iterations int, hashFunc PBKDF2HashFunc) KeyDeriver {
	if iterations == 0 {
		iterations = 100_000
	}
	return &pbkdf2Deriver{iterations: iterations, hashFunc: hashFunc}
}

func (d *pbkdf2Deriver) Derive(passphrase, salt []byte, dkLen int) ([]byte, error) {
	var h func() hash.Hash
	switch d.hashFunc {
	case PBKDF2SHA256:
		h = sha256.New
	case PBKDF2SHA512:
		h = sha512.New
	default:
		return nil, fmt.Errorf("unsupported PBKDF2 hash function: %v", d.hashFunc)
	}
	normalized := norm.NFC.Bytes(passphrase)
	return pbkdf2.Key(normalized, salt, d.iterations, dkLen, h), nil
}

// MasterKey is the vault's pair of independent keys. It is never exposed
// as raw bytes outside WithKey: callers get a scoped, immutable borrow
// that is valid only for the duration of the closure, mirroring how the
// teacher keeps all key material behind KeyProvider.DeriveKey rather than
// a public accessor.
type MasterKey struct {
	encryptKey []byte
	macKey     []byte
}

// NewMasterKey generates a fresh, CSPRNG-seeded master key (vault init).
func NewMasterKey() (MasterKey, error) {
	enc := make([]byte, MasterKeySize)
	mac := make([]byte, MasterKeySize)
	if _, err := rand.Read(enc); err != nil {
		return MasterKey{}, fmt.Errorf("generating encryption key: %w", err)
	}
	if _, err := rand.Read(mac); err != nil {
		return MasterKey{}, fmt.Errorf("generating mac key: %w", err)
	}
	return MasterKey{encryptKey: enc, macKey: mac}, nil
}

// KeyAccess is the immutable borrow handed to a WithKey closure. It is
// only valid for the lifetime of the call; storing it past return is a
// programming error with no enforcement beyond documentation, matching
// the scoped-access contract in spec.md §3.
type KeyAccess struct {
	EncryptKey []byte
	MacKey     []byte
}

// sivKey is the concatenation rclone's cryptomator backend feeds to
// miscreant's AES-SIV constructor: MAC half first, then encryption half.
func (a KeyAccess) sivKey() []byte {
	return append(append([]byte(nil), a.MacKey...), a.EncryptKey...)
}

// jwtKey is the concatenation used to HMAC-sign vault.cryptomator: encrypt
// half first, then MAC half (rclone's masterKey.jwtKey).
func (a KeyAccess) jwtKey() []byte {
	return append(append([]byte(nil), a.EncryptKey...), a.MacKey...)
}

// WithKey invokes fn with a scoped borrow of the master key. This is the
// only way to read key material: there is no accessor that returns the
// raw bytes to the caller.
func (m *MasterKey) WithKey(fn func(KeyAccess) error) error {
	return fn(KeyAccess{EncryptKey: m.encryptKey, MacKey: m.macKey})
}

// Zero overwrites the key material in place. Called when a MasterKey is
// dropped (spec.md §3 lifecycle: "zeroed on drop").
func (m *MasterKey) Zero() {
	zeroBytes(m.encryptKey)
	zeroBytes(m.macKey)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// encryptedMasterKey is the JSON shape of masterkey.cryptomator.
type encryptedMasterKey struct {
	ScryptSalt      []byte `json:"scryptSalt"`
	ScryptCostParam int    `json:"scryptCostParam"`
	ScryptBlockSize int    `json:"scryptBlockSize"`
	PrimaryMasterKey []byte `json:"primaryMasterKey"`
	HmacMasterKey    []byte `json:"hmacMasterKey"`
	Version          uint32 `json:"version"`
	VersionMac       []byte `json:"versionMac"`
}

// wrapMasterKey wraps m under a KEK derived from passphrase via deriver,
// producing the JSON-serializable shape persisted to disk.
func wrapMasterKey(m MasterKey, passphrase []byte, deriver KeyDeriver, params ScryptParams) (*encryptedMasterKey, error) {
	if params.SaltSize == 0 {
		params = DefaultScryptParams()
	}
	salt := make([]byte, params.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating scrypt salt: %w", err)
	}
	kek, err := deriver.Derive(passphrase, salt, MasterKeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key-encryption key: %w", err)
	}
	kekCipher, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("building key-wrap cipher: %w", err)
	}

	wrappedEnc, err := keywrap.Wrap(kekCipher, m.encryptKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping encryption key: %w", err)
	}
	wrappedMac, err := keywrap.Wrap(kekCipher, m.macKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping mac key: %w", err)
	}

	out := &encryptedMasterKey{
		ScryptSalt:       salt,
		ScryptCostParam:  params.N,
		ScryptBlockSize:  params.R,
		PrimaryMasterKey: wrappedEnc,
		HmacMasterKey:    wrappedMac,
		Version:          MasterDefaultVersion,
	}
	out.VersionMac = versionMAC(out.Version, m.macKey)
	return out, nil
}

// MasterDefaultVersion is the fixed `version` field in masterkey.cryptomator
// (spec.md §6); format 8 vaults no longer interpret it beyond this check.
const MasterDefaultVersion = 999

// unwrapMasterKey reverses wrapMasterKey. A wrong passphrase surfaces as
// ErrWrongPassphrase (the key-wrap integrity check block mismatching),
// never as a generic decode error — this is the sole signal spec.md §8
// scenario 6 relies on. Once the keys unwrap, versionMac is re-derived
// from the recovered MAC key and compared against the stored value; a
// mismatch means the version field was tampered with after wrapping, and
// is reported as a *VersionIntegrityError rather than folded into
// ErrWrongPassphrase, since the passphrase itself was correct.
func unwrapMasterKey(enc *encryptedMasterKey, passphrase []byte, deriver KeyDeriver) (MasterKey, error) {
	kek, err := deriver.Derive(passphrase, enc.ScryptSalt, MasterKeySize)
	if err != nil {
		return MasterKey{}, fmt.Errorf("deriving key-encryption key: %w", err)
	}
	kekCipher, err := aes.NewCipher(kek)
	if err != nil {
		return MasterKey{}, fmt.Errorf("building key-wrap cipher: %w", err)
	}

	encKey, err := keywrap.Unwrap(kekCipher, enc.PrimaryMasterKey)
	if err != nil {
		return MasterKey{}, ErrWrongPassphrase
	}
	macKey, err := keywrap.Unwrap(kekCipher, enc.HmacMasterKey)
	if err != nil {
		return MasterKey{}, ErrWrongPassphrase
	}

	if !hmac.Equal(versionMAC(enc.Version, macKey), enc.VersionMac) {
		return MasterKey{}, &VersionIntegrityError{}
	}
	return MasterKey{encryptKey: encKey, macKey: macKey}, nil
}

// versionMAC computes HMAC-SHA256(macKey, be32(version)), the integrity
// tag masterkey.cryptomator's versionMac field carries.
func versionMAC(version uint32, macKey []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	versionBE := []byte{byte(version >> 24), byte(version >> 16), byte(version >> 8), byte(version)}
	mac.Write(versionBE)
	return mac.Sum(nil)
}

// writeJSONFile marshals v as indented JSON and writes it to path, used
// for masterkey.cryptomator (spec.md §6).
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return NewIOError("write", path, err)
	}
	return nil
}

// readEncryptedMasterKeyFile reads and parses a masterkey.cryptomator file.
func readEncryptedMasterKeyFile(path string) (*encryptedMasterKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrVaultConfigInvalid
		}
		return nil, NewIOError("read", path, err)
	}
	var enc encryptedMasterKey
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultConfigInvalid, err)
	}
	return &enc, nil
}
