package vault

import "fmt"

// CipherCombo selects the pair of algorithms used for filenames and file
// bodies, per spec.md §3.
type CipherCombo uint8

const (
	// CipherComboSIVGCM is the current Cryptomator default: AES-SIV for
	// names, AES-256-GCM for file bodies.
	CipherComboSIVGCM CipherCombo = iota
	// CipherComboSIVCTRMAC is the legacy combo: AES-SIV for names,
	// AES-CTR + HMAC-SHA256 for file bodies.
	CipherComboSIVCTRMAC
)

func (c CipherCombo) String() string {
	switch c {
	case CipherComboSIVGCM:
		return "SIV_GCM"
	case CipherComboSIVCTRMAC:
		return "SIV_CTRMAC"
	default:
		return "unknown"
	}
}

// ParseCipherCombo parses the JSON-serialized cipherCombo claim.
func ParseCipherCombo(s string) (CipherCombo, error) {
	switch s {
	case "SIV_GCM":
		return CipherComboSIVGCM, nil
	case "SIV_CTRMAC":
		return CipherComboSIVCTRMAC, nil
	default:
		return 0, fmt.Errorf("%w: cipherCombo %q", ErrUnsupportedVaultFormat, s)
	}
}

// VaultFormat is the only supported `format` claim value (spec.md §3).
const VaultFormat = 8

// DefaultShorteningThreshold is the ciphertext-name length above which an
// entry is stored as a shortened .c9s directory (spec.md §3).
const DefaultShorteningThreshold = 220

// DirId identifies a logical directory. The root directory is DirId("").
// Every other directory is assigned a random UUID at creation time.
type DirId string

// IsRoot reports whether id names the vault root.
func (id DirId) IsRoot() bool { return id == "" }

// EntryType classifies a directory entry.
type EntryType uint8

const (
	EntryUnknown EntryType = iota
	EntryFile
	EntryDirectory
	EntrySymlink
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDirectory:
		return "directory"
	case EntrySymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileInfo describes a file entry returned by find_file / list_files.
type FileInfo struct {
	Name          string
	EncryptedSize int64
}

// DirInfo describes a directory entry returned by find_directory / list_directories.
type DirInfo struct {
	Name string
	ID   DirId
}

// SymlinkInfo describes a symlink entry returned by find_symlink / list_symlinks.
type SymlinkInfo struct {
	Name   string
	Target string
}

// DirEntry is the unified tagged accessor returned by GetEntry.
type DirEntry struct {
	Type      EntryType
	File      *FileInfo
	Directory *DirInfo
	Symlink   *SymlinkInfo
}

// Config configures a Vault's cryptographic and operational parameters.
// The passphrase is passed to Create/Open separately; every field here has
// a default when left zero.
type Config struct {
	// ShorteningThreshold overrides DefaultShorteningThreshold (0 = default).
	ShorteningThreshold int

	// CipherCombo selects the file-body cipher combo for newly created
	// vaults; ignored when opening an existing vault (the combo is read
	// from vault.cryptomator).
	CipherCombo CipherCombo

	// KDF selects the passphrase key-derivation function used to wrap the
	// master key. Defaults to scrypt per spec.md §4.1.
	KDF KeyDeriver

	// Parallel controls concurrent chunk en/decryption (see parallel.go).
	Parallel ParallelConfig
}

// Validate checks the configuration, filling in spec-mandated defaults.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.ShorteningThreshold < 0 {
		return NewValidationError("ShorteningThreshold", c.ShorteningThreshold, "must not be negative")
	}
	if c.ShorteningThreshold == 0 {
		c.ShorteningThreshold = DefaultShorteningThreshold
	}
	if c.CipherCombo != CipherComboSIVGCM && c.CipherCombo != CipherComboSIVCTRMAC {
		c.CipherCombo = CipherComboSIVGCM
	}
	if c.KDF == nil {
		c.KDF = NewScryptDeriver(DefaultScryptParams())
	}
	if err := c.Parallel.Validate(); err != nil {
		return err
	}
	return nil
}
