package vault

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"path"

	"github.com/google/uuid"
)

const (
	c9rSuffix = ".c9r"
	c9sSuffix = ".c9s"

	// dirC9r holds the logical directory's own DirId.
	dirC9r = "dir.c9r"
	// symlinkC9r holds an encrypted symlink target.
	symlinkC9r = "symlink.c9r"
	// dirIDBackupC9r is the directory's own DirId, written inside its own
	// storage path as a recovery aid (spec.md §3).
	dirIDBackupC9r = "dirid.c9r"
	// nameC9s holds the full ciphertext name of a shortened entry.
	nameC9s = "name.c9s"
)

// nameCodec encrypts and decrypts directory IDs and filenames, and derives
// the sharded on-disk storage path for a directory.
type nameCodec struct {
	siv                 *sivCipher
	shorteningThreshold int
}

func newNameCodec(access KeyAccess, shorteningThreshold int) (*nameCodec, error) {
	siv, err := newSIVCipher(access)
	if err != nil {
		return nil, fmt.Errorf("building name cipher: %w", err)
	}
	if shorteningThreshold <= 0 {
		shorteningThreshold = DefaultShorteningThreshold
	}
	return &nameCodec{siv: siv, shorteningThreshold: shorteningThreshold}, nil
}

// NewDirId allocates a fresh random directory identifier (spec.md §3: every
// directory but the root gets a random UUID).
func NewDirId() DirId {
	return DirId(uuid.NewString())
}

// storagePrefix computes the sharded `d/<2>/<30>/` path for a directory ID,
// per spec.md §3: base32(sha1(siv_encrypt(key, aad=[], msg=dir_id))).
func (c *nameCodec) storagePrefix(id DirId) (string, error) {
	ciphertext := c.siv.EncryptDirID([]byte(id))
	sum := sha1.Sum(ciphertext)
	encoded := base32.StdEncoding.EncodeToString(sum[:])
	return path.Join("d", encoded[:2], encoded[2:]), nil
}

// encryptedNameResult is what EncryptName returns: either a plain `.c9r`
// leaf name, or a shortened `.c9s` directory name plus the full ciphertext
// that must be stored in its name.c9s file.
type encryptedNameResult struct {
	// StorageName is the actual directory entry name to create: either
	// "<cipher>.c9r" or "<sha1>.c9s".
	StorageName string
	// Shortened is true when StorageName is a .c9s indirection.
	Shortened bool
	// FullCiphertextName is the unshortened "<cipher>.c9r" name; always
	// populated, since it must be written to name.c9s when Shortened.
	FullCiphertextName string
}

// EncryptName encrypts a logical filename under parentID as AAD, applying
// shortening when the result exceeds the configured threshold (spec.md
// §3, §8: exactly at the threshold is not shortened, one byte over is).
func (c *nameCodec) EncryptName(name string, parentID DirId) (encryptedNameResult, error) {
	ciphertext := c.siv.EncryptName([]byte(name), []byte(parentID))
	encoded := base64.URLEncoding.EncodeToString(ciphertext)
	full := encoded + c9rSuffix

	if len(full) <= c.shorteningThreshold {
		return encryptedNameResult{StorageName: full, FullCiphertextName: full}, nil
	}

	sum := sha1.Sum([]byte(full))
	shortName := base32.StdEncoding.EncodeToString(sum[:]) + c9sSuffix
	return encryptedNameResult{
		StorageName:        shortName,
		Shortened:          true,
		FullCiphertextName: full,
	}, nil
}

// DecryptName reverses EncryptName's ciphertext encoding, given the full
// (never shortened) ciphertext name including its .c9r suffix.
func (c *nameCodec) DecryptName(fullCiphertextName string, parentID DirId) (string, error) {
	encoded, ok := trimSuffix(fullCiphertextName, c9rSuffix)
	if !ok {
		return "", &NameDecryptError{Ciphertext: fullCiphertextName, Err: fmt.Errorf("missing %s suffix", c9rSuffix)}
	}
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", &NameDecryptError{Ciphertext: fullCiphertextName, Err: err}
	}
	plaintext, err := c.siv.DecryptName(raw, []byte(parentID))
	if err != nil {
		return "", &NameDecryptError{Ciphertext: fullCiphertextName, Err: err}
	}
	return string(plaintext), nil
}

func trimSuffix(s, suffix string) (string, bool) {
	if len(s) < len(suffix) || s[len(s)-len(suffix):] != suffix {
		return "", false
	}
	return s[:len(s)-len(suffix)], true
}
