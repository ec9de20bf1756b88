package vault

import (
	"os"
	"path/filepath"

	"github.com/cryptoark/vault/vaultcache"
)

// Vault is the open, in-memory handle to an on-disk vault: the root
// directory, the derived name/body keys, and the operational parameters
// pinned at creation or recovered from vault.cryptomator. Every other file
// in this package adds methods to it.
type Vault struct {
	root      string
	names     *nameCodec
	key       MasterKey
	combo     CipherCombo
	cfg       Config
	stats     *Stats
	pathCache PathCache
	handles   *HandleTable

	metaCache *vaultcache.MetadataCache
	readCache *vaultcache.ReadCache
}

// dataRoot is the "d" directory under which every sharded storage path lives.
func (v *Vault) dataRoot() string { return filepath.Join(v.root, "d") }

// dirStoragePath returns the absolute sharded directory (spec.md §3:
// d/<2>/<30>/) backing the logical directory id.
func (v *Vault) dirStoragePath(id DirId) (string, error) {
	prefix, err := v.names.storagePrefix(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.root, prefix), nil
}

// withAccess runs fn with a scoped borrow of the master key, wrapping
// WithKey to keep call sites terse.
func (v *Vault) withAccess(fn func(KeyAccess) error) error {
	return v.key.WithKey(fn)
}

// bodyEngineFor builds a bodyEngine for the vault's configured cipher combo,
// given a per-file content key (header.ContentKey).
func (v *Vault) bodyEngineFor(contentKey []byte) (bodyEngine, error) {
	var macKey []byte
	if err := v.withAccess(func(access KeyAccess) error {
		macKey = access.MacKey
		return nil
	}); err != nil {
		return nil, err
	}
	return newBodyEngine(v.combo, contentKey, macKey)
}

// statSize stats an on-disk path and returns its size, translating a
// missing file into ErrNotFound rather than a raw os.ErrNotExist.
func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, NewIOError("stat", path, err)
	}
	return info.Size(), nil
}

// pathExists reports whether path exists, treating any stat error other
// than "not exist" as a hard I/O error.
func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, NewIOError("stat", path, err)
}
