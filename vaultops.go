package vault

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cryptoark/vault/vaultcache"
	"github.com/google/uuid"
)

// Create initializes a brand-new vault at root: a fresh master key, the
// signed vault.cryptomator / masterkey.cryptomator pair, and the root
// directory's own (empty) storage path. root must not already contain a
// vault.cryptomator.
func Create(root string, passphrase []byte, cfg Config) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exists, err := pathExists(filepath.Join(root, vaultConfigFile)); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAlreadyExists
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, NewIOError("mkdir", root, err)
	}

	masterKey, err := NewMasterKey()
	if err != nil {
		return nil, err
	}

	wrapped, err := wrapMasterKey(masterKey, passphrase, cfg.KDF, DefaultScryptParams())
	if err != nil {
		return nil, err
	}
	if err := writeJSONFile(filepath.Join(root, masterKeyFile), wrapped); err != nil {
		return nil, err
	}

	claims := newVaultConfigClaims(cfg.ShorteningThreshold, cfg.CipherCombo)
	signed, err := marshalVaultConfig(claims, masterKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(root, vaultConfigFile), signed, 0o600); err != nil {
		return nil, NewIOError("write", filepath.Join(root, vaultConfigFile), err)
	}

	v, err := newVault(root, masterKey, cfg)
	if err != nil {
		return nil, err
	}
	if err := v.initRootStorage(); err != nil {
		return nil, err
	}
	return v, nil
}

// Open loads an existing vault at root, unwrapping its master key under
// passphrase. A wrong passphrase surfaces as ErrWrongPassphrase, never a
// generic decode error (spec.md §8 scenario 6). A correct passphrase whose
// unwrapped masterkey.cryptomator version field was tampered with
// afterward surfaces as *VersionIntegrityError instead — a different
// failure with a different cause, never collapsed into ErrWrongPassphrase
// (spec.md §7: integrity errors are always surfaced, never retried).
func Open(root string, passphrase []byte, cfg Config) (*Vault, error) {
	tokenBytes, err := os.ReadFile(filepath.Join(root, vaultConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrVaultConfigInvalid
		}
		return nil, NewIOError("read", filepath.Join(root, vaultConfigFile), err)
	}

	var masterKey MasterKey
	resolveKey := func(masterKeyURI string) (MasterKey, error) {
		if masterKeyURI == "" {
			masterKeyURI = masterKeyFile
		}
		wrapped, err := readEncryptedMasterKeyFile(filepath.Join(root, masterKeyURI))
		if err != nil {
			return MasterKey{}, err
		}
		deriver := NewScryptDeriver(ScryptParams{
			N: wrapped.ScryptCostParam, R: wrapped.ScryptBlockSize, P: 1, SaltSize: len(wrapped.ScryptSalt),
		})
		mk, err := unwrapMasterKey(wrapped, passphrase, deriver)
		if err != nil {
			return MasterKey{}, err
		}
		masterKey = mk
		return mk, nil
	}

	claims, err := unmarshalVaultConfig(tokenBytes, resolveKey)
	if err != nil {
		return nil, err
	}
	combo, err := ParseCipherCombo(claims.CipherCombo)
	if err != nil {
		return nil, err
	}
	cfg.CipherCombo = combo
	cfg.ShorteningThreshold = claims.ShorteningThreshold

	return newVault(root, masterKey, cfg)
}

// ChangePassphrase re-wraps the existing master key under a fresh
// passphrase-derived KEK, without touching any ciphertext in the tree
// (spec.md §9: the passphrase only wraps the master key, so rotating it
// is never a bulk re-encryption).
func ChangePassphrase(root string, oldPassphrase, newPassphrase []byte) error {
	wrapped, err := readEncryptedMasterKeyFile(filepath.Join(root, masterKeyFile))
	if err != nil {
		return err
	}
	deriver := NewScryptDeriver(ScryptParams{
		N: wrapped.ScryptCostParam, R: wrapped.ScryptBlockSize, P: 1, SaltSize: len(wrapped.ScryptSalt),
	})
	masterKey, err := unwrapMasterKey(wrapped, oldPassphrase, deriver)
	if err != nil {
		return err
	}
	rewrapped, err := wrapMasterKey(masterKey, newPassphrase, NewScryptDeriver(DefaultScryptParams()), DefaultScryptParams())
	if err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(root, masterKeyFile), rewrapped)
}

// newVault wires together a Vault's derived state (name codec, stats,
// caches, handle table) once the master key and parameters are known,
// shared by Create and Open.
func newVault(root string, masterKey MasterKey, cfg Config) (*Vault, error) {
	var names *nameCodec
	err := masterKey.WithKey(func(access KeyAccess) error {
		c, err := newNameCodec(access, cfg.ShorteningThreshold)
		names = c
		return err
	})
	if err != nil {
		return nil, err
	}
	v := &Vault{
		root:    root,
		names:   names,
		key:     masterKey,
		combo:   cfg.CipherCombo,
		cfg:     cfg,
		stats:   NewStats(),
		handles: NewHandleTable(),
	}
	v.pathCache = NewLRUPathCache(vaultcache.NewPathCache(defaultCacheSize, pathCacheTTL))
	v.metaCache = vaultcache.NewMetadataCache(defaultCacheSize, metadataCacheTTL)
	v.readCache = vaultcache.NewReadCache(defaultCacheSize, readCacheTTL)
	return v, nil
}

// Cache defaults per spec.md §4.9: short TTLs bound staleness without
// inviting it, sized generously enough that an interactive session's
// working set rarely evicts under memory pressure rather than age.
const (
	defaultCacheSize = 4096
	pathCacheTTL     = 5 * time.Second
	metadataCacheTTL = 1 * time.Second
	readCacheTTL     = 5 * time.Second
)

// initRootStorage creates the root directory's (DirId "") storage path and
// writes its dirid.c9r recovery backup, the same as any other directory
// except that the root has no parent entry pointing at it.
func (v *Vault) initRootStorage() error {
	rootPath, err := v.dirStoragePath("")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(rootPath, 0o700); err != nil {
		return NewIOError("mkdir", rootPath, err)
	}
	_, err = v.writeEncryptedFile(filepath.Join(rootPath, dirIDBackupC9r), []byte(""))
	return err
}

// SetPathCache installs the path-resolution cache the pathresolver methods
// consult (spec.md §4.9); nil disables caching.
func (v *Vault) SetPathCache(c PathCache) { v.pathCache = c }

// SetMetadataCache installs the cache GetEntryByPath consults before
// resolving a path; nil disables caching.
func (v *Vault) SetMetadataCache(c *vaultcache.MetadataCache) { v.metaCache = c }

// SetReadCache installs the cache read handles consult for repeated
// whole-file reads of the same handle; nil disables caching.
func (v *Vault) SetReadCache(c *vaultcache.ReadCache) { v.readCache = c }

// Stats exposes the vault's lock-free counters.
func (v *Vault) Stats() *Stats { return v.stats }

// Close zeroes the master key. Callers are expected to have released any
// handles they opened (via ReleaseHandle) before calling Close; a Vault
// must not be used afterward.
func (v *Vault) Close() error {
	v.key.Zero()
	return nil
}

// --- dir_id/name-keyed queries -------------------------------------------

// FindFile returns the named child of dirID if it is a file.
func (v *Vault) FindFile(dirID DirId, name string) (*FileInfo, error) {
	entry, err := v.GetEntry(dirID, name)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.Type != EntryFile {
		return nil, nil
	}
	return entry.File, nil
}

// FindDirectory returns the named child of dirID if it is a directory.
func (v *Vault) FindDirectory(dirID DirId, name string) (*DirInfo, error) {
	entry, err := v.GetEntry(dirID, name)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.Type != EntryDirectory {
		return nil, nil
	}
	return entry.Directory, nil
}

// FindSymlink returns the named child of dirID if it is a symlink. This is
// O(1): it reads only the symlink.c9r body, never the whole directory
// (spec.md §4.8).
func (v *Vault) FindSymlink(dirID DirId, name string) (*SymlinkInfo, error) {
	entry, err := v.GetEntry(dirID, name)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.Type != EntrySymlink {
		return nil, nil
	}
	return entry.Symlink, nil
}

// EntryTypeOf is a cheap existence-and-kind probe for (dirID, name).
func (v *Vault) EntryTypeOf(dirID DirId, name string) (EntryType, error) {
	entry, err := v.GetEntry(dirID, name)
	if err == ErrNotFound {
		return EntryUnknown, nil
	}
	if err != nil {
		return EntryUnknown, err
	}
	return entry.Type, nil
}

// --- reads ----------------------------------------------------------------

// ReadFile returns the whole decrypted body of the named file.
func (v *Vault) ReadFile(dirID DirId, name string) ([]byte, error) {
	class, err := v.resolveLeaf(dirID, name)
	if err != nil {
		return nil, err
	}
	if class.Type != EntryFile {
		return nil, ErrIsADirectory
	}
	return v.readEncryptedFile(class.BodyPath)
}

// OpenFile returns a streaming random-access Reader over the named file.
func (v *Vault) OpenFile(dirID DirId, name string) (*Reader, error) {
	class, err := v.resolveLeaf(dirID, name)
	if err != nil {
		return nil, err
	}
	if class.Type != EntryFile {
		return nil, ErrIsADirectory
	}
	return v.OpenReader(class.BodyPath)
}

// --- writes -----------------------------------------------------------------

// fileStoragePlan describes where a (possibly not-yet-existing) file
// entry's body lives on disk and what setup (mkdir + name.c9s) is needed
// before the body can be written there.
type fileStoragePlan struct {
	bodyPath    string
	entryPath   string
	shortened   bool
	fullCipher  string
}

func (v *Vault) planFileStorage(parentID DirId, name string) (fileStoragePlan, error) {
	enc, err := v.names.EncryptName(name, parentID)
	if err != nil {
		return fileStoragePlan{}, err
	}
	parentPath, err := v.dirStoragePath(parentID)
	if err != nil {
		return fileStoragePlan{}, err
	}
	entryPath := filepath.Join(parentPath, enc.StorageName)
	if !enc.Shortened {
		return fileStoragePlan{bodyPath: entryPath, entryPath: entryPath}, nil
	}
	return fileStoragePlan{
		bodyPath:   filepath.Join(entryPath, contentsC9r),
		entryPath:  entryPath,
		shortened:  true,
		fullCipher: enc.FullCiphertextName,
	}, nil
}

// ensureEntry creates whatever wrapper directory and name.c9s a shortened
// entry needs before its body (or dir.c9r/symlink.c9r) can be written.
func (v *Vault) ensureEntry(plan fileStoragePlan) error {
	parentDir := filepath.Dir(plan.entryPath)
	if err := os.MkdirAll(parentDir, 0o700); err != nil {
		return NewIOError("mkdir", parentDir, err)
	}
	if !plan.shortened {
		return nil
	}
	if err := os.MkdirAll(plan.entryPath, 0o700); err != nil {
		return NewIOError("mkdir", plan.entryPath, err)
	}
	if err := os.WriteFile(filepath.Join(plan.entryPath, nameC9s), []byte(plan.fullCipher), 0o600); err != nil {
		return NewIOError("write_name_c9s", plan.entryPath, err)
	}
	return nil
}

// WriteFile atomically replaces (or creates) the named file's content:
// the new body is written to a temp path beside the final one, then
// renamed into place, so a reader never observes a half-written file.
func (v *Vault) WriteFile(dirID DirId, name string, data []byte) (err error) {
	defer func() { v.stats.recordOp(err != nil) }()
	if err := ValidatePathComponent(name); err != nil {
		return err
	}
	plan, err := v.planFileStorage(dirID, name)
	if err != nil {
		return err
	}
	if err := v.ensureEntry(plan); err != nil {
		return err
	}
	tmpPath := plan.bodyPath + tempSuffix()
	if _, err := v.writeEncryptedFile(tmpPath, data); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, plan.bodyPath); err != nil {
		os.Remove(tmpPath)
		return NewIOError("rename", plan.bodyPath, err)
	}
	return nil
}

// CreateWriterFor returns a streaming Writer for a new or replaced file
// named (dirID, name), creating any shortened-name wrapper first. Callers
// that want whole-body writes should prefer WriteFile.
func (v *Vault) CreateWriterFor(dirID DirId, name string) (*Writer, error) {
	if err := ValidatePathComponent(name); err != nil {
		return nil, err
	}
	plan, err := v.planFileStorage(dirID, name)
	if err != nil {
		return nil, err
	}
	if err := v.ensureEntry(plan); err != nil {
		return nil, err
	}
	return v.CreateWriter(plan.bodyPath)
}

// Touch creates an empty file at path if no entry exists there yet;
// idempotent if the file already exists.
func (v *Vault) Touch(path string) error {
	resolved, err := v.ResolvePath(path)
	if err == nil {
		if resolved.Type != EntryFile {
			return ErrIsADirectory
		}
		return nil
	}
	if err != ErrNotFound {
		return err
	}
	dirID, name, err := v.splitForCreate(path)
	if err != nil {
		return err
	}
	return v.WriteFile(dirID, name, nil)
}

// Append reads the current content of path, appends data, and writes the
// result back (the format has no in-place append: every write is whole-file).
func (v *Vault) Append(path string, data []byte) error {
	dirID, name, err := v.splitForCreate(path)
	if err != nil {
		return err
	}
	existing, err := v.ReadFile(dirID, name)
	if err != nil && err != ErrNotFound {
		return err
	}
	return v.WriteFile(dirID, name, append(existing, data...))
}

// splitForCreate resolves path's parent directory and returns (parentID,
// leafName), creating no entries itself.
func (v *Vault) splitForCreate(path string) (DirId, string, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return "", "", NewValidationError("path", path, "cannot create the root")
	}
	parentPath := "/" + filepathJoinComponents(components[:len(components)-1])
	parentID, err := v.DirIDForPath(parentPath)
	if err != nil {
		return "", "", err
	}
	return parentID, components[len(components)-1], nil
}

func filepathJoinComponents(c []string) string {
	out := ""
	for i, s := range c {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

// --- directories ------------------------------------------------------------

// CreateDirectory allocates a fresh DirId for a new subdirectory named
// (parentID, name): writes the parent's dir.c9r entry and the new
// directory's own storage path plus dirid.c9r recovery backup.
func (v *Vault) CreateDirectory(parentID DirId, name string) (id DirId, err error) {
	defer func() { v.stats.recordOp(err != nil) }()
	if err := ValidatePathComponent(name); err != nil {
		return "", err
	}
	if existing, err := v.resolveLeaf(parentID, name); err == nil {
		_ = existing
		return "", ErrAlreadyExists
	} else if err != ErrNotFound {
		return "", err
	}

	plan, err := v.planFileStorage(parentID, name)
	if err != nil {
		return "", err
	}
	newID := NewDirId()

	parentDir := filepath.Dir(plan.entryPath)
	if err := os.MkdirAll(parentDir, 0o700); err != nil {
		return "", NewIOError("mkdir", parentDir, err)
	}
	if err := os.MkdirAll(plan.entryPath, 0o700); err != nil {
		return "", NewIOError("mkdir", plan.entryPath, err)
	}
	if plan.shortened {
		if err := os.WriteFile(filepath.Join(plan.entryPath, nameC9s), []byte(plan.fullCipher), 0o600); err != nil {
			return "", NewIOError("write_name_c9s", plan.entryPath, err)
		}
	}
	if err := os.WriteFile(filepath.Join(plan.entryPath, dirC9r), []byte(newID), 0o600); err != nil {
		return "", NewIOError("write_dir_c9r", plan.entryPath, err)
	}

	newStoragePath, err := v.dirStoragePath(newID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(newStoragePath, 0o700); err != nil {
		return "", NewIOError("mkdir", newStoragePath, err)
	}
	if _, err := v.writeEncryptedFile(filepath.Join(newStoragePath, dirIDBackupC9r), []byte(newID)); err != nil {
		return "", err
	}
	return newID, nil
}

// CreateDirectoryAll walks path component by component, creating any
// directory that doesn't yet exist (spec.md §4.8, §8: idempotent — calling
// it twice yields the same DirId both times).
func (v *Vault) CreateDirectoryAll(path string) (DirId, error) {
	components := splitPath(path)
	currentID := DirId("")
	for _, name := range components {
		entry, err := v.GetEntry(currentID, name)
		if err == nil {
			if entry.Type != EntryDirectory {
				return "", ErrNotADirectory
			}
			currentID = entry.Directory.ID
			continue
		}
		if err != ErrNotFound {
			return "", err
		}
		newID, err := v.CreateDirectory(currentID, name)
		if err != nil {
			return "", err
		}
		currentID = newID
	}
	return currentID, nil
}

// --- symlinks ---------------------------------------------------------------

// CreateSymlink writes a symlink entry named (parentID, name) whose
// encrypted body is the target string.
func (v *Vault) CreateSymlink(parentID DirId, name, target string) (err error) {
	defer func() { v.stats.recordOp(err != nil) }()
	if err := ValidatePathComponent(name); err != nil {
		return err
	}
	if _, err := v.resolveLeaf(parentID, name); err == nil {
		return ErrAlreadyExists
	} else if err != ErrNotFound {
		return err
	}
	plan, err := v.planFileStorage(parentID, name)
	if err != nil {
		return err
	}
	parentDir := filepath.Dir(plan.entryPath)
	if err := os.MkdirAll(parentDir, 0o700); err != nil {
		return NewIOError("mkdir", parentDir, err)
	}
	if err := os.MkdirAll(plan.entryPath, 0o700); err != nil {
		return NewIOError("mkdir", plan.entryPath, err)
	}
	if plan.shortened {
		if err := os.WriteFile(filepath.Join(plan.entryPath, nameC9s), []byte(plan.fullCipher), 0o600); err != nil {
			return NewIOError("write_name_c9s", plan.entryPath, err)
		}
	}
	_, err = v.writeEncryptedFile(filepath.Join(plan.entryPath, symlinkC9r), []byte(target))
	return err
}

// ReadSymlink returns the decrypted target of the named symlink entry.
func (v *Vault) ReadSymlink(dirID DirId, name string) (string, error) {
	class, err := v.resolveLeaf(dirID, name)
	if err != nil {
		return "", err
	}
	if class.Type != EntrySymlink {
		return "", ErrNotASymlink
	}
	return v.readSymlinkTarget(class.ContainerPath)
}

// ReadSymlinkByPath resolves path and returns its symlink target.
func (v *Vault) ReadSymlinkByPath(path string) (string, error) {
	dirID, name, err := v.splitForCreate(path)
	if err != nil {
		return "", err
	}
	return v.ReadSymlink(dirID, name)
}

// DeleteSymlinkByPath resolves path and removes the symlink entry there.
func (v *Vault) DeleteSymlinkByPath(path string) error {
	dirID, name, err := v.splitForCreate(path)
	if err != nil {
		return err
	}
	if err := v.DeleteSymlink(dirID, name); err != nil {
		return err
	}
	if v.metaCache != nil {
		v.metaCache.Invalidate(path)
	}
	return nil
}

// --- deletes -----------------------------------------------------------------

// DeleteFile removes the named file entry, including any shortened-name
// wrapper directory.
func (v *Vault) DeleteFile(dirID DirId, name string) (err error) {
	defer func() { v.stats.recordOp(err != nil) }()
	class, err := v.resolveLeaf(dirID, name)
	if err != nil {
		return err
	}
	if class.Type != EntryFile {
		return ErrIsADirectory
	}
	if err := os.RemoveAll(class.ContainerPath); err != nil {
		return NewIOError("remove", class.ContainerPath, err)
	}
	return nil
}

// DeleteSymlink removes the named symlink entry.
func (v *Vault) DeleteSymlink(dirID DirId, name string) (err error) {
	defer func() { v.stats.recordOp(err != nil) }()
	class, err := v.resolveLeaf(dirID, name)
	if err != nil {
		return err
	}
	if class.Type != EntrySymlink {
		return ErrNotASymlink
	}
	if err := os.RemoveAll(class.ContainerPath); err != nil {
		return NewIOError("remove", class.ContainerPath, err)
	}
	return nil
}

// DeleteDirectory removes the named directory entry. It fails with
// ErrDirectoryNotEmpty unless the directory's own storage path contains
// nothing but its dirid.c9r recovery backup (spec.md §4.8).
func (v *Vault) DeleteDirectory(dirID DirId, name string) (err error) {
	defer func() { v.stats.recordOp(err != nil) }()
	class, err := v.resolveLeaf(dirID, name)
	if err != nil {
		return err
	}
	if class.Type != EntryDirectory {
		return ErrNotADirectory
	}
	storagePath, err := v.dirStoragePath(class.ChildDirID)
	if err != nil {
		return err
	}
	items, err := os.ReadDir(storagePath)
	if err != nil && !os.IsNotExist(err) {
		return NewIOError("readdir", storagePath, err)
	}
	for _, item := range items {
		if item.Name() != dirIDBackupC9r {
			return ErrDirectoryNotEmpty
		}
	}
	if err := os.RemoveAll(storagePath); err != nil {
		return NewIOError("remove", storagePath, err)
	}
	if err := os.RemoveAll(class.ContainerPath); err != nil {
		return NewIOError("remove", class.ContainerPath, err)
	}
	return nil
}

// --- rename / move -----------------------------------------------------------

// moveEntryStorage relocates one directory entry from its resolved
// on-disk location to the storage location for (newParentID, newName),
// reshaping any shortened-name wrapper as needed (spec.md §4.8's
// "rename is a pure function of the new name and parent DirId" note).
func (v *Vault) moveEntryStorage(class entryClassification, newParentID DirId, newName string) (err error) {
	defer func() { v.stats.recordOp(err != nil) }()
	newEnc, err := v.names.EncryptName(newName, newParentID)
	if err != nil {
		return err
	}
	newParentPath, err := v.dirStoragePath(newParentID)
	if err != nil {
		return err
	}
	newStoragePath := filepath.Join(newParentPath, newEnc.StorageName)

	if exists, err := pathExists(newStoragePath); err != nil {
		return err
	} else if exists {
		return ErrAlreadyExists
	}
	if err := os.MkdirAll(newParentPath, 0o700); err != nil {
		return NewIOError("mkdir", newParentPath, err)
	}

	switch class.Type {
	case EntryFile:
		if newEnc.Shortened {
			if err := os.MkdirAll(newStoragePath, 0o700); err != nil {
				return NewIOError("mkdir", newStoragePath, err)
			}
			if err := os.WriteFile(filepath.Join(newStoragePath, nameC9s), []byte(newEnc.FullCiphertextName), 0o600); err != nil {
				return NewIOError("write_name_c9s", newStoragePath, err)
			}
			if err := os.Rename(class.BodyPath, filepath.Join(newStoragePath, contentsC9r)); err != nil {
				return NewIOError("rename", class.BodyPath, err)
			}
		} else {
			if err := os.Rename(class.BodyPath, newStoragePath); err != nil {
				return NewIOError("rename", class.BodyPath, err)
			}
		}
		if class.ContainerPath != class.BodyPath {
			// Old entry was itself a .c9s wrapper; its body just moved out
			// from under it, so the leftover directory (and stale name.c9s)
			// must go too.
			_ = os.RemoveAll(class.ContainerPath)
		}
	case EntryDirectory, EntrySymlink:
		if err := os.Rename(class.ContainerPath, newStoragePath); err != nil {
			return NewIOError("rename", class.ContainerPath, err)
		}
		if newEnc.Shortened {
			if err := os.WriteFile(filepath.Join(newStoragePath, nameC9s), []byte(newEnc.FullCiphertextName), 0o600); err != nil {
				return NewIOError("write_name_c9s", newStoragePath, err)
			}
		} else {
			_ = os.Remove(filepath.Join(newStoragePath, nameC9s))
		}
	default:
		return ErrNotFound
	}
	return nil
}

// RenameFile renames a file within the same parent directory.
func (v *Vault) RenameFile(parentID DirId, oldName, newName string) error {
	if err := ValidatePathComponent(newName); err != nil {
		return err
	}
	class, err := v.resolveLeaf(parentID, oldName)
	if err != nil {
		return err
	}
	if class.Type != EntryFile {
		return ErrIsADirectory
	}
	if err := v.moveEntryStorage(class, parentID, newName); err != nil {
		return err
	}
	return nil
}

// RenameDirectory renames a directory within the same parent directory.
// The DirId is unchanged; only the parent's entry (and, if shortened, the
// name.c9s indirection) is rewritten.
func (v *Vault) RenameDirectory(parentID DirId, oldName, newName string) error {
	if err := ValidatePathComponent(newName); err != nil {
		return err
	}
	class, err := v.resolveLeaf(parentID, oldName)
	if err != nil {
		return err
	}
	if class.Type != EntryDirectory {
		return ErrNotADirectory
	}
	if err := v.moveEntryStorage(class, parentID, newName); err != nil {
		return err
	}
	return nil
}

// MoveFile moves a file to a new parent directory, keeping its name.
func (v *Vault) MoveFile(oldParentID DirId, name string, newParentID DirId) error {
	return v.MoveAndRenameFile(oldParentID, name, newParentID, name)
}

// MoveAndRenameFile moves a file to a new parent directory and renames it
// in the same operation. Symlinks use the same code path (both are leaf
// entries whose AAD binds to the parent DirId).
func (v *Vault) MoveAndRenameFile(oldParentID DirId, oldName string, newParentID DirId, newName string) error {
	if err := ValidatePathComponent(newName); err != nil {
		return err
	}
	class, err := v.resolveLeaf(oldParentID, oldName)
	if err != nil {
		return err
	}
	if class.Type == EntryDirectory {
		// Cross-parent directory moves are rejected (spec.md §4.8, §9):
		// the format permits them in principle, but no operation here
		// rewrites a directory's recorded parent AAD binding.
		if oldParentID != newParentID {
			return ErrNotSupported
		}
		if err := v.moveEntryStorage(class, newParentID, newName); err != nil {
			return err
		}
		return nil
	}
	if err := v.moveEntryStorage(class, newParentID, newName); err != nil {
		return err
	}
	return nil
}

// --- path-based convenience wrappers -----------------------------------------

// GetEntryByPath resolves a logical path to its unified DirEntry view,
// consulting the metadata cache first (spec.md §4.9, ~1s TTL) since this
// is the layer callers actually key by logical path.
func (v *Vault) GetEntryByPath(path string) (DirEntry, error) {
	if v.metaCache != nil {
		if cached, ok := v.metaCache.Get(path); ok {
			if entry, ok := cached.(DirEntry); ok {
				return entry, nil
			}
		}
	}

	if len(splitPath(path)) == 0 {
		root := DirEntry{Type: EntryDirectory, Directory: &DirInfo{Name: "", ID: ""}}
		if v.metaCache != nil {
			v.metaCache.Put(path, root)
		}
		return root, nil
	}

	resolved, err := v.ResolvePath(path)
	if err != nil {
		return DirEntry{}, err
	}
	entry, err := v.GetEntry(resolved.ParentID, resolved.Name)
	if err != nil {
		return DirEntry{}, err
	}
	if v.metaCache != nil {
		v.metaCache.Put(path, entry)
	}
	return entry, nil
}

// EntryTypeByPath is a cheap existence-and-kind probe for a logical path.
func (v *Vault) EntryTypeByPath(path string) (EntryType, error) {
	if len(splitPath(path)) == 0 {
		return EntryDirectory, nil
	}
	entry, err := v.GetEntryByPath(path)
	if err == ErrNotFound {
		return EntryUnknown, nil
	}
	if err != nil {
		return EntryUnknown, err
	}
	return entry.Type, nil
}

// ListByPath resolves path to a DirId and lists its three entry classes.
func (v *Vault) ListByPath(path string) (files []FileInfo, dirs []DirInfo, symlinks []SymlinkInfo, err error) {
	dirID, err := v.DirIDForPath(path)
	if err != nil {
		return nil, nil, nil, err
	}
	return v.ListAll(dirID)
}

// --- handle table wrappers ----------------------------------------------------

// InsertReaderHandle opens the named file for random-access reads and
// registers a Reader handle for it, returning its handle ID.
func (v *Vault) InsertReaderHandle(dirID DirId, name string) (uint64, error) {
	r, err := v.OpenFile(dirID, name)
	if err != nil {
		return 0, err
	}
	return v.handles.Insert(Handle{Kind: HandleReader, Reader: r, Path: name}), nil
}

// InsertWriterHandle opens a streaming Writer for (dirID, name) and
// registers it, returning its handle ID.
func (v *Vault) InsertWriterHandle(dirID DirId, name string) (uint64, error) {
	w, err := v.CreateWriterFor(dirID, name)
	if err != nil {
		return 0, err
	}
	return v.handles.Insert(Handle{Kind: HandleWriter, Writer: w, Path: name}), nil
}

// InsertWriteBufferHandle seeds a WriteBuffer from the file's current
// content (or empty, for create/truncate) and registers it for
// random-access writes.
func (v *Vault) InsertWriteBufferHandle(dirID DirId, name string) (uint64, error) {
	plan, err := v.planFileStorage(dirID, name)
	if err != nil {
		return 0, err
	}
	var existing []byte
	if ok, err := pathExists(plan.bodyPath); err != nil {
		return 0, err
	} else if ok {
		existing, err = v.readEncryptedFile(plan.bodyPath)
		if err != nil {
			return 0, err
		}
	} else if err := v.ensureEntry(plan); err != nil {
		return 0, err
	}
	buf := v.NewWriteBuffer(dirID, name, plan.bodyPath, existing)
	return v.handles.Insert(Handle{Kind: HandleWriteBuffer, WriteBuffer: buf, Path: name}), nil
}

// GetHandle returns the handle for id, if open.
func (v *Vault) GetHandle(id uint64) (Handle, bool) {
	return v.handles.Get(id)
}

// ReadHandle returns the full decrypted content backing a reader handle,
// consulting the read cache first (spec.md §4.9, ~5s TTL) before decoding
// the whole stream again.
func (v *Vault) ReadHandle(id uint64) ([]byte, error) {
	h, ok := v.handles.Get(id)
	if !ok {
		return nil, ErrHandleNotFound
	}
	if h.Kind != HandleReader || h.Reader == nil {
		return nil, ErrInvalidHandleKind
	}
	if v.readCache != nil {
		if data, ok := v.readCache.Get(id); ok {
			return data, nil
		}
	}
	data, err := h.Reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if v.readCache != nil {
		v.readCache.Put(id, data)
	}
	return data, nil
}

// ReleaseHandle removes and releases (closes/finishes/flushes) the handle
// for id, dropping any cached read result for it.
func (v *Vault) ReleaseHandle(id uint64) error {
	h, ok := v.handles.Remove(id)
	if !ok {
		return ErrHandleNotFound
	}
	if v.readCache != nil {
		v.readCache.Invalidate(id)
	}
	return h.Release()
}

// tempSuffix generates a short random suffix for atomic-replace temp
// files, avoiding collisions between concurrent writers to the same name.
func tempSuffix() string {
	return ".tmp-" + uuid.NewString()
}
