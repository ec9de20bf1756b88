package vault

import (
	"strings"

	"github.com/cryptoark/vault/vaultcache"
)

// PathCache is the path-resolution cache spec.md §4.9 calls for: a
// short-TTL map from a logical path prefix to the DirId it names. The
// concrete "moka-style" TTL+LRU implementation lives in vault/vaultcache;
// this interface lets pathresolver.go stay agnostic of it, and lets tests
// run with no cache at all (a nil PathCache is always a clean miss).
type PathCache interface {
	Get(path string) (DirId, bool)
	Put(path string, id DirId)
}

func (v *Vault) cacheGet(path string) (DirId, bool) {
	if v.pathCache == nil {
		return "", false
	}
	return v.pathCache.Get(path)
}

func (v *Vault) cachePut(path string, id DirId) {
	if v.pathCache == nil {
		return
	}
	v.pathCache.Put(path, id)
}

// lruPathCache adapts vaultcache.PathCache (string → string) to the
// vault.PathCache interface (path → DirId) so the bounded TTL/LRU cache
// in vault/vaultcache never needs to import this package's types.
type lruPathCache struct {
	c *vaultcache.PathCache
}

// NewLRUPathCache wraps a vaultcache.PathCache for use as a Vault's
// PathCache, sized and timed per spec.md §4.9 ("~5s TTL").
func NewLRUPathCache(c *vaultcache.PathCache) PathCache { return &lruPathCache{c: c} }

func (a *lruPathCache) Get(path string) (DirId, bool) {
	v, ok := a.c.Get(path)
	return DirId(v), ok
}

func (a *lruPathCache) Put(path string, id DirId) { a.c.Put(path, string(id)) }

func (a *lruPathCache) InvalidatePrefix(prefix string) { a.c.InvalidatePrefix(prefix) }

// splitPath normalizes a logical slash-separated path into its non-empty
// components. "/", "", and "." all name the root (zero components).
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

// ResolvedPath is what the path resolver reports for a logical path: the
// DirId of its parent directory, its leaf name, and its entry type
// (spec.md §4.5 step 3).
type ResolvedPath struct {
	ParentID DirId
	Name     string
	Type     EntryType
	// ChildID is populated when Type == EntryDirectory.
	ChildID DirId
}

// ResolvePath walks a logical path component by component from the vault
// root, populating the path-resolution cache with every intermediate
// prefix → DirId mapping it computes along the way (spec.md §4.5).
func (v *Vault) ResolvePath(logicalPath string) (ResolvedPath, error) {
	components := splitPath(logicalPath)
	if len(components) == 0 {
		return ResolvedPath{ParentID: "", Name: "", Type: EntryDirectory, ChildID: ""}, nil
	}

	currentID := DirId("")
	prefix := ""
	for _, name := range components[:len(components)-1] {
		if err := ValidatePathComponent(name); err != nil {
			return ResolvedPath{}, err
		}
		prefix = prefix + "/" + name
		if cached, ok := v.cacheGet(prefix); ok {
			currentID = cached
			continue
		}
		entry, err := v.GetEntry(currentID, name)
		if err != nil {
			return ResolvedPath{}, err
		}
		if entry.Type != EntryDirectory {
			return ResolvedPath{}, &IOError{Operation: "resolve_path", Path: logicalPath, Offset: -1, Err: ErrNotADirectory}
		}
		currentID = entry.Directory.ID
		v.cachePut(prefix, currentID)
	}

	leaf := components[len(components)-1]
	if err := ValidatePathComponent(leaf); err != nil {
		return ResolvedPath{}, err
	}

	class, err := v.resolveLeaf(currentID, leaf)
	if err != nil {
		return ResolvedPath{}, err
	}
	resolved := ResolvedPath{ParentID: currentID, Name: leaf, Type: class.Type, ChildID: class.ChildDirID}
	if class.Type == EntryDirectory {
		v.cachePut(prefix+"/"+leaf, class.ChildDirID)
	}
	return resolved, nil
}

// DirIDForPath resolves a logical path that must name a directory (or the
// root) to its DirId, for callers that need to operate inside it (list,
// create_directory, etc.) rather than report its own ResolvedPath.
func (v *Vault) DirIDForPath(logicalPath string) (DirId, error) {
	components := splitPath(logicalPath)
	if len(components) == 0 {
		return DirId(""), nil
	}
	resolved, err := v.ResolvePath(logicalPath)
	if err != nil {
		return "", err
	}
	if resolved.Type != EntryDirectory {
		return "", &IOError{Operation: "dir_id_for_path", Path: logicalPath, Offset: -1, Err: ErrNotADirectory}
	}
	return resolved.ChildID, nil
}

// invalidatePath drops any cached prefix mappings under logicalPath, when
// the configured PathCache supports InvalidatePrefix. The rename and
// delete operations do not call it, so a mapping for a directory that was
// moved or removed stays cached until its TTL expires.
func (v *Vault) invalidatePath(logicalPath string) {
	if v.pathCache == nil {
		return
	}
	if invalidator, ok := v.pathCache.(interface{ InvalidatePrefix(string) }); ok {
		invalidator.InvalidatePrefix(logicalPath)
	}
}
