package vault

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Create(t.TempDir(), []byte("pw"), Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return v
}

// TestCreateWriteRead covers spec.md §8 scenario 1.
func TestCreateWriteRead(t *testing.T) {
	v := newTestVault(t)

	if err := v.WriteFile("", "hello.txt", []byte("Hello, world!")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := v.ReadFile("", "hello.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("Hello, world!")) {
		t.Errorf("ReadFile = %q, want %q", got, "Hello, world!")
	}
	typ, err := v.EntryTypeOf("", "hello.txt")
	if err != nil {
		t.Fatalf("EntryTypeOf: %v", err)
	}
	if typ != EntryFile {
		t.Errorf("EntryTypeOf = %v, want EntryFile", typ)
	}
}

// TestNestedDirectoryAndRename covers spec.md §8 scenario 2.
func TestNestedDirectoryAndRename(t *testing.T) {
	v := newTestVault(t)

	cID, err := v.CreateDirectoryAll("a/b/c")
	if err != nil {
		t.Fatalf("CreateDirectoryAll: %v", err)
	}
	if err := v.WriteFile(cID, "note", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	aID, err := v.DirIDForPath("/a")
	if err != nil {
		t.Fatalf("DirIDForPath(a): %v", err)
	}
	if err := v.RenameDirectory(aID, "b", "B"); err != nil {
		t.Fatalf("RenameDirectory: %v", err)
	}

	newCID, err := v.DirIDForPath("/a/B/c")
	if err != nil {
		t.Fatalf("DirIDForPath(a/B/c): %v", err)
	}
	got, err := v.ReadFile(newCID, "note")
	if err != nil {
		t.Fatalf("ReadFile after rename: %v", err)
	}
	if !bytes.Equal(got, []byte("x")) {
		t.Errorf("ReadFile after rename = %q, want %q", got, "x")
	}

	typ, err := v.EntryTypeByPath("a/b/c")
	if err != nil {
		t.Fatalf("EntryTypeByPath: %v", err)
	}
	if typ != EntryUnknown {
		t.Errorf("EntryTypeByPath(a/b/c) = %v, want EntryUnknown (old name gone)", typ)
	}
}

// TestChunkBoundaryIntegrity covers spec.md §8 scenario 3: tampering with
// the second chunk's ciphertext must fail only the read that touches it.
func TestChunkBoundaryIntegrity(t *testing.T) {
	v := newTestVault(t)

	content := make([]byte, ChunkPayloadSize+1)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	if err := v.WriteFile("", "big", content); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	class, err := v.resolveLeaf("", "big")
	if err != nil {
		t.Fatalf("resolveLeaf: %v", err)
	}
	reader, err := v.OpenReader(class.BodyPath)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	// First chunk reads fine before any tampering.
	if _, err := reader.Read(0, ChunkPayloadSize); err != nil {
		t.Fatalf("Read chunk 0 before tamper: %v", err)
	}
	reader.Close()

	raw, err := os.ReadFile(class.BodyPath)
	if err != nil {
		t.Fatalf("ReadFile raw: %v", err)
	}
	raw[len(raw)-1] ^= 0x01 // last byte sits in the second (trailing) chunk
	if err := os.WriteFile(class.BodyPath, raw, 0o600); err != nil {
		t.Fatalf("WriteFile raw: %v", err)
	}

	reader, err = v.OpenReader(class.BodyPath)
	if err != nil {
		t.Fatalf("OpenReader after tamper: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Read(0, ChunkPayloadSize); err != nil {
		t.Errorf("Read chunk 0 after tampering chunk 1 should still succeed, got: %v", err)
	}
	if _, err := reader.Read(ChunkPayloadSize, 1); !IsIntegrityError(err) {
		t.Errorf("Read tampered chunk 1: want integrity error, got %v", err)
	}
}

// TestRandomAccessWrite covers spec.md §8 scenario 4.
func TestRandomAccessWrite(t *testing.T) {
	v := newTestVault(t)

	if err := v.WriteFile("", "f", make([]byte, 1000)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	handleID, err := v.InsertWriteBufferHandle("", "f")
	if err != nil {
		t.Fatalf("InsertWriteBufferHandle: %v", err)
	}
	h, ok := v.GetHandle(handleID)
	if !ok {
		t.Fatalf("GetHandle: not found")
	}
	if _, err := h.WriteBuffer.Write(500, []byte("ABCDE")); err != nil {
		t.Fatalf("Write(500): %v", err)
	}
	if _, err := h.WriteBuffer.Write(200, []byte("X")); err != nil {
		t.Fatalf("Write(200): %v", err)
	}
	if err := v.ReleaseHandle(handleID); err != nil {
		t.Fatalf("ReleaseHandle: %v", err)
	}

	got, err := v.ReadFile("", "f")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 1000 {
		t.Fatalf("len(got) = %d, want 1000", len(got))
	}
	if got[200] != 'X' {
		t.Errorf("got[200] = %q, want 'X'", got[200])
	}
	if string(got[500:505]) != "ABCDE" {
		t.Errorf("got[500:505] = %q, want %q", got[500:505], "ABCDE")
	}
	for i, b := range got {
		if i == 200 || (i >= 500 && i < 505) {
			continue
		}
		if b != 0 {
			t.Fatalf("got[%d] = %d, want 0", i, b)
		}
	}
}

// TestSymlinkRoundTrip covers spec.md §8 scenario 5.
func TestSymlinkRoundTrip(t *testing.T) {
	v := newTestVault(t)

	if err := v.CreateSymlink("", "link", "../target"); err != nil {
		t.Fatalf("CreateSymlink: %v", err)
	}
	typ, err := v.EntryTypeByPath("link")
	if err != nil {
		t.Fatalf("EntryTypeByPath: %v", err)
	}
	if typ != EntrySymlink {
		t.Errorf("EntryTypeByPath = %v, want EntrySymlink", typ)
	}
	target, err := v.ReadSymlinkByPath("link")
	if err != nil {
		t.Fatalf("ReadSymlinkByPath: %v", err)
	}
	if target != "../target" {
		t.Errorf("ReadSymlinkByPath = %q, want %q", target, "../target")
	}
	if err := v.DeleteSymlinkByPath("link"); err != nil {
		t.Fatalf("DeleteSymlinkByPath: %v", err)
	}
	typ, err = v.EntryTypeByPath("link")
	if err != nil {
		t.Fatalf("EntryTypeByPath after delete: %v", err)
	}
	if typ != EntryUnknown {
		t.Errorf("EntryTypeByPath after delete = %v, want EntryUnknown", typ)
	}
}

// TestWrongPassphraseDeterminism covers spec.md §8 scenario 6: repeated
// wrong-passphrase opens must fail cleanly and never corrupt vault state.
func TestWrongPassphraseDeterminism(t *testing.T) {
	root := t.TempDir()
	v, err := Create(root, []byte("correct horse battery staple"), Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := v.WriteFile("", "f", []byte("data")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	v.Close()

	for i := 0; i < 25; i++ {
		_, err := Open(root, []byte("wrong passphrase"), Config{})
		if err != ErrWrongPassphrase {
			t.Fatalf("attempt %d: Open = %v, want ErrWrongPassphrase", i, err)
		}
	}

	reopened, err := Open(root, []byte("correct horse battery staple"), Config{})
	if err != nil {
		t.Fatalf("Open with correct passphrase after failed attempts: %v", err)
	}
	got, err := reopened.ReadFile("", "f")
	if err != nil {
		t.Fatalf("ReadFile after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("data")) {
		t.Errorf("ReadFile after reopen = %q, want %q", got, "data")
	}
}

// TestTamperedVersionMacRejected covers the masterkey.cryptomator
// versionMac integrity check: a correct passphrase must not be enough to
// open a vault whose version field was altered after wrapping.
func TestTamperedVersionMacRejected(t *testing.T) {
	root := t.TempDir()
	passphrase := []byte("correct horse battery staple")
	v, err := Create(root, passphrase, Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v.Close()

	keyPath := filepath.Join(root, masterKeyFile)
	enc, err := readEncryptedMasterKeyFile(keyPath)
	if err != nil {
		t.Fatalf("readEncryptedMasterKeyFile: %v", err)
	}
	enc.Version++
	if err := writeJSONFile(keyPath, enc); err != nil {
		t.Fatalf("writeJSONFile: %v", err)
	}

	_, err = Open(root, passphrase, Config{})
	var ve *VersionIntegrityError
	if !errors.As(err, &ve) {
		t.Fatalf("Open with tampered version = %v, want *VersionIntegrityError", err)
	}
	if err == ErrWrongPassphrase {
		t.Fatalf("tampered version must not be reported as ErrWrongPassphrase")
	}
}

func TestChangePassphrase(t *testing.T) {
	root := t.TempDir()
	v, err := Create(root, []byte("old-pw"), Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := v.WriteFile("", "f", []byte("payload")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	v.Close()

	if err := ChangePassphrase(root, []byte("old-pw"), []byte("new-pw")); err != nil {
		t.Fatalf("ChangePassphrase: %v", err)
	}

	if _, err := Open(root, []byte("old-pw"), Config{}); err != ErrWrongPassphrase {
		t.Errorf("Open with old passphrase = %v, want ErrWrongPassphrase", err)
	}
	reopened, err := Open(root, []byte("new-pw"), Config{})
	if err != nil {
		t.Fatalf("Open with new passphrase: %v", err)
	}
	got, err := reopened.ReadFile("", "f")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Errorf("ReadFile = %q, want %q", got, "payload")
	}
}

func TestTouchIdempotent(t *testing.T) {
	v := newTestVault(t)
	if err := v.Touch("empty.txt"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := v.Touch("empty.txt"); err != nil {
		t.Fatalf("second Touch: %v", err)
	}
	got, err := v.ReadFile("", "empty.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0", len(got))
	}
}

func TestCreateDirectoryAllIdempotent(t *testing.T) {
	v := newTestVault(t)
	id1, err := v.CreateDirectoryAll("x/y/z")
	if err != nil {
		t.Fatalf("first CreateDirectoryAll: %v", err)
	}
	id2, err := v.CreateDirectoryAll("x/y/z")
	if err != nil {
		t.Fatalf("second CreateDirectoryAll: %v", err)
	}
	if id1 != id2 {
		t.Errorf("CreateDirectoryAll not idempotent: %q != %q", id1, id2)
	}
}

func TestRenameSymmetry(t *testing.T) {
	v := newTestVault(t)
	if err := v.WriteFile("", "a", []byte("content")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := v.RenameFile("", "a", "b"); err != nil {
		t.Fatalf("rename a->b: %v", err)
	}
	if err := v.RenameFile("", "b", "a"); err != nil {
		t.Fatalf("rename b->a: %v", err)
	}
	got, err := v.ReadFile("", "a")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("content")) {
		t.Errorf("ReadFile = %q, want %q", got, "content")
	}
}

func TestDeleteDirectoryNotEmpty(t *testing.T) {
	v := newTestVault(t)
	dirID, err := v.CreateDirectory("", "d")
	if err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := v.WriteFile(dirID, "f", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := v.DeleteDirectory("", "d"); err != ErrDirectoryNotEmpty {
		t.Errorf("DeleteDirectory = %v, want ErrDirectoryNotEmpty", err)
	}
	if err := v.DeleteFile(dirID, "f"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := v.DeleteDirectory("", "d"); err != nil {
		t.Errorf("DeleteDirectory after empty: %v", err)
	}
}

func TestReadPastEOFReturnsEmpty(t *testing.T) {
	v := newTestVault(t)
	if err := v.WriteFile("", "f", []byte("short")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	r, err := v.OpenFile("", "f")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()
	got, err := r.Read(100, 10)
	if err != nil {
		t.Fatalf("Read past EOF: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Read past EOF = %v, want empty", got)
	}
}

func TestListEmptyDirectory(t *testing.T) {
	v := newTestVault(t)
	files, dirs, symlinks, err := v.ListAll("")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(files) != 0 || len(dirs) != 0 || len(symlinks) != 0 {
		t.Errorf("ListAll on empty vault = %v %v %v, want all empty", files, dirs, symlinks)
	}
}

func TestMetadataCacheServesGetEntryByPath(t *testing.T) {
	v := newTestVault(t)
	if err := v.WriteFile("", "cached.txt", []byte("v1")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entry, err := v.GetEntryByPath("cached.txt")
	if err != nil {
		t.Fatalf("GetEntryByPath: %v", err)
	}
	if entry.Type != EntryFile || entry.File.Name != "cached.txt" {
		t.Fatalf("GetEntryByPath = %+v, want a file named cached.txt", entry)
	}
	if stats := v.metaCache.Stats(); stats.Insertions == 0 {
		t.Errorf("metaCache.Stats().Insertions = 0, want at least 1")
	}
	// Second lookup should hit the cache.
	if _, err := v.GetEntryByPath("cached.txt"); err != nil {
		t.Fatalf("second GetEntryByPath: %v", err)
	}
	if stats := v.metaCache.Stats(); stats.Hits == 0 {
		t.Errorf("metaCache.Stats().Hits = 0, want at least 1")
	}
}

func TestReadHandleCachesWholeFile(t *testing.T) {
	v := newTestVault(t)
	if err := v.WriteFile("", "r.txt", []byte("cache me")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	id, err := v.InsertReaderHandle("", "r.txt")
	if err != nil {
		t.Fatalf("InsertReaderHandle: %v", err)
	}
	first, err := v.ReadHandle(id)
	if err != nil {
		t.Fatalf("ReadHandle: %v", err)
	}
	if !bytes.Equal(first, []byte("cache me")) {
		t.Fatalf("ReadHandle = %q, want %q", first, "cache me")
	}
	second, err := v.ReadHandle(id)
	if err != nil {
		t.Fatalf("second ReadHandle: %v", err)
	}
	if !bytes.Equal(second, first) {
		t.Errorf("second ReadHandle = %q, want %q", second, first)
	}
	if err := v.ReleaseHandle(id); err != nil {
		t.Fatalf("ReleaseHandle: %v", err)
	}
	if _, err := v.ReadHandle(id); err != ErrHandleNotFound {
		t.Errorf("ReadHandle after release = %v, want ErrHandleNotFound", err)
	}
}

func TestShortenedNameRoundTrip(t *testing.T) {
	v := newTestVault(t)
	longName := ""
	for len(longName) < 250 {
		longName += "a-very-long-path-component-"
	}
	if err := v.WriteFile("", longName, []byte("shortened")); err != nil {
		t.Fatalf("WriteFile with long name: %v", err)
	}
	got, err := v.ReadFile("", longName)
	if err != nil {
		t.Fatalf("ReadFile with long name: %v", err)
	}
	if !bytes.Equal(got, []byte("shortened")) {
		t.Errorf("ReadFile = %q, want %q", got, "shortened")
	}
	if err := v.RenameFile("", longName, "short.txt"); err != nil {
		t.Fatalf("RenameFile shortened->short: %v", err)
	}
	got, err = v.ReadFile("", "short.txt")
	if err != nil {
		t.Fatalf("ReadFile after rename: %v", err)
	}
	if !bytes.Equal(got, []byte("shortened")) {
		t.Errorf("ReadFile after rename = %q, want %q", got, "shortened")
	}
}

func TestMoveAndRenameFileAcrossDirectories(t *testing.T) {
	v := newTestVault(t)
	srcID, err := v.CreateDirectory("", "src")
	if err != nil {
		t.Fatalf("CreateDirectory(src): %v", err)
	}
	dstID, err := v.CreateDirectory("", "dst")
	if err != nil {
		t.Fatalf("CreateDirectory(dst): %v", err)
	}
	if err := v.WriteFile(srcID, "a", []byte("payload")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := v.MoveAndRenameFile(srcID, "a", dstID, "b"); err != nil {
		t.Fatalf("MoveAndRenameFile: %v", err)
	}
	if _, err := v.FindFile(srcID, "a"); err != nil {
		t.Fatalf("FindFile(src, a): %v", err)
	}
	got, err := v.ReadFile(dstID, "b")
	if err != nil {
		t.Fatalf("ReadFile(dst, b): %v", err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Errorf("ReadFile = %q, want %q", got, "payload")
	}
}

func TestOpenNonexistentVault(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), []byte("pw"), Config{})
	if err != ErrVaultConfigInvalid {
		t.Errorf("Open missing vault = %v, want ErrVaultConfigInvalid", err)
	}
}
