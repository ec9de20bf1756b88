package vault

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// randomKeyAccess builds a KeyAccess over freshly generated key halves,
// the same shape WithKey hands a closure.
func randomKeyAccess(t *testing.T) KeyAccess {
	t.Helper()
	enc := make([]byte, MasterKeySize)
	mac := make([]byte, MasterKeySize)
	if _, err := rand.Read(enc); err != nil {
		t.Fatalf("generating encrypt key: %v", err)
	}
	if _, err := rand.Read(mac); err != nil {
		t.Fatalf("generating mac key: %v", err)
	}
	return KeyAccess{EncryptKey: enc, MacKey: mac}
}

func TestSIVCipher_NameRoundTrip(t *testing.T) {
	siv, err := newSIVCipher(randomKeyAccess(t))
	if err != nil {
		t.Fatalf("newSIVCipher: %v", err)
	}

	tests := []struct {
		name     string
		filename string
		parent   string
	}{
		{"simple name", "report.txt", "parent-dir-id"},
		{"empty name", "", "parent-dir-id"},
		{"root parent", "report.txt", ""},
		{"long name", string(bytes.Repeat([]byte("a"), 300)), "parent-dir-id"},
		{"single byte", "x", "parent-dir-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext := siv.EncryptName([]byte(tt.filename), []byte(tt.parent))
			if len(ciphertext) < len(tt.filename)+16 {
				t.Errorf("ciphertext too short: got %d, want at least %d", len(ciphertext), len(tt.filename)+16)
			}

			plaintext, err := siv.DecryptName(ciphertext, []byte(tt.parent))
			if err != nil {
				t.Fatalf("DecryptName: %v", err)
			}
			if string(plaintext) != tt.filename {
				t.Errorf("got %q, want %q", plaintext, tt.filename)
			}
		})
	}
}

func TestSIVCipher_Deterministic(t *testing.T) {
	siv, err := newSIVCipher(randomKeyAccess(t))
	if err != nil {
		t.Fatalf("newSIVCipher: %v", err)
	}

	name := []byte("deterministic.txt")
	parent := []byte("dir-id")

	first := siv.EncryptName(name, parent)
	second := siv.EncryptName(name, parent)
	if !bytes.Equal(first, second) {
		t.Errorf("SIV encryption is not deterministic:\nfirst:  %x\nsecond: %x", first, second)
	}
}

func TestSIVCipher_WrongParentRejected(t *testing.T) {
	siv, err := newSIVCipher(randomKeyAccess(t))
	if err != nil {
		t.Fatalf("newSIVCipher: %v", err)
	}

	ciphertext := siv.EncryptName([]byte("secret.txt"), []byte("dir-a"))

	if _, err := siv.DecryptName(ciphertext, []byte("dir-b")); err != ErrAuthFailed {
		t.Errorf("expected ErrAuthFailed decrypting under the wrong parent, got %v", err)
	}

	plaintext, err := siv.DecryptName(ciphertext, []byte("dir-a"))
	if err != nil {
		t.Fatalf("DecryptName with correct parent failed: %v", err)
	}
	if string(plaintext) != "secret.txt" {
		t.Errorf("got %q", plaintext)
	}
}

func TestSIVCipher_TamperedCiphertextRejected(t *testing.T) {
	siv, err := newSIVCipher(randomKeyAccess(t))
	if err != nil {
		t.Fatalf("newSIVCipher: %v", err)
	}

	ciphertext := siv.EncryptName([]byte("important.txt"), []byte("dir-id"))
	tampered := append([]byte(nil), ciphertext...)
	tampered[len(tampered)-1] ^= 0x01

	if _, err := siv.DecryptName(tampered, []byte("dir-id")); err != ErrAuthFailed {
		t.Errorf("expected ErrAuthFailed for tampered ciphertext, got %v", err)
	}
}

func TestSIVCipher_InvalidKeySize(t *testing.T) {
	tests := []struct {
		name     string
		enc, mac int
	}{
		{"too short", 16, 16},
		{"too long", 48, 48},
		{"empty", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			access := KeyAccess{EncryptKey: make([]byte, tt.enc), MacKey: make([]byte, tt.mac)}
			if _, err := newSIVCipher(access); err == nil {
				t.Error("newSIVCipher should have failed with invalid key size")
			}
		})
	}
}

func TestSIVCipher_ShortCiphertextRejected(t *testing.T) {
	siv, err := newSIVCipher(randomKeyAccess(t))
	if err != nil {
		t.Fatalf("newSIVCipher: %v", err)
	}

	if _, err := siv.DecryptName([]byte("short"), []byte("dir-id")); err == nil {
		t.Error("DecryptName should have failed with a ciphertext shorter than the SIV tag")
	}
}

// TestSIVCipher_DirIDHasNoAAD checks that EncryptDirID's "zero AAD
// components" really is a distinct case from EncryptName's "one AAD
// component, zero bytes long" — not just two call sites that happen to
// feed in the same bytes.
func TestSIVCipher_DirIDHasNoAAD(t *testing.T) {
	siv, err := newSIVCipher(randomKeyAccess(t))
	if err != nil {
		t.Fatalf("newSIVCipher: %v", err)
	}

	id := []byte("some-directory-id")
	a := siv.EncryptDirID(id)
	b := siv.EncryptDirID(id)
	if !bytes.Equal(a, b) {
		t.Errorf("dir-id encryption is not deterministic")
	}

	named := siv.EncryptName(id, nil)
	if bytes.Equal(a, named) {
		t.Errorf("dir-id (no AAD) and name (AAD present but empty) ciphertexts must differ")
	}
}

func BenchmarkSIVCipher_EncryptName(b *testing.B) {
	access := KeyAccess{EncryptKey: make([]byte, MasterKeySize), MacKey: make([]byte, MasterKeySize)}
	rand.Read(access.EncryptKey)
	rand.Read(access.MacKey)
	siv, _ := newSIVCipher(access)
	parent := []byte("dir-id")

	sizes := []int{16, 64, 256, 1024, 4096}
	for _, size := range sizes {
		b.Run(string(rune(size))+"B", func(b *testing.B) {
			name := make([]byte, size)
			rand.Read(name)

			b.ResetTimer()
			b.SetBytes(int64(size))
			for i := 0; i < b.N; i++ {
				siv.EncryptName(name, parent)
			}
		})
	}
}

func BenchmarkSIVCipher_DecryptName(b *testing.B) {
	access := KeyAccess{EncryptKey: make([]byte, MasterKeySize), MacKey: make([]byte, MasterKeySize)}
	rand.Read(access.EncryptKey)
	rand.Read(access.MacKey)
	siv, _ := newSIVCipher(access)
	parent := []byte("dir-id")

	sizes := []int{16, 64, 256, 1024, 4096}
	for _, size := range sizes {
		b.Run(string(rune(size))+"B", func(b *testing.B) {
			name := make([]byte, size)
			rand.Read(name)
			ciphertext := siv.EncryptName(name, parent)

			b.ResetTimer()
			b.SetBytes(int64(size))
			for i := 0; i < b.N; i++ {
				siv.DecryptName(ciphertext, parent)
			}
		})
	}
}
