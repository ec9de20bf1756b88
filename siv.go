package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// sivCipher is the name layer's AES-SIV (RFC 5297) engine: deterministic,
// authenticated encryption keyed from the vault's MAC and encryption
// halves. Unlike a general-purpose SIV wrapper taking an arbitrary list of
// associated-data components, it only exposes the two shapes the name
// layer actually needs — no associated data for a directory ID, the
// parent directory ID for a filename — as named methods, so a caller can't
// accidentally encrypt a name with the wrong AAD arity.
type sivCipher struct {
	cmacBlock cipher.Block // keyed with the MAC half; drives S2V's internal CMAC
	ctrBlock  cipher.Block // keyed with the encryption half; drives the CTR keystream
	subkeyOne []byte       // CMAC subkey K1, precomputed once per cipher instance
	subkeyTwo []byte       // CMAC subkey K2, precomputed once per cipher instance
}

// newSIVCipher builds the name layer's SIV engine from a scoped key
// borrow. access.sivKey() concatenates the MAC half and the encryption
// half (64 bytes total), per rclone's cryptomator backend convention.
func newSIVCipher(access KeyAccess) (*sivCipher, error) {
	key := access.sivKey()
	if len(key) != 64 {
		return nil, NewValidationError("siv_key", len(key), "AES-SIV requires a 64-byte key")
	}
	cmacBlock, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, fmt.Errorf("building S2V block cipher: %w", err)
	}
	ctrBlock, err := aes.NewCipher(key[32:])
	if err != nil {
		return nil, fmt.Errorf("building CTR block cipher: %w", err)
	}
	k1, k2 := cmacSubkeys(cmacBlock)
	return &sivCipher{cmacBlock: cmacBlock, ctrBlock: ctrBlock, subkeyOne: k1, subkeyTwo: k2}, nil
}

// EncryptDirID seals a directory ID with no associated data, per spec.md's
// dir-id hashing scheme: base32(sha1(siv_encrypt(key, aad=[], id))).
func (c *sivCipher) EncryptDirID(id []byte) []byte {
	return c.seal(id, false, nil)
}

// EncryptName seals a logical filename, bound to its parent directory's
// ID as associated data so the same name encrypts differently under each
// parent (the root directory's empty ID still counts as a present, if
// zero-length, AAD component).
func (c *sivCipher) EncryptName(name, parentID []byte) []byte {
	return c.seal(name, true, parentID)
}

// DecryptName reverses EncryptName, rejecting with ErrAuthFailed if
// ciphertext doesn't recompute to the same SIV under parentID — the same
// failure a name encrypted under the wrong parent, or simply corrupted,
// produces.
func (c *sivCipher) DecryptName(ciphertext, parentID []byte) ([]byte, error) {
	return c.open(ciphertext, true, parentID)
}

// seal implements RFC 5297 AES-SIV: S2V produces a synthetic IV over
// plaintext (and aad, when hasAAD), then CTR mode encrypts under it with
// the top bit of each IV half cleared (RFC 5297 §2.5).
func (c *sivCipher) seal(plaintext []byte, hasAAD bool, aad []byte) []byte {
	siv := c.s2v(plaintext, hasAAD, aad)
	ciphertext := make([]byte, len(plaintext))
	c.xorKeystream(siv, plaintext, ciphertext)
	out := make([]byte, 16+len(ciphertext))
	copy(out[:16], siv)
	copy(out[16:], ciphertext)
	return out
}

func (c *sivCipher) open(ciphertext []byte, hasAAD bool, aad []byte) ([]byte, error) {
	if len(ciphertext) < 16 {
		return nil, NewValidationError("siv_ciphertext", len(ciphertext), "ciphertext shorter than the 16-byte SIV tag")
	}
	tag, body := ciphertext[:16], ciphertext[16:]
	plaintext := make([]byte, len(body))
	c.xorKeystream(tag, body, plaintext)
	if subtle.ConstantTimeCompare(tag, c.s2v(plaintext, hasAAD, aad)) != 1 {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// s2v computes the synthetic IV per RFC 5297 §2.4. hasAAD distinguishes
// "zero associated-data components" (dir-id encryption) from "one
// associated-data component, possibly of zero length" (name encryption
// under the root's empty parent ID) — the two differ cryptographically,
// not just in the bytes fed in.
func (c *sivCipher) s2v(plaintext []byte, hasAAD bool, aad []byte) []byte {
	d := c.cmac(make([]byte, 16))
	if hasAAD {
		d = xorBlock(dbl(d), c.cmac(aad))
	}

	var final []byte
	if len(plaintext) >= 16 {
		final = append([]byte(nil), plaintext...)
		xorInto(final[len(final)-16:], d)
	} else {
		final = xorBlock(dbl(d), padBlock(plaintext))
	}
	return c.cmac(final)
}

// cmac is CMAC-AES (NIST SP 800-38B), keyed with cmacBlock and using the
// subkeys precomputed at construction time rather than re-derived on every
// call.
func (c *sivCipher) cmac(data []byte) []byte {
	blocks := (len(data) + 15) / 16
	if blocks == 0 {
		blocks = 1
	}

	last := make([]byte, 16)
	if len(data) == 0 || len(data)%16 != 0 {
		copy(last, data[16*(blocks-1):])
		last = padBlock(last[:len(data)%16])
		xorInto(last, c.subkeyTwo)
	} else {
		copy(last, data[16*(blocks-1):])
		xorInto(last, c.subkeyOne)
	}

	mac := make([]byte, 16)
	for i := 0; i < blocks-1; i++ {
		xorInto(mac, data[i*16:(i+1)*16])
		c.cmacBlock.Encrypt(mac, mac)
	}
	xorInto(mac, last)
	c.cmacBlock.Encrypt(mac, mac)
	return mac
}

// xorKeystream runs iv (with its SIV top bits cleared) as a CTR-mode
// keystream over src into dst.
func (c *sivCipher) xorKeystream(iv, src, dst []byte) {
	ctr := make([]byte, 16)
	copy(ctr, iv)
	ctr[8] &= 0x7f
	ctr[12] &= 0x7f
	cipher.NewCTR(c.ctrBlock, ctr).XORKeyStream(dst, src)
}

// cmacSubkeys derives CMAC's K1/K2 subkeys from block's encryption of the
// zero block, per SP 800-38B.
func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	l := make([]byte, 16)
	block.Encrypt(l, l)
	k1 = dbl(l)
	k2 = dbl(k1)
	return k1, k2
}

// dbl doubles block in GF(2^128), per RFC 5297 §2.2 / SP 800-38B.
func dbl(block []byte) []byte {
	out := make([]byte, 16)
	var carry uint64
	for i := 0; i < 2; i++ {
		offset := (1 - i) * 8
		v := binary.BigEndian.Uint64(block[offset : offset+8])
		binary.BigEndian.PutUint64(out[offset:offset+8], (v<<1)|carry)
		carry = v >> 63
	}
	if carry != 0 {
		out[15] ^= 0x87
	}
	return out
}

// padBlock applies CMAC's 10* padding to a final partial block.
func padBlock(data []byte) []byte {
	out := make([]byte, 16)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func xorBlock(a, b []byte) []byte {
	out := make([]byte, 16)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] ^= src[i]
	}
}
