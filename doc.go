// Package vault implements the encrypted, content-addressable storage
// engine behind a Cryptomator-compatible vault: an on-disk directory tree
// whose names, structure, and file bodies are all individually encrypted
// under a master key derived from a user passphrase.
//
// # Overview
//
// The package is a library, not a mount surface. Callers that want to
// expose a vault as a kernel filesystem, an FTP/WebDAV server, or an
// HTTP API build that adapter on top of the Vault API in vaultops.go;
// none of those adapters live here.
//
// # On-disk format
//
//	vault.cryptomator      - JWT-signed configuration (format, cipher combo, ...)
//	masterkey.cryptomator  - scrypt+RFC3394-wrapped master key
//	d/<2 chars>/<30 chars>/ - one storage directory per logical directory ID
//
// Within a directory's storage path, each entry is either a `<cipher>.c9r`
// file (a file), a `<cipher>.c9r/` directory containing `dir.c9r` (a
// subdirectory) or `symlink.c9r` (a symlink), or — when the ciphertext name
// would exceed the shortening threshold — a `<sha1>.c9s/` directory holding
// `name.c9s` plus one of the above.
//
// # Cipher combos
//
// SIV_GCM (default): AES-SIV for filenames, AES-256-GCM for file bodies.
// SIV_CTRMAC (legacy): AES-SIV for filenames, AES-CTR + HMAC-SHA256 for
// file bodies. Both chunk the plaintext body into 32 KiB pieces, each
// independently authenticated and bound to its index and the file's
// header nonce.
//
// # Concurrency
//
// The Vault API is synchronous: every operation that touches storage may
// block on I/O, and none of them hold the master key's scoped accessor
// past the call that needed it. Concurrent callers are safe — directory
// listing decrypts entries across a bounded goroutine pool
// (see dirindex.go), and chunk en/decryption can likewise run on a worker
// pool (see parallel.go) — but cancellation and deadlines are a caller
// concern, handled above this package by scheduler.Scheduler rather than
// threaded through every method as a context.Context. Random-access
// writes are buffered in memory (see writebuffer.go) because
// authenticated chunks cannot be rewritten in place without re-keying
// everything after them.
package vault
