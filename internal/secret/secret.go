// Package secret provides an opaque string type for values that must
// never be logged or serialized in the clear (private keys, DSNs), plus
// the symmetric decryption helper used to unwrap the bot's signing key
// from its encrypted-at-rest form.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// String wraps a sensitive value so that fmt/log accidentally printing
// it produces a redacted placeholder instead of the actual secret.
type String string

// String implements fmt.Stringer, always returning a redacted placeholder.
func (String) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer for the same reason %#v triggers it.
func (String) GoString() string { return "[REDACTED]" }

// Reveal returns the underlying value. Every call site that calls this
// is a deliberate boundary crossing (signing a tx, opening a DB
// connection) and should not log the result.
func (s String) Reveal() string { return string(s) }

// Decrypt unwraps a hex-encoded AES-256-GCM ciphertext using key,
// expected to be a 32-byte (hex or raw) symmetric key. This is how the
// bot's encrypted-at-rest private key is recovered at startup from the
// ENC_PK/KEY environment pair.
func Decrypt(key []byte, ciphertextHex string) (String, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	keyHash := sha256.Sum256(key)
	block, err := aes.NewCipher(keyHash[:])
	if err != nil {
		return "", fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("build gcm: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return String(plaintext), nil
}
