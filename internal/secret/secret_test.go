package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func seal(t *testing.T, key []byte, plaintext string) string {
	t.Helper()
	keyHash := sha256.Sum256(key)
	block, err := aes.NewCipher(keyHash[:])
	assert.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	assert.NoError(t, err)

	nonce := make([]byte, gcm.NonceSize())
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed)
}

func TestDecryptRoundTrip(t *testing.T) {
	key := []byte("test-passphrase")
	ciphertext := seal(t, key, "0xabc123privatekey")

	revealed, err := Decrypt(key, ciphertext)
	assert.NoError(t, err)
	assert.Equal(t, "0xabc123privatekey", revealed.Reveal())
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	ciphertext := seal(t, []byte("correct-key"), "secret-value")

	_, err := Decrypt([]byte("wrong-key"), ciphertext)
	assert.Error(t, err)
}

func TestDecryptFailsOnInvalidHex(t *testing.T) {
	_, err := Decrypt([]byte("key"), "not-valid-hex")
	assert.Error(t, err)
}

func TestStringNeverPrintsRawValue(t *testing.T) {
	s := String("super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", s.GoString())
	assert.Equal(t, "super-secret", s.Reveal())
}
