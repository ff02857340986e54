// Package cryptoutil provides the primitives the session store and token
// vault build on: random ids, HMAC signing, HKDF key derivation, and
// AES-256-GCM envelope encryption.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// GCMNonceSize is the IV length required by EncryptAESGCM/DecryptAESGCM.
const GCMNonceSize = 12

// GCMTagSize is the authentication tag length produced by EncryptAESGCM.
const GCMTagSize = 16

// RandomUUID returns a fresh, cryptographically random 128-bit identifier.
func RandomUUID() string {
	return uuid.NewString()
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("cryptoutil: read random bytes: %w", err)
	}
	return b, nil
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HMACSHA256 returns the HMAC-SHA-256 MAC of data under key.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// HKDFSHA256 derives length bytes from ikm using HKDF with the given salt
// and info, per RFC 5869, using SHA-256 as the underlying hash.
func HKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("cryptoutil: hkdf expand: %w", err)
	}
	return out, nil
}

// EncryptAESGCM seals plaintext under key (must be 32 bytes) using iv (must
// be GCMNonceSize bytes). It returns the ciphertext and the authentication
// tag separately, matching the vault's {iv, ciphertext, tag} wire envelope.
func EncryptAESGCM(key, plaintext, iv []byte) (ciphertext, tag []byte, err error) {
	if len(iv) != GCMNonceSize {
		return nil, nil, fmt.Errorf("cryptoutil: iv must be %d bytes, got %d", GCMNonceSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, GCMTagSize)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: new gcm: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-GCMTagSize]
	t := sealed[len(sealed)-GCMTagSize:]
	return ct, t, nil
}

// DecryptAESGCM opens a ciphertext/tag pair produced by EncryptAESGCM. A
// tag mismatch (corruption or tampering) is reported as ErrAuthentication;
// callers that treat this as "missing" per the vault's corruption policy
// should check errors.Is(err, ErrAuthentication).
func DecryptAESGCM(key, ciphertext, iv, tag []byte) ([]byte, error) {
	if len(iv) != GCMNonceSize {
		return nil, fmt.Errorf("cryptoutil: iv must be %d bytes, got %d", GCMNonceSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, GCMTagSize)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new gcm: %w", err)
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decrypt: %w: %w", ErrAuthentication, err)
	}
	return plaintext, nil
}

// ErrAuthentication indicates an AES-GCM tag mismatch: the ciphertext was
// tampered with or the wrong key was used.
var ErrAuthentication = errors.New("cryptoutil: authentication failed")

// TimingSafeEqual reports whether a and b are equal, in time independent of
// their contents (but not their length).
func TimingSafeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
