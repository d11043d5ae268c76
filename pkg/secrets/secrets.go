// Package secrets generates and verifies credential secrets. Secret material
// is never stored in clear; callers keep only the derived hash and salt.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2-SHA256 parameters. Changing these invalidates stored hashes.
const (
	pbkdf2Iterations = 100_000
	saltBytes        = 16
	hashBytes        = 32
)

// Random returns n cryptographically random bytes as unpadded URL-safe
// base64.
func Random(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash derives a PBKDF2-SHA256 hash of the secret with a fresh salt. Both
// return values are unpadded URL-safe base64.
func Hash(secret string) (hash, salt string, err error) {
	saltRaw := make([]byte, saltBytes)
	if _, err := rand.Read(saltRaw); err != nil {
		return "", "", fmt.Errorf("reading salt bytes: %w", err)
	}
	derived := pbkdf2.Key([]byte(secret), saltRaw, pbkdf2Iterations, hashBytes, sha256.New)
	return base64.RawURLEncoding.EncodeToString(derived), base64.RawURLEncoding.EncodeToString(saltRaw), nil
}

// Verify re-derives the hash from the presented secret and stored salt and
// compares in constant time.
func Verify(secret, hash, salt string) bool {
	saltRaw, err := base64.RawURLEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	want, err := base64.RawURLEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	derived := pbkdf2.Key([]byte(secret), saltRaw, pbkdf2Iterations, hashBytes, sha256.New)
	return subtle.ConstantTimeCompare(derived, want) == 1
}

// Digest returns the unpadded URL-safe base64 SHA-256 of value. Refresh
// tokens are indexed by this.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
