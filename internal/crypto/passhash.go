// Package crypto hashes account passwords with Argon2id.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // KiB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-user salt size.
	SaltLen = 16
)

// fixed salt for dummy work on unknown usernames
var decoySalt = make([]byte, SaltLen)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns the Argon2id key of password under salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewCredential draws a fresh salt and hashes password with it.
func NewCredential(password string) (salt, hash []byte, err error) {
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, err
	}
	return salt, HashPassword([]byte(password), salt), nil
}

// VerifyPassword reports whether password hashes to expected under salt.
// An empty expected hash never matches.
func VerifyPassword(password, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// Decoy spends the same work as VerifyPassword and always reports false.
// Login calls it for unknown usernames so both failures take equally long.
func Decoy(password []byte) bool {
	_ = HashPassword(password, decoySalt)
	return false
}
