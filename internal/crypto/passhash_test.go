package crypto

import (
	"bytes"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestHashPassword_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	pw := []byte("p@ssw0rd")
	salt := []byte("NaCl-16-bytes?")

	h1 := HashPassword(pw, salt)
	if len(h1) != int(argonKeyLen) {
		t.Fatalf("hash len=%d, want %d", len(h1), argonKeyLen)
	}
	if !bytes.Equal(h1, HashPassword(pw, salt)) {
		t.Fatalf("hash not deterministic for same input")
	}
	if bytes.Equal(h1, HashPassword(pw, []byte("another-salt----"))) {
		t.Fatalf("hash should differ when salt differs")
	}
	if bytes.Equal(h1, HashPassword([]byte("p@ssw0rd!"), salt)) {
		t.Fatalf("hash should differ when password differs")
	}
}

func TestNewCredential(t *testing.T) {
	t.Parallel()

	salt, hash, err := NewCredential("correct horse")
	if err != nil {
		t.Fatalf("NewCredential: %v", err)
	}
	if len(salt) != SaltLen {
		t.Fatalf("salt len=%d, want %d", len(salt), SaltLen)
	}
	if !VerifyPassword([]byte("correct horse"), salt, hash) {
		t.Fatalf("fresh credential does not verify")
	}

	salt2, hash2, _ := NewCredential("correct horse")
	if bytes.Equal(salt, salt2) || bytes.Equal(hash, hash2) {
		t.Fatalf("same password must get a fresh salt and hash")
	}
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	pw := []byte("correct horse battery staple")
	salt := []byte("salty-salt-123456")
	hash := HashPassword(pw, salt)

	if !VerifyPassword(pw, salt, hash) {
		t.Fatalf("VerifyPassword: expected true for correct password")
	}
	if VerifyPassword([]byte("wrong"), salt, hash) {
		t.Fatalf("VerifyPassword: expected false for wrong password")
	}
	if VerifyPassword(pw, []byte("wrong-salt"), hash) {
		t.Fatalf("VerifyPassword: expected false for wrong salt")
	}
	if VerifyPassword(pw, salt, nil) {
		t.Fatalf("VerifyPassword: empty stored hash must not match")
	}
}

func TestDecoy(t *testing.T) {
	t.Parallel()

	if Decoy([]byte("anything")) {
		t.Fatalf("Decoy must report false")
	}
}
