// Package credential verifies stored member credentials. Hashes carry a
// scheme prefix; verification dispatches on that prefix so legacy hashes keep
// working while new hashes are written with bcrypt.
package credential

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

// ErrUnknownScheme is returned when a stored hash uses no recognised scheme.
var ErrUnknownScheme = errors.New("credential: unknown hash scheme")

// ErrMismatch is returned when the secret does not match the stored hash.
var ErrMismatch = errors.New("credential: mismatch")

// Verifier checks a plaintext secret against a stored hash.
type Verifier interface {
	Verify(secret, stored string) error
}

type chain struct{}

// NewVerifier returns the default scheme chain: bcrypt, scrypt, then the
// legacy unsalted SHA-256 format kept for accounts that predate hashing
// upgrades. Plaintext comparison is deliberately not supported.
func NewVerifier() Verifier {
	return chain{}
}

func (chain) Verify(secret, stored string) error {
	switch {
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)); err != nil {
			return ErrMismatch
		}
		return nil
	case strings.HasPrefix(stored, "scrypt$"):
		return verifyScrypt(secret, stored)
	case strings.HasPrefix(stored, "sha256$"):
		return verifyLegacySHA256(secret, stored)
	default:
		return ErrUnknownScheme
	}
}

// Hash produces a bcrypt hash for new credentials.
func Hash(secret string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("credential: hash: %w", err)
	}
	return string(out), nil
}

// verifyScrypt handles the format scrypt$N$r$p$hexsalt$hexkey.
func verifyScrypt(secret, stored string) error {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 {
		return ErrUnknownScheme
	}
	var n, r, p int
	if _, err := fmt.Sscanf(parts[1]+" "+parts[2]+" "+parts[3], "%d %d %d", &n, &r, &p); err != nil {
		return ErrUnknownScheme
	}
	salt, err := hex.DecodeString(parts[4])
	if err != nil {
		return ErrUnknownScheme
	}
	want, err := hex.DecodeString(parts[5])
	if err != nil {
		return ErrUnknownScheme
	}
	got, err := scrypt.Key([]byte(secret), salt, n, r, p, len(want))
	if err != nil {
		return ErrUnknownScheme
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMismatch
	}
	return nil
}

// verifyLegacySHA256 handles the format sha256$hexdigest.
func verifyLegacySHA256(secret, stored string) error {
	want := strings.TrimPrefix(stored, "sha256$")
	sum := sha256.Sum256([]byte(secret))
	got := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrMismatch
	}
	return nil
}
