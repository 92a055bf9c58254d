package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/crypto/scrypt"
)

func TestBcryptRoundtrip(t *testing.T) {
	stored, err := Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	v := NewVerifier()
	if err := v.Verify("correct horse battery staple", stored); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := v.Verify("wrong", stored); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestLegacySHA256(t *testing.T) {
	sum := sha256.Sum256([]byte("legacy-secret"))
	stored := "sha256$" + hex.EncodeToString(sum[:])

	v := NewVerifier()
	if err := v.Verify("legacy-secret", stored); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := v.Verify("other", stored); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestScrypt(t *testing.T) {
	salt := []byte("0123456789abcdef")
	key, err := scrypt.Key([]byte("scrypt-secret"), salt, 1024, 8, 1, 32)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	stored := fmt.Sprintf("scrypt$1024$8$1$%s$%s", hex.EncodeToString(salt), hex.EncodeToString(key))

	v := NewVerifier()
	if err := v.Verify("scrypt-secret", stored); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := v.Verify("nope", stored); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if err := v.Verify("scrypt-secret", "scrypt$not$a$real$hash"); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme for malformed hash, got %v", err)
	}
}

func TestUnknownScheme(t *testing.T) {
	v := NewVerifier()
	for _, stored := range []string{"", "plaintext-password", "md5$abc", "$1$old-crypt"} {
		if err := v.Verify("anything", stored); !errors.Is(err, ErrUnknownScheme) {
			t.Fatalf("stored %q: expected ErrUnknownScheme, got %v", stored, err)
		}
	}
}
