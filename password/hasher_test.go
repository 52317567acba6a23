package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Verify("legacy-password", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy hash to verify, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("not-the-password", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}

	upgrade, err := h.NeedsUpgrade(string(legacy))
	if err != nil || !upgrade {
		t.Fatalf("bcrypt hash must need upgrade, got %v err=%v", upgrade, err)
	}
}

func TestHasherArgonHashDoesNotNeedUpgrade(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	hash, err := h.Hash("fresh-password-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if IsBcrypt(hash) {
		t.Fatal("new hashes must be argon2id")
	}
	upgrade, err := h.NeedsUpgrade(hash)
	if err != nil || upgrade {
		t.Fatalf("fresh hash should not need upgrade, got %v err=%v", upgrade, err)
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	if _, err := h.Hash("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestHasherRefusesOverLongPasswordForBothFormats(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	long := strings.Repeat("z", MaxLength+1)

	legacy, err := bcrypt.GenerateFromPassword([]byte(long[:60]), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if ok, err := h.Verify(long, string(legacy)); err != nil || ok {
		t.Fatalf("over-long bcrypt verify: ok=%v err=%v", ok, err)
	}

	current, err := h.Hash(long[:MaxLength])
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if ok, err := h.Verify(long, current); err != nil || ok {
		t.Fatalf("over-long argon2 verify: ok=%v err=%v", ok, err)
	}
	if _, err := h.Hash(long); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}
