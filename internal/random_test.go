package internal

import (
	"errors"
	"testing"
)

// FuzzDecodeRefreshToken feeds arbitrary strings to the refresh token
// decoder. It must never panic, and anything it accepts must round-trip.
func FuzzDecodeRefreshToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")

	if id, err := NewRecordID(); err == nil {
		if secret, err := NewRefreshSecret(); err == nil {
			f.Add(EncodeRefreshToken(id, secret))
		}
	}

	f.Fuzz(func(t *testing.T, input string) {
		id, secret, err := DecodeRefreshToken(input)
		if err != nil {
			if !errors.Is(err, ErrMalformedToken) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		id2, secret2, err := DecodeRefreshToken(EncodeRefreshToken(id, secret))
		if err != nil {
			t.Fatalf("round trip failed: %v", err)
		}
		if id2 != id || secret2 != secret {
			t.Fatal("round trip changed the token")
		}
	})
}

func TestRecordIDsSortByIssueOrder(t *testing.T) {
	prev, err := NewRecordID()
	if err != nil {
		t.Fatalf("NewRecordID failed: %v", err)
	}
	for i := 0; i < 100; i++ {
		next, err := NewRecordID()
		if err != nil {
			t.Fatalf("NewRecordID failed: %v", err)
		}
		if next.String() <= prev.String() {
			t.Fatalf("ids not monotonic: %s then %s", prev, next)
		}
		parsed, err := ParseRecordID(next.String())
		if err != nil || parsed != next {
			t.Fatalf("ParseRecordID(%s) = %v, %v", next, parsed, err)
		}
		prev = next
	}
}

func TestRefreshSecretHashIsStable(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	if HashRefreshSecret(secret) != HashRefreshSecret(secret) {
		t.Fatal("hash must be deterministic")
	}
	other, _ := NewRefreshSecret()
	if HashRefreshSecret(secret) == HashRefreshSecret(other) {
		t.Fatal("distinct secrets must hash differently")
	}
}
