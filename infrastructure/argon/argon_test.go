package argon

import (
	"errors"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(DefaultParams)
	hash, err := h.Hash("secret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ok, err := h.Verify("secret-pass", hash)
	if err != nil || !ok {
		t.Fatalf("expected password to match, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong", hash)
	if err != nil || ok {
		t.Fatalf("expected password mismatch, ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := NewHasher(DefaultParams)
	if _, err := h.Verify("x", "$bcrypt$nope"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := NewHasher(Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	hash, err := weak.Hash("secret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !NewHasher(DefaultParams).NeedsRehash(hash) {
		t.Fatalf("expected weaker hash to need rehash")
	}
	if weak.NeedsRehash(hash) {
		t.Fatalf("same params must not need rehash")
	}
}

func TestCheckPolicy(t *testing.T) {
	if err := CheckPolicy("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password error")
	}
	if err := CheckPolicy("Admin123!Curetrack"); err != nil {
		t.Fatalf("expected strong password to pass: %v", err)
	}
}
