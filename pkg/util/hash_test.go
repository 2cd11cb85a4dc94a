package util

import "testing"

func TestHash256Deterministic(t *testing.T) {
	a := Hash256([]byte("hello"))
	b := Hash256([]byte("hello"))
	if a != b {
		t.Error("Hash256 is not deterministic for identical input")
	}
	if Hash256([]byte("hello")) == Hash256([]byte("hellp")) {
		t.Error("Hash256 collided on distinct input")
	}
}

func TestHashToHex(t *testing.T) {
	h := Hash256([]byte("round-trip"))
	s := HashToHex(h)
	if len(s) != 64 {
		t.Errorf("HashToHex length = %d, want 64", len(s))
	}
}

func TestIsZeroHash(t *testing.T) {
	var zero [32]byte
	if !IsZeroHash(zero) {
		t.Error("zero hash not recognized")
	}
	if IsZeroHash(Hash256([]byte("x"))) {
		t.Error("non-zero hash misclassified as zero")
	}
}

func TestLessHash(t *testing.T) {
	a := [32]byte{0x01}
	b := [32]byte{0x02}
	if !LessHash(a, b) {
		t.Error("expected a < b")
	}
	if LessHash(b, a) {
		t.Error("expected b not < a")
	}
	if LessHash(a, a) {
		t.Error("expected a not < a")
	}
}
