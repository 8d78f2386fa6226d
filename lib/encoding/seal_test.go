package encoding

import (
	"errors"
	"testing"
)

// viewState mirrors the shape of a sealed table view.
type viewState struct {
	Query    string `msgpack:"q"`
	Offset   int    `msgpack:"o"`
	PageSize int    `msgpack:"n"`
	Desc     bool   `msgpack:"d"`
}

func TestNewSealer(t *testing.T) {
	// Should work with any key length (derives 32-byte key)
	if _, err := NewSealer([]byte("short")); err != nil {
		t.Fatalf("NewSealer with short key failed: %v", err)
	}

	if _, err := NewSealer([]byte("this-is-a-32-byte-key-for-aes!!!")); err != nil {
		t.Fatalf("NewSealer with 32-byte key failed: %v", err)
	}
}

func TestSealRoundTrip(t *testing.T) {
	s, err := NewSealer([]byte("test-key"))
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}

	original := viewState{Query: "acme", Offset: 40, PageSize: 20, Desc: true}

	for _, sensitive := range []bool{false, true} {
		token, err := s.Seal(original, sensitive)
		if err != nil {
			t.Fatalf("Seal(sensitive=%v) failed: %v", sensitive, err)
		}
		if token == "" {
			t.Fatal("Seal returned empty token")
		}

		var decoded viewState
		if err := s.Open(token, sensitive, &decoded); err != nil {
			t.Fatalf("Open(sensitive=%v) failed: %v", sensitive, err)
		}
		if decoded != original {
			t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
		}
	}
}

func TestOpenTamperedSignature(t *testing.T) {
	s, _ := NewSealer([]byte("test-key"))

	token, err := s.Seal(viewState{Query: "x"}, false)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	tampered := token[:len(token)-2] + "XX"

	var decoded viewState
	err = s.Open(tampered, false, &decoded)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestOpenTamperedCiphertext(t *testing.T) {
	s, _ := NewSealer([]byte("test-key"))

	token, err := s.Seal(viewState{Query: "x"}, true)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	tampered := token[:len(token)-2] + "XX"

	var decoded viewState
	if err := s.Open(tampered, true, &decoded); err == nil {
		t.Error("expected error for tampered ciphertext, got nil")
	}
}

func TestOpenInvalidFormat(t *testing.T) {
	s, _ := NewSealer([]byte("test-key"))

	var decoded viewState
	err := s.Open("invalidbase64withoutseparator", false, &decoded)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestDifferentKeysCannotOpen(t *testing.T) {
	s1, _ := NewSealer([]byte("key-one"))
	s2, _ := NewSealer([]byte("key-two"))

	token, err := s1.Seal(viewState{Offset: 3}, false)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	var decoded viewState
	if err := s2.Open(token, false, &decoded); err == nil {
		t.Error("expected error when opening with a different key")
	}
}
