package crypto

import (
	"strings"
	"testing"

	"github.com/fernet/fernet-go"
)

func TestSealOpen(t *testing.T) {
	s, err := NewSealer()
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	for _, plain := range []string{"s3cret", "pass with spaces", "ünïcödé", strings.Repeat("x", 500)} {
		tok, err := s.Seal(plain)
		if err != nil {
			t.Fatalf("Seal(%q): %v", plain, err)
		}
		if tok == plain || strings.Contains(tok, plain) {
			t.Errorf("token %q leaks plaintext", tok)
		}
		got, err := s.Open(tok)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != plain {
			t.Errorf("Open = %q, want %q", got, plain)
		}
	}
}

func TestSealEmpty(t *testing.T) {
	s, _ := NewSealer()
	tok, err := s.Seal("")
	if err != nil || tok != "" {
		t.Errorf("Seal(\"\") = %q, %v", tok, err)
	}
	got, err := s.Open("")
	if err != nil || got != "" {
		t.Errorf("Open(\"\") = %q, %v", got, err)
	}
}

func TestOpenWrongKey(t *testing.T) {
	a, _ := NewSealer()
	b, _ := NewSealer()
	tok, _ := a.Seal("s3cret")
	if _, err := b.Open(tok); err == nil {
		t.Error("expected error opening a token sealed with another key")
	}
	if _, err := a.Open("garbage"); err == nil {
		t.Error("expected error for garbage token")
	}
}

func TestNewSealerFromKey(t *testing.T) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		t.Fatal(err)
	}
	s1, err := NewSealerFromKey(k.Encode())
	if err != nil {
		t.Fatalf("NewSealerFromKey: %v", err)
	}
	s2, _ := NewSealerFromKey(k.Encode())
	tok, _ := s1.Seal("shared")
	if got, err := s2.Open(tok); err != nil || got != "shared" {
		t.Errorf("Open = %q, %v", got, err)
	}
	if _, err := NewSealerFromKey("not-a-key"); err == nil {
		t.Error("expected error for invalid key")
	}
}
