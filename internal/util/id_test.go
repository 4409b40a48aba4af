package util

import (
	"strings"
	"testing"
)

func TestNewSessionIDShape(t *testing.T) {
	id := NewSessionID()
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "session" {
		t.Fatalf("unexpected session id shape: %q", id)
	}
	if len(parts[2]) != 8 {
		t.Fatalf("expected 8-char suffix, got %q", parts[2])
	}
	if NewSessionID() == "" {
		t.Fatal("expected non-empty id")
	}
}

func TestNewIDUnique(t *testing.T) {
	if NewID() == NewID() {
		t.Fatal("expected distinct ids")
	}
}
