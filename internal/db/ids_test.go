package db

import (
	"strings"
	"testing"
)

func TestGenerateID(t *testing.T) {
	first, err := GenerateID("usr")
	if err != nil {
		t.Fatalf("GenerateID() error = %v", err)
	}
	second, err := GenerateID("usr")
	if err != nil {
		t.Fatalf("GenerateID() error = %v", err)
	}

	if !strings.HasPrefix(first, "usr_") {
		t.Fatalf("id = %q, want usr_ prefix", first)
	}
	if first == second {
		t.Fatal("two generated IDs are identical")
	}
}
