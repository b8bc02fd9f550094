package seal

import (
	"bytes"
	"errors"
	"testing"
)

func TestAgeSealerRoundTrip(t *testing.T) {
	sealer, identity, err := GenerateAgeSealer()
	if err != nil {
		t.Fatalf("generate sealer: %v", err)
	}

	plaintext := []byte("-----BEGIN CERTIFICATE-----\nMIIB...\n-----END CERTIFICATE-----\n")
	sealed, err := sealer.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(sealed, plaintext) {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}

	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("expected round trip to recover plaintext")
	}

	// A sealer built from the persisted identity opens the same blob.
	restored, err := NewAgeSealer(identity)
	if err != nil {
		t.Fatalf("restore sealer: %v", err)
	}
	opened, err = restored.Open(sealed)
	if err != nil {
		t.Fatalf("open with restored identity: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("expected restored identity to recover plaintext")
	}
}

func TestNoopSealerRefusesOpen(t *testing.T) {
	var s Sealer = Noop{}
	sealed, err := s.Seal([]byte("already-encrypted"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if string(sealed) != "already-encrypted" {
		t.Fatalf("expected noop seal to pass through")
	}
	if _, err := s.Open(sealed); !errors.Is(err, ErrSealingDisabled) {
		t.Fatalf("expected sealing_disabled, got %v", err)
	}
}
