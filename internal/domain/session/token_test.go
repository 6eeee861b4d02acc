package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenCodecRoundTrip(t *testing.T) {
	codec, err := NewTokenCodec("unit-test-secret")
	if err != nil {
		t.Fatalf("NewTokenCodec error: %v", err)
	}

	token, err := codec.Sign("sess-123", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	sid, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if sid != "sess-123" {
		t.Fatalf("unexpected session id: %s", sid)
	}
}

func TestTokenCodecRejectsEmptySecret(t *testing.T) {
	if _, err := NewTokenCodec(""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestTokenCodecRejectsTampering(t *testing.T) {
	codec, err := NewTokenCodec("unit-test-secret")
	if err != nil {
		t.Fatalf("NewTokenCodec error: %v", err)
	}
	token, err := codec.Sign("sess-123", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"flipped payload byte", flipPayloadByte(t, token)},
		{"garbage", "not-a-token"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Verify(tt.token); !errors.Is(err, ErrSessionInvalid) {
				t.Fatalf("expected ErrSessionInvalid, got %v", err)
			}
		})
	}
}

func TestTokenCodecRejectsForeignKey(t *testing.T) {
	signer, _ := NewTokenCodec("secret-a")
	verifier, _ := NewTokenCodec("secret-b")

	token, err := signer.Sign("sess-123", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}

func TestTokenCodecExpiry(t *testing.T) {
	codec, _ := NewTokenCodec("unit-test-secret")
	token, err := codec.Sign("sess-123", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func flipPayloadByte(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 || len(parts[1]) == 0 {
		t.Fatalf("unexpected token shape: %s", token)
	}
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	parts[1] = string(payload)
	return strings.Join(parts, ".")
}
