package limits

import (
	"bytes"
	"errors"
	"testing"
)

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		maxSize int
		wantErr error
	}{
		{"valid message", []byte("hello"), 10, nil},
		{"at limit", bytes.Repeat([]byte{0x1}, 10), 10, nil},
		{"empty message", nil, 10, ErrMessageEmpty},
		{"over limit", bytes.Repeat([]byte{0x1}, 11), 10, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(tt.message, tt.maxSize)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFramePayload(t *testing.T) {
	if err := ValidateFramePayload(make([]byte, MaxFrameSize)); err != nil {
		t.Fatalf("payload at limit should pass: %v", err)
	}
	if err := ValidateFramePayload(make([]byte, MaxFrameSize+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("oversized payload should fail, got %v", err)
	}
}

func TestValidatePlaintextMessage(t *testing.T) {
	if err := ValidatePlaintextMessage([]byte("message")); err != nil {
		t.Fatalf("small plaintext should pass: %v", err)
	}
	if err := ValidatePlaintextMessage(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Fatalf("empty plaintext should fail, got %v", err)
	}
}
