package wallet

import (
	"context"
	"strings"
	"testing"
)

func TestLocal_SignAndVerify(t *testing.T) {
	w, err := NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if !strings.HasPrefix(w.Address(), "0x") {
		t.Fatalf("expected 0x-prefixed address, got %q", w.Address())
	}

	msg := []byte("session credential challenge")
	sig, err := w.SignPersonalMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("SignPersonalMessage: %v", err)
	}

	if err := VerifyPersonalMessage(w.PublicKeyB64(), msg, sig); err != nil {
		t.Fatalf("VerifyPersonalMessage: %v", err)
	}
}

func TestLocal_Reject(t *testing.T) {
	w, err := NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	w.Reject = true

	_, err = w.SignPersonalMessage(context.Background(), []byte("m"))
	if err != ErrSigningRejected {
		t.Fatalf("expected ErrSigningRejected, got %v", err)
	}
}

func TestVerifyPersonalMessage_WrongMessage(t *testing.T) {
	w, err := NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	sig, err := w.SignPersonalMessage(context.Background(), []byte("a"))
	if err != nil {
		t.Fatalf("SignPersonalMessage: %v", err)
	}
	if err := VerifyPersonalMessage(w.PublicKeyB64(), []byte("b"), sig); err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyPersonalMessage_BadPublicKey(t *testing.T) {
	if err := VerifyPersonalMessage("not-base64!", []byte("m"), make([]byte, 64)); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}
