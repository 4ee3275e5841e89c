// Package wallet abstracts the connected account and its personal-message
// signing operation. The gateway core never sees key material, only an
// address and a sign call that may be rejected.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrSigningRejected  = errors.New("wallet: signing rejected")
	ErrInvalidPublicKey = errors.New("wallet: invalid public key")
	ErrInvalidSignature = errors.New("wallet: invalid signature")
)

type Signer interface {
	Address() string
	// SignPersonalMessage asks the wallet to sign an arbitrary message.
	// Approval is interactive on a real wallet; rejection surfaces as an
	// error, never a partial signature.
	SignPersonalMessage(ctx context.Context, message []byte) ([]byte, error)
}

// Local is an in-process ed25519 wallet used by dev mode and tests.
type Local struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string

	// Reject makes every sign call fail, simulating a user declining the
	// approval prompt.
	Reject bool
}

func NewLocal() (*Local, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	sum := sha256.Sum256(pub)
	return &Local{
		priv:    priv,
		pub:     pub,
		address: "0x" + hex.EncodeToString(sum[:]),
	}, nil
}

func (l *Local) Address() string { return l.address }

func (l *Local) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(l.pub)
}

func (l *Local) SignPersonalMessage(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Reject {
		return nil, ErrSigningRejected
	}
	return ed25519.Sign(l.priv, message), nil
}

// VerifyPersonalMessage checks a signature produced by a Local wallet.
func VerifyPersonalMessage(publicKeyB64 string, message, signature []byte) error {
	publicKey, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	if len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
		return ErrInvalidSignature
	}
	return nil
}
