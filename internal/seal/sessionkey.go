// Package seal models the time-limited, wallet-signed session key that
// authorizes decryption-key retrieval without per-message approval. The
// gateway treats most of the key as opaque; only creation time and TTL
// participate in expiry math.
package seal

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSignature       = errors.New("seal: session key has no signature")
	ErrMissingField      = errors.New("seal: exported session key missing field")
	ErrBadCertificate    = errors.New("seal: certificate rejected")
	ErrEmptySignature    = errors.New("seal: empty signature")
	ErrSessionKeyExpired = errors.New("seal: session key expired")
)

// Exported is the serializable form of a session key. It is a loose map on
// purpose: the SDK may add fields we do not understand, and persistence
// must carry the ones it can and skip the ones it cannot.
type Exported map[string]any

type SessionKey struct {
	address        string
	packageID      string
	creationTimeMs int64
	ttlMin         int
	nonce          string
	certificate    string
	signature      []byte

	certifier Certifier
	now       func() time.Time
}

type CreateOptions struct {
	Address   string
	PackageID string
	TTLMin    int
	Certifier Certifier
	Now       func() time.Time
}

func Create(opts CreateOptions) (*SessionKey, error) {
	if opts.Address == "" {
		return nil, errors.New("seal: missing address")
	}
	if opts.PackageID == "" {
		return nil, errors.New("seal: missing package id")
	}
	if opts.TTLMin <= 0 {
		return nil, errors.New("seal: invalid ttl")
	}
	if opts.Certifier == nil {
		return nil, errors.New("seal: missing certifier")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	k := &SessionKey{
		address:        opts.Address,
		packageID:      opts.PackageID,
		creationTimeMs: now().UnixMilli(),
		ttlMin:         opts.TTLMin,
		nonce:          uuid.NewString(),
		certifier:      opts.Certifier,
		now:            now,
	}

	cert, err := opts.Certifier.Certify(k.address, k.packageID, k.nonce, k.creationTimeMs, k.ttlMin)
	if err != nil {
		return nil, fmt.Errorf("seal: certify: %w", err)
	}
	k.certificate = cert
	return k, nil
}

func (k *SessionKey) Address() string       { return k.address }
func (k *SessionKey) PackageID() string     { return k.packageID }
func (k *SessionKey) CreationTimeMs() int64 { return k.creationTimeMs }
func (k *SessionKey) TTLMin() int           { return k.ttlMin }

// PersonalMessage is the challenge the wallet owner approves. The wording
// matters to users reading the approval prompt, not to the protocol.
func (k *SessionKey) PersonalMessage() []byte {
	return []byte(fmt.Sprintf(
		"Accessing keys of package %s for %d minutes from %s, session key nonce %s",
		k.packageID, k.ttlMin, time.UnixMilli(k.creationTimeMs).UTC().Format(time.RFC3339), k.nonce,
	))
}

func (k *SessionKey) SetPersonalMessageSignature(signature []byte) error {
	if len(signature) == 0 {
		return ErrEmptySignature
	}
	k.signature = append([]byte(nil), signature...)
	return nil
}

func (k *SessionKey) HasSignature() bool { return len(k.signature) > 0 }

func (k *SessionKey) ExpirationMs() int64 {
	return k.creationTimeMs + int64(k.ttlMin)*60_000
}

func (k *SessionKey) IsExpired() bool {
	return k.now().UnixMilli() >= k.ExpirationMs()
}

// Usable reports why the key cannot authorize decryption right now, or
// nil if it can. A signed key goes unusable the instant it expires.
func (k *SessionKey) Usable() error {
	if k.IsExpired() {
		return ErrSessionKeyExpired
	}
	if !k.HasSignature() {
		return ErrNoSignature
	}
	return nil
}

func (k *SessionKey) Export() Exported {
	return Exported{
		"address":        k.address,
		"packageId":      k.packageID,
		"creationTimeMs": k.creationTimeMs,
		"ttlMin":         k.ttlMin,
		"nonce":          k.nonce,
		"certificate":    k.certificate,
		"signature":      base64.StdEncoding.EncodeToString(k.signature),
	}
}

// Import rebuilds a session key from its exported form, re-verifying the
// certificate. It accepts unknown extra fields and rejects missing core
// ones; expiry is not checked here, callers do that explicitly.
func Import(exp Exported, certifier Certifier, now func() time.Time) (*SessionKey, error) {
	if certifier == nil {
		return nil, errors.New("seal: missing certifier")
	}
	if now == nil {
		now = time.Now
	}

	address, err := stringField(exp, "address")
	if err != nil {
		return nil, err
	}
	packageID, err := stringField(exp, "packageId")
	if err != nil {
		return nil, err
	}
	nonce, err := stringField(exp, "nonce")
	if err != nil {
		return nil, err
	}
	certificate, err := stringField(exp, "certificate")
	if err != nil {
		return nil, err
	}
	creationTimeMs, err := int64Field(exp, "creationTimeMs")
	if err != nil {
		return nil, err
	}
	ttlMin, err := int64Field(exp, "ttlMin")
	if err != nil {
		return nil, err
	}
	if ttlMin <= 0 {
		return nil, fmt.Errorf("%w: ttlMin", ErrMissingField)
	}

	if err := certifier.Verify(certificate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCertificate, err)
	}

	k := &SessionKey{
		address:        address,
		packageID:      packageID,
		creationTimeMs: creationTimeMs,
		ttlMin:         int(ttlMin),
		nonce:          nonce,
		certificate:    certificate,
		certifier:      certifier,
		now:            now,
	}

	if raw, ok := exp["signature"].(string); ok && raw != "" {
		sig, err := base64.StdEncoding.DecodeString(raw)
		if err == nil {
			k.signature = sig
		}
	}
	return k, nil
}

func stringField(exp Exported, name string) (string, error) {
	v, ok := exp[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return v, nil
}

// int64Field tolerates the numeric types JSON round-trips produce.
func int64Field(exp Exported, name string) (int64, error) {
	switch v := exp[name].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
}
