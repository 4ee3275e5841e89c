package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"sealchat-gateway/internal/seal"
	"sealchat-gateway/internal/wallet"
)

var (
	// ErrCredentialMint wraps any failure of the signing ceremony; the UI
	// surfaces it and waits for a manual retry.
	ErrCredentialMint = errors.New("session: credential mint failed")
	ErrMintInProgress = errors.New("session: mint already in progress")
	ErrNoAccount      = errors.New("session: no account connected")
)

type State int

const (
	StateEmpty State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Manager keeps at most one live session key in memory, for the currently
// connected account. Restoring a cached key never asks the wallet for
// anything; only MintNew runs the approval ceremony.
type Manager struct {
	mu sync.Mutex

	store     *Store
	certifier seal.Certifier
	signer    wallet.Signer
	packageID string
	ttlMin    int
	now       func() time.Time

	address string
	key     *seal.SessionKey
	state   State
	lastErr string
}

type ManagerOptions struct {
	Store     *Store
	Certifier seal.Certifier
	Signer    wallet.Signer
	PackageID string
	TTLMin    int
	Now       func() time.Time
}

func NewManager(opts ManagerOptions) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		store:     opts.Store,
		certifier: opts.Certifier,
		signer:    opts.Signer,
		packageID: opts.PackageID,
		ttlMin:    opts.TTLMin,
		now:       now,
		state:     StateEmpty,
	}
	m.store.SweepExpired()
	return m
}

// EnsureLoaded adopts a valid cached key for the account if one exists.
// With no usable cache the manager stays empty; minting requires an
// explicit user action.
func (m *Manager) EnsureLoaded(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.address = address
	m.key = nil
	m.state = StateEmpty
	m.lastErr = ""

	if address == "" {
		return
	}
	if cached := m.store.Load(address, m.packageID); cached != nil {
		m.key = cached
		m.state = StateReady
		log.Printf("session: restored cached key for %s", address)
	}
}

// OnAccountChanged is the account-change event hook: full teardown of the
// previous account's in-memory state, then a cache probe for the new one.
func (m *Manager) OnAccountChanged(address string) {
	m.EnsureLoaded(address)
}

// MintNew runs the signing ceremony: create an unsigned key, have the
// wallet sign its personal message, attach the signature, persist, adopt.
// On any failure no partial credential is retained.
func (m *Manager) MintNew(ctx context.Context, address string) error {
	m.mu.Lock()
	if address == "" {
		m.mu.Unlock()
		return ErrNoAccount
	}
	if m.state == StateInitializing {
		m.mu.Unlock()
		return ErrMintInProgress
	}
	m.address = address
	m.state = StateInitializing
	m.key = nil
	m.lastErr = ""
	m.mu.Unlock()

	key, err := m.mint(ctx, address)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.key = nil
		m.state = StateFailed
		m.lastErr = err.Error()
		return err
	}
	if m.address != address {
		// Account switched while the ceremony ran; the result belongs to
		// an abandoned account and must not be adopted.
		return nil
	}
	m.key = key
	m.state = StateReady
	return nil
}

func (m *Manager) mint(ctx context.Context, address string) (*seal.SessionKey, error) {
	key, err := seal.Create(seal.CreateOptions{
		Address:   address,
		PackageID: m.packageID,
		TTLMin:    m.ttlMin,
		Certifier: m.certifier,
		Now:       m.now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialMint, err)
	}

	signature, err := m.signer.SignPersonalMessage(ctx, key.PersonalMessage())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialMint, err)
	}
	if err := key.SetPersonalMessageSignature(signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialMint, err)
	}

	m.store.Save(address, m.packageID, key)
	log.Printf("session: new key minted for %s", address)
	return key, nil
}

// Clear evicts memory and storage, used on disconnect or logout.
func (m *Manager) Clear(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if address != "" {
		m.store.Delete(address, m.packageID)
	}
	m.key = nil
	m.state = StateEmpty
	m.lastErr = ""
}

// Current returns the live session key, detecting expiry on the way: an
// expired key is evicted from memory and storage and never handed out.
func (m *Manager) Current() (*seal.SessionKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return nil, false
	}
	if m.key.IsExpired() {
		m.store.Delete(m.address, m.packageID)
		m.key = nil
		m.state = StateEmpty
		return nil, false
	}
	return m.key, true
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key != nil && m.key.IsExpired() {
		m.store.Delete(m.address, m.packageID)
		m.key = nil
		m.state = StateEmpty
	}
	return m.state
}

func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) ExpiresAtMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return 0
	}
	return m.key.ExpirationMs()
}
