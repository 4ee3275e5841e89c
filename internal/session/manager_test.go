package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"sealchat-gateway/internal/kv"
	"sealchat-gateway/internal/wallet"
)

func newTestManager(t *testing.T, signer wallet.Signer, clock func() time.Time) (*Manager, kv.Store) {
	t.Helper()
	mem := kv.NewMemory()
	store := NewStoreWithNow(mem, testCertifier(), clock)
	m := NewManager(ManagerOptions{
		Store:     store,
		Certifier: testCertifier(),
		Signer:    signer,
		PackageID: "0xpkg",
		TTLMin:    30,
		Now:       clock,
	})
	return m, mem
}

func TestManager_EnsureLoadedWithoutCacheStaysEmpty(t *testing.T) {
	w, err := wallet.NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	m, _ := newTestManager(t, w, time.Now)

	m.EnsureLoaded(w.Address())
	if m.State() != StateEmpty {
		t.Fatalf("expected empty state, got %v", m.State())
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("expected no current key")
	}
}

func TestManager_MintNewBecomesReady(t *testing.T) {
	w, err := wallet.NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	now := time.UnixMilli(1_700_000_000_000)
	m, _ := newTestManager(t, w, func() time.Time { return now })

	if err := m.MintNew(context.Background(), w.Address()); err != nil {
		t.Fatalf("MintNew: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("expected ready state, got %v", m.State())
	}

	key, ok := m.Current()
	if !ok {
		t.Fatalf("expected current key")
	}
	if got, want := key.ExpirationMs(), now.UnixMilli()+30*60_000; got != want {
		t.Fatalf("expiration: got %d want %d", got, want)
	}
}

func TestManager_MintRejectedLeavesNoPartialCredential(t *testing.T) {
	w, err := wallet.NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	w.Reject = true
	m, mem := newTestManager(t, w, time.Now)

	err = m.MintNew(context.Background(), w.Address())
	if !errors.Is(err, ErrCredentialMint) {
		t.Fatalf("expected ErrCredentialMint, got %v", err)
	}
	if m.State() != StateFailed {
		t.Fatalf("expected failed state, got %v", m.State())
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("expected no key after failed mint")
	}
	keys, _ := mem.Keys(storageKeyPrefix)
	if len(keys) != 0 {
		t.Fatalf("expected nothing persisted after failed mint, got %v", keys)
	}

	// Failed -> Initializing -> Ready on retry.
	w.Reject = false
	if err := m.MintNew(context.Background(), w.Address()); err != nil {
		t.Fatalf("retry MintNew: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("expected ready after retry, got %v", m.State())
	}
}

func TestManager_RestoresAcrossRestarts(t *testing.T) {
	w, err := wallet.NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }

	mem := kv.NewMemory()
	store := NewStoreWithNow(mem, testCertifier(), clock)
	m1 := NewManager(ManagerOptions{Store: store, Certifier: testCertifier(), Signer: w, PackageID: "0xpkg", TTLMin: 30, Now: clock})
	if err := m1.MintNew(context.Background(), w.Address()); err != nil {
		t.Fatalf("MintNew: %v", err)
	}

	// A second manager over the same kv store simulates a restart.
	m2 := NewManager(ManagerOptions{Store: store, Certifier: testCertifier(), Signer: w, PackageID: "0xpkg", TTLMin: 30, Now: clock})
	m2.EnsureLoaded(w.Address())
	if m2.State() != StateReady {
		t.Fatalf("expected ready after restore, got %v", m2.State())
	}
}

func TestManager_ExpiryDetectionEvicts(t *testing.T) {
	w, err := wallet.NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	now := time.UnixMilli(1_700_000_000_000)
	m, mem := newTestManager(t, w, func() time.Time { return now })

	if err := m.MintNew(context.Background(), w.Address()); err != nil {
		t.Fatalf("MintNew: %v", err)
	}

	now = now.Add(31 * time.Minute)
	if _, ok := m.Current(); ok {
		t.Fatalf("expected expired key to be dropped")
	}
	if m.State() != StateEmpty {
		t.Fatalf("expected empty after expiry, got %v", m.State())
	}
	keys, _ := mem.Keys(storageKeyPrefix)
	if len(keys) != 0 {
		t.Fatalf("expected expired entry evicted from storage, got %v", keys)
	}
}

func TestManager_ClearRemovesMemoryAndStorage(t *testing.T) {
	w, err := wallet.NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	m, mem := newTestManager(t, w, time.Now)
	if err := m.MintNew(context.Background(), w.Address()); err != nil {
		t.Fatalf("MintNew: %v", err)
	}

	m.Clear(w.Address())
	if m.State() != StateEmpty {
		t.Fatalf("expected empty after clear, got %v", m.State())
	}
	keys, _ := mem.Keys(storageKeyPrefix)
	if len(keys) != 0 {
		t.Fatalf("expected storage cleared, got %v", keys)
	}
}

func TestManager_AccountChangeTearsDown(t *testing.T) {
	w, err := wallet.NewLocal()
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	m, _ := newTestManager(t, w, time.Now)
	if err := m.MintNew(context.Background(), w.Address()); err != nil {
		t.Fatalf("MintNew: %v", err)
	}

	m.OnAccountChanged("0xother")
	if m.State() != StateEmpty {
		t.Fatalf("expected empty for other account, got %v", m.State())
	}

	// Disconnect clears memory only.
	m.OnAccountChanged("")
	if _, ok := m.Current(); ok {
		t.Fatalf("expected no key after disconnect")
	}

	// Reconnecting the original account restores its cached key.
	m.OnAccountChanged(w.Address())
	if m.State() != StateReady {
		t.Fatalf("expected ready after reconnect, got %v", m.State())
	}
}
