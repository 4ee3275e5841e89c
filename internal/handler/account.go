package handler

import "sync"

// Account tracks which wallet address the gateway currently serves.
// Everything downstream reads it through Current; an empty address means
// disconnected.
type Account struct {
	mu      sync.RWMutex
	address string
}

func NewAccount(address string) *Account {
	return &Account{address: address}
}

func (a *Account) Current() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.address
}

func (a *Account) Set(address string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.address = address
}
