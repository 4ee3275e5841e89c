// Package directory maintains the connected account's channel list and
// the derived membership caches used before each send.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"sealchat-gateway/internal/inflight"
	"sealchat-gateway/internal/model"
	"sealchat-gateway/internal/sdk"
)

var (
	ErrFetch       = errors.New("directory: channel fetch failed")
	ErrCreate      = errors.New("directory: channel creation failed")
	ErrNoMemberCap = errors.New("directory: no member cap for channel")
)

const listLimit = 10

type Directory struct {
	mu sync.Mutex

	svc      sdk.Service
	address  func() string
	requests *inflight.Registry

	channels []model.Channel
	current  *model.Channel

	// Lazily-filled mirrors of the membership lookup; wiped wholesale on
	// every refresh because a refresh may reflect new memberships.
	memberCaps  map[string]string
	memberships []model.Membership

	fetching bool
	creating bool
	lastErr  string

	// OnChannelSelected runs synchronously inside GetByID before the
	// network call, so per-channel polling state is discarded before any
	// fetch for the newly selected channel can start.
	OnChannelSelected func(channelID string)
}

func New(svc sdk.Service, address func() string, requests *inflight.Registry) *Directory {
	return &Directory{
		svc:        svc,
		address:    address,
		requests:   requests,
		memberCaps: make(map[string]string),
	}
}

// Refresh replaces the held channel list wholesale. A failure leaves the
// previous list untouched; an identical refresh already in flight makes
// this call a no-op.
func (d *Directory) Refresh(ctx context.Context) error {
	addr := d.address()
	if addr == "" {
		return nil
	}

	key := "fetchChannels-" + addr
	if !d.requests.TryAcquire(key) {
		return nil
	}
	defer d.requests.Release(key)

	d.mu.Lock()
	d.fetching = true
	d.lastErr = ""
	d.mu.Unlock()

	channels, err := d.svc.ListChannels(ctx, addr, listLimit)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetching = false
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrFetch, err)
		d.lastErr = wrapped.Error()
		return wrapped
	}

	d.channels = channels
	d.memberCaps = make(map[string]string)
	d.memberships = nil
	return nil
}

// GetByID fetches one channel's decrypted view and makes it current.
func (d *Directory) GetByID(ctx context.Context, channelID string) (*model.Channel, error) {
	addr := d.address()
	if addr == "" {
		return nil, fmt.Errorf("%w: no account", ErrFetch)
	}

	if d.OnChannelSelected != nil {
		d.OnChannelSelected(channelID)
	}

	d.mu.Lock()
	d.lastErr = ""
	d.mu.Unlock()

	channel, err := d.svc.GetChannel(ctx, channelID, addr)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrFetch, err)
		d.lastErr = wrapped.Error()
		return nil, wrapped
	}
	d.current = channel
	return channel, nil
}

// CreateChannel runs the two-step creation flow (channel object first,
// then key attachment) and refreshes the directory on success.
func (d *Directory) CreateChannel(ctx context.Context, recipients []string) (string, error) {
	addr := d.address()
	if addr == "" {
		return "", fmt.Errorf("%w: no account", ErrCreate)
	}

	d.mu.Lock()
	d.creating = true
	d.lastErr = ""
	d.mu.Unlock()

	channelID, err := d.create(ctx, addr, recipients)

	d.mu.Lock()
	d.creating = false
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if err != nil {
		return "", err
	}
	if err := d.Refresh(ctx); err != nil {
		log.Printf("directory: refresh after create failed: %v", err)
	}
	return channelID, nil
}

func (d *Directory) create(ctx context.Context, addr string, recipients []string) (string, error) {
	created, err := d.svc.CreateChannel(ctx, addr, recipients)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreate, err)
	}
	if _, err := d.svc.AttachEncryptionKey(ctx, created.ChannelID, created.CreatorCapID); err != nil {
		return "", fmt.Errorf("%w: attach key: %v", ErrCreate, err)
	}
	return created.ChannelID, nil
}

// MemberCapFor resolves the account's member capability for a channel,
// caching both the membership list and the per-channel answer.
func (d *Directory) MemberCapFor(ctx context.Context, channelID string) (string, error) {
	addr := d.address()
	if addr == "" {
		return "", ErrNoMemberCap
	}

	d.mu.Lock()
	if capID, ok := d.memberCaps[channelID]; ok {
		d.mu.Unlock()
		return capID, nil
	}
	memberships := d.memberships
	d.mu.Unlock()

	if memberships == nil {
		fetched, err := d.svc.GetMemberships(ctx, addr)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoMemberCap, err)
		}
		d.mu.Lock()
		d.memberships = fetched
		memberships = fetched
		d.mu.Unlock()
	}

	for _, m := range memberships {
		if m.ChannelID == channelID {
			d.mu.Lock()
			d.memberCaps[channelID] = m.MemberCapID
			d.mu.Unlock()
			return m.MemberCapID, nil
		}
	}
	return "", ErrNoMemberCap
}

// SetAccount tears down everything held for the previous account.
func (d *Directory) SetAccount() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = nil
	d.current = nil
	d.memberCaps = make(map[string]string)
	d.memberships = nil
	d.lastErr = ""
}

func (d *Directory) Channels() []model.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Channel(nil), d.channels...)
}

func (d *Directory) Current() *model.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Directory) IsFetching() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetching
}

func (d *Directory) IsCreating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creating
}

func (d *Directory) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}
