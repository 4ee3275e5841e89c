package directory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sealchat-gateway/internal/inflight"
	"sealchat-gateway/internal/model"
	"sealchat-gateway/internal/sdk"
)

type fakeService struct {
	mu sync.Mutex

	channels    map[string]model.Channel
	memberships []model.Membership

	failList   bool
	failGet    bool
	failCreate bool
	failAttach bool

	listCalls        int
	getCalls         int
	membershipsCalls int
	createCalls      int
	attachCalls      int
}

func newFakeService() *fakeService {
	return &fakeService{channels: make(map[string]model.Channel)}
}

func (f *fakeService) addChannel(id string) {
	f.channels[id] = model.Channel{ID: id, KeyHistory: model.EncryptionKeyHistory{LatestVersion: 1}}
	f.memberships = append(f.memberships, model.Membership{ChannelID: id, MemberCapID: "cap-" + id})
}

func (f *fakeService) ListChannels(ctx context.Context, address string, limit int) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.failList {
		return nil, errors.New("boom")
	}
	var out []model.Channel
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *fakeService) GetChannel(ctx context.Context, channelID, address string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failGet {
		return nil, errors.New("boom")
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, sdk.ErrChannelNotFound
	}
	return &ch, nil
}

func (f *fakeService) GetMessages(ctx context.Context, channelID, address string, cursor *uint64, limit int) (sdk.MessagePage, error) {
	return sdk.MessagePage{}, nil
}

func (f *fakeService) GetLatestMessages(ctx context.Context, channelID, address string, state model.PollingState, limit int) (sdk.LatestPage, error) {
	return sdk.LatestPage{}, nil
}

func (f *fakeService) GetMemberships(ctx context.Context, address string) ([]model.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.membershipsCalls++
	return append([]model.Membership(nil), f.memberships...), nil
}

func (f *fakeService) CreateChannel(ctx context.Context, creator string, recipients []string) (sdk.ChannelCreation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate {
		return sdk.ChannelCreation{}, errors.New("boom")
	}
	id := "new-channel"
	f.channels[id] = model.Channel{ID: id}
	f.memberships = append(f.memberships, model.Membership{ChannelID: id, MemberCapID: "cap-" + id})
	return sdk.ChannelCreation{ChannelID: id, CreatorCapID: "cap-" + id, Digest: "digest"}, nil
}

func (f *fakeService) AttachEncryptionKey(ctx context.Context, channelID, creatorCapID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.failAttach {
		return "", errors.New("boom")
	}
	ch := f.channels[channelID]
	ch.KeyHistory.LatestVersion++
	f.channels[channelID] = ch
	return "digest", nil
}

func (f *fakeService) SendMessage(ctx context.Context, req sdk.SendRequest) (string, error) {
	return "", errors.New("not supported")
}

func newTestDirectory(f *fakeService) *Directory {
	return New(f, func() string { return "0xme" }, inflight.NewRegistry())
}

func TestRefresh_ReplacesWholesale(t *testing.T) {
	f := newFakeService()
	f.addChannel("c1")
	d := newTestDirectory(f)
	ctx := context.Background()

	if err := d.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(d.Channels()); got != 1 {
		t.Fatalf("expected 1 channel, got %d", got)
	}

	f.mu.Lock()
	f.addChannel("c2")
	f.mu.Unlock()
	if err := d.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(d.Channels()); got != 2 {
		t.Fatalf("expected 2 channels, got %d", got)
	}
}

func TestRefresh_FailureLeavesListUnchanged(t *testing.T) {
	f := newFakeService()
	f.addChannel("c1")
	d := newTestDirectory(f)
	ctx := context.Background()

	if err := d.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	f.mu.Lock()
	f.failList = true
	f.mu.Unlock()

	err := d.Refresh(ctx)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if got := len(d.Channels()); got != 1 {
		t.Fatalf("held list must be unchanged, got %d", got)
	}
	if d.LastError() == "" {
		t.Fatalf("expected surfaced error")
	}
}

func TestMemberCapFor_CachesMembershipLookup(t *testing.T) {
	f := newFakeService()
	f.addChannel("c1")
	f.addChannel("c2")
	d := newTestDirectory(f)
	ctx := context.Background()

	capID, err := d.MemberCapFor(ctx, "c1")
	if err != nil {
		t.Fatalf("MemberCapFor: %v", err)
	}
	if capID != "cap-c1" {
		t.Fatalf("expected cap-c1, got %q", capID)
	}

	// Second lookup, even for another channel, reuses the cached
	// membership list.
	if _, err := d.MemberCapFor(ctx, "c2"); err != nil {
		t.Fatalf("MemberCapFor: %v", err)
	}
	if _, err := d.MemberCapFor(ctx, "c1"); err != nil {
		t.Fatalf("MemberCapFor: %v", err)
	}
	if f.membershipsCalls != 1 {
		t.Fatalf("expected 1 membership fetch, got %d", f.membershipsCalls)
	}
}

func TestRefresh_WipesDerivedCaches(t *testing.T) {
	f := newFakeService()
	f.addChannel("c1")
	d := newTestDirectory(f)
	ctx := context.Background()

	if _, err := d.MemberCapFor(ctx, "c1"); err != nil {
		t.Fatalf("MemberCapFor: %v", err)
	}
	if err := d.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := d.MemberCapFor(ctx, "c1"); err != nil {
		t.Fatalf("MemberCapFor: %v", err)
	}
	if f.membershipsCalls != 2 {
		t.Fatalf("expected membership refetch after refresh, got %d calls", f.membershipsCalls)
	}
}

func TestMemberCapFor_UnknownChannel(t *testing.T) {
	f := newFakeService()
	f.addChannel("c1")
	d := newTestDirectory(f)

	_, err := d.MemberCapFor(context.Background(), "nope")
	if !errors.Is(err, ErrNoMemberCap) {
		t.Fatalf("expected ErrNoMemberCap, got %v", err)
	}
}

func TestGetByID_ResetsPollingBeforeFetch(t *testing.T) {
	f := newFakeService()
	f.addChannel("c1")
	d := newTestDirectory(f)

	var order []string
	d.OnChannelSelected = func(channelID string) {
		order = append(order, "reset-"+channelID)
	}

	ch, err := d.GetByID(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if ch.ID != "c1" {
		t.Fatalf("expected c1, got %q", ch.ID)
	}
	if d.Current() == nil || d.Current().ID != "c1" {
		t.Fatalf("expected current channel c1")
	}
	if len(order) != 1 || order[0] != "reset-c1" {
		t.Fatalf("expected reset before fetch, got %v", order)
	}
}

func TestCreateChannel_RunsBothStepsThenRefreshes(t *testing.T) {
	f := newFakeService()
	d := newTestDirectory(f)

	id, err := d.CreateChannel(context.Background(), []string{"0xbob"})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if id != "new-channel" {
		t.Fatalf("expected new-channel, got %q", id)
	}
	if f.createCalls != 1 || f.attachCalls != 1 {
		t.Fatalf("expected both flow steps, got create=%d attach=%d", f.createCalls, f.attachCalls)
	}
	if f.listCalls != 1 {
		t.Fatalf("expected refresh after create, got %d list calls", f.listCalls)
	}
}

func TestCreateChannel_AttachFailureSurfaces(t *testing.T) {
	f := newFakeService()
	f.failAttach = true
	d := newTestDirectory(f)

	_, err := d.CreateChannel(context.Background(), []string{"0xbob"})
	if !errors.Is(err, ErrCreate) {
		t.Fatalf("expected ErrCreate, got %v", err)
	}
	if d.LastError() == "" {
		t.Fatalf("expected surfaced error")
	}
}

func TestSetAccount_TearsDownState(t *testing.T) {
	f := newFakeService()
	f.addChannel("c1")
	d := newTestDirectory(f)
	ctx := context.Background()

	if err := d.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := d.GetByID(ctx, "c1"); err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	d.SetAccount()
	if len(d.Channels()) != 0 || d.Current() != nil {
		t.Fatalf("expected full teardown")
	}
}
