// Package timeline holds the single, duplicate-free, time-ordered message
// sequence for the active channel, reconciling backward-paginated history
// with incrementally-polled latest messages.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"sealchat-gateway/internal/directory"
	"sealchat-gateway/internal/inflight"
	"sealchat-gateway/internal/model"
	"sealchat-gateway/internal/sdk"
)

var (
	ErrFetch = errors.New("timeline: message fetch failed")
	ErrSend  = errors.New("timeline: send failed")
)

const (
	historyLimit = 20
	latestLimit  = 50
	dedupTextLen = 50
)

type Synchronizer struct {
	mu sync.Mutex

	svc      sdk.Service
	dir      *directory.Directory
	address  func() string
	requests *inflight.Registry

	channelID string
	// epoch tags every fetch with the channel selection it was issued
	// under; results arriving after a switch carry a stale epoch and are
	// dropped instead of applied.
	epoch uint64

	messages  []model.Message
	cursor    uint64
	hasCursor bool
	hasMore   bool
	polling   *model.PollingState

	fetching bool
	sending  bool
	lastErr  string

	// pollFailures counts consecutive swallowed poll errors; the poller
	// reads it to decide when the served view has gone stale.
	pollFailures int

	// Notify is invoked (outside the lock) after the held sequence grows
	// or is replaced; the hub uses it to push live updates.
	Notify func(event string, channelID string)
}

func New(svc sdk.Service, dir *directory.Directory, address func() string, requests *inflight.Registry) *Synchronizer {
	return &Synchronizer{svc: svc, dir: dir, address: address, requests: requests}
}

// dedupKey is the duplicate heuristic shared with the service's clients:
// sender, millisecond timestamp, and the first 50 characters of text.
// Distinct messages colliding on all three are indistinguishable here.
func dedupKey(m model.Message) string {
	text := m.Text
	if len(text) > dedupTextLen {
		text = text[:dedupTextLen]
	}
	return fmt.Sprintf("%s-%d-%s", m.Sender, m.CreatedAtMs, text)
}

// Reset discards all held state and scopes the synchronizer to channelID.
// Runs synchronously on channel switch, before any fetch for the new
// channel is issued.
func (s *Synchronizer) Reset(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(channelID)
}

func (s *Synchronizer) resetLocked(channelID string) {
	s.channelID = channelID
	s.epoch++
	s.messages = nil
	s.cursor = 0
	s.hasCursor = false
	s.hasMore = false
	s.polling = nil
	s.lastErr = ""
}

// FetchHistory loads one backward page. A nil cursor replaces the held
// sequence and (re)initializes polling state; a non-nil cursor prepends
// the older page.
func (s *Synchronizer) FetchHistory(ctx context.Context, channelID string, cursor *uint64) error {
	addr := s.address()
	if addr == "" {
		return nil
	}

	cursorLabel := "initial"
	if cursor != nil {
		cursorLabel = fmt.Sprintf("%d", *cursor)
	}
	key := fmt.Sprintf("fetchMessages-%s-%s", channelID, cursorLabel)
	if !s.requests.TryAcquire(key) {
		return nil
	}
	defer s.requests.Release(key)

	s.mu.Lock()
	if s.channelID != channelID {
		s.resetLocked(channelID)
	}
	epoch := s.epoch
	s.fetching = true
	s.lastErr = ""
	s.mu.Unlock()

	page, err := s.svc.GetMessages(ctx, channelID, addr, cursor, historyLimit)

	s.mu.Lock()
	s.fetching = false
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrFetch, err)
		s.lastErr = wrapped.Error()
		s.mu.Unlock()
		return wrapped
	}
	if s.epoch != epoch {
		// Channel switched while the request was in flight.
		s.mu.Unlock()
		return nil
	}

	if cursor == nil {
		s.messages = page.Messages
		s.polling = nil
		if len(page.Messages) > 0 {
			s.polling = &model.PollingState{
				ChannelID:        channelID,
				LastMessageCount: uint64(len(page.Messages)),
				LastCursor:       page.Cursor,
			}
		}
	} else {
		s.messages = append(append([]model.Message(nil), page.Messages...), s.messages...)
	}
	s.cursor = page.Cursor
	s.hasCursor = true
	s.hasMore = page.HasNextPage
	notify := s.Notify
	s.mu.Unlock()

	if notify != nil {
		notify("messages-replaced", channelID)
	}
	return nil
}

// FetchIncremental appends whatever arrived since the polling state. This
// is the background path: failures are logged and swallowed, the held
// sequence and the user-visible error state are never disturbed.
func (s *Synchronizer) FetchIncremental(ctx context.Context, channelID string) error {
	addr := s.address()
	if addr == "" {
		return nil
	}

	s.mu.Lock()
	if s.polling == nil || s.polling.ChannelID != channelID {
		s.mu.Unlock()
		return s.FetchHistory(ctx, channelID, nil)
	}
	state := *s.polling
	epoch := s.epoch
	s.mu.Unlock()

	key := "fetchLatestMessages-" + channelID
	if !s.requests.TryAcquire(key) {
		return nil
	}
	defer s.requests.Release(key)

	page, err := s.svc.GetLatestMessages(ctx, channelID, addr, state, latestLimit)
	if err != nil {
		log.Printf("timeline: poll for %s failed: %v", channelID, err)
		s.mu.Lock()
		s.pollFailures++
		s.mu.Unlock()
		return nil
	}
	s.mu.Lock()
	s.pollFailures = 0
	s.mu.Unlock()
	if len(page.Messages) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}

	existing := make(map[string]struct{}, len(s.messages))
	for _, m := range s.messages {
		existing[dedupKey(m)] = struct{}{}
	}
	var fresh []model.Message
	for _, m := range page.Messages {
		if _, dup := existing[dedupKey(m)]; dup {
			continue
		}
		fresh = append(fresh, m)
	}

	var notify func(string, string)
	if len(fresh) > 0 {
		// Incremental results are newer than anything held; append, do
		// not merge-sort.
		s.messages = append(s.messages, fresh...)
		s.polling = &model.PollingState{
			ChannelID:        channelID,
			LastMessageCount: uint64(len(s.messages)),
			LastCursor:       page.Cursor,
		}
		notify = s.Notify
	}
	s.mu.Unlock()

	if notify != nil {
		notify("new-messages", channelID)
	}
	return nil
}

// Send resolves the member capability and current encryption key, submits
// the message, waits for confirmation, then picks up the result through
// the incremental path so the held sequence never flickers.
func (s *Synchronizer) Send(ctx context.Context, channelID, text string, attachments []model.AttachmentUpload) (string, error) {
	addr := s.address()
	if addr == "" {
		return "", fmt.Errorf("%w: no account", ErrSend)
	}

	s.mu.Lock()
	s.sending = true
	s.lastErr = ""
	s.mu.Unlock()

	digest, err := s.send(ctx, channelID, addr, text, attachments)

	s.mu.Lock()
	s.sending = false
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		return "", err
	}

	s.mu.Lock()
	pollingMatches := s.polling != nil && s.polling.ChannelID == channelID
	s.mu.Unlock()

	if pollingMatches {
		_ = s.FetchIncremental(ctx, channelID)
	} else {
		_ = s.FetchHistory(ctx, channelID, nil)
	}
	return digest, nil
}

func (s *Synchronizer) send(ctx context.Context, channelID, addr, text string, attachments []model.AttachmentUpload) (string, error) {
	capID, err := s.dir.MemberCapFor(ctx, channelID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSend, err)
	}

	encryptedKey, err := s.encryptedKeyFor(ctx, channelID, addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSend, err)
	}

	digest, err := s.svc.SendMessage(ctx, sdk.SendRequest{
		ChannelID:    channelID,
		MemberCapID:  capID,
		Sender:       addr,
		Text:         text,
		EncryptedKey: encryptedKey,
		Attachments:  attachments,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSend, err)
	}
	return digest, nil
}

// encryptedKeyFor reuses the already-loaded channel object when it matches
// and fetches the channel exactly once otherwise.
func (s *Synchronizer) encryptedKeyFor(ctx context.Context, channelID, addr string) (model.EncryptedKey, error) {
	channel := s.dir.Current()
	if channel == nil || channel.ID != channelID {
		fetched, err := s.svc.GetChannel(ctx, channelID, addr)
		if err != nil {
			return model.EncryptedKey{}, err
		}
		channel = fetched
	}
	if channel.KeyHistory.LatestVersion == 0 {
		return model.EncryptedKey{}, errors.New("channel has no encryption key")
	}
	return model.EncryptedKey{
		Kind:           "Encrypted",
		EncryptedBytes: channel.KeyHistory.Latest,
		Version:        channel.KeyHistory.LatestVersion,
	}, nil
}

func (s *Synchronizer) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...)
}

func (s *Synchronizer) ActiveChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

func (s *Synchronizer) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Cursor returns the oldest-loaded-message cursor for the load-more
// affordance; ok is false before the first history fetch.
func (s *Synchronizer) Cursor() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor
}

func (s *Synchronizer) PollingState() *model.PollingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polling == nil {
		return nil
	}
	copied := *s.polling
	return &copied
}

func (s *Synchronizer) IsFetching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetching
}

func (s *Synchronizer) IsSending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *Synchronizer) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ConsecutivePollFailures reports how many background polls in a row
// have failed since the last successful one.
func (s *Synchronizer) ConsecutivePollFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollFailures
}
