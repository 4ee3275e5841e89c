// Package feedback implements the one-shot in-app feedback prompt: an
// interaction counter with a single auto-open, a sticky opt-out, and a
// dedicated two-party channel to a fixed recipient.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"sealchat-gateway/internal/directory"
	"sealchat-gateway/internal/kv"
	"sealchat-gateway/internal/timeline"
)

const (
	channelIDKey        = "feedback_channel_id"
	sentKey             = "feedback_sent"
	optOutKey           = "feedback_opt_out"
	cardShownKey        = "feedback_card_shown"
	interactionCountKey = "interaction_count"

	interactionThreshold = 3
)

var (
	ErrNotReady      = errors.New("feedback: messaging not ready")
	ErrInvalidRating = errors.New("feedback: invalid rating")
	ErrSubmit        = errors.New("feedback: submit failed")
)

type Rating string

const (
	ThumbsUp   Rating = "thumbs_up"
	ThumbsDown Rating = "thumbs_down"
)

type payload struct {
	Type        string `json:"type"`
	Rating      Rating `json:"rating"`
	Message     string `json:"message,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	UserAddress string `json:"userAddress"`
	AppVersion  string `json:"appVersion"`
}

// State is the snapshot the UI renders from.
type State struct {
	IsOpen           bool   `json:"isOpen"`
	IsSending        bool   `json:"isSending"`
	Error            string `json:"error,omitempty"`
	HasSentFeedback  bool   `json:"hasSentFeedback"`
	HasOptedOut      bool   `json:"hasOptedOut"`
	ShouldShowPrompt bool   `json:"shouldShowPrompt"`
	ShowBubble       bool   `json:"showBubble"`
	InteractionCount int    `json:"interactionCount"`
}

type Controller struct {
	mu sync.Mutex

	kv         kv.Store
	dir        *directory.Directory
	sync       *timeline.Synchronizer
	address    func() string
	recipient  string
	appVersion string
	now        func() time.Time

	isOpen  bool
	sending bool
	lastErr string
}

type Options struct {
	KV         kv.Store
	Directory  *directory.Directory
	Timeline   *timeline.Synchronizer
	Address    func() string
	Recipient  string
	AppVersion string
	Now        func() time.Time
}

func NewController(opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		kv:         opts.KV,
		dir:        opts.Directory,
		sync:       opts.Timeline,
		address:    opts.Address,
		recipient:  opts.Recipient,
		appVersion: opts.AppVersion,
		now:        now,
	}
}

func (c *Controller) flag(key string) bool {
	v, err := c.kv.Get(key)
	return err == nil && v == "true"
}

func (c *Controller) setFlag(key string, value bool) {
	_ = c.kv.Set(key, strconv.FormatBool(value))
}

func (c *Controller) InteractionCount() int {
	v, err := c.kv.Get(interactionCountKey)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func (c *Controller) HasOptedOut() bool { return c.flag(optOutKey) }
func (c *Controller) HasSent() bool     { return c.flag(sentKey) }
func (c *Controller) cardShown() bool   { return c.flag(cardShownKey) }

// shouldShowPrompt reports whether the auto-prompt is still owed: the
// threshold is reached, the card was never auto-shown, and the user has
// not opted out.
func (c *Controller) shouldShowPrompt() bool {
	if c.HasOptedOut() || c.cardShown() {
		return false
	}
	return c.InteractionCount() >= interactionThreshold
}

func (c *Controller) showBubble() bool {
	return c.InteractionCount() >= interactionThreshold && !c.HasOptedOut()
}

// TrackInteraction counts one user interaction. Crossing the threshold
// auto-opens the card exactly once; the shown flag makes the auto-open
// unrepeatable regardless of further interactions.
func (c *Controller) TrackInteraction() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.HasOptedOut() {
		return
	}
	_ = c.kv.Set(interactionCountKey, strconv.Itoa(c.InteractionCount()+1))

	if c.shouldShowPrompt() && !c.isOpen {
		c.isOpen = true
		c.setFlag(cardShownKey, true)
	}
}

func (c *Controller) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isOpen = true
	c.lastErr = ""
}

func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isOpen = false
	c.lastErr = ""
}

func (c *Controller) SetOptOut(optOut bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setFlag(optOutKey, optOut)
	if optOut {
		c.isOpen = false
	}
}

// Submit sends a structured feedback payload into the dedicated channel,
// creating the channel on first use.
func (c *Controller) Submit(ctx context.Context, rating Rating, message string) error {
	if rating != ThumbsUp && rating != ThumbsDown {
		return ErrInvalidRating
	}
	addr := c.address()
	if addr == "" {
		return ErrNotReady
	}

	c.mu.Lock()
	c.sending = true
	c.lastErr = ""
	c.mu.Unlock()

	err := c.submit(ctx, addr, rating, message)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if err != nil {
		c.lastErr = err.Error()
		return err
	}
	c.isOpen = false
	c.setFlag(sentKey, true)
	_ = c.kv.Set(interactionCountKey, "0")
	return nil
}

func (c *Controller) submit(ctx context.Context, addr string, rating Rating, message string) error {
	channelID, err := c.getOrCreateChannel(ctx)
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(payload{
		Type:        "feedback",
		Rating:      rating,
		Message:     message,
		Timestamp:   c.now().UnixMilli(),
		UserAddress: addr,
		AppVersion:  c.appVersion,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmit, err)
	}

	if _, err := c.sync.Send(ctx, channelID, string(body), nil); err != nil {
		return fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	return nil
}

// getOrCreateChannel resolves the dedicated feedback channel: the stored
// id if present, else an existing direct channel with the recipient, else
// a freshly created one. The resolved id is persisted either way.
func (c *Controller) getOrCreateChannel(ctx context.Context) (string, error) {
	if id, err := c.kv.Get(channelIDKey); err == nil && id != "" {
		return id, nil
	}

	if len(c.dir.Channels()) == 0 {
		if err := c.dir.Refresh(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrSubmit, err)
		}
	}

	for _, channel := range c.dir.Channels() {
		if len(channel.Members) != 2 {
			continue
		}
		for _, member := range channel.Members {
			if strings.EqualFold(member.Address, c.recipient) {
				_ = c.kv.Set(channelIDKey, channel.ID)
				return channel.ID, nil
			}
		}
	}

	id, err := c.dir.CreateChannel(ctx, []string{c.recipient})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	_ = c.kv.Set(channelIDKey, id)
	return id, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		IsOpen:           c.isOpen,
		IsSending:        c.sending,
		Error:            c.lastErr,
		HasSentFeedback:  c.HasSent(),
		HasOptedOut:      c.HasOptedOut(),
		ShouldShowPrompt: c.shouldShowPrompt(),
		ShowBubble:       c.showBubble(),
		InteractionCount: c.InteractionCount(),
	}
}
