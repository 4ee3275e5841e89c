// Package sdk declares the narrow contract the gateway consumes from the
// external messaging/storage service. The real network client is adapted
// to these interfaces at the boundary; nothing inside the gateway depends
// on SDK-internal types.
package sdk

import (
	"context"
	"errors"

	"sealchat-gateway/internal/model"
)

var (
	ErrNoSession       = errors.New("sdk: no valid session credential")
	ErrChannelNotFound = errors.New("sdk: channel not found")
	ErrNotMember       = errors.New("sdk: not a channel member")
	ErrBadMemberCap    = errors.New("sdk: member capability rejected")
	ErrKeyMismatch     = errors.New("sdk: encryption key version mismatch")
)

// MessagePage is one backward page of history. Cursor points at the oldest
// returned message; HasNextPage reports whether older ones remain.
type MessagePage struct {
	Messages    []model.Message
	Cursor      uint64
	HasNextPage bool
}

// LatestPage is the incremental "what's new since the polling state"
// result. Cursor is the continuation point for the next poll.
type LatestPage struct {
	Messages []model.Message
	Cursor   uint64
}

// ChannelCreation is the confirmed result of the first step of the
// channel-creation flow: the channel object exists on chain but carries no
// encryption key yet.
type ChannelCreation struct {
	ChannelID    string
	CreatorCapID string
	Digest       string
}

type SendRequest struct {
	ChannelID    string
	MemberCapID  string
	Sender       string
	Text         string
	EncryptedKey model.EncryptedKey
	Attachments  []model.AttachmentUpload
}

// Service is everything the gateway asks of the messaging service. Every
// call suspends until on-chain confirmation or rejection; mutating calls
// return a transaction digest.
type Service interface {
	ListChannels(ctx context.Context, address string, limit int) ([]model.Channel, error)
	GetChannel(ctx context.Context, channelID, address string) (*model.Channel, error)
	GetMessages(ctx context.Context, channelID, address string, cursor *uint64, limit int) (MessagePage, error)
	GetLatestMessages(ctx context.Context, channelID, address string, state model.PollingState, limit int) (LatestPage, error)
	GetMemberships(ctx context.Context, address string) ([]model.Membership, error)

	// CreateChannel and AttachEncryptionKey are the two user-approved
	// steps of the channel-creation flow, in that order.
	CreateChannel(ctx context.Context, creator string, recipients []string) (ChannelCreation, error)
	AttachEncryptionKey(ctx context.Context, channelID, creatorCapID string) (string, error)

	SendMessage(ctx context.Context, req SendRequest) (string, error)
}
