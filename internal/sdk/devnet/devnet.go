// Package devnet is an in-process stand-in for the messaging service and
// its blob storage: channels, versioned sealed channel keys, encrypted
// message payloads. It backs dev mode and the test suites; its visible
// behavior (pagination, polling, capability checks) mirrors the real
// service's contract.
package devnet

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"sealchat-gateway/internal/model"
	"sealchat-gateway/internal/sdk"
	"sealchat-gateway/internal/seal"
)

// SessionSource exposes the caller's session credential; decrypting reads
// are refused without a live one.
type SessionSource func() (*seal.SessionKey, bool)

type storedAttachment struct {
	fileName string
	mimeType string
	size     int64
	blobRef  string
}

type storedMessage struct {
	sender      string
	createdAtMs int64
	nonce       []byte
	ciphertext  []byte
	attachments []storedAttachment
}

type channelState struct {
	id          string
	createdAtMs int64
	members     []model.ChannelMember
	caps        map[string]string // capID -> member address
	key         []byte            // plaintext channel key, never leaves the devnet
	sealedKey   []byte
	keyVersion  uint32
	messages    []storedMessage
}

type Network struct {
	mu sync.Mutex

	master   []byte // seals channel keys, stands in for the key server
	session  SessionSource
	now      func() time.Time
	channels map[string]*channelState
	blobs    map[string][]byte
}

type Options struct {
	Secret  string
	Session SessionSource
	Now     func() time.Time
}

func New(opts Options) *Network {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	session := opts.Session
	if session == nil {
		session = func() (*seal.SessionKey, bool) { return nil, false }
	}
	master := sha256.Sum256([]byte("devnet-master:" + opts.Secret))
	return &Network{
		master:   master[:],
		session:  session,
		now:      now,
		channels: make(map[string]*channelState),
		blobs:    make(map[string][]byte),
	}
}

var _ sdk.Service = (*Network)(nil)

func (n *Network) requireSession() error {
	key, ok := n.session()
	if !ok || key == nil || key.Usable() != nil {
		return sdk.ErrNoSession
	}
	return nil
}

func (n *Network) ListChannels(ctx context.Context, address string, limit int) ([]model.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := n.requireSession(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var member []*channelState
	for _, ch := range n.channels {
		if ch.hasMember(address) {
			member = append(member, ch)
		}
	}
	sort.Slice(member, func(i, j int) bool {
		if member[i].createdAtMs != member[j].createdAtMs {
			return member[i].createdAtMs < member[j].createdAtMs
		}
		return member[i].id < member[j].id
	})

	var result []model.Channel
	for _, ch := range member {
		result = append(result, n.viewLocked(ch))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (n *Network) GetChannel(ctx context.Context, channelID, address string) (*model.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := n.requireSession(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.channels[channelID]
	if !ok {
		return nil, sdk.ErrChannelNotFound
	}
	if !ch.hasMember(address) {
		return nil, sdk.ErrNotMember
	}
	view := n.viewLocked(ch)
	return &view, nil
}

func (n *Network) GetMessages(ctx context.Context, channelID, address string, cursor *uint64, limit int) (sdk.MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return sdk.MessagePage{}, err
	}
	if err := n.requireSession(); err != nil {
		return sdk.MessagePage{}, err
	}
	if limit <= 0 {
		limit = 20
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.channels[channelID]
	if !ok {
		return sdk.MessagePage{}, sdk.ErrChannelNotFound
	}
	if !ch.hasMember(address) {
		return sdk.MessagePage{}, sdk.ErrNotMember
	}

	// Backward pagination over the oldest-to-newest log: with no cursor
	// the newest page is returned; the cursor marks the oldest entry of
	// the returned page.
	end := len(ch.messages)
	if cursor != nil {
		if int(*cursor) < end {
			end = int(*cursor)
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := sdk.MessagePage{Cursor: uint64(start), HasNextPage: start > 0}
	for _, m := range ch.messages[start:end] {
		decrypted, err := n.decryptLocked(ch, m)
		if err != nil {
			return sdk.MessagePage{}, err
		}
		page.Messages = append(page.Messages, decrypted)
	}
	return page, nil
}

func (n *Network) GetLatestMessages(ctx context.Context, channelID, address string, state model.PollingState, limit int) (sdk.LatestPage, error) {
	if err := ctx.Err(); err != nil {
		return sdk.LatestPage{}, err
	}
	if err := n.requireSession(); err != nil {
		return sdk.LatestPage{}, err
	}
	if limit <= 0 {
		limit = 50
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.channels[channelID]
	if !ok {
		return sdk.LatestPage{}, sdk.ErrChannelNotFound
	}
	if !ch.hasMember(address) {
		return sdk.LatestPage{}, sdk.ErrNotMember
	}

	start := int(state.LastMessageCount)
	if start > len(ch.messages) {
		start = len(ch.messages)
	}
	end := start + limit
	if end > len(ch.messages) {
		end = len(ch.messages)
	}

	page := sdk.LatestPage{Cursor: uint64(end)}
	for _, m := range ch.messages[start:end] {
		decrypted, err := n.decryptLocked(ch, m)
		if err != nil {
			return sdk.LatestPage{}, err
		}
		page.Messages = append(page.Messages, decrypted)
	}
	return page, nil
}

func (n *Network) GetMemberships(ctx context.Context, address string) ([]model.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var result []model.Membership
	for _, ch := range n.channels {
		for capID, member := range ch.caps {
			if member == address {
				result = append(result, model.Membership{ChannelID: ch.id, MemberCapID: capID})
			}
		}
	}
	return result, nil
}

func (n *Network) CreateChannel(ctx context.Context, creator string, recipients []string) (sdk.ChannelCreation, error) {
	if err := ctx.Err(); err != nil {
		return sdk.ChannelCreation{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch := &channelState{
		id:          "0x" + uuid.NewString(),
		createdAtMs: n.now().UnixMilli(),
		caps:        make(map[string]string),
	}

	addresses := append([]string{creator}, recipients...)
	seen := make(map[string]bool, len(addresses))
	for i, addr := range addresses {
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		perms := []string{"read", "write"}
		if i == 0 {
			perms = append(perms, "admin")
		}
		ch.members = append(ch.members, model.ChannelMember{Address: addr, Permissions: perms})
		ch.caps[uuid.NewString()] = addr
	}

	var creatorCap string
	for capID, addr := range ch.caps {
		if addr == creator {
			creatorCap = capID
			break
		}
	}

	n.channels[ch.id] = ch
	return sdk.ChannelCreation{
		ChannelID:    ch.id,
		CreatorCapID: creatorCap,
		Digest:       uuid.NewString(),
	}, nil
}

func (n *Network) AttachEncryptionKey(ctx context.Context, channelID, creatorCapID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.channels[channelID]
	if !ok {
		return "", sdk.ErrChannelNotFound
	}
	if _, ok := ch.caps[creatorCapID]; !ok {
		return "", sdk.ErrBadMemberCap
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("devnet: generate channel key: %w", err)
	}
	sealed, err := n.seal(key)
	if err != nil {
		return "", err
	}

	// Key material is append-only versioned; attach never decrements.
	ch.key = key
	ch.sealedKey = sealed
	ch.keyVersion++
	return uuid.NewString(), nil
}

func (n *Network) SendMessage(ctx context.Context, req sdk.SendRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := n.requireSession(); err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.channels[req.ChannelID]
	if !ok {
		return "", sdk.ErrChannelNotFound
	}
	member, ok := ch.caps[req.MemberCapID]
	if !ok || member != req.Sender {
		return "", sdk.ErrBadMemberCap
	}
	if ch.keyVersion == 0 || req.EncryptedKey.Version != ch.keyVersion {
		return "", sdk.ErrKeyMismatch
	}

	aead, err := chacha20poly1305.New(ch.key)
	if err != nil {
		return "", fmt.Errorf("devnet: channel cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("devnet: nonce: %w", err)
	}

	msg := storedMessage{
		sender:      req.Sender,
		createdAtMs: n.now().UnixMilli(),
		nonce:       nonce,
		ciphertext:  aead.Seal(nil, nonce, []byte(req.Text), nil),
	}

	for _, upload := range req.Attachments {
		blobNonce := make([]byte, aead.NonceSize())
		if _, err := rand.Read(blobNonce); err != nil {
			return "", fmt.Errorf("devnet: nonce: %w", err)
		}
		blobRef := uuid.NewString()
		n.blobs[blobRef] = append(blobNonce, aead.Seal(nil, blobNonce, upload.Data, nil)...)
		msg.attachments = append(msg.attachments, storedAttachment{
			fileName: upload.FileName,
			mimeType: upload.MimeType,
			size:     int64(len(upload.Data)),
			blobRef:  blobRef,
		})
	}

	ch.messages = append(ch.messages, msg)
	return uuid.NewString(), nil
}

// ReadBlob decrypts a stored attachment payload, the lazy path the UI uses
// when a file is actually opened.
func (n *Network) ReadBlob(channelID, blobRef string) ([]byte, error) {
	if err := n.requireSession(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.channels[channelID]
	if !ok {
		return nil, sdk.ErrChannelNotFound
	}
	blob, ok := n.blobs[blobRef]
	if !ok {
		return nil, fmt.Errorf("devnet: blob %s not found", blobRef)
	}

	aead, err := chacha20poly1305.New(ch.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("devnet: blob too short")
	}
	return aead.Open(nil, blob[:aead.NonceSize()], blob[aead.NonceSize():], nil)
}

func (n *Network) seal(key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(n.master)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, key, nil)...), nil
}

func (n *Network) viewLocked(ch *channelState) model.Channel {
	view := model.Channel{
		ID:           ch.id,
		CreatedAtMs:  ch.createdAtMs,
		Members:      append([]model.ChannelMember(nil), ch.members...),
		MessageCount: uint64(len(ch.messages)),
		KeyHistory: model.EncryptionKeyHistory{
			Latest:        append([]byte(nil), ch.sealedKey...),
			LatestVersion: ch.keyVersion,
		},
	}
	if len(ch.messages) > 0 {
		if last, err := n.decryptLocked(ch, ch.messages[len(ch.messages)-1]); err == nil {
			view.LastMessage = &last
		}
	}
	return view
}

func (n *Network) decryptLocked(ch *channelState, m storedMessage) (model.Message, error) {
	aead, err := chacha20poly1305.New(ch.key)
	if err != nil {
		return model.Message{}, fmt.Errorf("devnet: channel cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, m.nonce, m.ciphertext, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("devnet: decrypt message: %w", err)
	}

	msg := model.Message{
		ChannelID:   ch.id,
		Sender:      m.sender,
		CreatedAtMs: m.createdAtMs,
		Text:        string(plaintext),
	}
	for _, a := range m.attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			FileName: a.fileName,
			MimeType: a.mimeType,
			Size:     a.size,
			BlobRef:  a.blobRef,
		})
	}
	return msg, nil
}

func (ch *channelState) hasMember(address string) bool {
	for _, m := range ch.members {
		if m.Address == address {
			return true
		}
	}
	return false
}
