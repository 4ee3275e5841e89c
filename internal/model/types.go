package model

// ChannelMember is one entry of a channel's member permission table.
type ChannelMember struct {
	Address     string   `json:"address"`
	Permissions []string `json:"permissions"`
}

// EncryptionKeyHistory holds the versioned key material attached to a
// channel. Versions only ever increase; Latest is opaque to this client.
type EncryptionKeyHistory struct {
	Latest        []byte `json:"latest"`
	LatestVersion uint32 `json:"latestVersion"`
}

// EncryptedKey is the key descriptor passed along with a send operation.
type EncryptedKey struct {
	Kind           string `json:"kind"`
	EncryptedBytes []byte `json:"encryptedBytes"`
	Version        uint32 `json:"version"`
}

type Channel struct {
	ID           string               `json:"id"`
	CreatedAtMs  int64                `json:"createdAtMs"`
	Members      []ChannelMember      `json:"members"`
	MessageCount uint64               `json:"messageCount"`
	LastMessage  *Message             `json:"lastMessage,omitempty"`
	KeyHistory   EncryptionKeyHistory `json:"keyHistory"`
}

type Attachment struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	// BlobRef points at the (encrypted) payload in blob storage; the
	// payload itself is fetched and decrypted lazily, never held here.
	BlobRef string `json:"blobRef"`
}

type Message struct {
	ChannelID   string       `json:"channelId"`
	Sender      string       `json:"sender"`
	CreatedAtMs int64        `json:"createdAtMs"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// PollingState scopes incremental "what's new" queries to one channel. It
// is only meaningful for the channel it was produced for and must be
// discarded on channel switch.
type PollingState struct {
	ChannelID        string `json:"channelId"`
	LastMessageCount uint64 `json:"lastMessageCount"`
	LastCursor       uint64 `json:"lastCursor"`
}

// Membership pairs a channel with the member capability proving the
// current account's right to act in it.
type Membership struct {
	ChannelID   string `json:"channel_id"`
	MemberCapID string `json:"member_cap_id"`
}

// AttachmentUpload is the inbound form of an attachment on send.
type AttachmentUpload struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}
