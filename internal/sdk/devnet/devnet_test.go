package devnet

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sealchat-gateway/internal/model"
	"sealchat-gateway/internal/sdk"
	"sealchat-gateway/internal/seal"
)

func liveSession(t *testing.T) SessionSource {
	t.Helper()
	key, err := seal.Create(seal.CreateOptions{
		Address:   "0xalice",
		PackageID: "0xpkg",
		TTLMin:    30,
		Certifier: seal.HMACCertifier{Secret: "secret", Issuer: "test"},
	})
	if err != nil {
		t.Fatalf("seal.Create: %v", err)
	}
	if err := key.SetPersonalMessageSignature([]byte("sig")); err != nil {
		t.Fatalf("SetPersonalMessageSignature: %v", err)
	}
	return func() (*seal.SessionKey, bool) { return key, true }
}

func newTestNetwork(t *testing.T) *Network {
	t.Helper()
	return New(Options{Secret: "dev", Session: liveSession(t)})
}

func createReadyChannel(t *testing.T, n *Network, creator string, recipients ...string) (string, string) {
	t.Helper()
	ctx := context.Background()
	created, err := n.CreateChannel(ctx, creator, recipients)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := n.AttachEncryptionKey(ctx, created.ChannelID, created.CreatorCapID); err != nil {
		t.Fatalf("AttachEncryptionKey: %v", err)
	}
	return created.ChannelID, created.CreatorCapID
}

func sendText(t *testing.T, n *Network, channelID, capID, sender, text string) {
	t.Helper()
	ctx := context.Background()
	ch, err := n.GetChannel(ctx, channelID, sender)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	_, err = n.SendMessage(ctx, sdk.SendRequest{
		ChannelID:   channelID,
		MemberCapID: capID,
		Sender:      sender,
		Text:        text,
		EncryptedKey: model.EncryptedKey{
			Kind:           "Encrypted",
			EncryptedBytes: ch.KeyHistory.Latest,
			Version:        ch.KeyHistory.LatestVersion,
		},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func TestCreateChannelFlow(t *testing.T) {
	n := newTestNetwork(t)
	ctx := context.Background()

	created, err := n.CreateChannel(ctx, "0xalice", []string{"0xbob"})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if created.ChannelID == "" || created.CreatorCapID == "" || created.Digest == "" {
		t.Fatalf("incomplete creation result: %+v", created)
	}

	ch, err := n.GetChannel(ctx, created.ChannelID, "0xalice")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if len(ch.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(ch.Members))
	}
	if ch.KeyHistory.LatestVersion != 0 {
		t.Fatalf("expected no key before attach")
	}

	if _, err := n.AttachEncryptionKey(ctx, created.ChannelID, created.CreatorCapID); err != nil {
		t.Fatalf("AttachEncryptionKey: %v", err)
	}
	ch, err = n.GetChannel(ctx, created.ChannelID, "0xalice")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if ch.KeyHistory.LatestVersion != 1 {
		t.Fatalf("expected key version 1, got %d", ch.KeyHistory.LatestVersion)
	}
	if len(ch.KeyHistory.Latest) == 0 {
		t.Fatalf("expected sealed key material")
	}
}

func TestSendAndRead(t *testing.T) {
	n := newTestNetwork(t)
	channelID, capID := createReadyChannel(t, n, "0xalice", "0xbob")

	sendText(t, n, channelID, capID, "0xalice", "hello bob")

	page, err := n.GetMessages(context.Background(), channelID, "0xalice", nil, 20)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(page.Messages))
	}
	if page.Messages[0].Text != "hello bob" {
		t.Fatalf("expected decrypted text, got %q", page.Messages[0].Text)
	}
	if page.HasNextPage {
		t.Fatalf("expected no more pages")
	}
}

func TestSend_RejectsWrongCapAndStaleKey(t *testing.T) {
	n := newTestNetwork(t)
	channelID, capID := createReadyChannel(t, n, "0xalice", "0xbob")
	ctx := context.Background()

	ch, err := n.GetChannel(ctx, channelID, "0xalice")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	goodKey := model.EncryptedKey{Kind: "Encrypted", EncryptedBytes: ch.KeyHistory.Latest, Version: ch.KeyHistory.LatestVersion}

	_, err = n.SendMessage(ctx, sdk.SendRequest{ChannelID: channelID, MemberCapID: "bogus", Sender: "0xalice", Text: "x", EncryptedKey: goodKey})
	if !errors.Is(err, sdk.ErrBadMemberCap) {
		t.Fatalf("expected ErrBadMemberCap, got %v", err)
	}

	stale := goodKey
	stale.Version = goodKey.Version + 1
	_, err = n.SendMessage(ctx, sdk.SendRequest{ChannelID: channelID, MemberCapID: capID, Sender: "0xalice", Text: "x", EncryptedKey: stale})
	if !errors.Is(err, sdk.ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}
}

func TestBackwardPagination(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	n := New(Options{Secret: "dev", Session: liveSession(t), Now: func() time.Time {
		now = now.Add(time.Second)
		return now
	}})
	channelID, capID := createReadyChannel(t, n, "0xalice", "0xbob")

	for i := 0; i < 45; i++ {
		sendText(t, n, channelID, capID, "0xalice", fmt.Sprintf("m%02d", i))
	}

	ctx := context.Background()
	page1, err := n.GetMessages(ctx, channelID, "0xalice", nil, 20)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(page1.Messages) != 20 || !page1.HasNextPage {
		t.Fatalf("unexpected first page: %d messages, hasNext=%v", len(page1.Messages), page1.HasNextPage)
	}
	if page1.Messages[19].Text != "m44" {
		t.Fatalf("expected newest message last, got %q", page1.Messages[19].Text)
	}

	page2, err := n.GetMessages(ctx, channelID, "0xalice", &page1.Cursor, 20)
	if err != nil {
		t.Fatalf("GetMessages page 2: %v", err)
	}
	if len(page2.Messages) != 20 || !page2.HasNextPage {
		t.Fatalf("unexpected second page: %d messages, hasNext=%v", len(page2.Messages), page2.HasNextPage)
	}

	page3, err := n.GetMessages(ctx, channelID, "0xalice", &page2.Cursor, 20)
	if err != nil {
		t.Fatalf("GetMessages page 3: %v", err)
	}
	if len(page3.Messages) != 5 || page3.HasNextPage {
		t.Fatalf("unexpected last page: %d messages, hasNext=%v", len(page3.Messages), page3.HasNextPage)
	}

	var all []string
	for _, p := range [][]model.Message{page3.Messages, page2.Messages, page1.Messages} {
		for _, m := range p {
			all = append(all, m.Text)
		}
	}
	for i, text := range all {
		if want := fmt.Sprintf("m%02d", i); text != want {
			t.Fatalf("message %d: got %q want %q", i, text, want)
		}
	}
}

func TestLatestMessagesSincePollingState(t *testing.T) {
	n := newTestNetwork(t)
	channelID, capID := createReadyChannel(t, n, "0xalice", "0xbob")
	ctx := context.Background()

	sendText(t, n, channelID, capID, "0xalice", "first")
	state := model.PollingState{ChannelID: channelID, LastMessageCount: 1}

	latest, err := n.GetLatestMessages(ctx, channelID, "0xalice", state, 50)
	if err != nil {
		t.Fatalf("GetLatestMessages: %v", err)
	}
	if len(latest.Messages) != 0 {
		t.Fatalf("expected no new messages, got %d", len(latest.Messages))
	}

	sendText(t, n, channelID, capID, "0xalice", "second")
	latest, err = n.GetLatestMessages(ctx, channelID, "0xalice", state, 50)
	if err != nil {
		t.Fatalf("GetLatestMessages: %v", err)
	}
	if len(latest.Messages) != 1 || latest.Messages[0].Text != "second" {
		t.Fatalf("unexpected latest page: %+v", latest.Messages)
	}
	if latest.Cursor != 2 {
		t.Fatalf("expected cursor 2, got %d", latest.Cursor)
	}
}

func TestRequiresLiveSession(t *testing.T) {
	n := New(Options{Secret: "dev"})
	_, err := n.ListChannels(context.Background(), "0xalice", 10)
	if !errors.Is(err, sdk.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestAttachmentsRoundTripThroughBlobStorage(t *testing.T) {
	n := newTestNetwork(t)
	channelID, capID := createReadyChannel(t, n, "0xalice", "0xbob")
	ctx := context.Background()

	ch, err := n.GetChannel(ctx, channelID, "0xalice")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	_, err = n.SendMessage(ctx, sdk.SendRequest{
		ChannelID:   channelID,
		MemberCapID: capID,
		Sender:      "0xalice",
		Text:        "see attached",
		EncryptedKey: model.EncryptedKey{
			Kind:           "Encrypted",
			EncryptedBytes: ch.KeyHistory.Latest,
			Version:        ch.KeyHistory.LatestVersion,
		},
		Attachments: []model.AttachmentUpload{
			{FileName: "notes.txt", MimeType: "text/plain", Data: []byte("attachment body")},
		},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	page, err := n.GetMessages(ctx, channelID, "0xbob", nil, 20)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(page.Messages) != 1 || len(page.Messages[0].Attachments) != 1 {
		t.Fatalf("expected one message with one attachment")
	}
	att := page.Messages[0].Attachments[0]
	if att.FileName != "notes.txt" || att.Size != int64(len("attachment body")) {
		t.Fatalf("unexpected attachment meta: %+v", att)
	}

	body, err := n.ReadBlob(channelID, att.BlobRef)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(body) != "attachment body" {
		t.Fatalf("expected decrypted blob, got %q", body)
	}
}

func TestMemberships(t *testing.T) {
	n := newTestNetwork(t)
	channelID, _ := createReadyChannel(t, n, "0xalice", "0xbob")

	memberships, err := n.GetMemberships(context.Background(), "0xbob")
	if err != nil {
		t.Fatalf("GetMemberships: %v", err)
	}
	if len(memberships) != 1 {
		t.Fatalf("expected 1 membership, got %d", len(memberships))
	}
	if memberships[0].ChannelID != channelID || memberships[0].MemberCapID == "" {
		t.Fatalf("unexpected membership: %+v", memberships[0])
	}
}
