package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ntdev/gatekeeper/storage/memory"
	"github.com/ntdev/gatekeeper/transport"
)

// fakeMessenger records outbound traffic and lets tests inject failures per
// method.
type fakeMessenger struct {
	mu sync.Mutex

	selfID    int64
	selfErr   error
	member    transport.MemberInfo
	memberErr error

	sendErr   error
	createErr func(chatID int64) error
	revokeErr func(link string) error

	sent    []sentMessage
	created []createdLink
	revoked []string
	linkSeq int
}

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   *transport.SendOptions
}

type createdLink struct {
	ChatID      int64
	MemberLimit int
	ExpireAt    time.Time
	Link        string
}

func (f *fakeMessenger) Self(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selfID, f.selfErr
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return nil
}

func (f *fakeMessenger) CreateInviteLink(ctx context.Context, chatID int64, memberLimit int, expireAt time.Time) (transport.InviteLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		if err := f.createErr(chatID); err != nil {
			return transport.InviteLink{}, err
		}
	}
	f.linkSeq++
	link := fmt.Sprintf("https://chat.invalid/join/%d-%d", chatID, f.linkSeq)
	f.created = append(f.created, createdLink{ChatID: chatID, MemberLimit: memberLimit, ExpireAt: expireAt, Link: link})
	return transport.InviteLink{Link: link, ExpiresAt: expireAt}, nil
}

func (f *fakeMessenger) RevokeInviteLink(ctx context.Context, chatID int64, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokeErr != nil {
		if err := f.revokeErr(link); err != nil {
			return err
		}
	}
	f.revoked = append(f.revoked, link)
	return nil
}

func (f *fakeMessenger) GetChatMember(ctx context.Context, chatID, userID int64) (transport.MemberInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member, f.memberErr
}

// messagesTo returns all texts sent to one chat.
func (f *fakeMessenger) messagesTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, m := range f.sent {
		if m.ChatID == chatID {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

// lastMessageTo returns the most recent message sent to one chat.
func (f *fakeMessenger) lastMessageTo(chatID int64) (sentMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].ChatID == chatID {
			return f.sent[i], true
		}
	}
	return sentMessage{}, false
}

func containsText(texts []string, substr string) bool {
	for _, t := range texts {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

// migratedErr builds the transport failure a moved chat produces.
func migratedErr(newID int64) error {
	return &transport.Error{
		Kind:      transport.KindChannelMigrated,
		MigrateTo: newID,
		Err:       fmt.Errorf("group upgraded"),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AdminID = 99
	cfg.VerifyChatID = 555
	return cfg
}

func newTestStore() *Store {
	return NewStore(memory.NewRepository(), nil)
}
