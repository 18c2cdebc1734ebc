// Package transport defines the messaging contract the admission core
// consumes. Implementations talk to a concrete chat platform; the core only
// depends on the Messenger interface and the error taxonomy here.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies transport failures the core reacts to differently.
type ErrorKind int

const (
	// KindOther is any failure without special handling.
	KindOther ErrorKind = iota
	// KindChannelMigrated means the target chat moved to a new identifier.
	// The Error carries the new id in MigrateTo.
	KindChannelMigrated
	// KindRateLimited means the platform asked us to back off.
	KindRateLimited
	// KindInvalidTarget means the link or message being acted on is already
	// invalid or unknown to the platform. Revokes treat this as settled.
	KindInvalidTarget
)

// Error is a failure reported by the messaging platform.
type Error struct {
	Kind       ErrorKind
	MigrateTo  int64 // new chat id, set when Kind == KindChannelMigrated
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindChannelMigrated:
		return fmt.Sprintf("channel migrated to %d: %v", e.MigrateTo, e.Err)
	case KindRateLimited:
		return fmt.Sprintf("rate limited for %s: %v", e.RetryAfter, e.Err)
	case KindInvalidTarget:
		return fmt.Sprintf("invalid target: %v", e.Err)
	default:
		return fmt.Sprintf("transport: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Migrated returns the new chat id if err is a channel-migrated failure.
func Migrated(err error) (int64, bool) {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindChannelMigrated {
		return te.MigrateTo, true
	}
	return 0, false
}

// AlreadyInvalid reports whether err indicates the acted-on link is already
// invalid or unknown, so a revoke can be treated as settled.
func AlreadyInvalid(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindInvalidTarget
}

// InviteLink is a single-use invite minted by the platform.
type InviteLink struct {
	Link      string
	ExpiresAt time.Time
}

// MemberInfo describes a chat member, used for startup permission checks
// and join observation.
type MemberInfo struct {
	Status         string
	CanInviteUsers bool
	CanManageChat  bool
}

// Button is one inline keyboard button. Data round-trips through the
// command parser in the gate package.
type Button struct {
	Label string
	Data  string
}

// SendOptions carries optional message decoration. A nil options value
// sends plain text.
type SendOptions struct {
	// Spoiler hides the message body behind spoiler formatting where the
	// platform supports it; implementations fall back to plain text.
	Spoiler bool
	Buttons [][]Button
}

// Messenger is the outbound surface the core needs from the chat platform.
type Messenger interface {
	// Self returns the bot's own user id, used for startup permission checks.
	Self(ctx context.Context) (int64, error)
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) error
	CreateInviteLink(ctx context.Context, chatID int64, memberLimit int, expireAt time.Time) (InviteLink, error)
	RevokeInviteLink(ctx context.Context, chatID int64, link string) error
	GetChatMember(ctx context.Context, chatID int64, userID int64) (MemberInfo, error)
}
