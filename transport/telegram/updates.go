package telegram

import (
	"context"
	"errors"
	"time"
)

// Update is one inbound event from the Bot API.
type Update struct {
	UpdateID      int64             `json:"update_id"`
	Message       *Message          `json:"message"`
	CallbackQuery *CallbackQuery    `json:"callback_query"`
	ChatMember    *ChatMemberUpdate `json:"chat_member"`
}

// Message is an inbound chat message, reduced to the fields dispatch needs.
type Message struct {
	From *User  `json:"from"`
	Chat Chat   `json:"chat"`
	Text string `json:"text"`
}

// CallbackQuery is an inline button press.
type CallbackQuery struct {
	ID   string `json:"id"`
	From User   `json:"from"`
	Data string `json:"data"`
}

// ChatMemberUpdate reports a membership status change in a chat.
type ChatMemberUpdate struct {
	Chat          Chat         `json:"chat"`
	NewChatMember MemberStatus `json:"new_chat_member"`
}

// MemberStatus pairs a user with their new status.
type MemberStatus struct {
	User   User   `json:"user"`
	Status string `json:"status"`
}

// User identifies an account.
type User struct {
	ID    int64 `json:"id"`
	IsBot bool  `json:"is_bot"`
}

// Chat identifies a chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

const pollTimeoutSeconds = 50

// AnswerCallback acknowledges a callback query so the client stops showing
// a progress indicator.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID}, nil)
}

// Poll long-polls getUpdates and invokes handler for each update in order
// until the context is cancelled. Transient poll failures back off briefly
// and retry.
func (c *Client) Poll(ctx context.Context, handler func(context.Context, Update)) error {
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := map[string]any{
			"timeout":         pollTimeoutSeconds,
			"offset":          offset,
			"allowed_updates": []string{"message", "callback_query", "chat_member"},
		}
		var updates []Update
		if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			handler(ctx, u)
		}
	}
}
