// Package telegram implements transport.Messenger over the Telegram Bot
// API using plain HTTP.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ntdev/gatekeeper/transport"
)

const defaultBaseURL = "https://api.telegram.org"

// Client is a minimal Bot API client. It implements transport.Messenger.
type Client struct {
	token   string
	baseURL string
	httpc   *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient creates a Bot API client for the given token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		MigrateToChatID int64 `json:"migrate_to_chat_id"`
		RetryAfter      int   `json:"retry_after"`
	} `json:"parameters"`
}

// call posts params to the named Bot API method and unmarshals the result
// into out when out is non-nil. API-level failures are mapped onto the
// transport error taxonomy.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	var body bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&body).Encode(params); err != nil {
			return fmt.Errorf("%s: encoding request: %w", method, err)
		}
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &transport.Error{Kind: transport.KindOther, Err: fmt.Errorf("%s: %w", method, err)}
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &transport.Error{Kind: transport.KindOther, Err: fmt.Errorf("%s: decoding response: %w", method, err)}
	}
	if !env.OK {
		return c.apiError(method, env)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &transport.Error{Kind: transport.KindOther, Err: fmt.Errorf("%s: decoding result: %w", method, err)}
		}
	}
	return nil
}

// apiError maps a failed API envelope onto the transport error taxonomy.
func (c *Client) apiError(method string, env apiResponse) error {
	base := fmt.Errorf("%s: %s (code %d)", method, env.Description, env.ErrorCode)

	if env.Parameters != nil && env.Parameters.MigrateToChatID != 0 {
		return &transport.Error{
			Kind:      transport.KindChannelMigrated,
			MigrateTo: env.Parameters.MigrateToChatID,
			Err:       base,
		}
	}
	if env.ErrorCode == http.StatusTooManyRequests {
		retry := time.Duration(0)
		if env.Parameters != nil {
			retry = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return &transport.Error{Kind: transport.KindRateLimited, RetryAfter: retry, Err: base}
	}
	desc := strings.ToLower(env.Description)
	if strings.Contains(desc, "invite link") &&
		(strings.Contains(desc, "invalid") || strings.Contains(desc, "not found") || strings.Contains(desc, "revoked")) {
		return &transport.Error{Kind: transport.KindInvalidTarget, Err: base}
	}
	return &transport.Error{Kind: transport.KindOther, Err: base}
}

// Self returns the bot's own user id via getMe.
func (c *Client) Self(ctx context.Context) (int64, error) {
	var me struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return 0, err
	}
	return me.ID, nil
}

// SendMessage delivers text to a chat, optionally with an inline keyboard
// or spoiler formatting.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) error {
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts != nil {
		if opts.Spoiler {
			params["entities"] = []map[string]any{
				{"type": "spoiler", "offset": 0, "length": len([]rune(text))},
			}
		}
		if len(opts.Buttons) > 0 {
			var rows [][]map[string]string
			for _, row := range opts.Buttons {
				var r []map[string]string
				for _, b := range row {
					r = append(r, map[string]string{"text": b.Label, "callback_data": b.Data})
				}
				rows = append(rows, r)
			}
			params["reply_markup"] = map[string]any{"inline_keyboard": rows}
		}
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// CreateInviteLink mints a member-limited, expiring invite link.
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, memberLimit int, expireAt time.Time) (transport.InviteLink, error) {
	params := map[string]any{
		"chat_id":      chatID,
		"member_limit": memberLimit,
		"expire_date":  expireAt.Unix(),
	}
	var link struct {
		InviteLink string `json:"invite_link"`
		ExpireDate int64  `json:"expire_date"`
	}
	if err := c.call(ctx, "createChatInviteLink", params, &link); err != nil {
		return transport.InviteLink{}, err
	}
	return transport.InviteLink{
		Link:      link.InviteLink,
		ExpiresAt: time.Unix(link.ExpireDate, 0),
	}, nil
}

// RevokeInviteLink invalidates a previously minted invite link.
func (c *Client) RevokeInviteLink(ctx context.Context, chatID int64, link string) error {
	params := map[string]any{
		"chat_id":     chatID,
		"invite_link": link,
	}
	return c.call(ctx, "revokeChatInviteLink", params, nil)
}

// GetChatMember looks up a member's status and rights in a chat.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (transport.MemberInfo, error) {
	params := map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}
	var member struct {
		Status         string `json:"status"`
		CanInviteUsers bool   `json:"can_invite_users"`
		CanManageChat  bool   `json:"can_manage_chat"`
	}
	if err := c.call(ctx, "getChatMember", params, &member); err != nil {
		return transport.MemberInfo{}, err
	}
	return transport.MemberInfo{
		Status:         member.Status,
		CanInviteUsers: member.CanInviteUsers,
		CanManageChat:  member.CanManageChat,
	}, nil
}
