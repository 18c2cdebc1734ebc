// Package bot maps inbound platform updates onto the admission core. It is
// the only place that understands slash commands and update shapes; the
// core packages never see raw updates.
package bot

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ntdev/gatekeeper/gate"
	"github.com/ntdev/gatekeeper/transport/telegram"
)

// Dispatcher routes updates to controller operations.
type Dispatcher struct {
	ctrl   *gate.Controller
	client *telegram.Client
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher over the controller and the client it
// uses to acknowledge callbacks.
func NewDispatcher(ctrl *gate.Controller, client *telegram.Client, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{ctrl: ctrl, client: client, logger: logger.With("component", "dispatcher")}
}

// HandleUpdate processes one inbound update. Errors are logged, never
// returned: a bad update must not stall the poll loop.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u telegram.Update) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if err := d.client.AnswerCallback(ctx, cq.ID); err != nil {
			d.logger.Warn("answering callback", "err", err)
		}
		if err := d.ctrl.HandleCallback(ctx, cq.From.ID, cq.Data); err != nil {
			d.logger.Warn("handling callback", "from", cq.From.ID, "err", err)
		}

	case u.Message != nil && u.Message.From != nil && !u.Message.From.IsBot:
		d.handleMessage(ctx, u.Message)

	case u.ChatMember != nil:
		cm := u.ChatMember
		d.ctrl.HandleJoin(ctx, cm.Chat.ID, cm.NewChatMember.User.ID, cm.NewChatMember.Status)
	}
}

// handleMessage interprets slash commands from private chats.
func (d *Dispatcher) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.Chat.Type != "private" {
		return
	}
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]
	fromID := msg.From.ID

	var err error
	switch cmd {
	case "start", "verify":
		err = d.ctrl.StartVerification(ctx, fromID)
	case "approve":
		err = d.userIDCommand(ctx, args, fromID, d.ctrl.Approve)
	case "reject":
		err = d.userIDCommand(ctx, args, fromID, d.ctrl.Reject)
	case "whitelist":
		err = d.userIDCommand(ctx, args, fromID, d.ctrl.Whitelist)
	case "unwhitelist":
		err = d.userIDCommand(ctx, args, fromID, d.ctrl.Unwhitelist)
	case "ban":
		err = d.userIDCommand(ctx, args, fromID, d.ctrl.Ban)
	case "unban":
		err = d.userIDCommand(ctx, args, fromID, d.ctrl.Unban)
	case "pending":
		err = d.ctrl.Pending(ctx, fromID)
	case "stats":
		err = d.ctrl.Stats(ctx, fromID)
	case "status":
		err = d.ctrl.ReportStatus(ctx, fromID)
	case "setmsg":
		if len(args) < 2 {
			return
		}
		// The template body is everything after the key, whitespace intact.
		rest := strings.TrimSpace(strings.TrimPrefix(msg.Text, fields[0]))
		body := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		err = d.ctrl.SetTemplate(ctx, fromID, args[0], body)
	case "setverify":
		chatID, ok := d.parseID(ctx, args, fromID, "Usage: /setverify <chat_id>")
		if !ok {
			return
		}
		err = d.ctrl.SetVerifyChat(ctx, fromID, chatID)
	case "invitehistory":
		asCSV := len(args) == 2 && strings.EqualFold(args[0], "csv")
		idArg := args
		if asCSV {
			idArg = args[1:]
		}
		uid, ok := d.parseID(ctx, idArg, fromID, "Usage: /invitehistory [csv] <user_id>")
		if !ok {
			return
		}
		err = d.ctrl.InviteHistory(ctx, fromID, uid, asCSV)
	case "admindash":
		err = d.ctrl.OpenDashboard(ctx, fromID)
	default:
		return
	}
	if err != nil {
		d.logger.Warn("command failed", "command", cmd, "from", fromID, "err", err)
	}
}

// userIDCommand parses a single user-id argument and invokes fn.
func (d *Dispatcher) userIDCommand(ctx context.Context, args []string, fromID int64, fn func(context.Context, int64, int64) error) error {
	uid, ok := d.parseID(ctx, args, fromID, "Usage: command <user_id>")
	if !ok {
		return nil
	}
	return fn(ctx, fromID, uid)
}

// parseID parses a single numeric id argument, telling the sender what went
// wrong on malformed input.
func (d *Dispatcher) parseID(ctx context.Context, args []string, fromID int64, usage string) (int64, bool) {
	if len(args) != 1 {
		d.reply(ctx, fromID, usage)
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		d.reply(ctx, fromID, "That id is not numeric. "+usage)
		return 0, false
	}
	return id, true
}

// reply sends a direct response, best-effort.
func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if err := d.client.SendMessage(ctx, chatID, text, nil); err != nil {
		d.logger.Warn("reply dropped", "chat_id", chatID, "err", err)
	}
}
