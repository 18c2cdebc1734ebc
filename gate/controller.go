package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/ntdev/gatekeeper/storage"
	"github.com/ntdev/gatekeeper/transport"
)

// maxMessageLen is the chunk size for long reviewer reports.
const maxMessageLen = 4000

// Controller orchestrates the admission flows: self-serve verification,
// escalation to the reviewer, admin decisions and join observation. Every
// failure that would strand a user is converted into a pending-admin
// escalation instead of a bare error.
type Controller struct {
	cfg       Config
	store     *Store
	sessions  *SessionManager
	invites   *InviteLifecycle
	resolver  *Resolver
	msgr      transport.Messenger
	templates *Templates
	logger    *slog.Logger
	startedAt time.Time
}

// Option configures the Controller.
type Option func(*Controller)

// WithLogger sets the structured logger. If not set, a JSON logger writing
// to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController wires the admission core over a repository and a messenger.
func NewController(repo storage.Repository, msgr transport.Messenger, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg,
		msgr:      msgr,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	c.store = NewStore(repo, c.logger)
	c.sessions = NewSessionManager(c.store, cfg)
	c.resolver = NewResolver(c.store, cfg.VerifyChatID, c.logger)
	c.invites = NewInviteLifecycle(c.store, msgr, c.resolver, cfg, c.logger)
	c.templates = NewTemplates(c.store)
	return c
}

// Store exposes the persistence layer for operational reporting.
func (c *Controller) Store() *Store { return c.store }

// Resolver exposes the channel address resolver.
func (c *Controller) Resolver() *Resolver { return c.resolver }

// notifyBestEffort sends a message and discards delivery failures after
// logging them. Used for every notification that must never fail the
// primary operation.
func (c *Controller) notifyBestEffort(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) {
	if err := c.msgr.SendMessage(ctx, chatID, text, opts); err != nil {
		c.logger.Warn("notification dropped", "chat_id", chatID, "err", err)
		c.store.AppendEvent(0, 0, "notify_failed", err.Error())
	}
}

// notifyReviewer delivers to the fixed reviewer destination, best-effort.
func (c *Controller) notifyReviewer(ctx context.Context, text string, opts *transport.SendOptions) {
	c.notifyBestEffort(ctx, c.cfg.AdminID, text, opts)
}

// reviewKeyboard builds the approve/reject/whitelist/ban action buttons for
// a user under manual review.
func reviewKeyboard(userID int64) *transport.SendOptions {
	uid := strconv.FormatInt(userID, 10)
	return &transport.SendOptions{Buttons: [][]transport.Button{
		{
			{Label: "Approve", Data: "approve:" + uid},
			{Label: "Reject", Data: "reject:" + uid},
		},
		{
			{Label: "Whitelist", Data: "whitelist:" + uid},
			{Label: "Ban", Data: "ban:" + uid},
		},
		{
			{Label: "Invite history", Data: "invhist:" + uid},
			{Label: "Invite history CSV", Data: "invhist_csv:" + uid},
		},
	}}
}

// StartVerification begins the self-serve path: flag pre-checks, rate
// limit, then a fresh challenge delivered as option buttons.
func (c *Controller) StartVerification(ctx context.Context, userID int64) error {
	sess, ch, err := c.sessions.Begin(userID)
	switch {
	case errors.Is(err, ErrNotAllowed):
		c.notifyBestEffort(ctx, userID, "You are banned from verification. Contact an admin if this is a mistake.", nil)
		c.store.AppendEvent(userID, 0, "start_blocked_banned", "")
		return nil
	case errors.Is(err, ErrWhitelisted):
		c.notifyBestEffort(ctx, userID, "You are already whitelisted. Use your normal account to join the group.", nil)
		c.store.AppendEvent(userID, 0, "start_blocked_whitelisted", "")
		return nil
	case err != nil:
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			wait := int(rl.RetryAfter.Round(time.Second).Seconds())
			c.notifyBestEffort(ctx, userID, fmt.Sprintf("Please wait %d more seconds before requesting a new captcha.", wait), nil)
			return nil
		}
		return fmt.Errorf("beginning verification for %d: %w", userID, err)
	}

	uid := strconv.FormatInt(userID, 10)
	row := make([]transport.Button, 0, len(ch.Options))
	for _, opt := range ch.Options {
		row = append(row, transport.Button{Label: opt, Data: "captcha:" + opt + ":" + uid})
	}
	text := fmt.Sprintf("Solve this captcha by clicking the matching emoji button below.\n\nSelect the emoji that matches this token: %s", sess.Answer)
	c.notifyBestEffort(ctx, userID, text, &transport.SendOptions{Buttons: [][]transport.Button{row}})
	return nil
}

// HandleCallback routes a parsed callback payload. Unknown payloads are a
// first-class outcome reported to the reviewer.
func (c *Controller) HandleCallback(ctx context.Context, fromID int64, data string) error {
	cmd := ParseCommand(data)

	if cmd.Verb == VerbUnknown {
		c.store.AppendEvent(fromID, 0, "callback_unknown", cmd.Raw)
		c.notifyReviewer(ctx, fmt.Sprintf("Unknown callback payload from %d: %q", fromID, cmd.Raw), nil)
		return nil
	}

	if cmd.Verb == VerbAnswer {
		if fromID != cmd.UserID {
			c.notifyBestEffort(ctx, fromID, "This captcha is not for you.", nil)
			return nil
		}
		return c.SubmitAnswer(ctx, cmd.UserID, cmd.Token)
	}

	// Everything else is an admin action.
	if fromID != c.cfg.AdminID {
		c.notifyBestEffort(ctx, fromID, "Only the configured admin may use these buttons.", nil)
		return fmt.Errorf("callback %q from %d: %w", cmd.Raw, fromID, ErrNotAllowed)
	}

	switch cmd.Verb {
	case VerbApprove:
		return c.Approve(ctx, fromID, cmd.UserID)
	case VerbReject:
		return c.Reject(ctx, fromID, cmd.UserID)
	case VerbWhitelist:
		return c.Whitelist(ctx, fromID, cmd.UserID)
	case VerbBan:
		return c.Ban(ctx, fromID, cmd.UserID)
	case VerbHistory:
		return c.InviteHistory(ctx, fromID, cmd.UserID, false)
	case VerbHistoryCSV:
		return c.InviteHistory(ctx, fromID, cmd.UserID, true)
	case VerbPage:
		c.SendDashboard(ctx, cmd.Page)
	case VerbRun:
		if entry, ok := c.DashboardCommand(cmd.Index); ok {
			c.notifyReviewer(ctx, fmt.Sprintf("%s\n\n%s", entry.Command, entry.Description), nil)
		}
	case VerbToggle:
		c.ToggleExposeMembers(fromID)
		c.SendDashboard(ctx, 0)
	case VerbClose, VerbNoop:
		// Nothing to do.
	}
	return nil
}

// SubmitAnswer runs the self-serve answer path. A correct answer issues an
// invite; an issuance failure never strands the user. It persists a
// pending-admin session preserving the answer and escalates with full
// context.
func (c *Controller) SubmitAnswer(ctx context.Context, userID int64, candidate string) error {
	res, err := c.sessions.SubmitAnswer(userID, candidate)
	switch {
	case errors.Is(err, ErrNotAllowed):
		c.notifyBestEffort(ctx, userID, "You are banned from verification. Contact an admin if this is a mistake.", nil)
		return nil
	case errors.Is(err, ErrWhitelisted):
		c.notifyBestEffort(ctx, userID, "You are already whitelisted. Use your normal account to join the group.", nil)
		return nil
	case errors.Is(err, ErrNoSession):
		c.notifyBestEffort(ctx, userID, "No active captcha (maybe expired). Send /verify to try again.", nil)
		return nil
	case errors.Is(err, ErrExpired):
		c.notifyBestEffort(ctx, userID, "Captcha expired. Send /verify to try again.", nil)
		return nil
	case err != nil:
		return fmt.Errorf("submitting answer for %d: %w", userID, err)
	}

	switch res.Outcome {
	case SubmitCorrect:
		if err := c.deliverInvite(ctx, userID, 0, TplVerified); err != nil {
			c.escalateIssuanceFailure(ctx, userID, res.Answer, err)
			return nil
		}
		c.store.AppendEvent(userID, 0, "auto_approved", fmt.Sprintf("invite_sent ttl=%s", c.cfg.InviteTTL))

	case SubmitEscalate:
		c.notifyReviewer(ctx, fmt.Sprintf("User %d failed captcha %d times and requires manual review.", userID, res.Attempts), reviewKeyboard(userID))
		c.notifyBestEffort(ctx, userID, "Too many failed attempts — admins have been notified.", nil)

	case SubmitIncorrect:
		c.notifyBestEffort(ctx, userID, fmt.Sprintf("Incorrect. You have %d attempts left. Send /verify to try again.", res.AttemptsLeft), nil)
	}
	return nil
}

// deliverInvite issues an invite attributed to actorID and delivers it to
// the user using the given message template.
func (c *Controller) deliverInvite(ctx context.Context, userID, actorID int64, tplKey string) error {
	inv, err := c.invites.Issue(ctx, userID, actorID)
	if err != nil {
		return err
	}
	minutes := int(c.cfg.InviteTTL.Minutes())
	text := c.templates.Render(tplKey, map[string]string{
		"link":    inv.Link,
		"minutes": strconv.Itoa(minutes),
	})
	c.notifyBestEffort(ctx, userID, text, &transport.SendOptions{Spoiler: true})
	return nil
}

// escalateIssuanceFailure converts a failed issuance after a correct answer
// into guaranteed human follow-up.
func (c *Controller) escalateIssuanceFailure(ctx context.Context, userID int64, answer string, cause error) {
	c.store.AppendEvent(userID, 0, "auto_approve_failed", cause.Error())
	if err := c.sessions.SavePendingAdmin(userID, answer); err != nil {
		c.logger.Error("persisting pending-admin session", "user_id", userID, "err", err)
	}
	c.notifyReviewer(ctx, fmt.Sprintf(
		"Verification request (auto-approve failed) for user %d.\n\nAuto-approve failed with error:\n%v\n\nPlease approve or reject.",
		userID, cause), reviewKeyboard(userID))
	c.notifyBestEffort(ctx, userID, c.templates.Render(TplAutoFailUser, nil), nil)
}

// requireAdmin gates the admin decision paths.
func (c *Controller) requireAdmin(actorID int64) error {
	if actorID != c.cfg.AdminID {
		return fmt.Errorf("actor %d: %w", actorID, ErrNotAllowed)
	}
	return nil
}

// Approve issues an invite attributed to the acting admin, using the same
// issuance logic as the self-serve path.
func (c *Controller) Approve(ctx context.Context, actorID, userID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	if err := c.deliverInvite(ctx, userID, actorID, TplApproved); err != nil {
		c.store.AppendEvent(userID, actorID, "approve_failed", err.Error())
		c.notifyReviewer(ctx, fmt.Sprintf("Approval failed for user %d: %v", userID, err), nil)
		return fmt.Errorf("approving %d: %w", userID, err)
	}
	if err := c.sessions.Clear(userID); err != nil {
		c.logger.Warn("clearing session after approval", "user_id", userID, "err", err)
	}
	c.store.AppendEvent(userID, actorID, "approved", "")
	c.notifyReviewer(ctx, fmt.Sprintf("Approved %d and invite sent.", userID), nil)
	return nil
}

// Reject clears the user's session and notifies them.
func (c *Controller) Reject(ctx context.Context, actorID, userID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	if err := c.sessions.Clear(userID); err != nil {
		return fmt.Errorf("rejecting %d: %w", userID, err)
	}
	c.store.AppendEvent(userID, actorID, "rejected", "")
	c.notifyBestEffort(ctx, userID, c.templates.Render(TplRejected, nil), nil)
	c.notifyReviewer(ctx, fmt.Sprintf("Rejected %d.", userID), nil)
	return nil
}

// Whitelist flags the user as exempt from verification.
func (c *Controller) Whitelist(ctx context.Context, actorID, userID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	if err := c.store.SetWhitelist(userID, true, actorID, "whitelisted by admin"); err != nil {
		return fmt.Errorf("whitelisting %d: %w", userID, err)
	}
	c.store.AppendEvent(userID, actorID, "whitelist", "")
	c.notifyBestEffort(ctx, userID, c.templates.Render(TplWhitelisted, nil), nil)
	c.notifyReviewer(ctx, fmt.Sprintf("Whitelisted %d.", userID), nil)
	return nil
}

// Unwhitelist clears the whitelist flag.
func (c *Controller) Unwhitelist(ctx context.Context, actorID, userID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	if err := c.store.SetWhitelist(userID, false, actorID, "unwhitelisted by admin"); err != nil {
		return fmt.Errorf("unwhitelisting %d: %w", userID, err)
	}
	c.store.AppendEvent(userID, actorID, "unwhitelist", "")
	c.notifyReviewer(ctx, fmt.Sprintf("Unwhitelisted %d.", userID), nil)
	return nil
}

// Ban blocks the user from verification and clears any session.
func (c *Controller) Ban(ctx context.Context, actorID, userID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	if err := c.store.SetBan(userID, true, actorID, "banned by admin"); err != nil {
		return fmt.Errorf("banning %d: %w", userID, err)
	}
	if err := c.sessions.Clear(userID); err != nil {
		c.logger.Warn("clearing session on ban", "user_id", userID, "err", err)
	}
	c.store.AppendEvent(userID, actorID, "ban", "")
	c.notifyBestEffort(ctx, userID, c.templates.Render(TplBanned, nil), nil)
	c.notifyReviewer(ctx, fmt.Sprintf("Banned %d.", userID), nil)
	return nil
}

// Unban clears the ban flag.
func (c *Controller) Unban(ctx context.Context, actorID, userID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	if err := c.store.SetBan(userID, false, actorID, "unbanned by admin"); err != nil {
		return fmt.Errorf("unbanning %d: %w", userID, err)
	}
	c.store.AppendEvent(userID, actorID, "unban", "")
	c.notifyReviewer(ctx, fmt.Sprintf("Unbanned %d.", userID), nil)
	return nil
}

// Pending reports sessions awaiting an admin decision to the reviewer.
func (c *Controller) Pending(ctx context.Context, actorID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	pending, err := c.store.PendingSessions(100)
	if err != nil {
		return fmt.Errorf("listing pending sessions: %w", err)
	}
	if len(pending) == 0 {
		c.notifyReviewer(ctx, "No pending sessions.", nil)
		return nil
	}
	var b []byte
	for _, sess := range pending {
		b = fmt.Appendf(b, "uid=%d started=%s\n", sess.UserID, sess.StartedAt.Format("2006-01-02 15:04:05"))
	}
	for _, chunk := range chunkText(string(b), maxMessageLen) {
		c.notifyReviewer(ctx, chunk, nil)
	}
	return nil
}

// Stats reports basic counters to the reviewer.
func (c *Controller) Stats(ctx context.Context, actorID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	counts, err := c.store.CountEventsByType("attempt_inc", "approved", "ban")
	if err != nil {
		return fmt.Errorf("counting events: %w", err)
	}
	_, pending, err := c.store.CountSessions()
	if err != nil {
		return fmt.Errorf("counting sessions: %w", err)
	}
	c.notifyReviewer(ctx, fmt.Sprintf("attempts=%d approved=%d banned=%d pending=%d",
		counts["attempt_inc"], counts["approved"], counts["ban"], pending), nil)
	return nil
}

// ReportStatus sends the status snapshot to the reviewer on demand.
func (c *Controller) ReportStatus(ctx context.Context, actorID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	c.notifyReviewer(ctx, c.Status().StatusText(), nil)
	return nil
}

// SetTemplate stores a message-template override.
func (c *Controller) SetTemplate(ctx context.Context, actorID int64, key, text string) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	if err := c.templates.Set(key, text); err != nil {
		return err
	}
	c.store.AppendEvent(0, actorID, "template_set", key)
	c.notifyReviewer(ctx, fmt.Sprintf("Saved template %s.", key), nil)
	return nil
}

// SetVerifyChat changes the target verify chat id at runtime.
func (c *Controller) SetVerifyChat(ctx context.Context, actorID, chatID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	c.resolver.Set(chatID, actorID)
	c.notifyReviewer(ctx, fmt.Sprintf("Verify chat id updated to %d.", chatID), nil)
	return nil
}

// InviteHistory reports a user's invite history to the reviewer, as text
// or CSV.
func (c *Controller) InviteHistory(ctx context.Context, actorID, userID int64, asCSV bool) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	limit := 200
	if asCSV {
		limit = 2000
	}
	invites, err := c.store.InvitesForUser(userID, limit)
	if err != nil {
		return fmt.Errorf("listing invites for %d: %w", userID, err)
	}
	if len(invites) == 0 {
		c.notifyReviewer(ctx, "No invites found for that user.", nil)
		return nil
	}
	var text string
	if asCSV {
		text = invitesCSV(invites)
	} else {
		text = invitesText(invites)
	}
	for _, chunk := range chunkText(text, maxMessageLen) {
		c.notifyReviewer(ctx, chunk, nil)
	}
	return nil
}

// HandleJoin observes a user joining a chat; joins to the verify chat
// consume the user's outstanding invites.
func (c *Controller) HandleJoin(ctx context.Context, chatID, userID int64, newStatus string) {
	if chatID != c.resolver.Resolve() || newStatus != "member" {
		return
	}
	c.invites.ConsumeOnJoin(ctx, userID)
}

// OpenDashboard sends the first dashboard page if the actor is the admin.
func (c *Controller) OpenDashboard(ctx context.Context, actorID int64) error {
	if err := c.requireAdmin(actorID); err != nil {
		return err
	}
	c.SendDashboard(ctx, 0)
	return nil
}

// SendDashboard delivers the paginated admin menu to the reviewer.
func (c *Controller) SendDashboard(ctx context.Context, page int) {
	p := c.DashboardPage(page)
	var rows [][]transport.Button
	for i, entry := range p.Entries {
		rows = append(rows, []transport.Button{{
			Label: entry.Label,
			Data:  fmt.Sprintf("%s:run:%d", dashboardPrefix, p.Offset+i),
		}})
	}
	var nav []transport.Button
	if p.HasPrev {
		nav = append(nav, transport.Button{Label: "◀ Prev", Data: fmt.Sprintf("%s:page:%d", dashboardPrefix, p.Page-1)})
	}
	nav = append(nav, transport.Button{Label: fmt.Sprintf("Page %d/%d", p.Page+1, p.Pages), Data: dashboardPrefix + ":noop"})
	if p.HasNext {
		nav = append(nav, transport.Button{Label: "Next ▶", Data: fmt.Sprintf("%s:page:%d", dashboardPrefix, p.Page+1)})
	}
	rows = append(rows, nav)

	toggleLabel := "Expose member-list"
	if p.ExposeMembers {
		toggleLabel = "Hide member-list"
	}
	rows = append(rows, []transport.Button{
		{Label: toggleLabel, Data: dashboardPrefix + ":toggle_members"},
		{Label: "Close", Data: dashboardPrefix + ":close"},
	})
	c.notifyReviewer(ctx, "Admin dashboard", &transport.SendOptions{Buttons: rows})
}

// OnStartup announces the bot and verifies its permissions in the verify
// chat, warning the reviewer on any problem. All failures are best-effort.
func (c *Controller) OnStartup(ctx context.Context) {
	c.notifyReviewer(ctx, "[Startup] Bot is online", nil)

	chatID := c.resolver.Resolve()
	if chatID == 0 {
		c.store.AppendEvent(0, 0, "perm_missing", "verify chat id not set")
		c.notifyReviewer(ctx, "Warning: verify chat id not set; verify flow may fail.", nil)
		return
	}
	selfID, err := c.msgr.Self(ctx)
	if err != nil {
		c.store.AppendEvent(0, 0, "startup_perm_check_failed", err.Error())
		c.notifyReviewer(ctx, fmt.Sprintf("Warning: failed to check bot permissions: %v", err), nil)
		return
	}
	member, err := c.msgr.GetChatMember(ctx, chatID, selfID)
	if err != nil {
		c.store.AppendEvent(0, 0, "startup_perm_check_failed", err.Error())
		c.notifyReviewer(ctx, fmt.Sprintf("Warning: failed to check bot permissions: %v", err), nil)
		return
	}
	isAdmin := member.Status == "administrator" || member.Status == "creator"
	canInvite := member.CanInviteUsers || member.CanManageChat
	if !isAdmin || !canInvite {
		note := fmt.Sprintf("Startup permission warning: bot admin/invite rights missing in verify chat (id %d). Auto-approve may fail.", chatID)
		c.store.AppendEvent(0, 0, "perm_missing", note)
		c.notifyReviewer(ctx, note, nil)
	}
}

// BackgroundTasks returns the long-running loops the bootstrap layer must
// run: the invite expiry sweep and the heartbeat. Each terminates when its
// context is cancelled.
func (c *Controller) BackgroundTasks() []func(context.Context) {
	return []func(context.Context){
		c.invites.Run,
		c.heartbeatLoop,
	}
}

// chunkText splits s into pieces of at most n bytes, on byte boundaries the
// platform tolerates for plain reports.
func chunkText(s string, n int) []string {
	var chunks []string
	for len(s) > n {
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}
