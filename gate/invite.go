package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ntdev/gatekeeper/transport"
)

// InviteLifecycle creates, tracks and retires single-use invites against
// the verify chat. All transport calls targeting the chat go through the
// Resolver's migration-retry wrapper.
type InviteLifecycle struct {
	store    *Store
	msgr     transport.Messenger
	resolver *Resolver
	cfg      Config
	logger   *slog.Logger
}

// NewInviteLifecycle wires the lifecycle over its collaborators.
func NewInviteLifecycle(store *Store, msgr transport.Messenger, resolver *Resolver, cfg Config, logger *slog.Logger) *InviteLifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &InviteLifecycle{
		store:    store,
		msgr:     msgr,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With("component", "invites"),
	}
}

// Issue mints a single-use invite (member limit 1, fixed TTL) for the user,
// persists it, then revokes the user's older unrevoked invites best-effort:
// a failed revoke of an old invite is logged and never blocks the issuance.
func (l *InviteLifecycle) Issue(ctx context.Context, userID, actorID int64) (Invite, error) {
	var link transport.InviteLink
	var chatID int64
	now := time.Now()
	err := l.resolver.Do(ctx, func(ctx context.Context, id int64) error {
		chatID = id
		var err error
		link, err = l.msgr.CreateInviteLink(ctx, id, 1, now.Add(l.cfg.InviteTTL))
		return err
	})
	if err != nil {
		return Invite{}, fmt.Errorf("creating invite link: %w", err)
	}

	inv := Invite{
		ID:        uuid.NewString(),
		Link:      link.Link,
		ChatID:    chatID,
		UserID:    userID,
		IssuedBy:  actorID,
		CreatedAt: now,
		ExpiresAt: now.Add(l.cfg.InviteTTL),
	}
	if err := l.store.InsertInvite(inv); err != nil {
		return Invite{}, fmt.Errorf("persisting invite: %w", err)
	}
	l.store.AppendEvent(userID, actorID, "invite_issued", inv.Link)

	l.revokeOthers(ctx, userID, inv.ID, actorID)
	return inv, nil
}

// revokeOthers retires every other unrevoked invite the user holds.
// Best-effort: failures are logged and do not propagate.
func (l *InviteLifecycle) revokeOthers(ctx context.Context, userID int64, excludeID string, actorID int64) {
	others, err := l.store.UnrevokedInvitesForUser(userID)
	if err != nil {
		l.logger.Warn("listing invites to supersede", "user_id", userID, "err", err)
		return
	}
	for _, other := range others {
		if other.ID == excludeID {
			continue
		}
		if err := l.Revoke(ctx, other, actorID); err != nil {
			l.logger.Warn("superseding old invite", "user_id", userID, "invite_id", other.ID, "err", err)
			l.store.AppendEvent(userID, actorID, "revoke_other_failed", err.Error())
		}
	}
}

// Revoke invalidates the invite with the platform and marks it revoked.
// A transport report that the link is already invalid or unknown counts as
// success and the invite is marked revoked regardless.
func (l *InviteLifecycle) Revoke(ctx context.Context, inv Invite, actorID int64) error {
	err := l.msgr.RevokeInviteLink(ctx, inv.ChatID, inv.Link)
	if err != nil && !transport.AlreadyInvalid(err) {
		l.store.AppendEvent(inv.UserID, actorID, "revoke_failed", err.Error())
		return fmt.Errorf("revoking invite %s: %w", inv.ID, err)
	}
	if err := l.store.MarkInviteRevoked(inv.ID, actorID); err != nil {
		return fmt.Errorf("marking invite %s revoked: %w", inv.ID, err)
	}
	l.store.AppendEvent(inv.UserID, actorID, "invite_revoked", inv.Link)
	return nil
}

// ConsumeOnJoin retires the invite a joining user consumed, plus any stray
// unrevoked invites they still hold. A user never retains a usable invite
// after joining.
func (l *InviteLifecycle) ConsumeOnJoin(ctx context.Context, userID int64) {
	invites, err := l.store.UnrevokedInvitesForUser(userID)
	if err != nil {
		l.logger.Warn("listing invites on join", "user_id", userID, "err", err)
		return
	}
	for _, inv := range invites {
		if err := l.Revoke(ctx, inv, 0); err != nil {
			l.logger.Warn("revoking invite on join", "user_id", userID, "invite_id", inv.ID, "err", err)
		}
	}
	if len(invites) > 0 {
		l.store.AppendEvent(userID, 0, "invites_consumed_on_join", fmt.Sprintf("count=%d", len(invites)))
	}
}

// SweepExpired revokes every unrevoked invite whose expiry is at or before
// now. Failures are logged and the sweep continues; nothing is retried
// before the next scheduled pass. Returns the number of invites revoked.
func (l *InviteLifecycle) SweepExpired(ctx context.Context, now time.Time) int {
	expired, err := l.store.ExpiredUnrevokedInvites(now)
	if err != nil {
		l.logger.Warn("listing expired invites", "err", err)
		return 0
	}
	revoked := 0
	for _, inv := range expired {
		if err := l.Revoke(ctx, inv, 0); err != nil {
			l.logger.Warn("sweeping expired invite", "invite_id", inv.ID, "err", err)
			continue
		}
		revoked++
	}
	return revoked
}

// Run executes the expiry sweep on the configured interval until ctx is
// cancelled. Each storage mutation inside a sweep is a single atomic write,
// so cancellation between invites leaves storage consistent.
func (l *InviteLifecycle) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.SweepExpired(ctx, time.Now()); n > 0 {
				l.logger.Info("expiry sweep", "revoked", n)
			}
		}
	}
}
