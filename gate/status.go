package gate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is an operational snapshot of the admission service.
type Status struct {
	Uptime          time.Duration `json:"uptime_seconds"`
	VerifyChatID    int64         `json:"verify_chat_id"`
	TotalSessions   int           `json:"total_sessions"`
	PendingSessions int           `json:"pending_sessions"`
	TotalInvites    int           `json:"total_invites"`
	ActiveInvites   int           `json:"active_invites"`
	Cooldown        time.Duration `json:"cooldown_seconds"`
	MaxAttempts     int           `json:"max_attempts"`
	SessionTTL      time.Duration `json:"session_ttl_seconds"`
	InviteTTL       time.Duration `json:"invite_ttl_seconds"`
}

// Status collects the current snapshot. Counter failures degrade to zeros
// rather than failing the report.
func (c *Controller) Status() Status {
	st := Status{
		Uptime:       time.Since(c.startedAt),
		VerifyChatID: c.resolver.Resolve(),
		Cooldown:     c.cfg.Cooldown,
		MaxAttempts:  c.cfg.MaxAttempts,
		SessionTTL:   c.cfg.SessionTTL,
		InviteTTL:    c.cfg.InviteTTL,
	}
	if total, pending, err := c.store.CountSessions(); err == nil {
		st.TotalSessions, st.PendingSessions = total, pending
	} else {
		c.logger.Warn("counting sessions for status", "err", err)
	}
	if total, active, err := c.store.CountInvites(time.Now().UTC()); err == nil {
		st.TotalInvites, st.ActiveInvites = total, active
	} else {
		c.logger.Warn("counting invites for status", "err", err)
	}
	return st
}

// StatusText renders the snapshot as a plain report.
func (s Status) StatusText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime.Round(time.Second))
	fmt.Fprintf(&b, "Verify chat: %d\n", s.VerifyChatID)
	fmt.Fprintf(&b, "Sessions: %d total, %d pending review\n", s.TotalSessions, s.PendingSessions)
	fmt.Fprintf(&b, "Invites: %d total, %d active\n", s.TotalInvites, s.ActiveInvites)
	fmt.Fprintf(&b, "Cooldown: %s, attempts: %d, session TTL: %s, invite TTL: %s",
		s.Cooldown, s.MaxAttempts, s.SessionTTL, s.InviteTTL)
	return b.String()
}

// heartbeatLoop periodically sends the status snapshot to the reviewer
// until the context is cancelled.
func (c *Controller) heartbeatLoop(ctx context.Context) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.notifyReviewer(ctx, "[Heartbeat]\n"+c.Status().StatusText(), nil)
		}
	}
}
