// Package gate implements the verification and admission core: per-user
// challenge sessions, single-use invite lifecycle, verify-chat address
// resolution across migrations, and the controller orchestrating them.
package gate

import "time"

// SessionState is the persisted phase of a verification session. Terminal
// outcomes (approved, rejected, banned, expired) delete the session rather
// than storing a state.
type SessionState string

const (
	// StateAwaitingAnswer means a challenge is outstanding.
	StateAwaitingAnswer SessionState = "awaiting_answer"
	// StatePendingAdmin means the user passed (or exhausted) the challenge
	// but needs a human decision.
	StatePendingAdmin SessionState = "pending_admin"
)

// Session is the per-user verification state. At most one exists per user.
type Session struct {
	UserID    int64        `json:"user_id"`
	Answer    string       `json:"answer"`
	State     SessionState `json:"state"`
	Attempts  int          `json:"attempts"`
	Options   []string     `json:"options,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Invite is a single-use admission credential bound to the verify chat.
// Expiry is immutable once created; a new issuance for the same user
// revokes all prior unrevoked invites.
type Invite struct {
	ID        string    `json:"id"`
	Link      string    `json:"link"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	IssuedBy  int64     `json:"issued_by"` // 0 = system auto-approve
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	RevokedBy int64     `json:"revoked_by,omitempty"`
}

// UserFlag records whitelist/ban state for a user. Both flags are stored
// independently; the ban check always takes precedence.
type UserFlag struct {
	UserID      int64  `json:"user_id"`
	Whitelisted bool   `json:"whitelisted"`
	Banned      bool   `json:"banned"`
	Note        string `json:"note,omitempty"`
	ChangedBy   int64  `json:"changed_by,omitempty"`
}

// Event is one append-only audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
	ActorID   int64     `json:"actor_id"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail,omitempty"`
}
