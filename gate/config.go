package gate

import "time"

// Config holds the admission tunables and fixed destinations.
type Config struct {
	// AdminID is the reviewer chat: the single destination for escalations
	// and the only actor allowed to issue admin decisions.
	AdminID int64
	// VerifyChatID is the fallback verify-chat identifier used when no
	// persisted value exists yet.
	VerifyChatID int64

	Cooldown          time.Duration
	MaxAttempts       int
	SessionTTL        time.Duration
	InviteTTL         time.Duration
	SweepInterval     time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		Cooldown:          30 * time.Second,
		MaxAttempts:       2,
		SessionTTL:        5 * time.Minute,
		InviteTTL:         2 * time.Minute,
		SweepInterval:     5 * time.Minute,
		HeartbeatInterval: 5 * time.Minute,
	}
}
