package gate

import (
	"fmt"
	"sync"
	"time"
)

// SubmitOutcome is the result of a challenge answer.
type SubmitOutcome int

const (
	// SubmitCorrect means the answer matched; the session is deleted.
	SubmitCorrect SubmitOutcome = iota
	// SubmitIncorrect means the answer missed with attempts remaining.
	SubmitIncorrect
	// SubmitEscalate means the attempt cap was reached; the session is
	// deleted and the caller must notify a human reviewer.
	SubmitEscalate
)

// SubmitResult carries the outcome of SubmitAnswer.
type SubmitResult struct {
	Outcome      SubmitOutcome
	AttemptsLeft int
	Attempts     int
	// Answer is the expected token, returned on Correct so a failed
	// issuance can preserve it in a pending-admin session.
	Answer string
}

// SessionManager owns the per-user verification state machine. Mutations of
// a given user's session are serialized through a per-user lock; distinct
// users proceed concurrently.
type SessionManager struct {
	store *Store
	cfg   Config

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewSessionManager creates a session manager over the given store.
func NewSessionManager(store *Store, cfg Config) *SessionManager {
	return &SessionManager{
		store: store,
		cfg:   cfg,
		locks: make(map[int64]*sync.Mutex),
	}
}

// userLock returns the mutex serializing mutations for one user.
func (m *SessionManager) userLock(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// checkFlags enforces the fixed precedence: ban before whitelist.
func (m *SessionManager) checkFlags(userID int64) error {
	flag := m.store.Flag(userID)
	if flag.Banned {
		return fmt.Errorf("user %d banned: %w", userID, ErrNotAllowed)
	}
	if flag.Whitelisted {
		return fmt.Errorf("user %d: %w", userID, ErrWhitelisted)
	}
	return nil
}

// Begin starts a verification session for the user. A prior session started
// less than the cooldown ago yields a RateLimitedError; otherwise any
// existing session is replaced by a fresh challenge session in
// AWAITING_ANSWER with attempt count 0 and a fixed time-to-live.
func (m *SessionManager) Begin(userID int64) (Session, Challenge, error) {
	if err := m.checkFlags(userID); err != nil {
		return Session{}, Challenge{}, err
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	if prev, ok := m.store.GetSession(userID); ok {
		if elapsed := now.Sub(prev.StartedAt); elapsed < m.cfg.Cooldown {
			return Session{}, Challenge{}, &RateLimitedError{RetryAfter: m.cfg.Cooldown - elapsed}
		}
		if err := m.store.DeleteSession(userID); err != nil {
			return Session{}, Challenge{}, fmt.Errorf("replacing session: %w", err)
		}
	}

	ch, err := NewChallenge()
	if err != nil {
		return Session{}, Challenge{}, fmt.Errorf("generating challenge: %w", err)
	}
	sess := Session{
		UserID:    userID,
		Answer:    ch.Answer,
		State:     StateAwaitingAnswer,
		Attempts:  0,
		Options:   ch.Options,
		StartedAt: now,
		ExpiresAt: now.Add(m.cfg.SessionTTL),
	}
	if err := m.store.PutSession(sess); err != nil {
		return Session{}, Challenge{}, fmt.Errorf("persisting session: %w", err)
	}
	m.store.AppendEvent(userID, 0, "session_start", fmt.Sprintf("ttl=%s", m.cfg.SessionTTL))
	return sess, ch, nil
}

// SubmitAnswer evaluates a challenge answer. It fails ErrNoSession without
// an awaiting session, ErrExpired (deleting the session) past its expiry,
// deletes the session and returns Correct on a match, and otherwise counts
// the attempt, escalating and deleting the session once the cap is hit.
func (m *SessionManager) SubmitAnswer(userID int64, candidate string) (SubmitResult, error) {
	if err := m.checkFlags(userID); err != nil {
		return SubmitResult{}, err
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := m.store.GetSession(userID)
	if !ok || sess.State != StateAwaitingAnswer {
		return SubmitResult{}, ErrNoSession
	}
	if time.Now().After(sess.ExpiresAt) {
		if err := m.store.DeleteSession(userID); err != nil {
			return SubmitResult{}, fmt.Errorf("deleting expired session: %w", err)
		}
		m.store.AppendEvent(userID, 0, "session_expired", "")
		return SubmitResult{}, ErrExpired
	}

	if candidate == sess.Answer {
		if err := m.store.DeleteSession(userID); err != nil {
			return SubmitResult{}, fmt.Errorf("deleting session: %w", err)
		}
		m.store.AppendEvent(userID, 0, "challenge_passed", "")
		return SubmitResult{Outcome: SubmitCorrect, Answer: sess.Answer}, nil
	}

	sess.Attempts++
	m.store.AppendEvent(userID, 0, "attempt_inc", fmt.Sprintf("attempts=%d", sess.Attempts))
	if sess.Attempts >= m.cfg.MaxAttempts {
		if err := m.store.DeleteSession(userID); err != nil {
			return SubmitResult{}, fmt.Errorf("deleting escalated session: %w", err)
		}
		m.store.AppendEvent(userID, 0, "challenge_escalated", fmt.Sprintf("attempts=%d", sess.Attempts))
		return SubmitResult{Outcome: SubmitEscalate, Attempts: sess.Attempts}, nil
	}
	if err := m.store.PutSession(sess); err != nil {
		return SubmitResult{}, fmt.Errorf("persisting attempt: %w", err)
	}
	return SubmitResult{
		Outcome:      SubmitIncorrect,
		Attempts:     sess.Attempts,
		AttemptsLeft: m.cfg.MaxAttempts - sess.Attempts,
	}, nil
}

// SavePendingAdmin persists a pending-admin session preserving the original
// answer, used when issuance fails after a correct answer.
func (m *SessionManager) SavePendingAdmin(userID int64, answer string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	sess := Session{
		UserID:    userID,
		Answer:    answer,
		State:     StatePendingAdmin,
		StartedAt: now,
		ExpiresAt: now.Add(m.cfg.SessionTTL),
	}
	if err := m.store.PutSession(sess); err != nil {
		return fmt.Errorf("persisting pending-admin session: %w", err)
	}
	m.store.AppendEvent(userID, 0, "session_pending_admin", "")
	return nil
}

// Clear removes the user's session, if any.
func (m *SessionManager) Clear(userID int64) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return m.store.DeleteSession(userID)
}

// Get returns the user's session without state checks.
func (m *SessionManager) Get(userID int64) (Session, bool) {
	return m.store.GetSession(userID)
}
