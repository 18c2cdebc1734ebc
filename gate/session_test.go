package gate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionManager(t *testing.T) (*SessionManager, *Store) {
	t.Helper()
	store := newTestStore()
	return NewSessionManager(store, testConfig()), store
}

func TestSessionBegin(t *testing.T) {
	t.Run("CreatesAwaitingSession", func(t *testing.T) {
		m, store := newSessionManager(t)

		sess, ch, err := m.Begin(42)
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingAnswer, sess.State)
		assert.Equal(t, 0, sess.Attempts)
		assert.Equal(t, ch.Answer, sess.Answer)
		assert.Contains(t, ch.Options, ch.Answer)

		stored, ok := store.GetSession(42)
		require.True(t, ok)
		assert.Equal(t, sess.Answer, stored.Answer)
	})

	t.Run("SecondBeginWithinCooldownRateLimited", func(t *testing.T) {
		m, _ := newSessionManager(t)

		_, _, err := m.Begin(42)
		require.NoError(t, err)

		_, _, err = m.Begin(42)
		var rl *RateLimitedError
		require.ErrorAs(t, err, &rl)
		assert.Greater(t, rl.RetryAfter, time.Duration(0))
		assert.LessOrEqual(t, rl.RetryAfter, testConfig().Cooldown)
	})

	t.Run("ReplacesSessionAfterCooldown", func(t *testing.T) {
		m, store := newSessionManager(t)

		first, _, err := m.Begin(42)
		require.NoError(t, err)

		// Age the stored session past the cooldown window.
		first.StartedAt = time.Now().Add(-testConfig().Cooldown - time.Second)
		require.NoError(t, store.PutSession(first))

		second, _, err := m.Begin(42)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Attempts)
		assert.Equal(t, StateAwaitingAnswer, second.State)
	})

	t.Run("BannedBlocked", func(t *testing.T) {
		m, store := newSessionManager(t)
		require.NoError(t, store.SetBan(42, true, 99, ""))

		_, _, err := m.Begin(42)
		assert.ErrorIs(t, err, ErrNotAllowed)
	})

	t.Run("WhitelistedBlocked", func(t *testing.T) {
		m, store := newSessionManager(t)
		require.NoError(t, store.SetWhitelist(42, true, 99, ""))

		_, _, err := m.Begin(42)
		assert.ErrorIs(t, err, ErrWhitelisted)
	})

	t.Run("BanTakesPrecedenceOverWhitelist", func(t *testing.T) {
		m, store := newSessionManager(t)
		require.NoError(t, store.SetWhitelist(42, true, 99, ""))
		require.NoError(t, store.SetBan(42, true, 99, ""))

		_, _, err := m.Begin(42)
		assert.ErrorIs(t, err, ErrNotAllowed)
	})
}

func TestSessionSubmitAnswer(t *testing.T) {
	t.Run("CorrectDeletesSession", func(t *testing.T) {
		m, store := newSessionManager(t)
		sess, _, err := m.Begin(42)
		require.NoError(t, err)

		res, err := m.SubmitAnswer(42, sess.Answer)
		require.NoError(t, err)
		assert.Equal(t, SubmitCorrect, res.Outcome)
		assert.Equal(t, sess.Answer, res.Answer)

		_, ok := store.GetSession(42)
		assert.False(t, ok)
	})

	t.Run("NoSession", func(t *testing.T) {
		m, _ := newSessionManager(t)
		_, err := m.SubmitAnswer(42, "anything")
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("PendingAdminNotAnswerable", func(t *testing.T) {
		m, _ := newSessionManager(t)
		require.NoError(t, m.SavePendingAdmin(42, "🔥"))

		_, err := m.SubmitAnswer(42, "🔥")
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("BannedBlockedEvenWithLiveSession", func(t *testing.T) {
		m, store := newSessionManager(t)
		sess, _, err := m.Begin(42)
		require.NoError(t, err)

		require.NoError(t, store.SetBan(42, true, 99, ""))
		_, err = m.SubmitAnswer(42, sess.Answer)
		assert.ErrorIs(t, err, ErrNotAllowed)
	})

	t.Run("ExpiredDeletesSession", func(t *testing.T) {
		m, store := newSessionManager(t)
		sess, _, err := m.Begin(42)
		require.NoError(t, err)

		sess.ExpiresAt = time.Now().Add(-time.Second)
		require.NoError(t, store.PutSession(sess))

		_, err = m.SubmitAnswer(42, sess.Answer)
		assert.ErrorIs(t, err, ErrExpired)

		_, ok := store.GetSession(42)
		assert.False(t, ok)
	})

	t.Run("IncorrectCountsAttempt", func(t *testing.T) {
		m, store := newSessionManager(t)
		_, _, err := m.Begin(42)
		require.NoError(t, err)

		res, err := m.SubmitAnswer(42, "not-the-answer")
		require.NoError(t, err)
		assert.Equal(t, SubmitIncorrect, res.Outcome)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, testConfig().MaxAttempts-1, res.AttemptsLeft)

		stored, ok := store.GetSession(42)
		require.True(t, ok)
		assert.Equal(t, 1, stored.Attempts)
	})

	t.Run("EscalatesExactlyOnceAtCap", func(t *testing.T) {
		m, store := newSessionManager(t)
		_, _, err := m.Begin(42)
		require.NoError(t, err)

		var escalations int
		for i := 0; i < testConfig().MaxAttempts; i++ {
			res, err := m.SubmitAnswer(42, "not-the-answer")
			if errors.Is(err, ErrNoSession) {
				break
			}
			require.NoError(t, err)
			if res.Outcome == SubmitEscalate {
				escalations++
				assert.Equal(t, testConfig().MaxAttempts, res.Attempts)
			}
		}
		assert.Equal(t, 1, escalations)

		// The escalated session is gone; further answers find nothing.
		_, err = m.SubmitAnswer(42, "not-the-answer")
		assert.ErrorIs(t, err, ErrNoSession)
		_, ok := store.GetSession(42)
		assert.False(t, ok)
	})
}

func TestSavePendingAdmin(t *testing.T) {
	m, store := newSessionManager(t)

	require.NoError(t, m.SavePendingAdmin(42, "🍄"))

	sess, ok := store.GetSession(42)
	require.True(t, ok)
	assert.Equal(t, StatePendingAdmin, sess.State)
	assert.Equal(t, "🍄", sess.Answer)

	pending, err := store.PendingSessions(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(42), pending[0].UserID)
}

func TestSessionClear(t *testing.T) {
	m, store := newSessionManager(t)
	_, _, err := m.Begin(42)
	require.NoError(t, err)

	require.NoError(t, m.Clear(42))
	_, ok := store.GetSession(42)
	assert.False(t, ok)

	// Clearing an absent session is fine.
	require.NoError(t, m.Clear(42))
}
