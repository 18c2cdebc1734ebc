package gate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntdev/gatekeeper/storage/memory"
)

const (
	testAdminID = int64(99)
	testUserID  = int64(42)
)

func newController(t *testing.T, fake *fakeMessenger) *Controller {
	t.Helper()
	return NewController(memory.NewRepository(), fake, testConfig())
}

// answerFor digs the expected challenge token out of the stored session.
func answerFor(t *testing.T, c *Controller, userID int64) string {
	t.Helper()
	sess, ok := c.Store().GetSession(userID)
	require.True(t, ok, "no session for user %d", userID)
	return sess.Answer
}

func captchaData(token string, userID int64) string {
	return fmt.Sprintf("captcha:%s:%d", token, userID)
}

func TestSelfServeVerification(t *testing.T) {
	t.Run("CorrectAnswerDeliversInvite", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.StartVerification(ctx, testUserID))
		challenge, ok := fake.lastMessageTo(testUserID)
		require.True(t, ok)
		require.NotNil(t, challenge.Opts)
		assert.NotEmpty(t, challenge.Opts.Buttons)

		answer := answerFor(t, c, testUserID)
		require.NoError(t, c.HandleCallback(ctx, testUserID, captchaData(answer, testUserID)))

		require.Len(t, fake.created, 1)
		last, ok := fake.lastMessageTo(testUserID)
		require.True(t, ok)
		assert.Contains(t, last.Text, fake.created[0].Link)
		require.NotNil(t, last.Opts)
		assert.True(t, last.Opts.Spoiler)

		_, ok = c.Store().GetSession(testUserID)
		assert.False(t, ok)
	})

	t.Run("WrongAnswerReportsAttemptsLeft", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.StartVerification(ctx, testUserID))
		require.NoError(t, c.HandleCallback(ctx, testUserID, captchaData("wrong", testUserID)))

		last, ok := fake.lastMessageTo(testUserID)
		require.True(t, ok)
		assert.Contains(t, last.Text, "1 attempts left")
		assert.Empty(t, fake.created)
	})

	t.Run("ExhaustedAttemptsEscalate", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.StartVerification(ctx, testUserID))
		require.NoError(t, c.HandleCallback(ctx, testUserID, captchaData("wrong", testUserID)))
		require.NoError(t, c.HandleCallback(ctx, testUserID, captchaData("wrong", testUserID)))

		reviewer := fake.messagesTo(testAdminID)
		assert.True(t, containsText(reviewer, "manual review"), "reviewer not notified: %v", reviewer)

		// Escalation keyboard offers the admin decisions.
		last, _ := fake.lastMessageTo(testAdminID)
		require.NotNil(t, last.Opts)
		assert.NotEmpty(t, last.Opts.Buttons)

		_, ok := c.Store().GetSession(testUserID)
		assert.False(t, ok)
	})

	t.Run("RateLimitedRestartTellsUserToWait", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.StartVerification(ctx, testUserID))
		require.NoError(t, c.StartVerification(ctx, testUserID))

		last, ok := fake.lastMessageTo(testUserID)
		require.True(t, ok)
		assert.Contains(t, last.Text, "wait")
	})

	t.Run("BannedUserBlocked", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.Store().SetBan(testUserID, true, testAdminID, ""))
		require.NoError(t, c.StartVerification(ctx, testUserID))

		last, ok := fake.lastMessageTo(testUserID)
		require.True(t, ok)
		assert.Contains(t, last.Text, "banned")
		_, found := c.Store().GetSession(testUserID)
		assert.False(t, found)
	})

	t.Run("AnswerFromAnotherUserRejected", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.StartVerification(ctx, testUserID))
		answer := answerFor(t, c, testUserID)

		intruder := int64(7)
		require.NoError(t, c.HandleCallback(ctx, intruder, captchaData(answer, testUserID)))

		assert.Empty(t, fake.created)
		// The real owner can still answer.
		require.NoError(t, c.HandleCallback(ctx, testUserID, captchaData(answer, testUserID)))
		assert.Len(t, fake.created, 1)
	})
}

func TestIssuanceFailureEscalates(t *testing.T) {
	fake := &fakeMessenger{}
	fake.createErr = func(int64) error { return errors.New("api down") }
	c := newController(t, fake)
	ctx := context.Background()

	require.NoError(t, c.StartVerification(ctx, testUserID))
	answer := answerFor(t, c, testUserID)
	require.NoError(t, c.HandleCallback(ctx, testUserID, captchaData(answer, testUserID)))

	// The user is parked in pending-admin with the original answer intact.
	sess, ok := c.Store().GetSession(testUserID)
	require.True(t, ok)
	assert.Equal(t, StatePendingAdmin, sess.State)
	assert.Equal(t, answer, sess.Answer)

	reviewer := fake.messagesTo(testAdminID)
	assert.True(t, containsText(reviewer, "auto-approve failed"), "reviewer not notified: %v", reviewer)
	assert.True(t, containsText(reviewer, "api down"), "cause not surfaced: %v", reviewer)

	user := fake.messagesTo(testUserID)
	assert.True(t, containsText(user, "Admins have been notified"), "user not told: %v", user)

	// The admin resolves it once the platform recovers.
	fake.createErr = nil
	require.NoError(t, c.Approve(ctx, testAdminID, testUserID))
	assert.Len(t, fake.created, 1)
	_, ok = c.Store().GetSession(testUserID)
	assert.False(t, ok)
}

func TestUnknownCallbackSurfaced(t *testing.T) {
	fake := &fakeMessenger{}
	c := newController(t, fake)

	require.NoError(t, c.HandleCallback(context.Background(), 7, "totally:bogus:payload:here"))

	reviewer := fake.messagesTo(testAdminID)
	assert.True(t, containsText(reviewer, "Unknown callback"), "reviewer not notified: %v", reviewer)
	assert.True(t, containsText(reviewer, "totally:bogus:payload:here"))
}

func TestAdminDecisions(t *testing.T) {
	t.Run("NonAdminRejected", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		assert.ErrorIs(t, c.Approve(ctx, 7, testUserID), ErrNotAllowed)
		assert.ErrorIs(t, c.Reject(ctx, 7, testUserID), ErrNotAllowed)
		assert.ErrorIs(t, c.Ban(ctx, 7, testUserID), ErrNotAllowed)
		assert.ErrorIs(t, c.Whitelist(ctx, 7, testUserID), ErrNotAllowed)
		assert.Empty(t, fake.created)
	})

	t.Run("NonAdminCallbackRejected", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)

		err := c.HandleCallback(context.Background(), 7, fmt.Sprintf("approve:%d", testUserID))
		assert.ErrorIs(t, err, ErrNotAllowed)
		assert.Empty(t, fake.created)
	})

	t.Run("ApproveIssuesInvite", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.Approve(ctx, testAdminID, testUserID))
		require.Len(t, fake.created, 1)

		user, ok := fake.lastMessageTo(testUserID)
		require.True(t, ok)
		assert.Contains(t, user.Text, fake.created[0].Link)

		history, err := c.Store().InvitesForUser(testUserID, 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, testAdminID, history[0].IssuedBy)
	})

	t.Run("RejectClearsSessionAndNotifies", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.StartVerification(ctx, testUserID))
		require.NoError(t, c.Reject(ctx, testAdminID, testUserID))

		_, ok := c.Store().GetSession(testUserID)
		assert.False(t, ok)
		user := fake.messagesTo(testUserID)
		assert.True(t, containsText(user, "rejected"), "user not told: %v", user)
	})

	t.Run("BanThenUnban", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.Ban(ctx, testAdminID, testUserID))
		assert.True(t, c.Store().Flag(testUserID).Banned)

		require.NoError(t, c.Unban(ctx, testAdminID, testUserID))
		assert.False(t, c.Store().Flag(testUserID).Banned)
	})

	t.Run("WhitelistThenUnwhitelist", func(t *testing.T) {
		fake := &fakeMessenger{}
		c := newController(t, fake)
		ctx := context.Background()

		require.NoError(t, c.Whitelist(ctx, testAdminID, testUserID))
		assert.True(t, c.Store().Flag(testUserID).Whitelisted)

		require.NoError(t, c.Unwhitelist(ctx, testAdminID, testUserID))
		assert.False(t, c.Store().Flag(testUserID).Whitelisted)
	})
}

func TestInviteHistoryReport(t *testing.T) {
	fake := &fakeMessenger{}
	c := newController(t, fake)
	ctx := context.Background()

	require.NoError(t, c.InviteHistory(ctx, testAdminID, testUserID, false))
	reviewer := fake.messagesTo(testAdminID)
	assert.True(t, containsText(reviewer, "No invites"), "empty history not reported: %v", reviewer)

	require.NoError(t, c.Approve(ctx, testAdminID, testUserID))
	require.NoError(t, c.InviteHistory(ctx, testAdminID, testUserID, false))
	reviewer = fake.messagesTo(testAdminID)
	assert.True(t, containsText(reviewer, "Invite history (1 entries"), "history not reported: %v", reviewer)

	require.NoError(t, c.InviteHistory(ctx, testAdminID, testUserID, true))
	reviewer = fake.messagesTo(testAdminID)
	assert.True(t, containsText(reviewer, "id,user_id,chat_id"), "CSV header missing: %v", reviewer)
}

func TestHandleJoinConsumesInvites(t *testing.T) {
	fake := &fakeMessenger{}
	c := newController(t, fake)
	ctx := context.Background()

	require.NoError(t, c.Approve(ctx, testAdminID, testUserID))
	require.Len(t, fake.created, 1)

	// A join in an unrelated chat changes nothing.
	c.HandleJoin(ctx, 123456, testUserID, "member")
	active, err := c.Store().UnrevokedInvitesForUser(testUserID)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	c.HandleJoin(ctx, 555, testUserID, "member")
	active, err = c.Store().UnrevokedInvitesForUser(testUserID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSetVerifyChatAndTemplate(t *testing.T) {
	fake := &fakeMessenger{}
	c := newController(t, fake)
	ctx := context.Background()

	require.NoError(t, c.SetVerifyChat(ctx, testAdminID, 777))
	assert.Equal(t, int64(777), c.Resolver().Resolve())

	require.NoError(t, c.SetTemplate(ctx, testAdminID, TplRejected, "Nope: try /verify later."))
	assert.ErrorIs(t, c.SetTemplate(ctx, testAdminID, "msg_bogus", "whatever"), ErrValidation)
	assert.ErrorIs(t, c.SetTemplate(ctx, testAdminID, TplRejected, " "), ErrValidation)

	require.NoError(t, c.Reject(ctx, testAdminID, testUserID))
	user := fake.messagesTo(testUserID)
	assert.True(t, containsText(user, "Nope"), "override not applied: %v", user)
}

func TestPendingAndStats(t *testing.T) {
	fake := &fakeMessenger{}
	c := newController(t, fake)
	ctx := context.Background()

	require.NoError(t, c.Pending(ctx, testAdminID))
	reviewer := fake.messagesTo(testAdminID)
	assert.True(t, containsText(reviewer, "No pending"), "empty pending not reported: %v", reviewer)

	// Park a user in pending-admin via an issuance failure.
	fake.createErr = func(int64) error { return errors.New("api down") }
	require.NoError(t, c.StartVerification(ctx, testUserID))
	answer := answerFor(t, c, testUserID)
	require.NoError(t, c.HandleCallback(ctx, testUserID, captchaData(answer, testUserID)))

	require.NoError(t, c.Pending(ctx, testAdminID))
	reviewer = fake.messagesTo(testAdminID)
	assert.True(t, containsText(reviewer, "uid=42"), "pending user missing: %v", reviewer)

	require.NoError(t, c.Stats(ctx, testAdminID))
	reviewer = fake.messagesTo(testAdminID)
	assert.True(t, containsText(reviewer, "pending=1"), "stats missing: %v", reviewer)
}

func TestStatusSnapshot(t *testing.T) {
	fake := &fakeMessenger{}
	c := newController(t, fake)
	ctx := context.Background()

	require.NoError(t, c.Approve(ctx, testAdminID, testUserID))

	st := c.Status()
	assert.Equal(t, int64(555), st.VerifyChatID)
	assert.Equal(t, 1, st.TotalInvites)
	assert.Equal(t, 1, st.ActiveInvites)
	assert.Equal(t, testConfig().MaxAttempts, st.MaxAttempts)

	text := st.StatusText()
	assert.Contains(t, text, "Invites: 1 total, 1 active")
}

func TestOnStartup(t *testing.T) {
	t.Run("WarnsWhenRightsMissing", func(t *testing.T) {
		fake := &fakeMessenger{selfID: 1000}
		fake.member.Status = "member"
		c := newController(t, fake)

		c.OnStartup(context.Background())

		reviewer := fake.messagesTo(testAdminID)
		assert.True(t, containsText(reviewer, "Bot is online"))
		assert.True(t, containsText(reviewer, "permission warning"), "missing rights not flagged: %v", reviewer)
	})

	t.Run("QuietWhenRightsPresent", func(t *testing.T) {
		fake := &fakeMessenger{selfID: 1000}
		fake.member.Status = "administrator"
		fake.member.CanInviteUsers = true
		c := newController(t, fake)

		c.OnStartup(context.Background())

		reviewer := fake.messagesTo(testAdminID)
		assert.True(t, containsText(reviewer, "Bot is online"))
		assert.False(t, containsText(reviewer, "permission warning"), "unexpected warning: %v", reviewer)
	})
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, chunkText("", 10))
	assert.Equal(t, []string{"short"}, chunkText("short", 10))

	long := ""
	for i := 0; i < 250; i++ {
		long += "x"
	}
	chunks := chunkText(long, 100)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[2], 50)
}

func TestHeartbeatLoopStopsOnCancel(t *testing.T) {
	fake := &fakeMessenger{}
	cfg := testConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	c := NewController(memory.NewRepository(), fake, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.heartbeatLoop(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return containsText(fake.messagesTo(testAdminID), "[Heartbeat]")
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}
