package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ntdev/gatekeeper/storage"
)

const (
	sessionRecordType = "SESSION"
	inviteRecordType  = "INVITE"
	flagRecordType    = "FLAG"
	settingRecordType = "SETTING"
	eventRecordType   = "EVENT"
)

// Store is the typed persistence layer for sessions, invites, user flags,
// settings and the append-only event log, backed by a storage.Repository.
// Every mutation is a single atomic repository operation.
type Store struct {
	repo   storage.Repository
	logger *slog.Logger
}

// NewStore creates a Store over the given repository. A nil logger falls
// back to slog.Default.
func NewStore(repo storage.Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, logger: logger.With("component", "store")}
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// --- Sessions ---

// PutSession creates or replaces the user's session.
func (s *Store) PutSession(sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	return s.repo.Put(sessionRecordType, userKey(sess.UserID), data)
}

// GetSession returns the user's session, if any. Expiry is not checked
// here; the session manager owns expiry semantics.
func (s *Store) GetSession(userID int64) (Session, bool) {
	data, err := s.repo.Get(sessionRecordType, userKey(userID))
	if err != nil {
		return Session{}, false
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("corrupt session record", "user_id", userID, "err", err)
		return Session{}, false
	}
	return sess, true
}

// DeleteSession removes the user's session. Deleting an absent session is
// not an error.
func (s *Store) DeleteSession(userID int64) error {
	err := s.repo.Delete(sessionRecordType, userKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// PendingSessions returns sessions awaiting an admin decision, most recent
// first, capped at limit.
func (s *Store) PendingSessions(limit int) ([]Session, error) {
	sessions, err := s.allSessions()
	if err != nil {
		return nil, err
	}
	pending := sessions[:0]
	for _, sess := range sessions {
		if sess.State == StatePendingAdmin {
			pending = append(pending, sess)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.After(pending[j].StartedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// CountSessions returns total and pending-admin session counts.
func (s *Store) CountSessions() (total, pending int, err error) {
	sessions, err := s.allSessions()
	if err != nil {
		return 0, 0, err
	}
	for _, sess := range sessions {
		if sess.State == StatePendingAdmin {
			pending++
		}
	}
	return len(sessions), pending, nil
}

func (s *Store) allSessions() ([]Session, error) {
	ids, err := s.repo.List(sessionRecordType)
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		data, err := s.repo.Get(sessionRecordType, id)
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// --- Invites ---

// InsertInvite persists a new invite record.
func (s *Store) InsertInvite(inv Invite) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling invite: %w", err)
	}
	return s.repo.Put(inviteRecordType, inv.ID, data)
}

// MarkInviteRevoked sets the revoked flag on the invite record.
func (s *Store) MarkInviteRevoked(inviteID string, revokedBy int64) error {
	data, err := s.repo.Get(inviteRecordType, inviteID)
	if err != nil {
		return err
	}
	var inv Invite
	if err := json.Unmarshal(data, &inv); err != nil {
		return fmt.Errorf("unmarshaling invite %s: %w", inviteID, err)
	}
	inv.Revoked = true
	inv.RevokedBy = revokedBy
	updated, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling invite %s: %w", inviteID, err)
	}
	return s.repo.Put(inviteRecordType, inviteID, updated)
}

// UnrevokedInvitesForUser returns the user's unrevoked invites, most recent
// first.
func (s *Store) UnrevokedInvitesForUser(userID int64) ([]Invite, error) {
	return s.filterInvites(func(inv Invite) bool {
		return !inv.Revoked && inv.UserID == userID
	}, 0)
}

// ExpiredUnrevokedInvites returns unrevoked invites whose expiry is at or
// before now.
func (s *Store) ExpiredUnrevokedInvites(now time.Time) ([]Invite, error) {
	return s.filterInvites(func(inv Invite) bool {
		return !inv.Revoked && !inv.ExpiresAt.After(now)
	}, 0)
}

// InvitesForUser returns the user's full invite history, most recent first,
// capped at limit.
func (s *Store) InvitesForUser(userID int64, limit int) ([]Invite, error) {
	return s.filterInvites(func(inv Invite) bool {
		return inv.UserID == userID
	}, limit)
}

// CountInvites returns total and active (unrevoked, unexpired) invite counts.
func (s *Store) CountInvites(now time.Time) (total, active int, err error) {
	all, err := s.filterInvites(func(Invite) bool { return true }, 0)
	if err != nil {
		return 0, 0, err
	}
	for _, inv := range all {
		if !inv.Revoked && inv.ExpiresAt.After(now) {
			active++
		}
	}
	return len(all), active, nil
}

func (s *Store) filterInvites(keep func(Invite) bool, limit int) ([]Invite, error) {
	ids, err := s.repo.List(inviteRecordType)
	if err != nil {
		return nil, err
	}
	var invites []Invite
	for _, id := range ids {
		data, err := s.repo.Get(inviteRecordType, id)
		if err != nil {
			continue
		}
		var inv Invite
		if err := json.Unmarshal(data, &inv); err != nil {
			s.logger.Warn("corrupt invite record", "invite_id", id, "err", err)
			continue
		}
		if keep(inv) {
			invites = append(invites, inv)
		}
	}
	sort.Slice(invites, func(i, j int) bool {
		return invites[i].CreatedAt.After(invites[j].CreatedAt)
	})
	if limit > 0 && len(invites) > limit {
		invites = invites[:limit]
	}
	return invites, nil
}

// --- User flags ---

// Flag returns the user's whitelist/ban record. A missing record means
// neither flag is set.
func (s *Store) Flag(userID int64) UserFlag {
	data, err := s.repo.Get(flagRecordType, userKey(userID))
	if err != nil {
		return UserFlag{UserID: userID}
	}
	var flag UserFlag
	if err := json.Unmarshal(data, &flag); err != nil {
		s.logger.Warn("corrupt flag record", "user_id", userID, "err", err)
		return UserFlag{UserID: userID}
	}
	return flag
}

// SetWhitelist sets or clears the whitelist flag, preserving the ban flag.
func (s *Store) SetWhitelist(userID int64, val bool, actorID int64, note string) error {
	flag := s.Flag(userID)
	flag.Whitelisted = val
	flag.Note = note
	flag.ChangedBy = actorID
	return s.putFlag(flag)
}

// SetBan sets or clears the ban flag, preserving the whitelist flag.
func (s *Store) SetBan(userID int64, val bool, actorID int64, note string) error {
	flag := s.Flag(userID)
	flag.Banned = val
	flag.Note = note
	flag.ChangedBy = actorID
	return s.putFlag(flag)
}

func (s *Store) putFlag(flag UserFlag) error {
	data, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("marshaling flag: %w", err)
	}
	return s.repo.Put(flagRecordType, userKey(flag.UserID), data)
}

// --- Settings ---

// Setting returns the stored value for key, if present.
func (s *Store) Setting(key string) (string, bool) {
	data, err := s.repo.Get(settingRecordType, key)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// SetSetting stores a key-value setting.
func (s *Store) SetSetting(key, val string) error {
	return s.repo.Put(settingRecordType, key, []byte(val))
}

// --- Event log ---

// AppendEvent writes one audit entry. Log writes never fail the calling
// operation: failures are logged and swallowed.
func (s *Store) AppendEvent(userID, actorID int64, eventType, detail string) {
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		ActorID:   actorID,
		Type:      eventType,
		Detail:    detail,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("marshaling event", "type", eventType, "err", err)
		return
	}
	if err := s.repo.Put(eventRecordType, ev.ID, data); err != nil {
		s.logger.Warn("appending event", "type", eventType, "err", err)
	}
}

// CountEventsByType returns how many logged events carry each of the given
// types. Used by the stats report.
func (s *Store) CountEventsByType(types ...string) (map[string]int, error) {
	counts := make(map[string]int, len(types))
	for _, t := range types {
		counts[t] = 0
	}
	ids, err := s.repo.List(eventRecordType)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		data, err := s.repo.Get(eventRecordType, id)
		if err != nil {
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if _, ok := counts[ev.Type]; ok {
			counts[ev.Type]++
		}
	}
	return counts, nil
}
