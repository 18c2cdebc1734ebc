package gate

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ntdev/gatekeeper/transport"
)

// verifyChatSettingKey persists the current verify-chat id across restarts.
const verifyChatSettingKey = "verify_chat_id"

// Resolver owns the verify chat's current identifier. It is initialized
// from persisted state, falling back to the configured default, and is the
// only component allowed to mutate the identifier.
type Resolver struct {
	store  *Store
	logger *slog.Logger

	mu     sync.Mutex
	chatID int64
}

// NewResolver loads the persisted chat id, or uses fallback when none is
// stored.
func NewResolver(store *Store, fallback int64, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	chatID := fallback
	if v, ok := store.Setting(verifyChatSettingKey); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			chatID = parsed
		}
	}
	return &Resolver{
		store:  store,
		logger: logger.With("component", "resolver"),
		chatID: chatID,
	}
}

// Resolve returns the current verify chat id.
func (r *Resolver) Resolve() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatID
}

// OnMigrationDetected persists newID as the current chat id. Idempotent:
// concurrent callers reporting the same migration produce one update; later
// callers observe the new id.
func (r *Resolver) OnMigrationDetected(newID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chatID == newID {
		return
	}
	old := r.chatID
	r.chatID = newID
	if err := r.store.SetSetting(verifyChatSettingKey, strconv.FormatInt(newID, 10)); err != nil {
		r.store.AppendEvent(0, 0, "chat_id_persist_failed", strconv.FormatInt(newID, 10))
	}
	r.store.AppendEvent(0, 0, "chat_migrated", strconv.FormatInt(newID, 10))
	r.logger.Info("verify chat migrated", "old_chat_id", old, "new_chat_id", newID)
}

// Set updates the chat id on admin request and persists it.
func (r *Resolver) Set(chatID int64, actorID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatID = chatID
	if err := r.store.SetSetting(verifyChatSettingKey, strconv.FormatInt(chatID, 10)); err != nil {
		r.store.AppendEvent(0, actorID, "chat_id_persist_failed", strconv.FormatInt(chatID, 10))
	}
	r.store.AppendEvent(0, actorID, "chat_id_set", strconv.FormatInt(chatID, 10))
	r.logger.Info("verify chat id set", "chat_id", chatID, "actor_id", actorID)
}

// Do runs fn against the current chat id. On a channel-migrated failure it
// records the new id and retries fn exactly once; a second failure of any
// kind is returned to the caller as-is.
func (r *Resolver) Do(ctx context.Context, fn func(ctx context.Context, chatID int64) error) error {
	err := fn(ctx, r.Resolve())
	if err == nil {
		return nil
	}
	newID, ok := transport.Migrated(err)
	if !ok {
		return err
	}
	r.OnMigrationDetected(newID)
	return fn(ctx, r.Resolve())
}
