package gate

import (
	"fmt"
	"strings"
)

// Template keys an admin may override via settings.
const (
	TplVerified     = "msg_verified"
	TplAutoFailUser = "msg_auto_fail_user"
	TplApproved     = "msg_approved"
	TplRejected     = "msg_rejected"
	TplWhitelisted  = "msg_whitelisted"
	TplBanned       = "msg_banned"
)

var defaultTemplates = map[string]string{
	TplVerified:     "Verified — here's your one-time invite link (expires in {minutes} minutes):\n\n{link}",
	TplAutoFailUser: "Verified — auto-approve failed due to a system error. Admins have been notified and will review your request.",
	TplApproved:     "Approved — here's your one-time invite link (expires in {minutes} minutes):\n\n{link}",
	TplRejected:     "Sorry, your verification was rejected by admin. You can try /verify again.",
	TplWhitelisted:  "You have been whitelisted by the admin and can join the group.",
	TplBanned:       "You have been banned from verification by the admin.",
}

// minTemplateLen rejects obviously truncated overrides.
const minTemplateLen = 3

// Templates resolves named message templates, preferring stored overrides
// and falling back to the built-in defaults.
type Templates struct {
	store *Store
}

// NewTemplates creates a template resolver over the given store.
func NewTemplates(store *Store) *Templates {
	return &Templates{store: store}
}

// Render returns the template for key with {placeholder} substitutions
// applied. Unknown keys render empty.
func (t *Templates) Render(key string, data map[string]string) string {
	tpl, ok := t.store.Setting(key)
	if !ok {
		tpl = defaultTemplates[key]
	}
	if len(data) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

// Set stores an override for a known template key.
func (t *Templates) Set(key, text string) error {
	if _, ok := defaultTemplates[key]; !ok {
		return fmt.Errorf("unknown template key %q: %w", key, ErrValidation)
	}
	if len(strings.TrimSpace(text)) < minTemplateLen {
		return fmt.Errorf("template too short: %w", ErrValidation)
	}
	return t.store.SetSetting(key, text)
}

// Keys lists the known template keys.
func (t *Templates) Keys() []string {
	return []string{TplVerified, TplAutoFailUser, TplApproved, TplRejected, TplWhitelisted, TplBanned}
}
