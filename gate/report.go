package gate

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Invite-history rendering for reviewer reports.

const timeLayout = "2006-01-02 15:04:05"

func invitesText(invites []Invite) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invite history (%d entries, newest first):\n\n", len(invites))
	for _, inv := range invites {
		state := "active"
		if inv.Revoked {
			state = "revoked"
		}
		fmt.Fprintf(&b, "%s  created=%s  expires=%s  %s\n",
			inv.ID,
			inv.CreatedAt.UTC().Format(timeLayout),
			inv.ExpiresAt.UTC().Format(timeLayout),
			state)
	}
	return b.String()
}

func invitesCSV(invites []Invite) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Write([]string{"id", "user_id", "chat_id", "issued_by", "created_at", "expires_at", "revoked", "revoked_by", "link"})
	for _, inv := range invites {
		w.Write([]string{
			inv.ID,
			strconv.FormatInt(inv.UserID, 10),
			strconv.FormatInt(inv.ChatID, 10),
			strconv.FormatInt(inv.IssuedBy, 10),
			inv.CreatedAt.UTC().Format(timeLayout),
			inv.ExpiresAt.UTC().Format(timeLayout),
			strconv.FormatBool(inv.Revoked),
			strconv.FormatInt(inv.RevokedBy, 10),
			inv.Link,
		})
	}
	w.Flush()
	return b.String()
}
