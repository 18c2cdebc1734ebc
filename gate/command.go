package gate

import (
	"strconv"
	"strings"
)

// Verb is the closed set of callback commands. Payloads are parsed exactly
// once at the boundary; anything outside the set becomes VerbUnknown and is
// surfaced to the reviewer rather than silently dropped.
type Verb int

const (
	VerbUnknown Verb = iota
	// VerbAnswer is a challenge option pick: "captcha:<token>:<user_id>".
	VerbAnswer
	VerbApprove
	VerbReject
	VerbWhitelist
	VerbBan
	// VerbHistory requests a user's invite history; VerbHistoryCSV the CSV
	// export.
	VerbHistory
	VerbHistoryCSV
	// VerbPage navigates the admin dashboard: "admindash:page:<n>".
	VerbPage
	// VerbToggle flips the member-list exposure setting.
	VerbToggle
	// VerbRun asks for dashboard command template <index>.
	VerbRun
	// VerbClose dismisses the dashboard.
	VerbClose
	// VerbNoop is a dead button (e.g. the page indicator).
	VerbNoop
)

// Command is one parsed callback payload.
type Command struct {
	Verb   Verb
	UserID int64  // target user for moderation verbs and VerbAnswer
	Token  string // picked challenge token for VerbAnswer
	Page   int    // target page for VerbPage
	Index  int    // command index for VerbRun
	Raw    string // original payload, kept for VerbUnknown reporting
}

const dashboardPrefix = "admindash"

// ParseCommand parses a callback payload into the closed command set.
// Malformed payloads yield VerbUnknown with the raw payload preserved.
func ParseCommand(data string) Command {
	cmd := Command{Verb: VerbUnknown, Raw: data}
	parts := strings.SplitN(data, ":", 3)

	switch parts[0] {
	case "captcha":
		if len(parts) != 3 {
			return cmd
		}
		uid, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return cmd
		}
		return Command{Verb: VerbAnswer, Token: parts[1], UserID: uid, Raw: data}

	case "approve", "reject", "whitelist", "ban", "invhist", "invhist_csv":
		if len(parts) != 2 {
			return cmd
		}
		uid, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return cmd
		}
		verbs := map[string]Verb{
			"approve":     VerbApprove,
			"reject":      VerbReject,
			"whitelist":   VerbWhitelist,
			"ban":         VerbBan,
			"invhist":     VerbHistory,
			"invhist_csv": VerbHistoryCSV,
		}
		return Command{Verb: verbs[parts[0]], UserID: uid, Raw: data}

	case dashboardPrefix:
		if len(parts) < 2 {
			return cmd
		}
		switch parts[1] {
		case "page":
			if len(parts) != 3 {
				return cmd
			}
			n, err := strconv.Atoi(parts[2])
			if err != nil {
				return cmd
			}
			return Command{Verb: VerbPage, Page: n, Raw: data}
		case "run":
			if len(parts) != 3 {
				return cmd
			}
			idx, err := strconv.Atoi(parts[2])
			if err != nil {
				return cmd
			}
			return Command{Verb: VerbRun, Index: idx, Raw: data}
		case "toggle_members":
			return Command{Verb: VerbToggle, Raw: data}
		case "close":
			return Command{Verb: VerbClose, Raw: data}
		case "noop":
			return Command{Verb: VerbNoop, Raw: data}
		}
		return cmd
	}
	return cmd
}
