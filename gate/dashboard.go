package gate

// Admin dashboard menu model. Button rendering is the transport's concern;
// this file only computes pages and resolves command templates.

// DashboardEntry is one admin command exposed on the dashboard.
type DashboardEntry struct {
	Label       string
	Command     string
	Description string
}

var dashboardCommands = []DashboardEntry{
	{"Approve", "/approve <user_id>", "Create one-time invite and approve user"},
	{"Reject", "/reject <user_id>", "Reject a pending verification"},
	{"Pending", "/pending", "List pending sessions"},
	{"Stats", "/stats", "Show basic stats"},
	{"SetMsg", "/setmsg <key> <text>", "Edit message templates"},
	{"InviteHist", "/invitehistory <user_id>", "Show invite history for user"},
	{"InviteHistCSV", "/invitehistory csv <user_id>", "Download invite history CSV"},
	{"Whitelist", "/whitelist <user_id>", "Whitelist a user"},
	{"Unwhitelist", "/unwhitelist <user_id>", "Remove whitelist"},
	{"Ban", "/ban <user_id>", "Ban a user from verification"},
	{"Unban", "/unban <user_id>", "Unban a user"},
	{"SetVerify", "/setverify <chat_id>", "Change target verify chat id"},
}

const (
	dashboardPageSize = 4

	// exposeMembersSettingKey persists the member-list exposure toggle.
	exposeMembersSettingKey = "expose_member_list"
)

// DashboardPage is one page of the admin menu plus its navigation state.
type DashboardPage struct {
	Page          int
	Pages         int
	Entries       []DashboardEntry
	Offset        int // index of Entries[0] within the full command list
	HasPrev       bool
	HasNext       bool
	ExposeMembers bool
}

// DashboardPage returns the requested page, clamped into range.
func (c *Controller) DashboardPage(page int) DashboardPage {
	total := len(dashboardCommands)
	pages := (total + dashboardPageSize - 1) / dashboardPageSize
	if pages < 1 {
		pages = 1
	}
	if page < 0 {
		page = 0
	}
	if page > pages-1 {
		page = pages - 1
	}
	start := page * dashboardPageSize
	end := start + dashboardPageSize
	if end > total {
		end = total
	}
	return DashboardPage{
		Page:          page,
		Pages:         pages,
		Entries:       dashboardCommands[start:end],
		Offset:        start,
		HasPrev:       page > 0,
		HasNext:       page < pages-1,
		ExposeMembers: c.ExposeMembers(),
	}
}

// DashboardCommand resolves a run-by-index press to its command template.
func (c *Controller) DashboardCommand(index int) (DashboardEntry, bool) {
	if index < 0 || index >= len(dashboardCommands) {
		return DashboardEntry{}, false
	}
	return dashboardCommands[index], true
}

// ExposeMembers reports the persisted member-list exposure toggle.
func (c *Controller) ExposeMembers() bool {
	v, ok := c.store.Setting(exposeMembersSettingKey)
	return ok && v == "1"
}

// ToggleExposeMembers flips the member-list exposure toggle and returns the
// new value.
func (c *Controller) ToggleExposeMembers(actorID int64) bool {
	val := !c.ExposeMembers()
	setting := "0"
	if val {
		setting = "1"
	}
	if err := c.store.SetSetting(exposeMembersSettingKey, setting); err != nil {
		c.logger.Warn("persisting member-list toggle", "err", err)
	}
	c.store.AppendEvent(0, actorID, "member_list_toggled", setting)
	return val
}
