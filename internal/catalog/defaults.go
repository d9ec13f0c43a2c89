package catalog

// Defaults is the built-in notification type registry for the prediction
// league. Owners map to the team responsible for the content of each type.
func Defaults() []Entry {
	return []Entry{
		{
			Key:             "pick-reminder",
			Owner:           "engagement",
			PreferenceKey:   "pick_reminders",
			CooldownSeconds: 21600,
			EventIDFormat:   "pick-reminder:{gameweek_id}:{stage}",
			ThreadIDFormat:  "gameweek:{gameweek_id}",
			Enabled:         true,
		},
		{
			Key:              "fixture-result",
			Owner:            "scoring",
			PreferenceKey:    "results",
			EventIDFormat:    "fixture-result:{fixture_id}",
			CollapseIDFormat: "fixture:{fixture_id}",
			ThreadIDFormat:   "gameweek:{gameweek_id}",
			Enabled:          true,
		},
		{
			Key:              "gameweek-scored",
			Owner:            "scoring",
			PreferenceKey:    "results",
			EventIDFormat:    "gameweek-scored:{gameweek_id}",
			CollapseIDFormat: "gameweek:{gameweek_id}",
			Enabled:          true,
		},
		{
			Key:             "rank-change",
			Owner:           "scoring",
			PreferenceKey:   "rank_changes",
			CooldownSeconds: 86400,
			EventIDFormat:   "rank-change:{league_id}:{gameweek_id}",
			ThreadIDFormat:  "league:{league_id}",
			Enabled:         true,
		},
		{
			Key:             "league-chat",
			Owner:           "social",
			PreferenceKey:   "chat",
			CooldownSeconds: 300,
			EventIDFormat:   "league-chat:{league_id}:{message_id}",
			ThreadIDFormat:  "league:{league_id}",
			Enabled:         true,
		},
		{
			Key:            "league-invite",
			Owner:          "social",
			PreferenceKey:  "leagues",
			EventIDFormat:  "league-invite:{league_id}:{invitee_id}",
			ThreadIDFormat: "league:{league_id}",
			Enabled:        true,
		},
		{
			Key:           "season-announcement",
			Owner:         "engagement",
			EventIDFormat: "season-announcement:{announcement_id}",
			Enabled:       true,
		},
	}
}
