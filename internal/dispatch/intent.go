package dispatch

// Personalization overrides intent-level content for one recipient. Devices
// are grouped by their recipient's resolved (URL, badge) pair so one
// provider call covers every device sharing the same rendering.
type Personalization struct {
	URL        string `json:"url,omitempty"`
	BadgeCount *int   `json:"badge_count,omitempty"`
}

// Intent is the caller-supplied description of one notification occurrence.
// Titles and bodies arrive rendered; the engine never builds content.
type Intent struct {
	NotificationKey string   `json:"notification_key"`
	RecipientIDs    []string `json:"recipient_ids"`

	// EventID overrides the catalog-derived event id when set. When empty
	// the id is formatted from the catalog entry's template and
	// GroupingParams.
	EventID string `json:"event_id,omitempty"`

	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	URL   string            `json:"url,omitempty"`

	// GroupingParams feed the catalog id templates and the cooldown
	// fingerprint, scoping both to a logical subject such as a fixture.
	GroupingParams map[string]string `json:"grouping_params,omitempty"`

	// LeagueID scopes mute checks; empty means no mute check applies.
	LeagueID string `json:"league_id,omitempty"`

	BadgeCount   *int                       `json:"badge_count,omitempty"`
	PerRecipient map[string]Personalization `json:"per_recipient,omitempty"`

	SkipPreferenceCheck bool `json:"skip_preference_check,omitempty"`
	SkipCooldownCheck   bool `json:"skip_cooldown_check,omitempty"`
}

// distinctRecipients preserves first-seen order while dropping duplicates.
func (i *Intent) distinctRecipients() []string {
	seen := make(map[string]bool, len(i.RecipientIDs))
	out := make([]string, 0, len(i.RecipientIDs))
	for _, id := range i.RecipientIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// personalizationFor resolves the content variation for a recipient, falling
// back to the intent-level URL and badge.
func (i *Intent) personalizationFor(recipientID string) Personalization {
	p := Personalization{URL: i.URL, BadgeCount: i.BadgeCount}
	if o, ok := i.PerRecipient[recipientID]; ok {
		if o.URL != "" {
			p.URL = o.URL
		}
		if o.BadgeCount != nil {
			p.BadgeCount = o.BadgeCount
		}
	}
	return p
}
