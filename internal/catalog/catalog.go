package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Entry describes one notification type and its delivery policy. Entries are
// loaded once at startup and never mutated afterwards.
type Entry struct {
	Key              string `json:"key"`
	Owner            string `json:"owner"`
	PreferenceKey    string `json:"preference_key,omitempty"`
	CooldownSeconds  int    `json:"cooldown_seconds,omitempty"`
	EventIDFormat    string `json:"event_id_format"`
	CollapseIDFormat string `json:"collapse_id_format,omitempty"`
	ThreadIDFormat   string `json:"thread_id_format,omitempty"`
	Enabled          bool   `json:"enabled"`
}

// ConfigError marks a misconfigured or unknown notification type. It is the
// only error class that aborts a dispatch call outright.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("catalog config error for %q: %s", e.Key, e.Reason)
}

type Catalog struct {
	entries map[string]Entry
	keys    []string
}

// New builds an immutable catalog from the given entries. Duplicate keys are
// rejected so a file override cannot silently shadow a built-in.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Key == "" {
			return nil, &ConfigError{Key: e.Key, Reason: "entry without key"}
		}
		if _, ok := c.entries[e.Key]; ok {
			return nil, &ConfigError{Key: e.Key, Reason: "duplicate entry"}
		}
		if e.EventIDFormat == "" {
			return nil, &ConfigError{Key: e.Key, Reason: "missing event_id_format"}
		}
		c.entries[e.Key] = e
		c.keys = append(c.keys, e.Key)
	}
	sort.Strings(c.keys)
	return c, nil
}

// Load returns the built-in catalog, with entries from the JSON file at path
// (if non-empty) replacing or extending the defaults.
func Load(path string) (*Catalog, error) {
	entries := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read catalog file: %w", err)
		}
		var overrides []Entry
		if err := json.Unmarshal(raw, &overrides); err != nil {
			return nil, fmt.Errorf("could not parse catalog file: %w", err)
		}
		byKey := make(map[string]int, len(entries))
		for i, e := range entries {
			byKey[e.Key] = i
		}
		for _, o := range overrides {
			if i, ok := byKey[o.Key]; ok {
				entries[i] = o
			} else {
				entries = append(entries, o)
			}
		}
	}
	return New(entries)
}

func (c *Catalog) Get(key string) (Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

func (c *Catalog) All() []Entry {
	out := make([]Entry, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.entries[k])
	}
	return out
}

func (c *Catalog) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// IsEnabled reports whether the entry may be sent to a recipient with the
// given preferences. A preference key absent from the map counts as allowed.
func (c *Catalog) IsEnabled(entry Entry, prefs map[string]bool) bool {
	if !entry.Enabled {
		return false
	}
	if entry.PreferenceKey == "" {
		return true
	}
	allowed, ok := prefs[entry.PreferenceKey]
	if !ok {
		return true
	}
	return allowed
}

var paramPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// FormatEventID renders the entry's event id template with params. A missing
// entry or missing param is a ConfigError: a malformed event id would
// silently defeat deduplication, so formatting fails closed.
func (c *Catalog) FormatEventID(key string, params map[string]string) (string, error) {
	return c.format(key, params, func(e Entry) string { return e.EventIDFormat }, "event_id_format")
}

// FormatCollapseID renders the entry's collapse id template, or returns ""
// when the entry defines none.
func (c *Catalog) FormatCollapseID(key string, params map[string]string) (string, error) {
	return c.format(key, params, func(e Entry) string { return e.CollapseIDFormat }, "collapse_id_format")
}

// FormatThreadID renders the entry's thread id template, or returns "" when
// the entry defines none.
func (c *Catalog) FormatThreadID(key string, params map[string]string) (string, error) {
	return c.format(key, params, func(e Entry) string { return e.ThreadIDFormat }, "thread_id_format")
}

func (c *Catalog) format(key string, params map[string]string, tmpl func(Entry) string, what string) (string, error) {
	entry, ok := c.entries[key]
	if !ok {
		return "", &ConfigError{Key: key, Reason: "unknown notification key"}
	}
	t := tmpl(entry)
	if t == "" {
		if what == "event_id_format" {
			return "", &ConfigError{Key: key, Reason: "missing " + what}
		}
		return "", nil
	}

	var missing []string
	out := paramPattern.ReplaceAllStringFunc(t, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok || v == "" {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", &ConfigError{
			Key:    key,
			Reason: fmt.Sprintf("missing params %s for %s", strings.Join(missing, ", "), what),
		}
	}
	return out, nil
}
