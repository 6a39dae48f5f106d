package store

import (
	"net/url"
	"time"
)

// Setting keys persisted in the settings table.
const (
	KeyExcludeKeywords = "exclude_keys"
	KeyStrataCeiling   = "strata_max"
	KeyPreferences     = "preferences"
	KeyOtherPreference = "other_preference"
)

// Settings is an immutable snapshot of the preference store, read once at
// the start of every classification pass. IncludeStudio is session state
// reported by the surface's type-filter controls and is filled in by the
// caller, not persisted here.
type Settings struct {
	ExcludeKeywords  []string
	StrataCeiling    int
	Preferences      []string // selected rule patterns
	OtherPreferences []string // comma-split free-text patterns
	Blacklist        map[string]struct{}
	IncludeStudio    bool
}

// Blacklisted reports membership in the blacklist snapshot. URLs are
// compared in normalized form.
func (s Settings) Blacklisted(url string) bool {
	_, ok := s.Blacklist[NormalizeURL(url)]
	return ok
}

// NormalizeURL strips the query and fragment from a listing URL so that
// blacklist membership is stable across tracking parameters and anchors.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// Entry is one blacklisted listing.
type Entry struct {
	URL     string
	AddedAt time.Time
}

// Change describes a committed store mutation, delivered to subscribers.
type Change struct {
	Key string // one of the setting keys, or "blacklist"
}

const ChangeBlacklist = "blacklist"
