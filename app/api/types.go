package api

import (
	"context"

	"github.com/mkorzh/listing-sieve/app/listing"
	"github.com/mkorzh/listing-sieve/app/rules"
	"github.com/mkorzh/listing-sieve/app/store"
	"github.com/mkorzh/listing-sieve/app/surface"
	"github.com/mkorzh/listing-sieve/app/watch"
)

type SettingsStore interface {
	Snapshot(ctx context.Context) (store.Settings, error)
	SetExcludeKeywords(ctx context.Context, text string) error
	SetStrataCeiling(ctx context.Context, ceiling int) error
	SetPreferences(ctx context.Context, patterns []string) error
	SetOtherPreference(ctx context.Context, text string) error
	ToggleBlacklist(ctx context.Context, url string) (bool, error)
	Blacklist(ctx context.Context) ([]store.Entry, error)
	BlacklistCount(ctx context.Context) (int, error)
	ClearBlacklist(ctx context.Context) error
}

var _ SettingsStore = (*store.Store)(nil)

type SupervisorInterface interface {
	Session() *watch.Session
	Stats() watch.StatsSnapshot
	Refresh()
}

var _ SupervisorInterface = (*watch.Supervisor)(nil)

type ListingFetcher interface {
	Fetch(ctx context.Context, url string) (*listing.Record, error)
}

var _ ListingFetcher = (*listing.Fetcher)(nil)

type Handler struct {
	store      SettingsStore
	supervisor SupervisorInterface
	fetcher    ListingFetcher
	surfaces   map[surface.Kind]*surface.Remote
	catalog    []rules.Rule
	version    string
}
