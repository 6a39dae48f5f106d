package watch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mkorzh/listing-sieve/app/listing"
	"github.com/mkorzh/listing-sieve/app/store"
)

// ListingFetcher retrieves a listing detail page as a structured record.
type ListingFetcher interface {
	Fetch(ctx context.Context, url string) (*listing.Record, error)
}

var _ ListingFetcher = (*listing.Fetcher)(nil)

// SettingsSource is the preference store as seen by a watcher: one fresh
// snapshot per batch plus change notifications.
type SettingsSource interface {
	Snapshot(ctx context.Context) (store.Settings, error)
	Subscribe(fn func(store.Change)) func()
}

var _ SettingsSource = (*store.Store)(nil)

// Options tunes a watcher.
type Options struct {
	// Debounce is how long a batch accumulates changed nodes before it
	// runs. Further mutations within the window postpone execution.
	Debounce time.Duration
	// DiscoveryInterval is how often the watcher checks for container
	// replacement.
	DiscoveryInterval time.Duration
	// SiteBaseURL prefixes the relative listing URLs found in page data.
	SiteBaseURL string
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = time.Second
	}
	return o
}

// Session carries surface-derived state that is not persisted: the current
// type-filter's studio handling, shared by both watchers.
type Session struct {
	includeStudio atomic.Bool
}

func NewSession(includeStudio bool) *Session {
	s := &Session{}
	s.includeStudio.Store(includeStudio)
	return s
}

func (s *Session) SetIncludeStudio(include bool) {
	s.includeStudio.Store(include)
}

func (s *Session) IncludeStudio() bool {
	return s.includeStudio.Load()
}

// Stats counts pass outcomes across both watchers for the stats endpoint.
type Stats struct {
	Batches     atomic.Int64
	Processed   atomic.Int64
	Hidden      atomic.Int64
	Highlighted atomic.Int64
	Failures    atomic.Int64
}

// StatsSnapshot is a plain copy of the counters.
type StatsSnapshot struct {
	Batches     int64 `json:"batches"`
	Processed   int64 `json:"processed"`
	Hidden      int64 `json:"hidden"`
	Highlighted int64 `json:"highlighted"`
	Failures    int64 `json:"failures"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Batches:     s.Batches.Load(),
		Processed:   s.Processed.Load(),
		Hidden:      s.Hidden.Load(),
		Highlighted: s.Highlighted.Load(),
		Failures:    s.Failures.Load(),
	}
}
