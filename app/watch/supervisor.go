package watch

import (
	"context"
	"sync"

	"github.com/mkorzh/listing-sieve/app/listing"
	"github.com/mkorzh/listing-sieve/app/surface"
)

// Supervisor runs one watcher per surface. The two watchers are fully
// independent: their batches may interleave arbitrarily, while batches for
// the same surface stay serialized inside that watcher's Run goroutine.
type Supervisor struct {
	watchers []*Watcher
	session  *Session
	stats    *Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor(surfaces []surface.Surface, settings SettingsSource, fetcher ListingFetcher,
	classifier *listing.Classifier, session *Session, opts Options) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Supervisor{
		session: session,
		stats:   &Stats{},
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, sfc := range surfaces {
		s.watchers = append(s.watchers,
			NewWatcher(sfc, settings, fetcher, classifier, session, s.stats, opts))
	}
	return s
}

func (s *Supervisor) Start() {
	for _, w := range s.watchers {
		s.wg.Add(1)
		go func(w *Watcher) {
			defer s.wg.Done()
			w.Run(s.ctx)
		}(w)
	}
}

func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Refresh re-enqueues every bound surface's children for classification.
// Session state changes go through here; store changes reach the watchers
// through their own subscriptions.
func (s *Supervisor) Refresh() {
	for _, w := range s.watchers {
		w.Refresh()
	}
}

func (s *Supervisor) Session() *Session {
	return s.session
}

func (s *Supervisor) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}
