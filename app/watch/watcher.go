package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkorzh/listing-sieve/app/listing"
	"github.com/mkorzh/listing-sieve/app/store"
	"github.com/mkorzh/listing-sieve/app/surface"
)

// Watcher owns one surface's classification lifecycle: container
// discovery and rebinding, debounced change batching, and reconciliation.
// All watcher state (bound container, pending set, debounce timer) lives
// in the Run goroutine; nothing else touches it.
type Watcher struct {
	surface    surface.Surface
	settings   SettingsSource
	fetcher    ListingFetcher
	classifier *listing.Classifier
	session    *Session
	stats      *Stats
	opts       Options

	refresh chan struct{}
}

func NewWatcher(sfc surface.Surface, settings SettingsSource, fetcher ListingFetcher,
	classifier *listing.Classifier, session *Session, stats *Stats, opts Options) *Watcher {
	return &Watcher{
		surface:    sfc,
		settings:   settings,
		fetcher:    fetcher,
		classifier: classifier,
		session:    session,
		stats:      stats,
		opts:       opts.withDefaults(),
		refresh:    make(chan struct{}, 1),
	}
}

// Refresh re-enqueues every current child through the debounce gate. Store
// change notifications land here so toggles made elsewhere (another tab,
// the API) are reflected on the surface.
func (w *Watcher) Refresh() {
	select {
	case w.refresh <- struct{}{}:
	default:
	}
}

// Run drives the watcher until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	unsubscribe := w.settings.Subscribe(func(store.Change) { w.Refresh() })
	defer unsubscribe()

	discovery := time.NewTicker(w.opts.DiscoveryInterval)
	defer discovery.Stop()

	var (
		container surface.Container
		pending   map[string]surface.Node
		timer     *time.Timer
		timerC    <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	armTimer := func() {
		stopTimer()
		timer = time.NewTimer(w.opts.Debounce)
		timerC = timer.C
	}

	rebind := func() {
		if container != nil && !container.Attached() {
			slog.Debug("Surface container detached", "surface", string(w.surface.Kind()),
				"generation", container.Generation())
			container = nil
			pending = nil
			stopTimer()
		}
		if container != nil {
			return
		}
		found, ok := w.surface.Discover()
		if !ok {
			return
		}
		container = found
		pending = make(map[string]surface.Node)
		children := container.Children()
		slog.Info("Surface container bound", "surface", string(w.surface.Kind()),
			"generation", container.Generation(), "children", len(children))

		// Initial pass over existing children runs immediately, not
		// through the debounce gate
		w.runBatch(ctx, container, children)
	}

	rebind()

	for {
		var mutations <-chan surface.Mutation
		if container != nil {
			mutations = container.Mutations()
		}

		select {
		case <-ctx.Done():
			stopTimer()
			return

		case <-discovery.C:
			rebind()

		case mutation := <-mutations:
			for _, node := range mutation.Added {
				pending[node.ID()] = node
			}
			armTimer()

		case <-timerC:
			timer = nil
			timerC = nil
			if container == nil || len(pending) == 0 {
				continue
			}
			batch := make([]surface.Node, 0, len(pending))
			for _, node := range pending {
				batch = append(batch, node)
			}
			pending = make(map[string]surface.Node)
			w.runBatch(ctx, container, batch)

		case <-w.refresh:
			if container == nil {
				continue
			}
			for _, node := range container.Children() {
				pending[node.ID()] = node
			}
			if len(pending) > 0 {
				armTimer()
			}
		}
	}
}
