package watch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mkorzh/listing-sieve/app/listing"
	"github.com/mkorzh/listing-sieve/app/store"
	"github.com/mkorzh/listing-sieve/app/surface"
)

const (
	urlA = "https://www.domain.com.au/1-example-st-suburb-nsw-2000-2019000001"
	urlB = "https://www.domain.com.au/2-sample-rd-suburb-nsw-2000-2019000002"
)

type fakeFetcher struct {
	mu      sync.Mutex
	records map[string]*listing.Record
	errs    map[string]error
	delay   time.Duration
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		records: make(map[string]*listing.Record),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*listing.Record, error) {
	f.mu.Lock()
	f.calls[url]++
	delay := f.delay
	err := f.errs[url]
	record := f.records[url]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &listing.Record{Title: "Listing at " + url}
	}
	return record, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

type fakeSettings struct {
	mu       sync.Mutex
	settings store.Settings
	err      error
	subs     []func(store.Change)
}

func (f *fakeSettings) Snapshot(ctx context.Context) (store.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return store.Settings{}, f.err
	}
	return f.settings, nil
}

func (f *fakeSettings) Subscribe(fn func(store.Change)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeSettings) notify() {
	f.mu.Lock()
	subs := append([]func(store.Change){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(store.Change{Key: store.ChangeBlacklist})
	}
}

func startWatcher(t *testing.T, kind surface.Kind, settings *fakeSettings,
	fetcher *fakeFetcher, stats *Stats) *surface.Remote {
	t.Helper()

	remote := surface.NewRemote(kind)
	classifier := listing.NewClassifier(1000)
	session := NewSession(true)
	watcher := NewWatcher(remote, settings, fetcher, classifier, session, stats, Options{
		Debounce:          30 * time.Millisecond,
		DiscoveryInterval: 10 * time.Millisecond,
		SiteBaseURL:       "https://www.domain.com.au",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		watcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return remote
}

// collectOps drains queued ops until the predicate is satisfied or the
// timeout elapses.
func collectOps(t *testing.T, remote *surface.Remote, timeout time.Duration,
	satisfied func([]surface.Op) bool) []surface.Op {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var ops []surface.Op
	for {
		ops = append(ops, remote.DrainOps()...)
		if satisfied != nil && satisfied(ops) {
			return ops
		}
		if time.Now().After(deadline) {
			return ops
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hasOp(ops []surface.Op, nodeID, kind string) bool {
	for _, op := range ops {
		if op.NodeID == nodeID && op.Kind == kind {
			return true
		}
	}
	return false
}

func TestInitialPassClassifiesExistingChildren(t *testing.T) {
	settings := &fakeSettings{settings: store.Settings{
		ExcludeKeywords: []string{"main road"},
		StrataCeiling:   2000,
		Preferences:     []string{"gym"},
	}}
	fetcher := newFakeFetcher()
	fetcher.records[urlA] = &listing.Record{Title: "Quiet apartment", Features: "Gym"}
	fetcher.records[urlB] = &listing.Record{Title: "Apartment on a main road"}

	remote := startWatcher(t, surface.KindList, settings, fetcher, &Stats{})

	if err := remote.ApplyEvent(surface.Event{
		Type: surface.EventContainer,
		Nodes: []surface.NodeEvent{
			{ID: "card-a", URL: urlA},
			{ID: "card-b", URL: urlB},
		},
	}); err != nil {
		t.Fatal(err)
	}

	ops := collectOps(t, remote, 2*time.Second, func(ops []surface.Op) bool {
		return hasOp(ops, "card-b", surface.OpHide) && hasOp(ops, "card-a", surface.OpHighlight)
	})

	if !hasOp(ops, "card-b", surface.OpHide) {
		t.Errorf("Excluded listing should be hidden, ops: %v", ops)
	}
	if !hasOp(ops, "card-a", surface.OpHighlight) {
		t.Errorf("Preferred listing should be highlighted, ops: %v", ops)
	}
	if !hasOp(ops, "card-a", surface.OpEnsureToggle) {
		t.Errorf("Visible card should get a blacklist toggle, ops: %v", ops)
	}
	if hasOp(ops, "card-a", surface.OpHide) {
		t.Errorf("Non-excluded listing must not be hidden, ops: %v", ops)
	}
}

func TestDebounceCoalescing(t *testing.T) {
	settings := &fakeSettings{settings: store.Settings{StrataCeiling: 2000}}
	fetcher := newFakeFetcher()
	stats := &Stats{}

	remote := startWatcher(t, surface.KindList, settings, fetcher, stats)

	if err := remote.ApplyEvent(surface.Event{Type: surface.EventContainer}); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to bind the empty container
	time.Sleep(30 * time.Millisecond)

	// Three mutation events inside one debounce window
	for i, url := range []string{urlA, urlB, urlA + "?x"} {
		remote.ApplyEvent(surface.Event{
			Type:  surface.EventNodesAdded,
			Nodes: []surface.NodeEvent{{ID: string(rune('a' + i)), URL: url}},
		})
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.totalCalls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Allow a straggler batch to run if one was ever scheduled
	time.Sleep(100 * time.Millisecond)

	if got := stats.Batches.Load(); got != 1 {
		t.Errorf("Expected exactly one coalesced batch, got %d", got)
	}
	if got := fetcher.totalCalls(); got != 3 {
		t.Errorf("Expected each node fetched once, got %d fetches", got)
	}
}

func TestBlacklistShortCircuit(t *testing.T) {
	settings := &fakeSettings{settings: store.Settings{
		StrataCeiling: 2000,
		Blacklist:     map[string]struct{}{urlA: {}},
	}}
	fetcher := newFakeFetcher()

	remote := startWatcher(t, surface.KindList, settings, fetcher, &Stats{})

	remote.ApplyEvent(surface.Event{
		Type:  surface.EventContainer,
		Nodes: []surface.NodeEvent{{ID: "card-a", URL: urlA}},
	})

	ops := collectOps(t, remote, 2*time.Second, func(ops []surface.Op) bool {
		return hasOp(ops, "card-a", surface.OpHide)
	})

	if !hasOp(ops, "card-a", surface.OpHide) {
		t.Fatalf("Blacklisted listing should be hidden, ops: %v", ops)
	}
	if fetcher.callCount(urlA) != 0 {
		t.Error("Blacklist membership must short-circuit fetching")
	}
	if hasOp(ops, "card-a", surface.OpHighlight) || hasOp(ops, "card-a", surface.OpEnsureToggle) {
		t.Errorf("Blacklisted listing should skip preference styling, ops: %v", ops)
	}
}

func TestFetchFailureLeavesNodeUntouched(t *testing.T) {
	settings := &fakeSettings{settings: store.Settings{StrataCeiling: 2000}}
	fetcher := newFakeFetcher()
	fetcher.errs[urlA] = listing.ErrNetwork
	stats := &Stats{}

	remote := startWatcher(t, surface.KindList, settings, fetcher, stats)

	remote.ApplyEvent(surface.Event{
		Type:  surface.EventContainer,
		Nodes: []surface.NodeEvent{{ID: "card-a", URL: urlA}},
	})

	deadline := time.Now().Add(2 * time.Second)
	for stats.Failures.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if stats.Failures.Load() == 0 {
		t.Fatal("Expected a recorded failure")
	}
	if ops := remote.DrainOps(); len(ops) != 0 {
		t.Errorf("Unclassifiable listing must not change visual state, ops: %v", ops)
	}
}

func TestStorageFailureAbortsPass(t *testing.T) {
	settings := &fakeSettings{err: store.ErrUnavailable}
	fetcher := newFakeFetcher()

	remote := startWatcher(t, surface.KindList, settings, fetcher, &Stats{})

	remote.ApplyEvent(surface.Event{
		Type:  surface.EventContainer,
		Nodes: []surface.NodeEvent{{ID: "card-a", URL: urlA}},
	})

	time.Sleep(150 * time.Millisecond)

	if fetcher.totalCalls() != 0 {
		t.Error("A pass without settings must not fetch anything")
	}
	if ops := remote.DrainOps(); len(ops) != 0 {
		t.Errorf("A pass without settings must not touch the surface, ops: %v", ops)
	}
}

func TestRebindAfterContainerReplacement(t *testing.T) {
	settings := &fakeSettings{settings: store.Settings{StrataCeiling: 2000}}
	fetcher := newFakeFetcher()

	remote := startWatcher(t, surface.KindList, settings, fetcher, &Stats{})

	remote.ApplyEvent(surface.Event{
		Type:  surface.EventContainer,
		Nodes: []surface.NodeEvent{{ID: "card-a", URL: urlA}},
	})

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount(urlA) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// SPA navigation: the container is replaced wholesale
	remote.ApplyEvent(surface.Event{
		Type:  surface.EventContainer,
		Nodes: []surface.NodeEvent{{ID: "card-b", URL: urlB}},
	})

	deadline = time.Now().Add(2 * time.Second)
	for fetcher.callCount(urlB) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if fetcher.callCount(urlB) == 0 {
		t.Fatal("Watcher should rebind to the replacement container and classify its children")
	}
}

func TestStaleResultDiscardedAfterDetach(t *testing.T) {
	settings := &fakeSettings{settings: store.Settings{StrataCeiling: 2000}}
	fetcher := newFakeFetcher()
	fetcher.delay = 80 * time.Millisecond

	remote := startWatcher(t, surface.KindList, settings, fetcher, &Stats{})

	remote.ApplyEvent(surface.Event{
		Type:  surface.EventContainer,
		Nodes: []surface.NodeEvent{{ID: "card-a", URL: urlA}},
	})

	// Wait for the fetch to start, then detach mid-flight
	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount(urlA) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	remote.ApplyEvent(surface.Event{Type: surface.EventDetached})

	time.Sleep(200 * time.Millisecond)

	if ops := remote.DrainOps(); len(ops) != 0 {
		t.Errorf("Stale results must not be applied after detach, ops: %v", ops)
	}
}

func TestRefreshOnStoreChange(t *testing.T) {
	settings := &fakeSettings{settings: store.Settings{StrataCeiling: 2000}}
	fetcher := newFakeFetcher()

	remote := startWatcher(t, surface.KindList, settings, fetcher, &Stats{})

	remote.ApplyEvent(surface.Event{
		Type:  surface.EventContainer,
		Nodes: []surface.NodeEvent{{ID: "card-a", URL: urlA}},
	})

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount(urlA) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	remote.DrainOps()

	// Blacklist the listing elsewhere; the change notification should
	// re-reconcile current children
	settings.mu.Lock()
	settings.settings.Blacklist = map[string]struct{}{urlA: {}}
	settings.mu.Unlock()
	settings.notify()

	ops := collectOps(t, remote, 2*time.Second, func(ops []surface.Op) bool {
		return hasOp(ops, "card-a", surface.OpHide)
	})
	if !hasOp(ops, "card-a", surface.OpHide) {
		t.Errorf("Store change should hide the newly blacklisted listing, ops: %v", ops)
	}
}

func TestMarkerResolutionAndReconciliation(t *testing.T) {
	pageState, _ := json.Marshal(map[string]any{
		"props": map[string]any{"pageProps": map[string]any{"componentProps": map[string]any{
			"listingsMap": map[string]any{
				"2019000001": map[string]any{"listingModel": map[string]any{
					"url":     "/1-example-st-suburb-nsw-2000-2019000001",
					"address": map[string]any{"lat": -33.80, "lng": 151.20},
				}},
				"2019000002": map[string]any{"listingModel": map[string]any{
					"url":     "/2-sample-rd-suburb-nsw-2000-2019000002",
					"address": map[string]any{"lat": -33.90, "lng": 151.30},
				}},
			},
		}}},
	})

	settings := &fakeSettings{settings: store.Settings{
		ExcludeKeywords: []string{"main road"},
		StrataCeiling:   2000,
		Preferences:     []string{"gym"},
	}}
	fetcher := newFakeFetcher()
	fetcher.records[urlA] = &listing.Record{Title: "Tower apartment", Features: "Gym"}
	fetcher.records[urlB] = &listing.Record{Title: "House on a main road"}

	remote := startWatcher(t, surface.KindMap, settings, fetcher, &Stats{})

	remote.ApplyEvent(surface.Event{
		Type:      surface.EventContainer,
		PageURL:   "https://www.domain.com.au/sale/?startloc=-33.80,151.20&endloc=-33.90,151.30",
		PageState: pageState,
		Width:     200,
		Height:    200,
		Nodes: []surface.NodeEvent{
			{ID: "marker-1", Left: 0, Top: 0},     // resolves to urlA
			{ID: "marker-2", Left: 200, Top: 200}, // resolves to urlB
		},
	})

	ops := collectOps(t, remote, 2*time.Second, func(ops []surface.Op) bool {
		return hasOp(ops, "marker-2", surface.OpHide) && hasOp(ops, "marker-1", surface.OpHighlight)
	})

	if !hasOp(ops, "marker-2", surface.OpHide) {
		t.Errorf("Excluded marker should be hidden, ops: %v", ops)
	}
	if !hasOp(ops, "marker-1", surface.OpHighlight) {
		t.Errorf("Preferred marker should be recolored, ops: %v", ops)
	}
	if hasOp(ops, "marker-1", surface.OpEnsureToggle) {
		t.Errorf("Markers must not receive blacklist toggles, ops: %v", ops)
	}
}

func TestMalformedBoundsSkipsMarkers(t *testing.T) {
	settings := &fakeSettings{settings: store.Settings{StrataCeiling: 2000}}
	fetcher := newFakeFetcher()

	remote := startWatcher(t, surface.KindMap, settings, fetcher, &Stats{})

	remote.ApplyEvent(surface.Event{
		Type:    surface.EventContainer,
		PageURL: "https://www.domain.com.au/sale/", // no bounds params
		Width:   200,
		Height:  200,
		Nodes:   []surface.NodeEvent{{ID: "marker-1", Left: 10, Top: 10}},
	})

	time.Sleep(150 * time.Millisecond)

	if fetcher.totalCalls() != 0 {
		t.Error("Unresolvable markers must not trigger fetches")
	}
	if ops := remote.DrainOps(); len(ops) != 0 {
		t.Errorf("Unresolvable markers keep their prior state, ops: %v", ops)
	}
}
