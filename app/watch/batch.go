package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkorzh/listing-sieve/app/geo"
	"github.com/mkorzh/listing-sieve/app/listing"
	"github.com/mkorzh/listing-sieve/app/store"
	"github.com/mkorzh/listing-sieve/app/surface"
)

// runBatch classifies and reconciles one debounced group of nodes. The
// settings snapshot is read once and held immutable for the whole batch;
// individual nodes are processed concurrently with an all-complete join.
func (w *Watcher) runBatch(ctx context.Context, container surface.Container, nodes []surface.Node) {
	if len(nodes) == 0 {
		return
	}

	batchID := uuid.NewString()[:8]
	started := time.Now()
	kind := string(w.surface.Kind())

	settings, err := w.settings.Snapshot(ctx)
	if err != nil {
		// A half-read settings state must not drive partial highlighting;
		// the whole pass aborts and nodes keep their prior visual state
		slog.Error("Pass aborted, preference store unreachable",
			"surface", kind, "batch", batchID, "error", err)
		return
	}
	settings.IncludeStudio = w.session.IncludeStudio()

	var resolver *geo.Resolver
	if w.surface.Kind() == surface.KindMap {
		resolver = w.buildResolver(container)
	}

	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func(node surface.Node) {
			defer wg.Done()
			w.processNode(ctx, container, settings, resolver, node)
		}(node)
	}
	wg.Wait()

	w.stats.Batches.Add(1)
	slog.Info("Batch completed", "surface", kind, "batch", batchID,
		"nodes", len(nodes), "duration", time.Since(started).String())
}

// buildResolver rebuilds the coordinate index and viewport mapping from
// current page data. Any failure degrades to nil: markers resolve to no
// match this pass and keep their prior visual state.
func (w *Watcher) buildResolver(container surface.Container) *geo.Resolver {
	bounds, err := geo.ParseBounds(container.PageURL())
	if err != nil {
		slog.Warn("Marker resolution disabled for this pass", "error", err)
		return nil
	}

	index, err := geo.BuildIndex(container.PageState(), w.opts.SiteBaseURL)
	if err != nil {
		slog.Warn("Marker resolution disabled for this pass", "error", err)
		return nil
	}

	width, height := container.Viewport()
	return geo.NewResolver(bounds, width, height, index)
}

// nodeURL resolves the listing URL a node stands for: cards carry it,
// markers go through the coordinate resolver. The surface kind decides
// which capability applies because a node may implement both.
func (w *Watcher) nodeURL(resolver *geo.Resolver, node surface.Node) (string, bool) {
	if w.surface.Kind() == surface.KindMap {
		marker, ok := node.(surface.MarkerNode)
		if !ok || resolver == nil {
			return "", false
		}
		left, top := marker.Position()
		return resolver.Resolve(left, top)
	}

	card, ok := node.(surface.CardNode)
	if !ok {
		return "", false
	}
	if url := card.ListingURL(); url != "" {
		return url, true
	}
	return "", false
}

func (w *Watcher) processNode(ctx context.Context, container surface.Container,
	settings store.Settings, resolver *geo.Resolver, node surface.Node) {

	url, ok := w.nodeURL(resolver, node)
	if !ok {
		return
	}

	// Blacklist membership short-circuits fetching and classification
	if settings.Blacklisted(url) {
		if w.valid(container, node) {
			node.SetHidden(true)
			w.stats.Processed.Add(1)
			w.stats.Hidden.Add(1)
		}
		return
	}

	record, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		// The listing stays unclassified in its prior visual state
		if !errors.Is(err, context.Canceled) {
			slog.Warn("Listing unclassifiable", "url", url, "error", err)
			w.stats.Failures.Add(1)
		}
		return
	}

	result := w.classifier.Run(settings, record)

	// The container may have been replaced or the node detached while
	// the fetch was in flight; stale results must not touch the surface
	if !w.valid(container, node) {
		return
	}

	w.reconcile(node, url, settings, result)
	w.stats.Processed.Add(1)
	if result.Exclude {
		w.stats.Hidden.Add(1)
	} else if listing.Bucket(result.PreferenceRatio) != listing.TierNone {
		w.stats.Highlighted.Add(1)
	}
}

func (w *Watcher) valid(container surface.Container, node surface.Node) bool {
	return container.Attached() && node.Attached()
}
