package watch

import (
	"github.com/mkorzh/listing-sieve/app/listing"
	"github.com/mkorzh/listing-sieve/app/store"
	"github.com/mkorzh/listing-sieve/app/surface"
)

// reconcile applies a classification outcome to a node. It is idempotent:
// repeating it with unchanged inputs produces no visible diff and injects
// no duplicate controls (node setters no-op on unchanged state).
func (w *Watcher) reconcile(node surface.Node, url string, settings store.Settings, result listing.Result) {
	if settings.Blacklisted(url) {
		node.SetHidden(true)
		return
	}

	if result.Exclude {
		node.SetHidden(true)
		return
	}

	node.SetHidden(false)
	node.SetHighlight(listing.Bucket(result.PreferenceRatio).Color())

	// Only result-list cards carry the blacklist affordance; markers are
	// recolored but not toggleable
	if w.surface.Kind() != surface.KindList {
		return
	}
	if card, ok := node.(surface.CardNode); ok {
		card.EnsureBlacklistToggle(url)
		card.SetToggleActive(settings.Blacklisted(url))
	}
}
