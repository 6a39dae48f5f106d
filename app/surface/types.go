package surface

import (
	"encoding/json"
)

// Kind identifies which host-page surface a container belongs to.
type Kind string

const (
	KindList Kind = "list"
	KindMap  Kind = "map"
)

// Node is one listing card or map marker on a host-page surface. Visual
// setters must be idempotent: applying the same state twice produces no
// further effect.
type Node interface {
	ID() string
	Attached() bool
	SetHidden(hidden bool)
	SetHighlight(color string)
	// EnsureBlacklistToggle injects the per-listing blacklist affordance.
	// Repeated calls must not duplicate an already-injected control.
	EnsureBlacklistToggle(url string)
	SetToggleActive(active bool)
}

// CardNode is a result-list entry that knows its listing URL.
type CardNode interface {
	Node
	ListingURL() string
}

// MarkerNode is a map marker positioned by pixel offset within the map
// container.
type MarkerNode interface {
	Node
	Position() (left, top float64)
}

// Mutation is one observed batch of child-list additions.
type Mutation struct {
	Added []Node
}

// Container is a bound host-page container: the result list or the map's
// marker layer. A container belongs to one generation; SPA re-renders
// replace it with a fresh generation rather than mutating it in place.
type Container interface {
	Generation() uint64
	Attached() bool
	Children() []Node
	Mutations() <-chan Mutation

	// Viewport returns the map container's pixel dimensions; zero for
	// list containers.
	Viewport() (width, height float64)
	// PageURL is the current document URL, carrying the map bounds
	// query parameters.
	PageURL() string
	// PageState is the page-embedded JSON payload used to build the
	// coordinate index.
	PageState() []byte
}

// Surface discovers the current container of its kind, if the host page
// has one attached.
type Surface interface {
	Kind() Kind
	Discover() (Container, bool)
}

// Event is one message from the browser shim describing a host-page
// change.
type Event struct {
	Type      string          `json:"type"` // container, page, nodes_added, nodes_removed, detached
	PageURL   string          `json:"page_url,omitempty"`
	PageState json.RawMessage `json:"page_state,omitempty"`
	Width     float64         `json:"width,omitempty"`
	Height    float64         `json:"height,omitempty"`
	Nodes     []NodeEvent     `json:"nodes,omitempty"`
}

// NodeEvent describes one node within an Event.
type NodeEvent struct {
	ID   string  `json:"id"`
	URL  string  `json:"url,omitempty"`
	Left float64 `json:"left,omitempty"`
	Top  float64 `json:"top,omitempty"`
}

// Op is one visual operation queued for the browser shim to apply.
type Op struct {
	NodeID string `json:"node_id"`
	Kind   string `json:"op"` // hide, show, highlight, ensure_toggle, toggle_state
	Color  string `json:"color,omitempty"`
	URL    string `json:"url,omitempty"`
	Active bool   `json:"active,omitempty"`
}

const (
	OpHide         = "hide"
	OpShow         = "show"
	OpHighlight    = "highlight"
	OpEnsureToggle = "ensure_toggle"
	OpToggleState  = "toggle_state"
)

const (
	EventContainer    = "container"
	EventPage         = "page"
	EventNodesAdded   = "nodes_added"
	EventNodesRemoved = "nodes_removed"
	EventDetached     = "detached"
)
