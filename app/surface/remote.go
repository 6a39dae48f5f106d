package surface

import (
	"fmt"
	"log/slog"
	"sync"
)

// mutationBuffer bounds the per-container mutation queue. The watcher
// drains it on the debounce schedule; overflow during a mutation storm
// drops the batch and relies on the next full pass to catch up.
const mutationBuffer = 64

// Remote is a Surface fed by a browser shim over the HTTP bridge: the shim
// POSTs host-page events and polls queued visual ops to apply.
type Remote struct {
	kind Kind

	mu         sync.Mutex
	container  *remoteContainer
	generation uint64
	ops        []Op
}

func NewRemote(kind Kind) *Remote {
	return &Remote{kind: kind}
}

func (r *Remote) Kind() Kind {
	return r.kind
}

// Discover returns the currently announced container, if any.
func (r *Remote) Discover() (Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.container == nil || !r.container.Attached() {
		return nil, false
	}
	return r.container, true
}

// ApplyEvent ingests one shim event.
func (r *Remote) ApplyEvent(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case EventContainer:
		if r.container != nil {
			r.container.detach()
		}
		r.generation++
		r.container = newRemoteContainer(r, r.generation, event)
		slog.Debug("Surface container announced",
			"surface", string(r.kind), "generation", r.generation, "children", len(event.Nodes))

	case EventPage:
		if r.container == nil {
			return fmt.Errorf("page event without a container")
		}
		r.container.updatePage(event)

	case EventNodesAdded:
		if r.container == nil {
			return fmt.Errorf("nodes_added event without a container")
		}
		r.container.addNodes(event.Nodes)

	case EventNodesRemoved:
		if r.container == nil {
			return fmt.Errorf("nodes_removed event without a container")
		}
		r.container.removeNodes(event.Nodes)

	case EventDetached:
		if r.container != nil {
			r.container.detach()
			r.container = nil
		}

	default:
		return fmt.Errorf("unknown surface event type %q", event.Type)
	}

	return nil
}

// DrainOps returns all queued visual operations and clears the queue.
func (r *Remote) DrainOps() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := r.ops
	r.ops = nil
	return ops
}

func (r *Remote) enqueueOp(op Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

type remoteContainer struct {
	remote     *Remote
	generation uint64

	mu        sync.Mutex
	attached  bool
	pageURL   string
	pageState []byte
	width     float64
	height    float64
	order     []string
	nodes     map[string]*remoteNode
	mutations chan Mutation
}

func newRemoteContainer(remote *Remote, generation uint64, event Event) *remoteContainer {
	c := &remoteContainer{
		remote:     remote,
		generation: generation,
		attached:   true,
		pageURL:    event.PageURL,
		pageState:  event.PageState,
		width:      event.Width,
		height:     event.Height,
		nodes:      make(map[string]*remoteNode),
		mutations:  make(chan Mutation, mutationBuffer),
	}
	for _, nodeEvent := range event.Nodes {
		c.insert(nodeEvent)
	}
	return c
}

func (c *remoteContainer) Generation() uint64 {
	return c.generation
}

func (c *remoteContainer) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

func (c *remoteContainer) Children() []Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	children := make([]Node, 0, len(c.order))
	for _, id := range c.order {
		if node, ok := c.nodes[id]; ok {
			children = append(children, node)
		}
	}
	return children
}

func (c *remoteContainer) Mutations() <-chan Mutation {
	return c.mutations
}

func (c *remoteContainer) Viewport() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

func (c *remoteContainer) PageURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageURL
}

func (c *remoteContainer) PageState() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageState
}

func (c *remoteContainer) insert(event NodeEvent) (node, replaced *remoteNode) {
	node = &remoteNode{container: c, id: event.ID, url: event.URL, left: event.Left, top: event.Top}
	if prev, exists := c.nodes[event.ID]; exists {
		replaced = prev
	} else {
		c.order = append(c.order, event.ID)
	}
	c.nodes[event.ID] = node
	return node, replaced
}

func (c *remoteContainer) addNodes(events []NodeEvent) {
	c.mu.Lock()
	added := make([]Node, 0, len(events))
	var replaced []*remoteNode
	for _, event := range events {
		node, prev := c.insert(event)
		added = append(added, node)
		if prev != nil {
			replaced = append(replaced, prev)
		}
	}
	c.mu.Unlock()

	// A re-announced id supersedes the previous node object; anything still
	// holding the old one must not drive the surface through it
	for _, node := range replaced {
		node.markDetached()
	}

	if len(added) == 0 {
		return
	}
	select {
	case c.mutations <- Mutation{Added: added}:
	default:
		slog.Warn("Surface mutation queue full, dropping batch",
			"surface", string(c.remote.kind), "dropped", len(added))
	}
}

func (c *remoteContainer) removeNodes(events []NodeEvent) {
	c.mu.Lock()
	var removed []*remoteNode
	for _, event := range events {
		if node, ok := c.nodes[event.ID]; ok {
			removed = append(removed, node)
			delete(c.nodes, event.ID)
		}
	}

	order := c.order[:0]
	for _, id := range c.order {
		if _, ok := c.nodes[id]; ok {
			order = append(order, id)
		}
	}
	c.order = order
	c.mu.Unlock()

	// Node locks are taken strictly after the container lock is released
	for _, node := range removed {
		node.markDetached()
	}
}

func (c *remoteContainer) updatePage(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if event.PageURL != "" {
		c.pageURL = event.PageURL
	}
	if len(event.PageState) > 0 {
		c.pageState = event.PageState
	}
	if event.Width > 0 {
		c.width = event.Width
	}
	if event.Height > 0 {
		c.height = event.Height
	}
}

func (c *remoteContainer) detach() {
	c.mu.Lock()
	c.attached = false
	nodes := make([]*remoteNode, 0, len(c.nodes))
	for _, node := range c.nodes {
		nodes = append(nodes, node)
	}
	c.mu.Unlock()

	for _, node := range nodes {
		node.markDetached()
	}
}

// remoteNode implements both CardNode and MarkerNode; which capabilities
// matter depends on the surface kind the shim reports it under. State is
// tracked so repeated identical settings enqueue no duplicate ops.
type remoteNode struct {
	container *remoteContainer
	id        string
	url       string
	left      float64
	top       float64

	mu           sync.Mutex
	detached     bool
	hidden       bool
	highlight    string
	hasToggle    bool
	toggleActive bool
}

func (n *remoteNode) ID() string {
	return n.id
}

func (n *remoteNode) ListingURL() string {
	return n.url
}

func (n *remoteNode) Position() (float64, float64) {
	return n.left, n.top
}

func (n *remoteNode) Attached() bool {
	n.mu.Lock()
	detached := n.detached
	n.mu.Unlock()

	return !detached && n.container.Attached()
}

func (n *remoteNode) markDetached() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.detached = true
}

func (n *remoteNode) SetHidden(hidden bool) {
	n.mu.Lock()
	changed := n.hidden != hidden
	n.hidden = hidden
	detached := n.detached
	n.mu.Unlock()

	if !changed || detached {
		return
	}
	kind := OpShow
	if hidden {
		kind = OpHide
	}
	n.container.remote.enqueueOp(Op{NodeID: n.id, Kind: kind})
}

func (n *remoteNode) SetHighlight(color string) {
	n.mu.Lock()
	changed := n.highlight != color
	n.highlight = color
	detached := n.detached
	n.mu.Unlock()

	if !changed || detached {
		return
	}
	n.container.remote.enqueueOp(Op{NodeID: n.id, Kind: OpHighlight, Color: color})
}

func (n *remoteNode) EnsureBlacklistToggle(url string) {
	n.mu.Lock()
	already := n.hasToggle
	n.hasToggle = true
	detached := n.detached
	n.mu.Unlock()

	if already || detached {
		return
	}
	n.container.remote.enqueueOp(Op{NodeID: n.id, Kind: OpEnsureToggle, URL: url})
}

func (n *remoteNode) SetToggleActive(active bool) {
	n.mu.Lock()
	changed := n.toggleActive != active
	n.toggleActive = active
	hasToggle := n.hasToggle
	detached := n.detached
	n.mu.Unlock()

	if !changed || !hasToggle || detached {
		return
	}
	n.container.remote.enqueueOp(Op{NodeID: n.id, Kind: OpToggleState, Active: active})
}

var (
	_ CardNode   = (*remoteNode)(nil)
	_ MarkerNode = (*remoteNode)(nil)
	_ Surface    = (*Remote)(nil)
)
