package surface

import (
	"testing"
)

func newBoundContainer(t *testing.T, remote *Remote, nodes ...NodeEvent) Container {
	t.Helper()

	if err := remote.ApplyEvent(Event{Type: EventContainer, Nodes: nodes}); err != nil {
		t.Fatal(err)
	}
	container, ok := remote.Discover()
	if !ok {
		t.Fatal("Expected a discoverable container after the container event")
	}
	return container
}

func TestDiscoverBeforeAnyEvent(t *testing.T) {
	remote := NewRemote(KindList)
	if _, ok := remote.Discover(); ok {
		t.Error("Nothing to discover before a container event")
	}
}

func TestContainerEventBindsChildrenInOrder(t *testing.T) {
	remote := NewRemote(KindList)
	container := newBoundContainer(t, remote,
		NodeEvent{ID: "a", URL: "https://example.com/a"},
		NodeEvent{ID: "b", URL: "https://example.com/b"},
	)

	if container.Generation() != 1 {
		t.Errorf("Generation = %d, want 1", container.Generation())
	}
	children := container.Children()
	if len(children) != 2 {
		t.Fatalf("Children = %d, want 2", len(children))
	}
	if children[0].ID() != "a" || children[1].ID() != "b" {
		t.Errorf("Children out of order: %s, %s", children[0].ID(), children[1].ID())
	}
	if card, ok := children[0].(CardNode); !ok || card.ListingURL() != "https://example.com/a" {
		t.Error("Child should expose its listing URL")
	}
}

func TestReplacementContainerDetachesPrevious(t *testing.T) {
	remote := NewRemote(KindList)
	first := newBoundContainer(t, remote, NodeEvent{ID: "a"})
	firstChild := first.Children()[0]

	second := newBoundContainer(t, remote, NodeEvent{ID: "b"})

	if first.Attached() {
		t.Error("Replaced container should be detached")
	}
	if firstChild.Attached() {
		t.Error("Children of a replaced container should be detached")
	}
	if !second.Attached() {
		t.Error("Replacement container should be attached")
	}
	if second.Generation() != 2 {
		t.Errorf("Generation = %d, want 2", second.Generation())
	}
}

func TestDetachedEventClearsContainer(t *testing.T) {
	remote := NewRemote(KindList)
	container := newBoundContainer(t, remote, NodeEvent{ID: "a"})

	if err := remote.ApplyEvent(Event{Type: EventDetached}); err != nil {
		t.Fatal(err)
	}
	if container.Attached() {
		t.Error("Container should be detached")
	}
	if _, ok := remote.Discover(); ok {
		t.Error("Nothing to discover after detach")
	}
}

func TestNodeEventsRequireContainer(t *testing.T) {
	remote := NewRemote(KindList)
	for _, eventType := range []string{EventPage, EventNodesAdded, EventNodesRemoved} {
		if err := remote.ApplyEvent(Event{Type: eventType}); err == nil {
			t.Errorf("%s without a container should fail", eventType)
		}
	}
	if err := remote.ApplyEvent(Event{Type: "bogus"}); err == nil {
		t.Error("Unknown event type should fail")
	}
	// Detach without a container is a no-op, not an error
	if err := remote.ApplyEvent(Event{Type: EventDetached}); err != nil {
		t.Errorf("Detach without a container: %v", err)
	}
}

func TestNodesAddedDeliversMutation(t *testing.T) {
	remote := NewRemote(KindList)
	container := newBoundContainer(t, remote)

	if err := remote.ApplyEvent(Event{
		Type:  EventNodesAdded,
		Nodes: []NodeEvent{{ID: "a"}, {ID: "b"}},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case mutation := <-container.Mutations():
		if len(mutation.Added) != 2 {
			t.Errorf("Added = %d, want 2", len(mutation.Added))
		}
	default:
		t.Fatal("Expected a buffered mutation")
	}

	if len(container.Children()) != 2 {
		t.Errorf("Children = %d, want 2", len(container.Children()))
	}
}

func TestNodesRemovedDetachesNodes(t *testing.T) {
	remote := NewRemote(KindList)
	container := newBoundContainer(t, remote, NodeEvent{ID: "a"}, NodeEvent{ID: "b"})
	removed := container.Children()[0]

	if err := remote.ApplyEvent(Event{
		Type:  EventNodesRemoved,
		Nodes: []NodeEvent{{ID: "a"}},
	}); err != nil {
		t.Fatal(err)
	}

	if removed.Attached() {
		t.Error("Removed node should be detached")
	}
	children := container.Children()
	if len(children) != 1 || children[0].ID() != "b" {
		t.Errorf("Unexpected children after removal: %v", children)
	}
}

func TestPageEventUpdatesContainer(t *testing.T) {
	remote := NewRemote(KindMap)
	container := newBoundContainer(t, remote)

	if err := remote.ApplyEvent(Event{
		Type:      EventPage,
		PageURL:   "https://example.com/?startloc=1,2&endloc=3,4",
		PageState: []byte(`{"props":{}}`),
		Width:     800,
		Height:    600,
	}); err != nil {
		t.Fatal(err)
	}

	if container.PageURL() != "https://example.com/?startloc=1,2&endloc=3,4" {
		t.Errorf("PageURL = %q", container.PageURL())
	}
	if string(container.PageState()) != `{"props":{}}` {
		t.Errorf("PageState = %q", container.PageState())
	}
	width, height := container.Viewport()
	if width != 800 || height != 600 {
		t.Errorf("Viewport = %v x %v", width, height)
	}
}

func TestVisualSettersQueueOpsOnce(t *testing.T) {
	remote := NewRemote(KindList)
	container := newBoundContainer(t, remote, NodeEvent{ID: "a", URL: "https://example.com/a"})
	node := container.Children()[0]

	node.SetHidden(true)
	node.SetHidden(true) // unchanged, no second op
	node.SetHidden(false)
	node.SetHighlight("#6daf25")
	node.SetHighlight("#6daf25")
	node.EnsureBlacklistToggle("https://example.com/a")
	node.EnsureBlacklistToggle("https://example.com/a")
	node.SetToggleActive(true)
	node.SetToggleActive(true)

	ops := remote.DrainOps()
	want := []Op{
		{NodeID: "a", Kind: OpHide},
		{NodeID: "a", Kind: OpShow},
		{NodeID: "a", Kind: OpHighlight, Color: "#6daf25"},
		{NodeID: "a", Kind: OpEnsureToggle, URL: "https://example.com/a"},
		{NodeID: "a", Kind: OpToggleState, Active: true},
	}
	if len(ops) != len(want) {
		t.Fatalf("Ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("Op %d = %v, want %v", i, ops[i], want[i])
		}
	}

	if ops := remote.DrainOps(); len(ops) != 0 {
		t.Errorf("Drain should clear the queue, got %v", ops)
	}
}

func TestToggleStateRequiresInjectedToggle(t *testing.T) {
	remote := NewRemote(KindList)
	container := newBoundContainer(t, remote, NodeEvent{ID: "a"})
	node := container.Children()[0]

	node.SetToggleActive(true)
	if ops := remote.DrainOps(); len(ops) != 0 {
		t.Errorf("Toggle state without a toggle should queue nothing, got %v", ops)
	}
}

func TestDetachedNodeQueuesNothing(t *testing.T) {
	remote := NewRemote(KindList)
	container := newBoundContainer(t, remote, NodeEvent{ID: "a"})
	node := container.Children()[0]

	remote.ApplyEvent(Event{Type: EventNodesRemoved, Nodes: []NodeEvent{{ID: "a"}}})

	node.SetHidden(true)
	node.SetHighlight("#9cc22e")
	if ops := remote.DrainOps(); len(ops) != 0 {
		t.Errorf("Detached node should queue nothing, got %v", ops)
	}
}

func TestReAddedNodeResetsVisualState(t *testing.T) {
	remote := NewRemote(KindList)
	container := newBoundContainer(t, remote, NodeEvent{ID: "a"})
	container.Children()[0].SetHidden(true)
	remote.DrainOps()

	// The shim re-announces the same id after a re-render; state restarts
	// from the host page's defaults
	remote.ApplyEvent(Event{Type: EventNodesAdded, Nodes: []NodeEvent{{ID: "a"}}})
	node := container.Children()[0]

	node.SetHidden(true)
	ops := remote.DrainOps()
	if len(ops) != 1 || ops[0].Kind != OpHide {
		t.Errorf("Re-added node should accept a fresh hide, got %v", ops)
	}
}

func TestMutationOverflowDropsBatch(t *testing.T) {
	remote := NewRemote(KindList)
	newBoundContainer(t, remote)

	for i := 0; i < mutationBuffer+5; i++ {
		remote.ApplyEvent(Event{
			Type:  EventNodesAdded,
			Nodes: []NodeEvent{{ID: string(rune('a' + i%26)) + string(rune('0' + i/26))}},
		})
	}
	// No panic, no deadlock; queued mutations cap at the buffer size
	container, _ := remote.Discover()
	count := 0
	for {
		select {
		case <-container.Mutations():
			count++
			continue
		default:
		}
		break
	}
	if count != mutationBuffer {
		t.Errorf("Buffered mutations = %d, want %d", count, mutationBuffer)
	}
}
