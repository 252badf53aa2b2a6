package tree

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newNode(id string) *Node {
	return &Node{ID: id, State: StatePending, CreatedAt: time.Now()}
}

// blockingProcessor lets a test control exactly when a node "completes" by
// holding it in-progress until the test signals release.
type blockingProcessor struct {
	mu       sync.Mutex
	started  map[string]chan struct{}
	release  map[string]chan struct{}
	finalize func(ctx context.Context, t *Tree, n *Node)
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{
		started: map[string]chan struct{}{},
		release: map[string]chan struct{}{},
	}
}

func (p *blockingProcessor) waitStarted(t *testing.T, nodeID string) {
	t.Helper()
	p.mu.Lock()
	ch, ok := p.started[nodeID]
	p.mu.Unlock()
	if !ok {
		t.Fatalf("processor never registered a start channel for %s", nodeID)
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for node %s to start", nodeID)
	}
}

func (p *blockingProcessor) releaseNode(nodeID string) {
	p.mu.Lock()
	ch, ok := p.release[nodeID]
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (p *blockingProcessor) process(ctx context.Context, t *Tree, n *Node) {
	p.mu.Lock()
	started := make(chan struct{})
	rel := make(chan struct{})
	p.started[n.ID] = started
	p.release[n.ID] = rel
	p.mu.Unlock()
	close(started)

	select {
	case <-rel:
		_ = t.UpdateState(n.ID, StateCompleted, "sess-"+n.ID, "")
	case <-ctx.Done():
	}
}

func TestEnqueueStartsIdleTreeImmediately(t *testing.T) {
	proc := newBlockingProcessor()
	qm := NewQueueManager(proc.process, Callbacks{})

	root := newNode("root")
	tr := qm.CreateTree(root)
	qm.Enqueue(context.Background(), tr, root)

	proc.waitStarted(t, "root")
	if !qm.IsNodeTreeBusy("root") {
		t.Errorf("expected tree to be busy while root is processing")
	}
	proc.releaseNode("root")

	deadline := time.Now().Add(2 * time.Second)
	for qm.IsNodeTreeBusy("root") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if qm.IsNodeTreeBusy("root") {
		t.Errorf("expected tree to go idle after processor finished")
	}
	if got := tr.Node("root").State; got != StateCompleted {
		t.Errorf("expected root to be COMPLETED, got %s", got)
	}
}

func TestEnqueueSecondNodeWaitsForFirst(t *testing.T) {
	proc := newBlockingProcessor()
	qm := NewQueueManager(proc.process, Callbacks{})

	root := newNode("root")
	tr := qm.CreateTree(root)
	qm.Enqueue(context.Background(), tr, root)
	proc.waitStarted(t, "root")

	child := newNode("child")
	if _, err := qm.AttachChild("root", child); err != nil {
		t.Fatalf("AttachChild failed: %v", err)
	}
	qm.Enqueue(context.Background(), tr, child)

	if qm.QueueSize("child") != 1 {
		t.Errorf("expected child queued behind in-progress root, got queue size %d", qm.QueueSize("child"))
	}

	proc.releaseNode("root")
	proc.waitStarted(t, "child")
	proc.releaseNode("child")
}

func TestCancelBranchCancelsDescendants(t *testing.T) {
	proc := newBlockingProcessor()
	qm := NewQueueManager(proc.process, Callbacks{})

	root := newNode("root")
	tr := qm.CreateTree(root)
	qm.Enqueue(context.Background(), tr, root)
	proc.waitStarted(t, "root")

	child := newNode("child")
	qm.AttachChild("root", child)
	qm.Enqueue(context.Background(), tr, child)

	affected := qm.CancelBranch("root")
	if len(affected) != 2 {
		t.Fatalf("expected root + child to be affected, got %d", len(affected))
	}

	deadline := time.Now().Add(2 * time.Second)
	for tr.Node("root").State != StateError && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := tr.Node("root").State; got != StateError {
		t.Errorf("expected root to end in ERROR after cancellation, got %s", got)
	}
	if got := tr.Node("child").State; got != StateError {
		t.Errorf("expected queued child to end in ERROR after cancellation, got %s", got)
	}
}

func TestForkUsesParentSessionID(t *testing.T) {
	proc := newBlockingProcessor()
	qm := NewQueueManager(proc.process, Callbacks{})

	root := newNode("root")
	tr := qm.CreateTree(root)
	qm.Enqueue(context.Background(), tr, root)
	proc.waitStarted(t, "root")
	proc.releaseNode("root")

	deadline := time.Now().Add(2 * time.Second)
	for tr.Node("root").State != StateCompleted && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	child := newNode("child")
	qm.AttachChild("root", child)
	if got := tr.GetParentSessionID("child"); got != "sess-root" {
		t.Errorf("expected fork to resolve to root's session id, got %q", got)
	}
}

func TestMarkNodeErrorPropagatesToQueuedChildren(t *testing.T) {
	qm := NewQueueManager(func(ctx context.Context, t *Tree, n *Node) {}, Callbacks{})

	root := newNode("root")
	tr := qm.CreateTree(root)
	_ = tr.UpdateState("root", StateInProgress, "", "")

	child := newNode("child")
	qm.AttachChild("root", child)
	tr.Enqueue("child")

	affected := qm.MarkNodeError("root", "boom", true)
	if len(affected) != 2 {
		t.Fatalf("expected root + queued child to be affected, got %d", len(affected))
	}
	if got := tr.Node("child").State; got != StateError {
		t.Errorf("expected queued child to be marked ERROR, got %s", got)
	}
	if got := tr.Node("child").ErrorMessage; got != "parent failed" {
		t.Errorf("expected child error message 'parent failed', got %q", got)
	}
}

func TestResolveParentNodeIDViaAlias(t *testing.T) {
	qm := NewQueueManager(func(ctx context.Context, t *Tree, n *Node) {}, Callbacks{})
	root := newNode("root")
	qm.CreateTree(root)

	qm.RegisterAlias("status-msg-1", "root")

	if got := qm.ResolveParentNodeID("status-msg-1"); got != "root" {
		t.Errorf("expected alias to resolve to root, got %q", got)
	}
	if got := qm.ResolveParentNodeID("root"); got != "root" {
		t.Errorf("expected direct node id to resolve to itself, got %q", got)
	}
	if got := qm.ResolveParentNodeID("nonexistent"); got != "" {
		t.Errorf("expected unknown id to resolve to empty string, got %q", got)
	}
}

func TestResetClearsEverything(t *testing.T) {
	qm := NewQueueManager(func(ctx context.Context, t *Tree, n *Node) {}, Callbacks{})
	root := newNode("root")
	qm.CreateTree(root)
	qm.RegisterAlias("alias", "root")

	qm.Reset()

	if qm.TreeCount() != 0 {
		t.Errorf("expected 0 trees after Reset, got %d", qm.TreeCount())
	}
	if got := qm.ResolveParentNodeID("alias"); got != "" {
		t.Errorf("expected alias to be cleared after Reset, got %q", got)
	}
	if got := qm.ResolveParentNodeID("root"); got != "" {
		t.Errorf("expected node index to be cleared after Reset, got %q", got)
	}
}

func TestRemoveBranchReportsWholeTreeRemoval(t *testing.T) {
	qm := NewQueueManager(func(ctx context.Context, t *Tree, n *Node) {}, Callbacks{})
	root := newNode("root")
	qm.CreateTree(root)

	removed, rootID, removedEntireTree := qm.RemoveBranch("root")
	if !removedEntireTree {
		t.Errorf("expected removing the root to report removedEntireTree=true")
	}
	if rootID != "root" {
		t.Errorf("expected rootID root, got %q", rootID)
	}
	if len(removed) != 1 {
		t.Errorf("expected 1 removed node, got %d", len(removed))
	}
	if qm.Tree("root") != nil {
		t.Errorf("expected tree to be gone from the manager after removing its root")
	}
}
