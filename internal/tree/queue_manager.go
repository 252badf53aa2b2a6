package tree

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ProcessorFunc runs one node to completion, pulling from the CLISession
// event stream and driving UI updates; supplied by the Handler.
type ProcessorFunc func(ctx context.Context, t *Tree, n *Node)

// Callbacks lets the Handler react to scheduling events without the
// QueueManager knowing about platforms or transcripts, per spec.md §4.9.
type Callbacks struct {
	OnQueueChanged func(t *Tree)
	OnNodeStarted  func(t *Tree, n *Node)
}

type runningTask struct {
	cancel context.CancelFunc
	nodeID string
}

// QueueManager owns every tree in the process and the flat node→root index,
// and implements the cross-tree primitives of spec.md §4.9.
type QueueManager struct {
	mu        sync.Mutex
	trees     map[string]*Tree         // root id -> tree
	nodeIndex map[string]string        // node id -> root id
	aliases   map[string]string        // alias id (e.g. a status message id) -> node id
	running   map[string]*runningTask  // root id -> currently running task

	cb        Callbacks
	processor ProcessorFunc
}

// NewQueueManager constructs an empty manager. processor runs a dequeued
// node; cb reports scheduling events back to the Handler.
func NewQueueManager(processor ProcessorFunc, cb Callbacks) *QueueManager {
	return &QueueManager{
		trees:     map[string]*Tree{},
		nodeIndex: map[string]string{},
		aliases:   map[string]string{},
		running:   map[string]*runningTask{},
		cb:        cb,
		processor: processor,
	}
}

// Reset discards every tree, index entry, alias, and running task, used by
// the global /clear command in place of the Python original's "rebuild a
// fresh TreeQueueManager" approach (replacing the struct wholesale isn't
// idiomatic for a Go value with external references to it; clearing its
// state in place serves the same purpose).
func (m *QueueManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees = map[string]*Tree{}
	m.nodeIndex = map[string]string{}
	m.aliases = map[string]string{}
	m.running = map[string]*runningTask{}
}

// RegisterAlias maps aliasID (e.g. a status message id) to nodeID, so a
// reply to either resolves to the same node via ResolveParentNodeID.
func (m *QueueManager) RegisterAlias(aliasID, nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[aliasID] = nodeID
}

// ResolveParentNodeID resolves id (a node id or a registered alias) to the
// node id it designates, or "" if id designates neither.
func (m *QueueManager) ResolveParentNodeID(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if real, ok := m.aliases[id]; ok {
		id = real
	}
	if _, ok := m.nodeIndex[id]; ok {
		return id
	}
	return ""
}

// QueueSize reports how many nodes are pending in nodeID's tree.
func (m *QueueManager) QueueSize(nodeID string) int {
	t := m.TreeForNode(nodeID)
	if t == nil {
		return 0
	}
	return t.QueueLen()
}

// IsNodeTreeBusy reports whether nodeID's tree currently has a running task.
func (m *QueueManager) IsNodeTreeBusy(nodeID string) bool {
	t := m.TreeForNode(nodeID)
	if t == nil {
		return false
	}
	m.mu.Lock()
	_, busy := m.running[t.RootID]
	m.mu.Unlock()
	return busy
}

// TreeCount reports the number of live trees, for /stats.
func (m *QueueManager) TreeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trees)
}

// Tree returns the tree rooted at rootID, or nil.
func (m *QueueManager) Tree(rootID string) *Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trees[rootID]
}

// NewNodeID generates a fresh node id.
func NewNodeID() string { return uuid.NewString() }

// CreateTree registers root as the root of a brand-new tree and returns it.
func (m *QueueManager) CreateTree(root *Node) *Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := New(root)
	m.trees[root.ID] = t
	m.nodeIndex[root.ID] = root.ID
	return t
}

// AdoptTree registers an already-built Tree (e.g. restored from a
// SessionStore snapshot), indexing every node it currently holds.
func (m *QueueManager) AdoptTree(t *Tree) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[t.RootID] = t
	m.nodeIndex[t.RootID] = t.RootID
	for _, n := range t.AllNodes() {
		m.nodeIndex[n.ID] = t.RootID
	}
}

// TreeForNode resolves node id to its owning tree, or nil.
func (m *QueueManager) TreeForNode(nodeID string) *Tree {
	m.mu.Lock()
	rootID, ok := m.nodeIndex[nodeID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	t := m.trees[rootID]
	m.mu.Unlock()
	return t
}

// AttachChild adds child under parentID's tree and indexes it.
func (m *QueueManager) AttachChild(parentID string, child *Node) (*Tree, error) {
	t := m.TreeForNode(parentID)
	if t == nil {
		return nil, errNoSuchNode(parentID)
	}
	if err := t.AddChild(parentID, child); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.nodeIndex[child.ID] = t.RootID
	m.mu.Unlock()
	return t, nil
}

// Enqueue pushes node onto its tree's queue. If the tree is idle, the node
// is dequeued immediately and a scheduled task running m.processor is
// spawned; otherwise it waits and on_queue_changed fires.
func (m *QueueManager) Enqueue(ctx context.Context, t *Tree, n *Node) {
	t.Enqueue(n.ID)
	if m.cb.OnQueueChanged != nil {
		m.cb.OnQueueChanged(t)
	}
	m.maybeStartNext(ctx, t)
}

func (m *QueueManager) maybeStartNext(ctx context.Context, t *Tree) {
	m.mu.Lock()
	if _, busy := m.running[t.RootID]; busy {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	nodeID := t.Dequeue()
	if nodeID == "" {
		return
	}
	n := t.Node(nodeID)
	if n == nil {
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.running[t.RootID] = &runningTask{cancel: cancel, nodeID: nodeID}
	m.mu.Unlock()

	if err := t.UpdateState(nodeID, StateInProgress, "", ""); err != nil {
		slog.Warn("queue: failed to mark node in-progress", "node", nodeID, "error", err)
	}
	if m.cb.OnNodeStarted != nil {
		m.cb.OnNodeStarted(t, n)
	}

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.running, t.RootID)
			m.mu.Unlock()
			m.maybeStartNext(ctx, t)
		}()
		m.processor(taskCtx, t, n)
	}()
}

// CancelNode cancels node's running task, or removes it from its queue if
// merely pending; either way the node is marked ERROR ("Cancelled"). Does
// not propagate to children. Returns the affected node
// (wrapped in a single-element slice) so the Handler can read its ChatID and
// StatusMessageID to edit the corresponding platform message.
func (m *QueueManager) CancelNode(nodeID string) []*Node {
	t := m.TreeForNode(nodeID)
	if t == nil {
		return nil
	}

	m.mu.Lock()
	task, running := m.running[t.RootID]
	m.mu.Unlock()

	if running && task.nodeID == nodeID {
		task.cancel()
		_ = t.UpdateState(nodeID, StateError, "", "Cancelled")
		if n := t.Node(nodeID); n != nil {
			return []*Node{n}
		}
		return nil
	}
	if t.RemoveFromQueue(nodeID) {
		_ = t.UpdateState(nodeID, StateError, "", "Cancelled")
		if n := t.Node(nodeID); n != nil {
			return []*Node{n}
		}
	}
	return nil
}

// CancelBranch cancels node and every descendant's queued/running task.
func (m *QueueManager) CancelBranch(nodeID string) []*Node {
	t := m.TreeForNode(nodeID)
	if t == nil {
		return nil
	}
	affected := m.CancelNode(nodeID)
	for _, d := range t.Descendants(nodeID) {
		affected = append(affected, m.CancelNode(d.ID)...)
	}
	return affected
}

// CancelAll cancels every running or pending task in every tree.
func (m *QueueManager) CancelAll() []*Node {
	m.mu.Lock()
	roots := make([]string, 0, len(m.trees))
	for root := range m.trees {
		roots = append(roots, root)
	}
	m.mu.Unlock()

	var affected []*Node
	for _, rootID := range roots {
		m.mu.Lock()
		t := m.trees[rootID]
		m.mu.Unlock()
		if t == nil {
			continue
		}
		for _, n := range t.AllNodes() {
			if n.State == StatePending || n.State == StateInProgress {
				affected = append(affected, m.CancelNode(n.ID)...)
			}
		}
	}
	return affected
}

// MarkNodeError transitions node to ERROR with msg. When propagate is true,
// every PENDING descendant is also marked ERROR ("parent failed") and
// removed from its queue. Returns node itself followed by any propagated
// descendants, mirroring the Python original's affected list.
func (m *QueueManager) MarkNodeError(nodeID, msg string, propagate bool) []*Node {
	t := m.TreeForNode(nodeID)
	if t == nil {
		return nil
	}
	_ = t.UpdateState(nodeID, StateError, "", msg)
	var affected []*Node
	if n := t.Node(nodeID); n != nil {
		affected = append(affected, n)
	}
	if !propagate {
		return affected
	}
	for _, d := range t.Descendants(nodeID) {
		if d.State != StatePending {
			continue
		}
		t.RemoveFromQueue(d.ID)
		_ = t.UpdateState(d.ID, StateError, "", "parent failed")
		affected = append(affected, d)
	}
	return affected
}

// RemoveBranch purges node and its descendants from the tree and the flat
// index. Reports whether the entire tree (the root) was removed.
func (m *QueueManager) RemoveBranch(nodeID string) (removed []*Node, rootID string, removedEntireTree bool) {
	t := m.TreeForNode(nodeID)
	if t == nil {
		return nil, "", false
	}
	rootID = t.RootID

	node := t.Node(nodeID)
	if node == nil {
		return nil, rootID, false
	}
	removed = append([]*Node{node}, t.Descendants(nodeID)...)

	ids := make([]string, len(removed))
	for i, n := range removed {
		ids[i] = n.ID
	}
	t.RemoveNodes(ids)

	m.mu.Lock()
	for _, id := range ids {
		delete(m.nodeIndex, id)
	}
	m.mu.Unlock()

	if nodeID == rootID && t.Empty() {
		m.mu.Lock()
		delete(m.trees, rootID)
		m.mu.Unlock()
		removedEntireTree = true
	}

	return removed, rootID, removedEntireTree
}

type nodeNotFoundError struct{ id string }

func (e *nodeNotFoundError) Error() string { return "tree: node not found: " + e.id }

func errNoSuchNode(id string) error { return &nodeNotFoundError{id: id} }
