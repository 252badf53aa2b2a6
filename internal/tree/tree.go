package tree

import (
	"fmt"
	"sync"
)

// Tree is one conversation tree rooted at a platform message with no reply
// target. All operations are serialized by mu, per spec.md §4.8's "all
// serialized per-tree by a single tree mutex".
type Tree struct {
	mu sync.Mutex

	RootID string
	nodes  map[string]*Node
	queue  []string // pending node ids, FIFO
}

// New constructs an empty tree rooted at root.
func New(root *Node) *Tree {
	t := &Tree{
		RootID: root.ID,
		nodes:  map[string]*Node{root.ID: root},
	}
	return t
}

// AddRoot is New's counterpart for a tree that already exists conceptually
// but is being rebuilt from a persisted snapshot; kept separate from
// AddChild because a root has no parent-state check.
func (t *Tree) AddRoot(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.ID] = n
}

// AddChild attaches n as a child of parentID. Rejects attaching under a
// parent that doesn't exist or whose subtree has already failed terminally
// with an ERROR that was propagated (i.e. the parent itself is in ERROR).
func (t *Tree) AddChild(parentID string, n *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[parentID]
	if !ok {
		return fmt.Errorf("tree: parent node %q not found", parentID)
	}
	if parent.State == StateError {
		return fmt.Errorf("tree: cannot attach to node %q: parent is in error state", parentID)
	}

	n.ParentID = parentID
	t.nodes[n.ID] = n
	parent.Children = append(parent.Children, n.ID)
	return nil
}

// Node returns the node with id, or nil.
func (t *Tree) Node(id string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes[id]
}

// UpdateState transitions node id's state, enforcing that a terminal state
// is never overwritten by a non-terminal one.
func (t *Tree) UpdateState(id string, newState State, sessionID, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("tree: node %q not found", id)
	}
	if n.State.IsTerminal() && !newState.IsTerminal() {
		return fmt.Errorf("tree: node %q is already terminal (%s), refusing transition to %s", id, n.State, newState)
	}

	n.State = newState
	if sessionID != "" {
		n.SessionID = sessionID
	}
	if errMsg != "" {
		n.ErrorMessage = errMsg
	}
	return nil
}

// Enqueue appends id to the FIFO pending queue.
func (t *Tree) Enqueue(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, id)
}

// Dequeue pops the next pending node id, but only when no node in the tree
// is currently IN_PROGRESS.
func (t *Tree) Dequeue() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, n := range t.nodes {
		if n.State == StateInProgress {
			return ""
		}
	}
	if len(t.queue) == 0 {
		return ""
	}
	id := t.queue[0]
	t.queue = t.queue[1:]
	return id
}

// RemoveFromQueue removes id from the pending queue without dequeuing it,
// used when cancelling a PENDING node.
func (t *Tree) RemoveFromQueue(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, qid := range t.queue {
		if qid == id {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return true
		}
	}
	return false
}

// GetParentSessionID walks ancestors from id until it finds a COMPLETED
// node carrying a session id — the fork source per spec.md §4.8.
func (t *Tree) GetParentSessionID(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.nodes[id]
	if cur == nil {
		return ""
	}
	for cur.ParentID != "" {
		parent, ok := t.nodes[cur.ParentID]
		if !ok {
			return ""
		}
		if parent.State == StateCompleted && parent.SessionID != "" {
			return parent.SessionID
		}
		cur = parent
	}
	return ""
}

// Descendants returns every node reachable from id, in breadth-first order,
// not including id itself.
func (t *Tree) Descendants(id string) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.descendantsLocked(id)
}

func (t *Tree) descendantsLocked(id string) []*Node {
	var out []*Node
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := t.nodes[cur]
		if !ok {
			continue
		}
		for _, childID := range n.Children {
			if child, ok := t.nodes[childID]; ok {
				out = append(out, child)
				queue = append(queue, childID)
			}
		}
	}
	return out
}

// QueueSnapshot returns the current pending queue order, for UI
// repositioning.
func (t *Tree) QueueSnapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.queue))
	copy(out, t.queue)
	return out
}

// QueueLen reports how many nodes are currently pending.
func (t *Tree) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// SetCancelReason records why id is about to be cancelled, read by the
// Handler's process_node to choose between "Stopped." and "Cancelled".
func (t *Tree) SetCancelReason(id, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		n.CancelReason = reason
	}
}

// AllNodes returns every node in the tree; used for snapshotting and
// cancel_all-style sweeps.
func (t *Tree) AllNodes() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// RemoveNodes deletes the given node ids from the tree's index and queue,
// and unlinks them from their parent's children slice.
func (t *Tree) RemoveNodes(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	toRemove := make(map[string]bool, len(ids))
	for _, id := range ids {
		toRemove[id] = true
	}

	for _, n := range t.nodes {
		if toRemove[n.ID] {
			continue
		}
		filtered := n.Children[:0]
		for _, c := range n.Children {
			if !toRemove[c] {
				filtered = append(filtered, c)
			}
		}
		n.Children = filtered
	}

	for id := range toRemove {
		delete(t.nodes, id)
	}

	filteredQueue := t.queue[:0]
	for _, id := range t.queue {
		if !toRemove[id] {
			filteredQueue = append(filteredQueue, id)
		}
	}
	t.queue = filteredQueue
}

// Empty reports whether the tree has no nodes left (the root was removed).
func (t *Tree) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes) == 0
}
