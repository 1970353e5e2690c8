// Package thought records the hierarchical reasoning trail of each goal.
// The tree is a forest keyed by goal id: nodes live in an arena indexed by
// thought id and reference their parent by id, never by pointer, so there
// are no ownership cycles. Children are computed from the index.
package thought

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"neuroforge/internal/kv"
	"neuroforge/internal/logging"
)

// Type classifies a thought node.
type Type string

const (
	TypeGoal      Type = "goal"
	TypeReasoning Type = "reasoning"
	TypeAction    Type = "action"
	TypeResult    Type = "result"
)

// Status is the lifecycle state of a thought. A thought may progress
// active -> completed or active -> failed; no other transitions.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Thought is a node of the tree. ParentID is empty iff the node is the
// goal's root.
type Thought struct {
	ID        string         `json:"thought_id"`
	GoalID    string         `json:"goal_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Content   string         `json:"content"`
	Type      Type           `json:"thought_type"`
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

const kvNamespace = "thoughts"

// Tree is the arena of thoughts. The in-memory index is authoritative; each
// mutation is mirrored to the KV store best-effort (one record per goal).
type Tree struct {
	mu     sync.RWMutex
	nodes  map[string]*Thought
	byGoal map[string][]string // goal id -> thought ids in append order
	roots  map[string]string   // goal id -> root thought id
	store  kv.Store            // optional
}

// NewTree creates a tree persisting to store. A nil store keeps the tree
// memory-only.
func NewTree(store kv.Store) *Tree {
	return &Tree{
		nodes:  make(map[string]*Thought),
		byGoal: make(map[string][]string),
		roots:  make(map[string]string),
		store:  store,
	}
}

// CreateRoot starts a goal's tree. The root is created active and completed
// or failed when the goal terminates.
func (t *Tree) CreateRoot(goalID, content string) *Thought {
	root := &Thought{
		ID:        uuid.NewString(),
		GoalID:    goalID,
		Content:   content,
		Type:      TypeGoal,
		Status:    StatusActive,
		Timestamp: time.Now(),
	}

	t.mu.Lock()
	t.nodes[root.ID] = root
	t.byGoal[goalID] = append(t.byGoal[goalID], root.ID)
	t.roots[goalID] = root.ID
	t.mu.Unlock()

	t.persist(goalID)
	return copyThought(root)
}

// Add appends a thought under parentID. An empty goalID is inherited from
// the parent.
func (t *Tree) Add(parentID, content string, typ Type, goalID string, metadata map[string]any) *Thought {
	t.mu.Lock()
	if goalID == "" {
		if parent, ok := t.nodes[parentID]; ok {
			goalID = parent.GoalID
		}
	}
	node := &Thought{
		ID:        uuid.NewString(),
		GoalID:    goalID,
		ParentID:  parentID,
		Content:   content,
		Type:      typ,
		Status:    StatusActive,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	t.nodes[node.ID] = node
	t.byGoal[goalID] = append(t.byGoal[goalID], node.ID)
	t.mu.Unlock()

	t.persist(goalID)
	return copyThought(node)
}

// Complete marks the goal's root completed. Idempotent: a terminal root is
// left untouched.
func (t *Tree) Complete(goalID string, result string) {
	t.finish(goalID, StatusCompleted, result)
}

// Fail marks the goal's root failed. Idempotent.
func (t *Tree) Fail(goalID string, errText string) {
	t.finish(goalID, StatusFailed, errText)
}

func (t *Tree) finish(goalID string, status Status, detail string) {
	t.mu.Lock()
	rootID, ok := t.roots[goalID]
	if !ok {
		t.mu.Unlock()
		return
	}
	root := t.nodes[rootID]
	if root.Status != StatusActive {
		// Terminal transitions happen exactly once.
		t.mu.Unlock()
		return
	}
	root.Status = status
	if detail != "" {
		if root.Metadata == nil {
			root.Metadata = make(map[string]any)
		}
		if status == StatusFailed {
			root.Metadata["error"] = detail
		} else {
			root.Metadata["result"] = detail
		}
	}
	t.mu.Unlock()

	t.persist(goalID)
	logging.Get(logging.CategoryThought).Debug("goal %s root -> %s", goalID, status)
}

// Thoughts returns a goal's thoughts ordered by timestamp.
func (t *Tree) Thoughts(goalID string) []*Thought {
	t.mu.RLock()
	ids := t.byGoal[goalID]
	out := make([]*Thought, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyThought(t.nodes[id]))
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Root returns the goal's root thought, or nil.
func (t *Tree) Root(goalID string) *Thought {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rootID, ok := t.roots[goalID]
	if !ok {
		return nil
	}
	return copyThought(t.nodes[rootID])
}

// Children returns the direct children of a thought, computed from the
// goal index.
func (t *Tree) Children(thoughtID string) []*Thought {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[thoughtID]
	if !ok {
		return nil
	}
	var out []*Thought
	for _, id := range t.byGoal[node.GoalID] {
		if t.nodes[id].ParentID == thoughtID {
			out = append(out, copyThought(t.nodes[id]))
		}
	}
	return out
}

// persist mirrors a goal's thoughts to the KV store. Failures are logged and
// otherwise ignored; the in-memory record stays authoritative.
func (t *Tree) persist(goalID string) {
	if t.store == nil {
		return
	}
	t.mu.RLock()
	ids := t.byGoal[goalID]
	snapshot := make([]any, 0, len(ids))
	for _, id := range ids {
		n := t.nodes[id]
		snapshot = append(snapshot, map[string]any{
			"thought_id":   n.ID,
			"goal_id":      n.GoalID,
			"parent_id":    n.ParentID,
			"content":      n.Content,
			"thought_type": string(n.Type),
			"status":       string(n.Status),
			"timestamp":    n.Timestamp.Format(time.RFC3339Nano),
			"metadata":     n.Metadata,
		})
	}
	t.mu.RUnlock()

	if err := t.store.Set(kvNamespace, goalID, snapshot, 0); err != nil {
		logging.Get(logging.CategoryThought).Warn("persist goal %s: %v", goalID, err)
	}
}

func copyThought(n *Thought) *Thought {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}
