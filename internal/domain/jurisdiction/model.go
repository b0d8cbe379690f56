package jurisdiction

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("jurisdiction not found")

type Jurisdiction struct {
	ID        uuid.UUID  `json:"id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Email     *string    `json:"email,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Tree is an immutable in-memory view of the jurisdiction hierarchy.
type Tree struct {
	nodes    map[uuid.UUID]*Jurisdiction
	children map[uuid.UUID][]uuid.UUID
	roots    []uuid.UUID
}

// NewTree links jurisdictions by parent id. Every parent must be present
// and the graph must be acyclic.
func NewTree(all []*Jurisdiction) (*Tree, error) {
	t := &Tree{
		nodes:    make(map[uuid.UUID]*Jurisdiction, len(all)),
		children: make(map[uuid.UUID][]uuid.UUID),
	}
	for _, j := range all {
		t.nodes[j.ID] = j
	}
	for _, j := range all {
		if j.ParentID == nil {
			t.roots = append(t.roots, j.ID)
			continue
		}
		if _, ok := t.nodes[*j.ParentID]; !ok {
			return nil, fmt.Errorf("jurisdiction %s: unknown parent %s", j.ID, *j.ParentID)
		}
		t.children[*j.ParentID] = append(t.children[*j.ParentID], j.ID)
	}

	byName := func(ids []uuid.UUID) {
		sort.Slice(ids, func(a, b int) bool { return t.nodes[ids[a]].Name < t.nodes[ids[b]].Name })
	}
	byName(t.roots)
	for _, ids := range t.children {
		byName(ids)
	}

	// every node must be reachable from a root, otherwise there is a cycle
	if n := len(t.PostOrder()); n != len(all) {
		return nil, fmt.Errorf("jurisdiction hierarchy has a cycle (%d of %d reachable)", n, len(all))
	}
	return t, nil
}

func (t *Tree) Get(id uuid.UUID) (*Jurisdiction, bool) {
	j, ok := t.nodes[id]
	return j, ok
}

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Roots() []uuid.UUID { return t.roots }

func (t *Tree) Children(id uuid.UUID) []uuid.UUID { return t.children[id] }

// Subtree returns id followed by all of its descendants in pre-order.
func (t *Tree) Subtree(id uuid.UUID) []uuid.UUID {
	if _, ok := t.nodes[id]; !ok {
		return nil
	}
	out := []uuid.UUID{id}
	for _, c := range t.children[id] {
		out = append(out, t.Subtree(c)...)
	}
	return out
}

// Contains reports whether node lies in the subtree rooted at root.
func (t *Tree) Contains(root, node uuid.UUID) bool {
	if _, ok := t.nodes[node]; !ok {
		return false
	}
	if root == node {
		return true
	}
	for _, a := range t.Ancestors(node) {
		if a == root {
			return true
		}
	}
	return false
}

// Ancestors returns the chain from the root down to id's parent.
func (t *Tree) Ancestors(id uuid.UUID) []uuid.UUID {
	j, ok := t.nodes[id]
	if !ok {
		return nil
	}
	var chain []uuid.UUID
	for j.ParentID != nil {
		chain = append([]uuid.UUID{*j.ParentID}, chain...)
		j = t.nodes[*j.ParentID]
	}
	return chain
}

// PostOrder lists every node with children before their parent.
func (t *Tree) PostOrder() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(t.nodes))
	var visit func(id uuid.UUID)
	visit = func(id uuid.UUID) {
		for _, c := range t.children[id] {
			visit(c)
		}
		out = append(out, id)
	}
	for _, r := range t.roots {
		visit(r)
	}
	return out
}

// Path rebuilds the comma-joined name chain, e.g. "USA, State 1, County 2".
func (t *Tree) Path(id uuid.UUID) string {
	j, ok := t.nodes[id]
	if !ok {
		return ""
	}
	var names []string
	for _, a := range t.Ancestors(id) {
		names = append(names, t.nodes[a].Name)
	}
	return strings.Join(append(names, j.Name), ", ")
}

// All returns every jurisdiction in pre-order.
func (t *Tree) All() []*Jurisdiction {
	out := make([]*Jurisdiction, 0, len(t.nodes))
	for _, r := range t.roots {
		for _, id := range t.Subtree(r) {
			out = append(out, t.nodes[id])
		}
	}
	return out
}
