package patienttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/domain/history"
	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
)

// Jurisdictions is a fixed set of jurisdictions with explicit subtrees.
type Jurisdictions struct {
	ByID     map[uuid.UUID]*jurisdiction.Jurisdiction
	Subtrees map[uuid.UUID][]uuid.UUID
}

func NewJurisdictions() *Jurisdictions {
	return &Jurisdictions{
		ByID:     make(map[uuid.UUID]*jurisdiction.Jurisdiction),
		Subtrees: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Add registers a jurisdiction under parent (nil for a root) and extends
// the subtree of every ancestor.
func (j *Jurisdictions) Add(name string, parent *jurisdiction.Jurisdiction) *jurisdiction.Jurisdiction {
	n := &jurisdiction.Jurisdiction{ID: uuid.New(), Name: name, Path: name}
	if parent != nil {
		pid := parent.ID
		n.ParentID = &pid
		n.Path = parent.Path + ", " + name
	}
	j.ByID[n.ID] = n
	j.Subtrees[n.ID] = []uuid.UUID{n.ID}
	for p := n.ParentID; p != nil; p = j.ByID[*p].ParentID {
		j.Subtrees[*p] = append(j.Subtrees[*p], n.ID)
	}
	return n
}

func (j *Jurisdictions) Get(_ context.Context, id uuid.UUID) (*jurisdiction.Jurisdiction, error) {
	n, ok := j.ByID[id]
	if !ok {
		return nil, jurisdiction.ErrNotFound
	}
	return n, nil
}

func (j *Jurisdictions) Subtree(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	ids, ok := j.Subtrees[id]
	if !ok {
		return nil, jurisdiction.ErrNotFound
	}
	return ids, nil
}

func (j *Jurisdictions) List(context.Context) ([]*jurisdiction.Jurisdiction, error) {
	all := make([]*jurisdiction.Jurisdiction, 0, len(j.ByID))
	for _, n := range j.ByID {
		all = append(all, n)
	}
	sort.Slice(all, func(a, b int) bool { return all[a].Path < all[b].Path })
	return all, nil
}

func (j *Jurisdictions) Tree(context.Context) (*jurisdiction.Tree, error) {
	all := make([]*jurisdiction.Jurisdiction, 0, len(j.ByID))
	for _, n := range j.ByID {
		all = append(all, n)
	}
	return jurisdiction.NewTree(all)
}

// Recorder keeps history entries in memory.
type Recorder struct {
	mu      sync.Mutex
	Entries []*history.History
	Err     error
}

func (r *Recorder) Record(_ context.Context, patientID uuid.UUID, createdBy, historyType, comment string) (*history.History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	h := &history.History{
		ID: uuid.New(), PatientID: patientID, CreatedBy: createdBy,
		HistoryType: historyType, Comment: comment, CreatedAt: time.Now(),
	}
	r.Entries = append(r.Entries, h)
	return h, nil
}

// For returns the entries recorded for one monitoree.
func (r *Recorder) For(patientID uuid.UUID) []*history.History {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*history.History
	for _, h := range r.Entries {
		if h.PatientID == patientID {
			out = append(out, h)
		}
	}
	return out
}
