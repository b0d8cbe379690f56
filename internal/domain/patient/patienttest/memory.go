// Package patienttest provides an in-memory patient.Repository for tests.
package patienttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/domain/patient"
)

type Repo struct {
	mu        sync.Mutex
	Patients  map[uuid.UUID]*patient.Patient
	Transfers []*patient.Transfer
	// DependentsDeleted lists ids passed to DeleteDependents.
	DependentsDeleted []uuid.UUID
	// FailUpdate makes Update fail for the given ids.
	FailUpdate map[uuid.UUID]error
}

func NewRepo() *Repo {
	return &Repo{
		Patients:   make(map[uuid.UUID]*patient.Patient),
		FailUpdate: make(map[uuid.UUID]error),
	}
}

// Add stores p as is, assigning an id and self responder when missing.
func (r *Repo) Add(p *patient.Patient) *patient.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ResponderID == uuid.Nil {
		p.ResponderID = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	r.Patients[p.ID] = p
	return p
}

func (r *Repo) Create(_ context.Context, p *patient.Patient) error {
	p.ID = uuid.Nil
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.Add(p)
	return nil
}

func (r *Repo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *Repo) GetForUpdate(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	return r.GetByID(ctx, id)
}

func (r *Repo) GetBySubmissionToken(_ context.Context, token string) (*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Patients {
		if p.SubmissionToken != nil && *p.SubmissionToken == token && !p.Purged {
			cp := *p
			return &cp, nil
		}
	}
	return nil, patient.ErrNotFound
}

func (r *Repo) Update(_ context.Context, p *patient.Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailUpdate[p.ID]; err != nil {
		return err
	}
	cp := *p
	cp.Purged = r.Patients[p.ID] != nil && r.Patients[p.ID].Purged
	cp.UpdatedAt = time.Now()
	r.Patients[p.ID] = &cp
	return nil
}

func (r *Repo) sorted(keep func(p *patient.Patient) bool) []*patient.Patient {
	var out []*patient.Patient
	for _, p := range r.Patients {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func page(items []*patient.Patient, after uuid.UUID, limit int) []*patient.Patient {
	var out []*patient.Patient
	for _, p := range items {
		if after != uuid.Nil && p.ID.String() <= after.String() {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}

func inScope(ids []uuid.UUID, id uuid.UUID) bool {
	if ids == nil {
		return true
	}
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (r *Repo) List(_ context.Context, f patient.ListFilter, limit, offset int) ([]*patient.Patient, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.sorted(func(p *patient.Patient) bool {
		if p.Purged || p.Monitoring == f.Closed || !inScope(f.JurisdictionIDs, p.JurisdictionID) {
			return false
		}
		switch f.Workflow {
		case "exposure":
			return !p.Isolation
		case "isolation":
			return p.Isolation
		}
		return true
	})
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (r *Repo) ListHousehold(_ context.Context, responderID uuid.UUID) ([]*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(p *patient.Patient) bool { return p.ResponderID == responderID }), nil
}

func (r *Repo) CreateTransfer(_ context.Context, t *patient.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	r.Transfers = append(r.Transfers, t)
	return nil
}

func (r *Repo) ListCloseCandidates(_ context.Context, after uuid.UUID, limit int) ([]*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.sorted(func(p *patient.Patient) bool {
		return p.Monitoring && !p.Purged && !p.Isolation && !p.ContinuousExposure &&
			p.SymptomOnset == nil && p.LatestAssessmentAt != nil
	}), after, limit), nil
}

func (r *Repo) ListPurgeCandidates(_ context.Context, closedBefore time.Time, after uuid.UUID, limit int) ([]*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.sorted(func(p *patient.Patient) bool {
		return !p.Monitoring && !p.Purged && p.PurgeReference().Before(closedBefore)
	}), after, limit), nil
}

func (r *Repo) ListReminderCandidates(_ context.Context, after uuid.UUID, limit int) ([]*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.sorted(func(p *patient.Patient) bool {
		return p.Monitoring && !p.Purged && p.IsHead() &&
			p.PreferredContactMethod != patient.ContactOptOut && p.PreferredContactMethod != patient.ContactUnknown
	}), after, limit), nil
}

func (r *Repo) ListForExport(_ context.Context, jurisdictionIDs []uuid.UUID, after uuid.UUID, limit int) ([]*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.sorted(func(p *patient.Patient) bool {
		return !p.Purged && inScope(jurisdictionIDs, p.JurisdictionID)
	}), after, limit), nil
}

func (r *Repo) CountPurgeCandidates(_ context.Context, closedBefore time.Time) (map[uuid.UUID]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]int)
	for _, p := range r.Patients {
		if !p.Monitoring && !p.Purged && p.PurgeReference().Before(closedBefore) {
			out[p.JurisdictionID]++
		}
	}
	return out, nil
}

func (r *Repo) DeleteDependents(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DependentsDeleted = append(r.DependentsDeleted, id)
	return nil
}

func (r *Repo) MarkPurged(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.Patients[id]; ok {
		p.Purged = true
	}
	return nil
}

// Get returns the stored record without copying, for assertions.
func (r *Repo) Get(id uuid.UUID) *patient.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Patients[id]
}
