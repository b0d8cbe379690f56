package analytics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/platform/auth"
)

type mockRepo struct {
	countRows    []CountRow
	locationRows []LocationRow
	failSnapshot map[uuid.UUID]bool
	saved        map[uuid.UUID]*Analytic
	staleCalls   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{failSnapshot: make(map[uuid.UUID]bool), saved: make(map[uuid.UUID]*Analytic)}
}

func (m *mockRepo) CountRows(context.Context, time.Time) ([]CountRow, error) { return m.countRows, nil }

func (m *mockRepo) LocationRows(context.Context) ([]LocationRow, error) { return m.locationRows, nil }

func (m *mockRepo) Snapshots(_ context.Context, subtree []uuid.UUID, frames []TimeFrame, _ time.Time) ([]MonitoreeSnapshot, error) {
	if m.failSnapshot[subtree[0]] {
		return nil, errors.New("connection reset")
	}
	var out []MonitoreeSnapshot
	for _, f := range frames {
		out = append(out, MonitoreeSnapshot{Status: WorkflowExposure, TimeFrame: f.Label, NewEnrollments: len(subtree)})
	}
	return out, nil
}

func (m *mockRepo) Save(_ context.Context, a *Analytic) error {
	a.ID = uuid.New()
	m.saved[a.JurisdictionID] = a
	return nil
}

func (m *mockRepo) Latest(_ context.Context, id uuid.UUID) (*Analytic, error) {
	a, ok := m.saved[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *mockRepo) DeleteStale(context.Context) (int64, error) {
	m.staleCalls++
	return 3, nil
}

type staticTree struct {
	all []*jurisdiction.Jurisdiction
}

func (s staticTree) Tree(context.Context) (*jurisdiction.Tree, error) {
	return jurisdiction.NewTree(s.all)
}

type nodes struct {
	usa, state1, state2, countyA, countyB *jurisdiction.Jurisdiction
}

func sampleNodes() (staticTree, nodes) {
	mk := func(name string, parent *jurisdiction.Jurisdiction) *jurisdiction.Jurisdiction {
		j := &jurisdiction.Jurisdiction{ID: uuid.New(), Name: name, Path: name}
		if parent != nil {
			pid := parent.ID
			j.ParentID = &pid
			j.Path = parent.Path + ", " + name
		}
		return j
	}
	var n nodes
	n.usa = mk("USA", nil)
	n.state1 = mk("State 1", n.usa)
	n.state2 = mk("State 2", n.usa)
	n.countyA = mk("County A", n.state1)
	n.countyB = mk("County B", n.state1)
	return staticTree{all: []*jurisdiction.Jurisdiction{n.usa, n.state1, n.state2, n.countyA, n.countyB}}, n
}

var totalKey = CountKey{Status: WorkflowExposure, ActiveMonitoring: true, CategoryType: CategoryOverallTotal, Category: "Total", RiskLevel: "High"}

func newTestService() (*Service, *mockRepo, nodes) {
	trees, n := sampleNodes()
	repo := newMockRepo()
	repo.countRows = []CountRow{
		{JurisdictionID: n.countyA.ID, Key: totalKey, Total: 2},
		{JurisdictionID: n.countyB.ID, Key: totalKey, Total: 3},
		{JurisdictionID: n.state1.ID, Key: totalKey, Total: 1},
		{JurisdictionID: n.state2.ID, Key: totalKey, Total: 4},
		{JurisdictionID: n.state2.ID, Key: CountKey{Status: WorkflowIsolation, CategoryType: CategoryOverallTotal, Category: "Total", RiskLevel: "Missing"}, Total: 7},
	}
	repo.locationRows = []LocationRow{
		{JurisdictionID: n.countyA.ID, Workflow: WorkflowExposure, State: "Maine", County: "York", Total: 2},
		{JurisdictionID: n.countyB.ID, Workflow: WorkflowExposure, State: "Maine", County: "Knox", Total: 3},
	}
	svc := NewService(repo, trees, nil, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 20, 3, 0, 0, 0, time.UTC) }
	return svc, repo, n
}

func totalOf(a *Analytic, key CountKey) int {
	for _, c := range a.Counts {
		if c.CountKey == key {
			return c.Total
		}
	}
	return 0
}

func TestRollUp(t *testing.T) {
	trees, n := sampleNodes()
	tree, err := trees.Tree(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	own := map[uuid.UUID]map[string]int{
		n.countyA.ID: {"x": 2},
		n.countyB.ID: {"x": 3, "y": 1},
		n.state1.ID:  {"x": 1},
		n.state2.ID:  {"x": 4},
	}
	got := rollUp(tree, own)

	tests := []struct {
		name string
		id   uuid.UUID
		x, y int
	}{
		{"leaf", n.countyA.ID, 2, 0},
		{"state with counties", n.state1.ID, 6, 1},
		{"state without counties", n.state2.ID, 4, 0},
		{"root", n.usa.ID, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got[tt.id]["x"] != tt.x || got[tt.id]["y"] != tt.y {
				t.Errorf("got x=%d y=%d, want x=%d y=%d", got[tt.id]["x"], got[tt.id]["y"], tt.x, tt.y)
			}
		})
	}
}

func TestGroupLocations_BothLevels(t *testing.T) {
	id := uuid.New()
	got := groupLocations([]LocationRow{
		{JurisdictionID: id, Workflow: WorkflowExposure, State: "Maine", County: "York", Total: 2},
		{JurisdictionID: id, Workflow: WorkflowExposure, State: "Maine", County: "Knox", Total: 3},
	})[id]

	if got[MapKey{Level: LevelState, Workflow: WorkflowExposure, State: "Maine"}] != 5 {
		t.Errorf("expected state total 5, got %v", got)
	}
	if got[MapKey{Level: LevelCounty, Workflow: WorkflowExposure, State: "Maine", County: "Knox"}] != 3 {
		t.Errorf("expected county total 3, got %v", got)
	}
}

func TestCache(t *testing.T) {
	svc, repo, n := newTestService()

	res, err := svc.Cache(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Jurisdictions != 5 || res.Created != 5 || len(res.Failures) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Deleted != 3 || repo.staleCalls != 1 {
		t.Errorf("expected stale analytics deleted once, got %d calls", repo.staleCalls)
	}

	usa := repo.saved[n.usa.ID]
	if got := totalOf(usa, totalKey); got != 10 {
		t.Errorf("expected rolled up total 10 at root, got %d", got)
	}
	if got := totalOf(repo.saved[n.state1.ID], totalKey); got != 6 {
		t.Errorf("expected State 1 total 6, got %d", got)
	}
	if len(usa.Snapshots) != len(TimeFrames) || usa.Snapshots[0].NewEnrollments != 5 {
		t.Errorf("expected snapshots over the whole subtree, got %+v", usa.Snapshots)
	}
	if !usa.CreatedAt.Equal(svc.now()) {
		t.Error("expected analytic stamped with run time")
	}

	var stateMaps int
	for _, m := range repo.saved[n.state1.ID].Maps {
		if m.Level == LevelState {
			stateMaps++
			if m.Total != 5 {
				t.Errorf("expected Maine total 5, got %d", m.Total)
			}
		}
	}
	if stateMaps != 1 {
		t.Errorf("expected one state map row, got %d", stateMaps)
	}
}

func TestCache_ContinuesAfterFailure(t *testing.T) {
	svc, repo, n := newTestService()
	repo.failSnapshot[n.state2.ID] = true

	res, err := svc.Cache(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Created != 4 || len(res.Failures) != 1 {
		t.Fatalf("expected 4 created and 1 failure, got %+v", res)
	}
	if res.Failures[0].JurisdictionID != n.state2.ID || res.Failures[0].Path != "USA, State 2" {
		t.Errorf("unexpected failure %+v", res.Failures[0])
	}
	if _, ok := repo.saved[n.countyB.ID]; !ok {
		t.Error("expected jurisdictions after the failure to be cached")
	}
}

func TestHandler_GetLatest(t *testing.T) {
	svc, _, n := newTestService()
	if _, err := svc.Cache(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(svc)
	e := echo.New()

	tests := []struct {
		name   string
		id     string
		scope  *jurisdiction.Jurisdiction
		status int
	}{
		{"own subtree", n.countyA.ID.String(), n.state1, http.StatusOK},
		{"unrestricted", n.usa.ID.String(), nil, http.StatusOK},
		{"outside scope", n.state2.ID.String(), n.state1, http.StatusForbidden},
		{"unknown", uuid.NewString(), nil, http.StatusNotFound},
		{"bad id", "x", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := &auth.Claims{Roles: []string{auth.RoleAnalyst}}
			if tt.scope != nil {
				claims.JurisdictionID = tt.scope.ID.String()
			}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(auth.WithUser(context.Background(), claims))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("jurisdiction_id")
			c.SetParamValues(tt.id)

			err := h.GetLatest(c)
			if tt.status == http.StatusOK {
				if err != nil || rec.Code != http.StatusOK {
					t.Fatalf("expected 200, got %v %d", err, rec.Code)
				}
				return
			}
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.status {
				t.Errorf("expected %d, got %v", tt.status, err)
			}
		})
	}
}
