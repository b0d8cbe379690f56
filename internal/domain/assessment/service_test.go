package assessment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/domain/patient/patienttest"
	"github.com/casewatch/casewatch/internal/platform/auth"
)

type mockRepo struct {
	items []*Assessment
	labs  []*Laboratory
}

func (m *mockRepo) Create(_ context.Context, a *Assessment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.items = append(m.items, a)
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	var out []*Assessment
	for _, a := range m.items {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByPatients(_ context.Context, ids []uuid.UUID) ([]*Assessment, error) {
	want := make(map[uuid.UUID]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []*Assessment
	for _, a := range m.items {
		if want[a.PatientID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateLab(_ context.Context, l *Laboratory) error {
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	m.labs = append(m.labs, l)
	return nil
}

func (m *mockRepo) ListLabs(_ context.Context, patientID uuid.UUID) ([]*Laboratory, error) {
	var out []*Laboratory
	for _, l := range m.labs {
		if l.PatientID == patientID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	patients *patienttest.Repo
	juris    *patienttest.Jurisdictions
	county   uuid.UUID
}

func newTestService() *fixture {
	f := &fixture{repo: &mockRepo{}, patients: patienttest.NewRepo(), juris: patienttest.NewJurisdictions()}
	f.county = f.juris.Add("County", nil).ID
	psvc := patient.NewService(f.patients, f.juris, &patienttest.Recorder{}, nil, patient.DefaultRules())
	f.svc = NewService(f.repo, psvc, nil)
	return f
}

func (f *fixture) monitoree(mutate func(p *patient.Patient)) *patient.Patient {
	p := &patient.Patient{JurisdictionID: f.county, Monitoring: true, TimeZone: "UTC"}
	if mutate != nil {
		mutate(p)
	}
	return f.patients.Add(p)
}

func TestCreate_AsymptomaticUpdatesLatestAssessment(t *testing.T) {
	f := newTestService()
	p := f.monitoree(nil)

	a := &Assessment{ReportedSymptoms: []Symptom{{Name: "cough", Value: false}}}
	if err := f.svc.Create(context.Background(), p.ID, a, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Symptomatic || a.WhoReported != WhoMonitoree {
		t.Errorf("unexpected assessment: %+v", a)
	}
	stored := f.patients.Get(p.ID)
	if stored.LatestAssessmentAt == nil || !stored.LatestAssessmentAt.Equal(a.CreatedAt) {
		t.Errorf("expected latest assessment stamped, got %v", stored.LatestAssessmentAt)
	}
	if stored.SymptomOnset != nil || stored.LatestFeverOrFeverReducerAt != nil {
		t.Error("expected no onset or fever for an asymptomatic report")
	}
}

func TestCreate_FirstSymptomaticReportSetsOnset(t *testing.T) {
	f := newTestService()
	p := f.monitoree(nil)

	a := &Assessment{ReportedSymptoms: []Symptom{{Name: SymptomFever, Value: true}}}
	if err := f.svc.Create(context.Background(), p.ID, a, "nurse@example.org"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := f.patients.Get(p.ID)
	if !a.Symptomatic || stored.SymptomOnset == nil {
		t.Fatal("expected symptomatic report to set symptom onset")
	}
	if stored.LatestFeverOrFeverReducerAt == nil {
		t.Error("expected fever stamped")
	}
	onset := *stored.SymptomOnset

	later := &Assessment{ReportedSymptoms: []Symptom{{Name: "cough", Value: true}}}
	if err := f.svc.Create(context.Background(), p.ID, later, "nurse@example.org"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.patients.Get(p.ID).SymptomOnset.Equal(onset) {
		t.Error("expected existing symptom onset kept")
	}
}

func TestCreate_Rejects(t *testing.T) {
	f := newTestService()
	p := f.monitoree(nil)
	purged := f.monitoree(func(p *patient.Patient) { p.Purged = true; p.Monitoring = false })

	if err := f.svc.Create(context.Background(), p.ID, &Assessment{ReportedSymptoms: []Symptom{{Value: true}}}, ""); err == nil {
		t.Error("expected error for unnamed symptom")
	}
	err := f.svc.Create(context.Background(), purged.ID, &Assessment{}, "")
	if !errors.Is(err, patient.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for purged record, got %v", err)
	}
	if err := f.svc.Create(context.Background(), uuid.New(), &Assessment{}, ""); !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmit(t *testing.T) {
	f := newTestService()
	token := "abc123"
	head := f.monitoree(func(p *patient.Patient) { p.SubmissionToken = &token })
	dep := f.monitoree(func(p *patient.Patient) { p.ResponderID = head.ID })
	stranger := f.monitoree(nil)

	if err := f.svc.Submit(context.Background(), token, uuid.Nil, &Assessment{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Submit(context.Background(), token, dep.ID, &Assessment{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.patients.Get(head.ID).LatestAssessmentAt == nil || f.patients.Get(dep.ID).LatestAssessmentAt == nil {
		t.Error("expected head and dependent reports recorded")
	}
	if err := f.svc.Submit(context.Background(), token, stranger.ID, &Assessment{}); !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected ErrNotFound reporting for another household, got %v", err)
	}
	if err := f.svc.Submit(context.Background(), "wrong", uuid.Nil, &Assessment{}); !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown token, got %v", err)
	}
}

func TestSubmit_RejectsDependentToken(t *testing.T) {
	f := newTestService()
	head := f.monitoree(nil)
	depToken := "dep-token"
	dep := f.monitoree(func(p *patient.Patient) { p.ResponderID = head.ID; p.SubmissionToken = &depToken })
	sibling := f.monitoree(func(p *patient.Patient) { p.ResponderID = head.ID })

	for _, id := range []uuid.UUID{uuid.Nil, head.ID, sibling.ID} {
		if err := f.svc.Submit(context.Background(), depToken, id, &Assessment{}); !errors.Is(err, patient.ErrNotFound) {
			t.Errorf("expected ErrNotFound reporting for %s with a dependent's token, got %v", id, err)
		}
	}
	for _, id := range []uuid.UUID{head.ID, dep.ID, sibling.ID} {
		if f.patients.Get(id).LatestAssessmentAt != nil {
			t.Errorf("expected no report recorded for %s", id)
		}
	}
}

func TestAddLab_KeepsEarliestPositive(t *testing.T) {
	f := newTestService()
	p := f.monitoree(nil)
	ctx := context.Background()
	first := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	if err := f.svc.AddLab(ctx, p.ID, &Laboratory{LabType: "PCR", Result: ResultPositive, SpecimenCollection: &later}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.AddLab(ctx, p.ID, &Laboratory{LabType: "PCR", Result: ResultPositive, SpecimenCollection: &first}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.AddLab(ctx, p.ID, &Laboratory{LabType: "Antigen", Result: "negative"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := f.patients.Get(p.ID).FirstPositiveLabAt
	if got == nil || !got.Equal(first) {
		t.Errorf("expected first positive lab %s, got %v", first, got)
	}
	if labs, _ := f.svc.ListLabs(ctx, p.ID); len(labs) != 3 {
		t.Errorf("expected 3 labs, got %d", len(labs))
	}
	if err := f.svc.AddLab(ctx, p.ID, &Laboratory{}); err == nil {
		t.Error("expected error without lab type")
	}
}

func TestHandler_CreateAssessment(t *testing.T) {
	f := newTestService()
	h := NewHandler(f.svc)
	e := echo.New()
	p := f.monitoree(nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reported_symptoms":[{"name":"fever","value":true}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	claims := &auth.Claims{Email: "nurse@example.org", JurisdictionID: f.county.String()}
	req = req.WithContext(auth.WithUser(context.Background(), claims))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.CreateAssessment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(f.repo.items) != 1 || f.repo.items[0].WhoReported != "nurse@example.org" {
		t.Errorf("expected report attributed to caller, got %+v", f.repo.items)
	}
}

func TestHandler_CreateAssessment_OtherJurisdiction(t *testing.T) {
	f := newTestService()
	h := NewHandler(f.svc)
	e := echo.New()
	p := f.monitoree(nil)
	other := f.juris.Add("Elsewhere", nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(context.Background(), &auth.Claims{JurisdictionID: other.ID.String()}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	err := h.CreateAssessment(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_SubmitReport(t *testing.T) {
	f := newTestService()
	h := NewHandler(f.svc)
	e := echo.New()
	token := "tok"
	f.monitoree(func(p *patient.Patient) { p.SubmissionToken = &token })

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reported_symptoms":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(token)
	if err := h.SubmitReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || len(f.repo.items) != 1 {
		t.Errorf("expected stored report, got code %d items %d", rec.Code, len(f.repo.items))
	}
}
