package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/casewatch/casewatch/internal/domain/assessment"
	"github.com/casewatch/casewatch/internal/domain/history"
	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/domain/patient/patienttest"
	"github.com/casewatch/casewatch/internal/platform/auth"
	"github.com/casewatch/casewatch/internal/platform/blobstore"
	"github.com/casewatch/casewatch/internal/platform/notification"
	"github.com/casewatch/casewatch/internal/platform/queue"
)

type mockRepo struct {
	items map[uuid.UUID]*Download
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Download)}
}

func (m *mockRepo) Create(_ context.Context, d *Download) error {
	d.ID = uuid.New()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.items[d.ID] = d
	return nil
}

func (m *mockRepo) GetByLookup(_ context.Context, lookup string) (*Download, error) {
	for _, d := range m.items {
		if d.Lookup == lookup {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockRepo) ListCreatedBefore(_ context.Context, before time.Time) ([]*Download, error) {
	var out []*Download
	for _, d := range m.items {
		if d.CreatedAt.Before(before) {
			out = append(out, d)
		}
	}
	return out, nil
}

type stubAssessments struct{}

func (stubAssessments) ListByPatients(_ context.Context, ids []uuid.UUID) ([]*assessment.Assessment, error) {
	var out []*assessment.Assessment
	for _, id := range ids {
		out = append(out, &assessment.Assessment{PatientID: id, WhoReported: assessment.WhoMonitoree,
			ReportedSymptoms: []assessment.Symptom{{Name: "cough", Value: true}}})
	}
	return out, nil
}

type stubHistories struct{}

func (stubHistories) ListByPatients(_ context.Context, ids []uuid.UUID) ([]*history.History, error) {
	var out []*history.History
	for _, id := range ids {
		out = append(out, &history.History{PatientID: id, CreatedBy: "u", HistoryType: history.TypeEnrollment, Comment: "enrolled"})
	}
	return out, nil
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	blobs    *blobstore.MemoryStore
	queue    *queue.MemoryQueue
	email    *notification.MockEmailSender
	patients *patienttest.Repo
	county   *jurisdiction.Jurisdiction
	other    *jurisdiction.Jurisdiction
}

func newTestService(opts Options) *fixture {
	juris := patienttest.NewJurisdictions()
	state := juris.Add("State", nil)
	f := &fixture{
		repo:     newMockRepo(),
		blobs:    blobstore.NewMemoryStore(),
		queue:    queue.NewMemoryQueue(10, zerolog.Nop()),
		email:    &notification.MockEmailSender{},
		patients: patienttest.NewRepo(),
		county:   juris.Add("County", state),
		other:    juris.Add("Other", nil),
	}
	psvc := patient.NewService(f.patients, juris, &patienttest.Recorder{}, nil, patient.DefaultRules())
	f.svc = NewService(Deps{
		Repo:          f.repo,
		Patients:      psvc,
		Assessments:   stubAssessments{},
		Histories:     stubHistories{},
		Jurisdictions: juris,
		Blobs:         f.blobs,
		Queue:         f.queue,
		Mailer:        notification.NewMailer(f.email, nil),
	}, opts, zerolog.Nop())
	f.svc.now = func() time.Time { return time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC) }
	return f
}

func defaultOptions() Options {
	return Options{
		PublicURL:        "https://casewatch.example.org/",
		BatchSize:        2,
		MaxLinksPerEmail: 2,
		MaxEmailBytes:    1 << 20,
		Retention:        24 * time.Hour,
	}
}

func (f *fixture) seed(n int, jurisdictionID uuid.UUID) {
	for i := 0; i < n; i++ {
		name := "Monitoree"
		f.patients.Add(&patient.Patient{JurisdictionID: jurisdictionID, Monitoring: true, FirstName: &name, TimeZone: "UTC"})
	}
}

func (f *fixture) blob(t *testing.T, d *Download) []byte {
	t.Helper()
	rc, err := f.blobs.Get(context.Background(), d.BlobKey)
	if err != nil {
		t.Fatalf("blob %s: %v", d.BlobKey, err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return data
}

func TestChunkLinks(t *testing.T) {
	link := func(n int) Link { return Link{Filename: strings.Repeat("f", n), URL: "u"} }
	five := []Link{link(1), link(1), link(1), link(1), link(1)}

	tests := []struct {
		name     string
		links    []Link
		maxLinks int
		maxBytes int
		want     []int
	}{
		{"by count", five, 2, 0, []int{2, 2, 1}},
		{"by size", five, 0, 2 * linkSize(link(1)), []int{2, 2, 1}},
		{"size wins over count", five, 10, 3 * linkSize(link(1)), []int{3, 2}},
		{"oversized link alone", []Link{link(1), link(500), link(1)}, 10, 100, []int{1, 1, 1}},
		{"no limits", five, 0, 0, []int{5}},
		{"empty", nil, 2, 100, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkLinks(tt.links, tt.maxLinks, tt.maxBytes)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(got), len(tt.want))
			}
			for i, c := range got {
				if len(c) != tt.want[i] {
					t.Errorf("chunk %d has %d links, want %d", i, len(c), tt.want[i])
				}
			}
		})
	}
}

func TestRun_CSVInBatches(t *testing.T) {
	f := newTestService(defaultOptions())
	f.seed(5, f.county.ID)

	res, err := f.svc.Run(context.Background(), Request{ID: uuid.New(), UserID: "u1", UserEmail: "a@example.org", Type: TypeCSVLinelist})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Records != 5 || res.Files != 3 || res.Emails != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if f.blobs.Len() != 3 || len(f.repo.items) != 3 {
		t.Errorf("expected 3 blobs and downloads, got %d and %d", f.blobs.Len(), len(f.repo.items))
	}

	calls := f.email.Calls()
	if len(calls) != 2 || !strings.Contains(calls[0].Subject, "(1 of 2)") {
		t.Fatalf("expected two link emails, got %+v", calls)
	}
	if !strings.Contains(calls[0].Body, "https://casewatch.example.org/api/v1/downloads/") ||
		!strings.Contains(calls[0].Body, "csv_linelist-2026-03-20-1.csv") {
		t.Errorf("unexpected email body %q", calls[0].Body)
	}

	var rows int
	for _, d := range f.repo.items {
		records, err := csv.NewReader(bytes.NewReader(f.blob(t, d))).ReadAll()
		if err != nil {
			t.Fatalf("parse csv: %v", err)
		}
		if records[0][0] != "ID" {
			t.Errorf("expected header row, got %v", records[0])
		}
		rows += len(records) - 1
		if len(records) > 1 && records[1][2] != "State, County" {
			t.Errorf("expected jurisdiction path, got %q", records[1][2])
		}
	}
	if rows != 5 {
		t.Errorf("expected 5 data rows, got %d", rows)
	}
}

func TestRun_EmailBodiesFitByteLimit(t *testing.T) {
	req := func() Request {
		return Request{ID: uuid.New(), UserID: "u1", UserEmail: "a@example.org", Type: TypeCSVLinelist}
	}
	bodyLen := func(opts Options) []int {
		f := newTestService(opts)
		f.seed(5, f.county.ID)
		if _, err := f.svc.Run(context.Background(), req()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var out []int
		for _, c := range f.email.Calls() {
			out = append(out, len(c.Body))
		}
		return out
	}

	opts := defaultOptions()
	opts.BatchSize = 1
	opts.MaxLinksPerEmail = 0
	opts.MaxEmailBytes = 0
	all := bodyLen(opts)
	opts.MaxLinksPerEmail = 1
	single := bodyLen(opts)
	if len(all) != 1 || len(single) != 5 {
		t.Fatalf("expected 1 and 5 emails, got %d and %d", len(all), len(single))
	}
	perLink := (all[0] - single[0]) / 4
	fixed := single[0] - perLink

	// room for two links and part of a third
	opts.MaxLinksPerEmail = 0
	opts.MaxEmailBytes = fixed + 2*perLink + perLink/2
	got := bodyLen(opts)
	if len(got) != 3 {
		t.Fatalf("expected 3 emails, got %d", len(got))
	}
	for i, n := range got {
		if n > opts.MaxEmailBytes {
			t.Errorf("email %d body is %d bytes, limit %d", i+1, n, opts.MaxEmailBytes)
		}
	}
	if got[0] != fixed+2*perLink || got[2] != fixed+perLink {
		t.Errorf("expected two links then one per email, got sizes %v", got)
	}
}

func TestRun_ScopeAndPurgedExcluded(t *testing.T) {
	f := newTestService(defaultOptions())
	f.seed(1, f.county.ID)
	f.seed(2, f.other.ID)
	f.patients.Add(&patient.Patient{JurisdictionID: f.county.ID, Purged: true})

	res, err := f.svc.Run(context.Background(), Request{UserEmail: "a@example.org", Type: TypeCSVLinelist, Scope: []uuid.UUID{f.county.ID}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Records != 1 {
		t.Errorf("expected one record in scope, got %d", res.Records)
	}
}

func TestRun_EmptyExportStillSendsFile(t *testing.T) {
	f := newTestService(defaultOptions())

	res, err := f.svc.Run(context.Background(), Request{UserEmail: "a@example.org", Type: TypeXLSXComprehensive})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Files != 1 || res.Emails != 1 || res.Records != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_FullHistoryWorkbook(t *testing.T) {
	f := newTestService(defaultOptions())
	f.seed(2, f.county.ID)

	if _, err := f.svc.Run(context.Background(), Request{UserEmail: "a@example.org", Type: TypeXLSXFullHistory}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.repo.items) != 1 {
		t.Fatalf("expected one workbook, got %d", len(f.repo.items))
	}
	var d *Download
	for _, v := range f.repo.items {
		d = v
	}
	if !strings.HasSuffix(d.Filename, ".xlsx") {
		t.Errorf("unexpected filename %s", d.Filename)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(f.blob(t, d)))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()
	sheets := wb.GetSheetList()
	if len(sheets) != 3 || sheets[0] != SheetMonitorees || sheets[1] != SheetAssessments || sheets[2] != SheetHistories {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	for _, sheet := range sheets {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			t.Fatalf("read %s: %v", sheet, err)
		}
		if len(rows) != 3 {
			t.Errorf("sheet %s: expected header and 2 rows, got %d", sheet, len(rows))
		}
	}
}

func TestRequest(t *testing.T) {
	f := newTestService(defaultOptions())
	ctx := context.Background()

	req, err := f.svc.Request(ctx, Request{UserID: "u1", UserEmail: "a@example.org", Type: TypeCSVLinelist}, f.county.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ID == uuid.Nil || len(req.Scope) != 1 || req.Scope[0] != f.county.ID {
		t.Errorf("expected request scoped to caller, got %+v", req)
	}
	if f.queue.Pending(queue.TopicExports) != 1 {
		t.Error("expected request enqueued")
	}

	if _, err := f.svc.Request(ctx, Request{UserEmail: "a@example.org", Type: "pdf"}, uuid.Nil); !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
	if _, err := f.svc.Request(ctx, Request{Type: TypeCSVLinelist}, uuid.Nil); err == nil {
		t.Error("expected error without email")
	}
	_, err = f.svc.Request(ctx, Request{UserEmail: "a@example.org", Type: TypeCSVLinelist, JurisdictionID: f.other.ID}, f.county.ID)
	if !errors.Is(err, patient.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestHandle_RunsQueuedRequest(t *testing.T) {
	f := newTestService(defaultOptions())
	f.seed(1, f.county.ID)
	body, _ := json.Marshal(Request{ID: uuid.New(), UserEmail: "a@example.org", Type: TypeCSVLinelist})

	if err := f.svc.Handle(context.Background(), queue.Message{Topic: queue.TopicExports, Body: body}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.repo.items) != 1 {
		t.Errorf("expected one download, got %d", len(f.repo.items))
	}
	if err := f.svc.Handle(context.Background(), queue.Message{Body: []byte("{")}); err == nil {
		t.Error("expected decode error")
	}
}

func TestFetchAndConsume(t *testing.T) {
	f := newTestService(defaultOptions())
	ctx := context.Background()
	if _, err := f.svc.Run(ctx, Request{UserID: "u1", UserEmail: "a@example.org", Type: TypeCSVLinelist}); err != nil {
		t.Fatal(err)
	}
	var d *Download
	for _, v := range f.repo.items {
		d = v
	}

	if _, _, err := f.svc.Fetch(ctx, d.Lookup, "someone-else"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another user, got %v", err)
	}
	got, rc, err := f.svc.Fetch(ctx, d.Lookup, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rc.Close()
	if err := f.svc.Consume(ctx, got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.blobs.Len() != 0 || len(f.repo.items) != 0 {
		t.Error("expected download and blob removed")
	}
	if _, _, err := f.svc.Fetch(ctx, d.Lookup, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected second fetch to fail, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	f := newTestService(defaultOptions())
	ctx := context.Background()
	now := f.svc.now()

	old := &Download{BlobKey: "exports/old", Lookup: "old", CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &Download{BlobKey: "exports/fresh", Lookup: "fresh", CreatedAt: now.Add(-time.Hour)}
	for _, d := range []*Download{old, fresh} {
		_ = f.repo.Create(ctx, d)
		_ = f.blobs.Put(ctx, d.BlobKey, "text/csv", strings.NewReader("x"), 1)
	}

	n, err := f.svc.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || f.blobs.Len() != 1 {
		t.Errorf("expected one expired download removed, got n=%d blobs=%d", n, f.blobs.Len())
	}
	if _, ok := f.repo.items[fresh.ID]; !ok {
		t.Error("expected fresh download kept")
	}
}

func TestHandler_Download(t *testing.T) {
	f := newTestService(defaultOptions())
	f.seed(1, f.county.ID)
	if _, err := f.svc.Run(context.Background(), Request{UserID: "u1", UserEmail: "a@example.org", Type: TypeCSVLinelist}); err != nil {
		t.Fatal(err)
	}
	var d *Download
	for _, v := range f.repo.items {
		d = v
	}
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithUser(context.Background(), &auth.Claims{}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("lookup")
	c.SetParamValues(d.Lookup)
	var he *echo.HTTPError
	if err := h.Download(c); !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a different user, got %v", err)
	}

	claims := &auth.Claims{}
	claims.Subject = "u1"
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithUser(context.Background(), claims))
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("lookup")
	c.SetParamValues(d.Lookup)
	if err := h.Download(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "ID,") {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), d.Filename) {
		t.Error("expected attachment filename")
	}
	if len(f.repo.items) != 0 {
		t.Error("expected download consumed")
	}
}

func TestHandler_RequestExport(t *testing.T) {
	f := newTestService(defaultOptions())
	h := NewHandler(f.svc)
	e := echo.New()

	claims := &auth.Claims{Email: "a@example.org", JurisdictionID: f.county.ID.String()}
	claims.Subject = "u1"
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"export_type":"xlsx_full_history"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(context.Background(), claims))
	rec := httptest.NewRecorder()

	if err := h.RequestExport(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted || f.queue.Pending(queue.TopicExports) != 1 {
		t.Errorf("expected 202 and queued request, got %d", rec.Code)
	}
}
