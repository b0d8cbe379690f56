package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casewatch/casewatch/internal/domain/assessment"
	"github.com/casewatch/casewatch/internal/domain/history"
	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/platform/blobstore"
	"github.com/casewatch/casewatch/internal/platform/notification"
	"github.com/casewatch/casewatch/internal/platform/queue"
	"github.com/casewatch/casewatch/pkg/pagination"
)

type Patients interface {
	Scope(ctx context.Context, userJurisdiction, requested uuid.UUID) ([]uuid.UUID, error)
	ExportBatch(ctx context.Context, jurisdictionIDs []uuid.UUID, after uuid.UUID, limit int) ([]*patient.Patient, error)
}

type Assessments interface {
	ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*assessment.Assessment, error)
}

type Histories interface {
	ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*history.History, error)
}

type Jurisdictions interface {
	Tree(ctx context.Context) (*jurisdiction.Tree, error)
}

type Options struct {
	PublicURL        string
	BatchSize        int
	MaxLinksPerEmail int
	MaxEmailBytes    int
	Retention        time.Duration
}

type Service struct {
	repo          Repository
	patients      Patients
	assessments   Assessments
	histories     Histories
	jurisdictions Jurisdictions
	blobs         blobstore.Store
	queue         queue.Queue
	mailer        *notification.Mailer
	opts          Options
	logger        zerolog.Logger
	now           func() time.Time
}

type Deps struct {
	Repo          Repository
	Patients      Patients
	Assessments   Assessments
	Histories     Histories
	Jurisdictions Jurisdictions
	Blobs         blobstore.Store
	Queue         queue.Queue
	Mailer        *notification.Mailer
}

func NewService(d Deps, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		repo:          d.Repo,
		patients:      d.Patients,
		assessments:   d.Assessments,
		histories:     d.Histories,
		jurisdictions: d.Jurisdictions,
		blobs:         d.Blobs,
		queue:         d.Queue,
		mailer:        d.Mailer,
		opts:          opts,
		logger:        logger.With().Str("component", "export").Logger(),
		now:           time.Now,
	}
}

// Request validates an export request, resolves the caller's scope and
// enqueues it for the worker.
func (s *Service) Request(ctx context.Context, req Request, userJurisdiction uuid.UUID) (*Request, error) {
	if !validTypes[req.Type] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if req.UserEmail == "" {
		return nil, fmt.Errorf("an email address is required to receive export links")
	}
	scope, err := s.patients.Scope(ctx, userJurisdiction, req.JurisdictionID)
	if err != nil {
		return nil, err
	}
	req.ID = uuid.New()
	req.Scope = scope
	req.RequestedAt = s.now()
	if err := queue.PublishJSON(ctx, s.queue, queue.TopicExports, req); err != nil {
		return nil, fmt.Errorf("enqueue export: %w", err)
	}
	s.logger.Info().Str("export_id", req.ID.String()).Str("export_type", req.Type).Msg("export requested")
	return &req, nil
}

// Handle runs an export request received from the exports queue.
func (s *Service) Handle(ctx context.Context, msg queue.Message) error {
	var req Request
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return fmt.Errorf("decode export request: %w", err)
	}
	_, err := s.Run(ctx, req)
	return err
}

// Run writes one file per page of monitorees, stores each in the blob
// store with a Download row, and emails the links to the requester.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	f, ok := formats[req.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	tree, err := s.jurisdictions.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jurisdictions: %w", err)
	}
	paths := make(map[uuid.UUID]string, tree.Len())
	for _, j := range tree.All() {
		paths[j.ID] = j.Path
	}

	now := s.now()
	res := &Result{}
	var links []Link
	write := func(ctx context.Context, batch []*patient.Patient) error {
		var err error
		b := &Batch{Patients: batch, Paths: paths, Now: now}
		if f.FullHistory && len(batch) > 0 {
			ids := make([]uuid.UUID, len(batch))
			for i, p := range batch {
				ids[i] = p.ID
			}
			if b.Assessments, err = s.assessments.ListByPatients(ctx, ids); err != nil {
				return fmt.Errorf("load assessments: %w", err)
			}
			if b.Histories, err = s.histories.ListByPatients(ctx, ids); err != nil {
				return fmt.Errorf("load histories: %w", err)
			}
		}
		data, err := f.Write(b)
		if err != nil {
			return fmt.Errorf("render %s: %w", req.Type, err)
		}

		filename := fmt.Sprintf("%s-%s-%d.%s", req.Type, now.Format("2006-01-02"), res.Files+1, f.Ext)
		key := fmt.Sprintf("exports/%s/%s", req.ID, filename)
		if err := s.blobs.Put(ctx, key, f.ContentType, bytes.NewReader(data), int64(len(data))); err != nil {
			return fmt.Errorf("upload %s: %w", filename, err)
		}
		d := &Download{
			UserID:     req.UserID,
			UserEmail:  req.UserEmail,
			ExportType: req.Type,
			Filename:   filename,
			BlobKey:    key,
			Lookup:     newLookup(),
		}
		if err := s.repo.Create(ctx, d); err != nil {
			return fmt.Errorf("record download: %w", err)
		}
		links = append(links, Link{Filename: filename, URL: strings.TrimRight(s.opts.PublicURL, "/") + "/api/v1/downloads/" + d.Lookup})
		res.Records += len(batch)
		res.Files++
		return nil
	}

	fetch := func(ctx context.Context, after uuid.UUID, limit int) ([]*patient.Patient, error) {
		return s.patients.ExportBatch(ctx, req.Scope, after, limit)
	}
	key := func(p *patient.Patient) uuid.UUID { return p.ID }
	if err := pagination.EachBatch(ctx, s.opts.BatchSize, fetch, key, write); err != nil {
		return res, err
	}
	if res.Files == 0 {
		if err := write(ctx, nil); err != nil {
			return res, err
		}
	}

	linkBytes, err := s.linkBudget(req, len(links))
	if err != nil {
		return res, err
	}
	chunks := chunkLinks(links, s.opts.MaxLinksPerEmail, linkBytes)
	for i, chunk := range chunks {
		err := s.mailer.Send(ctx, notification.TemplateExportReady, req.UserEmail,
			s.readyData(req, i+1, len(chunks), formatLinks(chunk)))
		if err != nil {
			return res, err
		}
		res.Emails++
	}

	s.logger.Info().
		Str("export_id", req.ID.String()).
		Int("records", res.Records).
		Int("files", res.Files).
		Int("emails", res.Emails).
		Msg("export completed")
	return res, nil
}

func (s *Service) readyData(req Request, part, parts int, links string) map[string]string {
	return map[string]string{
		"export_type": req.Type,
		"part":        strconv.Itoa(part),
		"parts":       strconv.Itoa(parts),
		"retention":   fmt.Sprintf("%d hours", int(s.opts.Retention.Hours())),
		"links":       links,
	}
}

// linkBudget is the room left for links once the export-ready body is
// rendered without them. Zero means no byte limit.
func (s *Service) linkBudget(req Request, links int) (int, error) {
	if s.opts.MaxEmailBytes <= 0 {
		return 0, nil
	}
	_, body, err := s.mailer.Render(notification.TemplateExportReady, s.readyData(req, links, links, ""))
	if err != nil {
		return 0, fmt.Errorf("render export email: %w", err)
	}
	// at least one link per email even when the template alone is too big
	return max(s.opts.MaxEmailBytes-len(body), 1), nil
}

func newLookup() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// Fetch opens a download owned by userID. The caller streams the content
// and then calls Consume.
func (s *Service) Fetch(ctx context.Context, lookup, userID string) (*Download, io.ReadCloser, error) {
	d, err := s.repo.GetByLookup(ctx, lookup)
	if err != nil {
		return nil, nil, err
	}
	if d.UserID != userID {
		return nil, nil, ErrNotFound
	}
	rc, err := s.blobs.Get(ctx, d.BlobKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		_ = s.repo.Delete(ctx, d.ID)
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return d, rc, nil
}

// Consume removes a download after it was streamed.
func (s *Service) Consume(ctx context.Context, d *Download) error {
	if err := s.blobs.Delete(ctx, d.BlobKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		return err
	}
	return s.repo.Delete(ctx, d.ID)
}

// PurgeExpired deletes downloads older than the retention period along
// with their files.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ListCreatedBefore(ctx, s.now().Add(-s.opts.Retention))
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, d := range expired {
		if err := s.Consume(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("download %s: %w", d.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func contentType(exportType string) string {
	if f, ok := formats[exportType]; ok {
		return f.ContentType
	}
	return "application/octet-stream"
}
