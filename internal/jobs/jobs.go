// Package jobs holds the batch lifecycle jobs: analytics caching, closing
// completed records, purging, purge warnings and daily report reminders.
// Each run walks its candidates in keyset batches, never stops on a single
// record, and mails a summary to the administrators.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casewatch/casewatch/internal/domain/analytics"
	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/platform/notification"
	"github.com/casewatch/casewatch/internal/platform/queue"
)

var ErrUnknownJob = errors.New("unknown job")

const (
	JobCacheAnalytics  = "cache-analytics"
	JobClosePatients   = "close-patients"
	JobPurge           = "purge"
	JobPurgeWarnings   = "purge-warnings"
	JobSendAssessments = "send-assessments"
)

type Patients interface {
	Rules() patient.Rules
	CloseCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*patient.Patient, error)
	PurgeCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*patient.Patient, error)
	ReminderCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*patient.Patient, error)
	CloseCompleted(ctx context.Context, p *patient.Patient) error
	Purge(ctx context.Context, p *patient.Patient) error
	HouseholdPurgeable(ctx context.Context, head *patient.Patient) (bool, error)
	Household(ctx context.Context, id uuid.UUID) ([]*patient.Patient, error)
	RecordReminder(ctx context.Context, p *patient.Patient, method string) error
	UpcomingPurges(ctx context.Context, within time.Duration) (map[uuid.UUID]int, error)
}

type Analytics interface {
	Cache(ctx context.Context) (*analytics.Result, error)
}

type Downloads interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type Jurisdictions interface {
	List(ctx context.Context) ([]*jurisdiction.Jurisdiction, error)
}

// Failure is one record a job could not process.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Summary describes one job run. Lines are the human readable outcome
// written into the summary email.
type Summary struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Eligible   int       `json:"eligible"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Lines      []string  `json:"lines"`
	Failures   []Failure `json:"failures"`
}

func (s *Summary) addf(format string, args ...interface{}) {
	s.Lines = append(s.Lines, fmt.Sprintf(format, args...))
}

// Job is a named entry in the registry.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	run         func(ctx context.Context, sum *Summary) error
}

type Options struct {
	BatchSize          int
	AdminEmails        []string
	PublicURL          string
	PurgeWarningWindow time.Duration
}

type Deps struct {
	Patients      Patients
	Analytics     Analytics
	Downloads     Downloads
	Jurisdictions Jurisdictions
	Queue         queue.Queue
	Mailer        *notification.Mailer
}

// Runner executes jobs by name.
type Runner struct {
	patients      Patients
	analytics     Analytics
	downloads     Downloads
	jurisdictions Jurisdictions
	queue         queue.Queue
	mailer        *notification.Mailer
	opts          Options
	logger        zerolog.Logger
	now           func() time.Time
	jobs          []Job
}

func NewRunner(d Deps, opts Options, logger zerolog.Logger) *Runner {
	r := &Runner{
		patients:      d.Patients,
		analytics:     d.Analytics,
		downloads:     d.Downloads,
		jurisdictions: d.Jurisdictions,
		queue:         d.Queue,
		mailer:        d.Mailer,
		opts:          opts,
		logger:        logger.With().Str("component", "jobs").Logger(),
		now:           time.Now,
	}
	r.jobs = []Job{
		{
			Name:        JobCacheAnalytics,
			Description: "Rebuild monitoree counts, snapshots and maps for every jurisdiction",
			Interval:    24 * time.Hour,
			run:         r.cacheAnalytics,
		},
		{
			Name:        JobClosePatients,
			Description: "Close asymptomatic exposure records whose monitoring period completed",
			Interval:    time.Hour,
			run:         r.closePatients,
		},
		{
			Name:        JobPurge,
			Description: "Redact closed records past the purge threshold and remove expired downloads",
			Interval:    24 * time.Hour,
			run:         r.purge,
		},
		{
			Name:        JobPurgeWarnings,
			Description: "Warn jurisdiction contacts about records that become purge eligible soon",
			Interval:    7 * 24 * time.Hour,
			run:         r.purgeWarnings,
		},
		{
			Name:        JobSendAssessments,
			Description: "Send daily report reminders to monitorees inside their contact window",
			Interval:    time.Hour,
			run:         r.sendAssessments,
		},
	}
	return r
}

// Jobs returns the registered jobs.
func (r *Runner) Jobs() []Job {
	return r.jobs
}

// Find returns the job with the given name, or nil.
func (r *Runner) Find(name string) *Job {
	for i := range r.jobs {
		if r.jobs[i].Name == name {
			return &r.jobs[i]
		}
	}
	return nil
}

// Run executes one job and mails its summary. A returned error means the
// job stopped early; per-record failures are only reported in the summary.
func (r *Runner) Run(ctx context.Context, name string) (*Summary, error) {
	job := r.Find(name)
	if job == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	log := r.logger.With().Str("job", name).Logger()
	log.Info().Msg("job started")

	sum := &Summary{Job: name, StartedAt: r.now()}
	err := job.run(log.WithContext(ctx), sum)
	sum.FinishedAt = r.now()
	if err != nil {
		sum.addf("The job stopped early: %v", err)
	}

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("eligible", sum.Eligible).
		Int("succeeded", sum.Succeeded).
		Int("skipped", sum.Skipped).
		Int("failures", len(sum.Failures)).
		Dur("elapsed", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("job finished")

	r.report(ctx, sum)
	return sum, err
}

func (r *Runner) fail(ctx context.Context, sum *Summary, id uuid.UUID, err error) {
	zerolog.Ctx(ctx).Warn().Err(err).Str("patient_id", id.String()).Msg("record failed")
	sum.Failures = append(sum.Failures, Failure{ID: id.String(), Reason: err.Error()})
}

func (r *Runner) report(ctx context.Context, sum *Summary) {
	if len(r.opts.AdminEmails) == 0 {
		return
	}
	var failures strings.Builder
	if len(sum.Failures) == 0 {
		failures.WriteString("None\n")
	}
	for _, f := range sum.Failures {
		fmt.Fprintf(&failures, "- %s: %s\n", f.ID, f.Reason)
	}
	err := r.mailer.SendAll(ctx, notification.TemplateJobSummary, r.opts.AdminEmails, map[string]string{
		"job":           sum.Job,
		"finished_at":   sum.FinishedAt.UTC().Format(time.RFC3339),
		"summary":       strings.Join(sum.Lines, "\n"),
		"failure_count": strconv.Itoa(len(sum.Failures)),
		"failures":      failures.String(),
	})
	if err != nil {
		r.logger.Error().Err(err).Str("job", sum.Job).Msg("failed to send job summary")
	}
}

func patientKey(p *patient.Patient) uuid.UUID { return p.ID }
