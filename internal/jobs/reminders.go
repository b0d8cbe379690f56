package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/platform/notification"
	"github.com/casewatch/casewatch/internal/platform/queue"
	"github.com/casewatch/casewatch/pkg/pagination"
)

// OutboundMessage asks the messaging gateway to text or call a monitoree.
type OutboundMessage struct {
	PatientID  uuid.UUID `json:"patient_id"`
	Method     string    `json:"method"`
	To         string    `json:"to"`
	ReportLink string    `json:"report_link,omitempty"`
	Dependents []string  `json:"dependents,omitempty"`
}

func (r *Runner) sendAssessments(ctx context.Context, sum *Summary) error {
	rules := r.patients.Rules()
	byMethod := make(map[string]int)
	err := pagination.EachBatch(ctx, r.opts.BatchSize, r.patients.ReminderCandidates, patientKey,
		func(ctx context.Context, batch []*patient.Patient) error {
			now := r.now()
			for _, p := range batch {
				if !p.ReminderDue(now, rules) {
					continue
				}
				sum.Eligible++
				if err := r.remind(ctx, p); err != nil {
					r.fail(ctx, sum, p.ID, err)
					continue
				}
				if err := r.patients.RecordReminder(ctx, p, p.PreferredContactMethod); err != nil {
					r.fail(ctx, sum, p.ID, err)
					continue
				}
				sum.Succeeded++
				byMethod[p.PreferredContactMethod]++
			}
			return nil
		})
	sum.addf("Sent %d of %d due report reminders.", sum.Succeeded, sum.Eligible)
	for _, m := range []string{patient.ContactEmail, patient.ContactSMSLink, patient.ContactSMSText, patient.ContactTelephone} {
		if n := byMethod[m]; n > 0 {
			sum.addf("%s: %d", m, n)
		}
	}
	return err
}

func (r *Runner) reportLink(p *patient.Patient) (string, error) {
	if p.SubmissionToken == nil || *p.SubmissionToken == "" {
		return "", errors.New("monitoree has no submission token")
	}
	return strings.TrimRight(r.opts.PublicURL, "/") + "/report/" + *p.SubmissionToken, nil
}

func (r *Runner) dependents(ctx context.Context, head *patient.Patient) ([]string, error) {
	members, err := r.patients.Household(ctx, head.ID)
	if err != nil {
		return nil, fmt.Errorf("load household: %w", err)
	}
	var names []string
	for _, m := range members {
		if m.ID == head.ID || !m.Monitoring || m.Purged {
			continue
		}
		names = append(names, m.DisplayName())
	}
	return names, nil
}

func (r *Runner) remind(ctx context.Context, p *patient.Patient) error {
	link, err := r.reportLink(p)
	if err != nil {
		return err
	}
	deps, err := r.dependents(ctx, p)
	if err != nil {
		return err
	}

	if p.PreferredContactMethod == patient.ContactEmail {
		if p.Email == nil || *p.Email == "" {
			return errors.New("monitoree prefers email but has no address")
		}
		var extra string
		if len(deps) > 0 {
			extra = "\nPlease also report for: " + strings.Join(deps, ", ") + "\n"
		}
		return r.mailer.Send(ctx, notification.TemplateAssessmentReminder, *p.Email, map[string]string{
			"name":        p.DisplayName(),
			"report_link": link,
			"dependents":  extra,
		})
	}

	if p.PrimaryTelephone == nil || *p.PrimaryTelephone == "" {
		return fmt.Errorf("monitoree prefers %q but has no telephone number", p.PreferredContactMethod)
	}
	msg := OutboundMessage{
		PatientID:  p.ID,
		Method:     p.PreferredContactMethod,
		To:         *p.PrimaryTelephone,
		Dependents: deps,
	}
	if p.PreferredContactMethod == patient.ContactSMSLink {
		msg.ReportLink = link
	}
	return queue.PublishJSON(ctx, r.queue, queue.TopicOutboundMessages, msg)
}

// LogOutbound consumes outbound messages by logging them. Carrier delivery
// is not part of casewatch; a gateway reads the same topic.
func LogOutbound(logger zerolog.Logger) queue.Handler {
	log := logger.With().Str("component", "outbound").Logger()
	return func(_ context.Context, msg queue.Message) error {
		var m OutboundMessage
		if err := json.Unmarshal(msg.Body, &m); err != nil {
			return fmt.Errorf("decode outbound message: %w", err)
		}
		log.Info().
			Str("message_id", msg.ID).
			Str("patient_id", m.PatientID.String()).
			Str("method", m.Method).
			Int("dependents", len(m.Dependents)).
			Msg("outbound message")
		return nil
	}
}
