// Package notification renders and delivers the emails sent by jobs and
// exports: job summaries to administrators, closure notices and assessment
// reminders to monitorees, and download links to export requesters.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Built-in template identifiers.
const (
	TemplateJobSummary         = "job-summary"
	TemplateMonitoreeClosed    = "monitoree-closed"
	TemplateAssessmentReminder = "assessment-reminder"
	TemplateExportReady        = "export-ready"
	TemplatePurgeWarning       = "purge-warning"
)

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range builtIn {
		e.RegisterTemplate(t)
	}
	return e
}

var builtIn = []Template{
	{
		ID:      TemplateJobSummary,
		Subject: "{{job}} completed",
		Body: "{{job}} finished at {{finished_at}}.\n\n" +
			"{{summary}}\n\n" +
			"Failures ({{failure_count}}):\n{{failures}}\n",
	},
	{
		ID:      TemplateMonitoreeClosed,
		Subject: "Your symptom monitoring is complete",
		Body: "Dear {{name}},\n\nThe public health monitoring period for your record has ended " +
			"and your record was closed on {{closed_at}}. Thank you for reporting.\n",
	},
	{
		ID:      TemplateAssessmentReminder,
		Subject: "Daily symptom report reminder",
		Body: "Dear {{name}},\n\nPlease submit today's symptom report using the link below.\n\n" +
			"{{report_link}}\n{{dependents}}",
	},
	{
		ID:      TemplateExportReady,
		Subject: "Your {{export_type}} export is ready ({{part}} of {{parts}})",
		Body: "The following files are ready for download. Each link works once and " +
			"expires after {{retention}}.\n\n{{links}}\n",
	},
	{
		ID:      TemplatePurgeWarning,
		Subject: "Records in {{jurisdiction}} will be purged soon",
		Body: "{{count}} closed monitoree records in {{jurisdiction}} become eligible for purge " +
			"within the next {{days}} days. Export any data you need to keep before then.\n",
	},
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Mailer renders templates and hands the result to an EmailSender.
type Mailer struct {
	sender    EmailSender
	templates *TemplateEngine
}

func NewMailer(sender EmailSender, templates *TemplateEngine) *Mailer {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Mailer{sender: sender, templates: templates}
}

// Render renders templateID with data without sending it.
func (m *Mailer) Render(templateID string, data map[string]string) (subject, body string, err error) {
	return m.templates.Render(templateID, data)
}

// Send renders templateID with data and emails it to one recipient.
func (m *Mailer) Send(ctx context.Context, templateID, to string, data map[string]string) error {
	if to == "" {
		return errors.New("recipient is required")
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	if err := m.sender.SendEmail(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send %s to %s: %w", templateID, to, err)
	}
	return nil
}

// SendAll sends the same rendered message to each recipient and joins the
// errors of failed deliveries.
func (m *Mailer) SendAll(ctx context.Context, templateID string, to []string, data map[string]string) error {
	var errs []error
	for _, r := range to {
		if err := m.Send(ctx, templateID, r, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
