package service

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"

	"github.com/appointflow/notifier/internal/domain/model"
)

// MessageData is everything a template may reference.
type MessageData struct {
	Event         model.EventSnapshot
	Recipient     model.Recipient
	CustomMessage string
	HoursBefore   model.HourOffset
	// Subject and HTMLBody are organizer-authored broadcast content.
	Subject  string
	HTMLBody string
	// ConfirmURL and DeclineURL are attendance links; empty for kinds that do not carry them.
	ConfirmURL string
	DeclineURL string
}

// Renderer turns a run kind and its data into a subject and HTML body.
type Renderer interface {
	Render(kind model.RunKind, data MessageData) (model.RenderedMessage, error)
}

// Subject returns the subject line for kind.
func Subject(kind model.RunKind, data MessageData) string {
	title := data.Event.Title
	switch kind {
	case model.RunKindRegistrationConfirmed:
		return "Registration Confirmed: " + title
	case model.RunKindReminder24h:
		return "Reminder: " + title + " is tomorrow!"
	case model.RunKindReminderCustom:
		hours := data.HoursBefore.String()
		if hours == "" {
			hours = "0"
		}
		return fmt.Sprintf("Reminder: %s starts in %s hours", title, hours)
	case model.RunKindAttendanceRequest:
		return fmt.Sprintf("Action Required: Are you still coming to %s?", title)
	case model.RunKindBroadcast:
		return data.Subject
	}
	return title
}

// AttendanceLinks builds the confirm and decline links for a registration.
func AttendanceLinks(baseURL, registrationID string) (confirm, decline string) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" || registrationID == "" {
		return "", ""
	}
	link := func(status string) string {
		q := url.Values{}
		q.Set("id", registrationID)
		q.Set("status", status)
		return base + "/api/email/attendance/confirm?" + q.Encode()
	}
	return link("confirmed"), link("cancelled")
}

const layoutTemplate = `{{define "layout"}}<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#1f2937">
<div style="max-width:560px;margin:0 auto;padding:24px">
{{template "content" .}}
<hr style="border:none;border-top:1px solid #e5e7eb;margin:24px 0">
<p style="font-size:12px;color:#6b7280">You are receiving this because you registered for {{.Event.Title}}.</p>
</div></body></html>{{end}}
{{define "details"}}<p><strong>{{.Event.Title}}</strong><br>
{{.Event.StartDate}} at {{.Event.StartTime}}<br>
{{if .Event.Online}}{{with .Event.MeetingLink}}Join online: <a href="{{.}}">{{.}}</a>{{else}}Online event{{end}}{{else}}{{.Event.Location}}{{end}}</p>{{end}}`

var contentTemplates = map[model.RunKind]string{
	model.RunKindRegistrationConfirmed: `{{define "content"}}<h2>You're registered!</h2>
<p>Hi {{.Recipient.FullName}}, your registration is confirmed.</p>
{{template "details" .}}
<p style="font-size:12px;color:#6b7280">Registration ID: {{.Recipient.ID}}</p>{{end}}`,

	model.RunKindReminder24h: `{{define "content"}}<h2>See you tomorrow</h2>
<p>Hi {{.Recipient.FullName}}, this is a reminder that the event starts in 24 hours.</p>
{{template "details" .}}{{end}}`,

	model.RunKindReminderCustom: `{{define "content"}}<h2>Upcoming: {{.Event.Title}}</h2>
<p>Hi {{.Recipient.FullName}},</p>
<p>{{.CustomMessage}}</p>
{{template "details" .}}{{end}}`,

	model.RunKindAttendanceRequest: `{{define "content"}}<h2>Are you still coming?</h2>
<p>Hi {{.Recipient.FullName}}, please let the organizer know whether you will attend.</p>
{{template "details" .}}
{{if .ConfirmURL}}<p><a href="{{.ConfirmURL}}">Yes, I'll be there</a> &middot; <a href="{{.DeclineURL}}">No, I can't make it</a></p>{{end}}{{end}}`,

	model.RunKindBroadcast: `{{define "content"}}<h2>{{.Event.Title}}</h2>
<p>Hi {{.Recipient.FullName}},</p>
<div>{{trusted .HTMLBody}}</div>{{end}}`,
}

// TemplateRenderer renders the built-in html/template messages.
type TemplateRenderer struct {
	templates map[model.RunKind]*template.Template
}

// NewTemplateRenderer parses the built-in templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	funcs := template.FuncMap{
		// Broadcast bodies are authored by the event organizer and sent as-is.
		"trusted": func(s string) template.HTML { return template.HTML(s) }, //nolint:gosec // organizer content
	}
	out := make(map[model.RunKind]*template.Template, len(contentTemplates))
	for kind, content := range contentTemplates {
		t, err := template.New(string(kind)).Funcs(funcs).Parse(layoutTemplate)
		if err != nil {
			return nil, fmt.Errorf("parse layout for %s: %w", kind, err)
		}
		if _, err = t.Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		out[kind] = t
	}
	return &TemplateRenderer{templates: out}, nil
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(kind model.RunKind, data MessageData) (model.RenderedMessage, error) {
	t, ok := r.templates[kind]
	if !ok {
		return model.RenderedMessage{}, fmt.Errorf("no template for kind %q", kind)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return model.RenderedMessage{}, fmt.Errorf("render %s: %w", kind, err)
	}
	return model.RenderedMessage{Subject: Subject(kind, data), HTML: buf.String()}, nil
}

// SafeRenderer never fails: errors and panics from the wrapped renderer become default content.
type SafeRenderer struct {
	inner  Renderer
	logger *slog.Logger
}

// NewSafeRenderer wraps inner. A nil inner always produces default content.
func NewSafeRenderer(inner Renderer, logger *slog.Logger) *SafeRenderer {
	if logger != nil {
		logger = logger.With("component", "renderer")
	}
	return &SafeRenderer{inner: inner, logger: logger}
}

// Render returns the rendered message, or default content when rendering fails.
func (s *SafeRenderer) Render(kind model.RunKind, data MessageData) (msg model.RenderedMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logFailure(kind, fmt.Errorf("%w: panic: %v", model.ErrTemplateRender, rec))
			msg = DefaultMessage(kind, data)
		}
	}()

	if s.inner == nil {
		return DefaultMessage(kind, data)
	}
	out, err := s.inner.Render(kind, data)
	if err != nil {
		s.logFailure(kind, fmt.Errorf("%w: %w", model.ErrTemplateRender, err))
		return DefaultMessage(kind, data)
	}
	if out.Subject == "" {
		out.Subject = Subject(kind, data)
	}
	return out
}

func (s *SafeRenderer) logFailure(kind model.RunKind, err error) {
	if s.logger != nil {
		s.logger.Warn("template render failed", "kind", kind, "error", err)
	}
}

// DefaultMessage is the plain fallback content used when a template cannot be rendered.
func DefaultMessage(kind model.RunKind, data MessageData) model.RenderedMessage {
	esc := template.HTMLEscapeString
	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hi %s,</p>", esc(data.Recipient.FullName))
	switch kind {
	case model.RunKindBroadcast:
		body.WriteString(data.HTMLBody)
	case model.RunKindReminderCustom:
		fmt.Fprintf(&body, "<p>%s</p>", esc(data.CustomMessage))
	default:
		fmt.Fprintf(&body, "<p>%s</p>", esc(Subject(kind, data)))
	}
	fmt.Fprintf(&body, "<p>%s, %s %s</p>", esc(data.Event.Title), esc(data.Event.StartDate), esc(data.Event.StartTime))
	if data.ConfirmURL != "" {
		fmt.Fprintf(&body, `<p><a href="%s">Confirm</a> | <a href="%s">Decline</a></p>`,
			esc(data.ConfirmURL), esc(data.DeclineURL))
	}
	return model.RenderedMessage{Subject: Subject(kind, data), HTML: body.String()}
}
