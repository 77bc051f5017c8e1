package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RunPayload is the closed set of kind-specific run payloads.
type RunPayload interface {
	Kind() RunKind
	Validate() error
}

// ConfirmationPayload pins the single registrant that just signed up.
type ConfirmationPayload struct {
	Registrant Recipient `json:"registrant"`
	OriginURL  string    `json:"origin_url,omitempty"`
}

// Kind implements RunPayload.
func (ConfirmationPayload) Kind() RunKind { return RunKindRegistrationConfirmed }

// Validate implements RunPayload.
func (p ConfirmationPayload) Validate() error { return p.Registrant.Validate() }

// Reminder24hPayload carries the registrants known when the reminder was scheduled. They are only
// used when pinning is enabled; otherwise recipients are re-resolved at fire time.
type Reminder24hPayload struct {
	Registrants []Recipient `json:"registrants,omitempty"`
}

// Kind implements RunPayload.
func (Reminder24hPayload) Kind() RunKind { return RunKindReminder24h }

// Validate implements RunPayload.
func (p Reminder24hPayload) Validate() error { return validateRecipients(p.Registrants) }

// CustomReminderPayload holds the organizer message and lead time.
type CustomReminderPayload struct {
	CustomMessage string     `json:"custom_message"`
	HoursBefore   HourOffset `json:"hours_before"`
}

// Kind implements RunPayload.
func (CustomReminderPayload) Kind() RunKind { return RunKindReminderCustom }

// Validate implements RunPayload.
func (p CustomReminderPayload) Validate() error {
	if strings.TrimSpace(p.CustomMessage) == "" {
		return errors.New("custom message is required")
	}
	return nil
}

// AttendancePayload targets one registrant; the lead time comes from the event snapshot.
type AttendancePayload struct {
	Registrant Recipient `json:"registrant"`
	OriginURL  string    `json:"origin_url,omitempty"`
}

// Kind implements RunPayload.
func (AttendancePayload) Kind() RunKind { return RunKindAttendanceRequest }

// Validate implements RunPayload.
func (p AttendancePayload) Validate() error { return p.Registrant.Validate() }

// BroadcastPayload is an ad-hoc message pinned to the caller's recipient list.
type BroadcastPayload struct {
	Subject     string      `json:"subject"`
	HTMLBody    string      `json:"html_body"`
	Registrants []Recipient `json:"registrants"`
}

// Kind implements RunPayload.
func (BroadcastPayload) Kind() RunKind { return RunKindBroadcast }

// Validate implements RunPayload.
func (p BroadcastPayload) Validate() error {
	if strings.TrimSpace(p.Subject) == "" {
		return errors.New("subject is required")
	}
	if strings.TrimSpace(p.HTMLBody) == "" {
		return errors.New("html body is required")
	}
	return validateRecipients(p.Registrants)
}

func validateRecipients(rs []Recipient) error {
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DecodePayload decodes raw JSON into the variant matching kind.
func DecodePayload(kind RunKind, raw json.RawMessage) (RunPayload, error) {
	var (
		p   RunPayload
		err error
	)
	switch kind {
	case RunKindRegistrationConfirmed:
		var v ConfirmationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case RunKindReminder24h:
		var v Reminder24hPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case RunKindReminderCustom:
		var v CustomReminderPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case RunKindAttendanceRequest:
		var v AttendancePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case RunKindBroadcast:
		var v BroadcastPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("invalid run kind: %s", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// PinnedRecipients returns the recipients carried by a payload, if any.
func PinnedRecipients(p RunPayload) []Recipient {
	switch v := p.(type) {
	case ConfirmationPayload:
		return []Recipient{v.Registrant}
	case AttendancePayload:
		return []Recipient{v.Registrant}
	case Reminder24hPayload:
		return v.Registrants
	case BroadcastPayload:
		return v.Registrants
	}
	return nil
}
