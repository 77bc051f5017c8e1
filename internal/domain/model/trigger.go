package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TriggerName identifies an inbound trigger.
type TriggerName string

const (
	// TriggerRegistrationCreated fires when someone registers for an event.
	TriggerRegistrationCreated TriggerName = "registration.created"
	// TriggerReminder24h schedules the day-before reminder.
	TriggerReminder24h TriggerName = "reminder.24hr"
	// TriggerReminderCustom schedules an organizer reminder.
	TriggerReminderCustom TriggerName = "reminder.custom"
	// TriggerBroadcast sends an organizer message right away.
	TriggerBroadcast TriggerName = "broadcast"
	// TriggerAttendanceRequest schedules a single attendance check.
	TriggerAttendanceRequest TriggerName = "attendance.request"
)

// Valid returns true if the trigger name is known.
func (n TriggerName) Valid() bool {
	switch n {
	case TriggerRegistrationCreated, TriggerReminder24h, TriggerReminderCustom,
		TriggerBroadcast, TriggerAttendanceRequest:
		return true
	}
	return false
}

// Trigger is the transport-neutral envelope accepted from HTTP and Kafka.
type Trigger struct {
	Name           TriggerName     `json:"name"`
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// TriggerData is the closed set of decoded trigger payloads.
type TriggerData interface {
	TriggerName() TriggerName
	Validate() error
}

// RegistrationCreated carries a fresh registration.
type RegistrationCreated struct {
	Event      EventSnapshot `json:"event"`
	Registrant Recipient     `json:"registrant"`
	OriginURL  string        `json:"origin_url,omitempty"`
}

// TriggerName implements TriggerData.
func (RegistrationCreated) TriggerName() TriggerName { return TriggerRegistrationCreated }

// Validate implements TriggerData.
func (t RegistrationCreated) Validate() error {
	if err := validateEvent(t.Event); err != nil {
		return err
	}
	return t.Registrant.Validate()
}

// Reminder24hRequested schedules the day-before reminder.
type Reminder24hRequested struct {
	Event       EventSnapshot `json:"event"`
	Registrants []Recipient   `json:"registrants,omitempty"`
}

// TriggerName implements TriggerData.
func (Reminder24hRequested) TriggerName() TriggerName { return TriggerReminder24h }

// Validate implements TriggerData.
func (t Reminder24hRequested) Validate() error {
	if err := validateEvent(t.Event); err != nil {
		return err
	}
	return validateRecipients(t.Registrants)
}

// CustomReminderRequested schedules an organizer reminder.
type CustomReminderRequested struct {
	Event         EventSnapshot `json:"event"`
	CustomMessage string        `json:"custom_message"`
	HoursBefore   HourOffset    `json:"hours_before"`
}

// TriggerName implements TriggerData.
func (CustomReminderRequested) TriggerName() TriggerName { return TriggerReminderCustom }

// Validate implements TriggerData.
func (t CustomReminderRequested) Validate() error {
	if err := validateEvent(t.Event); err != nil {
		return err
	}
	if strings.TrimSpace(t.CustomMessage) == "" {
		return errors.New("custom_message is required")
	}
	return nil
}

// BroadcastRequested is an immediate organizer message.
type BroadcastRequested struct {
	EventID     string      `json:"event_id"`
	EventTitle  string      `json:"event_title"`
	Subject     string      `json:"subject"`
	HTMLBody    string      `json:"html_body"`
	Registrants []Recipient `json:"registrants"`
}

// TriggerName implements TriggerData.
func (BroadcastRequested) TriggerName() TriggerName { return TriggerBroadcast }

// Validate implements TriggerData.
func (t BroadcastRequested) Validate() error {
	if strings.TrimSpace(t.EventID) == "" {
		return errors.New("event_id is required")
	}
	if strings.TrimSpace(t.Subject) == "" {
		return errors.New("subject is required")
	}
	if strings.TrimSpace(t.HTMLBody) == "" {
		return errors.New("html_body is required")
	}
	return validateRecipients(t.Registrants)
}

// AttendanceRequested schedules an attendance check for one registrant.
type AttendanceRequested struct {
	Event      EventSnapshot `json:"event"`
	Registrant Recipient     `json:"registrant"`
	OriginURL  string        `json:"origin_url,omitempty"`
}

// TriggerName implements TriggerData.
func (AttendanceRequested) TriggerName() TriggerName { return TriggerAttendanceRequest }

// Validate implements TriggerData.
func (t AttendanceRequested) Validate() error {
	if err := validateEvent(t.Event); err != nil {
		return err
	}
	return t.Registrant.Validate()
}

func validateEvent(e EventSnapshot) error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("event.id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return errors.New("event.title is required")
	}
	if e.EventType != "" && e.EventType != EventTypeOnline && e.EventType != EventTypeOffline {
		return fmt.Errorf("event.event_type must be %q or %q", EventTypeOnline, EventTypeOffline)
	}
	return nil
}

// Decode parses the envelope data into its typed variant and validates it.
func (t Trigger) Decode() (TriggerData, error) {
	if !t.Name.Valid() {
		return nil, fmt.Errorf("unknown trigger %q", t.Name)
	}
	if len(t.Data) == 0 {
		return nil, errors.New("trigger data is required")
	}
	var (
		d   TriggerData
		err error
	)
	switch t.Name {
	case TriggerRegistrationCreated:
		var v RegistrationCreated
		err = json.Unmarshal(t.Data, &v)
		d = v
	case TriggerReminder24h:
		var v Reminder24hRequested
		err = json.Unmarshal(t.Data, &v)
		d = v
	case TriggerReminderCustom:
		var v CustomReminderRequested
		err = json.Unmarshal(t.Data, &v)
		d = v
	case TriggerBroadcast:
		var v BroadcastRequested
		err = json.Unmarshal(t.Data, &v)
		d = v
	case TriggerAttendanceRequest:
		var v AttendanceRequested
		err = json.Unmarshal(t.Data, &v)
		d = v
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.Name, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
