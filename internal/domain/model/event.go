package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EventType distinguishes in-person from online events.
type EventType string

const (
	// EventTypeOffline is an in-person event with a location.
	EventTypeOffline EventType = "offline"
	// EventTypeOnline is a virtual event with a meeting link.
	EventTypeOnline EventType = "online"
)

// EventSnapshot is the immutable copy of event fields taken when a run is created.
type EventSnapshot struct {
	ID                     string     `json:"id"`
	Title                  string     `json:"title"`
	StartDate              string     `json:"start_date"`
	StartTime              string     `json:"start_time"`
	Location               string     `json:"location,omitempty"`
	EventType              EventType  `json:"event_type,omitempty"`
	MeetingLink            string     `json:"meeting_link,omitempty"`
	Send24hReminder        bool       `json:"send_24h_reminder"`
	ConfirmationEmailHours HourOffset `json:"confirmation_email_hours"`
}

// Online reports whether the event happens over a meeting link.
func (e EventSnapshot) Online() bool {
	return e.EventType == EventTypeOnline
}

// Flags returns the gating flags captured in the snapshot.
func (e EventSnapshot) Flags() EventFlags {
	return EventFlags{
		Send24hReminder:        e.Send24hReminder,
		ConfirmationEmailHours: e.ConfirmationEmailHours,
	}
}

// EventFlags are the per-event switches read at fire time.
type EventFlags struct {
	Send24hReminder        bool       `json:"send_24h_reminder"`
	ConfirmationEmailHours HourOffset `json:"confirmation_email_hours"`
}

// HourOffset is an hours-before-start value. Callers send it as a JSON number or a numeric
// string; anything that is not a finite number decodes to an invalid offset instead of failing.
type HourOffset struct {
	Value float64
	Valid bool
}

// Hours builds a valid HourOffset.
func Hours(h float64) HourOffset {
	return HourOffset{Value: h, Valid: true}
}

// ParseHourOffset parses a free-form hours value.
func ParseHourOffset(s string) HourOffset {
	s = strings.TrimSpace(s)
	if s == "" {
		return HourOffset{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return HourOffset{}
	}
	return HourOffset{Value: v, Valid: true}
}

// WholeHours truncates toward zero. Invalid offsets report 0.
func (h HourOffset) WholeHours() int {
	if !h.Valid {
		return 0
	}
	return int(math.Trunc(h.Value))
}

// Positive reports whether the offset schedules a send ahead of the event.
func (h HourOffset) Positive() bool {
	return h.WholeHours() > 0
}

// String renders the offset the way subjects display it.
func (h HourOffset) String() string {
	if !h.Valid {
		return ""
	}
	return strconv.FormatFloat(h.Value, 'f', -1, 64)
}

// MarshalJSON encodes valid offsets as numbers and invalid ones as null.
func (h HourOffset) MarshalJSON() ([]byte, error) {
	if !h.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(h.Value)
}

// UnmarshalJSON accepts numbers, numeric strings, and null.
func (h *HourOffset) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = HourOffset{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode hour offset: %w", err)
		}
		*h = ParseHourOffset(s)
		return nil
	}
	if data[0] == 't' || data[0] == 'f' || data[0] == '{' || data[0] == '[' {
		*h = HourOffset{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode hour offset: %w", err)
	}
	*h = HourOffset{Value: v, Valid: true}
	return nil
}
