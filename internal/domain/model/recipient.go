package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/net/idna"
)

// RecipientStatus is the registration status of a recipient.
type RecipientStatus string

const (
	// RecipientStatusRegistered marks a registrant eligible for notifications.
	RecipientStatusRegistered RecipientStatus = "registered"
	// RecipientStatusCancelled marks a registrant who withdrew.
	RecipientStatusCancelled RecipientStatus = "cancelled"
)

// Recipient is a registrant that may receive a notification.
type Recipient struct {
	ID       string          `json:"id"`
	FullName string          `json:"full_name"`
	Email    string          `json:"email"`
	Status   RecipientStatus `json:"status,omitempty"`
}

// Eligible reports whether the recipient should receive mail. An empty status counts as registered
// because pinned lists supplied by callers omit it.
func (r Recipient) Eligible() bool {
	return r.Status == "" || r.Status == RecipientStatusRegistered
}

// Validate checks the recipient has an id and a deliverable address.
func (r Recipient) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("recipient id is required")
	}
	if _, err := NormalizeEmail(r.Email); err != nil {
		return fmt.Errorf("recipient %s: %w", r.ID, err)
	}
	return nil
}

// NormalizeEmail trims an address and converts its domain to the ASCII form used on the wire.
func NormalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", fmt.Errorf("invalid email %q: %w", raw, err)
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return "", fmt.Errorf("invalid email %q", raw)
	}
	domain, err := idna.Lookup.ToASCII(addr.Address[at+1:])
	if err != nil {
		return "", fmt.Errorf("invalid email domain %q: %w", raw, err)
	}
	return addr.Address[:at] + "@" + strings.ToLower(domain), nil
}

// EligibleRecipients drops cancelled registrants and duplicate ids while preserving order.
func EligibleRecipients(in []Recipient) []Recipient {
	out := make([]Recipient, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		if !r.Eligible() {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
