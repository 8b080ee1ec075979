package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecipientStatus represents the lifecycle state of a recipient record.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "PENDING"
	RecipientSent    RecipientStatus = "SENT"
	RecipientFailed  RecipientStatus = "FAILED"
)

func (s RecipientStatus) String() string { return string(s) }

func (s RecipientStatus) IsValid() bool {
	switch s {
	case RecipientPending, RecipientSent, RecipientFailed:
		return true
	}
	return false
}

func ParseRecipientStatusFromString(s string) (RecipientStatus, error) {
	st := RecipientStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient status %q", ErrValidation, s)
	}
	return st, nil
}

// Recipient is one addressable unit of work in a campaign. Index is the
// position in the original recipient list and defines processing order.
type Recipient struct {
	Index   int
	Address string
	Fields  map[string]string
	Status  RecipientStatus
	SentAt  *time.Time
	Error   *string
}

// Eligible reports whether the record may be attempted: pending with a
// minimally valid address. Creation-time validation guarantees the address
// part for well-formed campaigns; this guards the runner regardless.
func (r *Recipient) Eligible() bool {
	return r.Status == RecipientPending && ValidAddress(r.Address)
}

// MarkSent transitions a pending record to sent. SentAt is set exactly once;
// a sent record is immutable afterwards.
func (r *Recipient) MarkSent(now time.Time) error {
	if r.Status != RecipientPending {
		return fmt.Errorf("%w: recipient %d is %s, only pending records can be sent", ErrConflict, r.Index, r.Status)
	}
	sentAt := now.UTC()
	r.Status = RecipientSent
	r.SentAt = &sentAt
	r.Error = nil
	return nil
}

// MarkFailed transitions a pending record to failed, recording the reason.
func (r *Recipient) MarkFailed(reason string) error {
	if r.Status != RecipientPending {
		return fmt.Errorf("%w: recipient %d is %s, only pending records can fail", ErrConflict, r.Index, r.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "delivery failed"
	}
	r.Status = RecipientFailed
	r.Error = &reason
	r.SentAt = nil
	return nil
}

// Requeue resets a failed record back to pending. There is no automatic
// retry; this is the explicit operator action.
func (r *Recipient) Requeue() error {
	if r.Status != RecipientFailed {
		return fmt.Errorf("%w: recipient %d is %s, only failed records can be requeued", ErrConflict, r.Index, r.Status)
	}
	r.Status = RecipientPending
	r.Error = nil
	return nil
}

// ValidAddress applies the minimal addressing check for the outbound
// channel: non-empty and containing an "@" separator.
func ValidAddress(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	at := strings.Index(address, "@")
	return at > 0 && at < len(address)-1
}
