package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignReady    CampaignStatus = "READY"
	CampaignSending  CampaignStatus = "SENDING"
	CampaignComplete CampaignStatus = "COMPLETE"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignReady, CampaignSending, CampaignComplete:
		return true
	}
	return false
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// Template is the document template rendered once per recipient.
type Template struct {
	Subject  string
	Body     string
	Filename string
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.Subject) == "" {
		return fmt.Errorf("%w: template subject is required", ErrValidation)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: template body is required", ErrValidation)
	}
	return nil
}

// Campaign is the unit of an entire bulk-send operation over an ordered
// recipient list. Recipients keep their original list order; the list and
// template are fixed at creation.
//
// Version is the optimistic ownership check for checkpoint writes: every
// successful save increments it, and a save against a stale version is
// rejected so two runners can never both make progress on one campaign.
type Campaign struct {
	ID         string
	Name       string
	Template   Template
	Recipients []Recipient
	Status     CampaignStatus
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks a campaign at creation time. Any recipient without a
// minimally valid delivery address blocks creation entirely, with the
// offending indexes reported, so bad records are never discovered mid-run.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", ErrValidation)
	}
	if err := c.Template.Validate(); err != nil {
		return err
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("%w: campaign must include at least one recipient", ErrValidation)
	}

	var invalid []int
	for i := range c.Recipients {
		if !ValidAddress(c.Recipients[i].Address) {
			invalid = append(invalid, c.Recipients[i].Index)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: recipients without a valid address at indexes %v", ErrValidation, invalid)
	}

	return nil
}

// NextPending returns the pending recipient with the lowest original index,
// or nil when none remain. Failed records are skipped, never retried within
// a run.
func (c *Campaign) NextPending() *Recipient {
	for i := range c.Recipients {
		if c.Recipients[i].Status == RecipientPending {
			return &c.Recipients[i]
		}
	}
	return nil
}

// Counts are always derived from the records so they cannot drift from the
// checkpointed state after a crash.

func (c *Campaign) SentCount() int    { return c.countByStatus(RecipientSent) }
func (c *Campaign) FailedCount() int  { return c.countByStatus(RecipientFailed) }
func (c *Campaign) PendingCount() int { return c.countByStatus(RecipientPending) }

func (c *Campaign) countByStatus(status RecipientStatus) int {
	n := 0
	for i := range c.Recipients {
		if c.Recipients[i].Status == status {
			n++
		}
	}
	return n
}

// SentToday counts records whose SentAt falls on the calendar day of now in
// the reference timezone. Derived per check instead of kept as a mutable
// counter.
func (c *Campaign) SentToday(now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()

	n := 0
	for i := range c.Recipients {
		sentAt := c.Recipients[i].SentAt
		if c.Recipients[i].Status != RecipientSent || sentAt == nil {
			continue
		}
		sy, sm, sd := sentAt.In(loc).Date()
		if sy == y && sm == m && sd == d {
			n++
		}
	}
	return n
}

// PercentComplete reports how much of the list has left pending.
func (c *Campaign) PercentComplete() float64 {
	total := len(c.Recipients)
	if total == 0 {
		return 0
	}
	done := total - c.PendingCount()
	return float64(done) / float64(total) * 100
}

// RefreshStatus moves the campaign to complete once every record has left
// pending. A campaign halted by a pacing stop stays SENDING and remains
// resumable indefinitely.
func (c *Campaign) RefreshStatus() {
	if c.Status != CampaignComplete && c.PendingCount() == 0 {
		c.Status = CampaignComplete
	}
}
