package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testCampaign(recipients ...Recipient) *Campaign {
	return &Campaign{
		ID:   "c1",
		Name: "spring letters",
		Template: Template{
			Subject: "Hello {{.name}}",
			Body:    "Dear {{.name}},",
		},
		Status:     CampaignReady,
		Recipients: recipients,
	}
}

func pendingRecipient(index int, address string) Recipient {
	return Recipient{
		Index:   index,
		Address: address,
		Status:  RecipientPending,
	}
}

func TestCampaignValidateRejectsInvalidAddresses(t *testing.T) {
	t.Parallel()

	campaign := testCampaign(
		pendingRecipient(0, "a@example.com"),
		pendingRecipient(1, ""),
		pendingRecipient(2, "not-an-address"),
		pendingRecipient(3, "b@example.com"),
	)

	err := campaign.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if !strings.Contains(err.Error(), "[1 2]") {
		t.Fatalf("error should report offending indexes, got %q", err.Error())
	}
}

func TestCampaignValidateRequiresRecipients(t *testing.T) {
	t.Parallel()

	campaign := testCampaign()
	if err := campaign.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestCampaignValidateOK(t *testing.T) {
	t.Parallel()

	campaign := testCampaign(
		pendingRecipient(0, "a@example.com"),
		pendingRecipient(1, "b@example.com"),
	)
	if err := campaign.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestCampaignNextPendingFollowsOriginalOrder(t *testing.T) {
	t.Parallel()

	campaign := testCampaign(
		pendingRecipient(0, "a@example.com"),
		pendingRecipient(1, "b@example.com"),
		pendingRecipient(2, "c@example.com"),
	)

	if err := campaign.Recipients[0].MarkSent(time.Now()); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := campaign.Recipients[1].MarkFailed("mailbox unavailable"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	next := campaign.NextPending()
	if next == nil {
		t.Fatal("expected a pending recipient")
	}
	// Failed records are skipped, never retried within a run.
	if next.Index != 2 {
		t.Fatalf("next index = %d, want 2", next.Index)
	}
}

func TestCampaignCountsConserved(t *testing.T) {
	t.Parallel()

	campaign := testCampaign(
		pendingRecipient(0, "a@example.com"),
		pendingRecipient(1, "b@example.com"),
		pendingRecipient(2, "c@example.com"),
	)

	if err := campaign.Recipients[0].MarkSent(time.Now()); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := campaign.Recipients[1].MarkFailed("boom"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	total := campaign.SentCount() + campaign.FailedCount() + campaign.PendingCount()
	if total != len(campaign.Recipients) {
		t.Fatalf("count sum = %d, want %d", total, len(campaign.Recipients))
	}
}

func TestRecipientSentIsImmutable(t *testing.T) {
	t.Parallel()

	r := pendingRecipient(0, "a@example.com")
	sentAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := r.MarkSent(sentAt); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}

	if err := r.MarkSent(sentAt.Add(time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("second MarkSent error = %v, want ErrConflict", err)
	}
	if err := r.MarkFailed("late failure"); !errors.Is(err, ErrConflict) {
		t.Fatalf("MarkFailed after sent error = %v, want ErrConflict", err)
	}
	if r.SentAt == nil || !r.SentAt.Equal(sentAt) {
		t.Fatalf("SentAt = %v, want %v", r.SentAt, sentAt)
	}
	if r.Error != nil {
		t.Fatal("sent record must not carry an error")
	}
}

func TestRecipientRequeueClearsError(t *testing.T) {
	t.Parallel()

	r := pendingRecipient(0, "a@example.com")
	if err := r.MarkFailed("mailbox full"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if r.Error == nil || *r.Error != "mailbox full" {
		t.Fatalf("Error = %v, want mailbox full", r.Error)
	}

	if err := r.Requeue(); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if r.Status != RecipientPending {
		t.Fatalf("status = %s, want PENDING", r.Status)
	}
	if r.Error != nil {
		t.Fatal("requeue must clear the error")
	}

	// Only failed records can be requeued.
	if err := r.Requeue(); !errors.Is(err, ErrConflict) {
		t.Fatalf("Requeue on pending error = %v, want ErrConflict", err)
	}
}

func TestCampaignSentTodayUsesReferenceTimezone(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("TEST", 3*60*60)

	yesterday := time.Date(2025, 3, 9, 22, 0, 0, 0, loc).UTC()
	today := time.Date(2025, 3, 10, 9, 0, 0, 0, loc).UTC()

	campaign := testCampaign(
		pendingRecipient(0, "a@example.com"),
		pendingRecipient(1, "b@example.com"),
		pendingRecipient(2, "c@example.com"),
	)
	if err := campaign.Recipients[0].MarkSent(yesterday); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := campaign.Recipients[1].MarkSent(today); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}

	now := time.Date(2025, 3, 10, 15, 0, 0, 0, loc)
	if got := campaign.SentToday(now, loc); got != 1 {
		t.Fatalf("SentToday = %d, want 1", got)
	}

	nextDay := now.Add(24 * time.Hour)
	if got := campaign.SentToday(nextDay, loc); got != 0 {
		t.Fatalf("SentToday next day = %d, want 0", got)
	}
}

func TestCampaignRefreshStatus(t *testing.T) {
	t.Parallel()

	campaign := testCampaign(
		pendingRecipient(0, "a@example.com"),
		pendingRecipient(1, "b@example.com"),
	)
	campaign.Status = CampaignSending

	campaign.RefreshStatus()
	if campaign.Status != CampaignSending {
		t.Fatalf("status = %s, want SENDING while pending remain", campaign.Status)
	}

	if err := campaign.Recipients[0].MarkSent(time.Now()); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := campaign.Recipients[1].MarkFailed("boom"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	campaign.RefreshStatus()
	if campaign.Status != CampaignComplete {
		t.Fatalf("status = %s, want COMPLETE once nothing is pending", campaign.Status)
	}
}

func TestValidAddress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		address string
		want    bool
	}{
		{address: "a@example.com", want: true},
		{address: "  a@example.com  ", want: true},
		{address: "", want: false},
		{address: "   ", want: false},
		{address: "no-separator", want: false},
		{address: "@example.com", want: false},
		{address: "trailing@", want: false},
	}

	for _, tc := range testCases {
		if got := ValidAddress(tc.address); got != tc.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tc.address, got, tc.want)
		}
	}
}
