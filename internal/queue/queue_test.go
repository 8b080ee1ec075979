package queue

import (
	"context"
	"testing"
	"time"
)

func TestEventTypeIsValid(t *testing.T) {
	t.Parallel()

	valid := []EventType{EventRunStarted, EventRunPaused, EventRunCompleted, EventItemSent, EventItemFailed}
	for _, eventType := range valid {
		if !eventType.IsValid() {
			t.Fatalf("IsValid() = false for %s", eventType)
		}
	}

	if EventType("RUN_EXPLODED").IsValid() {
		t.Fatal("IsValid() = true for unknown event type")
	}
	if EventType("").IsValid() {
		t.Fatal("IsValid() = true for empty event type")
	}
}

func TestRunEventValidate(t *testing.T) {
	t.Parallel()

	event := RunEvent{
		CampaignID: "campaign-1",
		Type:       EventItemSent,
		OccurredAt: time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	missingID := event
	missingID.CampaignID = "  "
	if err := missingID.Validate(); err == nil {
		t.Fatal("expected error for missing campaign id")
	}

	badType := event
	badType.Type = "SOMETHING"
	if err := badType.Validate(); err == nil {
		t.Fatal("expected error for invalid event type")
	}
}

func TestRunEventRoutingKey(t *testing.T) {
	t.Parallel()

	event := RunEvent{CampaignID: "campaign-1", Type: EventRunPaused}
	if got, want := event.RoutingKey(), "campaign.campaign-1.run_paused"; got != want {
		t.Fatalf("RoutingKey() = %q, want %q", got, want)
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p NopPublisher
	if err := p.Publish(context.Background(), RunEvent{}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
