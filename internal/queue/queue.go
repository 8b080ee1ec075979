package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventExchange is the topic exchange run events are published to.
const EventExchange = "campaign.events"

// EventType classifies run events.
type EventType string

const (
	EventRunStarted   EventType = "RUN_STARTED"
	EventRunPaused    EventType = "RUN_PAUSED"
	EventRunCompleted EventType = "RUN_COMPLETED"
	EventItemSent     EventType = "ITEM_SENT"
	EventItemFailed   EventType = "ITEM_FAILED"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventRunStarted, EventRunPaused, EventRunCompleted, EventItemSent, EventItemFailed:
		return true
	}
	return false
}

// RunEvent is the broker payload describing run progress. Events are
// observational only; the run loop itself stays strictly sequential and
// never fans work out through the broker.
type RunEvent struct {
	CampaignID     string    `json:"campaignId"`
	Type           EventType `json:"type"`
	RecipientIndex *int      `json:"recipientIndex,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	SentCount      int       `json:"sentCount"`
	FailedCount    int       `json:"failedCount"`
	PendingCount   int       `json:"pendingCount"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (e RunEvent) Validate() error {
	if strings.TrimSpace(e.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	return nil
}

// RoutingKey returns the topic routing key, e.g. campaign.<id>.item_sent.
func (e RunEvent) RoutingKey() string {
	return fmt.Sprintf("campaign.%s.%s", e.CampaignID, strings.ToLower(string(e.Type)))
}

// Publisher publishes run events for external observers.
type Publisher interface {
	Publish(ctx context.Context, event RunEvent) error
	Close() error
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event RunEvent) error { return nil }
func (NopPublisher) Close() error                                      { return nil }
