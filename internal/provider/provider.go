package provider

import "context"

// Provider is the outbound delivery port. The engine treats Send as slow
// and fallible, and never assumes idempotency: a failure does not guarantee
// the message was not delivered, which is why failed items are never
// retried silently.
type Provider interface {
	Send(ctx context.Context, msg Message) (*ProviderResponse, error)
	// VerifyCredential checks that a send-capable credential is present
	// before a run starts, so a dead credential refuses the run instead
	// of failing item by item.
	VerifyCredential(ctx context.Context) error
}

// Message is one personalized delivery: the rendered document plus the
// subject/body pair for the carrying message.
type Message struct {
	To       string
	Subject  string
	Body     string
	Document []byte
	Filename string
}

// ProviderResponse stores provider call metadata for audit and logging.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
