package notify

import "context"

// Message is one ephemeral notification, constructed per dispatch.
type Message struct {
	Subject  string
	Body     string
	Metadata map[string]string
}

// Provider delivers a message to one configured channel. Implementations own
// their endpoint resolution and payload shaping.
type Provider interface {
	Send(ctx context.Context, message Message) error
	Name() string
}
