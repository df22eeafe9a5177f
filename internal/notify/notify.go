// Package notify publishes scrape-completion events, the domain analogue
// of the teacher's internal/publisher.
package notify

import (
	"context"
	"fmt"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

// Publisher is the minimal capability notify needs: publish a JSON payload
// to a named topic and return a message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier implements orchestrator.Notifier over a Publisher.
type Notifier struct {
	publisher Publisher
	topic     string
}

// New builds a Notifier. A nil publisher makes Notify a no-op, matching the
// teacher's NoOpProvider pattern without a separate type.
func New(publisher Publisher, topic string) *Notifier {
	return &Notifier{publisher: publisher, topic: topic}
}

// Notify implements orchestrator.Notifier.
func (n *Notifier) Notify(ctx context.Context, event orchestrator.CompletionEvent) error {
	if n.publisher == nil || n.topic == "" {
		return nil
	}
	if _, err := n.publisher.Publish(ctx, n.topic, event); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}
