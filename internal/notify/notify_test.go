package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestNotifyPublishesToConfiguredTopic(t *testing.T) {
	pub := NewMemoryPublisher()
	n := New(pub, "scrape-completions")

	err := n.Notify(context.Background(), orchestrator.CompletionEvent{
		TraceID:      "trace-1",
		Domain:       "example.com",
		Status:       "success",
		StrategyUsed: orchestrator.StrategyLight,
		Attempts:     1,
	})
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "scrape-completions", msgs[0].Topic)
	event := msgs[0].Payload.(orchestrator.CompletionEvent)
	require.Equal(t, "trace-1", event.TraceID)
}

func TestNotifyIsNoOpWithoutTopic(t *testing.T) {
	pub := NewMemoryPublisher()
	n := New(pub, "")

	err := n.Notify(context.Background(), orchestrator.CompletionEvent{TraceID: "trace-2"})
	require.NoError(t, err)
	require.Empty(t, pub.Messages())
}

func TestNotifyIsNoOpWithoutPublisher(t *testing.T) {
	n := New(nil, "scrape-completions")
	err := n.Notify(context.Background(), orchestrator.CompletionEvent{TraceID: "trace-3"})
	require.NoError(t, err)
}
