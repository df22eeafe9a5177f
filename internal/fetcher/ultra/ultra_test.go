package ultra

import (
	"context"
	"net/http"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNegativeMaxParallel(t *testing.T) {
	_, err := New(Config{MaxParallel: -1})
	require.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	f, err := New(Config{})
	require.NoError(t, err)
	defer f.Close()
	require.Nil(t, f.slots)
	require.Equal(t, float64(2), float64(f.limiter.Limit()))
}

func TestNewBoundsConcurrencyWithSlots(t *testing.T) {
	f, err := New(Config{MaxParallel: 3})
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, 3, cap(f.slots))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 204, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.com/rendered", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
}

func TestAcquireAndReleaseSlotRoundTrip(t *testing.T) {
	f, err := New(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.acquireSlot(context.Background()))
	f.releaseSlot()
	require.Len(t, f.slots, 0)
}
