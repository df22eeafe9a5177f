package light

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestFetchSuccessReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>hello world, this is plenty of text content</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	outcome, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, http.StatusOK, outcome.HTTPStatus)
	require.NotEmpty(t, outcome.Content)
}

func TestFetchClassifies429AsHTTP429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	outcome, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.False(t, outcome.Success)
	require.Equal(t, orchestrator.FailureHTTP429, outcome.Kind)
	require.Equal(t, 2*time.Second, outcome.RetryAfter)
}

func TestFetchClassifies403AsHTTPBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	outcome, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, orchestrator.FailureHTTP4xxBlocked, outcome.Kind)
}

func TestFetchClassifies500AsHTTP5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	outcome, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, orchestrator.FailureHTTP5xx, outcome.Kind)
}

func TestFetchRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	outcome, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, orchestrator.FailureCancelled, outcome.Kind)
}
