package stealth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestFetchSendsBrowserLikeHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>enough text to not be empty</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	outcome, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.NotEmpty(t, gotUA)
	require.NotEmpty(t, gotAccept)
}

func TestFetchCountsRedirects(t *testing.T) {
	var final *httptest.Server
	final = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>landed</body></html>"))
	}))
	defer final.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirector.Close()

	f := New(Config{Timeout: 2 * time.Second})
	outcome, err := f.Fetch(context.Background(), redirector.URL)
	require.NoError(t, err)
	require.Equal(t, 1, outcome.RedirectCount)
}

func TestFetchClassifiesConnectionRefused(t *testing.T) {
	f := New(Config{Timeout: 500 * time.Millisecond})
	outcome, err := f.Fetch(context.Background(), "http://127.0.0.1:1")
	require.NoError(t, err)
	require.Equal(t, orchestrator.FailureConnection, outcome.Kind)
}

func TestFetchEmptyBodyClassifiesParseEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	outcome, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, orchestrator.FailureParseEmpty, outcome.Kind)
}
