package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestValidateSchemeAcceptsHTTPAndHTTPS(t *testing.T) {
	require.NoError(t, orchestrator.ValidateScheme("http://example.com/"))
	require.NoError(t, orchestrator.ValidateScheme("https://example.com/"))
}

func TestValidateSchemeRejectsOthers(t *testing.T) {
	for _, u := range []string{"ftp://example.com/", "file:///etc/passwd", "javascript:alert(1)", "not a url"} {
		require.Error(t, orchestrator.ValidateScheme(u), "expected %q to be rejected", u)
	}
}

func TestCheckSSRFRejectsLoopbackAndPrivateRanges(t *testing.T) {
	for _, u := range []string{
		"http://127.0.0.1/",
		"http://localhost/",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.5/",
		"http://172.16.0.1/",
		"http://192.168.1.1/",
		"http://100.64.0.1/",
	} {
		require.Error(t, orchestrator.CheckSSRF(context.Background(), u, false), "expected %q to be rejected", u)
	}
}

func TestCheckSSRFAllowsPrivateWhenOptedIn(t *testing.T) {
	require.NoError(t, orchestrator.CheckSSRF(context.Background(), "http://127.0.0.1/", true))
}

func TestCheckSSRFAllowsPublicAddress(t *testing.T) {
	require.NoError(t, orchestrator.CheckSSRF(context.Background(), "http://93.184.216.34/", false))
}
