package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ValidateScheme rejects any URL whose scheme is not http or https, per
// §4.1's invalid_url rule.
func ValidateScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

// ssrfDeniedRanges lists the CIDR blocks a fetch target's resolved address
// must not fall in unless the operator has explicitly opted in: loopback,
// link-local, CGNAT, and the three RFC-1918 private ranges.
var ssrfDeniedRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid ssrf cidr %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// CheckSSRF resolves rawURL's host and rejects it if any resolved address
// falls in a loopback, link-local, CGNAT, or RFC-1918 private range, unless
// allowPrivate is set. IP literals are checked directly; hostnames are
// resolved via the default resolver, and a resolution failure is surfaced
// as an error rather than silently passed through.
func CheckSSRF(ctx context.Context, rawURL string, allowPrivate bool) error {
	if allowPrivate {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url has no host: %q", rawURL)
	}

	var addrs []net.IPAddr
	if ip := net.ParseIP(host); ip != nil {
		addrs = []net.IPAddr{{IP: ip}}
	} else {
		addrs, err = net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return fmt.Errorf("resolve host %q: %w", host, err)
		}
	}

	for _, addr := range addrs {
		if addr.IP.IsLoopback() || addr.IP.IsLinkLocalUnicast() || addr.IP.IsLinkLocalMulticast() {
			return fmt.Errorf("address %s for host %q is disallowed", addr.IP, host)
		}
		for _, denied := range ssrfDeniedRanges {
			if denied.Contains(addr.IP) {
				return fmt.Errorf("address %s for host %q is in a disallowed range %s", addr.IP, host, denied)
			}
		}
	}
	return nil
}

// DomainKey returns the registered domain (eTLD+1) of rawURL, the keying
// unit for all per-site state.
func DomainKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url has no host: %q", rawURL)
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// IP literals and single-label hosts have no public suffix; key
		// on the host itself.
		return host, nil
	}
	return etld1, nil
}

// normalizeURL lowercases scheme/host, strips default ports and the
// fragment, and sorts query parameters, so that equivalent URLs fingerprint
// identically.
func normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	q := u.Query()
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fingerprint computes SHA-256(normalized_url ∥ canonical(opts)), the
// stable key used by the result cache and single-flight coalescing.
func Fingerprint(req Request) (string, error) {
	norm, err := normalizeURL(req.URL)
	if err != nil {
		return "", err
	}
	opts := canonicalOpts(req)
	h := sha256.New()
	h.Write([]byte(norm))
	h.Write([]byte{0})
	h.Write([]byte(opts))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalOpts(req Request) string {
	parts := []string{
		"force_strategy=" + string(req.ForceStrategy),
		fmt.Sprintf("timeout_seconds=%d", req.TimeoutSeconds),
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}
