package discover

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so visited-page checks do not revisit
// duplicates. It lowercases the scheme and host, removes default ports,
// strips fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
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

// resolveLink resolves href against the page URL and returns an absolute
// http(s) URL, or ok=false for fragments, javascript:, data:, mailto: and
// other non-navigable schemes.
func resolveLink(page *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	resolved := page.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, false
	}
	if resolved.Host == "" {
		return nil, false
	}
	resolved.Fragment = ""
	return resolved, true
}

// hostKey canonicalizes a host for same-host comparison.
func hostKey(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return strings.TrimPrefix(host, "www.")
}

// seedHosts collects the allowed host set for a discovery pass.
func seedHosts(seeds []string) map[string]struct{} {
	hosts := make(map[string]struct{}, len(seeds))
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Host == "" {
			continue
		}
		hosts[hostKey(u.Host)] = struct{}{}
	}
	return hosts
}
