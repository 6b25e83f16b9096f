// Package matcher decides whether a navigated URL belongs to a protected domain.
package matcher

import (
	"net"
	"net/url"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// Normalize reduces a URL or host to the form rules are stored in:
// lowercase ASCII host without scheme, port, path, trailing dot or leading "www.".
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")

	if ascii, err := idna.ToASCII(s); err == nil {
		s = ascii
	}
	return s
}

// IsWebURL reports whether rawURL is an http or https page with a host.
// Browser internal pages, extension pages and local files are not web URLs.
func IsWebURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Hostname() != ""
}

// ExtractDomain returns the normalized domain of a web URL, or "" when the
// URL is not a web page.
func ExtractDomain(rawURL string) string {
	if !IsWebURL(rawURL) {
		return ""
	}
	return Normalize(rawURL)
}

// Matches reports whether rawURL belongs to ruleDomain: the normalized names
// are equal, or one is a subdomain of the other. Empty names never match.
func Matches(rawURL, ruleDomain string) bool {
	d := Normalize(rawURL)
	r := Normalize(ruleDomain)
	if d == "" || r == "" {
		return false
	}
	if d == r {
		return true
	}
	fd, fr := dns.Fqdn(d), dns.Fqdn(r)
	return dns.IsSubDomain(fr, fd) || dns.IsSubDomain(fd, fr)
}

// Valid reports whether domain is a syntactically valid name with at least two labels.
func Valid(domain string) bool {
	if domain == "" {
		return false
	}
	labels, ok := dns.IsDomainName(domain)
	return ok && labels >= 2
}
