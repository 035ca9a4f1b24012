package worker

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Class is the resource class of an intercepted request.
type Class int

const (
	// ClassIgnored requests pass through untouched (non-GET or non-HTTP scheme).
	ClassIgnored Class = iota
	// ClassData requests target a weather data API host.
	ClassData
	// ClassAsset requests are everything else: the app shell and static files.
	ClassAsset
)

func (c Class) String() string {
	switch c {
	case ClassData:
		return "data"
	case ClassAsset:
		return "asset"
	default:
		return "ignored"
	}
}

// Classify decides the resource class of a request before any I/O happens.
func Classify(method string, u *url.URL, dataHosts []string) Class {
	if method != http.MethodGet || u == nil {
		return ClassIgnored
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ClassIgnored
	}
	host := u.Hostname()
	for _, pattern := range dataHosts {
		if MatchesHost(host, pattern) {
			return ClassData
		}
	}
	return ClassAsset
}

// MatchesHost reports whether host equals pattern or is a subdomain of it.
// Comparison is case-insensitive and ignores a trailing dot.
func MatchesHost(host, pattern string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	pattern = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(pattern)), ".")
	if host == "" || pattern == "" {
		return false
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// CacheKey normalizes a URL for use as a cache key: lower-case scheme and host,
// default port dropped, empty path as "/", fragment dropped. The query is kept.
func CacheKey(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	host := strings.ToLower(c.Host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (c.Scheme == "http" && port == "80") || (c.Scheme == "https" && port == "443") {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]"
			}
		}
	}
	c.Host = host
	if c.Path == "" {
		c.Path = "/"
		c.RawPath = ""
	}
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}
