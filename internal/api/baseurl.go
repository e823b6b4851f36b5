package api

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/R3E-Network/patient_portal/internal/config"
)

// DefaultAPIURL is used outside development when no API URL is configured.
const DefaultAPIURL = "http://localhost:8001"

// ResolveBaseURL returns "" (relative paths) in development mode, otherwise
// apiURL or DefaultAPIURL when apiURL is empty.
func ResolveBaseURL(mode, apiURL string) string {
	if strings.EqualFold(mode, config.ModeDevelopment) {
		return ""
	}
	if apiURL != "" {
		return apiURL
	}
	return DefaultAPIURL
}

type proxyRoute struct {
	prefix string
	target *url.URL
}

// ProxyTransport routes relative request URLs to the target of the longest
// matching path prefix, the way a development server proxy does. Absolute
// URLs pass through unchanged.
type ProxyTransport struct {
	routes []proxyRoute
	base   http.RoundTripper
}

// NewProxyTransport builds a transport from the proxy table. base defaults
// to http.DefaultTransport.
func NewProxyTransport(table *config.ProxyTable, base http.RoundTripper) (*ProxyTransport, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = http.DefaultTransport
	}

	routes := make([]proxyRoute, 0, len(table.Routes))
	for _, r := range table.Routes {
		target, err := url.Parse(r.Target)
		if err != nil {
			return nil, fmt.Errorf("parse proxy target %q: %w", r.Target, err)
		}
		routes = append(routes, proxyRoute{prefix: r.Prefix, target: target})
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].prefix) > len(routes[j].prefix)
	})

	return &ProxyTransport{routes: routes, base: base}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *ProxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != "" {
		return t.base.RoundTrip(req)
	}

	for _, route := range t.routes {
		if !strings.HasPrefix(req.URL.Path, route.prefix) {
			continue
		}
		out := req.Clone(req.Context())
		out.URL.Scheme = route.target.Scheme
		out.URL.Host = route.target.Host
		out.URL.Path = strings.TrimSuffix(route.target.Path, "/") + req.URL.Path
		out.URL.RawPath = ""
		out.Host = route.target.Host
		return t.base.RoundTrip(out)
	}

	return nil, fmt.Errorf("no dev proxy route for %s", req.URL.Path)
}
