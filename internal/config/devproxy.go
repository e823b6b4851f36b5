package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProxyRoute forwards requests whose path starts with Prefix to Target.
type ProxyRoute struct {
	Prefix string `yaml:"prefix"`
	Target string `yaml:"target"`
}

// ProxyTable is the development proxy table used when the API base URL is relative.
type ProxyTable struct {
	Routes []ProxyRoute `yaml:"routes"`
}

// LoadProxyTable loads the proxy table from config/devproxy.yaml
func LoadProxyTable() (*ProxyTable, error) {
	return LoadProxyTableFromPath(filepath.Join("config", "devproxy.yaml"))
}

// LoadProxyTableFromPath loads the proxy table from a specific path
func LoadProxyTableFromPath(path string) (*ProxyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dev proxy config: %w", err)
	}

	var table ProxyTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse dev proxy config: %w", err)
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// LoadProxyTableOrDefault loads the table from path or falls back to the
// default table pointing every API prefix at target.
func LoadProxyTableOrDefault(path, target string) *ProxyTable {
	table, err := LoadProxyTableFromPath(path)
	if err != nil {
		return DefaultProxyTable(target)
	}
	return table
}

// DefaultProxyTable routes the auth and patient prefixes to target.
func DefaultProxyTable(target string) *ProxyTable {
	return &ProxyTable{
		Routes: []ProxyRoute{
			{Prefix: "/auth", Target: target},
			{Prefix: "/patients", Target: target},
		},
	}
}

// Validate checks that every route has a path prefix and an absolute target.
func (t *ProxyTable) Validate() error {
	if len(t.Routes) == 0 {
		return fmt.Errorf("dev proxy config: at least one route is required")
	}
	for i, route := range t.Routes {
		if !strings.HasPrefix(route.Prefix, "/") {
			return fmt.Errorf("route %d: prefix %q must start with /", i, route.Prefix)
		}
		u, err := url.Parse(route.Target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("route %d: target %q must be an absolute URL", i, route.Target)
		}
	}
	return nil
}
