package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProxyTableFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devproxy.yaml")
	data := []byte("routes:\n  - prefix: /auth\n    target: http://api:8001\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	table, err := LoadProxyTableFromPath(path)
	if err != nil {
		t.Fatalf("LoadProxyTableFromPath() error = %v", err)
	}
	if len(table.Routes) != 1 {
		t.Fatalf("routes = %d, want 1", len(table.Routes))
	}
	if table.Routes[0].Target != "http://api:8001" {
		t.Errorf("target = %q, want http://api:8001", table.Routes[0].Target)
	}
}

func TestLoadProxyTableFromPath_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", "routes: []\n"},
		{"relative prefix", "routes:\n  - prefix: auth\n    target: http://api:8001\n"},
		{"relative target", "routes:\n  - prefix: /auth\n    target: api\n"},
		{"malformed yaml", "routes: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "devproxy.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadProxyTableFromPath(path); err == nil {
				t.Error("LoadProxyTableFromPath() error = nil, want error")
			}
		})
	}
}

func TestLoadProxyTableOrDefault(t *testing.T) {
	table := LoadProxyTableOrDefault(filepath.Join(t.TempDir(), "missing.yaml"), "http://localhost:8001")

	if len(table.Routes) != 2 {
		t.Fatalf("routes = %d, want 2", len(table.Routes))
	}
	prefixes := map[string]bool{}
	for _, r := range table.Routes {
		prefixes[r.Prefix] = true
		if r.Target != "http://localhost:8001" {
			t.Errorf("target = %q, want http://localhost:8001", r.Target)
		}
	}
	if !prefixes["/auth"] || !prefixes["/patients"] {
		t.Errorf("prefixes = %v, want /auth and /patients", prefixes)
	}
}
