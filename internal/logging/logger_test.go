package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNew_LevelAndFormat(t *testing.T) {
	logger := New("test", "debug", "json")
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want %v", logger.GetLevel(), logrus.DebugLevel)
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want *logrus.JSONFormatter", logger.Formatter)
	}

	fallback := New("test", "nonsense", "text")
	if fallback.GetLevel() != logrus.InfoLevel {
		t.Errorf("fallback level = %v, want %v", fallback.GetLevel(), logrus.InfoLevel)
	}
}

func TestWithContext_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("portal", "info", "json")
	logger.SetOutput(&buf)

	ctx := WithBrowserID(WithTraceID(context.Background(), "trace-1"), "browser-1")
	logger.WithContext(ctx).Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "portal" {
		t.Errorf("service = %v, want portal", entry["service"])
	}
	if entry["trace_id"] != "trace-1" {
		t.Errorf("trace_id = %v, want trace-1", entry["trace_id"])
	}
	if entry["browser_id"] != "browser-1" {
		t.Errorf("browser_id = %v, want browser-1", entry["browser_id"])
	}
}

func TestLogRequest_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warning"},
		{http.StatusBadGateway, "error"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := New("portal", "info", "json")
		logger.SetOutput(&buf)

		logger.LogRequest(context.Background(), "GET", "/patients", tt.status, 5*time.Millisecond)

		var entry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %v", tt.status, entry["level"], tt.level)
		}
	}
}

func TestTraceIDHelpers(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID() = %q, want empty", got)
	}
	id := NewTraceID()
	if id == "" || id == NewTraceID() {
		t.Errorf("NewTraceID() returned %q, want unique non-empty IDs", id)
	}
}
