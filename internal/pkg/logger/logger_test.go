package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
	})
	return &buf
}

func TestLogStructure(t *testing.T) {
	buf := capture(t)

	Info("dispatch complete", "total", 42, "failed", 3)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["level"] != "INFO" || entry["msg"] != "dispatch complete" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["total"] != "42" || entry["failed"] != "3" {
		t.Errorf("fields missing: %v", entry)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Debug("hidden")
	Info("hidden too")
	Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("entries below level leaked")
	}
	if !strings.Contains(out, "visible") {
		t.Error("WARN entry suppressed")
	}
}

func TestLogRedactsEmailFields(t *testing.T) {
	buf := capture(t)

	Warn("send failed", "email", "jane.roe@example.com")

	out := buf.String()
	if strings.Contains(out, "jane.roe@example.com") {
		t.Error("email address leaked into log output")
	}
	if !strings.Contains(out, "ja***@example.com") {
		t.Errorf("expected redacted form in output: %s", out)
	}
}

func TestLogRedactsEmbeddedAddresses(t *testing.T) {
	buf := capture(t)

	Error("provider error", "error", "550 mailbox bob@example.org unavailable")

	if strings.Contains(buf.String(), "bob@example.org") {
		t.Error("embedded address leaked into log output")
	}
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"jane.roe@example.com", "ja***@example.com"},
		{"jr@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
