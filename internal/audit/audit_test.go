package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("block", "comment", "blocked word hit", "这个观点值得讨论")
	Record("pass", "like", "", "")

	path := filepath.Join(home, "logs", "audit.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least two audit entries, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first audit entry: %v", err)
	}
	if first["decision"] != "block" {
		t.Fatalf("expected block decision, got %#v", first["decision"])
	}
	if first["action_type"] != "comment" {
		t.Fatalf("expected action_type comment, got %#v", first["action_type"])
	}
	if _, ok := first["timestamp"]; !ok {
		t.Fatalf("expected timestamp in audit entry: %#v", first)
	}
}

func TestRecordRedactsContent(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("block", "publish", "review flagged", "draft with api_key=sk-abcdef1234567890")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(raw), "sk-abcdef1234567890") {
		t.Fatalf("audit log leaked secret: %s", raw)
	}
}

func TestDenyCount(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	before := DenyCount()
	Record("block", "comment", "frequency ceiling", "")
	Record("pass", "comment", "", "")
	if got := DenyCount() - before; got != 1 {
		t.Fatalf("expected deny count delta 1, got %d", got)
	}
}
