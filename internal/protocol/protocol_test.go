package protocol

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/redflow/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProtocol(t *testing.T) *Protocol {
	t.Helper()
	p, err := New(config.ProtocolConfig{
		QueueDir:       "queue",
		StatusFile:     "status.json",
		CheckpointFile: "checkpoint.json",
		HeartbeatFile:  "heartbeat.json",
	}, t.TempDir(), "redflow-test", testLogger())
	if err != nil {
		t.Fatalf("new protocol: %v", err)
	}
	return p
}

func TestQueueConsumesInLexicographicOrder(t *testing.T) {
	p := newTestProtocol(t)

	writeTask := func(name, body string) {
		if err := os.WriteFile(filepath.Join(p.queueDir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write task: %v", err)
		}
	}
	writeTask("002-b.json", `{"type":"publish","name":"second"}`)
	writeTask("001-a.json", `{"type":"comment","name":"first","estimated_tokens":800}`)

	task, ok, err := p.NextTask()
	if err != nil || !ok {
		t.Fatalf("next task: ok=%v err=%v", ok, err)
	}
	if task.Name != "first" || task.Type != "comment" || task.EstimatedTokens != 800 {
		t.Fatalf("unexpected task %+v", task)
	}

	// The consumed file must be gone.
	if _, err := os.Stat(filepath.Join(p.queueDir, "001-a.json")); !os.IsNotExist(err) {
		t.Fatalf("consumed task file should be deleted")
	}

	task, ok, err = p.NextTask()
	if err != nil || !ok || task.Name != "second" {
		t.Fatalf("expected second task, got %+v ok=%v err=%v", task, ok, err)
	}

	if _, ok, _ := p.NextTask(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestMalformedTaskMovedAside(t *testing.T) {
	p := newTestProtocol(t)

	if err := os.WriteFile(filepath.Join(p.queueDir, "001-bad.json"), []byte(`{"type":"destroy","name":"x"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(p.queueDir, "002-good.json"), []byte(`{"type":"like","name":"ok"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	task, ok, err := p.NextTask()
	if err != nil || !ok {
		t.Fatalf("next task: ok=%v err=%v", ok, err)
	}
	if task.Name != "ok" {
		t.Fatalf("should skip past the malformed file, got %+v", task)
	}
	if _, err := os.Stat(filepath.Join(p.queueDir, "001-bad.json.rejected")); err != nil {
		t.Fatalf("malformed file should be renamed aside: %v", err)
	}
}

func TestParseTaskValidation(t *testing.T) {
	cases := []struct {
		raw     string
		wantErr bool
	}{
		{`{"type":"comment","name":"t"}`, false},
		{`{"type":"comment","name":"t","estimated_tokens":500}`, false},
		{`{"type":"unknown","name":"t"}`, true},
		{`{"type":"comment"}`, true},
		{`{"type":"comment","name":""}`, true},
		{`{"type":"comment","name":"t","estimated_tokens":-5}`, true},
		{`not json`, true},
	}
	for _, tc := range cases {
		_, err := ParseTask([]byte(tc.raw))
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTask(%s) err=%v, wantErr=%v", tc.raw, err, tc.wantErr)
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	p := newTestProtocol(t)

	if err := p.WriteCheckpoint(Checkpoint{
		LastTask:          "comment:daily",
		LastResultStatus:  "failed",
		ConsecutiveErrors: 4,
	}); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}

	// A fresh protocol instance simulates a process restart.
	p2, err := New(config.ProtocolConfig{
		QueueDir:       p.queueDir,
		StatusFile:     p.statusFile,
		CheckpointFile: p.checkpointFile,
		HeartbeatFile:  p.heartbeatFile,
	}, "/", "redflow-test", testLogger())
	if err != nil {
		t.Fatalf("new protocol: %v", err)
	}
	cp := p2.ReadCheckpoint()
	if cp.ConsecutiveErrors != 4 || cp.LastTask != "comment:daily" {
		t.Fatalf("checkpoint round-trip mismatch: %+v", cp)
	}
}

func TestMissingCheckpointYieldsEmpty(t *testing.T) {
	p := newTestProtocol(t)
	cp := p.ReadCheckpoint()
	if cp.ConsecutiveErrors != 0 || cp.LastTask != "" {
		t.Fatalf("expected empty checkpoint, got %+v", cp)
	}
}

func TestCorruptCheckpointYieldsEmpty(t *testing.T) {
	p := newTestProtocol(t)
	if err := os.WriteFile(p.checkpointFile, []byte("{{{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cp := p.ReadCheckpoint()
	if cp.ConsecutiveErrors != 0 {
		t.Fatalf("corrupt checkpoint must fall back to empty, got %+v", cp)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	p := newTestProtocol(t)
	if err := p.WriteHeartbeat("running", 2); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	hb, err := p.ReadHeartbeat()
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	if hb.Status != "running" || hb.Errors != 2 {
		t.Fatalf("unexpected heartbeat %+v", hb)
	}
	if hb.Timestamp.IsZero() {
		t.Fatalf("heartbeat timestamp missing")
	}
}

func TestEnqueueThenNextTask(t *testing.T) {
	p := newTestProtocol(t)
	if err := p.Enqueue(Task{Type: "hotspot", Name: "trends", EstimatedTokens: 1200}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, ok, err := p.NextTask()
	if err != nil || !ok {
		t.Fatalf("next task: ok=%v err=%v", ok, err)
	}
	if task.Type != "hotspot" || task.EstimatedTokens != 1200 {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestStaleLockIsBroken(t *testing.T) {
	p := newTestProtocol(t)
	if err := os.WriteFile(p.lockFile, []byte("999999\n"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(p.lockFile, old, old); err != nil {
		t.Fatalf("age lock: %v", err)
	}

	if _, _, err := p.NextTask(); err != nil {
		t.Fatalf("stale lock should be broken, got %v", err)
	}
}

func TestWriteStatus(t *testing.T) {
	p := newTestProtocol(t)
	if err := p.WriteStatus("comment:daily", "success"); err != nil {
		t.Fatalf("write status: %v", err)
	}
	raw, err := os.ReadFile(p.statusFile)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	for _, want := range []string{"comment:daily", "success", "redflow-test", "reported_at"} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("status file missing %q: %s", want, raw)
		}
	}
}
