package budget

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/redflow/internal/bus"
)

func newTestManager(t *testing.T, dailyLimit, singleLimit int) *Manager {
	t.Helper()
	return NewManager(Config{
		DailyTokenLimit:    dailyLimit,
		DailyCostLimit:     1.0,
		SingleRequestLimit: singleLimit,
		Model:              "deepseek-chat",
		UsageFile:          filepath.Join(t.TempDir(), "usage.json"),
	})
}

func TestCheck_DailyCeiling(t *testing.T) {
	// Scenario: daily limit 1000, consume 600, then a 500-token request
	// must be refused while a 400-token request passes.
	m := newTestManager(t, 1000, 1000)
	m.Consume(600, false)

	if m.Check(500) {
		t.Fatalf("expected refusal: 600+500 > 1000")
	}
	if !m.Check(400) {
		t.Fatalf("expected 400-token request to pass")
	}
}

func TestCheck_SingleRequestCeiling(t *testing.T) {
	m := newTestManager(t, 100_000, 4000)
	if m.Check(4001) {
		t.Fatalf("expected refusal above single-request ceiling")
	}
	if !m.Check(4000) {
		t.Fatalf("expected request at ceiling to pass")
	}
}

func TestConsume_SumsTokens(t *testing.T) {
	m := newTestManager(t, 100_000, 4000)
	m.Consume(100, false)
	m.Consume(250, true)
	m.Consume(50, false)

	snap := m.Snapshot()
	if snap.TokensUsed != 400 {
		t.Fatalf("expected 400 tokens used, got %d", snap.TokensUsed)
	}
	if snap.Cost <= 0 {
		t.Fatalf("expected non-zero cost, got %f", snap.Cost)
	}
}

func TestConsume_Persists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.json")
	m := NewManager(Config{
		DailyTokenLimit: 1000, SingleRequestLimit: 1000,
		Model: "deepseek-chat", UsageFile: path,
	})
	m.Consume(123, true)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read usage file: %v", err)
	}
	var u Usage
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal usage: %v", err)
	}
	if u.TokensUsed != 123 {
		t.Fatalf("persisted tokens = %d, want 123", u.TokensUsed)
	}

	// A fresh manager on the same file resumes today's usage.
	m2 := NewManager(Config{
		DailyTokenLimit: 1000, SingleRequestLimit: 1000,
		Model: "deepseek-chat", UsageFile: path,
	})
	if got := m2.Snapshot().TokensUsed; got != 123 {
		t.Fatalf("reloaded tokens = %d, want 123", got)
	}
}

func TestLoad_StaleDateResets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.json")
	stale := Usage{Date: "2020-01-01", TokensUsed: 900, Cost: 4.2}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("seed usage file: %v", err)
	}

	m := NewManager(Config{
		DailyTokenLimit: 1000, SingleRequestLimit: 1000,
		Model: "deepseek-chat", UsageFile: path,
	})
	if got := m.Snapshot().TokensUsed; got != 0 {
		t.Fatalf("stale usage not reset: %d", got)
	}
}

func TestLoad_CorruptFileFallsBackToZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	m := NewManager(Config{
		DailyTokenLimit: 1000, SingleRequestLimit: 1000,
		Model: "deepseek-chat", UsageFile: path,
	})
	if got := m.Snapshot().TokensUsed; got != 0 {
		t.Fatalf("corrupt usage should reset to zero, got %d", got)
	}
}

func TestRollover_MidRun(t *testing.T) {
	m := newTestManager(t, 1000, 1000)
	m.Consume(800, false)

	// Simulate the clock crossing midnight.
	tomorrow := time.Now().AddDate(0, 0, 1)
	m.now = func() time.Time { return tomorrow }

	if !m.Check(900) {
		t.Fatalf("expected fresh budget after date rollover")
	}
	if got := m.Snapshot().TokensUsed; got != 0 {
		t.Fatalf("expected zero usage after rollover, got %d", got)
	}
}

func TestConsume_PublishesWarnEventOnce(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("budget.")
	defer b.Unsubscribe(sub)

	m := NewManager(Config{
		DailyTokenLimit:    1000,
		DailyCostLimit:     1.0,
		SingleRequestLimit: 1000,
		Model:              "deepseek-chat",
		UsageFile:          filepath.Join(t.TempDir(), "usage.json"),
		Events:             b,
	})

	m.Consume(850, false)

	select {
	case ev := <-sub.Ch():
		warn, ok := ev.Payload.(bus.BudgetEvent)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if warn.TokensUsed != 850 {
			t.Fatalf("TokensUsed = %d, want 850", warn.TokensUsed)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a budget warning event")
	}

	// Still above the threshold, but already warned today.
	m.Consume(50, false)
	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected second warning: %+v", ev)
	default:
	}
}
