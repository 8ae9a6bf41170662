// Package budget tracks daily token and cost usage against configured
// ceilings. Every LLM call is gated through Check; every completed call
// reports back through Consume.
package budget

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/basket/redflow/internal/bus"
	"github.com/basket/redflow/internal/pricing"
)

const warnRatio = 0.8

// Usage is the persisted daily usage record. One record per calendar
// day; the date field resets the counters implicitly on rollover.
type Usage struct {
	Date       string  `json:"date"` // 2006-01-02
	TokensUsed int     `json:"tokens"`
	Cost       float64 `json:"cost"`
}

// Config holds the spend gates for a Manager.
type Config struct {
	DailyTokenLimit    int
	DailyCostLimit     float64 // advisory: logged, never a hard stop
	SingleRequestLimit int
	Model              string
	UsageFile          string
	Logger             *slog.Logger
	// Events receives budget.warn notifications. May be nil in tests.
	Events *bus.Bus
}

// Manager is the cost gatekeeper. Token overage is a hard gate enforced
// by Check before the call is made; cost overage is advisory and only
// logged from Consume.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	usage  Usage
	logger *slog.Logger

	warnedTokens bool
	warnedCost   bool

	now func() time.Time
}

// NewManager loads persisted usage from the configured file. A missing
// or corrupt usage file falls back to zero usage rather than failing:
// a bad state file must never block startup.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	m.usage = m.loadUsage()
	return m
}

func (m *Manager) today() string {
	return m.now().Format("2006-01-02")
}

func (m *Manager) loadUsage() Usage {
	var u Usage
	data, err := os.ReadFile(m.cfg.UsageFile)
	if err != nil {
		return Usage{Date: m.today()}
	}
	if err := json.Unmarshal(data, &u); err != nil {
		m.logger.Warn("usage file unreadable, starting from zero", "path", m.cfg.UsageFile, "error", err)
		return Usage{Date: m.today()}
	}
	if u.Date != m.today() {
		// A new day starts a fresh budget.
		return Usage{Date: m.today()}
	}
	return u
}

// rolloverLocked resets the counters when the calendar day has changed.
func (m *Manager) rolloverLocked() {
	if m.usage.Date != m.today() {
		m.usage = Usage{Date: m.today()}
		m.warnedTokens = false
		m.warnedCost = false
	}
}

// Check reports whether a request estimated at estimatedTokens may
// proceed. It refuses when the estimate exceeds the per-request ceiling
// or would push today's usage past the daily token ceiling.
func (m *Manager) Check(estimatedTokens int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	if estimatedTokens > m.cfg.SingleRequestLimit {
		m.logger.Warn("request exceeds single-request token ceiling",
			"estimated", estimatedTokens, "limit", m.cfg.SingleRequestLimit)
		return false
	}
	if m.usage.TokensUsed+estimatedTokens > m.cfg.DailyTokenLimit {
		m.logger.Warn("request would exceed daily token ceiling",
			"estimated", estimatedTokens, "used", m.usage.TokensUsed, "limit", m.cfg.DailyTokenLimit)
		return false
	}
	return true
}

// Consume records tokens actually used by a completed call, updates the
// running cost at the model's input or output unit price, and persists
// the day's usage. Crossing 80% of the daily token ceiling warns once;
// exceeding the daily cost ceiling warns once. Neither stops the
// process.
func (m *Manager) Consume(tokensUsed int, isOutput bool) {
	if tokensUsed <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.usage.TokensUsed += tokensUsed
	m.usage.Cost += pricing.Cost(m.cfg.Model, tokensUsed, isOutput)

	if !m.warnedTokens && float64(m.usage.TokensUsed) >= warnRatio*float64(m.cfg.DailyTokenLimit) {
		m.warnedTokens = true
		m.logger.Warn("daily token usage crossed 80% of ceiling",
			"used", m.usage.TokensUsed, "limit", m.cfg.DailyTokenLimit)
		m.publishWarnLocked("token usage crossed 80% of daily ceiling")
	}
	if !m.warnedCost && m.cfg.DailyCostLimit > 0 && m.usage.Cost > m.cfg.DailyCostLimit {
		m.warnedCost = true
		m.logger.Warn("daily cost exceeded ceiling",
			"cost", m.usage.Cost, "limit", m.cfg.DailyCostLimit)
		m.publishWarnLocked("daily cost ceiling exceeded")
	}

	m.persistLocked()
}

func (m *Manager) publishWarnLocked(reason string) {
	if m.cfg.Events == nil {
		return
	}
	m.cfg.Events.Publish(bus.TopicBudgetWarn, bus.BudgetEvent{
		Reason:     reason,
		TokensUsed: m.usage.TokensUsed,
		Cost:       m.usage.Cost,
	})
}

func (m *Manager) persistLocked() {
	data, err := json.MarshalIndent(m.usage, "", "  ")
	if err != nil {
		m.logger.Error("marshal usage", "error", err)
		return
	}
	if err := os.WriteFile(m.cfg.UsageFile, data, 0o644); err != nil {
		m.logger.Error("persist usage", "path", m.cfg.UsageFile, "error", err)
	}
}

// Snapshot returns a copy of today's usage for reporting.
func (m *Manager) Snapshot() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return m.usage
}
