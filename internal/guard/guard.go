// Package guard is the rule-based firewall in front of every
// platform-facing action. It evaluates content against word lists and
// enforces per-action-type rate ceilings before anything is posted.
package guard

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/basket/redflow/internal/audit"
	"github.com/basket/redflow/internal/bus"
	"github.com/basket/redflow/internal/config"
)

// Level classifies a check outcome so the caller knows how to react.
type Level string

const (
	// LevelPass means the action may proceed.
	LevelPass Level = "pass"
	// LevelBlock means the content hit the hard denylist; abandon it.
	LevelBlock Level = "block"
	// LevelRewrite means the phrasing is stale; regenerate, don't abandon.
	LevelRewrite Level = "rewrite"
	// LevelWait means the rate ceiling for this action type is reached.
	LevelWait Level = "wait"
)

// CheckResult is the outcome of a guard check.
type CheckResult struct {
	Pass        bool
	Level       Level
	Reason      string
	NeedsReview bool
}

// ActionLimit caps an action type within a rolling window. Exactly one
// of the two fields is set per entry.
type ActionLimit struct {
	PerHour int
	PerDay  int
}

// Cold-start accounts get stricter ceilings until they age past the
// configured threshold.
var coldStartLimits = map[string]ActionLimit{
	"comment": {PerHour: 3},
	"like":    {PerHour: 10},
	"follow":  {PerHour: 2},
	"publish": {PerDay: 1},
}

var steadyStateLimits = map[string]ActionLimit{
	"comment": {PerHour: 8},
	"like":    {PerHour: 30},
	"follow":  {PerHour: 5},
	"publish": {PerDay: 3},
}

// Guard owns the word lists and the in-memory sliding action log. The
// log is deliberately not persisted: a restart resets rate counters,
// which fails in the conservative direction.
type Guard struct {
	mu      sync.Mutex
	cfg     config.GuardConfig
	words   WordLists
	actions map[string][]time.Time
	logger  *slog.Logger
	events  *bus.Bus
	now     func() time.Time
}

// New loads the word lists from cfg.WordsFile (resolved by the caller)
// and returns a ready guard. A missing words file is not an error; the
// guard starts with empty lists and the watcher can fill them later.
func New(cfg config.GuardConfig, wordsPath string, events *bus.Bus, logger *slog.Logger) *Guard {
	g := &Guard{
		cfg:     cfg,
		actions: make(map[string][]time.Time),
		logger:  logger,
		events:  events,
		now:     time.Now,
	}
	words, err := LoadWordLists(wordsPath)
	if err != nil {
		logger.Warn("word lists unavailable, starting empty", "path", wordsPath, "error", err)
		words = WordLists{}
	}
	g.words = words
	return g
}

// SetWords swaps the word lists. Called by the config watcher on a
// blockwords file change.
func (g *Guard) SetWords(w WordLists) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.words = w
	g.logger.Info("word lists reloaded",
		"block", len(w.Block), "stale", len(w.Stale), "review", len(w.Review))
}

// Check evaluates content for one action in fixed priority order:
// hard block words, stale phrasing, frequency ceiling, review keywords.
// Each step short-circuits; the review flag alone never blocks.
func (g *Guard) Check(content, actionType string) CheckResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if word, hit := matchAny(content, g.words.Block); hit {
		res := CheckResult{Pass: false, Level: LevelBlock, Reason: fmt.Sprintf("blocked word: %s", word)}
		g.reject(actionType, res)
		return res
	}

	if word, hit := matchAny(content, g.words.Stale); hit {
		res := CheckResult{Pass: false, Level: LevelRewrite, Reason: fmt.Sprintf("stale phrasing: %s", word)}
		g.reject(actionType, res)
		return res
	}

	if reason, over := g.overLimitLocked(actionType); over {
		res := CheckResult{Pass: false, Level: LevelWait, Reason: reason}
		g.reject(actionType, res)
		return res
	}

	res := CheckResult{Pass: true, Level: LevelPass}
	if word, hit := matchAny(content, g.words.Review); hit {
		res.NeedsReview = true
		res.Reason = fmt.Sprintf("review keyword: %s", word)
		g.logger.Info("content flagged for review", "action_type", actionType, "keyword", word)
	}
	audit.Record("pass", actionType, res.Reason, content)
	return res
}

// RecordAction appends one entry to the sliding log. Callers must only
// invoke this after the platform reports success, so failed actions do
// not consume rate budget.
func (g *Guard) RecordAction(actionType string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions[actionType] = append(g.actions[actionType], g.now())
}

// EmergencyStop logs at the highest severity and publishes an event for
// the scheduler to halt the loop. It never terminates the process
// itself; termination policy belongs to the loop owner.
func (g *Guard) EmergencyStop(reason string) {
	g.logger.Error("EMERGENCY STOP", "reason", reason)
	audit.Record("block", "emergency", reason, "")
	g.events.Publish(bus.TopicGuardEmergency, bus.GuardEvent{
		ActionType: "emergency",
		Level:      string(LevelBlock),
		Reason:     reason,
	})
}

func (g *Guard) reject(actionType string, res CheckResult) {
	g.logger.Warn("action rejected",
		"action_type", actionType, "level", string(res.Level), "reason", res.Reason)
	audit.Record("block", actionType, res.Reason, "")
	g.events.Publish(bus.TopicGuardBlocked, bus.GuardEvent{
		ActionType: actionType,
		Level:      string(res.Level),
		Reason:     res.Reason,
	})
}

// overLimitLocked prunes the action log to the applicable window and
// compares the remaining count against the ceiling for the current
// account-age regime.
func (g *Guard) overLimitLocked(actionType string) (string, bool) {
	limits := steadyStateLimits
	regime := "steady"
	if g.cfg.AccountAgeDays < g.cfg.ColdStartAgeDays {
		limits = coldStartLimits
		regime = "cold-start"
	}
	limit, ok := limits[actionType]
	if !ok {
		return "", false
	}

	window := time.Hour
	ceiling := limit.PerHour
	if limit.PerDay > 0 {
		window = 24 * time.Hour
		ceiling = limit.PerDay
	}

	cutoff := g.now().Add(-window)
	kept := g.actions[actionType][:0]
	for _, ts := range g.actions[actionType] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.actions[actionType] = kept

	if len(kept) >= ceiling {
		return fmt.Sprintf("frequency limit reached: %s %d per %s (%s regime)",
			actionType, ceiling, windowName(window), regime), true
	}
	return "", false
}

func windowName(w time.Duration) string {
	if w == time.Hour {
		return "hour"
	}
	return "day"
}

func matchAny(content string, words []string) (string, bool) {
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(content, w) {
			return w, true
		}
	}
	return "", false
}
