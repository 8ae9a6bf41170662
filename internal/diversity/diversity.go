// Package diversity tracks the linguistic pattern of recent output and
// forces a rewrite when one voice starts to repeat. Repetitive phrasing
// is the easiest automated-account fingerprint.
package diversity

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

const (
	historyCap = 20

	// A pattern repeating within the last 5, or showing up 3 times in
	// the last 10, triggers a rewrite.
	recentWindow    = 5
	repeatWindow    = 10
	repeatThreshold = 3
)

// PatternNeutral is returned when no marker matches.
const PatternNeutral = "neutral"

type pattern struct {
	name    string
	markers []string
	longest int
}

// Ordered by descending longest marker so specific phrasing wins over
// generic substring collisions.
var patterns = buildPatterns(map[string][]string{
	"question":   {"吗？", "呢？", "有没有", "是不是", "怎么样"},
	"analogy":    {"就像", "好比", "仿佛", "如同"},
	"supplement": {"补充一下", "顺便说", "另外", "再加一点"},
	"reverse":    {"其实不然", "恰恰相反", "反而", "但是"},
	"story":      {"我上次", "记得有一次", "之前遇到", "那天"},
	"exclaim":    {"太棒了", "真不错", "绝了", "！"},
})

func buildPatterns(defs map[string][]string) []pattern {
	out := make([]pattern, 0, len(defs))
	for name, markers := range defs {
		longest := 0
		for _, m := range markers {
			if n := len([]rune(m)); n > longest {
				longest = n
			}
		}
		out = append(out, pattern{name: name, markers: markers, longest: longest})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].longest != out[j].longest {
			return out[i].longest > out[j].longest
		}
		return out[i].name < out[j].name
	})
	return out
}

// RewriteFunc transforms text toward the named target pattern. Usually
// backed by the LLM; a nil rewrite function disables correction.
type RewriteFunc func(text, targetPattern string) (string, error)

// Controller keeps the rolling pattern history for one agent.
type Controller struct {
	mu      sync.Mutex
	history []string
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Controller {
	return &Controller{logger: logger}
}

// DetectPattern names the linguistic pattern of text, or neutral.
func DetectPattern(text string) string {
	for _, p := range patterns {
		for _, m := range p.markers {
			if strings.Contains(text, m) {
				return p.name
			}
		}
	}
	return PatternNeutral
}

// History returns a copy of the recorded pattern history, oldest first.
func (c *Controller) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.history))
	copy(out, c.history)
	return out
}

// CheckAndFix detects the text's pattern, rewrites toward a fresh one
// if the current pattern is overused, and records the final pattern.
// The returned text is the original when no rewrite was needed or the
// rewrite failed.
func (c *Controller) CheckAndFix(text string, rewrite RewriteFunc) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	detected := DetectPattern(text)
	if c.overusedLocked(detected) && rewrite != nil {
		target := c.pickFreshLocked(detected)
		rewritten, err := rewrite(text, target)
		if err != nil || rewritten == "" {
			c.logger.Warn("pattern rewrite failed, keeping original",
				"pattern", detected, "target", target, "error", err)
		} else {
			overused := detected
			text = rewritten
			detected = DetectPattern(text)
			c.logger.Info("rewrote repetitive pattern", "from", overused, "to", detected, "target", target)
		}
	}

	c.history = append(c.history, detected)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
	return text
}

func (c *Controller) overusedLocked(name string) bool {
	recent := c.tailLocked(recentWindow)
	for _, p := range recent {
		if p == name {
			return true
		}
	}
	count := 0
	for _, p := range c.tailLocked(repeatWindow) {
		if p == name {
			count++
		}
	}
	return count >= repeatThreshold
}

// pickFreshLocked returns a pattern name absent from the last 5.
func (c *Controller) pickFreshLocked(avoid string) string {
	recent := c.tailLocked(recentWindow)
	used := make(map[string]bool, len(recent)+1)
	used[avoid] = true
	for _, p := range recent {
		used[p] = true
	}
	for _, p := range patterns {
		if !used[p.name] {
			return p.name
		}
	}
	return PatternNeutral
}

func (c *Controller) tailLocked(n int) []string {
	if len(c.history) <= n {
		return c.history
	}
	return c.history[len(c.history)-n:]
}
