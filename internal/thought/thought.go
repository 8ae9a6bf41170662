// Package thought decides whether and how to engage with a candidate
// content item. Think is a pure function over the item and the recent
// topic list; it never performs I/O itself.
package thought

import (
	"fmt"
	"strings"
)

// Action is the decision outcome.
type Action string

const (
	ActionSkip Action = "skip"
	ActionAct  Action = "act"
)

// Item is a candidate piece of platform content.
type Item struct {
	Topic   string
	Title   string
	Content string
}

// Decision is consumed immediately by the persona engine and scheduler.
type Decision struct {
	Action   Action
	Reason   string
	Strategy string
	Angle    string
	Topic    string
}

// defaultForbidden mirrors the hard denylist. A forbidden hit here
// saves the tokens a post-generation guard rejection would waste.
var defaultForbidden = []string{"政治", "赌博", "毒品", "色情", "暴力", "造谣"}

type strategy struct {
	name  string
	angle string
}

var strategyTable = map[string]strategy{
	"ask":   {name: "helpful_answer", angle: "直接回答提问，补充一点自己的体验"},
	"share": {name: "resonance", angle: "共鸣式回应，呼应对方分享的感受"},
	"warn":  {name: "empathy", angle: "安慰为主，顺带给出一个可行的小建议"},
}

var defaultStrategy = strategy{name: "light_engage", angle: "轻量互动，自然地附和并延伸一句"}

// Chain holds the forbidden-topic list. Recent topics are passed into
// Think by the caller so the function itself stays free of I/O.
type Chain struct {
	forbidden []string
}

func New(forbidden []string) *Chain {
	if len(forbidden) == 0 {
		forbidden = defaultForbidden
	}
	return &Chain{forbidden: forbidden}
}

// Think evaluates an item in fixed order: forbidden topics first, then
// recent-topic dedup, then strategy selection. A forbidden match must
// never fall through to generation regardless of novelty.
func (c *Chain) Think(item Item, recentTopics []string) Decision {
	full := item.Topic + " " + item.Title + " " + item.Content

	for _, word := range c.forbidden {
		if word != "" && strings.Contains(full, word) {
			return Decision{
				Action: ActionSkip,
				Reason: fmt.Sprintf("forbidden: %s", word),
				Topic:  item.Topic,
			}
		}
	}

	for _, recent := range recentTopics {
		if recent == "" || item.Topic == "" {
			continue
		}
		if strings.Contains(item.Topic, recent) || strings.Contains(recent, item.Topic) {
			return Decision{
				Action: ActionSkip,
				Reason: fmt.Sprintf("recently acted on: %s", recent),
				Topic:  item.Topic,
			}
		}
	}

	st, ok := strategyTable[inferIntent(full)]
	if !ok {
		st = defaultStrategy
	}
	return Decision{
		Action:   ActionAct,
		Strategy: st.name,
		Angle:    st.angle,
		Topic:    item.Topic,
	}
}

// inferIntent classifies the author's intent from surface cues.
func inferIntent(text string) string {
	switch {
	case containsAny(text, "怎么", "如何", "求推荐", "有没有", "吗？", "求问"):
		return "ask"
	case containsAny(text, "避雷", "踩雷", "翻车", "后悔"):
		return "warn"
	case containsAny(text, "分享", "打卡", "安利", "记录"):
		return "share"
	default:
		return "general"
	}
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
