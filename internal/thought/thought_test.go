package thought

import (
	"strings"
	"testing"
)

func TestForbiddenTopicSkips(t *testing.T) {
	c := New(nil)
	d := c.Think(Item{Topic: "politics and AI", Title: "聊聊政治与科技", Content: "..."}, nil)
	if d.Action != ActionSkip {
		t.Fatalf("expected skip, got %+v", d)
	}
	if !strings.Contains(d.Reason, "政治") {
		t.Fatalf("reason should name the forbidden word, got %q", d.Reason)
	}
}

func TestForbiddenBeatsNovelty(t *testing.T) {
	// The topic is brand new, the content still mentions a forbidden
	// word; the forbidden reason must win.
	c := New(nil)
	d := c.Think(Item{Topic: "全新话题", Content: "顺带聊到了赌博"}, nil)
	if d.Action != ActionSkip || !strings.Contains(d.Reason, "赌博") {
		t.Fatalf("forbidden check must take priority, got %+v", d)
	}
}

func TestRecentTopicSkips(t *testing.T) {
	c := New(nil)
	d := c.Think(Item{Topic: "手冲咖啡", Title: "新手入门"}, []string{"咖啡"})
	if d.Action != ActionSkip {
		t.Fatalf("substring overlap should skip, got %+v", d)
	}
	if !strings.Contains(d.Reason, "recently acted on") {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestRecentMatchIsBidirectional(t *testing.T) {
	c := New(nil)
	// Recent topic is longer than the item topic.
	d := c.Think(Item{Topic: "咖啡"}, []string{"手冲咖啡入门"})
	if d.Action != ActionSkip {
		t.Fatalf("reverse substring should also skip, got %+v", d)
	}
}

func TestStrategySelection(t *testing.T) {
	c := New(nil)
	cases := []struct {
		item Item
		want string
	}{
		{Item{Topic: "健身", Title: "新手怎么练背？"}, "helpful_answer"},
		{Item{Topic: "美食", Title: "周末探店打卡分享"}, "resonance"},
		{Item{Topic: "护肤", Title: "这款面霜真的避雷"}, "empathy"},
		{Item{Topic: "日常", Title: "今天天气不错"}, "light_engage"},
	}
	for _, tc := range cases {
		d := c.Think(tc.item, nil)
		if d.Action != ActionAct {
			t.Fatalf("expected act for %+v, got %+v", tc.item, d)
		}
		if d.Strategy != tc.want {
			t.Errorf("Think(%q) strategy = %q, want %q", tc.item.Title, d.Strategy, tc.want)
		}
		if d.Angle == "" {
			t.Errorf("strategy %q missing angle", d.Strategy)
		}
	}
}

func TestCustomForbiddenList(t *testing.T) {
	c := New([]string{"加密货币"})
	d := c.Think(Item{Topic: "政治"}, nil)
	if d.Action != ActionAct {
		t.Fatalf("custom list replaces the default, got %+v", d)
	}
	d = c.Think(Item{Content: "聊聊加密货币行情"}, nil)
	if d.Action != ActionSkip {
		t.Fatalf("custom forbidden word should skip, got %+v", d)
	}
}
