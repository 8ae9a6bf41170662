package diversity

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDetectPattern(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"这家店怎么样？", "question"},
		{"这个味道就像小时候的夏天", "analogy"},
		{"补充一下，地址在二楼", "supplement"},
		{"其实不然，性价比很高", "reverse"},
		{"我上次去的时候人很少", "story"},
		{"环境太棒了", "exclaim"},
		{"一句平平无奇的话", PatternNeutral},
	}
	for _, tc := range cases {
		if got := DetectPattern(tc.text); got != tc.want {
			t.Errorf("DetectPattern(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestLongestMarkerWins(t *testing.T) {
	// Contains both a specific story marker and a generic exclaim "！".
	if got := DetectPattern("记得有一次排队两小时！"); got != "story" {
		t.Fatalf("specific marker should win, got %q", got)
	}
}

func TestCheckAndFixRecordsHistory(t *testing.T) {
	c := New(testLogger())
	c.CheckAndFix("这家店怎么样？", nil)
	c.CheckAndFix("平平无奇", nil)

	h := c.History()
	if len(h) != 2 || h[0] != "question" || h[1] != PatternNeutral {
		t.Fatalf("unexpected history %v", h)
	}
}

func TestCheckAndFixRewritesRepetition(t *testing.T) {
	c := New(testLogger())
	// Seed history with a question pattern.
	c.CheckAndFix("这家店怎么样？", nil)

	rewriteCalled := false
	rewritten := c.CheckAndFix("那家店怎么样？", func(text, target string) (string, error) {
		rewriteCalled = true
		if target == "question" {
			t.Fatalf("target must differ from the overused pattern")
		}
		return "这个味道就像小时候的夏天", nil
	})

	if !rewriteCalled {
		t.Fatalf("expected rewrite for a pattern repeated in the last 5")
	}
	if DetectPattern(rewritten) == "question" {
		t.Fatalf("returned text still matches the overused pattern: %q", rewritten)
	}
	h := c.History()
	if h[len(h)-1] != "analogy" {
		t.Fatalf("history should record the post-rewrite pattern, got %v", h)
	}
}

func TestCheckAndFixKeepsOriginalWhenRewriteFails(t *testing.T) {
	c := New(testLogger())
	c.CheckAndFix("这家店怎么样？", nil)

	out := c.CheckAndFix("那家店怎么样？", func(text, target string) (string, error) {
		return "", nil
	})
	if out != "那家店怎么样？" {
		t.Fatalf("empty rewrite must keep the original, got %q", out)
	}
}

func TestHistoryTruncatedToCap(t *testing.T) {
	c := New(testLogger())
	for i := 0; i < historyCap+10; i++ {
		c.CheckAndFix("平平无奇", nil)
	}
	if got := len(c.History()); got != historyCap {
		t.Fatalf("history should cap at %d, got %d", historyCap, got)
	}
}

func TestThreeInTenTriggersRewrite(t *testing.T) {
	c := New(testLogger())
	// Three question entries followed by five neutrals: nothing in the
	// last 5, but three hits within the last 10.
	c.CheckAndFix("这家店怎么样？", nil)
	c.CheckAndFix("那家店怎么样？", nil)
	c.CheckAndFix("另一家店怎么样？", nil)
	for i := 0; i < 5; i++ {
		c.CheckAndFix("平平无奇", nil)
	}

	called := false
	c.CheckAndFix("另一家怎么样？", func(text, target string) (string, error) {
		called = true
		return "这个味道就像小时候的夏天", nil
	})
	if !called {
		t.Fatalf("3 occurrences in the last 10 should trigger a rewrite")
	}
}

func TestRewriteLogNamesOriginalPattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	c := New(logger)

	// Second question in a row forces a rewrite toward a fresh pattern.
	c.CheckAndFix("这家店怎么样？", nil)
	c.CheckAndFix("味道怎么样？", func(_, _ string) (string, error) {
		return "这个味道就像小时候的夏天", nil
	})

	out := buf.String()
	if !strings.Contains(out, `"from":"question"`) {
		t.Fatalf("log must name the overused pattern, got: %s", out)
	}
	if !strings.Contains(out, `"to":"analogy"`) {
		t.Fatalf("log must name the resulting pattern, got: %s", out)
	}
}
