// Package persona turns a thought-chain decision plus platform context
// into concrete text via the LLM generator.
package persona

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/redflow/internal/llm"
	"github.com/basket/redflow/internal/thought"
)

const defaultPersona = `你是一个真实的社交平台用户，26岁，生活在二线城市，喜欢探店、健身和手冲咖啡。
你说话自然、有个人观点，偶尔用口语化表达，但从不使用夸张的营销腔。
回复要短，一到两句话，像随手评论，不要列条目，不要用表情符号堆砌。`

// Engine binds a persona description to a generator.
type Engine struct {
	gen     llm.Generator
	persona string
	logger  *slog.Logger
}

func New(gen llm.Generator, persona string, logger *slog.Logger) *Engine {
	if strings.TrimSpace(persona) == "" {
		persona = defaultPersona
	}
	return &Engine{gen: gen, persona: persona, logger: logger}
}

// Comment produces a reply to a content item following the decided
// strategy and angle.
func (e *Engine) Comment(ctx context.Context, d thought.Decision, item thought.Item) (llm.Result, error) {
	prompt := fmt.Sprintf(`请针对下面这条内容写一条评论。
策略：%s
切入角度：%s

标题：%s
正文：%s`, d.Strategy, d.Angle, item.Title, item.Content)

	res, err := e.gen.Generate(ctx, e.persona, prompt)
	if err != nil {
		return llm.Result{}, fmt.Errorf("generate comment: %w", err)
	}
	res.Text = strings.TrimSpace(res.Text)
	return res, nil
}

// Publish drafts an original post around a topic, biased toward the
// historically best-performing content styles.
func (e *Engine) Publish(ctx context.Context, topic string, topStyles []string) (llm.Result, error) {
	styleHint := ""
	if len(topStyles) > 0 {
		styleHint = fmt.Sprintf("历史数据显示这些内容类型表现最好：%s。优先采用其中一种。\n", strings.Join(topStyles, "、"))
	}
	prompt := fmt.Sprintf(`%s围绕“%s”写一篇简短的笔记，第一行是标题，之后是正文。
正文 100 字以内，口语化，带一个具体的个人细节。`, styleHint, topic)

	res, err := e.gen.Generate(ctx, e.persona, prompt)
	if err != nil {
		return llm.Result{}, fmt.Errorf("generate post: %w", err)
	}
	res.Text = strings.TrimSpace(res.Text)
	return res, nil
}

// HotspotSummary condenses trending items into actionable notes for
// future engagement.
func (e *Engine) HotspotSummary(ctx context.Context, titles []string) (llm.Result, error) {
	prompt := fmt.Sprintf(`下面是当前的热门内容标题，请总结出两三个值得后续参与的话题方向，每个一句话：
%s`, strings.Join(titles, "\n"))

	res, err := e.gen.Generate(ctx, e.persona, prompt)
	if err != nil {
		return llm.Result{}, fmt.Errorf("generate hotspot summary: %w", err)
	}
	res.Text = strings.TrimSpace(res.Text)
	return res, nil
}

// Rewriter adapts the engine to the diversity controller's rewrite
// hook. Token usage from rewrites is reported through consume.
func (e *Engine) Rewriter(ctx context.Context, consume func(llm.Result)) func(text, targetPattern string) (string, error) {
	return func(text, targetPattern string) (string, error) {
		prompt := fmt.Sprintf(`把下面这句话改写成“%s”风格的表达，意思不变，长度接近：
%s`, patternHint(targetPattern), text)
		res, err := e.gen.Generate(ctx, e.persona, prompt)
		if err != nil {
			return "", fmt.Errorf("rewrite: %w", err)
		}
		if consume != nil {
			consume(res)
		}
		return strings.TrimSpace(res.Text), nil
	}
}

func patternHint(pattern string) string {
	hints := map[string]string{
		"question":   "提问",
		"analogy":    "打比方",
		"supplement": "补充信息",
		"reverse":    "先抑后扬",
		"story":      "讲个小经历",
		"exclaim":    "感叹",
	}
	if h, ok := hints[pattern]; ok {
		return h
	}
	return "平实陈述"
}
