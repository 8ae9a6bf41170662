package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/basket/redflow/internal/memory"
	"github.com/basket/redflow/internal/otel"
	"github.com/basket/redflow/internal/platform"
	"github.com/basket/redflow/internal/protocol"
	"github.com/basket/redflow/internal/safety"
	"github.com/basket/redflow/internal/shared"
	"github.com/basket/redflow/internal/thought"
)

// Fallback search keywords for self-generated tasks, matching the
// persona's stated interests.
var defaultInterests = []string{"探店", "健身", "手冲咖啡", "城市徒步", "周末好去处"}

// Importance assigned to memories written after each action type.
const (
	commentImportance = 0.7
	hotspotImportance = 0.75
	publishImportance = 0.8
)

// execute dispatches a task by type. A context deadline surfacing from
// any step is reclassified as a timeout.
func (s *Scheduler) execute(ctx context.Context, task *protocol.Task) taskResult {
	ctx = shared.WithTaskName(ctx, task.Name)
	ctx, span := otel.StartSpan(ctx, s.tracer, "task.execute",
		otel.AttrTaskType.String(task.Type),
		otel.AttrTaskName.String(task.Name),
		otel.AttrCycle.Int64(s.cycle),
	)
	defer span.End()

	var res taskResult
	switch task.Type {
	case "comment":
		res = s.executeComment(ctx, task)
	case "publish":
		res = s.executePublish(ctx, task)
	case "hotspot":
		res = s.executeHotspot(ctx, task)
	case "like":
		res = s.executeLike(ctx, task)
	default:
		res = taskResult{status: StatusFailed, err: fmt.Errorf("unknown task type %q", task.Type)}
	}

	if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
		res.status = StatusTimeout
	}
	return res
}

func (s *Scheduler) executeComment(ctx context.Context, task *protocol.Task) taskResult {
	keyword := task.Keyword
	if keyword == "" {
		keyword = s.pickInterest()
	}

	items, err := s.plat.Search(ctx, keyword)
	if err != nil {
		return taskResult{status: StatusFailed, err: fmt.Errorf("search %q: %w", keyword, err)}
	}
	if len(items) == 0 {
		return taskResult{status: StatusSkipped, reason: "no candidates for " + keyword}
	}
	item := items[s.rand.Intn(len(items))]

	// Platform content is untrusted input to the prompt.
	switch f := safety.ScreenInbound(item.Title, item.Content); f.Verdict {
	case safety.VerdictHostile:
		s.logger.Warn("inbound content screened out", "item", item.ID, "reason", f.Reason)
		return taskResult{status: StatusSkipped, reason: "inbound screen: " + f.Reason}
	case safety.VerdictSuspicious:
		s.logger.Warn("inbound content looks suspicious", "item", item.ID, "reason", f.Reason)
	}

	if err := s.sim.ReadingPause(ctx, len([]rune(item.Content))); err != nil {
		return taskResult{status: StatusFailed, err: err}
	}

	recent, err := s.mem.RecallRecentTopics(ctx, 7)
	if err != nil {
		s.logger.Warn("recall recent topics", "error", err)
		recent = nil
	}

	ti := thought.Item{Topic: itemTopic(item, keyword), Title: item.Title, Content: item.Content}
	d := s.chain.Think(ti, recent)
	if d.Action == thought.ActionSkip {
		s.logger.Info("thought chain declined", "item", item.ID, "reason", d.Reason)
		return taskResult{status: StatusSkipped, reason: d.Reason}
	}

	gen, err := s.persona.Comment(ctx, d, ti)
	if err != nil {
		return taskResult{status: StatusFailed, err: fmt.Errorf("generate comment: %w", err)}
	}
	gen = s.charge(gen)
	tokens := gen.TotalTokens
	text := gen.Text

	check := s.guard.Check(text, "comment")
	if !check.Pass {
		if s.metrics != nil {
			s.metrics.GuardRejects.Add(ctx, 1)
		}
		return taskResult{status: StatusBlocked, reason: check.Reason, tokens: tokens}
	}

	text = s.div.CheckAndFix(text, s.persona.Rewriter(ctx, s.consumeLLM))

	if leaks := safety.ScreenOutbound(text); len(leaks) > 0 {
		s.logger.Error("generated comment leaked a secret", "kind", leaks[0].Kind, "sample", leaks[0].Sample)
		return taskResult{status: StatusBlocked, reason: "outbound screen: " + leaks[0].Kind, tokens: tokens}
	}

	if err := s.sim.TypingPause(ctx, len([]rune(text))); err != nil {
		return taskResult{status: StatusFailed, tokens: tokens, err: err}
	}

	pctx, span := otel.StartClientSpan(ctx, s.tracer, "platform.comment",
		otel.AttrActionType.String("comment"))
	pr, err := s.plat.Comment(pctx, item.ID, text)
	span.End()
	if err != nil {
		return taskResult{status: StatusFailed, tokens: tokens, err: fmt.Errorf("post comment: %w", err)}
	}
	if !pr.Success {
		// Platform said no; the action did not happen, so the rate
		// log must not count it.
		return taskResult{status: StatusRejected, reason: rejectReason(pr), tokens: tokens}
	}

	s.recordSuccess(ctx, "comment")
	if err := s.mem.Remember(ctx, text, itemTopic(item, keyword), commentImportance); err != nil {
		s.logger.Warn("remember comment", "error", err)
	}
	return taskResult{status: StatusSuccess, tokens: tokens}
}

func (s *Scheduler) executePublish(ctx context.Context, task *protocol.Task) taskResult {
	topic := task.Topic
	if topic == "" {
		topic = s.pickInterest()
	}

	var styles []string
	if stats, err := s.mem.TopPerformingStyles(ctx, 3); err != nil {
		s.logger.Warn("top performing styles", "error", err)
	} else {
		for _, st := range stats {
			styles = append(styles, st.ContentType)
		}
	}

	gen, err := s.persona.Publish(ctx, topic, styles)
	if err != nil {
		return taskResult{status: StatusFailed, err: fmt.Errorf("generate post: %w", err)}
	}
	gen = s.charge(gen)
	tokens := gen.TotalTokens

	check := s.guard.Check(gen.Text, "publish")
	if !check.Pass {
		if s.metrics != nil {
			s.metrics.GuardRejects.Add(ctx, 1)
		}
		return taskResult{status: StatusBlocked, reason: check.Reason, tokens: tokens}
	}

	title, body := splitPost(gen.Text)
	if body != "" {
		body = s.div.CheckAndFix(body, s.persona.Rewriter(ctx, s.consumeLLM))
	}

	if leaks := safety.ScreenOutbound(title + "\n" + body); len(leaks) > 0 {
		s.logger.Error("generated post leaked a secret", "kind", leaks[0].Kind, "sample", leaks[0].Sample)
		return taskResult{status: StatusBlocked, reason: "outbound screen: " + leaks[0].Kind, tokens: tokens}
	}

	if err := s.sim.TypingPause(ctx, len([]rune(body))); err != nil {
		return taskResult{status: StatusFailed, tokens: tokens, err: err}
	}

	pctx, span := otel.StartClientSpan(ctx, s.tracer, "platform.publish",
		otel.AttrActionType.String("publish"))
	pr, err := s.plat.Publish(pctx, title, body)
	span.End()
	if err != nil {
		return taskResult{status: StatusFailed, tokens: tokens, err: fmt.Errorf("publish post: %w", err)}
	}
	if !pr.Success {
		return taskResult{status: StatusRejected, reason: rejectReason(pr), tokens: tokens}
	}

	s.recordSuccess(ctx, "publish")
	if err := s.mem.Remember(ctx, title, topic, publishImportance); err != nil {
		s.logger.Warn("remember post", "error", err)
	}
	// Seed the performance table; engagement counts start at zero and
	// grow as later collection passes observe the post.
	seed := memory.PerformanceRecord{ContentType: "publish", Topic: topic, Title: title}
	if err := s.mem.RecordPerformance(ctx, seed); err != nil {
		s.logger.Warn("record performance", "error", err)
	}
	return taskResult{status: StatusSuccess, tokens: tokens}
}

func (s *Scheduler) executeHotspot(ctx context.Context, task *protocol.Task) taskResult {
	keyword := task.Keyword
	if keyword == "" {
		keyword = "热门"
	}

	items, err := s.plat.Search(ctx, keyword)
	if err != nil {
		return taskResult{status: StatusFailed, err: fmt.Errorf("search %q: %w", keyword, err)}
	}
	if len(items) == 0 {
		return taskResult{status: StatusSkipped, reason: "no hotspot candidates"}
	}

	// Titles go straight into the summary prompt, so they cross the
	// same trust boundary as comment candidates.
	titles := make([]string, 0, 10)
	for _, it := range items {
		if f := safety.ScreenInbound(it.Title, ""); f.Verdict == safety.VerdictHostile {
			s.logger.Warn("inbound content screened out", "item", it.ID, "reason", f.Reason)
			continue
		}
		titles = append(titles, it.Title)
		if len(titles) == 10 {
			break
		}
	}
	if len(titles) == 0 {
		return taskResult{status: StatusSkipped, reason: "no hotspot candidates after screening"}
	}

	gen, err := s.persona.HotspotSummary(ctx, titles)
	if err != nil {
		return taskResult{status: StatusFailed, err: fmt.Errorf("summarize hotspots: %w", err)}
	}
	gen = s.charge(gen)

	if err := s.mem.Remember(ctx, gen.Text, "hotspot:"+keyword, hotspotImportance); err != nil {
		s.logger.Warn("remember hotspot summary", "error", err)
	}
	return taskResult{status: StatusSuccess, tokens: gen.TotalTokens}
}

func (s *Scheduler) executeLike(ctx context.Context, task *protocol.Task) taskResult {
	keyword := task.Keyword
	if keyword == "" {
		keyword = s.pickInterest()
	}

	items, err := s.plat.Search(ctx, keyword)
	if err != nil {
		return taskResult{status: StatusFailed, err: fmt.Errorf("search %q: %w", keyword, err)}
	}
	if len(items) == 0 {
		return taskResult{status: StatusSkipped, reason: "no candidates for " + keyword}
	}
	item := items[s.rand.Intn(len(items))]

	// Likes carry no text; only the frequency check applies.
	check := s.guard.Check("", "like")
	if !check.Pass {
		return taskResult{status: StatusBlocked, reason: check.Reason}
	}

	if err := s.sim.ReadingPause(ctx, len([]rune(item.Content))); err != nil {
		return taskResult{status: StatusFailed, err: err}
	}

	pctx, span := otel.StartClientSpan(ctx, s.tracer, "platform.like",
		otel.AttrActionType.String("like"))
	pr, err := s.plat.Like(pctx, item.ID)
	span.End()
	if err != nil {
		return taskResult{status: StatusFailed, err: fmt.Errorf("like: %w", err)}
	}
	if !pr.Success {
		return taskResult{status: StatusRejected, reason: rejectReason(pr)}
	}

	s.recordSuccess(ctx, "like")
	return taskResult{status: StatusSuccess}
}

// recordSuccess runs the bookkeeping shared by every platform-confirmed
// action: rate log, counters, post-action pause. The pause runs after
// the action already happened, so cancellation here is not a failure.
func (s *Scheduler) recordSuccess(ctx context.Context, actionType string) {
	s.guard.RecordAction(actionType)
	s.dayActions++
	if s.metrics != nil {
		s.metrics.ActionsExecuted.Add(ctx, 1)
	}
	if err := s.sim.PostActionPause(ctx); err != nil {
		s.logger.Debug("post-action pause interrupted", "error", err)
	}
}

func (s *Scheduler) pickInterest() string {
	return defaultInterests[s.rand.Intn(len(defaultInterests))]
}

func itemTopic(item platform.Item, fallback string) string {
	if item.Topic != "" {
		return item.Topic
	}
	return fallback
}

func rejectReason(r platform.Result) string {
	if r.Code != "" {
		return r.Code + ": " + r.Message
	}
	return r.Message
}

// splitPost treats the first line of generated text as the post title
// and the rest as the body. A single-line generation becomes a
// title-only post; duplicating the title into the body reads as spam.
func splitPost(text string) (title, body string) {
	text = strings.TrimSpace(text)
	title, body, found := strings.Cut(text, "\n")
	if !found {
		return title, ""
	}
	return strings.TrimSpace(title), strings.TrimSpace(body)
}
