// Package scheduler runs the agent's control loop: fetch a task, gate
// it on budget, execute it under a timeout, persist checkpoint and
// heartbeat, and keep going until cancelled or the consecutive-error
// breaker trips.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/redflow/internal/behavior"
	"github.com/basket/redflow/internal/budget"
	"github.com/basket/redflow/internal/bus"
	"github.com/basket/redflow/internal/config"
	"github.com/basket/redflow/internal/diversity"
	"github.com/basket/redflow/internal/guard"
	"github.com/basket/redflow/internal/llm"
	"github.com/basket/redflow/internal/memory"
	"github.com/basket/redflow/internal/otel"
	"github.com/basket/redflow/internal/persona"
	"github.com/basket/redflow/internal/platform"
	"github.com/basket/redflow/internal/protocol"
	"github.com/basket/redflow/internal/shared"
	"github.com/basket/redflow/internal/thought"
)

// Scheduler states.
const (
	StateStopped = "stopped"
	StateRunning = "running"
)

// Per-cycle result statuses, reported to the parent via the status file.
const (
	StatusSuccess  = "success"
	StatusSkipped  = "skipped"  // thought chain declined, or no candidates
	StatusBlocked  = "blocked"  // safety guard rejected the generated text
	StatusRejected = "rejected" // platform reported failure (not a Go error)
	StatusDeferred = "deferred" // budget refused; task requeued
	StatusTimeout  = "timeout"
	StatusFailed   = "failed"
	StatusIdle     = "idle"
)

// ErrEmergencyStop is returned by Run when the consecutive-error
// ceiling trips the breaker.
var ErrEmergencyStop = errors.New("emergency stop: consecutive error ceiling reached")

// A watchdog grace beyond the task timeout before an unresponsive
// worker goroutine is abandoned.
const watchdogGrace = 30 * time.Second

type taskResult struct {
	status string
	reason string
	tokens int
	err    error
}

// Deps wires the scheduler to its collaborators. All fields except
// Metrics, Tracer and Logger are required.
type Deps struct {
	Config    config.SchedulerConfig
	Agent     string
	Protocol  *protocol.Protocol
	Budget    *budget.Manager
	Guard     *guard.Guard
	Memory    *memory.Store
	Thought   *thought.Chain
	Persona   *persona.Engine
	Diversity *diversity.Controller
	Behavior  *behavior.Simulator
	Platform  platform.Client
	Events    *bus.Bus
	Metrics   *otel.Metrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Scheduler is the single-threaded control loop. One task runs to
// completion (or timeout) per cycle; the only concurrency is the
// watchdog around task execution.
type Scheduler struct {
	cfg     config.SchedulerConfig
	agent   string
	proto   *protocol.Protocol
	budget  *budget.Manager
	guard   *guard.Guard
	mem     *memory.Store
	chain   *thought.Chain
	persona *persona.Engine
	div     *diversity.Controller
	sim     *behavior.Simulator
	plat    platform.Client
	events  *bus.Bus
	metrics *otel.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	policy      *selfTaskPolicy
	taskTimeout time.Duration
	maxErrors   int
	sleepMin    time.Duration
	sleepMax    time.Duration

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  *rand.Rand

	mu    sync.Mutex
	state string

	cycle  int64
	errors int

	// Daily summary counters.
	day        string
	dayActions int
	dayTokens  int
	lastUsage  budget.Usage

	lastQueueDepth int64
	lastErrGauge   int64
}

// New builds a Scheduler from its dependencies, applying defaults for
// unset loop parameters.
func New(d Deps) *Scheduler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := d.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("scheduler")
	}

	timeout := time.Duration(d.Config.TaskTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	maxErrors := d.Config.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = 10
	}
	sleepMin := time.Duration(d.Config.CycleSleepMinSeconds) * time.Second
	sleepMax := time.Duration(d.Config.CycleSleepMaxSeconds) * time.Second
	if sleepMin <= 0 {
		sleepMin = time.Minute
	}
	if sleepMax < sleepMin {
		sleepMax = sleepMin
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Scheduler{
		cfg:         d.Config,
		agent:       d.Agent,
		proto:       d.Protocol,
		budget:      d.Budget,
		guard:       d.Guard,
		mem:         d.Memory,
		chain:       d.Thought,
		persona:     d.Persona,
		div:         d.Diversity,
		sim:         d.Behavior,
		plat:        d.Platform,
		events:      d.Events,
		metrics:     d.Metrics,
		tracer:      tracer,
		logger:      logger,
		policy:      newSelfTaskPolicy(d.Config, r),
		taskTimeout: timeout,
		maxErrors:   maxErrors,
		sleepMin:    sleepMin,
		sleepMax:    sleepMax,
		now:         time.Now,
		sleep:       sleepCtx,
		rand:        r,
		state:       StateStopped,
	}
}

// State reports the current loop state.
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run executes the control loop until the context is cancelled
// (graceful stop, returns nil) or the error breaker trips (returns
// ErrEmergencyStop). The error budget is restored from the last
// checkpoint so a crash-loop still reaches the ceiling.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setState(StateRunning)
	defer s.setState(StateStopped)

	cp := s.proto.ReadCheckpoint()
	s.errors = cp.ConsecutiveErrors
	s.logger.Info("scheduler running",
		"agent", s.agent,
		"restored_errors", s.errors,
		"max_consecutive_errors", s.maxErrors,
		"task_timeout", s.taskTimeout,
	)

	// An emergency stop can also be raised outside the cycle body, by
	// anything holding the guard. The loop honors it either way.
	var emergency *bus.Subscription
	if s.events != nil {
		emergency = s.events.Subscribe("guard.")
		defer s.events.Unsubscribe(emergency)
	}

	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped", "cycles", s.cycle)
			return nil
		}
		if emergencySignaled(emergency) {
			s.logger.Error("halting on emergency stop signal", "cycles", s.cycle)
			return ErrEmergencyStop
		}

		s.cycle++
		if halted := s.runCycle(ctx); halted {
			return ErrEmergencyStop
		}

		if err := s.sleep(ctx, behavior.Jitter(s.sleepMin, s.sleepMax)); err != nil {
			s.logger.Info("scheduler stopped", "cycles", s.cycle)
			return nil
		}
	}
}

// emergencySignaled drains pending guard events and reports whether an
// emergency stop was raised.
func emergencySignaled(sub *bus.Subscription) bool {
	if sub == nil {
		return false
	}
	for {
		select {
		case ev := <-sub.Ch():
			if ev.Topic == bus.TopicGuardEmergency {
				return true
			}
		default:
			return false
		}
	}
}

// runCycle performs one full cycle. It returns true when the
// consecutive-error ceiling was reached and the loop must halt.
func (s *Scheduler) runCycle(ctx context.Context) bool {
	start := s.now()
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx = shared.WithCycle(ctx, s.cycle)
	s.rolloverSummary(ctx)

	task, res := s.cycleBody(ctx)

	if res.err != nil {
		s.errors++
		s.logger.Error("cycle failed",
			"cycle", s.cycle,
			"task", taskName(task),
			"status", res.status,
			"consecutive_errors", s.errors,
			"error", res.err,
		)
	} else {
		// Errors count only while uninterrupted. Any clean cycle,
		// whatever its outcome, breaks the streak.
		s.errors = 0
	}

	tripped := res.err != nil && s.errors >= s.maxErrors
	if tripped {
		s.guard.EmergencyStop(fmt.Sprintf("%d consecutive cycle errors", s.errors))
	}

	s.persistCycle(task, res, tripped)
	s.publishCycle(task, res)
	s.recordCycleMetrics(ctx, start)

	return tripped
}

// cycleBody covers task fetch through execution. Any error it returns
// counts against the consecutive-error budget.
func (s *Scheduler) cycleBody(ctx context.Context) (*protocol.Task, taskResult) {
	task, ok, err := s.proto.NextTask()
	if err != nil {
		return nil, taskResult{status: StatusFailed, err: fmt.Errorf("fetch task: %w", err)}
	}
	if !ok {
		task = s.policy.Next(s.now())
		if task == nil {
			return nil, taskResult{status: StatusIdle}
		}
		s.logger.Info("self-generated task", "type", task.Type, "name", task.Name)
	}

	if !s.budget.Check(task.EstimatedTokens) {
		if s.metrics != nil {
			s.metrics.BudgetRejects.Add(ctx, 1)
		}
		// Push the task to the back of the queue; the budget may
		// recover after the daily rollover.
		if err := s.proto.Enqueue(*task); err != nil {
			s.logger.Error("requeue deferred task", "task", task.Name, "error", err)
		}
		s.logger.Warn("budget refused task",
			"task", task.Name, "estimated_tokens", task.EstimatedTokens)
		return task, taskResult{status: StatusDeferred, reason: "budget refused"}
	}

	return task, s.executeWithTimeout(ctx, task)
}

// executeWithTimeout bounds task execution by wall clock. Execution
// runs in a worker goroutine; if the worker ignores cancellation past
// a grace period, the cycle abandons it rather than hang.
func (s *Scheduler) executeWithTimeout(ctx context.Context, task *protocol.Task) taskResult {
	ctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	done := make(chan taskResult, 1)
	go func() {
		done <- s.execute(ctx, task)
	}()

	select {
	case res := <-done:
		return res
	case <-time.After(s.taskTimeout + watchdogGrace):
		return taskResult{
			status: StatusTimeout,
			err:    fmt.Errorf("task %q ignored cancellation, abandoned by watchdog", task.Name),
		}
	}
}

// persistCycle writes checkpoint, status and heartbeat. The heartbeat
// is written unconditionally so a supervisor can tell a stuck process
// from a slow one.
func (s *Scheduler) persistCycle(task *protocol.Task, res taskResult, tripped bool) {
	status := res.status
	if tripped {
		status = "emergency_stop"
	}

	cp := protocol.Checkpoint{
		Timestamp:         s.now(),
		LastTask:          taskName(task),
		LastResultStatus:  status,
		ConsecutiveErrors: s.errors,
	}
	if err := s.proto.WriteCheckpoint(cp); err != nil {
		s.logger.Error("write checkpoint", "error", err)
	}

	if task != nil || tripped {
		if err := s.proto.WriteStatus(taskName(task), status); err != nil {
			s.logger.Error("write status", "error", err)
		}
	}

	hb := StateRunning
	switch {
	case tripped:
		hb = StateStopped
	case task == nil:
		hb = StatusIdle
	}
	if err := s.proto.WriteHeartbeat(hb, s.errors); err != nil {
		s.logger.Error("write heartbeat", "error", err)
	}

	s.lastUsage = s.budget.Snapshot()
}

func (s *Scheduler) publishCycle(task *protocol.Task, res taskResult) {
	if s.events == nil || task == nil {
		return
	}
	topic := bus.TopicCycleCompleted
	if res.err != nil {
		topic = bus.TopicCycleFailed
	}
	s.events.Publish(topic, bus.CycleEvent{
		Cycle:    s.cycle,
		TaskType: task.Type,
		TaskName: task.Name,
		Status:   res.status,
		Tokens:   res.tokens,
		Errors:   s.errors,
	})
}

func (s *Scheduler) recordCycleMetrics(ctx context.Context, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.CycleDuration.Record(ctx, s.now().Sub(start).Seconds())

	if depth, err := s.proto.QueueDepth(); err == nil {
		s.metrics.QueueDepth.Add(ctx, int64(depth)-s.lastQueueDepth)
		s.lastQueueDepth = int64(depth)
	}

	s.metrics.ConsecutiveErrors.Add(ctx, int64(s.errors)-s.lastErrGauge)
	s.lastErrGauge = int64(s.errors)
}

// rolloverSummary publishes the previous day's stats on the first
// cycle of a new day and garbage-collects expired working memory.
func (s *Scheduler) rolloverSummary(ctx context.Context) {
	day := s.now().Format("2006-01-02")
	if s.day == "" {
		s.day = day
		return
	}
	if day == s.day {
		return
	}

	var styles []string
	if stats, err := s.mem.TopPerformingStyles(ctx, 3); err == nil {
		for _, st := range stats {
			styles = append(styles, st.ContentType)
		}
	}
	if s.events != nil {
		s.events.Publish(bus.TopicDailySummary, bus.SummaryEvent{
			Date:       s.day,
			Actions:    s.dayActions,
			TokensUsed: s.lastUsage.TokensUsed,
			Cost:       s.lastUsage.Cost,
			TopStyles:  styles,
		})
	}
	if n, err := s.mem.CompactWorkingMemory(ctx); err != nil {
		s.logger.Warn("compact working memory", "error", err)
	} else if n > 0 {
		s.logger.Info("compacted working memory", "deleted", n)
	}

	s.day = day
	s.dayActions = 0
	s.dayTokens = 0
}

// charge debits a completed generation against the budget and returns
// the result carrying the token counts that were actually charged.
func (s *Scheduler) charge(r llm.Result) llm.Result {
	// Some providers return no usage block; estimate from the text so
	// the budget gate never sees free tokens. The llm client estimates
	// the prompt side too; this fallback only sees the completion.
	if r.TotalTokens == 0 && r.Text != "" {
		r.CompletionTokens = llm.EstimateTokens(r.Text)
		r.TotalTokens = r.CompletionTokens
	}
	s.budget.Consume(r.PromptTokens, false)
	s.budget.Consume(r.CompletionTokens, true)
	s.dayTokens += r.TotalTokens
	if s.metrics != nil {
		s.metrics.TokensUsed.Add(context.Background(), int64(r.TotalTokens))
	}
	return r
}

// consumeLLM is the charge hook handed to the persona rewriter.
func (s *Scheduler) consumeLLM(r llm.Result) {
	s.charge(r)
}

func taskName(task *protocol.Task) string {
	if task == nil {
		return ""
	}
	return task.Name
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
