package scheduler

import (
	"fmt"
	"math/rand"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/redflow/internal/config"
	"github.com/basket/redflow/internal/protocol"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// selfTaskPolicy generates tasks when the queue is empty. Entries with
// a cron expression fire when their scheduled time passes; the rest
// form a weighted menu drawn probabilistically. Nothing fires inside
// the silent period.
type selfTaskPolicy struct {
	entries     []config.SelfTaskConfig
	probability float64
	silentStart int
	silentEnd   int

	// lastSeen[i] is the last clock reading at which entry i's cron
	// schedule was evaluated. A schedule fires when a run time falls
	// between two evaluations.
	lastSeen map[int]time.Time
	rand     *rand.Rand
}

func newSelfTaskPolicy(cfg config.SchedulerConfig, r *rand.Rand) *selfTaskPolicy {
	return &selfTaskPolicy{
		entries:     cfg.SelfTasks,
		probability: cfg.SelfTaskProbability,
		silentStart: cfg.SilentStartHour,
		silentEnd:   cfg.SilentEndHour,
		lastSeen:    make(map[int]time.Time),
		rand:        r,
	}
}

// inSilentPeriod reports whether the local hour falls in the configured
// quiet window. A wrap-around range (e.g. 23..7) covers midnight.
func (p *selfTaskPolicy) inSilentPeriod(now time.Time) bool {
	h := now.Hour()
	switch {
	case p.silentStart == p.silentEnd:
		return false
	case p.silentStart < p.silentEnd:
		return h >= p.silentStart && h < p.silentEnd
	default:
		return h >= p.silentStart || h < p.silentEnd
	}
}

// Next returns a self-generated task, or nil when the policy declines
// this cycle.
func (p *selfTaskPolicy) Next(now time.Time) *protocol.Task {
	if p.inSilentPeriod(now) {
		return nil
	}

	for i, e := range p.entries {
		if e.Cron == "" {
			continue
		}
		last, seen := p.lastSeen[i]
		p.lastSeen[i] = now
		if !seen {
			continue
		}
		next, err := NextRunTime(e.Cron, last)
		if err != nil {
			continue
		}
		if !next.After(now) {
			return p.task(e, now)
		}
	}

	if p.rand.Float64() >= p.probability {
		return nil
	}

	total := 0
	for _, e := range p.entries {
		if e.Cron == "" {
			total += weight(e)
		}
	}
	if total == 0 {
		return nil
	}
	n := p.rand.Intn(total)
	for _, e := range p.entries {
		if e.Cron != "" {
			continue
		}
		n -= weight(e)
		if n < 0 {
			return p.task(e, now)
		}
	}
	return nil
}

func (p *selfTaskPolicy) task(e config.SelfTaskConfig, now time.Time) *protocol.Task {
	return &protocol.Task{
		Type:            e.Type,
		Name:            fmt.Sprintf("self-%s-%d", e.Type, now.Unix()),
		EstimatedTokens: e.EstimatedTokens,
	}
}

func weight(e config.SelfTaskConfig) int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}
