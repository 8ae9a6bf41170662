package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the agent's metric instruments.
type Metrics struct {
	CycleDuration     metric.Float64Histogram
	LLMCallDuration   metric.Float64Histogram
	TokensUsed        metric.Int64Counter
	ActionsExecuted   metric.Int64Counter
	GuardRejects      metric.Int64Counter
	BudgetRejects     metric.Int64Counter
	ConsecutiveErrors metric.Int64UpDownCounter
	QueueDepth        metric.Int64UpDownCounter
}

// NewMetrics creates all instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CycleDuration, err = meter.Float64Histogram("redflow.cycle.duration",
		metric.WithDescription("Scheduler cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("redflow.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("redflow.llm.tokens",
		metric.WithDescription("Total tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionsExecuted, err = meter.Int64Counter("redflow.platform.actions",
		metric.WithDescription("Platform actions executed successfully"),
	)
	if err != nil {
		return nil, err
	}

	m.GuardRejects, err = meter.Int64Counter("redflow.guard.rejects",
		metric.WithDescription("Actions rejected by the safety guard"),
	)
	if err != nil {
		return nil, err
	}

	m.BudgetRejects, err = meter.Int64Counter("redflow.budget.rejects",
		metric.WithDescription("Tasks refused by the budget gate"),
	)
	if err != nil {
		return nil, err
	}

	m.ConsecutiveErrors, err = meter.Int64UpDownCounter("redflow.scheduler.consecutive_errors",
		metric.WithDescription("Current consecutive cycle error count"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("redflow.protocol.queue_depth",
		metric.WithDescription("Pending task files in the parent queue"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
