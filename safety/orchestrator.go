package safety

import (
	"log/slog"
)

// Limits bundles every safety ceiling.
type Limits struct {
	Rate      RateLimits     `yaml:"rate" json:"rate"`
	Loop      LoopLimits     `yaml:"loop" json:"loop"`
	Resources ResourceLimits `yaml:"resources" json:"resources"`
}

// DefaultLimits returns defaults for all checks.
func DefaultLimits() Limits {
	return Limits{
		Rate:      DefaultRateLimits(),
		Loop:      DefaultLoopLimits(),
		Resources: DefaultResourceLimits(),
	}
}

// Orchestrator gatekeeps every cycle and every outbound call. All sub-checks
// must pass; on failure the single highest-severity status is returned so the
// caller has exactly one remedial action to take.
type Orchestrator struct {
	clock     Clock
	rate      *RateLimiter
	loops     *LoopDetector
	resources *ResourceChecker
	logger    *slog.Logger
}

// New builds an orchestrator. A nil sampler disables the resource check
// (tests); a nil clock uses the system clock.
func New(limits Limits, sampler Sampler, clock Clock, logger *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		clock:     clock,
		rate:      NewRateLimiter(limits.Rate, clock),
		loops:     NewLoopDetector(limits.Loop, clock),
		resources: NewResourceChecker(limits.Resources, sampler),
		logger:    logger,
	}
}

// IsSafeToProceed runs all checks and returns the highest-severity failure,
// or a safe status when everything passes. Called once per cycle before any
// side-effecting work.
func (o *Orchestrator) IsSafeToProceed() Status {
	statuses := make([]Status, 0, 3)
	statuses = append(statuses, o.rate.Check())
	statuses = append(statuses, o.loops.Check())

	res, err := o.resources.Check()
	if err != nil {
		o.logger.Warn("Resource sampling failed", "error", err)
	}
	statuses = append(statuses, res)

	worst := OK()
	found := false
	for _, st := range statuses {
		if st.Safe {
			continue
		}
		if !found || st.Severity.rank() > worst.Severity.rank() {
			worst = st
			found = true
		}
	}
	if !found {
		return OK()
	}
	return worst
}

// RecordOutboundCall must be called before any externally-visible call. It
// counts the call against the rate windows and feeds the loop detector.
// Returns ErrCircuitOpen while the breaker is active, or a rate refusal
// error when the call itself trips a ceiling.
func (o *Orchestrator) RecordOutboundCall(action string, params map[string]string) error {
	st := o.rate.Allow()
	if !st.Safe {
		o.logger.Warn("Outbound call refused",
			"action", action,
			"reason", st.Reason)
		return ErrCircuitOpen
	}
	o.loops.Record(action, params)
	return nil
}

// EnterCall and ExitCall bracket nested logical call scopes for depth
// tracking.
func (o *Orchestrator) EnterCall() { o.loops.Enter() }

// ExitCall closes a scope opened by EnterCall.
func (o *Orchestrator) ExitCall() { o.loops.Exit() }

// BreakerOpen reports whether the rate circuit breaker is active.
func (o *Orchestrator) BreakerOpen() bool { return o.rate.BreakerOpen() }

// ApplyLimits replaces the rate ceilings live (training mode). Loop and
// resource limits are fixed for the life of the instance.
func (o *Orchestrator) ApplyLimits(limits Limits) {
	o.rate.SetLimits(limits.Rate)
	o.logger.Info("Applied new rate limits",
		"per_minute", limits.Rate.PerMinute,
		"per_hour", limits.Rate.PerHour,
		"per_day", limits.Rate.PerDay)
}
