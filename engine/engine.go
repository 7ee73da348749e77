// Package engine implements the workflow state manager: the top-level state
// machine that sequences safety checks, stream polling, work discovery, task
// execution, and the completion ritual, persisting its record at the end of
// every cycle. One call to ExecuteCycle is one atomic step of the loop; there
// is no internal parallelism.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentcycle/agentcycle/completion"
	"github.com/agentcycle/agentcycle/discovery"
	"github.com/agentcycle/agentcycle/ledger"
	"github.com/agentcycle/agentcycle/safety"
	"github.com/agentcycle/agentcycle/streams"
	"github.com/agentcycle/agentcycle/workflow"
)

// StreamController is the engine's view of the stream coordination
// controller.
type StreamController interface {
	PollInbox(ctx context.Context) map[streams.Channel][]streams.Message
	Publish(ctx context.Context, ch streams.Channel, msg streams.Message) error
}

// Config holds engine tuning.
type Config struct {
	// AgentID is this instance's identity. Exactly one live instance may
	// own an identity; single-writer discipline is enforced externally.
	AgentID string
	// TasksPerPhase is how many completed tasks flip Phase1/Phase2.
	TasksPerPhase int
	// CycleInterval paces the Run loop.
	CycleInterval time.Duration
	// ExecTimeout bounds one task-body execution.
	ExecTimeout time.Duration
	// MaxAttempts bounds retries of a failing task before it is blocked.
	MaxAttempts int
	// RecoveryWindow and RecoveryThreshold control escalation: that many
	// error-recovery entries inside the rolling window force a safety
	// pause. The window ages out naturally; success does not reset it.
	RecoveryWindow    time.Duration
	RecoveryThreshold int
	// EscalationCooldown is the longer pause applied on escalation,
	// measured from the moment the escalation fires.
	EscalationCooldown time.Duration
	// DedupeCapacity bounds the seen-message set.
	DedupeCapacity int
}

// DefaultConfig returns engine defaults.
func DefaultConfig(agentID string) Config {
	return Config{
		AgentID:            agentID,
		TasksPerPhase:      5,
		CycleInterval:      5 * time.Second,
		ExecTimeout:        10 * time.Minute,
		MaxAttempts:        3,
		RecoveryWindow:     10 * time.Minute,
		RecoveryThreshold:  3,
		EscalationCooldown: 15 * time.Minute,
		DedupeCapacity:     512,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent ID is required")
	}
	if c.TasksPerPhase <= 0 {
		return fmt.Errorf("tasks per phase must be positive")
	}
	if c.RecoveryThreshold <= 0 {
		return fmt.Errorf("recovery threshold must be positive")
	}
	return nil
}

// Dependencies bundles the engine's collaborators.
type Dependencies struct {
	Safety     *safety.Orchestrator
	Streams    StreamController
	Ledger     *ledger.Ledger
	Discovery  *discovery.Engine
	Momentum   *discovery.Momentum
	Completion *completion.Manager
	States     workflow.StateStore
	Executor   Executor
	Clock      safety.Clock
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Manager is the workflow state manager for one agent instance.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	clock  safety.Clock

	safety     *safety.Orchestrator
	streams    StreamController
	ledger     *ledger.Ledger
	discovery  *discovery.Engine
	momentum   *discovery.Momentum
	completion *completion.Manager
	states     workflow.StateStore
	executor   Executor
	metrics    *Metrics

	// mu guards every mutable field below. ExecuteCycle holds it for the
	// whole cycle, so a tuning request from the config watcher goroutine
	// never interleaves with a running cycle.
	mu            sync.Mutex
	record        *workflow.StateRecord
	started       bool
	current       *workflow.WorkItem
	currentTaskID string
	lastResult    *workflow.Result
	recoveries    []time.Time
	pauseUntil    time.Time
	seen          *seenSet
	// tuned wakes the Run loop when the cycle interval changes.
	tuned chan struct{}
}

// New builds a manager. The state record is not loaded until Start.
func New(cfg Config, deps Dependencies) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if deps.Safety == nil || deps.Streams == nil || deps.Ledger == nil ||
		deps.Discovery == nil || deps.Completion == nil || deps.States == nil ||
		deps.Executor == nil {
		return nil, fmt.Errorf("missing engine dependency")
	}
	if deps.Clock == nil {
		deps.Clock = safety.SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Manager{
		cfg:        cfg,
		logger:     deps.Logger,
		clock:      deps.Clock,
		safety:     deps.Safety,
		streams:    deps.Streams,
		ledger:     deps.Ledger,
		discovery:  deps.Discovery,
		momentum:   deps.Momentum,
		completion: deps.Completion,
		states:     deps.States,
		executor:   deps.Executor,
		metrics:    deps.Metrics,
		seen:       newSeenSet(cfg.DedupeCapacity),
		tuned:      make(chan struct{}, 1),
	}, nil
}

// Start loads the persisted record once. After a restart the engine resumes
// at StreamCheck regardless of where it was killed: every cycle's side
// effects are committed only at the cycle's end, so re-entering StreamCheck
// is always safe.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start(ctx)
}

func (m *Manager) start(ctx context.Context) error {
	if m.started {
		return nil
	}

	record, err := m.states.Load(ctx, m.cfg.AgentID)
	switch {
	case err == nil:
		record.State = workflow.StateStreamCheck
		m.record = record
		m.logger.Info("Resumed from persisted state record",
			"phase", record.Phase,
			"cycle", record.Cycle,
			"mode", record.Mode)
	case errors.Is(err, workflow.ErrRecordNotFound):
		m.record = workflow.NewStateRecord(m.clock.Now())
		m.logger.Info("Starting fresh session", "agent_id", m.cfg.AgentID)
	default:
		// Persisted-state corruption is fatal: stop and rely on external
		// restart once the record TTL clears it.
		return fmt.Errorf("load state record: %w", err)
	}

	m.started = true
	return nil
}

// State returns the current workflow state.
func (m *Manager) State() workflow.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return workflow.StateInitializing
	}
	return m.record.State
}

// Record returns a copy of the current state record.
func (m *Manager) Record() *workflow.StateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return nil
	}
	return m.record.Clone()
}

// Mode returns the current control mode.
func (m *Manager) Mode() workflow.ControlMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return workflow.ModeAuto
	}
	return m.record.Mode
}

// ExecuteCycle runs one atomic step of the loop and returns the state the
// engine is in afterwards. The returned error is fatal only (state record
// unwritable); everything else is absorbed into the state machine.
func (m *Manager) ExecuteCycle(ctx context.Context) (workflow.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		if err := m.start(ctx); err != nil {
			return workflow.StateInitializing, err
		}
	}

	m.record.Cycle++
	now := m.clock.Now()

	// Safety gate: nothing else runs this cycle when unsafe.
	status := m.safety.IsSafeToProceed()
	if !status.Safe {
		m.publishSafety(ctx, status)
		m.metrics.observeSafetyBlock(status.RecommendedAction)
		if status.ExpiresAt != nil && status.ExpiresAt.After(m.pauseUntil) {
			m.pauseUntil = *status.ExpiresAt
		}
		m.record.State = workflow.StateSafetyPause
		return m.persist(ctx)
	}
	if now.Before(m.pauseUntil) {
		m.record.State = workflow.StateSafetyPause
		return m.persist(ctx)
	}

	// Channels are drained every cycle, whatever state the machine is in,
	// so operator control messages are never starved. A manual freeze
	// could otherwise never end.
	m.drainInbox(ctx)

	// Pause contract: manual mode re-persists the current state unchanged
	// and the cycle is a no-op.
	if m.record.Mode == workflow.ModeManual {
		return m.persist(ctx)
	}

	next, err := m.dispatch(ctx)
	if err != nil {
		m.logger.Error("State handler failed",
			"state", m.record.State,
			"error", err)
		next = m.enterRecovery(now)
	}
	m.record.State = next
	return m.persist(ctx)
}

// Run drives cycles until ctx is cancelled. A fatal error stops the
// instance; restart and resume is an external, process-level decision.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	interval := m.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Engine running",
		"agent_id", m.cfg.AgentID,
		"interval", interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Engine stopping", "cycle", m.Record().Cycle)
			return nil
		case <-m.tuned:
			if next := m.interval(); next != interval {
				ticker.Reset(next)
				interval = next
				m.logger.Info("Cycle interval changed", "interval", interval)
			}
		case <-ticker.C:
			if _, err := m.ExecuteCycle(ctx); err != nil {
				return fmt.Errorf("fatal cycle error: %w", err)
			}
		}
	}
}

// interval returns the current cycle interval.
func (m *Manager) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.CycleInterval <= 0 {
		return DefaultConfig(m.cfg.AgentID).CycleInterval
	}
	return m.cfg.CycleInterval
}

// ApplyTuning mutates live parameters. Honored only in training mode; in any
// other mode the request is logged and ignored.
func (m *Manager) ApplyTuning(limits safety.Limits, momentumTemplates []string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record == nil || m.record.Mode != workflow.ModeTraining {
		m.logger.Info("Ignoring tuning request outside training mode")
		return
	}
	m.safety.ApplyLimits(limits)
	if m.momentum != nil && len(momentumTemplates) > 0 {
		m.momentum.SetTemplates(momentumTemplates)
	}
	if interval > 0 && interval != m.cfg.CycleInterval {
		m.cfg.CycleInterval = interval
		select {
		case m.tuned <- struct{}{}:
		default:
		}
	}
	m.logger.Info("Applied training-mode tuning")
}

// persist writes the record at the cycle's end. A write failure is fatal.
func (m *Manager) persist(ctx context.Context) (workflow.State, error) {
	if err := m.states.Save(ctx, m.cfg.AgentID, m.record); err != nil {
		return m.record.State, fmt.Errorf("persist state record: %w", err)
	}
	m.metrics.observeCycle(string(m.record.State))
	return m.record.State, nil
}

// enterRecovery notes one error-recovery entry and returns the next state,
// escalating to SafetyPause when the rolling window fills up.
func (m *Manager) enterRecovery(now time.Time) workflow.State {
	m.metrics.observeRecovery()

	cutoff := now.Add(-m.cfg.RecoveryWindow)
	kept := m.recoveries[:0]
	for _, t := range m.recoveries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.recoveries = append(kept, now)

	if len(m.recoveries) >= m.cfg.RecoveryThreshold {
		m.recoveries = nil
		m.pauseUntil = now.Add(m.cfg.EscalationCooldown)
		m.logger.Warn("Repeated error recovery, escalating to safety pause",
			"cooldown", m.cfg.EscalationCooldown)
		return workflow.StateSafetyPause
	}
	return workflow.StateErrorRecovery
}

// drainInbox reads the inbox channels once, applying control messages and
// queueing everything else for discovery.
func (m *Manager) drainInbox(ctx context.Context) {
	inbox := m.streams.PollInbox(ctx)
	m.ingest(inbox)
}

// ingest applies control messages and hands the rest to discovery, dropping
// any message ID seen before.
func (m *Manager) ingest(inbox map[streams.Channel][]streams.Message) {
	fresh := make(map[streams.Channel][]streams.Message, len(inbox))
	for ch, msgs := range inbox {
		for _, msg := range msgs {
			if m.seen.Seen(msg.ID) {
				continue
			}
			// Shared channels echo our own publications back.
			if msg.From == m.cfg.AgentID {
				continue
			}
			if msg.IsControl() {
				m.applyControl(msg)
				continue
			}
			if ch == streams.ChannelSafety {
				m.logger.Info("External safety message",
					"from", msg.From,
					"type", msg.Type)
				continue
			}
			fresh[ch] = append(fresh[ch], msg)
		}
	}
	m.discovery.Ingest(fresh)
}

func (m *Manager) applyControl(msg streams.Message) {
	mode, err := workflow.ParseControlMode(msg.Type)
	if err != nil {
		m.logger.Warn("Dropping malformed control message",
			"type", msg.Type,
			"from", msg.From)
		return
	}
	if m.record.Mode != mode {
		m.logger.Info("Control mode changed",
			"from", m.record.Mode,
			"to", mode,
			"operator", msg.From)
	}
	m.record.Mode = mode
}

func (m *Manager) publishSafety(ctx context.Context, status safety.Status) {
	msg := streams.NewMessage(streams.TypeSafetyStatus, m.cfg.AgentID, m.clock.Now())
	msg.Fields["is_safe"] = fmt.Sprintf("%t", status.Safe)
	msg.Fields["reason"] = status.Reason
	msg.Fields["severity"] = string(status.Severity)
	if status.RecommendedAction != "" {
		msg.Fields["recommended_action"] = status.RecommendedAction
	}
	if err := m.streams.Publish(ctx, streams.ChannelSafety, msg); err != nil {
		m.logger.Warn("Failed to publish safety status", "error", err)
	}
}

func (m *Manager) publishHeartbeat(ctx context.Context) {
	msg := streams.NewMessage(streams.TypeHeartbeat, m.cfg.AgentID, m.clock.Now())
	msg.Fields["cycle"] = fmt.Sprintf("%d", m.record.Cycle)
	msg.Fields["state"] = string(m.record.State)
	msg.Fields["phase"] = string(m.record.Phase)
	msg.Fields["mode"] = string(m.record.Mode)
	if err := m.streams.Publish(ctx, streams.ChannelCoordination, msg); err != nil {
		m.logger.Warn("Failed to publish heartbeat", "error", err)
	}
}
