// Package completion runs the bounded post-task ritual: acknowledge, reflect,
// hand off. The ritual is time-capped and always concludes by re-entering the
// main loop; it has no path that loops on celebration.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentcycle/agentcycle/safety"
	"github.com/agentcycle/agentcycle/streams"
	"github.com/agentcycle/agentcycle/workflow"
)

// Hint tells the state manager where to go after the ritual.
type Hint string

const (
	// HintPhaseTransition is the normal hand-off after a full ritual.
	HintPhaseTransition Hint = "phase_transition"
	// HintWorkDiscovery is returned when there was nothing to celebrate
	// (no in-flight item); the loop goes straight back to discovery.
	HintWorkDiscovery Hint = "work_discovery"
)

// Publisher publishes ritual messages.
type Publisher interface {
	Publish(ctx context.Context, ch streams.Channel, msg streams.Message) error
}

// Manager runs the completion ritual for one agent.
type Manager struct {
	pub     Publisher
	agentID string
	clock   safety.Clock
	// celebrationCap bounds the logical celebration pause. It is enforced
	// as a timestamp in the published message, never as a real sleep, so a
	// cycle never blocks wall-clock time.
	celebrationCap time.Duration
	logger         *slog.Logger
}

// DefaultCelebrationCap bounds the acknowledgment pause.
const DefaultCelebrationCap = 15 * time.Second

// New returns a completion manager.
func New(pub Publisher, agentID string, celebrationCap time.Duration, clock safety.Clock, logger *slog.Logger) *Manager {
	if celebrationCap <= 0 || celebrationCap > 30*time.Second {
		celebrationCap = DefaultCelebrationCap
	}
	if clock == nil {
		clock = safety.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pub:            pub,
		agentID:        agentID,
		clock:          clock,
		celebrationCap: celebrationCap,
		logger:         logger,
	}
}

// Run executes the three-step ritual for a finished item and returns the
// next-action hint. Publish failures are logged and the ritual still
// concludes: the hand-off is unconditional.
func (m *Manager) Run(ctx context.Context, item *workflow.WorkItem, result *workflow.Result) (Hint, error) {
	if item == nil {
		return HintWorkDiscovery, nil
	}

	now := m.clock.Now()

	// Step 1: brief acknowledgment, capped by a pause-until timestamp.
	ack := streams.NewMessage(streams.TypeCelebration, m.agentID, now)
	ack.Fields["task_title"] = item.Title
	ack.Fields["category"] = string(item.Category)
	ack.Fields["success"] = fmt.Sprintf("%t", result != nil && result.Success)
	ack.Fields["pause_until"] = now.Add(m.celebrationCap).Format(time.RFC3339)
	if err := m.pub.Publish(ctx, streams.ChannelCelebration, ack); err != nil {
		m.logger.Warn("Failed to publish celebration", "error", err)
	}

	// Step 2: structured reflection.
	insights := streams.NewMessage(streams.TypeInsights, m.agentID, now)
	insights.Fields["task_title"] = item.Title
	insights.Fields["lessons"] = m.lessons(item, result)
	insights.Fields["process_notes"] = fmt.Sprintf("attempt %d, category %s", item.Attempt(), item.Category)
	if err := m.pub.Publish(ctx, streams.ChannelInsights, insights); err != nil {
		m.logger.Warn("Failed to publish insights", "error", err)
	}

	// Step 3: immediate hand-off.
	return HintPhaseTransition, nil
}

func (m *Manager) lessons(item *workflow.WorkItem, result *workflow.Result) string {
	if result == nil {
		return fmt.Sprintf("no result recorded for %q", item.Title)
	}
	if !result.Success {
		return fmt.Sprintf("execution failed: %s", result.Error)
	}
	if item.Category == workflow.CategoryMomentum {
		return "momentum work kept the loop warm; real work preempts it"
	}
	return fmt.Sprintf("completed %q without incident", item.Title)
}
