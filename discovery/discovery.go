// Package discovery turns pending signals and tasks into the next work item,
// synthesizing low-priority momentum work when everything else is empty. The
// engine is never idle by design.
package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentcycle/agentcycle/ledger"
	"github.com/agentcycle/agentcycle/safety"
	"github.com/agentcycle/agentcycle/streams"
	"github.com/agentcycle/agentcycle/workflow"
)

// Engine discovers the next work item. Priority order, first non-empty
// source wins:
//  1. critical/high signals from the coordination and wake channels
//  2. pending ledger entries, priority then creation time
//  3. collaboration requests from the coordination channel
//  4. momentum synthesis
type Engine struct {
	ledger   *ledger.Ledger
	momentum *Momentum
	clock    safety.Clock
	logger   *slog.Logger

	backlog []*workflow.WorkItem
}

// New returns a discovery engine.
func New(l *ledger.Ledger, momentum *Momentum, clock safety.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = safety.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:   l,
		momentum: momentum,
		clock:    clock,
		logger:   logger,
	}
}

// Ingest converts inbound messages into backlog candidates. Control and
// safety messages are not work; malformed wake signals are dropped as
// protocol violations. The caller has already deduplicated by message ID.
func (e *Engine) Ingest(inbox map[streams.Channel][]streams.Message) {
	now := e.clock.Now()

	for _, msg := range inbox[streams.ChannelWake] {
		item, ok := msg.WakeItem(now)
		if !ok {
			e.logger.Warn("Dropping malformed wake signal",
				"message_id", msg.ID,
				"from", msg.From)
			continue
		}
		e.backlog = append(e.backlog, item)
	}

	for _, msg := range inbox[streams.ChannelCoordination] {
		if msg.IsControl() {
			continue
		}
		switch msg.Type {
		case streams.TypeCollaboration:
			task := msg.Field("task")
			if task == "" {
				task = fmt.Sprintf("Assist %s with a collaboration request", msg.From)
			}
			item := workflow.NewWorkItem(task, workflow.ParsePriority(msg.Field("priority")), workflow.CategoryDiscovered, now)
			item.Description = msg.Field("context")
			item.Metadata["message_id"] = msg.ID
			item.Metadata["from"] = msg.From
			e.backlog = append(e.backlog, item)
		case streams.TypeWakeSignal:
			if item, ok := msg.WakeItem(now); ok {
				e.backlog = append(e.backlog, item)
			}
		default:
			e.logger.Debug("Ignoring coordination message",
				"type", msg.Type,
				"message_id", msg.ID)
		}
	}
}

// Push queues an already-built work item (retries).
func (e *Engine) Push(item *workflow.WorkItem) {
	e.backlog = append(e.backlog, item)
}

// BacklogSize returns the number of queued candidates.
func (e *Engine) BacklogSize() int { return len(e.backlog) }

// DiscoverNext returns the next work item. It never returns nil without an
// error: when every real source is empty it synthesizes momentum work.
func (e *Engine) DiscoverNext(ctx context.Context) (*workflow.WorkItem, error) {
	// Urgent signals first.
	if item := e.takeFromBacklog(true); item != nil {
		return item, nil
	}

	pending, err := e.ledger.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	if len(pending) > 0 {
		return pending[0].Item(e.clock.Now()), nil
	}

	// Remaining backlog: collaboration requests and lower-priority signals.
	if item := e.takeFromBacklog(false); item != nil {
		return item, nil
	}

	item := e.momentum.Next(e.clock.Now())
	e.logger.Debug("Synthesized momentum work", "title", item.Title)
	return item, nil
}

// takeFromBacklog removes and returns the best queued candidate. With
// urgentOnly set, only critical/high items qualify. Stable: earlier-queued
// items win ties.
func (e *Engine) takeFromBacklog(urgentOnly bool) *workflow.WorkItem {
	best := -1
	for i, item := range e.backlog {
		if urgentOnly && item.Priority.Rank() > workflow.PriorityHigh.Rank() {
			continue
		}
		if best == -1 || item.Priority.Rank() < e.backlog[best].Priority.Rank() {
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	item := e.backlog[best]
	e.backlog = append(e.backlog[:best], e.backlog[best+1:]...)
	return item
}
