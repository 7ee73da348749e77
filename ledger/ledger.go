package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agentcycle/agentcycle/safety"
	"github.com/agentcycle/agentcycle/streams"
	"github.com/agentcycle/agentcycle/workflow"
)

// Publisher publishes lifecycle events onto the task streams.
type Publisher interface {
	Publish(ctx context.Context, ch streams.Channel, msg streams.Message) error
}

// Ledger tracks task lifecycle for one agent. Every mutation updates the
// stored entry and publishes a matching event; a publish failure is logged
// but does not roll back the mutation (events are at-least-once anyway).
type Ledger struct {
	store   Store
	pub     Publisher
	agentID string
	clock   safety.Clock
	logger  *slog.Logger
}

// New returns a ledger over the given store and publisher.
func New(store Store, pub Publisher, agentID string, clock safety.Clock, logger *slog.Logger) *Ledger {
	if clock == nil {
		clock = safety.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:   store,
		pub:     pub,
		agentID: agentID,
		clock:   clock,
		logger:  logger,
	}
}

// CreateTask creates a pending entry and publishes it to the task-todo
// channel. The generated ID is immutable.
func (l *Ledger) CreateTask(ctx context.Context, title string, priority workflow.Priority) (*Entry, error) {
	now := l.clock.Now()
	entry := &Entry{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    StatusPending,
		Priority:  priority,
		Assignee:  l.agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.store.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	l.publishEvent(ctx, streams.ChannelTaskTodo, entry)
	return entry, nil
}

// UpdateProgress moves a pending task to in_progress (or annotates one
// already in progress) and publishes to the task-progress channel. Mutating a
// terminal task is a caller error.
func (l *Ledger) UpdateProgress(ctx context.Context, id, note string) (*Entry, error) {
	entry, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status.Terminal() {
		return nil, fmt.Errorf("update task %s: %w", id, ErrTerminalStatus)
	}

	entry.Status = StatusInProgress
	entry.UpdatedAt = l.clock.Now()
	if note != "" {
		entry.Result = note
	}

	if err := l.store.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	l.publishEvent(ctx, streams.ChannelTaskProgress, entry)
	return entry, nil
}

// CompleteTask is the only transition into the completed status. Further
// calls on the same ID are rejected, never silently overwritten.
func (l *Ledger) CompleteTask(ctx context.Context, id, result string) (*Entry, error) {
	entry, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status.Terminal() {
		return nil, fmt.Errorf("complete task %s: %w", id, ErrTerminalStatus)
	}

	now := l.clock.Now()
	entry.Status = StatusCompleted
	entry.UpdatedAt = now
	entry.CompletedAt = &now
	entry.Result = result

	if err := l.store.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	l.publishEvent(ctx, streams.ChannelTaskCompleted, entry)
	return entry, nil
}

// BlockTask marks a task permanently blocked (terminal) with a reason.
func (l *Ledger) BlockTask(ctx context.Context, id, reason string) (*Entry, error) {
	entry, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status.Terminal() {
		return nil, fmt.Errorf("block task %s: %w", id, ErrTerminalStatus)
	}

	entry.Status = StatusBlocked
	entry.UpdatedAt = l.clock.Now()
	entry.Result = reason

	if err := l.store.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("block task: %w", err)
	}

	l.publishEvent(ctx, streams.ChannelTaskProgress, entry)
	return entry, nil
}

// Pending returns pending entries ordered by priority, then creation time
// (earlier wins the tie).
func (l *Ledger) Pending(ctx context.Context) ([]*Entry, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}

	pending := entries[:0]
	for _, e := range entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority.Rank() != pending[j].Priority.Rank() {
			return pending[i].Priority.Rank() < pending[j].Priority.Rank()
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// Get returns the entry with the given ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	return l.store.Get(ctx, id)
}

func (l *Ledger) publishEvent(ctx context.Context, ch streams.Channel, entry *Entry) {
	if l.pub == nil {
		return
	}

	msg := streams.NewMessage(streams.TypeTaskEvent, l.agentID, l.clock.Now())
	msg.Fields["task_id"] = entry.ID
	msg.Fields["title"] = entry.Title
	msg.Fields["status"] = string(entry.Status)
	msg.Fields["priority"] = string(entry.Priority)
	msg.Fields["assignee"] = entry.Assignee
	msg.Fields["created_at"] = entry.CreatedAt.Format(time.RFC3339)
	msg.Fields["updated_at"] = entry.UpdatedAt.Format(time.RFC3339)
	if entry.CompletedAt != nil {
		msg.Fields["completed_at"] = entry.CompletedAt.Format(time.RFC3339)
	}
	if entry.Result != "" {
		msg.Fields["results"] = entry.Result
	}

	if err := l.pub.Publish(ctx, ch, msg); err != nil {
		l.logger.Warn("Failed to publish task event",
			"channel", ch,
			"task_id", entry.ID,
			"error", err)
	}
}
