package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcycle/agentcycle/safety"
	"github.com/agentcycle/agentcycle/streams"
	"github.com/agentcycle/agentcycle/workflow"
)

type capturingPublisher struct {
	events []published
}

type published struct {
	channel streams.Channel
	msg     streams.Message
}

func (p *capturingPublisher) Publish(_ context.Context, ch streams.Channel, msg streams.Message) error {
	p.events = append(p.events, published{channel: ch, msg: msg})
	return nil
}

func newTestLedger() (*Ledger, *capturingPublisher, *safety.FakeClock) {
	clock := safety.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	pub := &capturingPublisher{}
	l := New(NewMemoryStore(), pub, "agent-1", clock, nil)
	return l, pub, clock
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	l, pub, _ := newTestLedger()

	entry, err := l.CreateTask(ctx, "write release notes", workflow.PriorityMedium)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, "agent-1", entry.Assignee)

	require.Len(t, pub.events, 1)
	assert.Equal(t, streams.ChannelTaskTodo, pub.events[0].channel)
	assert.Equal(t, entry.ID, pub.events[0].msg.Field("task_id"))
	assert.Equal(t, "pending", pub.events[0].msg.Field("status"))
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	l, pub, clock := newTestLedger()

	entry, err := l.CreateTask(ctx, "migrate the cache", workflow.PriorityHigh)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	inProgress, err := l.UpdateProgress(ctx, entry.ID, "started")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, inProgress.Status)
	assert.True(t, inProgress.UpdatedAt.After(entry.CreatedAt))

	clock.Advance(time.Minute)
	done, err := l.CompleteTask(ctx, entry.ID, "migrated 12k keys")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "migrated 12k keys", done.Result)

	// todo, progress, completed
	require.Len(t, pub.events, 3)
	assert.Equal(t, streams.ChannelTaskCompleted, pub.events[2].channel)
	assert.Equal(t, "migrated 12k keys", pub.events[2].msg.Field("results"))
}

func TestTerminalStatusIsFinal(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger()

	entry, err := l.CreateTask(ctx, "one-shot job", workflow.PriorityLow)
	require.NoError(t, err)
	_, err = l.CompleteTask(ctx, entry.ID, "done")
	require.NoError(t, err)

	_, err = l.CompleteTask(ctx, entry.ID, "done again")
	assert.ErrorIs(t, err, ErrTerminalStatus)
	_, err = l.UpdateProgress(ctx, entry.ID, "poking a corpse")
	assert.ErrorIs(t, err, ErrTerminalStatus)
	_, err = l.BlockTask(ctx, entry.ID, "too late")
	assert.ErrorIs(t, err, ErrTerminalStatus)

	blocked, err := l.CreateTask(ctx, "doomed job", workflow.PriorityLow)
	require.NoError(t, err)
	_, err = l.BlockTask(ctx, blocked.ID, "dependency missing")
	require.NoError(t, err)
	_, err = l.CompleteTask(ctx, blocked.ID, "nope")
	assert.ErrorIs(t, err, ErrTerminalStatus)
}

func TestDuplicateCreateRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	entry := &Entry{ID: "fixed-id", Title: "a", Status: StatusPending}
	require.NoError(t, store.Create(ctx, entry))
	assert.ErrorIs(t, store.Create(ctx, entry), ErrDuplicateID)
}

func TestPendingOrdering(t *testing.T) {
	ctx := context.Background()
	l, _, clock := newTestLedger()

	low, err := l.CreateTask(ctx, "low prio early", workflow.PriorityLow)
	require.NoError(t, err)
	clock.Advance(time.Second)
	highLate, err := l.CreateTask(ctx, "high prio late", workflow.PriorityHigh)
	require.NoError(t, err)
	clock.Advance(time.Second)
	highLater, err := l.CreateTask(ctx, "high prio later", workflow.PriorityHigh)
	require.NoError(t, err)

	// Terminal and in-progress entries are excluded.
	done, err := l.CreateTask(ctx, "already done", workflow.PriorityCritical)
	require.NoError(t, err)
	_, err = l.CompleteTask(ctx, done.ID, "done")
	require.NoError(t, err)

	pending, err := l.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, highLate.ID, pending[0].ID, "priority first, earlier creation breaks the tie")
	assert.Equal(t, highLater.ID, pending[1].ID)
	assert.Equal(t, low.ID, pending[2].ID)
}

func TestMissingTask(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger()

	_, err := l.UpdateProgress(ctx, "no-such-id", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
