package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcycle/agentcycle/safety"
	"github.com/agentcycle/agentcycle/streams"
	"github.com/agentcycle/agentcycle/workflow"
)

type recordingPublisher struct {
	msgs map[streams.Channel][]streams.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, ch streams.Channel, msg streams.Message) error {
	if p.msgs == nil {
		p.msgs = map[streams.Channel][]streams.Message{}
	}
	p.msgs[ch] = append(p.msgs[ch], msg)
	return p.err
}

func TestRunPublishesRitualAndHandsOff(t *testing.T) {
	clock := safety.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	m := New(pub, "agent-1", 10*time.Second, clock, nil)

	item := workflow.NewWorkItem("ship the fix", workflow.PriorityHigh, workflow.CategoryAssigned, clock.Now())
	result := &workflow.Result{Success: true, Output: "shipped", CompletedAt: clock.Now()}

	hint, err := m.Run(context.Background(), item, result)
	require.NoError(t, err)
	assert.Equal(t, HintPhaseTransition, hint)

	require.Len(t, pub.msgs[streams.ChannelCelebration], 1)
	ack := pub.msgs[streams.ChannelCelebration][0]
	assert.Equal(t, "ship the fix", ack.Field("task_title"))
	assert.Equal(t, "true", ack.Field("success"))

	// The pause is a timestamp in the message, never a real sleep.
	pauseUntil, perr := time.Parse(time.RFC3339, ack.Field("pause_until"))
	require.NoError(t, perr)
	assert.Equal(t, clock.Now().Add(10*time.Second), pauseUntil)

	require.Len(t, pub.msgs[streams.ChannelInsights], 1)
	assert.NotEmpty(t, pub.msgs[streams.ChannelInsights][0].Field("lessons"))
}

func TestRunWithoutItemGoesStraightToDiscovery(t *testing.T) {
	clock := safety.NewFakeClock(time.Now())
	pub := &recordingPublisher{}
	m := New(pub, "agent-1", 0, clock, nil)

	hint, err := m.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, HintWorkDiscovery, hint)
	assert.Empty(t, pub.msgs)
}

func TestRunConcludesDespitePublishFailure(t *testing.T) {
	clock := safety.NewFakeClock(time.Now())
	pub := &recordingPublisher{err: errors.New("stream down")}
	m := New(pub, "agent-1", DefaultCelebrationCap, clock, nil)

	item := workflow.NewWorkItem("doomed publish", workflow.PriorityLow, workflow.CategoryMomentum, clock.Now())
	hint, err := m.Run(context.Background(), item, &workflow.Result{Success: true})
	require.NoError(t, err)
	assert.Equal(t, HintPhaseTransition, hint)
}

func TestCelebrationCapIsClamped(t *testing.T) {
	clock := safety.NewFakeClock(time.Now())
	assert.Equal(t, DefaultCelebrationCap, New(&recordingPublisher{}, "a", -time.Second, clock, nil).celebrationCap)
	assert.Equal(t, DefaultCelebrationCap, New(&recordingPublisher{}, "a", time.Minute, clock, nil).celebrationCap)
	assert.Equal(t, 5*time.Second, New(&recordingPublisher{}, "a", 5*time.Second, clock, nil).celebrationCap)
}
