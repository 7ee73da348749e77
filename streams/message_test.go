package streams

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcycle/agentcycle/workflow"
)

func TestNewMessage(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	msg := NewMessage(TypeWakeSignal, "operator", now)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, TypeWakeSignal, msg.Type)
	assert.Equal(t, "operator", msg.From)
	assert.Equal(t, now, msg.Timestamp)
	assert.Equal(t, "", msg.Field("missing"))
}

func TestIsControl(t *testing.T) {
	now := time.Now()
	assert.True(t, NewMessage(TypeControlAuto, "op", now).IsControl())
	assert.True(t, NewMessage(TypeControlManual, "op", now).IsControl())
	assert.True(t, NewMessage(TypeControlTrain, "op", now).IsControl())
	assert.False(t, NewMessage(TypeWakeSignal, "op", now).IsControl())
}

func TestWakeItem(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("valid wake signal becomes an assigned item", func(t *testing.T) {
		msg := NewMessage(TypeWakeSignal, "coordinator", now)
		msg.Fields["task"] = "rebuild the search index"
		msg.Fields["priority"] = "high"
		msg.Fields["context"] = "index lag reported"

		item, ok := msg.WakeItem(now)
		require.True(t, ok)
		assert.Equal(t, "rebuild the search index", item.Title)
		assert.Equal(t, workflow.PriorityHigh, item.Priority)
		assert.Equal(t, workflow.CategoryAssigned, item.Category)
		assert.Equal(t, "index lag reported", item.Description)
		assert.Equal(t, msg.ID, item.Metadata["message_id"])
	})

	t.Run("missing task field is rejected", func(t *testing.T) {
		msg := NewMessage(TypeWakeSignal, "coordinator", now)
		_, ok := msg.WakeItem(now)
		assert.False(t, ok)
	})

	t.Run("non-wake message is rejected", func(t *testing.T) {
		msg := NewMessage(TypeHeartbeat, "agent-2", now)
		msg.Fields["task"] = "anything"
		_, ok := msg.WakeItem(now)
		assert.False(t, ok)
	})
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "cycle.coordination", Subject(ChannelCoordination))
	assert.Equal(t, "cycle.task.todo", Subject(ChannelTaskTodo))
	assert.Equal(t, "agent-a1-task-todo", consumerName("a1", ChannelTaskTodo))
}
