// Package streams implements the stream coordination controller: named
// message channels backed by NATS JetStream that connect one engine instance
// to operators and to other agents.
package streams

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentcycle/agentcycle/workflow"
)

// Channel is a logically named message channel.
type Channel string

const (
	ChannelCoordination  Channel = "coordination"
	ChannelWake          Channel = "wake"
	ChannelTaskTodo      Channel = "task.todo"
	ChannelTaskProgress  Channel = "task.progress"
	ChannelTaskCompleted Channel = "task.completed"
	ChannelSafety        Channel = "safety"
	ChannelCelebration   Channel = "celebration"
	ChannelInsights      Channel = "insights"
)

// InboxChannels are the channels the engine polls every stream check.
var InboxChannels = []Channel{ChannelCoordination, ChannelWake, ChannelSafety}

// Message types understood by the engine.
const (
	TypeControlAuto   = "CONTROL_AUTO"
	TypeControlManual = "CONTROL_MANUAL"
	TypeControlTrain  = "CONTROL_TRAIN"
	TypeWakeSignal    = "WAKE_SIGNAL"
	TypeCollaboration = "COLLABORATION_REQUEST"
	TypeTaskEvent     = "TASK_EVENT"
	TypeSafetyStatus  = "SAFETY_STATUS"
	TypeCelebration   = "CELEBRATION"
	TypeInsights      = "INSIGHTS"
	TypeHeartbeat     = "HEARTBEAT"
)

// Message is a flat key/value record exchanged on a channel. Delivery is
// at-least-once; consumers must treat a repeated ID as a no-op.
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	From      string            `json:"from"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// NewMessage creates a message with a generated ID.
func NewMessage(msgType, from string, now time.Time) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		From:      from,
		Timestamp: now,
		Fields:    map[string]string{},
	}
}

// Field returns a named field, or "" if absent.
func (m Message) Field(key string) string {
	if m.Fields == nil {
		return ""
	}
	return m.Fields[key]
}

// IsControl reports whether the message is an operator mode switch.
func (m Message) IsControl() bool {
	switch m.Type {
	case TypeControlAuto, TypeControlManual, TypeControlTrain:
		return true
	}
	return false
}

// WakeItem converts a wake signal into a candidate work item. The task field
// is required; malformed signals are a protocol violation and are dropped by
// the caller.
func (m Message) WakeItem(now time.Time) (*workflow.WorkItem, bool) {
	task := m.Field("task")
	if m.Type != TypeWakeSignal || task == "" {
		return nil, false
	}

	item := workflow.NewWorkItem(task, workflow.ParsePriority(m.Field("priority")), workflow.CategoryAssigned, now)
	item.Description = m.Field("context")
	item.Metadata["message_id"] = m.ID
	item.Metadata["from"] = m.From
	return item, true
}
