// Package ledger models the task lifecycle and emits lifecycle events onto
// the task streams. Entries are mutated only by the owning engine instance
// and become immutable once terminal.
package ledger

import (
	"time"

	"github.com/agentcycle/agentcycle/workflow"
)

// Status is the lifecycle status of a tracked task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked
}

// Entry is one tracked task. The ID is generated at creation and never
// changes.
type Entry struct {
	ID          string            `json:"task_id"`
	Title       string            `json:"title"`
	Status      Status            `json:"status"`
	Priority    workflow.Priority `json:"priority"`
	Assignee    string            `json:"assignee"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Result      string            `json:"results,omitempty"`
}

// Item converts a pending entry into a work item for execution.
func (e *Entry) Item(now time.Time) *workflow.WorkItem {
	item := workflow.NewWorkItem(e.Title, e.Priority, workflow.CategoryDiscovered, now)
	item.Metadata["task_id"] = e.ID
	return item
}
