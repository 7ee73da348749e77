package workflow

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// WorkItem is a unit of work produced by discovery or by an inbound stream
// message. Items are consumed exactly once by task execution and are never
// mutated after dispatch; a retry is a fresh item with a new ID.
type WorkItem struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	Priority          Priority          `json:"priority"`
	Category          Category          `json:"category"`
	EstimatedDuration time.Duration     `json:"estimated_duration,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	DependsOn         []string          `json:"depends_on,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// NewWorkItem creates a work item with a generated ID.
func NewWorkItem(title string, priority Priority, category Category, now time.Time) *WorkItem {
	return &WorkItem{
		ID:        uuid.New().String(),
		Title:     title,
		Priority:  priority,
		Category:  category,
		CreatedAt: now,
		Metadata:  map[string]string{},
	}
}

// Retry returns a new work item that re-attempts this one. The original item
// is left untouched; the attempt counter is carried in metadata.
func (w *WorkItem) Retry(now time.Time) *WorkItem {
	item := &WorkItem{
		ID:                uuid.New().String(),
		Title:             w.Title,
		Description:       w.Description,
		Priority:          w.Priority,
		Category:          w.Category,
		EstimatedDuration: w.EstimatedDuration,
		CreatedAt:         now,
		DependsOn:         append([]string(nil), w.DependsOn...),
		Metadata:          map[string]string{},
	}
	for k, v := range w.Metadata {
		item.Metadata[k] = v
	}
	item.Metadata["retry_of"] = w.ID
	item.Metadata["attempt"] = strconv.Itoa(w.Attempt() + 1)
	return item
}

// Attempt returns the 1-based attempt number encoded in the item metadata.
func (w *WorkItem) Attempt() int {
	n, err := strconv.Atoi(w.Metadata["attempt"])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Result is the outcome of executing a work item's body.
type Result struct {
	Success     bool      `json:"success"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
