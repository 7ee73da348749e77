package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentcycle/agentcycle/workflow"
)

// DefaultMomentumTemplates returns the rotating template list for a
// specialization. Momentum items are deliberately low-cost and
// background-priority so any real work preempts them on the next cycle.
func DefaultMomentumTemplates(specialization string) []string {
	return []string{
		fmt.Sprintf("Review recent %s work for follow-up improvements", specialization),
		fmt.Sprintf("Tidy and document one small area of the %s backlog", specialization),
		fmt.Sprintf("Scan coordination history for unanswered %s questions", specialization),
		fmt.Sprintf("Draft notes on one recurring %s problem and a fix", specialization),
	}
}

// Momentum synthesizes background work from a rotating template list scoped
// to the agent's declared specialization.
type Momentum struct {
	mu        sync.Mutex
	templates []string
	next      int
}

// NewMomentum returns a generator over the given templates. An empty list
// falls back to a single generic template so discovery can never come up
// empty.
func NewMomentum(templates []string) *Momentum {
	if len(templates) == 0 {
		templates = []string{"Review the backlog and tidy one small thing"}
	}
	return &Momentum{templates: templates}
}

// SetTemplates replaces the rotation live (training mode). The rotation
// index restarts.
func (m *Momentum) SetTemplates(templates []string) {
	if len(templates) == 0 {
		return
	}
	m.mu.Lock()
	m.templates = templates
	m.next = 0
	m.mu.Unlock()
}

// Next returns the next momentum work item in rotation.
func (m *Momentum) Next(now time.Time) *workflow.WorkItem {
	m.mu.Lock()
	title := m.templates[m.next%len(m.templates)]
	m.next++
	m.mu.Unlock()

	item := workflow.NewWorkItem(title, workflow.PriorityBackground, workflow.CategoryMomentum, now)
	item.EstimatedDuration = 10 * time.Minute
	return item
}
