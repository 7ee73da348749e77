package engine

import (
	"context"

	"github.com/agentcycle/agentcycle/workflow"
)

// Executor runs a work item's body. It is an external collaborator: the
// engine invokes it, awaits a result within the caller-supplied timeout, and
// does not define its internals.
type Executor interface {
	Execute(ctx context.Context, item *workflow.WorkItem) (*workflow.Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, item *workflow.WorkItem) (*workflow.Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, item *workflow.WorkItem) (*workflow.Result, error) {
	return f(ctx, item)
}
