package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentcycle/agentcycle/completion"
	"github.com/agentcycle/agentcycle/ledger"
	"github.com/agentcycle/agentcycle/safety"
	"github.com/agentcycle/agentcycle/workflow"
)

// dispatch runs the handler for the current state and returns the next one.
// Handler errors are caught by the caller and converted into ErrorRecovery;
// they never terminate the process implicitly.
func (m *Manager) dispatch(ctx context.Context) (workflow.State, error) {
	switch m.record.State {
	case workflow.StateInitializing:
		return m.handleInitializing(ctx)
	case workflow.StateStreamCheck:
		return m.handleStreamCheck(ctx)
	case workflow.StateWorkDiscovery:
		return m.handleWorkDiscovery(ctx)
	case workflow.StateTaskExecution:
		return m.handleTaskExecution(ctx)
	case workflow.StateProgressUpdate:
		return m.handleProgressUpdate(ctx)
	case workflow.StateCompletionRoutine:
		return m.handleCompletionRoutine(ctx)
	case workflow.StatePhaseTransition:
		return m.handlePhaseTransition(ctx)
	case workflow.StateErrorRecovery:
		return m.handleErrorRecovery(ctx)
	case workflow.StateSafetyPause:
		return m.handleSafetyPause(ctx)
	default:
		return workflow.StateStreamCheck, fmt.Errorf("unknown workflow state %q", m.record.State)
	}
}

func (m *Manager) handleInitializing(ctx context.Context) (workflow.State, error) {
	m.publishHeartbeat(ctx)
	m.logger.Info("Engine initialized",
		"agent_id", m.cfg.AgentID,
		"phase", m.record.Phase)
	return workflow.StateStreamCheck, nil
}

// handleStreamCheck is the loop's synchronization point. The actual channel
// drain happens at the top of every cycle; this handler marks the check time
// the outside world observes.
func (m *Manager) handleStreamCheck(_ context.Context) (workflow.State, error) {
	m.record.LastStreamCheck = m.clock.Now()
	return workflow.StateWorkDiscovery, nil
}

func (m *Manager) handleWorkDiscovery(ctx context.Context) (workflow.State, error) {
	item, err := m.discovery.DiscoverNext(ctx)
	if err != nil {
		return workflow.StateErrorRecovery, fmt.Errorf("discover next work: %w", err)
	}

	m.current = item
	m.currentTaskID = item.Metadata["task_id"]
	m.logger.Info("Discovered work",
		"title", item.Title,
		"priority", item.Priority,
		"category", item.Category)
	return workflow.StateTaskExecution, nil
}

func (m *Manager) handleTaskExecution(ctx context.Context) (workflow.State, error) {
	item := m.current
	if item == nil {
		// Nothing in flight; a restart mid-cycle lands here.
		return workflow.StateWorkDiscovery, nil
	}

	if err := m.ensureLedgerEntry(ctx, item); err != nil {
		return workflow.StateErrorRecovery, err
	}

	// Gate the outbound executor call. The tuple is recorded with the
	// definite task ID so distinct tasks sharing a title (momentum
	// rotation) are never mistaken for a loop, while retries of one stuck
	// task keep a stable identity. A refusal means the breaker just
	// tripped: no executor call, and the entry stays pending so discovery
	// re-picks it once the pause clears.
	err := m.safety.RecordOutboundCall("execute_task", map[string]string{
		"task_id": m.currentTaskID,
		"title":   item.Title,
	})
	if err != nil {
		m.logger.Warn("Task execution refused by safety orchestrator",
			"title", item.Title,
			"error", err)
		return workflow.StateSafetyPause, nil
	}

	if _, err := m.ledger.UpdateProgress(ctx, m.currentTaskID, "execution started"); err != nil {
		return workflow.StateErrorRecovery, fmt.Errorf("mark task in progress: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, m.cfg.ExecTimeout)
	defer cancel()

	m.safety.EnterCall()
	result, execErr := m.executor.Execute(execCtx, item)
	m.safety.ExitCall()

	now := m.clock.Now()
	if execErr != nil {
		// Transient: the failure is recorded and retried with a fresh
		// item; the loop itself never crashes on a task failure.
		m.metrics.observeTask(false)
		m.lastResult = &workflow.Result{
			Success:     false,
			Error:       execErr.Error(),
			CompletedAt: now,
		}
		m.logger.Warn("Task execution failed",
			"title", item.Title,
			"attempt", item.Attempt(),
			"error", execErr)
	} else {
		if result == nil {
			result = &workflow.Result{Success: true}
		}
		if result.CompletedAt.IsZero() {
			result.CompletedAt = now
		}
		m.metrics.observeTask(result.Success)
		m.lastResult = result
	}

	return workflow.StateProgressUpdate, nil
}

// ensureLedgerEntry backs the in-flight item with a ledger entry. Items born
// from the ledger already carry one; assigned and momentum items get one
// here.
func (m *Manager) ensureLedgerEntry(ctx context.Context, item *workflow.WorkItem) error {
	if m.currentTaskID != "" {
		return nil
	}
	entry, err := m.ledger.CreateTask(ctx, item.Title, item.Priority)
	if err != nil {
		return fmt.Errorf("create ledger entry: %w", err)
	}
	m.currentTaskID = entry.ID
	// Carried on the item so a retry resolves back to the same entry.
	item.Metadata["task_id"] = entry.ID
	return nil
}

func (m *Manager) handleProgressUpdate(ctx context.Context) (workflow.State, error) {
	if m.current == nil || m.lastResult == nil {
		return workflow.StateCompletionRoutine, nil
	}

	result := m.lastResult
	if result.Success {
		if _, err := m.ledger.CompleteTask(ctx, m.currentTaskID, result.Output); err != nil {
			if errors.Is(err, ledger.ErrTerminalStatus) {
				// Protocol violation (duplicate completion): drop it,
				// the rest of the cycle proceeds.
				m.logger.Warn("Ignoring duplicate completion",
					"task_id", m.currentTaskID)
				return workflow.StateCompletionRoutine, nil
			}
			return workflow.StateErrorRecovery, fmt.Errorf("complete task: %w", err)
		}
		return workflow.StateCompletionRoutine, nil
	}

	if m.current.Attempt() < m.cfg.MaxAttempts {
		retry := m.current.Retry(m.clock.Now())
		m.discovery.Push(retry)
		if _, err := m.ledger.UpdateProgress(ctx, m.currentTaskID,
			fmt.Sprintf("attempt %d failed: %s; retry queued", m.current.Attempt(), result.Error)); err != nil {
			m.logger.Warn("Failed to note retry on ledger entry",
				"task_id", m.currentTaskID,
				"error", err)
		}
	} else {
		if _, err := m.ledger.BlockTask(ctx, m.currentTaskID,
			fmt.Sprintf("blocked after %d attempts: %s", m.current.Attempt(), result.Error)); err != nil {
			m.logger.Warn("Failed to block exhausted task",
				"task_id", m.currentTaskID,
				"error", err)
		}
	}
	return workflow.StateCompletionRoutine, nil
}

func (m *Manager) handleCompletionRoutine(ctx context.Context) (workflow.State, error) {
	hint, err := m.completion.Run(ctx, m.current, m.lastResult)
	if err != nil {
		return workflow.StateErrorRecovery, fmt.Errorf("completion routine: %w", err)
	}

	m.record.LastCelebration = m.clock.Now()

	// The ritual never re-enters itself; any unexpected hint falls back to
	// discovery.
	switch hint {
	case completion.HintPhaseTransition:
		return workflow.StatePhaseTransition, nil
	default:
		m.clearInFlight()
		return workflow.StateWorkDiscovery, nil
	}
}

func (m *Manager) handlePhaseTransition(ctx context.Context) (workflow.State, error) {
	if m.lastResult != nil && m.lastResult.Success {
		m.record.TasksInPhase++
		if m.record.TasksInPhase >= m.cfg.TasksPerPhase {
			from := m.record.Phase
			m.record.Phase = m.record.Phase.Next()
			m.record.TasksInPhase = 0
			m.logger.Info("Phase transition",
				"from", from,
				"to", m.record.Phase)
		}
	}

	m.clearInFlight()
	m.publishHeartbeat(ctx)
	return workflow.StateStreamCheck, nil
}

// handleErrorRecovery performs bounded cleanup: the transient in-memory task
// reference is cleared, the persisted ledger is left untouched.
func (m *Manager) handleErrorRecovery(_ context.Context) (workflow.State, error) {
	m.clearInFlight()
	m.logger.Info("Recovered, returning to stream check")
	return workflow.StateStreamCheck, nil
}

// handleSafetyPause runs only once the safety gate at the top of the cycle
// passes again, so the pause is over by construction.
func (m *Manager) handleSafetyPause(ctx context.Context) (workflow.State, error) {
	m.publishSafety(ctx, safety.OK())
	m.logger.Info("Safety pause cleared")
	return workflow.StateStreamCheck, nil
}

func (m *Manager) clearInFlight() {
	m.current = nil
	m.currentTaskID = ""
	m.lastResult = nil
}
