// Package workflow defines the domain types for the continuous operation
// engine: workflow states, phases, control modes, priorities, and work items.
// All enum-like values are closed typed strings so the transition table can be
// checked exhaustively.
package workflow

import "fmt"

// State represents the current step of the engine's control loop.
type State string

const (
	StateInitializing      State = "initializing"
	StateStreamCheck       State = "stream_check"
	StateWorkDiscovery     State = "work_discovery"
	StateTaskExecution     State = "task_execution"
	StateProgressUpdate    State = "progress_update"
	StateCompletionRoutine State = "completion_routine"
	StatePhaseTransition   State = "phase_transition"
	StateErrorRecovery     State = "error_recovery"
	StateSafetyPause       State = "safety_pause"
)

// States lists every valid workflow state.
var States = []State{
	StateInitializing,
	StateStreamCheck,
	StateWorkDiscovery,
	StateTaskExecution,
	StateProgressUpdate,
	StateCompletionRoutine,
	StatePhaseTransition,
	StateErrorRecovery,
	StateSafetyPause,
}

// Valid reports whether s is a known workflow state.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// Successor returns the next state in the linear cycle. ErrorRecovery and
// SafetyPause both return to StreamCheck once cleared; they are not part of
// the linear path.
func (s State) Successor() State {
	switch s {
	case StateInitializing:
		return StateStreamCheck
	case StateStreamCheck:
		return StateWorkDiscovery
	case StateWorkDiscovery:
		return StateTaskExecution
	case StateTaskExecution:
		return StateProgressUpdate
	case StateProgressUpdate:
		return StateCompletionRoutine
	case StateCompletionRoutine:
		return StatePhaseTransition
	case StatePhaseTransition:
		return StateStreamCheck
	case StateErrorRecovery, StateSafetyPause:
		return StateStreamCheck
	default:
		return StateStreamCheck
	}
}

// Phase represents the alternating work phase.
type Phase string

const (
	Phase1        Phase = "phase1"
	Phase2        Phase = "phase2"
	PhasePersonal Phase = "personal"
)

// Next returns the phase that follows p in the Phase1/Phase2 alternation.
// Personal is never entered implicitly; from Personal the cycle resumes at
// Phase1.
func (p Phase) Next() Phase {
	switch p {
	case Phase1:
		return Phase2
	case Phase2:
		return Phase1
	default:
		return Phase1
	}
}

// ControlMode is the operator-selected run mode. It is orthogonal to State.
type ControlMode string

const (
	ModeAuto     ControlMode = "auto"
	ModeManual   ControlMode = "manual"
	ModeTraining ControlMode = "training"
)

// ParseControlMode maps an inbound control message type to a mode.
func ParseControlMode(msgType string) (ControlMode, error) {
	switch msgType {
	case "CONTROL_AUTO":
		return ModeAuto, nil
	case "CONTROL_MANUAL":
		return ModeManual, nil
	case "CONTROL_TRAIN":
		return ModeTraining, nil
	default:
		return "", fmt.Errorf("unknown control message type: %s", msgType)
	}
}

// Priority orders work items. Lower rank is more urgent.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityMedium     Priority = "medium"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// Rank returns the sort rank of p; unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	case PriorityBackground:
		return 4
	default:
		return 5
	}
}

// ParsePriority normalizes a priority string from an inbound message.
// Unrecognized values default to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityBackground:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Category records where a work item came from.
type Category string

const (
	CategoryAssigned   Category = "assigned"
	CategoryDiscovered Category = "discovered"
	CategoryMomentum   Category = "momentum"
)
