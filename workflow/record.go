package workflow

import "time"

// StateRecord is the persisted snapshot of one engine instance. It is written
// whole at the end of every cycle and read once at process start to resume
// after a restart. It always reflects the state before the next cycle begins.
type StateRecord struct {
	State           State       `json:"state"`
	Phase           Phase       `json:"phase"`
	TasksInPhase    int         `json:"tasks_in_phase"`
	Cycle           int64       `json:"cycle"`
	LastStreamCheck time.Time   `json:"last_stream_check"`
	LastCelebration time.Time   `json:"last_celebration"`
	SessionStart    time.Time   `json:"session_start"`
	Mode            ControlMode `json:"mode"`
}

// NewStateRecord returns the record for a fresh session.
func NewStateRecord(now time.Time) *StateRecord {
	return &StateRecord{
		State:        StateInitializing,
		Phase:        Phase1,
		Mode:         ModeAuto,
		SessionStart: now,
	}
}

// Clone returns a copy of the record.
func (r *StateRecord) Clone() *StateRecord {
	c := *r
	return &c
}
