package safety

import (
	"errors"
	"time"
)

// ErrCircuitOpen is returned for any outbound call attempted while the rate
// circuit breaker is active.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Severity ranks a safety failure. Only the single highest-severity failure
// is reported per cycle, because only one remedial action can be taken at a
// time.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Recommended remedial actions.
const (
	ActionCooldown    = "cooldown"
	ActionInvestigate = "investigate"
	ActionCleanup     = "cleanup"
)

// Status is a point-in-time safety judgment. It is derived fresh every cycle
// from rolling counters and is never persisted.
type Status struct {
	Safe              bool       `json:"is_safe"`
	Reason            string     `json:"reason"`
	RecommendedAction string     `json:"recommended_action,omitempty"`
	Severity          Severity   `json:"severity"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// OK returns a safe status.
func OK() Status {
	return Status{Safe: true, Reason: "all checks passed", Severity: SeverityInfo}
}
