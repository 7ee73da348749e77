package safety

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// LoopLimits configures loop detection.
type LoopLimits struct {
	// RingSize bounds how many recent calls are remembered.
	RingSize int `yaml:"ring_size" json:"ring_size"`
	// RepeatThreshold is the number of identical (action, params) tuples
	// within Window that flags a loop.
	RepeatThreshold int           `yaml:"repeat_threshold" json:"repeat_threshold"`
	Window          time.Duration `yaml:"window" json:"window"`
	// MaxDepth caps the logical call-stack depth.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
}

// DefaultLoopLimits returns sensible defaults.
func DefaultLoopLimits() LoopLimits {
	return LoopLimits{
		RingSize:        64,
		RepeatThreshold: 5,
		Window:          2 * time.Minute,
		MaxDepth:        8,
	}
}

type call struct {
	action string
	hash   uint64
	at     time.Time
}

// LoopDetector flags repeated identical calls and runaway logical depth. It
// keeps a bounded ring buffer of recent (action, parameters-hash) tuples.
type LoopDetector struct {
	mu     sync.Mutex
	clock  Clock
	limits LoopLimits
	ring   []call
	next   int
	depth  int
}

// NewLoopDetector returns a detector over the given limits.
func NewLoopDetector(limits LoopLimits, clock Clock) *LoopDetector {
	if clock == nil {
		clock = SystemClock()
	}
	if limits.RingSize <= 0 {
		limits.RingSize = DefaultLoopLimits().RingSize
	}
	return &LoopDetector{
		clock:  clock,
		limits: limits,
		ring:   make([]call, 0, limits.RingSize),
	}
}

// Record remembers one call for loop analysis.
func (d *LoopDetector) Record(action string, params map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := call{action: action, hash: hashParams(params), at: d.clock.Now()}
	if len(d.ring) < d.limits.RingSize {
		d.ring = append(d.ring, c)
		return
	}
	d.ring[d.next] = c
	d.next = (d.next + 1) % d.limits.RingSize
}

// Enter increments the logical call-stack depth.
func (d *LoopDetector) Enter() {
	d.mu.Lock()
	d.depth++
	d.mu.Unlock()
}

// Exit decrements the logical call-stack depth.
func (d *LoopDetector) Exit() {
	d.mu.Lock()
	if d.depth > 0 {
		d.depth--
	}
	d.mu.Unlock()
}

// Check reports whether recent calls look like a loop.
func (d *LoopDetector) Check() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.limits.MaxDepth > 0 && d.depth > d.limits.MaxDepth {
		return Status{
			Safe:              false,
			Reason:            fmt.Sprintf("logical call depth %d exceeds ceiling %d", d.depth, d.limits.MaxDepth),
			RecommendedAction: ActionInvestigate,
			Severity:          SeverityHigh,
		}
	}

	cutoff := d.clock.Now().Add(-d.limits.Window)
	counts := make(map[uint64]int)
	actions := make(map[uint64]string)
	for _, c := range d.ring {
		if !c.at.After(cutoff) {
			continue
		}
		key := c.hash ^ hashString(c.action)
		counts[key]++
		actions[key] = c.action
		if d.limits.RepeatThreshold > 0 && counts[key] >= d.limits.RepeatThreshold {
			return Status{
				Safe:              false,
				Reason:            fmt.Sprintf("action %q repeated %d times with identical parameters", actions[key], counts[key]),
				RecommendedAction: ActionInvestigate,
				Severity:          SeverityHigh,
			}
		}
	}

	return OK()
}

func hashParams(params map[string]string) uint64 {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(params[k]))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
