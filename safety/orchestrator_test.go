package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	sample ResourceSample
	err    error
}

func (f *fakeSampler) Sample() (ResourceSample, error) { return f.sample, f.err }

func generousLimits() Limits {
	limits := DefaultLimits()
	limits.Rate.PerMinute = 1000
	limits.Rate.PerHour = 10000
	limits.Rate.PerDay = 100000
	limits.Rate.Burst = 1000
	return limits
}

func TestOrchestratorAllChecksPass(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	o := New(generousLimits(), nil, clock, nil)

	st := o.IsSafeToProceed()
	assert.True(t, st.Safe)
	assert.Equal(t, SeverityInfo, st.Severity)
}

func TestOrchestratorHighestSeverityWins(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	limits := generousLimits()
	limits.Rate.PerMinute = 1
	limits.Resources.MaxRSSBytes = 100

	sampler := &fakeSampler{sample: ResourceSample{RSSBytes: 1000}}
	o := New(limits, sampler, clock, nil)

	// Resource breach alone: warning, cleanup, no breaker.
	st := o.IsSafeToProceed()
	require.False(t, st.Safe)
	assert.Equal(t, ActionCleanup, st.RecommendedAction)
	assert.Equal(t, SeverityWarning, st.Severity)
	assert.False(t, o.BreakerOpen())

	// Trip the rate breaker too; the critical failure is the one reported.
	require.NoError(t, o.RecordOutboundCall("execute_task", nil))
	assert.ErrorIs(t, o.RecordOutboundCall("execute_task", nil), ErrCircuitOpen)

	st = o.IsSafeToProceed()
	require.False(t, st.Safe)
	assert.Equal(t, ActionCooldown, st.RecommendedAction)
	assert.Equal(t, SeverityCritical, st.Severity)
	assert.True(t, o.BreakerOpen())
}

func TestOrchestratorSamplingErrorIsNotViolation(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	sampler := &fakeSampler{err: errors.New("proc unavailable")}
	o := New(generousLimits(), sampler, clock, nil)

	assert.True(t, o.IsSafeToProceed().Safe)
}

func TestOrchestratorRefusesCallsWhileBreakerOpen(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	limits := generousLimits()
	limits.Rate.PerMinute = 2
	limits.Rate.Cooldown = 5 * time.Minute
	o := New(limits, nil, clock, nil)

	require.NoError(t, o.RecordOutboundCall("publish", nil))
	require.NoError(t, o.RecordOutboundCall("publish", nil))
	require.ErrorIs(t, o.RecordOutboundCall("publish", nil), ErrCircuitOpen)

	clock.Advance(4 * time.Minute)
	assert.ErrorIs(t, o.RecordOutboundCall("publish", nil), ErrCircuitOpen)

	clock.Advance(2 * time.Minute)
	assert.NoError(t, o.RecordOutboundCall("publish", nil))
}

func TestOrchestratorApplyLimits(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	limits := generousLimits()
	limits.Rate.PerMinute = 1
	o := New(limits, nil, clock, nil)

	require.NoError(t, o.RecordOutboundCall("publish", nil))

	wider := generousLimits()
	o.ApplyLimits(wider)
	assert.NoError(t, o.RecordOutboundCall("publish", nil))
}
