package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSuccessor(t *testing.T) {
	t.Run("linear cycle matches the transition table", func(t *testing.T) {
		expected := map[State]State{
			StateInitializing:      StateStreamCheck,
			StateStreamCheck:       StateWorkDiscovery,
			StateWorkDiscovery:     StateTaskExecution,
			StateTaskExecution:     StateProgressUpdate,
			StateProgressUpdate:    StateCompletionRoutine,
			StateCompletionRoutine: StatePhaseTransition,
			StatePhaseTransition:   StateStreamCheck,
			StateErrorRecovery:     StateStreamCheck,
			StateSafetyPause:       StateStreamCheck,
		}
		for _, s := range States {
			assert.Equal(t, expected[s], s.Successor(), "successor of %s", s)
		}
	})

	t.Run("every state is valid and covered", func(t *testing.T) {
		assert.Len(t, States, 9)
		for _, s := range States {
			assert.True(t, s.Valid(), "%s should be valid", s)
		}
		assert.False(t, State("celebrating").Valid())
	})

	t.Run("loop has no terminal state", func(t *testing.T) {
		// Following successors from anywhere must stay inside the table.
		for _, start := range States {
			s := start
			for i := 0; i < 20; i++ {
				s = s.Successor()
				assert.True(t, s.Valid())
			}
		}
	})
}

func TestPhaseNext(t *testing.T) {
	assert.Equal(t, Phase2, Phase1.Next())
	assert.Equal(t, Phase1, Phase2.Next())
	// Personal is optional and only entered by explicit policy; the
	// alternation resumes at Phase1.
	assert.Equal(t, Phase1, PhasePersonal.Next())
}

func TestParseControlMode(t *testing.T) {
	cases := []struct {
		msgType string
		want    ControlMode
	}{
		{"CONTROL_AUTO", ModeAuto},
		{"CONTROL_MANUAL", ModeManual},
		{"CONTROL_TRAIN", ModeTraining},
	}
	for _, tc := range cases {
		mode, err := ParseControlMode(tc.msgType)
		require.NoError(t, err)
		assert.Equal(t, tc.want, mode)
	}

	_, err := ParseControlMode("CONTROL_DANCE")
	assert.Error(t, err)
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityCritical, ParsePriority("critical"))
	assert.Equal(t, PriorityBackground, ParsePriority("background"))
	assert.Equal(t, PriorityMedium, ParsePriority(""))
	assert.Equal(t, PriorityMedium, ParsePriority("urgent-ish"))

	assert.Less(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityLow.Rank(), PriorityBackground.Rank())
}

func TestWorkItemRetry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	item := NewWorkItem("fix the flaky test", PriorityHigh, CategoryAssigned, now)
	item.Metadata["task_id"] = "t-1"

	retry := item.Retry(now.Add(time.Minute))

	assert.NotEqual(t, item.ID, retry.ID, "retries are fresh items")
	assert.Equal(t, item.Title, retry.Title)
	assert.Equal(t, "t-1", retry.Metadata["task_id"])
	assert.Equal(t, item.ID, retry.Metadata["retry_of"])
	assert.Equal(t, 1, item.Attempt())
	assert.Equal(t, 2, retry.Attempt())
	assert.Equal(t, 3, retry.Retry(now).Attempt())
}

func TestMemoryStateStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	_, err := store.Load(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	record := NewStateRecord(now)
	record.State = StateTaskExecution
	record.Phase = Phase2
	record.TasksInPhase = 3
	record.Cycle = 42
	record.Mode = ModeTraining
	record.LastStreamCheck = now.Add(5 * time.Minute)

	require.NoError(t, store.Save(ctx, "agent-1", record))

	loaded, err := store.Load(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, record, loaded)

	// The stored copy is independent of later mutation.
	record.Cycle = 100
	loaded2, err := store.Load(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), loaded2.Cycle)
}
