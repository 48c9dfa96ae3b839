package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestStateTransitions checks the lease state machine.
func TestStateTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[State][]State{
		StateOpening:  {StateActive, StateFailed},
		StateActive:   {StateExpiring, StateClosed},
		StateExpiring: {StateClosed, StateFailed},
		StateClosed:   nil,
		StateFailed:   nil,
	}

	all := []State{
		StateOpening, StateActive, StateExpiring, StateClosed,
		StateFailed,
	}
	for from, nexts := range allowed {
		for _, to := range all {
			want := false
			for _, n := range nexts {
				if n == to {
					want = true
				}
			}

			require.Equalf(t, want, from.CanTransition(to),
				"%v -> %v", from, to)
		}
	}

	require.True(t, StateClosed.IsFinal())
	require.True(t, StateFailed.IsFinal())
	require.False(t, StateExpiring.IsFinal())
	require.Equal(t, "expiring", StateExpiring.String())
	require.Equal(t, "unknown<9>", State(9).String())
}

// TestParseID checks that only well formed ids are accepted.
func TestParseID(t *testing.T) {
	t.Parallel()

	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseID("not-a-lease")
	require.Error(t, err)
}

// TestExpired checks the expiry boundary is inclusive.
func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := newTestLease(t, now, time.Minute)

	require.False(t, l.Expired(now))
	require.False(t, l.Expired(now.Add(time.Minute-time.Nanosecond)))
	require.True(t, l.Expired(now.Add(time.Minute)))
}
