package settlement

import (
	"testing"

	"stableramp/internal/models"

	"github.com/stretchr/testify/require"
)

func TestOnrampTransitions(t *testing.T) {
	require.True(t, canTransitionOnramp(models.OnrampPending, models.OnrampPaid))
	require.True(t, canTransitionOnramp(models.OnrampPending, models.OnrampCancelled))
	require.True(t, canTransitionOnramp(models.OnrampPaid, models.OnrampCompleted))
	require.True(t, canTransitionOnramp(models.OnrampPaid, models.OnrampFailed))

	require.False(t, canTransitionOnramp(models.OnrampPending, models.OnrampCompleted))
	require.False(t, canTransitionOnramp(models.OnrampPaid, models.OnrampCancelled))

	for _, terminal := range []models.OnrampStatus{models.OnrampCompleted, models.OnrampFailed, models.OnrampCancelled} {
		for _, to := range []models.OnrampStatus{models.OnrampPending, models.OnrampPaid, models.OnrampCompleted, models.OnrampFailed, models.OnrampCancelled} {
			require.False(t, canTransitionOnramp(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestOfframpTransitions(t *testing.T) {
	require.True(t, canTransitionOfframp(models.OfframpPending, models.OfframpProcessing))
	require.True(t, canTransitionOfframp(models.OfframpProcessing, models.OfframpSettling))
	require.True(t, canTransitionOfframp(models.OfframpProcessing, models.OfframpCompleted))
	require.True(t, canTransitionOfframp(models.OfframpSettling, models.OfframpCompleted))
	require.True(t, canTransitionOfframp(models.OfframpSettling, models.OfframpTimeout))

	require.False(t, canTransitionOfframp(models.OfframpPending, models.OfframpCompleted))
	require.False(t, canTransitionOfframp(models.OfframpPending, models.OfframpTimeout))
	require.False(t, canTransitionOfframp(models.OfframpSettling, models.OfframpProcessing))

	for _, terminal := range []models.OfframpStatus{models.OfframpCompleted, models.OfframpFailed, models.OfframpTimeout} {
		require.False(t, canTransitionOfframp(terminal, models.OfframpCompleted), "from %s", terminal)
	}
}
