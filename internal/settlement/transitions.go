package settlement

import "stableramp/internal/models"

// Per-variant transition tables. The store's conditional updates enforce
// the same edges at the SQL layer; these tables are the in-process guard
// and the single place the state machines are written down.

var onrampTransitions = map[models.OnrampStatus][]models.OnrampStatus{
	models.OnrampPending: {models.OnrampPaid, models.OnrampFailed, models.OnrampCancelled},
	models.OnrampPaid:    {models.OnrampCompleted, models.OnrampFailed},
}

var offrampTransitions = map[models.OfframpStatus][]models.OfframpStatus{
	models.OfframpPending:    {models.OfframpProcessing, models.OfframpFailed},
	models.OfframpProcessing: {models.OfframpSettling, models.OfframpCompleted, models.OfframpFailed, models.OfframpTimeout},
	models.OfframpSettling:   {models.OfframpCompleted, models.OfframpFailed, models.OfframpTimeout},
}

func canTransitionOnramp(from, to models.OnrampStatus) bool {
	for _, next := range onrampTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func canTransitionOfframp(from, to models.OfframpStatus) bool {
	for _, next := range offrampTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
