// Package activity derives the badge signal from a reconciliation pass and
// fans it out to notification collaborators.
package activity

import (
	"time"

	"github.com/hangwatch/backend/internal/session"
)

// Signal is what badge collaborators receive after every completed poll.
type Signal = session.Signal

// Compute derives the signal for a pass that left count records in the
// authoritative list. IsNewActivity distinguishes "something appeared"
// redraws from plain refreshes.
func Compute(count int, res session.Result, at time.Time) Signal {
	return Signal{
		Count:         count,
		IsNewActivity: res.HasNew(),
		At:            at,
	}
}
