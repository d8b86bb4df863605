package closing

import (
	"time"

	"github.com/odyssey-erp/fechamento/internal/identity"
)

// DefaultEditWindow is how long after its date a closing stays editable.
const DefaultEditWindow = 7 * 24 * time.Hour

// EditPolicy decides whether a closing may still be changed.
type EditPolicy struct {
	Window   time.Duration
	Location *time.Location
}

// NewEditPolicy returns a policy, falling back to the default window and UTC.
func NewEditPolicy(window time.Duration, loc *time.Location) EditPolicy {
	if window <= 0 {
		window = DefaultEditWindow
	}
	if loc == nil {
		loc = time.UTC
	}
	return EditPolicy{Window: window, Location: loc}
}

// IsEditable reports whether who may edit c at now. Only the owner may edit,
// admins never do, and the closing date (local midnight) must be strictly
// after now minus the window.
func (p EditPolicy) IsEditable(c Closing, who identity.Principal, now time.Time) bool {
	if who.IsAdmin() || who.Email == "" || c.OwnerID != who.Email {
		return false
	}
	return p.localMidnight(c.Date).After(now.Add(-p.window()))
}

// EditableAfter is the latest calendar date that is no longer editable at now.
// A closing is editable exactly when its date is after this one, which lets
// stores repeat the check with a plain date comparison.
func (p EditPolicy) EditableAfter(now time.Time) time.Time {
	cutoff := now.Add(-p.window()).In(p.location())
	return time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
}

func (p EditPolicy) localMidnight(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, p.location())
}

func (p EditPolicy) window() time.Duration {
	if p.Window <= 0 {
		return DefaultEditWindow
	}
	return p.Window
}

func (p EditPolicy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}
