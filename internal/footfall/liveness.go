package footfall

import (
	"time"

	"github.com/dustin/go-humanize"
)

// LivenessWindow is the maximum age of last_seen for a device to count as active.
const LivenessWindow = time.Hour

// IsActive reports whether a device last seen at lastSeen is live at now.
func IsActive(lastSeen, now time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) <= LivenessWindow
}

// ActiveSince returns the oldest last_seen that still counts as active at now.
func ActiveSince(now time.Time) time.Time {
	return now.Add(-LivenessWindow)
}

// EffectiveStatus derives the reported status of d at now. maintenance is the
// only persisted override; every other status follows the liveness window.
func EffectiveStatus(d Device, now time.Time) Status {
	if d.Status == StatusMaintenance {
		return StatusMaintenance
	}
	if IsActive(d.LastSeen, now) {
		return StatusActive
	}
	return StatusInactive
}

// TimeSinceLastSeen renders the age of lastSeen relative to now, e.g. "5 minutes ago".
func TimeSinceLastSeen(lastSeen, now time.Time) string {
	if lastSeen.IsZero() {
		return "never"
	}
	return humanize.RelTime(lastSeen, now, "ago", "from now")
}

// DeviceView is a Device annotated with liveness fields computed at read time.
type DeviceView struct {
	Device
	Status            Status
	TimeSinceLastSeen string
	IsActive          bool
}

// View annotates d with its liveness at now.
func View(d Device, now time.Time) DeviceView {
	return DeviceView{
		Device:            d,
		Status:            EffectiveStatus(d, now),
		IsActive:          IsActive(d.LastSeen, now),
		TimeSinceLastSeen: TimeSinceLastSeen(d.LastSeen, now),
	}
}

// StatusSummary counts registered devices by status.
type StatusSummary struct {
	ByStatus map[Status]int
	Total    int
	Active   int
	Inactive int
}

// SummarizeStatus counts devices by effective status. Active and Inactive are
// derived purely from the liveness window.
func SummarizeStatus(devices []Device, now time.Time) StatusSummary {
	summary := StatusSummary{
		ByStatus: make(map[Status]int),
		Total:    len(devices),
	}
	for _, d := range devices {
		summary.ByStatus[EffectiveStatus(d, now)]++
		if IsActive(d.LastSeen, now) {
			summary.Active++
		}
	}
	summary.Inactive = summary.Total - summary.Active
	return summary
}

// MatchesStatus reports whether d has effective status s at now.
func MatchesStatus(d Device, s Status, now time.Time) bool {
	return s == "" || EffectiveStatus(d, now) == s
}
