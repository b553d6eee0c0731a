package topic

import (
	"math"
	"time"
)

// PriorityScore is a pure heuristic: 2 points per linked conversation,
// 0.1 per message, plus a recency bonus decaying linearly from 10 (touched
// today) to 0 (>= 100 days old). Rounded to 2 decimal places.
func PriorityScore(convCount, messageCount, daysAgo int) float64 {
	bonus := 10 - 0.1*float64(daysAgo)
	if bonus < 0 {
		bonus = 0
	}
	score := 2*float64(convCount) + 0.1*float64(messageCount) + bonus
	return math.Round(score*100) / 100
}

// DaysSince converts the most recent activity instant into whole days before
// the reference instant. A zero latest means no linked conversation carried a
// timestamp; that yields 0 days, the maximal recency bonus.
func DaysSince(latest time.Time, now time.Time) int {
	if latest.IsZero() {
		return 0
	}
	d := now.Sub(latest)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}
