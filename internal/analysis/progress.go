package analysis

import (
	"fmt"
	"time"
)

// FormatDuration renders d as a short human readable duration.
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours >= 1:
		return fmt.Sprintf("%d hour(s) %d minute(s)", hours, minutes)
	case minutes >= 1:
		return fmt.Sprintf("%d minute(s) %d second(s)", minutes, seconds)
	default:
		return fmt.Sprintf("%d second(s)", seconds)
	}
}

// EstimateTimeRemaining extrapolates the remaining time from the elapsed
// time and the number of completed units.
func EstimateTimeRemaining(start time.Time, current, total int) string {
	if current == 0 {
		return "Estimating time..."
	}
	elapsed := time.Since(start)
	estimatedTotal := elapsed / time.Duration(current) * time.Duration(total)
	remaining := max(estimatedTotal-elapsed, 0)
	return fmt.Sprintf("(Estimated time remaining: %s)", FormatDuration(remaining))
}
