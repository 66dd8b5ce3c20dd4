package dashboard

import (
	"fmt"
	"time"
)

// FormatPercentage formats a ratio (0-1) as a percentage. Rates below 1%
// keep two decimals so complaint rates stay readable.
func FormatPercentage(ratio float64) string {
	if ratio != 0 && ratio < 0.01 {
		return fmt.Sprintf("%.2f%%", ratio*100)
	}
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatCount formats a counter as "X", "X.Xk" or "X.XM".
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatThroughput formats touches per refresh interval as touches/min.
func FormatThroughput(touches float64, interval time.Duration) string {
	if interval <= 0 {
		return "0.0 touches/min"
	}
	return fmt.Sprintf("%.1f touches/min", touches*float64(time.Minute)/float64(interval))
}

// FormatDuration formats seconds as "Xh Ym" or "Xm".
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// ShortID trims a campaign ID to n characters.
func ShortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
