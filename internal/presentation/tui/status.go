package tui

import (
	"github.com/muesli/termenv"
)

var statusColors = map[string]string{
	"active":    "#60a5fa",
	"paused":    "#fbbf24",
	"pending":   "#9ca3af",
	"completed": "#34d399",
	"failed":    "#f87171",
	"skipped":   "#a78bfa",
	"aborted":   "#f87171",
}

// Status colors a session or stage status for terminal output.
// Unknown statuses are returned unstyled.
func Status(p termenv.Profile, status string) string {
	hex, ok := statusColors[status]
	if !ok {
		return status
	}
	return termenv.String(status).Foreground(p.Color(hex)).String()
}

// Bold emphasizes s.
func Bold(p termenv.Profile, s string) string {
	if p == termenv.Ascii {
		return s
	}
	return termenv.String(s).Bold().String()
}

// Faint de-emphasizes s.
func Faint(p termenv.Profile, s string) string {
	if p == termenv.Ascii {
		return s
	}
	return termenv.String(s).Faint().String()
}

// ProgressBar renders a fixed-width bar for a percentage in [0, 100].
func ProgressBar(p termenv.Profile, percent float64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := make([]rune, width)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return termenv.String(string(bar)).Foreground(p.Color("#34d399")).String()
}
