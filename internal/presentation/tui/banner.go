package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the stageflow banner followed by the version.
func PrintBanner(w io.Writer, p termenv.Profile, version string) {
	lines := []struct{ text, color string }{
		{"     _                    __ _", "#818cf8"},
		{" ___| |_ __ _  __ _  ___ / _| | _____      __", "#a78bfa"},
		{"/ __| __/ _` |/ _` |/ _ \\ |_| |/ _ \\ \\ /\\ / /", "#c084fc"},
		{"\\__ \\ || (_| | (_| |  __/  _| | (_) \\ V  V /", "#e879f9"},
		{"|___/\\__\\__,_|\\__, |\\___|_| |_|\\___/ \\_/\\_/", "#f472b6"},
		{"              |___/", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  version "+version).Faint())
	fmt.Fprintln(w)
}
