package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the tendril banner to w.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	lines := []struct{ text, color string }{
		{"  _                  _      _ _ ", "#34d399"},
		{" | |_ ___ _ __   __| |_ __(_) |", "#2dd4bf"},
		{" | __/ _ \\ '_ \\ / _` | '__| | |", "#22d3ee"},
		{" | ||  __/ | | | (_| | |  | | |", "#38bdf8"},
		{"  \\__\\___|_| |_|\\__,_|_|  |_|_|", "#818cf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}
