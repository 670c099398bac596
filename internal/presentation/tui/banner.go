package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the neonflow banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.EnvColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{" _ __   ___  ___  _ __  / _| | _____      __", "#22d3ee"},
		{"| '_ \\ / _ \\/ _ \\| '_ \\| |_| |/ _ \\ \\ /\\ / /", "#38bdf8"},
		{"| | | |  __/ (_) | | | |  _| | (_) \\ V  V / ", "#818cf8"},
		{"|_| |_|\\___|\\___/|_| |_|_| |_|\\___/ \\_/\\_/  ", "#c084fc"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
