// Package ui provides terminal styling for the roost CLI.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Semantic colors, adapting to light and dark terminals.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#8BC34A"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#EF6C00", Dark: "#FFC107"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E53935"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9E9E9E"}
)

var (
	renderer = lipgloss.NewRenderer(os.Stdout)

	accentStyle = renderer.NewStyle().Foreground(ColorAccent)
	passStyle   = renderer.NewStyle().Foreground(ColorPass)
	warnStyle   = renderer.NewStyle().Foreground(ColorWarn)
	failStyle   = renderer.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = renderer.NewStyle().Foreground(ColorMuted)
	headerStyle = renderer.NewStyle().Bold(true).Underline(true)
)

func init() {
	if !IsTerminal(os.Stdout) || os.Getenv("NO_COLOR") != "" {
		renderer.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// StdinIsTerminal reports whether input is interactive.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// DisableColor forces plain output.
func DisableColor() {
	renderer.SetColorProfile(termenv.Ascii)
}

// RenderAccent styles informational markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles errors.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted styles secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderHeader styles a section title.
func RenderHeader(s string) string { return headerStyle.Render(s) }

// Width returns the terminal width, or fallback when stdout is not a
// terminal.
func Width(fallback int) int {
	if !IsTerminal(os.Stdout) {
		return fallback
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// Truncate shortens s to at most n display cells, ending with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 || lipgloss.Width(s) <= n {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > n {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
