package terminal

import (
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const defaultWidth = 100

// Renderer turns answer markdown into terminal output.
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer creates a Renderer wrapping at width. A nil glamour renderer
// (plain mode, or a style that failed to load) prints markdown as is.
func NewRenderer(width int, plain bool) *Renderer {
	if plain {
		return &Renderer{}
	}
	if width <= 0 {
		width = defaultWidth
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{md: md}
}

// Render renders markdown, falling back to the raw text on failure.
func (r *Renderer) Render(markdown string) string {
	if r == nil || r.md == nil {
		return markdown
	}
	out, err := r.md.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}

// TerminalWidth returns the width of stdout, or a default when stdout is not
// a terminal.
func TerminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

type styles struct {
	title   lipgloss.Style
	caption lipgloss.Style
	prompt  lipgloss.Style
	command lipgloss.Style
	blocked lipgloss.Style
	err     lipgloss.Style
	subtle  lipgloss.Style
}

func newStyles(plain bool) styles {
	if plain {
		s := lipgloss.NewStyle()
		return styles{title: s, caption: s, prompt: s, command: s, blocked: s, err: s, subtle: s}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		caption: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241")),
		prompt:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		command: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		blocked: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		err:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}
