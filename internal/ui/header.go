package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Param is one key/value line of a header or result box. Params render in
// the order given.
type Param struct {
	Key   string
	Value string
}

// Header is the banner printed at the start of a command.
type Header struct {
	Title   string // e.g., "METER DISCOVERY"
	Command string // e.g., "pulsemeter discover"
	Params  []Param
	Width   int
}

// NewHeader creates a new header sized to the terminal
func NewHeader(title, command string, params ...Param) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the width for responsive rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	top := lipgloss.JoinVertical(lipgloss.Left,
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render(h.Command),
	)
	if len(h.Params) == 0 {
		return HeaderBorderStyle(width).Render(top)
	}

	dividerWidth := width - 6
	if dividerWidth < 10 {
		dividerWidth = 10
	}

	lines := make([]string, 0, len(h.Params))
	for _, p := range h.Params {
		lines = append(lines, HeaderParamKeyStyle.Render(p.Key+":")+" "+HeaderParamValueStyle.Render(p.Value))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		top,
		RenderHorizontalDivider(dividerWidth, "─"),
		strings.Join(lines, "\n"),
	)
	return HeaderBorderStyle(width).Render(content)
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}
