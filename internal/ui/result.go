package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ResultType indicates success or failure
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// Result is a framed outcome box printed at the end of a command.
type Result struct {
	Type            ResultType
	Title           string
	Details         []Param
	Error           error    // failure only
	Troubleshooting []string // failure only
	Width           int
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details ...Param) *Result {
	return &Result{Type: ResultSuccess, Title: title, Details: details, Width: GetTerminalWidth()}
}

// NewFailureResult creates a failure result box
func NewFailureResult(title string, err error, troubleshooting []string) *Result {
	return &Result{
		Type:            ResultFailure,
		Title:           title,
		Error:           err,
		Troubleshooting: troubleshooting,
		Width:           GetTerminalWidth(),
	}
}

// NewWarningResult creates a warning result box
func NewWarningResult(title string, details ...Param) *Result {
	return &Result{Type: ResultWarning, Title: title, Details: details, Width: GetTerminalWidth()}
}

// SetWidth sets the width for responsive rendering
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// AddDetail appends a detail line
func (r *Result) AddDetail(key, value string) *Result {
	r.Details = append(r.Details, Param{Key: key, Value: value})
	return r
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	width := r.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	var (
		marker, label string
		title         lipgloss.Style
		color         lipgloss.Color
	)
	switch r.Type {
	case ResultFailure:
		marker, label, title, color = FailureMarker, "FAILED", ErrorTitleStyle, ErrorColor
	case ResultWarning:
		marker, label, title, color = WarningMarker, "WARNING", WarningTitleStyle, WarningColor
	default:
		marker, label, title, color = SuccessMarker, "SUCCESS", SuccessTitleStyle, SuccessColor
	}

	lines := []string{"", title.Render(fmt.Sprintf("   %s  %s  ─  %s", marker, label, r.Title)), ""}

	for _, d := range r.Details {
		lines = append(lines, ResultKeyStyle.Render("   "+d.Key+":")+" "+ResultValueStyle.Render(d.Value))
	}
	if len(r.Details) > 0 {
		lines = append(lines, "")
	}

	if r.Error != nil {
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+r.Error.Error()), "")
	}

	if len(r.Troubleshooting) > 0 {
		tips := []string{TroubleshootingTitleStyle.Render("Troubleshooting:"), ""}
		for _, tip := range r.Troubleshooting {
			tips = append(tips, TroubleshootingItemStyle.Render("  • "+tip))
		}
		lines = append(lines, TroubleshootingBoxStyle(width).Render(strings.Join(tips, "\n")), "")
	}

	return ResultBoxStyle(width, color).Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
