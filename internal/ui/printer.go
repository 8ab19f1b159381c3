package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/muurk/pulsemeter/internal/meter"
)

// Printer writes styled components to a plain writer. Commands that run
// once and exit use it instead of a Bubble Tea program.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to w, or os.Stdout if w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// Width returns the width used for boxes
func (p *Printer) Width() int {
	return p.width
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Printf writes formatted content
func (p *Printer) Printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params ...Param) {
	p.Println(NewHeader(title, command, params...).SetWidth(p.width).Render())
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details ...Param) {
	p.Println(NewSuccessResult(title, details...).SetWidth(p.width).Render())
}

// PrintWarning prints a warning result box
func (p *Printer) PrintWarning(title string, details ...Param) {
	p.Println(NewWarningResult(title, details...).SetWidth(p.width).Render())
}

// PrintError prints a failure box with troubleshooting tips
func (p *Printer) PrintError(title string, err error, troubleshooting []string) {
	p.Println(NewFailureResult(title, err, troubleshooting).SetWidth(p.width).Render())
}

// PrintSnapshot prints the channel table of one snapshot.
func (p *Printer) PrintSnapshot(snap meter.Snapshot) {
	p.Println(RenderSnapshot(snap))
}
