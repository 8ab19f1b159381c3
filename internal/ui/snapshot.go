package ui

import (
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/pulsemeter/internal/meter"
	"github.com/muurk/pulsemeter/internal/sml"
)

// RenderSnapshot renders every channel of snap as one table row, followed
// by the derived power and gap lines.
func RenderSnapshot(snap meter.Snapshot) string {
	var rows []string
	for _, code := range snap.Codes() {
		short, err := sml.ShortCode(code)
		if err != nil {
			short = code
		}
		var reading string
		if v, ok := snap.Values[code]; ok {
			reading = FormatReading(v)
		} else {
			reading = snap.Text[code]
		}
		rows = append(rows, row(meter.ChannelName(code), short, reading, snap.Units[code]))
	}

	if snap.HasPower {
		rows = append(rows, row(meter.AttrPower, "", FormatReading(snap.Power), "W"))
	}
	if snap.HasGap {
		rows = append(rows, row(meter.AttrGap, "", strconv.FormatFloat(snap.Gap, 'f', 3, 64), "s"))
	}
	if len(rows) == 0 {
		return HelpStyle.Render("no channels")
	}
	return strings.Join(rows, "\n")
}

// FormatReading prints v without trailing zeros.
func FormatReading(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatAge describes how long ago t was, rounded for display.
func FormatAge(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return d.Round(100*time.Millisecond).String() + " ago"
	}
	return d.Round(time.Second).String() + " ago"
}

func row(name, code, reading, unit string) string {
	// Octet strings (server IDs, keys) are wider than the reading column.
	readingStyle := ReadingStyle
	if lipgloss.Width(reading) > ReadingStyle.GetWidth() {
		readingStyle = readingStyle.UnsetWidth()
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		"  ",
		ChannelStyle.Render(name),
		CodeStyle.Render(code),
		readingStyle.Render(reading),
		UnitStyle.Render(unit),
	)
}
