// Package ui renders pulsemeter's terminal output.
//
// One-shot commands (discover, decode) print header and result boxes
// through a Printer. The watch command runs WatchModel, a Bubble Tea
// program that redraws the latest snapshot of each meter on a fixed
// refresh interval together with the state of its session.
package ui
