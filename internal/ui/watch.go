package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/pulsemeter/internal/meter"
	"github.com/muurk/pulsemeter/internal/session"
)

// DefaultRefresh is how often the watch view re-reads the store.
const DefaultRefresh = 500 * time.Millisecond

// SnapshotSource is the read side of meter.Store.
type SnapshotSource interface {
	Current(meterID string) (meter.Snapshot, bool)
	Count(meterID string) uint64
}

// Session is the read side of session.Supervisor.
type Session interface {
	Name() string
	State() session.State
	Stats() session.Stats
}

type refreshMsg time.Time

// watchKeyMap defines key bindings for the watch screen
type watchKeyMap struct {
	Next key.Binding
	Prev key.Binding
	Help key.Binding
	Quit key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Next, k.Prev},
		{k.Help, k.Quit},
	}
}

func newWatchKeyMap() watchKeyMap {
	return watchKeyMap{
		Next: key.NewBinding(key.WithKeys("tab", "right", "l"), key.WithHelp("tab/→", "next meter")),
		Prev: key.NewBinding(key.WithKeys("shift+tab", "left", "h"), key.WithHelp("shift+tab/←", "previous meter")),
		Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Quit: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// WatchModel shows the live snapshot of one meter at a time, plus the
// connection state and counters of its session.
type WatchModel struct {
	Source   SnapshotSource
	Sessions []Session
	Refresh  time.Duration

	Selected int
	Width    int
	Height   int

	Spinner spinner.Model
	Help    help.Model
	Keys    watchKeyMap

	now func() time.Time
}

// NewWatchModel creates a watch view over sessions, reading snapshots
// from source.
func NewWatchModel(source SnapshotSource, sessions []Session) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(WarningColor)

	width, height := GetTerminalSize()
	return WatchModel{
		Source:   source,
		Sessions: sessions,
		Refresh:  DefaultRefresh,
		Width:    width,
		Height:   height,
		Spinner:  s,
		Help:     help.New(),
		Keys:     newWatchKeyMap(),
		now:      time.Now,
	}
}

// Init starts the spinner and the refresh ticker
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, m.refresh())
}

func (m WatchModel) refresh() tea.Cmd {
	return tea.Tick(m.Refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Update handles messages and updates the model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = clampWidth(msg.Width)
		m.Height = msg.Height
		m.Help.Width = m.Width
		return m, nil

	case tea.KeyMsg:
		n := len(m.Sessions)
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Next) && n > 0:
			m.Selected = (m.Selected + 1) % n
		case key.Matches(msg, m.Keys.Prev) && n > 0:
			m.Selected = (m.Selected + n - 1) % n
		case key.Matches(msg, m.Keys.Help):
			m.Help.ShowAll = !m.Help.ShowAll
		}
		return m, nil

	case refreshMsg:
		// Nothing to compute: View reads the store directly.
		return m, m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the watch screen
func (m WatchModel) View() string {
	if len(m.Sessions) == 0 {
		return HelpStyle.Render("No meters configured.") + "\n"
	}
	sel := m.Sessions[m.Selected%len(m.Sessions)]

	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")
	b.WriteString(m.renderStatus(sel))
	b.WriteString("\n\n")

	if snap, ok := m.Source.Current(sel.Name()); ok {
		b.WriteString(RenderSnapshot(snap))
		b.WriteString("\n\n")
		b.WriteString(HelpStyle.Render(fmt.Sprintf("snapshot #%d, %s",
			m.Source.Count(sel.Name()), FormatAge(m.now(), snap.Timestamp))))
	} else {
		b.WriteString(HelpStyle.Render("Waiting for the first complete frame..."))
	}

	b.WriteString("\n\n")
	b.WriteString(HelpStyle.Render(m.Help.View(m.Keys)))
	b.WriteString("\n")
	return b.String()
}

func (m WatchModel) renderTabs() string {
	tabs := make([]string, 0, len(m.Sessions)+1)
	tabs = append(tabs, HeaderTitleStyle.Render("PULSEMETER"))
	for i, s := range m.Sessions {
		style := TabStyle
		if i == m.Selected%len(m.Sessions) {
			style = ActiveTabStyle
		}
		tabs = append(tabs, style.Render(s.Name()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m WatchModel) renderStatus(s Session) string {
	state := s.State()

	var indicator string
	switch state {
	case session.StateConnected:
		indicator = SuccessTitleStyle.Render(SuccessMarker + " " + state.String())
	case session.StateConnecting, session.StateBackoff:
		indicator = m.Spinner.View() + " " + WarningTitleStyle.Render(state.String())
	default:
		indicator = ErrorTitleStyle.Render(FailureMarker + " " + state.String())
	}

	st := s.Stats()
	counters := HelpStyle.Render(fmt.Sprintf(
		"connects %d  messages %d  frames %d  errors %d/%d/%d (frame/decode/transport)",
		st.Connects, st.Messages, st.Frames, st.FrameErrors, st.DecodeErrors, st.TransportErrors))

	return "  " + indicator + "\n" + counters
}
