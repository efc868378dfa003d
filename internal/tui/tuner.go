// Package tui renders the live tuner and the device picker with bubbletea.
package tui

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"karaoke/internal/audio"
	"karaoke/internal/pitch"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	noteStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#25A065"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
)

const (
	historyLen = 12
	gateStep   = 0.01
	meterWidth = 21 // Odd so the centre marks 0 cents.
)

// Feed is a transport that hands note events to the tuner. Events are
// dropped while the tuner is behind.
type Feed struct {
	ch   chan pitch.NoteEvent
	mu   sync.RWMutex
	done bool
}

// NewFeed returns a feed buffering up to size events.
func NewFeed(size int) *Feed {
	return &Feed{ch: make(chan pitch.NoteEvent, max(size, 1))}
}

// Send queues ev without blocking.
func (f *Feed) Send(ev pitch.NoteEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.done {
		return nil
	}
	select {
	case f.ch <- ev:
	default:
	}
	return nil
}

// Close ends the feed; the tuner shows the session as finished.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		f.done = true
		close(f.ch)
	}
	return nil
}

// Events is the receive side of the feed.
func (f *Feed) Events() <-chan pitch.NoteEvent { return f.ch }

type noteMsg pitch.NoteEvent

type feedClosedMsg struct{}

func waitForNote(events <-chan pitch.NoteEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return feedClosedMsg{}
		}
		return noteMsg(ev)
	}
}

type tunerKeys struct {
	GateUp     key.Binding
	GateDown   key.Binding
	GateToggle key.Binding
	Quit       key.Binding
}

func (k tunerKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.GateUp, k.GateDown, k.GateToggle, k.Quit}
}

func (k tunerKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultTunerKeys = tunerKeys{
	GateUp: key.NewBinding(
		key.WithKeys("up", "k", "+"),
		key.WithHelp("↑/+", "gate up"),
	),
	GateDown: key.NewBinding(
		key.WithKeys("down", "j", "-"),
		key.WithHelp("↓/-", "gate down"),
	),
	GateToggle: key.NewBinding(
		key.WithKeys("g"),
		key.WithHelp("g", "toggle gate"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// TunerModel shows the latest note, its tuning and a short history.
type TunerModel struct {
	title   string
	events  <-chan pitch.NoteEvent
	gate    *audio.Gate
	keys    tunerKeys
	help    help.Model
	last    pitch.NoteEvent
	seen    bool
	history []string
	ended   bool
}

// NewTunerModel reads events from feed. gate may be nil.
func NewTunerModel(title string, feed *Feed, gate *audio.Gate) TunerModel {
	return TunerModel{
		title:  title,
		events: feed.Events(),
		gate:   gate,
		keys:   defaultTunerKeys,
		help:   help.New(),
	}
}

// Init starts listening for notes.
func (m TunerModel) Init() tea.Cmd {
	return waitForNote(m.events)
}

// Update handles notes, window size and key presses.
func (m TunerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case noteMsg:
		m.last = pitch.NoteEvent(msg)
		m.seen = true
		m.history = append(m.history, msg.Note)
		if len(m.history) > historyLen {
			m.history = m.history[len(m.history)-historyLen:]
		}
		return m, waitForNote(m.events)

	case feedClosedMsg:
		m.ended = true
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.GateUp):
			m.adjustGate(gateStep)
		case key.Matches(msg, m.keys.GateDown):
			m.adjustGate(-gateStep)
		case key.Matches(msg, m.keys.GateToggle):
			if m.gate != nil {
				if m.gate.Enabled() {
					m.gate.Disable()
				} else {
					m.gate.Enable()
				}
			}
		}
	}
	return m, nil
}

func (m TunerModel) adjustGate(delta float64) {
	if m.gate == nil {
		return
	}
	m.gate.SetThreshold(m.gate.Threshold() + delta)
	if m.gate.Threshold() > 0 {
		m.gate.Enable()
	}
}

// View renders the tuner.
func (m TunerModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	if !m.seen {
		sb.WriteString(dimStyle.Render("Listening..."))
	} else {
		sb.WriteString(noteStyle.Render(m.last.Note))
		sb.WriteString("\n")
		sb.WriteString(infoStyle.Render(fmt.Sprintf("%.2f Hz  %+.0f cents", m.last.Frequency, m.last.Cents)))
		sb.WriteString("\n")
		sb.WriteString(centsMeter(m.last.Cents))
	}
	sb.WriteString("\n\n")

	if len(m.history) > 0 {
		sb.WriteString(dimStyle.Render("Recent: " + strings.Join(m.history, " ")))
		sb.WriteString("\n")
	}

	sb.WriteString(m.gateLine())
	sb.WriteString("\n")
	if m.ended {
		sb.WriteString(warnStyle.Render("Session ended."))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m TunerModel) gateLine() string {
	if m.gate == nil || !m.gate.Enabled() {
		return infoStyle.Render("Gate: off")
	}
	return infoStyle.Render(fmt.Sprintf("Gate: %.2f", m.gate.Threshold()))
}

// centsMeter draws a bar from -50 to +50 cents with the offset marked.
func centsMeter(cents float64) string {
	if math.IsNaN(cents) {
		cents = 0
	}
	cents = max(-50, min(50, cents))
	pos := int(math.Round((cents + 50) / 100 * float64(meterWidth-1)))

	var sb strings.Builder
	sb.WriteString("♭ ")
	for i := range meterWidth {
		switch {
		case i == pos:
			sb.WriteString(highlightStyle.Render("●"))
		case i == meterWidth/2:
			sb.WriteString("|")
		default:
			sb.WriteString("-")
		}
	}
	sb.WriteString(" ♯")
	return sb.String()
}

// RunTuner blocks until the user quits.
func RunTuner(m TunerModel) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
