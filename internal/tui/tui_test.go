package tui

import (
	"errors"
	"strings"
	"testing"

	"karaoke/internal/audio"
	"karaoke/internal/pitch"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m tea.Model, msg tea.Msg) (tea.Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	require.NotNil(t, next)
	return next, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestFeedDropsWhenFullAndCloses(t *testing.T) {
	f := NewFeed(1)
	require.NoError(t, f.Send(pitch.NoteEvent{Note: "A4"}))
	require.NoError(t, f.Send(pitch.NoteEvent{Note: "B4"}))

	ev := <-f.Events()
	assert.Equal(t, "A4", ev.Note)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	require.NoError(t, f.Send(pitch.NoteEvent{Note: "C5"}))

	_, ok := <-f.Events()
	assert.False(t, ok)
}

func TestTunerShowsNotes(t *testing.T) {
	feed := NewFeed(4)
	var m tea.Model = NewTunerModel("karaoke", feed, nil)

	assert.Contains(t, m.View(), "Listening...")

	feed.Send(pitch.NoteEvent{Note: "A4", Frequency: 430.66, Cents: -39})
	cmd := m.Init()
	require.NotNil(t, cmd)
	msg := cmd()

	m, cmd = update(t, m, msg)
	require.NotNil(t, cmd, "tuner must keep listening")
	view := m.View()
	assert.Contains(t, view, "A4")
	assert.Contains(t, view, "430.66 Hz")
	assert.Contains(t, view, "-39 cents")
	assert.Contains(t, view, "Recent: A4")
	assert.Contains(t, view, "Gate: off")

	feed.Close()
	m, _ = update(t, m, cmd())
	assert.Contains(t, m.View(), "Session ended.")
}

func TestTunerHistoryBounded(t *testing.T) {
	var m tea.Model = NewTunerModel("t", NewFeed(1), nil)
	for range historyLen + 5 {
		m, _ = update(t, m, noteMsg{Note: "C4"})
	}
	m, _ = update(t, m, noteMsg{Note: "G5"})
	tm := m.(TunerModel)
	require.Len(t, tm.history, historyLen)
	assert.Equal(t, "G5", tm.history[historyLen-1])
}

func TestTunerGateKeys(t *testing.T) {
	gate := audio.NewGate(0)
	var m tea.Model = NewTunerModel("t", NewFeed(1), gate)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m, _ = update(t, m, keyRunes("+"))
	assert.True(t, gate.Enabled())
	assert.InDelta(t, 0.02, gate.Threshold(), 1e-6)
	assert.Contains(t, m.View(), "Gate: 0.02")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.InDelta(t, 0.01, gate.Threshold(), 1e-6)

	m, _ = update(t, m, keyRunes("g"))
	assert.False(t, gate.Enabled())
	assert.Contains(t, m.View(), "Gate: off")

	_, cmd := update(t, m, keyRunes("q"))
	assert.True(t, isQuit(cmd))
}

func TestCentsMeter(t *testing.T) {
	centre := centsMeter(0)
	assert.True(t, strings.HasPrefix(centre, "♭ "))
	assert.True(t, strings.HasSuffix(centre, " ♯"))
	// At 0 cents the marker replaces the centre line.
	assert.NotContains(t, centre, "|")
	assert.Contains(t, centsMeter(-50), "|")
	assert.Equal(t, centsMeter(80), centsMeter(50))
}

var pickerDevices = []audio.Device{
	{ID: 0, Name: "Built-in Microphone", HostAPI: "Core Audio", MaxInputChannels: 2, DefaultSampleRate: 48000, IsDefaultInput: true},
	{ID: 1, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 44100},
	{ID: 2, Name: "USB Interface", HostAPI: "Core Audio", MaxInputChannels: 4, DefaultSampleRate: 96000},
}

func TestDevicePickerSelectsDeviceAndRate(t *testing.T) {
	var m tea.Model = newDeviceListModel(func() ([]audio.Device, error) { return pickerDevices, nil })
	assert.Equal(t, "Initializing...", m.View())

	m, _ = update(t, m, m.Init()())
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})

	view := m.View()
	assert.Contains(t, view, "Built-in Microphone")
	assert.Contains(t, view, "USB Interface")
	assert.NotContains(t, view, "Speakers")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, m.View(), "Configure Device: USB Interface")

	// 96000 is the default; step back to 88200.
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, isQuit(cmd))

	sel := m.(DeviceListModel).Selection()
	require.NotNil(t, sel)
	assert.Equal(t, 2, sel.Device.ID)
	assert.Equal(t, 88200.0, sel.SampleRate)
}

func TestDevicePickerEscapeAndQuit(t *testing.T) {
	var m tea.Model = newDeviceListModel(func() ([]audio.Device, error) { return pickerDevices, nil })
	m, _ = update(t, m, m.Init()())
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Contains(t, m.View(), "Input Devices")

	m, cmd := update(t, m, keyRunes("q"))
	assert.True(t, isQuit(cmd))
	assert.Nil(t, m.(DeviceListModel).Selection())
}

func TestDevicePickerError(t *testing.T) {
	var m tea.Model = newDeviceListModel(func() ([]audio.Device, error) { return nil, errors.New("no host") })
	m, _ = update(t, m, m.Init()())
	assert.Contains(t, m.View(), "Error: no host")
}
