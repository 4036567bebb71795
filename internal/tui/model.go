// Package tui holds the interactive screens. Model records: a live waveform,
// timer and level meter, with the recent recordings below. TrimModel edits a
// loaded file: selection handles over an overview, playback and saving.
package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hmcalister/wavetrim/internal/audioapi"
	"github.com/hmcalister/wavetrim/internal/config"
	"github.com/hmcalister/wavetrim/internal/library"
	"github.com/hmcalister/wavetrim/internal/session"
	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/processing"
)

const (
	tickInterval    = 33 * time.Millisecond
	statusTimeout   = 4 * time.Second
	liveWindow      = 3 * time.Second
	waveformHeight  = 6
	maxLibraryLines = 8
	gainStepDb      = 1.0
	maxGainDb       = 60.0
)

// The recording operations the screen drives. Satisfied by *session.Session.
type Recorder interface {
	StartRecording(audioapi.AudioIODevice) error
	StopRecording() (audiobuffer.AudioBuffer, error)
	SaveRecording() (string, error)
	IsRecording() bool
	Waveform() *audiobuffer.WaveformBuffer
	RecordingElapsed() time.Duration
	OnClip(func(processing.ClippingWarning))
}

// Satisfied by *config.Store.
type SettingsStore interface {
	Settings() config.RecordingSettings
	Update(func(*config.RecordingSettings)) error
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusSuccess
	statusWarning
	statusError
)

// Collects clipping reported during a save, which happens off the UI goroutine.
type clipTracker struct {
	mu      sync.Mutex
	warning processing.ClippingWarning
}

func (c *clipTracker) record(w processing.ClippingWarning) {
	c.mu.Lock()
	c.warning = w
	c.mu.Unlock()
}

func (c *clipTracker) take() processing.ClippingWarning {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.warning
	c.warning = processing.ClippingWarning{}
	return w
}

// Model is the root bubbletea model for the recording screen.
type Model struct {
	recorder Recorder
	settings SettingsStore
	clips    *clipTracker

	devices     []audioapi.AudioIODevice
	deviceIndex int

	// Recording state
	starting  bool
	recording bool
	saving    bool
	quitting  bool

	entries []library.Entry

	status     string
	statusKind statusKind

	width  int
	height int
}

// New creates the recording screen. The initially selected device is the one
// named in settings, falling back to the default device.
func New(recorder Recorder, settings SettingsStore, devices []audioapi.AudioIODevice) Model {
	clips := &clipTracker{}
	recorder.OnClip(clips.record)

	m := Model{
		recorder: recorder,
		settings: settings,
		clips:    clips,
		devices:  devices,
		status:   "READY TO RECORD",
	}

	saved := settings.Settings().Device
	m.deviceIndex = -1
	for i, d := range devices {
		if saved != "" && d.Name == saved {
			m.deviceIndex = i
			break
		}
	}
	if m.deviceIndex < 0 {
		m.deviceIndex = 0
		for i, d := range devices {
			if d.IsDefault {
				m.deviceIndex = i
				break
			}
		}
	}
	return m
}

// Init starts the redraw ticker and loads the recordings list.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), loadLibraryCmd(m.settings.Settings().SaveDir))
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

func clearStatusCmd() tea.Cmd {
	return tea.Tick(statusTimeout, func(time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

func loadLibraryCmd(dir string) tea.Cmd {
	return func() tea.Msg {
		entries, err := library.Recent(dir, library.DefaultLimit)
		return LibraryLoadedMsg{Entries: entries, Err: err}
	}
}

func startCmd(recorder Recorder, device audioapi.AudioIODevice) tea.Cmd {
	return func() tea.Msg {
		return RecordingStartedMsg{Err: recorder.StartRecording(device)}
	}
}

func stopAndSaveCmd(recorder Recorder, clips *clipTracker) tea.Cmd {
	return func() tea.Msg {
		if _, err := recorder.StopRecording(); err != nil {
			return SavedMsg{Err: err}
		}
		path, err := recorder.SaveRecording()
		return SavedMsg{Path: path, Err: err, Clipping: clips.take()}
	}
}

// Update handles messages and returns the updated model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		return m, tickCmd()

	case RecordingStartedMsg:
		m.starting = false
		if msg.Err != nil {
			m.setStatus(statusError, "Stream error: "+msg.Err.Error())
			return m, nil
		}
		m.recording = true
		m.setStatus(statusInfo, "● RECORDING")
		return m, nil

	case SavedMsg:
		m.saving = false
		var cmd tea.Cmd
		switch {
		case errors.Is(msg.Err, session.ErrEmptyRecording):
			m.setStatus(statusInfo, "READY TO RECORD")
		case msg.Err != nil:
			m.setStatus(statusError, "Error: "+msg.Err.Error())
		case msg.Clipping.Clipped():
			m.setStatus(statusWarning, fmt.Sprintf("Saved: %s (%d samples clipped, peak %+.1f dBFS)",
				filepath.Base(msg.Path), msg.Clipping.ClippedSamples, msg.Clipping.PeakDb()))
			cmd = tea.Batch(loadLibraryCmd(m.settings.Settings().SaveDir), clearStatusCmd())
		default:
			m.setStatus(statusSuccess, "Saved: "+filepath.Base(msg.Path))
			cmd = tea.Batch(loadLibraryCmd(m.settings.Settings().SaveDir), clearStatusCmd())
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, cmd

	case LibraryLoadedMsg:
		if msg.Err != nil {
			m.setStatus(statusError, "Could not list recordings: "+msg.Err.Error())
			return m, nil
		}
		m.entries = msg.Entries
		return m, nil

	case ClearStatusMsg:
		if !m.recording && !m.saving && m.statusKind != statusError {
			m.setStatus(statusInfo, "READY TO RECORD")
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.status = text
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.recording {
			// Keep the take: save, then quit once SavedMsg arrives.
			m.quitting = true
			m.recording = false
			m.saving = true
			m.setStatus(statusInfo, "SAVING...")
			return m, stopAndSaveCmd(m.recorder, m.clips)
		}
		if m.saving {
			m.quitting = true
			return m, nil
		}
		return m, tea.Quit

	case KeySpace, KeyRecord:
		return m.toggleRecording()

	case KeyNormalize:
		m.updateSettings(func(s *config.RecordingSettings) {
			s.Normalize = !s.Normalize
		})
		return m, nil

	case KeyGainUp, KeyGainUpAlt:
		m.updateSettings(func(s *config.RecordingSettings) {
			s.GainDb = min(s.GainDb+gainStepDb, maxGainDb)
		})
		return m, nil

	case KeyGainDown:
		m.updateSettings(func(s *config.RecordingSettings) {
			s.GainDb = max(s.GainDb-gainStepDb, -maxGainDb)
		})
		return m, nil

	case KeyCycleDevice:
		m.cycleDevice(1)
		return m, nil

	case KeyCycleDeviceUp:
		m.cycleDevice(-1)
		return m, nil

	case KeyRefresh:
		return m, loadLibraryCmd(m.settings.Settings().SaveDir)
	}

	return m, nil
}

func (m Model) toggleRecording() (tea.Model, tea.Cmd) {
	switch {
	case m.starting || m.saving:
		return m, nil

	case m.recording:
		m.recording = false
		m.saving = true
		m.setStatus(statusInfo, "SAVING...")
		return m, stopAndSaveCmd(m.recorder, m.clips)

	default:
		if len(m.devices) == 0 {
			m.setStatus(statusError, "No capture device available")
			return m, nil
		}
		m.starting = true
		m.setStatus(statusInfo, "STARTING...")
		return m, startCmd(m.recorder, m.devices[m.deviceIndex])
	}
}

func (m *Model) updateSettings(mutate func(*config.RecordingSettings)) {
	if err := m.settings.Update(mutate); err != nil {
		m.setStatus(statusError, "Settings: "+err.Error())
	}
}

// Select the next (or previous) capture device. Not allowed while recording.
func (m *Model) cycleDevice(step int) {
	if m.recording || m.starting || len(m.devices) == 0 {
		return
	}
	n := len(m.devices)
	m.deviceIndex = ((m.deviceIndex+step)%n + n) % n
	name := m.devices[m.deviceIndex].Name
	m.updateSettings(func(s *config.RecordingSettings) {
		s.Device = name
	})
}

// --------------------------------------------------------------------------------
// View

// View renders the UI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderWaveform()...)
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderSettings())
	sections = append(sections, m.renderLibrary()...)
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("WAVETRIM")
	if len(m.devices) == 0 {
		return title + DimStyle.Render(" - no capture devices")
	}
	return title + DimStyle.Render(" - "+m.devices[m.deviceIndex].Label())
}

func (m Model) renderStatusBar() string {
	var dot string
	if m.recording {
		dot = RecordingDotStyle.Render("● REC")
	} else {
		dot = IdleDotStyle.Render("○ IDLE")
	}

	timer := TimerStyle.Render(formatElapsed(m.recorder.RecordingElapsed()))

	var level string
	if waveform := m.recorder.Waveform(); m.recording && waveform != nil {
		frames := waveform.GetDeviceProperties().DurationToFrames(100 * time.Millisecond)
		level = "  " + renderLevelMeter(waveform.Level(frames))
	}

	var status string
	switch m.statusKind {
	case statusSuccess:
		status = SuccessStyle.Render(m.status)
	case statusWarning:
		status = WarningStyle.Render(m.status)
	case statusError:
		status = ErrorStyle.Render(m.status)
	default:
		status = DimStyle.Render(m.status)
	}

	return dot + "  " + timer + level + "  " + status
}

func (m Model) renderWaveform() []string {
	style := WaveIdleStyle
	var peaks []float32
	if waveform := m.recorder.Waveform(); waveform != nil {
		style = WaveRecordingStyle
		frames := waveform.GetDeviceProperties().DurationToFrames(liveWindow)
		peaks = columnPeaks(waveform.Tail(frames), m.width)
	} else {
		peaks = make([]float32, m.width)
	}

	rows := renderBars(peaks, waveformHeight)
	for i, row := range rows {
		rows[i] = style.Render(row)
	}
	return rows
}

func (m Model) renderSettings() string {
	s := m.settings.Settings()
	gain := DimStyle.Render(fmt.Sprintf("gain %+.0f dB", s.GainDb))
	normalize := DimStyle.Render("normalize off")
	if s.Normalize {
		normalize = SelectedStyle.Render("normalize -1 dBFS")
		gain = DimStyle.Render("gain n/a")
	}
	return fmt.Sprintf("%s  %s  %s  %s",
		normalize,
		gain,
		DimStyle.Render(fmt.Sprintf("%d-bit", s.BitDepth)),
		DimStyle.Render(s.SaveDir),
	)
}

func (m Model) renderLibrary() []string {
	if len(m.entries) == 0 {
		return []string{DimStyle.Render("  no recordings yet")}
	}
	lines := make([]string, 0, maxLibraryLines)
	for i, e := range m.entries {
		if i == maxLibraryLines {
			break
		}
		lines = append(lines, "  "+e.String())
	}
	return lines
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"space", "record/stop"},
		{"n", "normalize"},
		{"+/-", "gain"},
		{"i", "device"},
		{"l", "refresh"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k.key)+" "+FooterDescStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}

// --------------------------------------------------------------------------------

// MM:SS.s
func formatElapsed(d time.Duration) string {
	minutes := int(d / time.Minute)
	seconds := (d % time.Minute).Seconds()
	return fmt.Sprintf("%02d:%04.1f", minutes, seconds)
}

func renderLevelMeter(level float32) string {
	const barLen = 12
	filled := min(int(level*barLen), barLen)

	var bar strings.Builder
	for i := range barLen {
		if i >= filled {
			bar.WriteString(LevelGrayStyle.Render("░"))
			continue
		}
		pct := float32(i) / float32(barLen)
		switch {
		case pct > 0.85:
			bar.WriteString(LevelRedStyle.Render("█"))
		case pct > 0.6:
			bar.WriteString(LevelYellowStyle.Render("█"))
		default:
			bar.WriteString(LevelGreenStyle.Render("█"))
		}
	}
	return bar.String()
}

// Reduce samples to width columns of peak absolute amplitude.
func columnPeaks(samples []float32, width int) []float32 {
	if width <= 0 {
		return nil
	}
	peaks := make([]float32, width)
	if len(samples) == 0 {
		return peaks
	}
	for col := range width {
		start := col * len(samples) / width
		end := max((col+1)*len(samples)/width, start+1)
		for _, v := range samples[start:min(end, len(samples))] {
			peaks[col] = max(peaks[col], v, -v)
		}
	}
	return peaks
}

var eighthBlocks = []rune(" ▁▂▃▄▅▆▇█")

// Draw peaks in [0, 1] as bottom-aligned bars, height rows tall, top row first.
func renderBars(peaks []float32, height int) []string {
	rows := make([]string, height)
	for row := range height {
		var sb strings.Builder
		// Eighths of a cell below this row, counted from the bottom.
		floor := (height - 1 - row) * 8
		for _, p := range peaks {
			eighths := int(min(max(p, 0), 1)*float32(height*8)) - floor
			sb.WriteRune(eighthBlocks[min(max(eighths, 0), 8)])
		}
		rows[row] = sb.String()
	}
	return rows
}
