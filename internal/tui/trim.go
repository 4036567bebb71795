package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/hmcalister/wavetrim/internal/session"
	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/selection"
)

const (
	trimWaveformHeight = 8
	coarseStepColumns  = 10
	volumeStepDb       = 3.0
	maxVolumeDb        = 24.0
)

// The editing operations the trim screen drives. Satisfied by *session.Session.
type Trimmer interface {
	Buffer() (audiobuffer.AudioBuffer, error)
	SourcePath() string
	Selection() selection.Selection
	SelectionRatios() (float64, float64)
	SelectRatios(startRatio, endRatio float64) (selection.Selection, error)
	Play(ctx context.Context, loop bool) (<-chan struct{}, error)
	StopPlayback()
	Playing() bool
	PlayheadRatio() float64
	PlaybackLevel() float32
	SetPlaybackGain(gainDb float64)
	SaveTrim(session.SaveOptions) (string, error)
}

type handle int

const (
	handleStart handle = iota
	handleEnd
)

// TrimModel is the bubbletea model for trimming a loaded file: an overview of
// the whole buffer with start and end handles, looped or one-shot playback of
// the selection, and saving the selection to a new file.
type TrimModel struct {
	trimmer Trimmer
	buffer  audiobuffer.AudioBuffer

	active   handle
	loop     bool
	playing  bool
	saving   bool
	quitting bool

	// Applied to the saved trim only.
	normalize bool
	gainDb    float64
	// Applied to playback only.
	volumeDb float64

	// Overview cached for the current width.
	overview []audiobuffer.OverviewBin

	status     string
	statusKind statusKind

	width  int
	height int
}

// NewTrim creates the trim screen for the buffer already loaded into trimmer.
func NewTrim(trimmer Trimmer, normalize bool) (TrimModel, error) {
	b, err := trimmer.Buffer()
	if err != nil {
		return TrimModel{}, err
	}
	return TrimModel{
		trimmer:   trimmer,
		buffer:    b,
		normalize: normalize,
		status:    "READY",
	}, nil
}

func (m TrimModel) Init() tea.Cmd {
	return tickCmd()
}

func playCmd(trimmer Trimmer, loop bool) tea.Cmd {
	return func() tea.Msg {
		done, err := trimmer.Play(context.Background(), loop)
		return PlaybackStartedMsg{Done: done, Err: err}
	}
}

func waitPlaybackCmd(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return PlaybackEndedMsg{}
	}
}

func saveTrimCmd(trimmer Trimmer, opts session.SaveOptions) tea.Cmd {
	return func() tea.Msg {
		path, err := trimmer.SaveTrim(opts)
		return TrimSavedMsg{Path: path, Err: err}
	}
}

func (m TrimModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.overview = audiobuffer.Overview(m.buffer, m.width)
		return m, nil

	case TickMsg:
		// Selection changes stop playback inside the session.
		m.playing = m.trimmer.Playing()
		return m, tickCmd()

	case PlaybackStartedMsg:
		if msg.Err != nil {
			m.playing = false
			m.setStatus(statusError, "Playback: "+msg.Err.Error())
			return m, nil
		}
		m.playing = true
		return m, waitPlaybackCmd(msg.Done)

	case PlaybackEndedMsg:
		m.playing = m.trimmer.Playing()
		return m, nil

	case TrimSavedMsg:
		m.saving = false
		if msg.Err != nil {
			m.setStatus(statusError, "Error: "+msg.Err.Error())
		} else {
			m.setStatus(statusSuccess, "Saved: "+filepath.Base(msg.Path))
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, clearStatusCmd()

	case ClearStatusMsg:
		if !m.saving && m.statusKind != statusError {
			m.setStatus(statusInfo, "READY")
		}
		return m, nil
	}

	return m, nil
}

func (m *TrimModel) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.status = text
}

func (m TrimModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		m.trimmer.StopPlayback()
		if m.saving {
			m.quitting = true
			return m, nil
		}
		return m, tea.Quit

	case KeySpace:
		if m.playing {
			m.trimmer.StopPlayback()
			m.playing = false
			return m, nil
		}
		return m, playCmd(m.trimmer, m.loop)

	case KeyLoop:
		m.loop = !m.loop
		if m.playing {
			return m, playCmd(m.trimmer, m.loop)
		}
		return m, nil

	case KeySwitchHandle:
		m.active = 1 - m.active
		return m, nil

	case KeyLeft:
		m.moveHandle(-1)
		return m, nil

	case KeyRight:
		m.moveHandle(1)
		return m, nil

	case KeyShiftLeft:
		m.moveHandle(-coarseStepColumns)
		return m, nil

	case KeyShiftRight:
		m.moveHandle(coarseStepColumns)
		return m, nil

	case KeyResetSelection:
		m.setSelection(0, 1)
		return m, nil

	case KeyNormalize:
		m.normalize = !m.normalize
		return m, nil

	case KeyGainUp, KeyGainUpAlt:
		m.gainDb = min(m.gainDb+gainStepDb, maxGainDb)
		return m, nil

	case KeyGainDown:
		m.gainDb = max(m.gainDb-gainStepDb, -maxGainDb)
		return m, nil

	case KeyVolumeUp:
		m.volumeDb = min(m.volumeDb+volumeStepDb, maxVolumeDb)
		m.trimmer.SetPlaybackGain(m.volumeDb)
		return m, nil

	case KeyVolumeDown:
		m.volumeDb = max(m.volumeDb-volumeStepDb, -maxVolumeDb)
		m.trimmer.SetPlaybackGain(m.volumeDb)
		return m, nil

	case KeySave:
		if m.saving {
			return m, nil
		}
		m.saving = true
		m.setStatus(statusInfo, "SAVING...")
		opts := session.SaveOptions{Normalize: m.normalize}
		if !m.normalize {
			opts.GainDb = m.gainDb
		}
		return m, saveTrimCmd(m.trimmer, opts)
	}

	return m, nil
}

// Frames covered by one overview column, at least one.
func (m TrimModel) columnFrames() int {
	columns := len(m.overview)
	if columns == 0 {
		columns = 100
	}
	return max(1, int(math.Round(float64(m.buffer.NumFrames())/float64(columns))))
}

// Move the active handle by columns, keeping the selection at least one column wide.
func (m *TrimModel) moveHandle(columns int) {
	n := m.buffer.NumFrames()
	sel := m.trimmer.Selection()
	step := m.columnFrames()
	start, end := sel.Start, sel.End
	switch m.active {
	case handleStart:
		start = max(0, min(start+columns*step, end-step))
	case handleEnd:
		end = min(n, max(end+columns*step, start+step))
	}
	m.setSelection(frameRatio(start, n), frameRatio(end, n))
}

// The ratio of frame within n frames, aimed at the middle of the frame so
// that flooring back to a frame index lands on it.
func frameRatio(frame, n int) float64 {
	if frame >= n {
		return 1
	}
	return (float64(frame) + 0.5) / float64(n)
}

func (m *TrimModel) setSelection(start, end float64) {
	if _, err := m.trimmer.SelectRatios(start, end); err != nil {
		if errors.Is(err, selection.ErrInvalidRange) {
			m.setStatus(statusWarning, "Selection too short")
			return
		}
		m.setStatus(statusError, err.Error())
		return
	}
	m.playing = m.trimmer.Playing()
}

// --------------------------------------------------------------------------------
// View

func (m TrimModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderWaveform()...)
	sections = append(sections, m.renderHandles())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderTimes())
	sections = append(sections, m.renderSettings())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m TrimModel) renderHeader() string {
	title := TitleStyle.Render("WAVETRIM")
	name := filepath.Base(m.trimmer.SourcePath())
	props := m.buffer.Properties
	return title + DimStyle.Render(fmt.Sprintf(" - %s  %d Hz  %d ch", name, props.SampleRate, props.NumChannels))
}

func (m TrimModel) renderStatusBar() string {
	state := IdleDotStyle.Render("■ STOPPED")
	var level string
	if m.playing {
		state = PlayingStyle.Render("▶ PLAYING")
		level = "  " + renderLevelMeter(m.trimmer.PlaybackLevel())
	}

	loop := DimStyle.Render("loop off")
	if m.loop {
		loop = SelectedStyle.Render("loop on")
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
	return state + "  " + loop + level + "  " + status
}

// Overview column range [startCol, endCol) covered by the selection.
func (m TrimModel) selectionColumns(columns int) (int, int) {
	start, end := m.trimmer.SelectionRatios()
	startCol := min(int(start*float64(columns)), columns-1)
	endCol := max(int(math.Ceil(end*float64(columns))), startCol+1)
	return startCol, min(endCol, columns)
}

func (m TrimModel) playheadColumn(columns int) int {
	ratio := m.trimmer.PlayheadRatio()
	if !m.playing || ratio < 0 {
		return -1
	}
	return min(int(ratio*float64(columns)), columns-1)
}

func (m TrimModel) renderWaveform() []string {
	peaks := make([]float32, len(m.overview))
	for i, bin := range m.overview {
		peaks[i] = max(bin.Max, -bin.Min)
	}
	rows := renderBars(peaks, trimWaveformHeight)
	if len(peaks) == 0 {
		return rows
	}

	startCol, endCol := m.selectionColumns(len(peaks))
	playhead := m.playheadColumn(len(peaks))
	styles := []lipgloss.Style{WaveIdleStyle, WaveSelectedStyle, PlayheadStyle}
	classAt := func(col int) int {
		switch {
		case col == playhead:
			return 2
		case col >= startCol && col < endCol:
			return 1
		default:
			return 0
		}
	}
	for i, row := range rows {
		cells := []rune(row)
		if playhead >= 0 {
			cells[playhead] = '│'
		}
		rows[i] = renderStyledRuns(cells, classAt, styles)
	}
	return rows
}

// Render cells one run at a time, styling each run with styles[classAt(col)].
func renderStyledRuns(cells []rune, classAt func(col int) int, styles []lipgloss.Style) string {
	var sb strings.Builder
	runStart := 0
	for col := 1; col <= len(cells); col++ {
		if col < len(cells) && classAt(col) == classAt(runStart) {
			continue
		}
		sb.WriteString(styles[classAt(runStart)].Render(string(cells[runStart:col])))
		runStart = col
	}
	return sb.String()
}

func (m TrimModel) renderHandles() string {
	columns := len(m.overview)
	if columns == 0 {
		return ""
	}
	startCol, endCol := m.selectionColumns(columns)
	cells := []rune(strings.Repeat(" ", columns))
	cells[startCol] = '['
	cells[endCol-1] = ']'

	styles := []lipgloss.Style{DimStyle, HandleStyle, ActiveHandleStyle}
	active := startCol
	if m.active == handleEnd {
		active = endCol - 1
	}
	return renderStyledRuns(cells, func(col int) int {
		switch {
		case col == active:
			return 2
		case col == startCol || col == endCol-1:
			return 1
		default:
			return 0
		}
	}, styles)
}

func (m TrimModel) renderTimes() string {
	sel := m.trimmer.Selection()
	props := m.buffer.Properties
	start, end := sel.StartTime(props), sel.EndTime(props)
	line := fmt.Sprintf("START: %s  END: %s  DURATION: %s",
		formatPosition(start), formatPosition(end), formatPosition(end-start))
	if ratio := m.trimmer.PlayheadRatio(); m.playing && ratio >= 0 {
		line += "  " + TimerStyle.Render(formatPosition(time.Duration(ratio*float64(m.buffer.Duration()))))
	}
	return line
}

func (m TrimModel) renderSettings() string {
	output := DimStyle.Render(fmt.Sprintf("gain %+.0f dB", m.gainDb))
	if m.normalize {
		output = SelectedStyle.Render("normalize -1 dBFS")
	}
	return fmt.Sprintf("%s  %s",
		output,
		DimStyle.Render(fmt.Sprintf("volume %+.0f dB", m.volumeDb)),
	)
}

func (m TrimModel) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"space", "play/stop"},
		{"l", "loop"},
		{"tab", "handle"},
		{"←/→", "move"},
		{"r", "reset"},
		{"s", "save"},
		{"n", "normalize"},
		{"+/-", "gain"},
		{"v/V", "volume"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k.key)+" "+FooterDescStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}

// M:SS.ss
func formatPosition(d time.Duration) string {
	minutes := int(d / time.Minute)
	seconds := (d % time.Minute).Seconds()
	return fmt.Sprintf("%d:%05.2f", minutes, seconds)
}
