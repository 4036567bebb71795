package tui

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hmcalister/wavetrim/internal/audioapi"
	"github.com/hmcalister/wavetrim/internal/config"
	"github.com/hmcalister/wavetrim/internal/session"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
)

func newTestModel(t *testing.T) (Model, *config.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := config.LoadConfig(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(config.KeySaveDir, filepath.Join(dir, "recordings")); err != nil {
		t.Fatal(err)
	}

	api := audioapi.NewDummyAudioIODeviceAPI(audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 2})
	devices, err := api.CaptureDevices()
	if err != nil {
		t.Fatal(err)
	}
	s := session.New(api, store)
	t.Cleanup(func() { s.Close() })
	return New(s, store, devices), store
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func TestNewModelSelectsDefaultDevice(t *testing.T) {
	m, _ := newTestModel(t)
	if m.recording || m.saving {
		t.Error("new model should be idle")
	}
	if !m.devices[m.deviceIndex].IsDefault {
		t.Errorf("selected %q, want the default device", m.devices[m.deviceIndex].Name)
	}
}

func TestNewModelRestoresSavedDevice(t *testing.T) {
	m, store := newTestModel(t)
	if err := store.Set(config.KeyDevice, "DummyInput"); err != nil {
		t.Fatal(err)
	}
	m = New(m.recorder, store, m.devices)
	if m.devices[m.deviceIndex].Name != "DummyInput" {
		t.Errorf("selected %q, want DummyInput", m.devices[m.deviceIndex].Name)
	}
}

func TestRecordAndSave(t *testing.T) {
	m, store := newTestModel(t)

	m, cmd := update(t, m, key(" "))
	if !m.starting || cmd == nil {
		t.Fatal("space should start recording")
	}
	m, _ = update(t, m, cmd())
	if !m.recording {
		t.Fatalf("not recording, status %q", m.status)
	}

	time.Sleep(100 * time.Millisecond)

	m, cmd = update(t, m, key("r"))
	if m.recording || !m.saving {
		t.Fatal("r should stop and save")
	}
	msg := cmd()
	saved, ok := msg.(SavedMsg)
	if !ok {
		t.Fatalf("got %T, want SavedMsg", msg)
	}
	if saved.Err != nil {
		t.Fatalf("save failed: %v", saved.Err)
	}
	if filepath.Dir(saved.Path) != store.Settings().SaveDir {
		t.Errorf("saved to %q, want directory %q", saved.Path, store.Settings().SaveDir)
	}

	m, cmd = update(t, m, saved)
	if m.statusKind != statusSuccess || !strings.HasPrefix(m.status, "Saved: ") {
		t.Errorf("status = %q", m.status)
	}
	if cmd == nil {
		t.Fatal("expected library refresh")
	}

	loaded := loadLibraryCmd(store.Settings().SaveDir)().(LibraryLoadedMsg)
	m, _ = update(t, m, loaded)
	if len(m.entries) != 1 || m.entries[0].Path != saved.Path {
		t.Errorf("library entries = %v", m.entries)
	}
}

func TestStartErrorShowsStatus(t *testing.T) {
	m, _ := newTestModel(t)
	m.starting = true
	m, _ = update(t, m, RecordingStartedMsg{Err: &session.DeviceError{Device: "x", Err: session.ErrNoBuffer}})
	if m.recording || m.starting {
		t.Error("failed start should leave the model idle")
	}
	if m.statusKind != statusError {
		t.Errorf("status kind = %v, want error", m.statusKind)
	}
}

func TestNormalizeAndGainKeys(t *testing.T) {
	m, store := newTestModel(t)

	m, _ = update(t, m, key("n"))
	if store.Settings().Normalize {
		t.Error("n should turn normalize off")
	}
	m, _ = update(t, m, key("+"))
	m, _ = update(t, m, key("+"))
	m, _ = update(t, m, key("-"))
	if got := store.Settings().GainDb; got != 1 {
		t.Errorf("gain = %v, want 1", got)
	}
	update(t, m, key("n"))
	if !store.Settings().Normalize {
		t.Error("n should turn normalize back on")
	}
}

func TestCycleDevicePersists(t *testing.T) {
	m, store := newTestModel(t)
	start := m.deviceIndex

	m, _ = update(t, m, key("i"))
	if m.deviceIndex == start {
		t.Fatal("device did not change")
	}
	if store.Settings().Device != m.devices[m.deviceIndex].Name {
		t.Errorf("saved device = %q", store.Settings().Device)
	}

	m, _ = update(t, m, key("I"))
	if m.deviceIndex != start {
		t.Errorf("device index = %d, want %d", m.deviceIndex, start)
	}
}

func TestQuitWhileRecordingSavesFirst(t *testing.T) {
	m, _ := newTestModel(t)
	m, cmd := update(t, m, key(" "))
	m, _ = update(t, m, cmd())
	time.Sleep(50 * time.Millisecond)

	m, cmd = update(t, m, key("q"))
	if !m.quitting || !m.saving {
		t.Fatal("quit while recording should save first")
	}
	m, cmd = update(t, m, cmd())
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("model did not quit after saving")
	}
}

func TestViewRenders(t *testing.T) {
	m, _ := newTestModel(t)
	if m.View() != "Initializing..." {
		t.Error("view before size should be a placeholder")
	}
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 60, Height: 24})
	view := m.View()
	for _, want := range []string{"WAVETRIM", "IDLE", "00:00.0", "no recordings yet"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestColumnPeaks(t *testing.T) {
	samples := []float32{0.1, -0.5, 0.2, 0.3, -0.9, 0.0}
	got := columnPeaks(samples, 3)
	want := []float32{0.5, 0.3, 0.9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("peaks = %v, want %v", got, want)
		}
	}
	if len(columnPeaks(nil, 4)) != 4 {
		t.Error("empty input should still give width columns")
	}
}

func TestRenderBars(t *testing.T) {
	rows := renderBars([]float32{0, 0.5, 1}, 2)
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0] != "  █" {
		t.Errorf("top row = %q", rows[0])
	}
	if rows[1] != " ██" {
		t.Errorf("bottom row = %q", rows[1])
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := formatElapsed(75*time.Second + 300*time.Millisecond); got != "01:15.3" {
		t.Errorf("got %q, want 01:15.3", got)
	}
}
