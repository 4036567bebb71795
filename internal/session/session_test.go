package session

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hmcalister/wavetrim/internal/audioapi"
	"github.com/hmcalister/wavetrim/internal/config"
	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/audiofile"
	"github.com/hmcalister/wavetrim/pkg/processing"
)

var stereo48k = audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 2}

type staticSettings config.RecordingSettings

func (s staticSettings) Settings() config.RecordingSettings {
	return config.RecordingSettings(s)
}

func newTestSession(t *testing.T, settings config.RecordingSettings) (*Session, *audioapi.DummyAudioIODeviceAPI) {
	t.Helper()
	api := audioapi.NewDummyAudioIODeviceAPI(stereo48k)
	s := New(api, staticSettings(settings))
	s.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { s.Close() })
	return s, api
}

func defaultSettings(dir string) config.RecordingSettings {
	return config.RecordingSettings{
		SaveDir:    dir,
		Prefix:     "take",
		DateFormat: "%Y-%m-%d",
		Normalize:  true,
		BitDepth:   16,
	}
}

// Write a mono ramp of numFrames to dir/name and return the path.
func writeRamp(t *testing.T, dir, name string, numFrames int) string {
	t.Helper()
	samples := make([]float32, numFrames)
	for i := range samples {
		samples[i] = float32(i%100) / 200
	}
	b, err := audiobuffer.New(audiodevice.DeviceProperties{SampleRate: 1000, NumChannels: 1}, samples)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := audiofile.SaveWAV(path, b, 16); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordStopSave(t *testing.T) {
	dir := t.TempDir()
	s, api := newTestSession(t, defaultSettings(dir))

	ioDevice, err := api.DefaultCaptureDevice()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartRecording(ioDevice); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := s.StartRecording(ioDevice); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second start err = %v, want ErrAlreadyRecording", err)
	}
	waitFor(t, func() bool { return s.Waveform().NumFrames() >= 4800 })

	recorded, err := s.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if recorded.NumFrames() < 4800 {
		t.Errorf("recorded %d frames, want at least 4800", recorded.NumFrames())
	}
	if s.IsRecording() || s.Waveform() != nil {
		t.Error("session still recording")
	}

	path, err := s.SaveRecording()
	if err != nil {
		t.Fatalf("SaveRecording: %v", err)
	}
	if want := filepath.Join(dir, "take_2024-01-01.wav"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if s.SourcePath() != path {
		t.Errorf("source path = %q, want %q", s.SourcePath(), path)
	}

	saved, err := audiofile.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantPeak := processing.DbToLinear(processing.DefaultNormalizeTargetDb)
	if math.Abs(saved.Peak()-wantPeak) > 1e-3 {
		t.Errorf("saved peak = %v, want %v", saved.Peak(), wantPeak)
	}

	// Same instant, so the second save gets a counter.
	second, err := s.SaveRecording()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "take_2024-01-01_1.wav"); second != want {
		t.Errorf("second path = %q, want %q", second, want)
	}
}

func TestStopWithoutRecording(t *testing.T) {
	s, _ := newTestSession(t, defaultSettings(t.TempDir()))
	if _, err := s.StopRecording(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("err = %v, want ErrNotRecording", err)
	}
	if err := s.AddMonitor(nil); !errors.Is(err, ErrNotRecording) {
		t.Errorf("AddMonitor err = %v, want ErrNotRecording", err)
	}
}

func TestDeviceFailureDoesNotStartRecording(t *testing.T) {
	s, api := newTestSession(t, defaultSettings(t.TempDir()))
	boom := errors.New("device unplugged")
	api.FailCapture = boom

	err := s.StartRecording(audioapi.AudioIODevice{ID: "dummy-input", Name: "DummyInput"})
	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) {
		t.Fatalf("err = %v, want DeviceError", err)
	}
	if deviceErr.Device != "DummyInput" || !errors.Is(err, boom) {
		t.Errorf("device error = %v", deviceErr)
	}
	if s.IsRecording() {
		t.Error("recording started despite device failure")
	}
}

func TestSaveFailureKeepsBuffer(t *testing.T) {
	dir := t.TempDir()
	settings := defaultSettings(dir)
	settings.BitDepth = 12
	s, _ := newTestSession(t, settings)

	src := writeRamp(t, dir, "src.wav", 1000)
	if _, err := s.Load(src); err != nil {
		t.Fatal(err)
	}

	_, err := s.SaveRecording()
	var saveErr *SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("err = %v, want SaveError", err)
	}
	b, err := s.Buffer()
	if err != nil || b.NumFrames() != 1000 {
		t.Errorf("buffer lost after failed save: %v", err)
	}
	if s.SourcePath() != src {
		t.Errorf("source path changed to %q", s.SourcePath())
	}

	// The retry gets the name the failed save would have used.
	settings.BitDepth = 16
	s.settings = staticSettings(settings)
	path, err := s.SaveRecording()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "take_2024-01-01.wav"); path != want {
		t.Errorf("retry path = %q, want %q", path, want)
	}
}

func TestSaveFallsBackToWorkingDirectory(t *testing.T) {
	cwd := t.TempDir()
	t.Chdir(cwd)

	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestSession(t, defaultSettings(filepath.Join(blocker, "recordings")))
	if _, err := s.Load(writeRamp(t, dir, "src.wav", 1000)); err != nil {
		t.Fatal(err)
	}

	path, err := s.SaveRecording()
	if err != nil {
		t.Fatalf("SaveRecording: %v", err)
	}
	wd, _ := os.Getwd()
	if want := filepath.Join(wd, "take_2024-01-01.wav"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("saved file missing: %v", err)
	}
}

func TestLoadErrorLeavesStateUnchanged(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSession(t, defaultSettings(dir))

	src := writeRamp(t, dir, "src.wav", 1000)
	if _, err := s.Load(src); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Select(10, 20); err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(bad, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{bad, filepath.Join(dir, "missing.wav")} {
		_, err := s.Load(path)
		var loadErr *LoadError
		if !errors.As(err, &loadErr) || loadErr.Path != path {
			t.Errorf("Load(%s) err = %v, want LoadError", path, err)
		}
	}

	if s.SourcePath() != src {
		t.Errorf("source path = %q, want %q", s.SourcePath(), src)
	}
	if sel := s.Selection(); sel.Start != 10 || sel.End != 20 {
		t.Errorf("selection = %v, want [10, 20)", sel)
	}
}

func TestOperationsWithoutBuffer(t *testing.T) {
	s, _ := newTestSession(t, defaultSettings(t.TempDir()))
	if _, err := s.Buffer(); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("Buffer err = %v", err)
	}
	if _, err := s.SaveRecording(); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("SaveRecording err = %v", err)
	}
	if _, err := s.Trim(); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("Trim err = %v", err)
	}
	if _, err := s.Select(0, 1); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("Select err = %v", err)
	}
	if _, err := s.SelectTimes(0, time.Second); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("SelectTimes err = %v", err)
	}
	if _, err := s.Play(context.Background(), false); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("Play err = %v", err)
	}
}

func TestSelectTrimAndSaveTrim(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSession(t, defaultSettings(dir))
	src := writeRamp(t, dir, "voice.wav", 1000)
	b, err := s.Load(src)
	if err != nil {
		t.Fatal(err)
	}

	if sel := s.Selection(); sel.Start != 0 || sel.End != 1000 {
		t.Errorf("initial selection = %v, want whole buffer", sel)
	}

	if _, err := s.Select(300, 100); err == nil {
		t.Error("inverted selection accepted")
	}
	if _, err := s.Select(100, 300); err != nil {
		t.Fatal(err)
	}

	trimmed, err := s.Trim()
	if err != nil {
		t.Fatal(err)
	}
	if trimmed.NumFrames() != 200 {
		t.Errorf("trimmed %d frames, want 200", trimmed.NumFrames())
	}
	if trimmed.Samples[0] != b.Samples[100] {
		t.Error("trim does not start at selection start")
	}

	first, err := s.SaveTrim(SaveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.SaveTrim(SaveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first != filepath.Join(dir, "voice_trimmed.wav") || second != filepath.Join(dir, "voice_trimmed_1.wav") {
		t.Errorf("trim paths = %q, %q", first, second)
	}

	saved, err := audiofile.Load(first)
	if err != nil {
		t.Fatal(err)
	}
	if saved.NumFrames() != 200 {
		t.Errorf("saved trim has %d frames, want 200", saved.NumFrames())
	}

	out := filepath.Join(dir, "loud.wav")
	if _, err := s.SaveTrim(SaveOptions{Path: out, Normalize: true}); err != nil {
		t.Fatal(err)
	}
	loud, err := audiofile.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loud.Peak()-processing.DbToLinear(-1)) > 1e-3 {
		t.Errorf("normalized trim peak = %v", loud.Peak())
	}
}

func TestSelectTimesAndRatios(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSession(t, defaultSettings(dir))
	if _, err := s.Load(writeRamp(t, dir, "a.wav", 1000)); err != nil {
		t.Fatal(err)
	}

	sel, err := s.SelectTimes(250*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Start != 250 || sel.End != 1000 {
		t.Errorf("selection = %v, want [250, 1000)", sel)
	}

	sel, err = s.SelectRatios(0.1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Start != 100 || sel.End != 500 {
		t.Errorf("selection = %v, want [100, 500)", sel)
	}
	if start, end := s.SelectionRatios(); start != 0.1 || end != 0.5 {
		t.Errorf("ratios = %v, %v", start, end)
	}
}

func TestSaveTrimNeedsSourceFile(t *testing.T) {
	s, api := newTestSession(t, defaultSettings(t.TempDir()))
	ioDevice, _ := api.DefaultCaptureDevice()
	if err := s.StartRecording(ioDevice); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return s.Waveform().NumFrames() > 0 })
	if _, err := s.StopRecording(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.SaveTrim(SaveOptions{}); !errors.Is(err, ErrNoSourceFile) {
		t.Errorf("err = %v, want ErrNoSourceFile", err)
	}
}

func TestPlaybackRunsToEnd(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSession(t, defaultSettings(dir))
	if _, err := s.Load(writeRamp(t, dir, "a.wav", 1000)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Select(0, 50); err != nil {
		t.Fatal(err)
	}

	done, err := s.Play(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
	}
	if s.Playing() {
		t.Error("still playing after done")
	}
	if s.PlayheadRatio() != -1 {
		t.Errorf("playhead = %v, want -1 when stopped", s.PlayheadRatio())
	}
}

func TestLoopingPlaybackStops(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSession(t, defaultSettings(dir))
	if _, err := s.Load(writeRamp(t, dir, "a.wav", 1000)); err != nil {
		t.Fatal(err)
	}

	done, err := s.Play(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Playing() {
		t.Fatal("not playing")
	}
	if r := s.PlayheadRatio(); r < 0 || r > 1 {
		t.Errorf("playhead = %v, want within [0, 1]", r)
	}

	// Changing the selection stops playback.
	if _, err := s.Select(0, 500); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not stop")
	}
	if s.Playing() {
		t.Error("still playing")
	}
}

func TestPlaybackGainLeavesBufferUnchanged(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSession(t, defaultSettings(dir))
	loaded, err := s.Load(writeRamp(t, dir, "a.wav", 1000))
	if err != nil {
		t.Fatal(err)
	}

	s.SetPlaybackGain(-6)
	if _, err := s.Play(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return s.PlaybackLevel() > 0 })
	// The ramp peaks just under 0.5, so -6 dB keeps the monitor under 0.25.
	if level := s.PlaybackLevel(); level > 0.25 {
		t.Errorf("playback level = %v, want <= 0.25", level)
	}
	s.StopPlayback()
	if s.PlaybackLevel() != 0 {
		t.Error("level should read 0 when idle")
	}

	b, _ := s.Buffer()
	if b.Peak() != loaded.Peak() {
		t.Errorf("buffer peak changed from %v to %v", loaded.Peak(), b.Peak())
	}
}

func TestSaveTrimWithTag(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSession(t, defaultSettings(dir))
	if _, err := s.Load(writeRamp(t, dir, "voice.wav", 1000)); err != nil {
		t.Fatal(err)
	}

	path, err := s.SaveTrim(SaveOptions{Tag: "normalized", Normalize: true})
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "voice_normalized.wav") {
		t.Errorf("path = %q", path)
	}
	saved, err := audiofile.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(saved.Peak()-processing.DbToLinear(-1)) > 1e-3 {
		t.Errorf("peak = %v, want -1 dBFS", saved.Peak())
	}
}

func TestFailedSaveTrimReleasesName(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSession(t, defaultSettings(dir))
	if _, err := s.Load(writeRamp(t, dir, "voice.wav", 1000)); err != nil {
		t.Fatal(err)
	}

	if _, err := s.SaveTrim(SaveOptions{BitDepth: 12}); err == nil {
		t.Fatal("expected bit depth error")
	}
	path, err := s.SaveTrim(SaveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "voice_trimmed.wav") {
		t.Errorf("path = %q, want voice_trimmed.wav", path)
	}
}
