// Package session holds the state of one editing session: the current audio
// buffer, its selection, and any running recording or playback.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hmcalister/wavetrim/internal/audioapi"
	"github.com/hmcalister/wavetrim/internal/config"
	"github.com/hmcalister/wavetrim/internal/filename"
	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/audiodevice/device"
	"github.com/hmcalister/wavetrim/pkg/audiofile"
	"github.com/hmcalister/wavetrim/pkg/processing"
	"github.com/hmcalister/wavetrim/pkg/selection"
)

// Anything that can report the current recording settings, e.g. *config.Store.
type SettingsSource interface {
	Settings() config.RecordingSettings
}

// A Session owns the current AudioBuffer and everything derived from it.
//
// The buffer is replaced wholesale by a finished recording or a file load,
// which resets the selection and stops playback. All methods are safe for
// concurrent use.
type Session struct {
	logger *slog.Logger
	uuid   uuid.UUID

	api       audioapi.AudioIODeviceAPI
	settings  SettingsSource
	generator *filename.Generator
	processor *processing.Processor

	// Overridable in tests.
	now func() time.Time

	mu         sync.Mutex
	buffer     *audiobuffer.AudioBuffer
	sourcePath string
	selection  *selection.Model
	recording  *recording
	playback   *playback

	playbackGainDb float64
}

// A running capture: source device -> fan-out -> waveform buffer (+ monitors).
type recording struct {
	device   audioapi.AudioIODevice
	source   audiodevice.AudioSourceDevice
	fanOut   *device.FanOutDevice
	waveform *audiobuffer.WaveformBuffer
	started  time.Time
}

func New(api audioapi.AudioIODeviceAPI, settings SettingsSource) *Session {
	uuid := uuid.New()
	logger := slog.Default().With(
		"session uuid", uuid,
	)
	return &Session{
		logger:    logger,
		uuid:      uuid,
		api:       api,
		settings:  settings,
		generator: filename.NewGenerator(),
		processor: processing.NewProcessor(logger),
		now:       time.Now,
		selection: selection.NewModel(0),
	}
}

// Register a callback invoked whenever processing for a save clips samples.
func (s *Session) OnClip(f func(processing.ClippingWarning)) {
	s.processor.OnClip = f
}

// --------------------------------------------------------------------------------
// Buffer

// The current buffer, or ErrNoBuffer.
func (s *Session) Buffer() (audiobuffer.AudioBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		return audiobuffer.AudioBuffer{}, ErrNoBuffer
	}
	return *s.buffer, nil
}

// Path of the file the current buffer was loaded from or last saved to.
func (s *Session) SourcePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourcePath
}

// Replace the buffer. Caller holds s.mu.
func (s *Session) setBufferLocked(b audiobuffer.AudioBuffer, sourcePath string) {
	s.stopPlaybackLocked()
	s.buffer = &b
	s.sourcePath = sourcePath
	s.selection = selection.NewModel(b.NumFrames())
}

// Load an audio file as the current buffer. On error nothing changes.
func (s *Session) Load(path string) (audiobuffer.AudioBuffer, error) {
	b, err := audiofile.Load(path)
	if err != nil {
		s.logger.Error("could not load file", "path", path, "err", err)
		return audiobuffer.AudioBuffer{}, &LoadError{Path: path, Err: err}
	}
	if b.IsEmpty() {
		s.logger.Error("loaded file has no audio", "path", path)
		return audiobuffer.AudioBuffer{}, &LoadError{Path: path, Err: ErrNoBuffer}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBufferLocked(b, path)
	s.logger.Info("loaded file",
		"path", path,
		"frames", b.NumFrames(),
		"duration", b.Duration(),
		"sampleRate", b.Properties.SampleRate,
		"channels", b.Properties.NumChannels,
	)
	return b, nil
}

// --------------------------------------------------------------------------------
// Recording

// Open ioDevice and start capturing into a fresh waveform buffer.
//
// The current buffer is untouched until StopRecording.
func (s *Session) StartRecording(ioDevice audioapi.AudioIODevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording != nil {
		return ErrAlreadyRecording
	}
	s.stopPlaybackLocked()

	source, err := s.api.InitCaptureDevice(ioDevice)
	if err != nil {
		s.logger.Error("could not open capture device", "device", ioDevice.Name, "err", err)
		return &DeviceError{Device: ioDevice.Name, Err: err}
	}

	properties := source.GetDeviceProperties()
	waveform := audiobuffer.NewWaveformBuffer(properties)
	fanOut := device.NewFanOutDevice(properties)
	waveform.SetStream(fanOut.GetStream())
	fanOut.SetStream(source.GetStream())

	s.recording = &recording{
		device:   ioDevice,
		source:   source,
		fanOut:   fanOut,
		waveform: waveform,
		started:  s.now(),
	}
	s.logger.Info("recording started",
		"device", ioDevice.Name,
		"kind", ioDevice.Kind,
		"sampleRate", properties.SampleRate,
		"channels", properties.NumChannels,
	)
	return nil
}

func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording != nil
}

// The live buffer of the running recording, for display. Nil when not recording.
func (s *Session) Waveform() *audiobuffer.WaveformBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording == nil {
		return nil
	}
	return s.recording.waveform
}

// Time since the running recording started. Zero when not recording.
func (s *Session) RecordingElapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording == nil {
		return 0
	}
	return s.now().Sub(s.recording.started)
}

// Feed a lossy copy of the running capture to sink, e.g. speakers for monitoring.
// The sink's stream closes when the recording stops.
func (s *Session) AddMonitor(sink audiodevice.AudioSinkDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording == nil {
		return ErrNotRecording
	}
	sink.SetStream(s.recording.fanOut.GetLossyStream())
	return nil
}

// Stop the running recording and make the captured audio the current buffer.
//
// If nothing was captured ErrEmptyRecording is returned and the previous buffer is kept.
func (s *Session) StopRecording() (audiobuffer.AudioBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording == nil {
		return audiobuffer.AudioBuffer{}, ErrNotRecording
	}
	rec := s.recording
	s.recording = nil

	rec.source.Close()
	<-rec.waveform.Done()
	captured := rec.waveform.Snapshot()

	s.logger.Info("recording stopped",
		"device", rec.device.Name,
		"frames", captured.NumFrames(),
		"duration", captured.Duration(),
	)
	if captured.IsEmpty() {
		return audiobuffer.AudioBuffer{}, ErrEmptyRecording
	}
	s.setBufferLocked(captured, "")
	return captured, nil
}

// Process the current buffer with the recording settings (normalize or gain, then
// clip) and write it to a new file in the save directory.
//
// On success the processed audio becomes the current buffer and its file the
// source path. On failure the buffer is kept so the save can be retried.
func (s *Session) SaveRecording() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		return "", ErrNoBuffer
	}

	settings := s.settings.Settings()
	if settings.SaveDir == "" {
		settings.SaveDir = "."
	}
	template := settings.Template()
	template.Dir = settings.EnsureSaveDir()

	name, err := s.generator.Generate(template, s.now())
	if err != nil {
		return "", &SaveError{Err: err}
	}
	path := filepath.Join(template.Dir, name)

	prepared := s.processor.PrepareForSave(*s.buffer, settings.Normalize, settings.GainDb)
	if err := audiofile.SaveWAV(path, prepared, bitDepthOrDefault(settings.BitDepth)); err != nil {
		s.generator.Release(path)
		s.logger.Error("could not save recording", "path", path, "err", err)
		return "", &SaveError{Path: path, Err: err}
	}

	s.setBufferLocked(prepared, path)
	s.logger.Info("recording saved", "path", path)
	return path, nil
}

// --------------------------------------------------------------------------------
// Selection and trim

func (s *Session) Selection() selection.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Selection()
}

// Selection handle positions as ratios of the buffer length.
func (s *Session) SelectionRatios() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Ratios()
}

// Select frames [start, end). A changed selection stops playback.
func (s *Session) Select(start, end int) (selection.Selection, error) {
	return s.updateSelection(func(m *selection.Model) (selection.Selection, error) {
		return m.SetRange(start, end)
	})
}

func (s *Session) SelectRatios(startRatio, endRatio float64) (selection.Selection, error) {
	return s.updateSelection(func(m *selection.Model) (selection.Selection, error) {
		return m.SetRatios(startRatio, endRatio)
	})
}

// Select by time. A non-positive end selects through the end of the buffer.
func (s *Session) SelectTimes(start, end time.Duration) (selection.Selection, error) {
	s.mu.Lock()
	if s.buffer == nil {
		s.mu.Unlock()
		return selection.Selection{}, ErrNoBuffer
	}
	properties := s.buffer.Properties
	s.mu.Unlock()

	return s.updateSelection(func(m *selection.Model) (selection.Selection, error) {
		return m.SetTimes(start, end, properties)
	})
}

func (s *Session) updateSelection(set func(*selection.Model) (selection.Selection, error)) (selection.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		return selection.Selection{}, ErrNoBuffer
	}

	previous := s.selection.Selection()
	sel, err := set(s.selection)
	if err != nil {
		s.logger.Warn("selection rejected", "err", err)
		return sel, err
	}
	if sel != previous {
		s.stopPlaybackLocked()
	}
	return sel, nil
}

// A copy of the selected region of the current buffer.
func (s *Session) Trim() (audiobuffer.AudioBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		return audiobuffer.AudioBuffer{}, ErrNoBuffer
	}
	return selection.Extract(*s.buffer, s.selection.Selection())
}

// How SaveTrim processes and places the trimmed audio.
// The zero value writes the raw selection next to the source file.
type SaveOptions struct {
	// Destination path. Empty means "<stem>_<Tag>.wav" beside the source file.
	Path string
	// Defaults to "trimmed".
	Tag string

	Normalize bool
	GainDb    float64
	BitDepth  int
}

// Write the selected region to a file. Returns the path written.
func (s *Session) SaveTrim(opts SaveOptions) (string, error) {
	trimmed, err := s.Trim()
	if err != nil {
		return "", err
	}

	path := opts.Path
	if path == "" {
		sourcePath := s.SourcePath()
		if sourcePath == "" {
			return "", ErrNoSourceFile
		}
		tag := opts.Tag
		if tag == "" {
			tag = filename.TrimmedTag
		}
		path, err = s.generator.Derived(sourcePath, tag)
		if err != nil {
			return "", &SaveError{Err: err}
		}
	}

	switch {
	case opts.Normalize:
		if trimmed, err = s.processor.Normalize(trimmed); err != nil {
			if opts.Path == "" {
				s.generator.Release(path)
			}
			return "", &SaveError{Path: path, Err: err}
		}
	case opts.GainDb != 0:
		trimmed = s.processor.ApplyGain(trimmed, opts.GainDb)
	}

	bitDepth := opts.BitDepth
	if bitDepth == 0 {
		bitDepth = bitDepthOrDefault(s.settings.Settings().BitDepth)
	}
	if err := audiofile.SaveWAV(path, trimmed, bitDepth); err != nil {
		if opts.Path == "" {
			s.generator.Release(path)
		}
		s.logger.Error("could not save trim", "path", path, "err", err)
		return "", &SaveError{Path: path, Err: err}
	}
	s.logger.Info("trim saved", "path", path, "frames", trimmed.NumFrames())
	return path, nil
}

// Close stops any recording or playback. The session must not be used afterwards.
func (s *Session) Close() error {
	var errs []error
	if s.IsRecording() {
		if _, err := s.StopRecording(); err != nil && !errors.Is(err, ErrEmptyRecording) {
			errs = append(errs, err)
		}
	}
	s.StopPlayback()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

func bitDepthOrDefault(bitDepth int) int {
	if bitDepth == 0 {
		return audiofile.DefaultBitDepth
	}
	return bitDepth
}
