package audiobuffer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

// A WaveformBuffer accumulates captured frames while a recording is running.
//
// Frames arrive from the capture driver (via SetStream, on its own goroutine) while the
// UI reads the tail for live display, so every access goes through a mutex. Appends
// never tear a read: readers see either all or none of a frame.
//
// A WaveformBuffer is an AudioSinkDevice. When the source stream closes the buffer
// stops accepting data and Done is closed.
type WaveformBuffer struct {
	logger *slog.Logger
	uuid   uuid.UUID

	properties audiodevice.DeviceProperties

	mu       sync.RWMutex
	samples  []float32
	received int

	done     chan struct{}
	doneOnce sync.Once
}

// Create an empty WaveformBuffer for frames with the given properties.
func NewWaveformBuffer(properties audiodevice.DeviceProperties) *WaveformBuffer {
	uuid := uuid.New()
	return &WaveformBuffer{
		logger: slog.Default().With(
			"waveform buffer uuid", uuid,
		),
		uuid:       uuid,
		properties: properties,
		samples:    make([]float32, 0, properties.SampleRate*properties.NumChannels),
		done:       make(chan struct{}),
	}
}

// --------------------------------------------------------------------------------
// AudioSinkDevice Interface

// Drain sourceStream into the buffer. Returns immediately.
func (w *WaveformBuffer) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		for pcmFrame := range sourceStream {
			w.Append(pcmFrame)
		}
		w.logger.Debug("source stream closed",
			"frames", w.NumFrames(),
			"chunks", w.chunks(),
		)
		w.doneOnce.Do(func() { close(w.done) })
	}()
}

func (w *WaveformBuffer) GetDeviceProperties() audiodevice.DeviceProperties {
	return w.properties
}

// --------------------------------------------------------------------------------

// Closed once the source stream has been fully drained.
func (w *WaveformBuffer) Done() <-chan struct{} {
	return w.done
}

// Append a copy of pcmFrame.
func (w *WaveformBuffer) Append(pcmFrame frame.PCMFrame) {
	w.mu.Lock()
	w.samples = append(w.samples, pcmFrame...)
	w.received++
	w.mu.Unlock()
}

func (w *WaveformBuffer) chunks() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.received
}

func (w *WaveformBuffer) NumFrames() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples) / w.properties.NumChannels
}

func (w *WaveformBuffer) Duration() time.Duration {
	return w.properties.FramesToDuration(w.NumFrames())
}

// Copy of everything captured so far. A trailing partial frame
// (possible only if a device delivered a ragged chunk) is dropped.
func (w *WaveformBuffer) Snapshot() AudioBuffer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := len(w.samples) - len(w.samples)%w.properties.NumChannels
	samples := make([]float32, n)
	copy(samples, w.samples[:n])
	return AudioBuffer{Properties: w.properties, Samples: samples}
}

// The last n frames mixed to mono, oldest first. If fewer than n frames have been
// captured the result is left-padded with silence, so the length is always n.
func (w *WaveformBuffer) Tail(n int) []float32 {
	tail := make([]float32, n)
	w.mu.RLock()
	defer w.mu.RUnlock()

	channels := w.properties.NumChannels
	available := len(w.samples) / channels
	take := min(n, available)
	first := available - take
	for i := range take {
		var sum float32
		base := (first + i) * channels
		for c := range channels {
			sum += w.samples[base+c]
		}
		tail[n-take+i] = sum / float32(channels)
	}
	return tail
}

// Peak absolute amplitude over the last n frames.
func (w *WaveformBuffer) Level(n int) float32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	start := max(0, len(w.samples)-n*w.properties.NumChannels)
	var peak float32
	for _, s := range w.samples[start:] {
		peak = max(peak, s, -s)
	}
	return peak
}

// Discard all captured data.
func (w *WaveformBuffer) Reset() {
	w.mu.Lock()
	w.samples = w.samples[:0]
	w.received = 0
	w.mu.Unlock()
}
