package audiobuffer

import (
	"errors"
	"math"
	"time"

	"github.com/hmcalister/wavetrim/pkg/audiodevice"
)

var (
	errInvalidProperties = errors.New("sample rate and channel count must be positive")
	errRaggedSamples     = errors.New("sample count is not a multiple of the channel count")
)

// An AudioBuffer is an in-memory recording or decoded file.
//
// Samples are interleaved float32 at full scale [-1, 1]. Lengths and indices
// exposed by this package are counted in frames, one sample per channel.
type AudioBuffer struct {
	Properties audiodevice.DeviceProperties
	Samples    []float32
}

// Wrap samples in an AudioBuffer, checking the samples fit the channel layout.
// The samples are not copied.
func New(properties audiodevice.DeviceProperties, samples []float32) (AudioBuffer, error) {
	if properties.SampleRate <= 0 || properties.NumChannels <= 0 {
		return AudioBuffer{}, errInvalidProperties
	}
	if len(samples)%properties.NumChannels != 0 {
		return AudioBuffer{}, errRaggedSamples
	}
	return AudioBuffer{Properties: properties, Samples: samples}, nil
}

// Allocate a silent buffer of numFrames frames.
func NewSilent(properties audiodevice.DeviceProperties, numFrames int) AudioBuffer {
	return AudioBuffer{
		Properties: properties,
		Samples:    make([]float32, numFrames*properties.NumChannels),
	}
}

func (b AudioBuffer) NumFrames() int {
	if b.Properties.NumChannels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Properties.NumChannels
}

func (b AudioBuffer) IsEmpty() bool {
	return len(b.Samples) == 0
}

func (b AudioBuffer) Duration() time.Duration {
	return b.Properties.FramesToDuration(b.NumFrames())
}

// Deep copy of the buffer.
func (b AudioBuffer) Clone() AudioBuffer {
	samples := make([]float32, len(b.Samples))
	copy(samples, b.Samples)
	return AudioBuffer{Properties: b.Properties, Samples: samples}
}

// Largest absolute sample value over all channels.
func (b AudioBuffer) Peak() float64 {
	var peak float64
	for _, s := range b.Samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

// Frames [start, end) as a slice view into the underlying samples.
// Callers must have checked the bounds.
func (b AudioBuffer) frameSlice(start, end int) []float32 {
	n := b.Properties.NumChannels
	return b.Samples[start*n : end*n]
}

// Copy of frames [start, end). Panics if the range is out of bounds, like slicing.
func (b AudioBuffer) CopyFrames(start, end int) AudioBuffer {
	src := b.frameSlice(start, end)
	samples := make([]float32, len(src))
	copy(samples, src)
	return AudioBuffer{Properties: b.Properties, Samples: samples}
}

// Mono mix of frame i, the mean over channels.
func (b AudioBuffer) MonoAt(i int) float32 {
	n := b.Properties.NumChannels
	var sum float32
	for _, s := range b.Samples[i*n : (i+1)*n] {
		sum += s
	}
	return sum / float32(n)
}
