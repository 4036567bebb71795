package device

import (
	"math"
	"sync"
	"time"

	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

// An AudioSourceDevice that will never produce a frame.
//
// A minimal example of the architecture of an AudioSourceDevice, useful in testing.
type DummyAudioSourceDevice struct {
	properties   audiodevice.DeviceProperties
	shutdownOnce sync.Once
	sinkStream   chan frame.PCMFrame
}

func NewDummyAudioSourceDevice(properties audiodevice.DeviceProperties) *DummyAudioSourceDevice {
	return &DummyAudioSourceDevice{
		properties: properties,
		sinkStream: make(chan frame.PCMFrame),
	}
}

func (d *DummyAudioSourceDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}

func (d *DummyAudioSourceDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *DummyAudioSourceDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// An AudioSinkDevice that consumes all frames without any further actions.
//
// A minimal example of the architecture of an AudioSinkDevice, useful in testing.
type DummyAudioSinkDevice struct {
	properties   audiodevice.DeviceProperties
	sourceStream <-chan frame.PCMFrame
	done         chan struct{}
}

func NewDummyAudioSinkDevice(properties audiodevice.DeviceProperties) *DummyAudioSinkDevice {
	return &DummyAudioSinkDevice{
		properties: properties,
		done:       make(chan struct{}),
	}
}

func (d *DummyAudioSinkDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	d.sourceStream = sourceStream
	go func() {
		defer close(d.done)
		for range sourceStream {
		}
	}()
}

// Closed once the source stream has been drained.
func (d *DummyAudioSinkDevice) Done() <-chan struct{} {
	return d.done
}

func (d *DummyAudioSinkDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// --------------------------------------------------------------------------------
// SineAudioSourceDevice

// An AudioSourceDevice producing a sine tone on every channel, paced in real time.
//
// Stands in for a microphone when no hardware is available.
type SineAudioSourceDevice struct {
	properties    audiodevice.DeviceProperties
	frequency     float64
	amplitude     float64
	frameDuration time.Duration

	shutdownOnce sync.Once
	stop         chan struct{}
	sinkStream   chan frame.PCMFrame
}

// Create and start a sine source. Frames of frameDuration are sent every frameDuration
// until Close is called.
func NewSineAudioSourceDevice(
	properties audiodevice.DeviceProperties,
	frequency float64,
	amplitude float64,
	frameDuration time.Duration,
) *SineAudioSourceDevice {
	d := &SineAudioSourceDevice{
		properties:    properties,
		frequency:     frequency,
		amplitude:     amplitude,
		frameDuration: frameDuration,
		stop:          make(chan struct{}),
		sinkStream:    make(chan frame.PCMFrame),
	}
	go d.generate()
	return d
}

func (d *SineAudioSourceDevice) generate() {
	defer close(d.sinkStream)

	framesPerChunk := max(d.properties.DurationToFrames(d.frameDuration), 1)
	step := 2 * math.Pi * d.frequency / float64(d.properties.SampleRate)
	var n int

	ticker := time.NewTicker(d.frameDuration)
	defer ticker.Stop()
	for {
		pcmFrame := make(frame.PCMFrame, framesPerChunk*d.properties.NumChannels)
		for i := range framesPerChunk {
			v := float32(d.amplitude * math.Sin(step*float64(n)))
			n++
			for c := range d.properties.NumChannels {
				pcmFrame[i*d.properties.NumChannels+c] = v
			}
		}

		select {
		case <-ticker.C:
		case <-d.stop:
			return
		}
		select {
		case d.sinkStream <- pcmFrame:
		case <-d.stop:
			return
		}
	}
}

func (d *SineAudioSourceDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.stop)
	})
}

func (d *SineAudioSourceDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *SineAudioSourceDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
