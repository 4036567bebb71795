package audiodevice

import (
	"time"

	"github.com/hmcalister/wavetrim/pkg/frame"
)

type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// The duration of numFrames sample frames at these properties.
func (p DeviceProperties) FramesToDuration(numFrames int) time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(numFrames) * time.Second / time.Duration(p.SampleRate)
}

// The number of whole sample frames in d, rounded down.
func (p DeviceProperties) DurationToFrames(d time.Duration) int {
	return int(int64(d) * int64(p.SampleRate) / int64(time.Second))
}

// Interface for audio source devices, e.g. a microphone, a loopback endpoint,
// or an in-memory buffer being played back.
//
// Source devices need only define some way to get data out of the device,
// which returns a channel (stream) of PCMFrames
type AudioSourceDevice interface {
	// Get the stream of this audio device.
	//
	// Raw audio data (as PCMFrames) will arrive on the returned channel.
	GetStream() <-chan frame.PCMFrame

	// Meaningfully close the AudioSourceDevice, including any cleanup of
	// memory and closing of channels.
	//
	// It is assumed that once closed, this device will transmit no more information.
	Close()

	GetDeviceProperties() DeviceProperties
}

// Interface for audio sink devices, e.g. speakers or the recording buffer.
//
// Sink devices need only define some way to consume data,
// taken as a channel (stream) of PCMFrames
type AudioSinkDevice interface {
	// Set the source stream of this audio device.
	//
	// Raw audio data (as PCMFrames) will arrive on the given channel.
	//
	// When this stream is closed, it is assumed the device will be cleaned up
	// (memory will be freed, other channels will be closed, etc)
	SetStream(sourceStream <-chan frame.PCMFrame)

	GetDeviceProperties() DeviceProperties

	// Sinks have no Close. Closing a sink that is still receiving would leave
	// the upstream source sending on a dead stream, so a sink closes itself
	// when its source stream is closed, cascading down the pipeline.
}
