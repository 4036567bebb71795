package device

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

// Middle-man processing device to handle audio augmentations,
// such as monitor gain and level metering.
// This device is both a sink and a source!
type AudioAugmentationDevice struct {
	deviceProperties audiodevice.DeviceProperties

	// The stream that data *arrives on*
	// i.e. the stream that acts like a source, as it produces frames
	sourceStream <-chan frame.PCMFrame

	// The stream that data *leaves on*
	// i.e. the stream that acts like a sink, as it consumes frames
	sinkStream chan frame.PCMFrame

	augmentationFunctions []audioAugmentationFunction

	// float32 bits, so both can be read and set from any goroutine.
	gainMultiplier atomic.Uint32
	level          atomic.Uint32

	shutdownOnce sync.Once
}

// Create a new AudioAugmentationDevice, automatically adding
// audioAugmentationFunctions:
//   - gainAdjust (controlled with AudioAugmentationDevice.SetGainDb)
//   - hardClip, keeping every sample in [-1, 1]
//   - levelMeter (read with AudioAugmentationDevice.Level)
//
// Note one must still call SetStream, passing in the source channel,
// and GetStream, to receive the sink channel, to use this device, in an
// effort to remain consistent with the device interfaces.
//
// This device will only start processing once SetStream is called.
func NewAudioAugmentationDevice(deviceProperties audiodevice.DeviceProperties) *AudioAugmentationDevice {
	device := &AudioAugmentationDevice{
		deviceProperties: deviceProperties,
		sinkStream:       make(chan frame.PCMFrame),
	}
	device.gainMultiplier.Store(math.Float32bits(1.0))

	device.augmentationFunctions = []audioAugmentationFunction{
		device.gainAdjust,
		hardClip,
		device.levelMeter,
	}
	return device
}

// --------------------------------------------------------------------------------
// AudioSourceDevice Interface

// Get the source stream of this audio device.
// Raw audio data (as PCMFrames) will arrive on the returned channel.
func (d *AudioAugmentationDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

// Meaningfully close the AudioSourceDevice, including any cleanup of
// memory and closing of channels.
//
// Only the goroutine started by SetStream may close a device that has a source,
// so call Close only on devices whose SetStream was never called.
func (d *AudioAugmentationDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}

// The device properties of the incoming and outgoing PCMFrames are identical,
// so this serves as both Source and Sink Device Properties
func (d *AudioAugmentationDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.deviceProperties
}

// --------------------------------------------------------------------------------
// AudioSinkDevice Interface

// Set the source channel of this audio device, i.e. where data comes from.
// Raw audio data (as PCMFrames) will arrive on the given channel.
//
// When this stream is closed, the sink stream is closed too.
func (d *AudioAugmentationDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	d.sourceStream = sourceStream
	go func() {
		for pcmFrame := range d.sourceStream {
			for _, f := range d.augmentationFunctions {
				pcmFrame = f(pcmFrame)
			}
			d.sinkStream <- pcmFrame
		}
		d.Close()
	}()
}

// --------------------------------------------------------------------------------
// Methods relating to changing the augmentation functions

// Set the gain applied to every frame, in decibels. 0 dB leaves audio unchanged.
func (d *AudioAugmentationDevice) SetGainDb(gainDb float64) {
	d.SetGainMultiplier(float32(math.Pow(10, gainDb/20)))
}

// Set the linear gain applied to every frame. Must be non-negative; 0.0 mutes.
func (d *AudioAugmentationDevice) SetGainMultiplier(multiplier float32) {
	if multiplier < 0.0 {
		multiplier = 0.0
	}
	d.gainMultiplier.Store(math.Float32bits(multiplier))
}

func (d *AudioAugmentationDevice) GainMultiplier() float32 {
	return math.Float32frombits(d.gainMultiplier.Load())
}

// Peak absolute sample value of the most recent frame, after gain, in [0, 1].
func (d *AudioAugmentationDevice) Level() float32 {
	return math.Float32frombits(d.level.Load())
}

// --------------------------------------------------------------------------------

// There is an expectation that an audioAugmentationFunction will produce
// PCMFrames with the same device properties as what is given in sourceFrame
//
// In fact, for many audioAugmentationFunctions, the returned PCMFrame
// is the exact same underlying memory in an effort to avoid reallocations.
type audioAugmentationFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

func (d *AudioAugmentationDevice) gainAdjust(sourceFrame frame.PCMFrame) frame.PCMFrame {
	multiplier := d.GainMultiplier()
	if multiplier == 1.0 {
		return sourceFrame
	}
	for i := range sourceFrame {
		sourceFrame[i] *= multiplier
	}
	return sourceFrame
}

func hardClip(sourceFrame frame.PCMFrame) frame.PCMFrame {
	for i, v := range sourceFrame {
		sourceFrame[i] = max(-1, min(1, v))
	}
	return sourceFrame
}

func (d *AudioAugmentationDevice) levelMeter(sourceFrame frame.PCMFrame) frame.PCMFrame {
	var peak float32
	for _, v := range sourceFrame {
		peak = max(peak, float32(math.Abs(float64(v))))
	}
	d.level.Store(math.Float32bits(peak))
	return sourceFrame
}
