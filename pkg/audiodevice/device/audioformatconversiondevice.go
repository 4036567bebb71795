package device

import (
	"log/slog"
	"sync"

	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
	"github.com/oov/audio/resampler"
)

const (
	// To avoid reallocating for every source frame, buffers are reused and only grown
	// when a frame arrives that does not fit.
	//
	// 48000Hz stereo audio with a latency of 120ms is 11520 samples,
	// so 2**14 = 16384 is enough for almost anything.
	initialBufferSize int = 16384

	resampleQuality = 10
)

// Middle-man processing device to handle format mismatches
// between the source data format to the sink data format.
//
// e.g. if a recording is mono at 44.1kHz, but the speakers want stereo at 48kHz,
// this device will handle the conversion.
//
// Frames leaving this device share memory with an internal buffer that is
// overwritten by the next frame. A consumer that keeps a frame must Clone it.
//
// This device is both a sink and a source!
type AudioFormatConversionDevice struct {
	// For this device only, the naming convention for the channels is very confusing.
	// We take the convention that the source channel is the *external* source,
	// i.e. the channel data arrives on.
	//
	// Likewise, the sink channel is the *external* sink, i.e.
	// the channel data leaves on.
	//
	// GetStream returns the sink channel.
	// SetStream sets the source channel.

	// The stream that data *arrives on*
	sourceChannel    <-chan frame.PCMFrame
	sourceProperties audiodevice.DeviceProperties

	// The stream that data *leaves on*
	sinkChannel    chan frame.PCMFrame
	sinkProperties audiodevice.DeviceProperties

	// The functions to apply when processing the source data to sink format
	formatConversionFunctions []audioFormatConversionFunction

	shutdownOnce sync.Once
}

// Create a new AudioFormatConversionDevice by defining:
// - the source properties (the properties of the audio being fed into this device)
// - the sink properties (the properties of the audio leaving this device)
//
// Channel conversion happens before resampling, so the resampler only ever
// sees the sink channel count.
//
// This device will only start converting once SetStream is called.
func NewAudioFormatConversionDevice(
	sourceProperties audiodevice.DeviceProperties,
	sinkProperties audiodevice.DeviceProperties,
) *AudioFormatConversionDevice {
	formatConversionFunctions := make([]audioFormatConversionFunction, 0)

	switch {
	case sourceProperties.NumChannels == sinkProperties.NumChannels:
	case sinkProperties.NumChannels == 1:
		slog.Debug("adding downmix to mono", "sourceChannels", sourceProperties.NumChannels)
		formatConversionFunctions = append(formatConversionFunctions, downmixToMono(sourceProperties.NumChannels))
	case sourceProperties.NumChannels == 1:
		slog.Debug("adding mono upmix", "sinkChannels", sinkProperties.NumChannels)
		formatConversionFunctions = append(formatConversionFunctions, upmixMono(sinkProperties.NumChannels))
	default:
		slog.Debug("adding channel remap",
			"sourceChannels", sourceProperties.NumChannels,
			"sinkChannels", sinkProperties.NumChannels,
		)
		formatConversionFunctions = append(formatConversionFunctions,
			remapChannels(sourceProperties.NumChannels, sinkProperties.NumChannels))
	}
	if sourceProperties.SampleRate != sinkProperties.SampleRate {
		slog.Debug("adding resampler",
			"sourceSampleRate", sourceProperties.SampleRate,
			"sinkSampleRate", sinkProperties.SampleRate,
		)
		formatConversionFunctions = append(formatConversionFunctions, newResampleFunction(sourceProperties, sinkProperties))
	}

	return &AudioFormatConversionDevice{
		sourceProperties:          sourceProperties,
		sinkProperties:            sinkProperties,
		sinkChannel:               make(chan frame.PCMFrame),
		formatConversionFunctions: formatConversionFunctions,
	}
}

// --------------------------------------------------------------------------------
// AudioSourceDevice Interface

// Get the source stream of this audio device.
// Raw audio data (as PCMFrames) will arrive on the returned channel.
func (d *AudioFormatConversionDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkChannel
}

// Close the sink channel. Called automatically when the source channel closes.
func (d *AudioFormatConversionDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkChannel)
	})
}

// WARNING:
// GetDeviceProperties of the AudioFormatConversionDevice returns the
// device properties of the LEAVING data. i.e. the data that exits this device!
//
// If you need the properties of the data entering this device, call GetSourceDeviceProperties()
func (d *AudioFormatConversionDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.sinkProperties
}

// --------------------------------------------------------------------------------
// AudioSinkDevice Interface

// Set the source channel of this audio device, i.e. where data comes from.
// Raw audio data (as PCMFrames) will arrive on the given channel.
//
// When this stream is closed, the sink channel is closed too.
func (d *AudioFormatConversionDevice) SetStream(sourceChannel <-chan frame.PCMFrame) {
	d.sourceChannel = sourceChannel
	go func() {
		for pcmFrame := range d.sourceChannel {
			for _, f := range d.formatConversionFunctions {
				pcmFrame = f(pcmFrame)
			}
			if len(pcmFrame) == 0 {
				continue
			}
			d.sinkChannel <- pcmFrame
		}
		d.Close()
	}()
}

func (d *AudioFormatConversionDevice) GetSourceDeviceProperties() audiodevice.DeviceProperties {
	return d.sourceProperties
}

// --------------------------------------------------------------------------------

type audioFormatConversionFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

// Return buf if it holds at least n samples, otherwise a larger replacement.
func grow(buf frame.PCMFrame, n int) frame.PCMFrame {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make(frame.PCMFrame, n, max(n, 2*cap(buf)))
}

// Drop any trailing partial sample frame.
func wholeFrames(sourceFrame frame.PCMFrame, numChannels int) frame.PCMFrame {
	return sourceFrame[:len(sourceFrame)-len(sourceFrame)%numChannels]
}

func downmixToMono(sourceChannels int) audioFormatConversionFunction {
	buf := make(frame.PCMFrame, initialBufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		sourceFrame = wholeFrames(sourceFrame, sourceChannels)
		numFrames := len(sourceFrame) / sourceChannels
		buf = grow(buf, numFrames)
		for i := range numFrames {
			var sum float32
			for c := range sourceChannels {
				sum += sourceFrame[i*sourceChannels+c]
			}
			buf[i] = sum / float32(sourceChannels)
		}
		return buf[:numFrames]
	}
}

func upmixMono(sinkChannels int) audioFormatConversionFunction {
	buf := make(frame.PCMFrame, initialBufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		buf = grow(buf, len(sourceFrame)*sinkChannels)
		for i, v := range sourceFrame {
			for c := range sinkChannels {
				buf[i*sinkChannels+c] = v
			}
		}
		return buf[:len(sourceFrame)*sinkChannels]
	}
}

// Map between two multichannel layouts. Sink channel c takes source channel
// c, wrapping around when the source has fewer channels; extra source
// channels are dropped.
func remapChannels(sourceChannels, sinkChannels int) audioFormatConversionFunction {
	buf := make(frame.PCMFrame, initialBufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		sourceFrame = wholeFrames(sourceFrame, sourceChannels)
		numFrames := len(sourceFrame) / sourceChannels
		buf = grow(buf, numFrames*sinkChannels)
		for i := range numFrames {
			for c := range sinkChannels {
				buf[i*sinkChannels+c] = sourceFrame[i*sourceChannels+c%sourceChannels]
			}
		}
		return buf[:numFrames*sinkChannels]
	}
}

func newResampleFunction(sourceProperties audiodevice.DeviceProperties, sinkProperties audiodevice.DeviceProperties) audioFormatConversionFunction {
	numChannels := sinkProperties.NumChannels
	r := resampler.New(numChannels, sourceProperties.SampleRate, sinkProperties.SampleRate, resampleQuality)
	ratio := float64(sinkProperties.SampleRate) / float64(sourceProperties.SampleRate)

	planarSource := make([]frame.PCMFrame, numChannels)
	planarSink := make([]frame.PCMFrame, numChannels)
	buf := make(frame.PCMFrame, initialBufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		sourceFrame = wholeFrames(sourceFrame, numChannels)
		numFrames := len(sourceFrame) / numChannels
		maxWritten := int(float64(numFrames)*ratio) + 2*resampleQuality

		// Decode to planar, sourceFrame is interleaved
		for c := range numChannels {
			planarSource[c] = grow(planarSource[c], numFrames)
			planarSink[c] = grow(planarSink[c], maxWritten)
			for i := range numFrames {
				planarSource[c][i] = sourceFrame[i*numChannels+c]
			}
		}

		// Every channel is resampled by the same ratio so reports the same count.
		written := 0
		for c := range numChannels {
			_, written = r.ProcessFloat32(c, planarSource[c], planarSink[c])
		}

		// Interleave again
		buf = grow(buf, written*numChannels)
		for i := range written {
			for c := range numChannels {
				buf[i*numChannels+c] = planarSink[c][i]
			}
		}
		return buf[:written*numChannels]
	}
}
