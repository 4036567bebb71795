package audioapi

import (
	"errors"
	"time"

	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/audiodevice/device"
)

const (
	dummyToneFrequency = 440.0
	dummyToneAmplitude = 0.5
	dummyFrameDuration = 10 * time.Millisecond
)

var (
	errAPIClosed = errors.New("audio api closed")
)

// A dummy API that lists one loopback and one input device:
// - both produce a 440Hz sine tone at half amplitude, paced in real time
// - playback consumes all frames and does nothing
//
// This API is intended to be used in testing only!
type DummyAudioIODeviceAPI struct {
	properties audiodevice.DeviceProperties
	closed     bool

	// When set, InitCaptureDevice fails with this error.
	FailCapture error
}

func NewDummyAudioIODeviceAPI(properties audiodevice.DeviceProperties) *DummyAudioIODeviceAPI {
	return &DummyAudioIODeviceAPI{
		properties: properties,
	}
}

func (api *DummyAudioIODeviceAPI) CaptureDevices() ([]AudioIODevice, error) {
	if api.closed {
		return nil, errAPIClosed
	}
	return []AudioIODevice{
		{
			ID:               "dummy-loopback",
			Name:             "DummyLoopback",
			Kind:             KindLoopback,
			IsDefault:        true,
			DeviceProperties: api.properties,
		},
		{
			ID:               "dummy-input",
			Name:             "DummyInput",
			Kind:             KindInput,
			DeviceProperties: api.properties,
		},
	}, nil
}

func (api *DummyAudioIODeviceAPI) DefaultCaptureDevice() (AudioIODevice, error) {
	devices, err := api.CaptureDevices()
	if err != nil {
		return AudioIODevice{}, err
	}
	return PickDefault(devices)
}

func (api *DummyAudioIODeviceAPI) InitCaptureDevice(ioDevice AudioIODevice) (audiodevice.AudioSourceDevice, error) {
	if api.closed {
		return nil, errAPIClosed
	}
	if api.FailCapture != nil {
		return nil, api.FailCapture
	}
	if ioDevice.ID != "dummy-loopback" && ioDevice.ID != "dummy-input" {
		return nil, errNoDeviceWithID
	}
	return device.NewSineAudioSourceDevice(api.properties, dummyToneFrequency, dummyToneAmplitude, dummyFrameDuration), nil
}

func (api *DummyAudioIODeviceAPI) InitPlaybackDevice(properties audiodevice.DeviceProperties) (audiodevice.AudioSinkDevice, error) {
	if api.closed {
		return nil, errAPIClosed
	}
	return device.NewDummyAudioSinkDevice(properties), nil
}

func (api *DummyAudioIODeviceAPI) Close() error {
	api.closed = true
	return nil
}
