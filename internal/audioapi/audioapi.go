package audioapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hmcalister/wavetrim/pkg/audiodevice"
)

var (
	errNoDefaultDevice = errors.New("no default device available")
	errNoDeviceWithID  = errors.New("no device with specified ID")
	errNoDeviceNamed   = errors.New("no capture device matches name")
)

// Capture streams are opened at this format. The driver converts from the
// hardware's native format, so every recording in a session shares one format.
var DefaultCaptureProperties = audiodevice.DeviceProperties{
	SampleRate:  48000,
	NumChannels: 2,
}

type DeviceKind int

const (
	// A microphone or line input.
	KindInput DeviceKind = iota
	// A playback endpoint captured as an input ("what you hear").
	KindLoopback
)

func (k DeviceKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindLoopback:
		return "loopback"
	}
	return fmt.Sprintf("DeviceKind(%d)", int(k))
}

type AudioIODevice struct {
	// The ID of the device
	//
	// Comes from the underlying API, encoded as a string so that it is comparable
	// and printable regardless of backend.
	//
	// Intended to be the canonical way to reference the AudioIODevice
	// (e.g. a microphone or loopback endpoint).
	ID string

	// A human-readable name for the device. Not canonical: names may repeat.
	Name string

	Kind      DeviceKind
	IsDefault bool

	// The format frames from this device will arrive in.
	DeviceProperties audiodevice.DeviceProperties
}

func (device AudioIODevice) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Name:        %s\n", device.Name)
	fmt.Fprintf(&sb, "Kind:        %s\n", device.Kind)
	fmt.Fprintf(&sb, "Default:     %t\n", device.IsDefault)
	fmt.Fprintf(&sb, "SampleRate:  %d\n", device.DeviceProperties.SampleRate)
	fmt.Fprintf(&sb, "NumChannels: %d\n", device.DeviceProperties.NumChannels)
	return sb.String()
}

// A one-line description, for device pickers.
func (device AudioIODevice) Label() string {
	label := fmt.Sprintf("[%s] %s", device.Kind, device.Name)
	if device.IsDefault {
		label += " (default)"
	}
	return label
}

// Define an API to interface with hardware devices.
// Intended to be an abstract way to:
// - Query existing capture devices (inputs and loopback endpoints)
// - Initialize a capture device as an AudioSourceDevice
// - Initialize the playback device as an AudioSinkDevice
//
// Implementations are MalgoAPI (hardware) and DummyAudioIODeviceAPI (testing).
type AudioIODeviceAPI interface {
	// Loopback endpoints first, then inputs.
	CaptureDevices() ([]AudioIODevice, error)
	DefaultCaptureDevice() (AudioIODevice, error)
	InitCaptureDevice(AudioIODevice) (audiodevice.AudioSourceDevice, error)

	// Open the default playback device, expecting frames with the given properties.
	InitPlaybackDevice(audiodevice.DeviceProperties) (audiodevice.AudioSinkDevice, error)

	Close() error
}

// Find a capture device by name. An empty name selects the default device.
//
// An exact name match wins; failing that, the first device whose name contains
// name (case-insensitively) is returned.
func FindCaptureDevice(api AudioIODeviceAPI, name string) (AudioIODevice, error) {
	if name == "" {
		return api.DefaultCaptureDevice()
	}

	devices, err := api.CaptureDevices()
	if err != nil {
		return AudioIODevice{}, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	lowered := strings.ToLower(name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), lowered) {
			return d, nil
		}
	}
	return AudioIODevice{}, fmt.Errorf("%w: %q", errNoDeviceNamed, name)
}

// Pick the default among devices: the first flagged default, else the first device.
func PickDefault(devices []AudioIODevice) (AudioIODevice, error) {
	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return AudioIODevice{}, errNoDefaultDevice
}
