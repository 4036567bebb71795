// Package malgoapi implements audioapi.AudioIODeviceAPI on real hardware:
// capture and loopback through miniaudio (malgo), playback through oto.
package malgoapi

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/hmcalister/wavetrim/internal/audioapi"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/audiodevice/device"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

// Playback always runs at this format; other formats are converted on the way in.
// oto allows one context per process, so the format cannot change once chosen.
var playbackProperties = audiodevice.DeviceProperties{
	SampleRate:  48000,
	NumChannels: 2,
}

type MalgoAPI struct {
	logger *slog.Logger

	ctx *malgo.AllocatedContext

	// Device infos from the last enumeration, keyed by AudioIODevice.ID.
	infosMutex sync.Mutex
	infos      map[string]malgo.DeviceInfo

	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
}

func NewMalgoAPI() (*MalgoAPI, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"malgo api uuid", uuid,
	)

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		logger.Error("failed to create malgo context", "err", err)
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	return &MalgoAPI{
		logger: logger,
		ctx:    ctx,
		infos:  make(map[string]malgo.DeviceInfo),
	}, nil
}

func deviceID(kind audioapi.DeviceKind, info malgo.DeviceInfo) string {
	return kind.String() + ":" + hex.EncodeToString(info.ID[:])
}

// Loopback capture is only offered where miniaudio supports it (WASAPI).
func loopbackSupported() bool {
	return runtime.GOOS == "windows"
}

func (api *MalgoAPI) CaptureDevices() ([]audioapi.AudioIODevice, error) {
	devices := make([]audioapi.AudioIODevice, 0)
	infos := make(map[string]malgo.DeviceInfo)

	add := func(kind audioapi.DeviceKind, deviceType malgo.DeviceType) error {
		deviceInfos, err := api.ctx.Devices(deviceType)
		if err != nil {
			api.logger.Error("failed to enumerate devices", "kind", kind, "err", err)
			return fmt.Errorf("failed to enumerate %s devices: %w", kind, err)
		}
		for _, info := range deviceInfos {
			id := deviceID(kind, info)
			infos[id] = info
			devices = append(devices, audioapi.AudioIODevice{
				ID:               id,
				Name:             info.Name(),
				Kind:             kind,
				IsDefault:        info.IsDefault != 0,
				DeviceProperties: audioapi.DefaultCaptureProperties,
			})
		}
		return nil
	}

	if loopbackSupported() {
		if err := add(audioapi.KindLoopback, malgo.Playback); err != nil {
			return nil, err
		}
	}
	if err := add(audioapi.KindInput, malgo.Capture); err != nil {
		return nil, err
	}

	api.infosMutex.Lock()
	api.infos = infos
	api.infosMutex.Unlock()

	api.logger.Debug("enumerated capture devices", "count", len(devices))
	return devices, nil
}

func (api *MalgoAPI) DefaultCaptureDevice() (audioapi.AudioIODevice, error) {
	devices, err := api.CaptureDevices()
	if err != nil {
		return audioapi.AudioIODevice{}, err
	}
	return audioapi.PickDefault(devices)
}

func (api *MalgoAPI) InitCaptureDevice(ioDevice audioapi.AudioIODevice) (audiodevice.AudioSourceDevice, error) {
	api.infosMutex.Lock()
	info, ok := api.infos[ioDevice.ID]
	api.infosMutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("device %q not found, enumerate devices first", ioDevice.Name)
	}

	deviceType := malgo.Capture
	if ioDevice.Kind == audioapi.KindLoopback {
		deviceType = malgo.Loopback
	}
	return NewMalgoInputDevice(api.ctx, deviceType, &info, ioDevice.Name, ioDevice.DeviceProperties)
}

// Open the oto playback context on first use and return a sink that accepts
// frames in properties, converting them to the playback format.
func (api *MalgoAPI) InitPlaybackDevice(properties audiodevice.DeviceProperties) (audiodevice.AudioSinkDevice, error) {
	api.otoOnce.Do(func() {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   playbackProperties.SampleRate,
			ChannelCount: playbackProperties.NumChannels,
			Format:       oto.FormatFloat32LE,
		})
		if err != nil {
			api.logger.Error("failed to create oto context", "err", err)
			api.otoErr = fmt.Errorf("failed to open playback: %w", err)
			return
		}
		<-ready
		api.otoCtx = otoCtx
	})
	if api.otoErr != nil {
		return nil, api.otoErr
	}

	return &convertingSink{
		properties: properties,
		conversion: device.NewAudioFormatConversionDevice(properties, playbackProperties),
		output:     NewOtoOutputDevice(api.otoCtx, playbackProperties),
	}, nil
}

func (api *MalgoAPI) Close() error {
	if err := api.ctx.Uninit(); err != nil {
		api.logger.Error("failed to uninit malgo context", "err", err)
		return err
	}
	api.ctx.Free()
	return nil
}

// --------------------------------------------------------------------------------

// An AudioSinkDevice chaining format conversion into the oto output.
type convertingSink struct {
	properties audiodevice.DeviceProperties
	conversion *device.AudioFormatConversionDevice
	output     *OtoOutputDevice
}

func (s *convertingSink) SetStream(sourceStream <-chan frame.PCMFrame) {
	s.conversion.SetStream(sourceStream)
	s.output.SetStream(s.conversion.GetStream())
}

func (s *convertingSink) GetDeviceProperties() audiodevice.DeviceProperties {
	return s.properties
}

// Closed once the last frame has been played.
func (s *convertingSink) Done() <-chan struct{} {
	return s.output.Done()
}
