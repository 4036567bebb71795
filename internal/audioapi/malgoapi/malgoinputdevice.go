package malgoapi

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

// Chunks buffered between the driver callback and the consumer.
const inputQueueChunks = 64

// MalgoInputDevice captures audio from a microphone or loopback endpoint using miniaudio.
// It implements the AudioSourceDevice interface.
//
// The stream starts as soon as the device is created.
type MalgoInputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	device     *malgo.Device
	properties audiodevice.DeviceProperties

	mu         sync.Mutex
	closed     bool
	dataStream chan frame.PCMFrame

	shutdownOnce sync.Once
}

// Open and start a capture stream. info selects the device; nil selects the
// system default for deviceType (malgo.Capture or malgo.Loopback).
func NewMalgoInputDevice(
	ctx *malgo.AllocatedContext,
	deviceType malgo.DeviceType,
	info *malgo.DeviceInfo,
	name string,
	properties audiodevice.DeviceProperties,
) (*MalgoInputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"malgo input device uuid", uuid,
	)

	d := &MalgoInputDevice{
		logger:     logger,
		uuid:       uuid,
		properties: properties,
		dataStream: make(chan frame.PCMFrame, inputQueueChunks),
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(properties.NumChannels)
	deviceConfig.SampleRate = uint32(properties.SampleRate)
	if info != nil {
		// For loopback the capture device ID names a playback endpoint.
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: d.onData,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		logger.Error("failed to open capture device", "device", name, "err", err)
		return nil, fmt.Errorf("failed to open capture device %q: %w", name, err)
	}
	d.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		logger.Error("failed to start capture device", "device", name, "err", err)
		return nil, fmt.Errorf("failed to start capture device %q: %w", name, err)
	}

	logger.Info(
		"capture device started",
		"device", name,
		"sampleRate", properties.SampleRate,
		"channels", properties.NumChannels,
	)
	return d, nil
}

// Runs on the driver thread, so it must never block.
func (d *MalgoInputDevice) onData(_, inputSamples []byte, frameCount uint32) {
	pcmFrame := make(frame.PCMFrame, len(inputSamples)/4)
	for i := range pcmFrame {
		pcmFrame[i] = math.Float32frombits(binary.LittleEndian.Uint32(inputSamples[4*i:]))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.dataStream <- pcmFrame:
	default:
		d.logger.Warn("capture queue full, dropping frame", "frames", frameCount)
	}
}

// GetStream returns the channel that will receive PCM audio frames from the device.
func (d *MalgoInputDevice) GetStream() <-chan frame.PCMFrame {
	return d.dataStream
}

// Close stops the capture stream and closes the data stream.
func (d *MalgoInputDevice) Close() {
	d.logger.Debug("shutdown called")
	d.shutdownOnce.Do(func() {
		if err := d.device.Stop(); err != nil {
			d.logger.Error("error stopping capture device", "err", err)
		}
		d.device.Uninit()

		d.mu.Lock()
		d.closed = true
		close(d.dataStream)
		d.mu.Unlock()

		d.logger.Info("capture device closed")
	})
}

func (d *MalgoInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
