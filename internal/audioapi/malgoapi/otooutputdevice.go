package malgoapi

import (
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/google/uuid"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

const drainPollInterval = 10 * time.Millisecond

// OtoOutputDevice plays frames through the speakers using an oto player.
// It implements the AudioSinkDevice interface.
//
// Frames must already be in the oto context's format; closing the source
// stream ends playback once buffered audio has drained.
type OtoOutputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	otoCtx     *oto.Context
	properties audiodevice.DeviceProperties

	sourceStream <-chan frame.PCMFrame
	pending      frame.PCMFrame

	done chan struct{}
}

func NewOtoOutputDevice(otoCtx *oto.Context, properties audiodevice.DeviceProperties) *OtoOutputDevice {
	uuid := uuid.New()
	return &OtoOutputDevice{
		logger: slog.Default().With(
			"oto output device uuid", uuid,
		),
		uuid:       uuid,
		otoCtx:     otoCtx,
		properties: properties,
		done:       make(chan struct{}),
	}
}

// SetStream sets the source channel for audio data and starts playback.
func (d *OtoOutputDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	d.sourceStream = sourceStream
	player := d.otoCtx.NewPlayer(d)
	player.Play()
	d.logger.Debug("playback started")

	go func() {
		defer close(d.done)
		for player.IsPlaying() {
			time.Sleep(drainPollInterval)
		}
		if err := player.Close(); err != nil {
			d.logger.Error("error closing player", "err", err)
		}
		d.logger.Debug("playback finished")
	}()
}

// Read implements io.Reader for the oto player, encoding float32 samples
// little-endian. Returns io.EOF once the source stream is closed and drained.
func (d *OtoOutputDevice) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		pcmFrame, ok := <-d.sourceStream
		if !ok {
			return 0, io.EOF
		}
		d.pending = pcmFrame.Clone()
	}

	n := min(len(p)/4, len(d.pending))
	for i := range n {
		binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(d.pending[i]))
	}
	d.pending = d.pending[n:]
	return 4 * n, nil
}

// Closed once the player has finished.
func (d *OtoOutputDevice) Done() <-chan struct{} {
	return d.done
}

// GetDeviceProperties returns the audio properties (sample rate, channels) of this device.
func (d *OtoOutputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
