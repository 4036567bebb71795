package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

var (
	errEmptyRegion = errors.New("playback region is empty")
)

// --------------------------------------------------------------------------------
// BufferSourceDevice

// An AudioSourceDevice that streams a region of an in-memory AudioBuffer.
//
// Frames are sent at the pace of frameDuration, so a sink that plays in real time
// (the speakers) never has to buffer more than a few frames. A frameDuration of zero
// sends frames as fast as the sink accepts them.
//
// When the region has been sent (and looping is off) the stream is closed,
// cascading shutdown down the pipeline.
type BufferSourceDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	buffer     audiobuffer.AudioBuffer
	startFrame int
	endFrame   int
	loop       bool

	frameDuration  time.Duration
	framesPerChunk int

	// Absolute frame index (into buffer) of the next frame to be sent.
	position atomic.Int64

	mu       sync.Mutex
	started  bool
	closed   bool
	stopCtx  context.Context
	stopFunc context.CancelFunc

	sinkStream   chan frame.PCMFrame
	finished     chan struct{}
	shutdownOnce sync.Once
}

// Make a new BufferSourceDevice over frames [startFrame, endFrame) of buffer.
//
// The device is idle until Play is called.
func NewBufferSourceDevice(
	buffer audiobuffer.AudioBuffer,
	startFrame int,
	endFrame int,
	frameDuration time.Duration,
	loop bool,
) (*BufferSourceDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"buffer source device uuid", uuid,
	)

	startFrame = max(startFrame, 0)
	endFrame = min(endFrame, buffer.NumFrames())
	if endFrame <= startFrame {
		logger.Error(
			"empty playback region",
			"startFrame", startFrame,
			"endFrame", endFrame,
			"bufferFrames", buffer.NumFrames(),
		)
		return nil, errEmptyRegion
	}

	chunkDuration := frameDuration
	if chunkDuration <= 0 {
		chunkDuration = 10 * time.Millisecond
	}
	framesPerChunk := max(buffer.Properties.DurationToFrames(chunkDuration), 1)

	logger.Debug(
		"created buffer source",
		"startFrame", startFrame,
		"endFrame", endFrame,
		"framesPerChunk", framesPerChunk,
		"loop", loop,
	)

	stopCtx, stopFunc := context.WithCancel(context.Background())
	d := &BufferSourceDevice{
		logger:         logger,
		uuid:           uuid,
		buffer:         buffer,
		startFrame:     startFrame,
		endFrame:       endFrame,
		loop:           loop,
		frameDuration:  frameDuration,
		framesPerChunk: framesPerChunk,
		stopCtx:        stopCtx,
		stopFunc:       stopFunc,
		sinkStream:     make(chan frame.PCMFrame),
		finished:       make(chan struct{}),
	}
	d.position.Store(int64(startFrame))
	return d, nil
}

// Start streaming the region. Streaming stops when ctx is canceled, when Close is
// called, or when the region is exhausted and looping is off.
//
// Only the first call has any effect.
func (d *BufferSourceDevice) Play(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Debug("playing buffer")
	go d.stream(ctx)
}

func (d *BufferSourceDevice) stream(ctx context.Context) {
	defer close(d.finished)
	defer close(d.sinkStream)

	var tick <-chan time.Time
	if d.frameDuration > 0 {
		ticker := time.NewTicker(d.frameDuration)
		defer ticker.Stop()
		tick = ticker.C
	}

	numChannels := d.buffer.Properties.NumChannels
	for {
		for chunkStart := d.startFrame; chunkStart < d.endFrame; chunkStart += d.framesPerChunk {
			chunkEnd := min(chunkStart+d.framesPerChunk, d.endFrame)
			pcmFrame := frame.PCMFrame(d.buffer.Samples[chunkStart*numChannels : chunkEnd*numChannels]).Clone()

			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				case <-d.stopCtx.Done():
					return
				}
			}
			select {
			case d.sinkStream <- pcmFrame:
				d.position.Store(int64(chunkEnd))
			case <-ctx.Done():
				return
			case <-d.stopCtx.Done():
				return
			}
		}
		if !d.loop {
			d.logger.Debug("finished playing")
			return
		}
		d.position.Store(int64(d.startFrame))
	}
}

// The absolute frame index of the next frame to be played.
func (d *BufferSourceDevice) Position() int {
	return int(d.position.Load())
}

// Closed once the stream has ended, for whatever reason.
func (d *BufferSourceDevice) Done() <-chan struct{} {
	return d.finished
}

func (d *BufferSourceDevice) Close() {
	d.logger.Debug("shutdown called")
	d.shutdownOnce.Do(func() {
		d.stopFunc()

		d.mu.Lock()
		started := d.started
		d.closed = true
		d.mu.Unlock()

		// A running stream goroutine owns the channels.
		if !started {
			close(d.sinkStream)
			close(d.finished)
		}
	})
}

func (d *BufferSourceDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *BufferSourceDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.buffer.Properties
}
