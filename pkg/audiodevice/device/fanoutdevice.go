package device

import (
	"context"
	"sync"
	"time"

	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

const (
	lossySinkBufferFrames = 16
	lossySinkTimeout      = 5 * time.Second
)

// --------------------------------------------------------------------------------
// Fan Out Device (One to Many)

// A FanOutDevice is both an AudioSourceDevice and an AudioSinkDevice.
//
// Unlike other AudioSourceDevices, a call to GetStream does *not* return the
// singular output stream, but instead creates a *new* output stream unique to that call.
//
// There are two kinds of output stream:
//   - GetStream returns a lossless stream. Every frame is delivered, and a slow
//     reader blocks the whole device. Use this for the recording buffer.
//   - GetLossyStream returns a stream that drops frames its reader cannot keep up
//     with, and is closed if it accepts nothing for a while. Use this for monitors.
//
// Every stream receives its own copy of each frame, so sinks may modify frames in place.
//
// Be sure to call GetStream / GetLossyStream before SetStream, otherwise
// frames sent before the stream exists are not delivered to it.
type FanOutDevice struct {
	deviceProperties audiodevice.DeviceProperties
	// A master context to cancel ALL sinks at once
	// sink channel contexts will be spawned as sub-contexts of this one.
	masterContext               context.Context
	masterContextCancelFunction context.CancelFunc

	sourceStream <-chan frame.PCMFrame

	sinksMutex sync.Mutex
	sinks      []*fanOutSink
	closed     bool
}

type fanOutSink struct {
	lossy     bool
	ctx       context.Context
	ctxCancel context.CancelFunc
	stream    chan frame.PCMFrame
}

// Return a new sink context related to the fanOutDevice.masterContext
// such that the returned context has a fresh timeout, but is still canceled
// if the masterContext is canceled
func (d *FanOutDevice) newSinkContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(d.masterContext, lossySinkTimeout)
}

// Create a new FanOutDevice.
// The given device properties are for book-keeping only.
func NewFanOutDevice(properties audiodevice.DeviceProperties) *FanOutDevice {
	masterContext, masterContextCancelFunction := context.WithCancel(context.Background())
	return &FanOutDevice{
		deviceProperties:            properties,
		masterContext:               masterContext,
		masterContextCancelFunction: masterContextCancelFunction,
		sinks:                       make([]*fanOutSink, 0),
	}
}

func (d *FanOutDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.deviceProperties
}

// Set the stream of this device to copy data from.
// This method should be called only once. Once the sourceStream is closed
// all sink streams are closed.
func (d *FanOutDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	d.sourceStream = sourceStream

	go func() {
		for data := range d.sourceStream {
			d.forward(data)
		}
		d.Close()
	}()
}

func (d *FanOutDevice) forward(data frame.PCMFrame) {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()

	live := d.sinks[:0]
	for i, sink := range d.sinks {
		pcmFrame := data
		if i > 0 {
			pcmFrame = data.Clone()
		}

		if !sink.lossy {
			sink.stream <- pcmFrame
			live = append(live, sink)
			continue
		}

		select {
		case sink.stream <- pcmFrame:
			// We sent some data, refresh the sink timeout
			sink.ctxCancel()
			sink.ctx, sink.ctxCancel = d.newSinkContext()
			live = append(live, sink)
		case <-sink.ctx.Done():
			// The sink didn't accept anything for too long, remove it
			close(sink.stream)
		default:
			// Sink is full but hasn't timed out, drop this frame for it
			live = append(live, sink)
		}
	}
	d.sinks = live
}

// Get a new lossless stream from this fan out device.
//
// Every frame arriving at the device is sent on the returned stream,
// blocking until it is received.
func (d *FanOutDevice) GetStream() <-chan frame.PCMFrame {
	return d.addSink(false, 0)
}

// Get a new lossy stream from this fan out device.
//
// Frames are dropped for this stream while its buffer is full. If the stream
// accepts no frame for 5 seconds it is closed and removed.
func (d *FanOutDevice) GetLossyStream() <-chan frame.PCMFrame {
	return d.addSink(true, lossySinkBufferFrames)
}

func (d *FanOutDevice) addSink(lossy bool, bufferFrames int) <-chan frame.PCMFrame {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()

	sinkCtx, sinkCtxCancel := d.newSinkContext()
	newSink := &fanOutSink{
		lossy:     lossy,
		ctx:       sinkCtx,
		ctxCancel: sinkCtxCancel,
		stream:    make(chan frame.PCMFrame, bufferFrames),
	}
	if d.closed {
		sinkCtxCancel()
		close(newSink.stream)
		return newSink.stream
	}
	d.sinks = append(d.sinks, newSink)

	return newSink.stream
}

// Close every sink stream. Called automatically when the source stream closes.
func (d *FanOutDevice) Close() {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.masterContextCancelFunction()
	for _, sink := range d.sinks {
		sink.ctxCancel()
		close(sink.stream)
	}
	d.sinks = d.sinks[:0]
}
