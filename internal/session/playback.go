package session

import (
	"context"
	"time"

	"github.com/hmcalister/wavetrim/pkg/audiodevice/device"
)

const playbackFrameDuration = 10 * time.Millisecond

type playback struct {
	source    *device.BufferSourceDevice
	gain      *device.AudioAugmentationDevice
	cancel    context.CancelFunc
	numFrames int
	done      chan struct{}
}

// Play the selected region of the current buffer, looping if loop is set.
// Any running playback is stopped first.
//
// The returned channel is closed when playback has ended: the region finished,
// StopPlayback was called, ctx was canceled or the buffer changed.
func (s *Session) Play(ctx context.Context, loop bool) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		return nil, ErrNoBuffer
	}
	if s.recording != nil {
		return nil, ErrAlreadyRecording
	}
	s.stopPlaybackLocked()

	b := *s.buffer
	sel := s.selection.Selection()
	source, err := device.NewBufferSourceDevice(b, sel.Start, sel.End, playbackFrameDuration, loop)
	if err != nil {
		return nil, err
	}
	sink, err := s.api.InitPlaybackDevice(b.Properties)
	if err != nil {
		source.Close()
		s.logger.Error("could not open playback device", "err", err)
		return nil, &DeviceError{Device: "playback", Err: err}
	}

	gain := device.NewAudioAugmentationDevice(b.Properties)
	gain.SetGainDb(s.playbackGainDb)
	gain.SetStream(source.GetStream())

	playCtx, cancel := context.WithCancel(ctx)
	pb := &playback{
		source:    source,
		gain:      gain,
		cancel:    cancel,
		numFrames: b.NumFrames(),
		done:      make(chan struct{}),
	}
	sink.SetStream(gain.GetStream())
	source.Play(playCtx)
	s.playback = pb

	// Wait for the sink to finish too when it can say so, so that buffered audio is heard.
	sinkDone := source.Done()
	if drained, ok := sink.(interface{ Done() <-chan struct{} }); ok {
		sinkDone = drained.Done()
	}
	go func() {
		<-source.Done()
		<-sinkDone
		cancel()

		s.mu.Lock()
		if s.playback == pb {
			s.playback = nil
		}
		s.mu.Unlock()
		close(pb.done)
		s.logger.Debug("playback ended")
	}()

	s.logger.Info("playback started", "selection", sel, "loop", loop)
	return pb.done, nil
}

// Set the monitoring gain for playback, in dB. Applies to running playback
// immediately. Never changes the buffer.
func (s *Session) SetPlaybackGain(gainDb float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playbackGainDb = gainDb
	if s.playback != nil {
		s.playback.gain.SetGainDb(gainDb)
	}
}

// Peak level of the audio most recently sent to the speakers, or 0 when idle.
func (s *Session) PlaybackLevel() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback == nil {
		return 0
	}
	return s.playback.gain.Level()
}

// Stop playback now. Does nothing if nothing is playing.
func (s *Session) StopPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPlaybackLocked()
}

func (s *Session) stopPlaybackLocked() {
	if s.playback == nil {
		return
	}
	s.playback.cancel()
	s.playback.source.Close()
	s.playback = nil
}

func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback != nil
}

// Position of the playhead as a ratio of the buffer length, or -1 when not playing.
func (s *Session) PlayheadRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback == nil || s.playback.numFrames == 0 {
		return -1
	}
	return float64(s.playback.source.Position()) / float64(s.playback.numFrames)
}
