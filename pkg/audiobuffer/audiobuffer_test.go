package audiobuffer

import (
	"testing"
	"time"

	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/hmcalister/wavetrim/pkg/frame"
)

var stereo48k = audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 2}

func TestNewRejectsRaggedSamples(t *testing.T) {
	if _, err := New(stereo48k, make([]float32, 3)); err == nil {
		t.Error("expected error for 3 samples in a stereo buffer")
	}
	if _, err := New(audiodevice.DeviceProperties{SampleRate: 0, NumChannels: 1}, nil); err == nil {
		t.Error("expected error for zero sample rate")
	}
	b, err := New(stereo48k, make([]float32, 4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.NumFrames() != 2 {
		t.Errorf("NumFrames = %d, want 2", b.NumFrames())
	}
}

func TestDuration(t *testing.T) {
	b := NewSilent(stereo48k, 24000)
	if b.Duration() != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", b.Duration())
	}
}

func TestPeak(t *testing.T) {
	b := AudioBuffer{Properties: stereo48k, Samples: []float32{0.1, -0.7, 0.5, 0.2}}
	if got := b.Peak(); got < 0.699 || got > 0.701 {
		t.Errorf("Peak = %v, want 0.7", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b := AudioBuffer{Properties: stereo48k, Samples: []float32{0.1, 0.2}}
	c := b.Clone()
	c.Samples[0] = 0.9
	if b.Samples[0] != 0.1 {
		t.Error("Clone shares memory with the original")
	}
}

func TestCopyFrames(t *testing.T) {
	b := AudioBuffer{Properties: stereo48k, Samples: []float32{1, 2, 3, 4, 5, 6}}
	c := b.CopyFrames(1, 3)
	want := []float32{3, 4, 5, 6}
	if len(c.Samples) != len(want) {
		t.Fatalf("len = %d, want %d", len(c.Samples), len(want))
	}
	for i := range want {
		if c.Samples[i] != want[i] {
			t.Errorf("sample[%d] = %v, want %v", i, c.Samples[i], want[i])
		}
	}
}

func TestOverview(t *testing.T) {
	mono := audiodevice.DeviceProperties{SampleRate: 8, NumChannels: 1}
	b := AudioBuffer{Properties: mono, Samples: []float32{0.5, -0.25, 0.1, 0.1}}
	o := Overview(b, 2)
	if len(o) != 2 {
		t.Fatalf("len = %d, want 2", len(o))
	}
	if o[0].Max != 1 || o[0].Min != -0.5 {
		t.Errorf("bin 0 = %+v, want {-0.5 1}", o[0])
	}
	if Overview(b, 100) == nil || len(Overview(b, 100)) != 4 {
		t.Error("bins should be capped at the frame count")
	}
	if Overview(AudioBuffer{Properties: mono}, 10) != nil {
		t.Error("empty buffer should produce no overview")
	}
}

func TestWaveformBufferDrainsStream(t *testing.T) {
	w := NewWaveformBuffer(stereo48k)
	stream := make(chan frame.PCMFrame)
	w.SetStream(stream)

	stream <- frame.PCMFrame{0.1, 0.2, 0.3, 0.4}
	stream <- frame.PCMFrame{0.5, 0.6}
	close(stream)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("waveform buffer did not finish draining")
	}

	if w.NumFrames() != 3 {
		t.Errorf("NumFrames = %d, want 3", w.NumFrames())
	}
	snap := w.Snapshot()
	if snap.NumFrames() != 3 || snap.Samples[4] != 0.5 {
		t.Errorf("unexpected snapshot %+v", snap.Samples)
	}
}

func TestWaveformBufferTailPadsWithSilence(t *testing.T) {
	w := NewWaveformBuffer(stereo48k)
	w.Append(frame.PCMFrame{0.2, 0.4, -0.2, -0.4})

	tail := w.Tail(4)
	want := []float32{0, 0, 0.3, -0.3}
	for i := range want {
		if diff := tail[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("tail[%d] = %v, want %v", i, tail[i], want[i])
		}
	}

	if lvl := w.Level(1); lvl < 0.399 || lvl > 0.401 {
		t.Errorf("Level = %v, want 0.4", lvl)
	}

	w.Reset()
	if w.NumFrames() != 0 {
		t.Error("Reset should discard captured frames")
	}
}
