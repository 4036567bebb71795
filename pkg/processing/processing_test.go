package processing

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
)

var mono = audiodevice.DeviceProperties{SampleRate: 44100, NumChannels: 1}

func buffer(samples ...float32) audiobuffer.AudioBuffer {
	return audiobuffer.AudioBuffer{Properties: mono, Samples: samples}
}

func sine(n int, amplitude float64) audiobuffer.AudioBuffer {
	b := audiobuffer.NewSilent(mono, n)
	for i := range b.Samples {
		b.Samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/44100))
	}
	return b
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestDbConversions(t *testing.T) {
	tests := []struct {
		db     float64
		linear float64
	}{
		{0, 1},
		{-20, 0.1},
		{20, 10},
		{-1, 0.8912509381337456},
	}
	for _, tt := range tests {
		if got := DbToLinear(tt.db); !approx(got, tt.linear, 1e-12) {
			t.Errorf("DbToLinear(%v) = %v, want %v", tt.db, got, tt.linear)
		}
		if got := LinearToDb(tt.linear); !approx(got, tt.db, 1e-9) {
			t.Errorf("LinearToDb(%v) = %v, want %v", tt.linear, got, tt.db)
		}
	}
	if !math.IsInf(LinearToDb(0), -1) {
		t.Error("LinearToDb(0) should be -Inf")
	}
}

func TestNormalizePeakIsMinusOneDbfs(t *testing.T) {
	target := DbToLinear(-1)
	for _, amplitude := range []float64{0.001, 0.25, 0.891, 1} {
		out, err := Normalize(sine(2048, amplitude))
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if !approx(out.Peak(), target, 1e-6) {
			t.Errorf("amplitude %v: peak after normalize = %v, want %v", amplitude, out.Peak(), target)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	once, _ := Normalize(sine(1000, 0.3))
	twice, _ := Normalize(once)
	for i := range once.Samples {
		if !approx(float64(once.Samples[i]), float64(twice.Samples[i]), 1e-6) {
			t.Fatalf("sample %d changed on second normalize: %v -> %v", i, once.Samples[i], twice.Samples[i])
		}
	}
}

func TestNormalizeSilentIsNoOp(t *testing.T) {
	in := buffer(0, 0, 0)
	out, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for i, s := range out.Samples {
		if s != 0 {
			t.Errorf("sample %d = %v, want 0", i, s)
		}
	}
}

func TestNormalizeEmptyFails(t *testing.T) {
	if _, err := Normalize(buffer()); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := buffer(0.5, -0.25)
	Normalize(in)
	if in.Samples[0] != 0.5 || in.Samples[1] != -0.25 {
		t.Error("input buffer was modified")
	}
}

func TestApplyGainZeroIsIdentity(t *testing.T) {
	in := sine(512, 0.7)
	out, warning := ApplyGain(in, 0)
	if warning.Clipped() {
		t.Error("0 dB gain should not clip")
	}
	for i := range in.Samples {
		if in.Samples[i] != out.Samples[i] {
			t.Fatalf("sample %d changed: %v -> %v", i, in.Samples[i], out.Samples[i])
		}
	}
}

func TestApplyGainScales(t *testing.T) {
	out, _ := ApplyGain(buffer(0.1, -0.2), -20)
	if !approx(float64(out.Samples[0]), 0.01, 1e-7) || !approx(float64(out.Samples[1]), -0.02, 1e-7) {
		t.Errorf("got %v, want [0.01 -0.02]", out.Samples)
	}
}

func TestApplyGainClipsAndWarns(t *testing.T) {
	out, warning := ApplyGain(buffer(0.5, -0.9, 0.05), 6)
	if !warning.Clipped() {
		t.Fatal("expected a clipping warning")
	}
	if warning.ClippedSamples != 1 {
		t.Errorf("ClippedSamples = %d, want 1", warning.ClippedSamples)
	}
	if out.Samples[1] != -1 {
		t.Errorf("clipped sample = %v, want -1", out.Samples[1])
	}
	if !approx(warning.PeakBeforeClip, 0.9*DbToLinear(6), 1e-6) {
		t.Errorf("PeakBeforeClip = %v", warning.PeakBeforeClip)
	}
	if out.Samples[0] > 1 || out.Samples[0] < 0.99 {
		t.Errorf("0.5 at +6dB should land just under full scale, got %v", out.Samples[0])
	}
}

func TestPrepareForSave(t *testing.T) {
	in := buffer(0.05, -0.2)

	normalized, _ := PrepareForSave(in, true, 40)
	if !approx(normalized.Peak(), DbToLinear(-1), 1e-6) {
		t.Errorf("normalize path peak = %v", normalized.Peak())
	}

	gained, warning := PrepareForSave(in, false, 20)
	if warning.ClippedSamples != 1 || gained.Samples[1] != -1 {
		t.Errorf("gain path = %v, warning %+v", gained.Samples, warning)
	}

	silent, _ := PrepareForSave(buffer(0, 0), false, 20)
	if silent.Peak() != 0 {
		t.Error("silent buffers should stay silent")
	}
}

func TestProcessorReportsClipping(t *testing.T) {
	p := NewProcessor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var got []ClippingWarning
	p.OnClip = func(w ClippingWarning) { got = append(got, w) }

	p.ApplyGain(buffer(0.2), 0)
	if len(got) != 0 {
		t.Fatal("OnClip called without clipping")
	}
	p.ApplyGain(buffer(0.9, 0.9), 12)
	if len(got) != 1 || got[0].ClippedSamples != 2 {
		t.Errorf("OnClip calls = %+v", got)
	}
}
