// Package processing holds the gain and normalization math applied to
// AudioBuffers before playback or save.
//
// All functions are pure: the input buffer is never modified and a new
// buffer is returned. Samples are float32 at full scale [-1, 1]; anything
// pushed outside that range is hard-clipped.
package processing

import (
	"errors"
	"math"

	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
)

// -1 dBFS, the peak level Normalize scales to.
const DefaultNormalizeTargetDb = -1.0

var (
	ErrInvalidInput = errors.New("buffer is empty")
)

// Reported by ApplyGain when samples had to be clipped to full scale.
// The zero value means nothing was clipped.
type ClippingWarning struct {
	// Number of samples that left [-1, 1] and were clamped.
	ClippedSamples int
	// Largest absolute value before clipping.
	PeakBeforeClip float64
}

func (w ClippingWarning) Clipped() bool {
	return w.ClippedSamples > 0
}

// PeakBeforeClip expressed in dBFS.
func (w ClippingWarning) PeakDb() float64 {
	return LinearToDb(w.PeakBeforeClip)
}

func DbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// Returns -Inf for zero.
func LinearToDb(linear float64) float64 {
	return 20 * math.Log10(linear)
}

// --------------------------------------------------------------------------------

// Scale b so its peak sits at -1 dBFS.
//
// Silent buffers are returned unchanged (as a copy). Empty buffers return ErrInvalidInput.
func Normalize(b audiobuffer.AudioBuffer) (audiobuffer.AudioBuffer, error) {
	return NormalizeTo(b, DefaultNormalizeTargetDb)
}

// Scale b so its peak sits at targetDb dBFS.
func NormalizeTo(b audiobuffer.AudioBuffer, targetDb float64) (audiobuffer.AudioBuffer, error) {
	if b.IsEmpty() {
		return audiobuffer.AudioBuffer{}, ErrInvalidInput
	}
	peak := b.Peak()
	if peak == 0 {
		return b.Clone(), nil
	}
	out, _ := scale(b, DbToLinear(targetDb)/peak)
	return out, nil
}

// Multiply every sample by 10^(gainDb/20), clipping to full scale.
// A gain of 0 dB returns an identical copy.
func ApplyGain(b audiobuffer.AudioBuffer, gainDb float64) (audiobuffer.AudioBuffer, ClippingWarning) {
	return ApplyMultiplier(b, DbToLinear(gainDb))
}

// Multiply every sample by a linear factor, clipping to full scale.
func ApplyMultiplier(b audiobuffer.AudioBuffer, multiplier float64) (audiobuffer.AudioBuffer, ClippingWarning) {
	return scale(b, multiplier)
}

// Clamp every sample of b into [-1, 1].
func Clip(b audiobuffer.AudioBuffer) (audiobuffer.AudioBuffer, ClippingWarning) {
	return scale(b, 1)
}

// Prepare a freshly captured recording for writing: if the recording is not silent,
// normalize it when normalize is set, otherwise apply gainDb. The result is always
// clipped to full scale.
func PrepareForSave(b audiobuffer.AudioBuffer, normalize bool, gainDb float64) (audiobuffer.AudioBuffer, ClippingWarning) {
	if b.Peak() == 0 {
		return Clip(b)
	}
	if normalize {
		out, err := Normalize(b)
		if err != nil {
			return Clip(b)
		}
		return out, ClippingWarning{}
	}
	return ApplyGain(b, gainDb)
}

func scale(b audiobuffer.AudioBuffer, factor float64) (audiobuffer.AudioBuffer, ClippingWarning) {
	out := audiobuffer.AudioBuffer{
		Properties: b.Properties,
		Samples:    make([]float32, len(b.Samples)),
	}
	var warning ClippingWarning
	for i, s := range b.Samples {
		v := float64(s) * factor
		if a := math.Abs(v); a > 1 {
			warning.ClippedSamples++
			warning.PeakBeforeClip = max(warning.PeakBeforeClip, a)
			v = math.Copysign(1, v)
		}
		out.Samples[i] = float32(v)
	}
	return out, warning
}
