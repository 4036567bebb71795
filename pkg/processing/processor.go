package processing

import (
	"log/slog"

	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
)

// A Processor applies the package functions and makes clipping observable:
// each clipping event is logged at warn level and passed to OnClip, if set.
type Processor struct {
	logger *slog.Logger

	// Called with every non-empty ClippingWarning. May be nil.
	OnClip func(ClippingWarning)
}

func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

func (p *Processor) Normalize(b audiobuffer.AudioBuffer) (audiobuffer.AudioBuffer, error) {
	out, err := Normalize(b)
	if err != nil {
		p.logger.Error("could not normalize buffer", "err", err)
		return out, err
	}
	p.logger.Debug("normalized buffer",
		"peakBeforeDb", LinearToDb(b.Peak()),
		"targetDb", DefaultNormalizeTargetDb,
	)
	return out, nil
}

func (p *Processor) ApplyGain(b audiobuffer.AudioBuffer, gainDb float64) audiobuffer.AudioBuffer {
	out, warning := ApplyGain(b, gainDb)
	p.report(warning, "gainDb", gainDb)
	return out
}

func (p *Processor) PrepareForSave(b audiobuffer.AudioBuffer, normalize bool, gainDb float64) audiobuffer.AudioBuffer {
	out, warning := PrepareForSave(b, normalize, gainDb)
	p.report(warning, "normalize", normalize, "gainDb", gainDb)
	return out
}

func (p *Processor) report(warning ClippingWarning, args ...any) {
	if !warning.Clipped() {
		return
	}
	p.logger.Warn("samples clipped to full scale",
		append([]any{
			"clippedSamples", warning.ClippedSamples,
			"peakBeforeClipDb", warning.PeakDb(),
		}, args...)...,
	)
	if p.OnClip != nil {
		p.OnClip(warning)
	}
}
