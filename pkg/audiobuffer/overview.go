package audiobuffer

// One column of a waveform display.
type OverviewBin struct {
	Min float32
	Max float32
}

// Reduce the buffer to at most bins columns of min/max over the mono mix,
// scaled so the loudest column reaches 1. Silent buffers stay at zero.
//
// Returns nil for empty buffers or non-positive bins.
func Overview(b AudioBuffer, bins int) []OverviewBin {
	numFrames := b.NumFrames()
	if numFrames == 0 || bins <= 0 {
		return nil
	}
	bins = min(bins, numFrames)

	overview := make([]OverviewBin, bins)
	var peak float32
	for bin := range bins {
		start := bin * numFrames / bins
		end := (bin + 1) * numFrames / bins
		lo, hi := b.MonoAt(start), b.MonoAt(start)
		for i := start + 1; i < end; i++ {
			v := b.MonoAt(i)
			lo = min(lo, v)
			hi = max(hi, v)
		}
		overview[bin] = OverviewBin{Min: lo, Max: hi}
		peak = max(peak, hi, -lo)
	}

	if peak > 0 {
		for i := range overview {
			overview[i].Min /= peak
			overview[i].Max /= peak
		}
	}
	return overview
}
