package frame

// A PCMFrame is a chunk of interleaved audio samples.
//
// Samples are float32 at full scale [-1, 1]. For a stereo stream the layout is
// L R L R ..., so a PCMFrame of length n carries n/NumChannels sample frames.
// PCMFrames are the unit of transfer along every device stream.
type PCMFrame []float32

// Copy the frame into freshly allocated memory.
//
// Devices that reuse an internal buffer (e.g. format conversion) hand out frames
// that are overwritten on the next call, so any consumer that retains a frame must clone it.
func (f PCMFrame) Clone() PCMFrame {
	c := make(PCMFrame, len(f))
	copy(c, f)
	return c
}
