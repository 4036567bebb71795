package audiofile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/mewkiz/flac"
)

func decodeFLAC(f *os.File) (audiobuffer.AudioBuffer, error) {
	stream, err := flac.New(f)
	if err != nil {
		return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	defer stream.Close()

	numChannels := int(stream.Info.NChannels)
	properties := audiodevice.DeviceProperties{
		SampleRate:  int(stream.Info.SampleRate),
		NumChannels: numChannels,
	}
	scale := float32(fullScale(int(stream.Info.BitsPerSample)))

	samples := make([]float32, 0, int(stream.Info.NSamples)*numChannels)
	for {
		fr, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
		}
		blockSize := len(fr.Subframes[0].Samples)
		for i := range blockSize {
			for c := range numChannels {
				samples = append(samples, max(-1, float32(fr.Subframes[c].Samples[i])/scale))
			}
		}
	}

	return audiobuffer.AudioBuffer{Properties: properties, Samples: samples}, nil
}
