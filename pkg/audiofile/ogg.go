package audiofile

import (
	"fmt"
	"os"

	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
	"github.com/jfreymuth/oggvorbis"
)

func decodeOGG(f *os.File) (audiobuffer.AudioBuffer, error) {
	samples, format, err := oggvorbis.ReadAll(f)
	if err != nil {
		return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	return audiobuffer.AudioBuffer{
		Properties: audiodevice.DeviceProperties{
			SampleRate:  format.SampleRate,
			NumChannels: format.Channels,
		},
		Samples: samples,
	}, nil
}
