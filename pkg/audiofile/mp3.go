package audiofile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hajimehoshi/go-mp3"
	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
)

// go-mp3 always produces signed 16 bit little endian stereo.
const (
	mp3Channels       = 2
	mp3BytesPerSample = 2
)

func decodeMP3(f *os.File) (audiobuffer.AudioBuffer, error) {
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	// Drop any trailing partial frame
	raw = raw[:len(raw)-len(raw)%(mp3Channels*mp3BytesPerSample)]

	samples := make([]float32, len(raw)/mp3BytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*mp3BytesPerSample:]))
		samples[i] = max(-1, float32(v)/math.MaxInt16)
	}

	return audiobuffer.AudioBuffer{
		Properties: audiodevice.DeviceProperties{
			SampleRate:  decoder.SampleRate(),
			NumChannels: mp3Channels,
		},
		Samples: samples,
	}, nil
}
