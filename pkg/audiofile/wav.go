package audiofile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
)

const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE

	// fmt chunk offset of the sub-format GUID in WAVE_FORMAT_EXTENSIBLE files.
	// The GUID starts with the format tag it stands for.
	extensibleSubFormatOffset = 24
)

var errShortFmtChunk = errors.New("wav fmt chunk too short")

// Largest positive integer sample at the given bit depth. Used as the full scale
// in both directions so that encode then decode is exact up to rounding.
func fullScale(bitDepth int) float64 {
	return float64(int64(1)<<(bitDepth-1) - 1)
}

// The sample encoding of the WAV file in r, resolving WAVE_FORMAT_EXTENSIBLE
// to the tag of its sub-format. Leaves r at the start of the file.
func wavSampleFormat(r io.ReadSeeker) (uint16, error) {
	parser := riff.New(r)
	if err := parser.ParseHeaders(); err != nil {
		return 0, err
	}
	if parser.Format != riff.WavFormatID {
		return 0, riff.ErrFmtNotSupported
	}

	for {
		chunk, err := parser.NextChunk()
		if err != nil {
			return 0, err
		}
		if chunk.ID != riff.FmtID {
			chunk.Drain()
			continue
		}

		fmtData := make([]byte, chunk.Size)
		if _, err := io.ReadFull(chunk, fmtData); err != nil {
			return 0, err
		}
		if len(fmtData) < 16 {
			return 0, errShortFmtChunk
		}
		tag := binary.LittleEndian.Uint16(fmtData)
		if tag == wavFormatExtensible {
			if len(fmtData) < extensibleSubFormatOffset+2 {
				return 0, errShortFmtChunk
			}
			tag = binary.LittleEndian.Uint16(fmtData[extensibleSubFormatOffset:])
		}

		_, err = r.Seek(0, io.SeekStart)
		return tag, err
	}
}

func decodeWAV(f *os.File) (audiobuffer.AudioBuffer, error) {
	sampleFormat, err := wavSampleFormat(f)
	if err != nil {
		return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: invalid wav header: %w", ErrCorruptFile, err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: invalid wav header: %v", ErrCorruptFile, decoder.Err())
	}
	properties := audiodevice.DeviceProperties{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
	}

	var samples []float32
	switch sampleFormat {
	case wavFormatPCM:
		samples, err = decodeIntegerWAV(decoder)
	case wavFormatIEEEFloat:
		samples, err = decodeFloatWAV(decoder)
	default:
		err = fmt.Errorf("%w: wav encoding %d (integer PCM and IEEE float are supported)",
			ErrUnsupportedFormat, sampleFormat)
	}
	if err != nil {
		return audiobuffer.AudioBuffer{}, err
	}
	return audiobuffer.AudioBuffer{Properties: properties, Samples: samples}, nil
}

func decodeIntegerWAV(decoder *wav.Decoder) ([]float32, error) {
	bitDepth := int(decoder.BitDepth)
	if !ValidBitDepth(bitDepth) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	if buf == nil {
		return nil, fmt.Errorf("%w: no pcm data", ErrCorruptFile)
	}

	samples := make([]float32, len(buf.Data))
	scale := fullScale(bitDepth)
	for i, v := range buf.Data {
		if bitDepth == 8 {
			// 8 bit WAV is unsigned, centred on 128
			v -= 128
		}
		samples[i] = float32(math.Max(-1, float64(v)/scale))
	}
	return trimToWholeFrames(samples, int(decoder.NumChans)), nil
}

// IEEE float data is read raw: go-audio/wav only decodes integer samples.
func decodeFloatWAV(decoder *wav.Decoder) ([]float32, error) {
	bytesPerSample := int(decoder.BitDepth) / 8
	if decoder.BitDepth != 32 && decoder.BitDepth != 64 {
		return nil, fmt.Errorf("%w: %d bit float", ErrUnsupportedBitDepth, decoder.BitDepth)
	}

	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	if decoder.PCMChunk == nil {
		return nil, fmt.Errorf("%w: no pcm data", ErrCorruptFile)
	}
	raw, err := io.ReadAll(decoder.PCMChunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}

	samples := make([]float32, len(raw)/bytesPerSample)
	for i := range samples {
		sample := raw[i*bytesPerSample:]
		if bytesPerSample == 4 {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(sample))
		} else {
			samples[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(sample)))
		}
	}
	return trimToWholeFrames(samples, int(decoder.NumChans)), nil
}

// Drop a trailing partial frame, e.g. from a chunk padding byte.
func trimToWholeFrames(samples []float32, numChannels int) []float32 {
	if numChannels <= 0 {
		return samples
	}
	return samples[:len(samples)-len(samples)%numChannels]
}

func encodeWAV(w io.WriteSeeker, b audiobuffer.AudioBuffer, bitDepth int) error {
	encoder := wav.NewEncoder(w, b.Properties.SampleRate, bitDepth, b.Properties.NumChannels, wavFormatPCM)

	scale := fullScale(bitDepth)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			SampleRate:  b.Properties.SampleRate,
			NumChannels: b.Properties.NumChannels,
		},
		Data:           make([]int, len(b.Samples)),
		SourceBitDepth: bitDepth,
	}
	for i, s := range b.Samples {
		v := int(math.Round(math.Max(-1, math.Min(1, float64(s))) * scale))
		if bitDepth == 8 {
			v += 128
		}
		buf.Data[i] = v
	}

	if err := encoder.Write(buf); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}
