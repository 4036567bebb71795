// Package audiofile decodes audio files into AudioBuffers and writes AudioBuffers
// back out as PCM .WAV files.
//
// Supported for reading: .wav (integer PCM or IEEE float, plain or extensible), .flac, .ogg (Vorbis), .mp3.
// Supported for writing: .wav only.
package audiofile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
)

const DefaultBitDepth = 16

var (
	ErrUnsupportedFormat   = errors.New("unsupported audio format")
	ErrCorruptFile         = errors.New("could not decode audio file")
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")

	// Extensions Load understands, lower case with the leading dot.
	SupportedExtensions = []string{".wav", ".flac", ".ogg", ".mp3"}
)

type decodeFunction func(f *os.File) (audiobuffer.AudioBuffer, error)

var decoders = map[string]decodeFunction{
	".wav":  decodeWAV,
	".flac": decodeFLAC,
	".ogg":  decodeOGG,
	".mp3":  decodeMP3,
}

// Report whether Load can read path, judging by its extension.
func IsSupported(path string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

// Decode the audio file at path.
//
// Files with an unknown extension fail with ErrUnsupportedFormat; files that
// cannot be parsed fail with an error wrapping ErrCorruptFile.
func Load(path string) (audiobuffer.AudioBuffer, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return audiobuffer.AudioBuffer{}, err
	}
	defer f.Close()

	buf, err := decode(f)
	if err != nil {
		return audiobuffer.AudioBuffer{}, err
	}
	if _, err := audiobuffer.New(buf.Properties, buf.Samples); err != nil {
		return audiobuffer.AudioBuffer{}, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}

	slog.Debug(
		"loaded audio file",
		"audioFile", path,
		"sampleRate", buf.Properties.SampleRate,
		"channels", buf.Properties.NumChannels,
		"frames", buf.NumFrames(),
	)
	return buf, nil
}

// Write b to path as an integer PCM .WAV file with the given bit depth (8, 16, 24 or 32).
//
// Data is written to a temporary file beside path and renamed into place, so a failed
// save never leaves a truncated file at path. Samples outside [-1, 1] are clipped.
func SaveWAV(path string, b audiobuffer.AudioBuffer, bitDepth int) error {
	if !ValidBitDepth(bitDepth) {
		return fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
	if _, err := audiobuffer.New(b.Properties, b.Samples); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".wavetrim-*.wav.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	err = encodeWAV(tmp, b, bitDepth)
	if syncErr := tmp.Sync(); err == nil {
		err = syncErr
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	slog.Debug(
		"saved audio file",
		"audioFile", path,
		"bitDepth", bitDepth,
		"frames", b.NumFrames(),
	)
	return nil
}

func ValidBitDepth(bitDepth int) bool {
	switch bitDepth {
	case 8, 16, 24, 32:
		return true
	}
	return false
}
