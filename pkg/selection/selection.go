package selection

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice"
)

var (
	ErrInvalidRange = errors.New("invalid selection range")
)

// A Selection is the half-open frame range [Start, End) of a buffer.
// A valid Selection over a buffer of n frames satisfies 0 <= Start < End <= n.
type Selection struct {
	Start int
	End   int
}

// Number of frames selected.
func (s Selection) Len() int {
	return s.End - s.Start
}

func (s Selection) Duration(properties audiodevice.DeviceProperties) time.Duration {
	return properties.FramesToDuration(s.Len())
}

func (s Selection) StartTime(properties audiodevice.DeviceProperties) time.Duration {
	return properties.FramesToDuration(s.Start)
}

func (s Selection) EndTime(properties audiodevice.DeviceProperties) time.Duration {
	return properties.FramesToDuration(s.End)
}

// Check s against a buffer of numFrames frames.
func (s Selection) Validate(numFrames int) error {
	if s.Start < 0 || s.End > numFrames || s.End <= s.Start {
		return fmt.Errorf("%w: [%d, %d) over %d frames", ErrInvalidRange, s.Start, s.End, numFrames)
	}
	return nil
}

func (s Selection) String() string {
	return fmt.Sprintf("[%d, %d)", s.Start, s.End)
}

// Copy of the selected frames of b. Pure: b is not modified.
func Extract(b audiobuffer.AudioBuffer, s Selection) (audiobuffer.AudioBuffer, error) {
	if err := s.Validate(b.NumFrames()); err != nil {
		return audiobuffer.AudioBuffer{}, err
	}
	return b.CopyFrames(s.Start, s.End), nil
}

// --------------------------------------------------------------------------------

// A Model tracks the current selection over a buffer of fixed length.
//
// A new Model selects the whole buffer. Rejected updates leave the
// previous selection in place. When the buffer changes, discard the Model
// and create a new one.
type Model struct {
	length    int
	selection Selection
}

// Create a Model over a buffer of length frames, selecting everything.
func NewModel(length int) *Model {
	return &Model{
		length:    length,
		selection: Selection{Start: 0, End: length},
	}
}

func (m *Model) Length() int {
	return m.length
}

func (m *Model) Selection() Selection {
	return m.selection
}

// Set the selection to [start, end) after clamping start into [0, length)
// and end into [0, length]. Fails with ErrInvalidRange if the clamped range
// is empty or inverted.
func (m *Model) SetRange(start, end int) (Selection, error) {
	clamped := Selection{
		Start: clamp(start, 0, m.length-1),
		End:   clamp(end, 0, m.length),
	}
	if clamped.End <= clamped.Start {
		return m.selection, fmt.Errorf("%w: [%d, %d) clamps to %v over %d frames",
			ErrInvalidRange, start, end, clamped, m.length)
	}
	m.selection = clamped
	return clamped, nil
}

// Set the selection from handle positions given as ratios of the buffer length
// (0 is the first frame, 1 the end of the buffer).
func (m *Model) SetRatios(startRatio, endRatio float64) (Selection, error) {
	if math.IsNaN(startRatio) || math.IsNaN(endRatio) {
		return m.selection, fmt.Errorf("%w: NaN ratio", ErrInvalidRange)
	}
	startRatio = math.Max(0, math.Min(1, startRatio))
	endRatio = math.Max(0, math.Min(1, endRatio))
	return m.SetRange(
		int(math.Floor(startRatio*float64(m.length))),
		int(math.Floor(endRatio*float64(m.length))),
	)
}

// Set the selection from times into a buffer with the given properties.
// A non-positive end selects through the end of the buffer.
func (m *Model) SetTimes(start, end time.Duration, properties audiodevice.DeviceProperties) (Selection, error) {
	endFrame := m.length
	if end > 0 {
		endFrame = properties.DurationToFrames(end)
	}
	return m.SetRange(properties.DurationToFrames(start), endFrame)
}

// Start and end of the selection as ratios of the buffer length.
func (m *Model) Ratios() (float64, float64) {
	if m.length == 0 {
		return 0, 0
	}
	return float64(m.selection.Start) / float64(m.length), float64(m.selection.End) / float64(m.length)
}

// Select the whole buffer again.
func (m *Model) Reset() {
	m.selection = Selection{Start: 0, End: m.length}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
