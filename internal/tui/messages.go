package tui

import (
	"github.com/hmcalister/wavetrim/internal/library"
	"github.com/hmcalister/wavetrim/pkg/processing"
)

// TickMsg redraws the live waveform and timer.
type TickMsg struct{}

// RecordingStartedMsg carries the result of opening the capture device.
type RecordingStartedMsg struct {
	Err error
}

// SavedMsg carries the result of stopping and saving a recording.
type SavedMsg struct {
	Path     string
	Err      error
	Clipping processing.ClippingWarning
}

// LibraryLoadedMsg carries the most recent recordings in the save directory.
type LibraryLoadedMsg struct {
	Entries []library.Entry
	Err     error
}

// ClearStatusMsg clears a transient status line.
type ClearStatusMsg struct{}

// PlaybackStartedMsg carries the result of starting playback. Done is closed
// when that playback ends.
type PlaybackStartedMsg struct {
	Done <-chan struct{}
	Err  error
}

// PlaybackEndedMsg reports that a playback has finished or been stopped.
type PlaybackEndedMsg struct{}

// TrimSavedMsg carries the result of saving the selection.
type TrimSavedMsg struct {
	Path string
	Err  error
}
