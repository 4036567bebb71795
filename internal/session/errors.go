package session

import (
	"errors"
	"fmt"
)

var (
	ErrNoBuffer         = errors.New("no audio loaded or recorded")
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrEmptyRecording   = errors.New("recording captured no audio")
	ErrNoSourceFile     = errors.New("buffer has not been saved to or loaded from a file")
)

// A capture or playback device could not be opened. Recording or playback did not start.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %q: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// A file could not be loaded. The session is unchanged.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// A file could not be saved. The in-memory buffer is kept so the save can be retried.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("save: %v", e.Err)
	}
	return fmt.Sprintf("save %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
