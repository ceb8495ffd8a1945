package mesh

import (
	"errors"
	"fmt"
)

// Mode is the local media capability negotiated at acquisition time.
type Mode int

const (
	ModeVideo Mode = iota
	ModeAudioOnly
	ModeUnavailable
)

func (m Mode) String() string {
	switch m {
	case ModeVideo:
		return "video"
	case ModeAudioOnly:
		return "audio-only"
	case ModeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MediaTrack is one locally-held capture track.
type MediaTrack interface {
	Kind() string // "audio" or "video"
	Stop()
}

// MediaSource acquires capture tracks for the requested kinds. Acquisition
// is all-or-error per call; capability fallback is driven by the manager
// calling again without video.
type MediaSource interface {
	Acquire(video, audio bool) ([]MediaTrack, error)
}

// DeviceErrorKind classifies device-access failures into the cases a UI can
// present distinctly.
type DeviceErrorKind int

const (
	DeviceUnknown DeviceErrorKind = iota
	DeviceNotFound
	DeviceNotAllowed
	DeviceBusy
)

type DeviceError struct {
	Kind   DeviceErrorKind
	Device string // "camera" or "microphone"
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Device, e.userMessage())
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func (e *DeviceError) userMessage() string {
	switch e.Kind {
	case DeviceNotFound:
		return "no device found"
	case DeviceNotAllowed:
		return "permission denied"
	case DeviceBusy:
		return "device already in use"
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "acquisition failed"
	}
}

// ErrMediaUnavailable is the terminal acquisition failure: neither camera
// nor microphone could be acquired. Retry re-enters acquisition from scratch.
var ErrMediaUnavailable = errors.New("no media devices available")

// FuncSource adapts device-specific capture callbacks into a MediaSource.
// Tracks acquired before a failure are stopped so a retry starts clean.
type FuncSource struct {
	Camera     func() (MediaTrack, error)
	Microphone func() (MediaTrack, error)
}

func (s *FuncSource) Acquire(video, audio bool) ([]MediaTrack, error) {
	var tracks []MediaTrack

	if video {
		if s.Camera == nil {
			return nil, &DeviceError{Kind: DeviceNotFound, Device: "camera"}
		}
		track, err := s.Camera()
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if audio {
		if s.Microphone == nil {
			stopAll(tracks)
			return nil, &DeviceError{Kind: DeviceNotFound, Device: "microphone"}
		}
		track, err := s.Microphone()
		if err != nil {
			stopAll(tracks)
			return nil, err
		}
		tracks = append(tracks, track)
	}

	return tracks, nil
}

func stopAll(tracks []MediaTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}

// acquireWithFallback tries full video+audio first and degrades to
// audio-only when the camera fails but the microphone works.
func acquireWithFallback(src MediaSource) ([]MediaTrack, Mode, error) {
	tracks, err := src.Acquire(true, true)
	if err == nil {
		return tracks, ModeVideo, nil
	}
	videoErr := err

	tracks, err = src.Acquire(false, true)
	if err == nil {
		return tracks, ModeAudioOnly, nil
	}

	return nil, ModeUnavailable, fmt.Errorf("%w: %v; %v", ErrMediaUnavailable, videoErr, err)
}
