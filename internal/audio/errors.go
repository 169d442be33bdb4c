package audio

import "fmt"

// MicrophoneAccessError is returned when the capture device cannot be
// acquired: permission denied, no device, or the capture process died
// before producing audio.
type MicrophoneAccessError struct {
	Device string
	Err    error
}

func (e *MicrophoneAccessError) Error() string {
	return fmt.Sprintf("microphone access failed (%s): %v", e.Device, e.Err)
}

func (e *MicrophoneAccessError) Unwrap() error { return e.Err }

// RecorderError is returned when the stream fails after capture started.
type RecorderError struct {
	Err error
}

func (e *RecorderError) Error() string {
	return fmt.Sprintf("recorder failed mid-capture: %v", e.Err)
}

func (e *RecorderError) Unwrap() error { return e.Err }

// DecodeError is returned for malformed base64 audio payloads.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio payload is not valid base64: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
