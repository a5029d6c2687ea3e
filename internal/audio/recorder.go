// Package audio implements the microphone capture pipeline: device
// lifecycle, codec negotiation, chunk buffering, and best-effort upload of
// the finished recording.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrorKind classifies capture failures for remediation prompts.
type ErrorKind string

const (
	PermissionDenied       ErrorKind = "permission_denied"
	DeviceNotFound         ErrorKind = "device_not_found"
	UnsupportedEnvironment ErrorKind = "unsupported_environment"
	DeviceBusy             ErrorKind = "device_busy"
)

// CaptureError is a classified capture failure with a remediation message
// suitable for showing to the field agent.
type CaptureError struct {
	Kind        ErrorKind
	Remediation string
	cause       error
}

func (e *CaptureError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("audio capture failed (%s): %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("audio capture failed (%s)", e.Kind)
}

func (e *CaptureError) Unwrap() error { return e.cause }

// NewCaptureError builds a classified error with the standard remediation
// message for its kind.
func NewCaptureError(kind ErrorKind, cause error) *CaptureError {
	return &CaptureError{Kind: kind, Remediation: remediations[kind], cause: cause}
}

var remediations = map[ErrorKind]string{
	PermissionDenied:       "Microphone access was denied. Enable microphone permission for this app and try again.",
	DeviceNotFound:         "No microphone was found. Connect a microphone and try again.",
	UnsupportedEnvironment: "Audio recording is not supported on this device or browser.",
	DeviceBusy:             "The microphone is in use by another application. Close it and try again.",
}

// State is the recorder lifecycle state
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StatePaused       State = "paused"
	StateStopped      State = "stopped"
	StateUploaded     State = "uploaded"
	StateUploadFailed State = "upload_failed"
)

// Stream is an open capture stream. Implementations deliver encoded chunks
// through the callback passed to Start and must stop their tracks on Close
// no matter what state they are in.
type Stream interface {
	Supports(codec string) bool
	Start(codec string, flushInterval time.Duration, onChunk func([]byte)) error
	Pause() error
	Resume() error
	Close() error
}

// CaptureDevice is the injected host capability that opens microphone
// streams. Open failures should be *CaptureError values.
type CaptureDevice interface {
	Open(ctx context.Context) (Stream, error)
}

// Ordered encoding preference list. The empty string at the end means
// "whatever the environment default is".
var codecPreferences = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/mp4",
}

// Chunk flush intervals. Mobile profiles flush coarser to reduce overhead.
const (
	desktopFlushInterval = 250 * time.Millisecond
	mobileFlushInterval  = time.Second
)

// Recording is a finalized capture
type Recording struct {
	Data     []byte
	Duration time.Duration
	Codec    string
	Size     int64
}

// Recorder drives one microphone capture session
type Recorder struct {
	mu     sync.Mutex
	device CaptureDevice
	mobile bool
	clock  func() time.Time

	state       State
	stream      Stream
	codec       string
	chunks      [][]byte
	recorded    time.Duration // accumulated while recording
	activeSince time.Time
}

// NewRecorder creates an idle recorder over the given capture device.
func NewRecorder(device CaptureDevice, mobile bool) *Recorder {
	return &Recorder{device: device, mobile: mobile, clock: time.Now, state: StateIdle}
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the capture device, negotiates an encoding from the preference
// list (falling back to the environment default), and begins buffering
// chunks. Valid only from Idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return fmt.Errorf("cannot start recording from state %s", r.state)
	}

	stream, err := r.device.Open(ctx)
	if err != nil {
		var ce *CaptureError
		if errors.As(err, &ce) {
			return err
		}
		return NewCaptureError(UnsupportedEnvironment, err)
	}

	codec := "" // environment default
	for _, pref := range codecPreferences {
		if stream.Supports(pref) {
			codec = pref
			break
		}
	}

	flush := desktopFlushInterval
	if r.mobile {
		flush = mobileFlushInterval
	}

	if err := stream.Start(codec, flush, r.appendChunk); err != nil {
		_ = stream.Close()
		var ce *CaptureError
		if errors.As(err, &ce) {
			return err
		}
		return NewCaptureError(DeviceBusy, err)
	}

	r.stream = stream
	r.codec = codec
	r.chunks = nil
	r.recorded = 0
	r.activeSince = r.clock()
	r.state = StateRecording
	return nil
}

func (r *Recorder) appendChunk(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording && r.state != StatePaused {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	r.chunks = append(r.chunks, buf)
}

// Pause suspends capture. Valid only from Recording.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return fmt.Errorf("cannot pause recording from state %s", r.state)
	}
	if err := r.stream.Pause(); err != nil {
		return err
	}
	r.recorded += r.clock().Sub(r.activeSince)
	r.activeSince = time.Time{}
	r.state = StatePaused
	return nil
}

// Resume continues a paused capture. Valid only from Paused.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePaused {
		return fmt.Errorf("cannot resume recording from state %s", r.state)
	}
	if err := r.stream.Resume(); err != nil {
		return err
	}
	r.activeSince = r.clock()
	r.state = StateRecording
	return nil
}

// Stop finalizes one blob from the buffered chunks and releases the capture
// device. It is valid from Recording or Paused and always stops the stream's
// tracks, even when finalization has nothing to return.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording && r.state != StatePaused {
		return nil, fmt.Errorf("cannot stop recording from state %s", r.state)
	}

	if r.state == StateRecording {
		r.recorded += r.clock().Sub(r.activeSince)
	}

	r.releaseLocked()
	r.state = StateStopped

	if len(r.chunks) == 0 {
		return nil, errors.New("no audio captured")
	}

	blob := bytes.Join(r.chunks, nil)
	rec := &Recording{
		Data:     blob,
		Duration: r.recorded,
		Codec:    r.codec,
		Size:     int64(len(blob)),
	}
	r.chunks = nil
	return rec, nil
}

// MarkUploaded records the terminal upload outcome.
func (r *Recorder) MarkUploaded(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.state = StateUploaded
	} else {
		r.state = StateUploadFailed
	}
}

// Release drops any buffered audio and stops the capture stream. Safe to
// call from any state and more than once; session teardown relies on that.
func (r *Recorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
	r.chunks = nil
	if r.state == StateRecording || r.state == StatePaused {
		r.state = StateStopped
	}
}

func (r *Recorder) releaseLocked() {
	if r.stream != nil {
		_ = r.stream.Close()
		r.stream = nil
	}
}
