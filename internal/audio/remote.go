package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// RemoteDevice is a CaptureDevice fed by audio chunks the field agent's
// client pushes over the API. The client negotiates its own encoder and
// reports the codec along with the first chunk.
type RemoteDevice struct {
	mu     sync.Mutex
	stream *RemoteStream
}

// NewRemoteDevice creates a remote capture device.
func NewRemoteDevice() *RemoteDevice {
	return &RemoteDevice{}
}

// Open implements CaptureDevice.
func (d *RemoteDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil && !d.stream.closed {
		return nil, NewCaptureError(DeviceBusy, errors.New("stream already open"))
	}
	d.stream = &RemoteStream{}
	return d.stream, nil
}

// Push forwards a chunk from the client into the open stream. Chunks that
// arrive while no stream is open (or while it is paused) are dropped.
func (d *RemoteDevice) Push(chunk []byte) {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream != nil {
		stream.push(chunk)
	}
}

// RemoteStream is the Stream side of a RemoteDevice.
type RemoteStream struct {
	mu      sync.Mutex
	onChunk func([]byte)
	paused  bool
	closed  bool
}

// Supports accepts every codec: the remote client already negotiated its
// encoder, this side only buffers what arrives.
func (s *RemoteStream) Supports(codec string) bool { return true }

// Start implements Stream. The flush interval is advisory for remote
// streams; the client decides its own chunk cadence.
func (s *RemoteStream) Start(codec string, _ time.Duration, onChunk func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewCaptureError(DeviceNotFound, errors.New("stream closed"))
	}
	s.onChunk = onChunk
	return nil
}

// Pause implements Stream.
func (s *RemoteStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

// Resume implements Stream.
func (s *RemoteStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

// Close implements Stream.
func (s *RemoteStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.onChunk = nil
	return nil
}

func (s *RemoteStream) push(chunk []byte) {
	s.mu.Lock()
	cb := s.onChunk
	paused := s.paused || s.closed
	s.mu.Unlock()
	if cb != nil && !paused {
		cb(chunk)
	}
}
