package audio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteDevice_PushFeedsRecorder(t *testing.T) {
	dev := NewRemoteDevice()
	r := NewRecorder(dev, true)
	require.NoError(t, r.Start(context.Background()))

	dev.Push([]byte("chunk1"))
	dev.Push([]byte("chunk2"))

	require.NoError(t, r.Pause())
	dev.Push([]byte("while paused"))
	require.NoError(t, r.Resume())
	dev.Push([]byte("chunk3"))

	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk1chunk2chunk3"), rec.Data, "paused chunks are dropped")
}

func TestRemoteDevice_SecondOpenWhileBusy(t *testing.T) {
	dev := NewRemoteDevice()
	_, err := dev.Open(context.Background())
	require.NoError(t, err)

	_, err = dev.Open(context.Background())
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, DeviceBusy, ce.Kind)
}

func TestRemoteDevice_ReopensAfterClose(t *testing.T) {
	dev := NewRemoteDevice()
	s, err := dev.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = dev.Open(context.Background())
	assert.NoError(t, err)
}

func TestRemoteDevice_PushWithoutStreamIsDropped(t *testing.T) {
	dev := NewRemoteDevice()
	dev.Push([]byte("nobody listening")) // must not panic
}

func TestRemoteStream_AcceptsAnyCodec(t *testing.T) {
	s := &RemoteStream{}
	assert.True(t, s.Supports("audio/webm;codecs=opus"))
	assert.True(t, s.Supports("anything/at-all"))
}

func TestRemoteStream_StartAfterClose(t *testing.T) {
	s := &RemoteStream{}
	require.NoError(t, s.Close())

	err := s.Start("", 0, func([]byte) {})
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, DeviceNotFound, ce.Kind)
}
