package testframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrameVerifies(t *testing.T) {
	f := New(256)
	assert.True(t, f.Verify())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := New(128)
	buf := f.Encode()

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, f.Hash, got.Hash)
	assert.Equal(t, f.Created, got.Created)
	assert.Equal(t, f.Data, got.Data)
	assert.True(t, got.Verify())
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	f := New(16)
	buf := f.Encode()
	truncated := buf[:len(buf)-4]
	_, err := Decode(truncated)
	assert.Error(t, err)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	f := New(64)
	f.Data[0] ^= 0xFF
	assert.False(t, f.Verify())
}
