package syncnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftlist/pkg/awareness"
)

func TestFrameRoundTrip(t *testing.T) {
	frame := EncodeFrame(FrameSync, []byte{0xde, 0xad})
	kind, payload, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, byte(FrameSync), kind)
	assert.Equal(t, []byte{0xde, 0xad}, payload)
}

func TestDecodeFrame_Empty(t *testing.T) {
	_, _, err := DecodeFrame(nil)
	assert.Error(t, err)
}

func TestAwarenessRoundTrip(t *testing.T) {
	in := awareness.Frame{Session: "s1", UserID: "alice", EditingID: "task-1"}
	raw, err := EncodeAwareness(in)
	require.NoError(t, err)

	kind, payload, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, byte(FrameAwareness), kind)

	out, err := DecodeAwareness(payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAwarenessRoundTrip_Left(t *testing.T) {
	in := awareness.Frame{Session: "s1", Left: true}
	raw, err := EncodeAwareness(in)
	require.NoError(t, err)
	_, payload, err := DecodeFrame(raw)
	require.NoError(t, err)
	out, err := DecodeAwareness(payload)
	require.NoError(t, err)
	assert.True(t, out.Left)
	assert.Equal(t, "s1", out.Session)
}

func TestDecodeAwareness_Malformed(t *testing.T) {
	_, err := DecodeAwareness([]byte("{nope"))
	assert.Error(t, err)
}

func TestSyncedFrame(t *testing.T) {
	kind, payload, err := DecodeFrame(EncodeSynced(true))
	require.NoError(t, err)
	assert.Equal(t, byte(FrameSynced), kind)
	require.Len(t, payload, 1)
	assert.Equal(t, byte(1), payload[0])

	_, payload, err = DecodeFrame(EncodeSynced(false))
	require.NoError(t, err)
	assert.Equal(t, byte(0), payload[0])
}

func TestAckRoundTrip(t *testing.T) {
	kind, payload, err := DecodeFrame(EncodeAck(7))
	require.NoError(t, err)
	require.Equal(t, byte(FrameAck), kind)

	n, err := DecodeAck(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), n)
}

func TestDecodeAck_WrongLength(t *testing.T) {
	_, err := DecodeAck([]byte{1, 2})
	assert.Error(t, err)
}
