// Package syncnet connects a replica to the relay: it frames the automerge
// sync protocol and ephemeral awareness updates over one websocket, tracks
// how caught-up the replica is, and supervises reconnection.
package syncnet

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/driftsync/driftlist/pkg/awareness"
)

// Frame types, one leading byte per websocket binary message.
const (
	// FrameSync carries one automerge sync-protocol message.
	FrameSync byte = 0x00
	// FrameAwareness carries a JSON awareness.Frame.
	FrameAwareness byte = 0x01
	// FrameSynced carries the relay's advisory caught-up flag (one byte,
	// 0 or 1). Advisory only: it can be stale, so connectivity is judged
	// from the composite in Channel.Connected.
	FrameSynced byte = 0x02
	// FrameAck carries a big-endian uint32 count of sync frames the relay
	// has applied since the last ack.
	FrameAck byte = 0x03
)

func EncodeFrame(kind byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, kind)
	return append(out, payload...)
}

func DecodeFrame(msg []byte) (byte, []byte, error) {
	if len(msg) == 0 {
		return 0, nil, fmt.Errorf("empty frame")
	}
	return msg[0], msg[1:], nil
}

func EncodeAwareness(f awareness.Frame) ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode awareness frame: %w", err)
	}
	return EncodeFrame(FrameAwareness, payload), nil
}

func DecodeAwareness(payload []byte) (awareness.Frame, error) {
	var f awareness.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return awareness.Frame{}, fmt.Errorf("failed to decode awareness frame: %w", err)
	}
	return f, nil
}

func EncodeSynced(synced bool) []byte {
	b := byte(0)
	if synced {
		b = 1
	}
	return EncodeFrame(FrameSynced, []byte{b})
}

func EncodeAck(count uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, count)
	return EncodeFrame(FrameAck, payload)
}

func DecodeAck(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("malformed ack payload of %d bytes", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}
