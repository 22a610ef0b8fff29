package syncnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftlist/pkg/awareness"
	"github.com/driftsync/driftlist/pkg/store"
)

func TestConnected_CompositeSignal(t *testing.T) {
	cases := []struct {
		name    string
		synced  bool
		unacked int
		want    bool
	}{
		{"synced and clear", true, 0, true},
		{"synced under tolerance", true, DefaultTolerance - 1, true},
		{"synced at tolerance", true, DefaultTolerance, false},
		{"synced over tolerance", true, DefaultTolerance + 5, false},
		{"unsynced and clear", false, 0, false},
		{"unsynced and backed up", false, DefaultTolerance, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Channel{tolerance: DefaultTolerance, synced: tc.synced, unacked: tc.unacked}
			assert.Equal(t, tc.want, c.Connected())
		})
	}
}

func TestRecomputeState(t *testing.T) {
	c := &Channel{tolerance: DefaultTolerance}

	// Disconnected and connecting states are not overwritten by the
	// caught-up recompute.
	c.state = StateDisconnected
	c.synced = true
	c.recomputeStateLocked()
	assert.Equal(t, StateDisconnected, c.state)

	c.state = StateConnectedUnsynced
	c.recomputeStateLocked()
	assert.Equal(t, StateConnectedSynced, c.state)

	c.unacked = DefaultTolerance
	c.recomputeStateLocked()
	assert.Equal(t, StateConnectedUnsynced, c.state)
}

func TestSetTolerance(t *testing.T) {
	c := &Channel{tolerance: DefaultTolerance, synced: true, unacked: 3}
	assert.True(t, c.Connected())
	c.SetTolerance(2)
	assert.False(t, c.Connected())
}

func TestChannelState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected-unsynced", StateConnectedUnsynced.String())
	assert.Equal(t, "connected-synced", StateConnectedSynced.String())
}

func TestChannel_StatusBeforeConnect(t *testing.T) {
	st := store.New("alice")
	defer st.Close()
	c := NewChannel(st, "ws://localhost:0/rooms/x/sync")
	defer c.Close()

	got := c.Status()
	assert.Equal(t, StateDisconnected, got.State)
	assert.False(t, got.Synced)
	assert.Zero(t, got.Unacked)
	assert.False(t, c.Connected())
}

func TestHandleFrame_SyncAfterDropIsDiscarded(t *testing.T) {
	local := store.New("alice")
	defer local.Close()
	peer := store.New("bob")
	defer peer.Close()
	_, err := peer.AddTask(store.TaskDraft{Title: "remote", By: "bob"})
	require.NoError(t, err)
	msg, ok := peer.GenerateSyncMessage(peer.NewSyncState())
	require.True(t, ok)

	// A sync frame can still be in flight in the read loop after the
	// connection was dropped and the sync state cleared. It must be
	// discarded, not applied against the nil state.
	c := &Channel{st: local, tolerance: DefaultTolerance, kick: make(chan struct{}, 1)}
	assert.NotPanics(t, func() {
		assert.False(t, c.handleFrame(FrameSync, msg))
	})
	assert.Empty(t, local.Snapshot().Tasks)
}

func TestChannel_SendAwarenessWhileDisconnectedIsSilent(t *testing.T) {
	st := store.New("alice")
	defer st.Close()
	c := NewChannel(st, "ws://localhost:0/rooms/x/sync")
	defer c.Close()

	assert.NotPanics(t, func() {
		c.SendAwareness(awareness.Frame{Session: "s1", UserID: "alice"})
	})
}
