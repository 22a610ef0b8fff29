package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftlist/pkg/awareness"
	"github.com/driftsync/driftlist/pkg/store"
	"github.com/driftsync/driftlist/pkg/syncnet"
)

func newTestRelay(t *testing.T, dbPath string) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(dbPath)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server, room string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + room + "/sync"
}

func connect(t *testing.T, ts *httptest.Server, room string, st *store.Store) *syncnet.Channel {
	t.Helper()
	ch := syncnet.NewChannel(st, wsURL(ts, room))
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(ch.Close)
	return ch
}

func TestRelay_TwoClientsConverge(t *testing.T) {
	_, ts := newTestRelay(t, filepath.Join(t.TempDir(), "rooms.sqlite"))

	stA := store.New("alice")
	defer stA.Close()
	stB := store.New("bob")
	defer stB.Close()
	connect(t, ts, "main", stA)
	connect(t, ts, "main", stB)

	task, err := stA.AddTask(store.TaskDraft{Title: "hello bob", By: "alice"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := stB.Task(task.ID)
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRelay_OfflineEditsConvergeOnReconnectInOrder(t *testing.T) {
	_, ts := newTestRelay(t, filepath.Join(t.TempDir(), "rooms.sqlite"))

	stA := store.New("alice")
	defer stA.Close()
	stB := store.New("bob")
	defer stB.Close()

	// Both replicas write offline before either has dialed.
	var aIDs []string
	for _, title := range []string{"one", "two", "three"} {
		task, err := stA.AddTask(store.TaskDraft{Title: title, By: "alice"})
		require.NoError(t, err)
		aIDs = append(aIDs, task.ID)
	}
	bTask, err := stB.AddTask(store.TaskDraft{Title: "from bob", By: "bob"})
	require.NoError(t, err)

	connect(t, ts, "main", stA)
	connect(t, ts, "main", stB)

	require.Eventually(t, func() bool {
		return len(stA.Snapshot().Tasks) == 4 && len(stB.Snapshot().Tasks) == 4
	}, 5*time.Second, 20*time.Millisecond)

	// Alice's tasks keep their relative order on both replicas.
	snapB := stB.Snapshot()
	assert.Less(t, snapB.Tasks[aIDs[0]].SortOrder, snapB.Tasks[aIDs[1]].SortOrder)
	assert.Less(t, snapB.Tasks[aIDs[1]].SortOrder, snapB.Tasks[aIDs[2]].SortOrder)
	_, ok := stA.Snapshot().Tasks[bTask.ID]
	assert.True(t, ok)
}

func TestRelay_ChannelReportsCaughtUp(t *testing.T) {
	_, ts := newTestRelay(t, filepath.Join(t.TempDir(), "rooms.sqlite"))

	st := store.New("alice")
	defer st.Close()
	ch := connect(t, ts, "main", st)

	require.Eventually(t, ch.Connected, 5*time.Second, 20*time.Millisecond)

	_, err := st.AddTask(store.TaskDraft{Title: "x", By: "alice"})
	require.NoError(t, err)
	// The ack drains the unacked counter back under tolerance.
	require.Eventually(t, func() bool {
		s := ch.Status()
		return s.Unacked == 0 && s.Synced
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRelay_AwarenessFanOutAndReplay(t *testing.T) {
	_, ts := newTestRelay(t, filepath.Join(t.TempDir(), "rooms.sqlite"))

	stA := store.New("alice")
	defer stA.Close()
	chA := connect(t, ts, "main", stA)

	frames := make(chan string, 16)

	// A announces before B joins; the relay replays stored state to B.
	chA.SendAwareness(awareness.Frame{Session: "sess-a", UserID: "alice"})
	time.Sleep(100 * time.Millisecond)

	// The callback is attached before dialing: the replay fires as soon
	// as the relay accepts the connection.
	stB := store.New("bob")
	defer stB.Close()
	chB := syncnet.NewChannel(stB, wsURL(ts, "main"))
	chB.OnAwareness(func(f awareness.Frame) { frames <- f.Session })
	require.NoError(t, chB.Connect(context.Background()))
	defer chB.Close()

	select {
	case got := <-frames:
		assert.Equal(t, "sess-a", got)
	case <-time.After(5 * time.Second):
		t.Fatal("awareness state was not replayed to the late joiner")
	}
}

func TestRelay_LatestEndpointServesDocument(t *testing.T) {
	_, ts := newTestRelay(t, filepath.Join(t.TempDir(), "rooms.sqlite"))

	st := store.New("alice")
	defer st.Close()
	connect(t, ts, "main", st)
	task, err := st.AddTask(store.TaskDraft{Title: "snapshot me", By: "alice"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/rooms/main/latest")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		doc, err := automerge.Load(raw)
		if err != nil {
			return false
		}
		v, err := doc.RootMap().Get("task:" + task.ID)
		return err == nil && v != nil && v.Kind() == automerge.KindMap
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRelay_RoomsSurviveRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rooms.sqlite")

	s1, err := NewServer(dbPath)
	require.NoError(t, err)
	ts1 := httptest.NewServer(s1.Handler())

	st := store.New("alice")
	ch := syncnet.NewChannel(st, wsURL(ts1, "durable"))
	require.NoError(t, ch.Connect(context.Background()))
	task, err := st.AddTask(store.TaskDraft{Title: "survive", By: "alice"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := ch.Status()
		return s.Unacked == 0 && s.Synced
	}, 5*time.Second, 20*time.Millisecond)

	ch.Close()
	st.Close()
	ts1.Close()
	require.NoError(t, s1.Close())

	// A fresh server on the same database reloads the room.
	_, ts2 := newTestRelay(t, dbPath)
	st2 := store.New("bob")
	defer st2.Close()
	connect(t, ts2, "durable", st2)

	require.Eventually(t, func() bool {
		_, ok := st2.Task(task.ID)
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}
