package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbitsync/orbit/backend/model"
	"github.com/orbitsync/orbit/backend/storage/memory"
	sw "github.com/orbitsync/orbit/backend/switch"
)

func newTestService(t *testing.T) (*Service, *memory.MemStore) {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewMemStore()
	return NewService(Config{
		RoomStore:  store,
		Switch:     sw.NewSwitch(&logger),
		Logger:     &logger,
		JoinWindow: time.Minute,
	}), store
}

// testConn simulates one connected viewer: a wire consumed by a running
// session loop, exactly the way the websocket server drives it.
type testConn struct {
	connID string
	wire   model.Wire
	cancel context.CancelFunc
	done   chan struct{}
}

func connect(svc *Service, connID string) *testConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &testConn{
		connID: connID,
		wire:   model.NewWire(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		svc.HandleSession(ctx, connID, c.wire)
		close(c.done)
	}()
	return c
}

func (c *testConn) send(t *testing.T, ev model.Event) {
	t.Helper()
	ev.SRC = c.connID
	select {
	case c.wire.RX <- ev:
	case <-time.After(time.Second):
		t.Fatal("session loop did not accept event")
	}
}

func (c *testConn) recv(t *testing.T) model.ServerEvent {
	t.Helper()
	select {
	case ev := <-c.wire.TX:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no server event received")
		return model.ServerEvent{}
	}
}

func (c *testConn) assertSilent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.wire.TX:
		t.Fatalf("unexpected server event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *testConn) disconnect(t *testing.T) {
	t.Helper()
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("session loop did not exit")
	}
}

func (c *testConn) join(t *testing.T, roomID, name string) {
	t.Helper()
	c.send(t, model.Event{Type: model.EventJoin, RoomID: roomID, DisplayName: name})
}

func mustCreateRoom(t *testing.T, svc *Service) string {
	t.Helper()
	roomID, err := svc.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	return roomID
}

func roomState(t *testing.T, store *memory.MemStore, roomID string) model.RoomState {
	t.Helper()
	room, ok := store.Get(roomID)
	if !ok {
		t.Fatalf("room %q not found", roomID)
	}
	room.Lock()
	defer room.Unlock()
	return room.State()
}

func TestJoinUnknownRoomRejected(t *testing.T) {
	svc, store := newTestService(t)

	conn := connect(svc, "conn-1")
	defer conn.disconnect(t)

	conn.join(t, "nope", "Alice")

	ev := conn.recv(t)
	if ev.Type != model.EventJoinRejected {
		t.Fatalf("expected join_rejected, got %+v", ev)
	}
	if ev.Message == "" {
		t.Error("rejection should carry a message")
	}
	if store.Len() != 0 {
		t.Error("rejected join must not mutate any state")
	}
}

func TestJoinReceivesSnapshotAndRoster(t *testing.T) {
	svc, _ := newTestService(t)
	roomID := mustCreateRoom(t, svc)

	conn := connect(svc, "conn-1")
	defer conn.disconnect(t)

	conn.join(t, roomID, "Alice")

	snapshot := conn.recv(t)
	if snapshot.Type != model.EventRoomState {
		t.Fatalf("expected room_state first, got %+v", snapshot)
	}
	if snapshot.VideoID != "" || snapshot.CurrentTime != 0 || snapshot.IsPlaying {
		t.Errorf("fresh room snapshot should be empty, got %+v", snapshot)
	}

	roster := conn.recv(t)
	if roster.Type != model.EventRosterUpdate {
		t.Fatalf("expected roster_update second, got %+v", roster)
	}
	if len(roster.Users) != 1 || roster.Users[0] != "Alice" {
		t.Errorf("expected roster [Alice], got %v", roster.Users)
	}
}

func TestSecondJoinerGetsCurrentState(t *testing.T) {
	svc, _ := newTestService(t)
	roomID := mustCreateRoom(t, svc)

	alice := connect(svc, "conn-a")
	defer alice.disconnect(t)
	alice.join(t, roomID, "Alice")
	alice.recv(t) // snapshot
	alice.recv(t) // roster

	alice.send(t, model.Event{Type: model.EventSetVideo, RoomID: roomID, VideoID: "dQw4w9WgXcQ"})
	alice.recv(t) // video_changed
	alice.send(t, model.Event{Type: model.EventPlay, RoomID: roomID, CurrentTime: 12.3})
	alice.recv(t) // playback_started

	bob := connect(svc, "conn-b")
	defer bob.disconnect(t)
	bob.join(t, roomID, "Bob")

	snapshot := bob.recv(t)
	if snapshot.Type != model.EventRoomState {
		t.Fatalf("expected room_state, got %+v", snapshot)
	}
	if snapshot.VideoID != "dQw4w9WgXcQ" || snapshot.CurrentTime != 12.3 || !snapshot.IsPlaying {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}

	roster := bob.recv(t)
	if len(roster.Users) != 2 || roster.Users[0] != "Alice" || roster.Users[1] != "Bob" {
		t.Errorf("expected roster [Alice Bob], got %v", roster.Users)
	}

	// the existing member sees the updated roster too
	aliceRoster := alice.recv(t)
	if aliceRoster.Type != model.EventRosterUpdate || len(aliceRoster.Users) != 2 {
		t.Errorf("expected roster_update for existing member, got %+v", aliceRoster)
	}
}

func TestSetVideoResetsAndBroadcasts(t *testing.T) {
	svc, store := newTestService(t)
	roomID := mustCreateRoom(t, svc)

	conn := connect(svc, "conn-1")
	defer conn.disconnect(t)
	conn.join(t, roomID, "Alice")
	conn.recv(t)
	conn.recv(t)

	conn.send(t, model.Event{Type: model.EventSetVideo, RoomID: roomID, VideoID: "dQw4w9WgXcQ"})
	conn.send(t, model.Event{Type: model.EventPlay, RoomID: roomID, CurrentTime: 42})
	conn.recv(t) // video_changed
	conn.recv(t) // playback_started

	conn.send(t, model.Event{Type: model.EventSetVideo, RoomID: roomID, VideoID: "abcdefghijk"})

	ev := conn.recv(t)
	if ev.Type != model.EventVideoChanged || ev.VideoID != "abcdefghijk" {
		t.Fatalf("expected video_changed(abcdefghijk), got %+v", ev)
	}

	state := roomState(t, store, roomID)
	if state.VideoID != "abcdefghijk" || state.CurrentTime != 0 || state.IsPlaying {
		t.Errorf("set_video must reset playback, got %+v", state)
	}
}

func TestPlayThenPauseKeepsOrder(t *testing.T) {
	svc, store := newTestService(t)
	roomID := mustCreateRoom(t, svc)

	alice := connect(svc, "conn-a")
	defer alice.disconnect(t)
	bob := connect(svc, "conn-b")
	defer bob.disconnect(t)

	alice.join(t, roomID, "Alice")
	alice.recv(t)
	alice.recv(t)
	bob.join(t, roomID, "Bob")
	bob.recv(t)
	bob.recv(t)
	alice.recv(t) // roster after bob joined

	alice.send(t, model.Event{Type: model.EventSetVideo, RoomID: roomID, VideoID: "dQw4w9WgXcQ"})
	alice.recv(t)
	bob.recv(t)

	alice.send(t, model.Event{Type: model.EventPlay, RoomID: roomID, CurrentTime: 12.3})
	for _, conn := range []*testConn{alice, bob} {
		started := conn.recv(t)
		if started.Type != model.EventPlaybackStarted || started.CurrentTime != 12.3 {
			t.Fatalf("expected playback_started(12.3) first, got %+v", started)
		}
	}

	bob.send(t, model.Event{Type: model.EventPause, RoomID: roomID, CurrentTime: 15.0})
	for _, conn := range []*testConn{alice, bob} {
		paused := conn.recv(t)
		if paused.Type != model.EventPlaybackPaused || paused.CurrentTime != 15.0 {
			t.Fatalf("expected playback_paused(15.0) second, got %+v", paused)
		}
	}

	state := roomState(t, store, roomID)
	if state.IsPlaying || state.CurrentTime != 15.0 {
		t.Errorf("expected final state paused at 15.0, got %+v", state)
	}
}

func TestSeekKeepsPlayState(t *testing.T) {
	svc, store := newTestService(t)
	roomID := mustCreateRoom(t, svc)

	conn := connect(svc, "conn-1")
	defer conn.disconnect(t)
	conn.join(t, roomID, "Alice")
	conn.recv(t)
	conn.recv(t)

	conn.send(t, model.Event{Type: model.EventSetVideo, RoomID: roomID, VideoID: "dQw4w9WgXcQ"})
	conn.send(t, model.Event{Type: model.EventPlay, RoomID: roomID, CurrentTime: 5})
	conn.recv(t)
	conn.recv(t)

	conn.send(t, model.Event{Type: model.EventSeek, RoomID: roomID, CurrentTime: 120.5})

	ev := conn.recv(t)
	if ev.Type != model.EventPlaybackSeeked || ev.CurrentTime != 120.5 {
		t.Fatalf("expected playback_seeked(120.5), got %+v", ev)
	}

	state := roomState(t, store, roomID)
	if !state.IsPlaying {
		t.Error("seek must not change play state")
	}
	if state.CurrentTime != 120.5 {
		t.Errorf("expected position 120.5, got %v", state.CurrentTime)
	}
}

func TestStaleEventForVanishedRoomDropped(t *testing.T) {
	svc, store := newTestService(t)

	conn := connect(svc, "conn-1")
	defer conn.disconnect(t)

	conn.send(t, model.Event{Type: model.EventPlay, RoomID: "gone", CurrentTime: 10})
	conn.send(t, model.Event{Type: model.EventSetVideo, RoomID: "gone", VideoID: "dQw4w9WgXcQ"})

	conn.assertSilent(t)
	if store.Len() != 0 {
		t.Error("stale events must not materialize rooms")
	}
}

func TestChatRequiresMembership(t *testing.T) {
	svc, _ := newTestService(t)
	roomID := mustCreateRoom(t, svc)

	alice := connect(svc, "conn-a")
	defer alice.disconnect(t)
	alice.join(t, roomID, "Alice")
	alice.recv(t)
	alice.recv(t)

	// connected but never joined: the room exists, the sender is not a member
	lurker := connect(svc, "conn-l")
	defer lurker.disconnect(t)
	lurker.send(t, model.Event{Type: model.EventChatMessage, RoomID: roomID, Text: "hi"})

	alice.assertSilent(t)
	lurker.assertSilent(t)

	alice.send(t, model.Event{Type: model.EventChatMessage, RoomID: roomID, Text: "hello"})

	msg := alice.recv(t)
	if msg.Type != model.EventChatMessage {
		t.Fatalf("expected chat_message, got %+v", msg)
	}
	if msg.Name != "Alice" || msg.Text != "hello" {
		t.Errorf("unexpected chat payload %+v", msg)
	}
	if msg.Timestamp <= 0 {
		t.Error("chat message should carry a server timestamp")
	}
}

func TestDisconnectUpdatesRosterThenTearsDown(t *testing.T) {
	svc, store := newTestService(t)
	roomID := mustCreateRoom(t, svc)

	alice := connect(svc, "conn-a")
	bob := connect(svc, "conn-b")

	alice.join(t, roomID, "Alice")
	alice.recv(t)
	alice.recv(t)
	bob.join(t, roomID, "Bob")
	bob.recv(t)
	bob.recv(t)
	alice.recv(t)

	alice.disconnect(t)

	roster := bob.recv(t)
	if roster.Type != model.EventRosterUpdate {
		t.Fatalf("expected roster_update after disconnect, got %+v", roster)
	}
	if len(roster.Users) != 1 || roster.Users[0] != "Bob" {
		t.Errorf("expected roster [Bob], got %v", roster.Users)
	}
	if _, ok := store.Get(roomID); !ok {
		t.Fatal("room must persist while members remain")
	}

	bob.disconnect(t)

	if _, ok := store.Get(roomID); ok {
		t.Error("room must be deleted when the last member leaves")
	}
	if store.Len() != 0 {
		t.Errorf("expected empty registry, got %d rooms", store.Len())
	}
}

func TestJoinAfterTeardownRejected(t *testing.T) {
	svc, _ := newTestService(t)
	roomID := mustCreateRoom(t, svc)

	alice := connect(svc, "conn-a")
	alice.join(t, roomID, "Alice")
	alice.recv(t)
	alice.recv(t)
	alice.disconnect(t)

	bob := connect(svc, "conn-b")
	defer bob.disconnect(t)
	bob.join(t, roomID, "Bob")

	ev := bob.recv(t)
	if ev.Type != model.EventJoinRejected {
		t.Fatalf("expected join_rejected for a torn-down room, got %+v", ev)
	}
}

func TestSweepDeletesOnlyUnjoinedRooms(t *testing.T) {
	svc, store := newTestService(t)

	unjoined := mustCreateRoom(t, svc)
	joined := mustCreateRoom(t, svc)

	conn := connect(svc, "conn-1")
	defer conn.disconnect(t)
	conn.join(t, joined, "Alice")
	conn.recv(t)
	conn.recv(t)

	// not yet past the first-join window: nothing happens
	svc.sweepUnjoinedRooms(time.Now())
	if store.Len() != 2 {
		t.Fatalf("sweep before the window must not delete, got %d rooms", store.Len())
	}

	svc.sweepUnjoinedRooms(time.Now().Add(2 * time.Minute))

	if _, ok := store.Get(unjoined); ok {
		t.Error("unjoined room should be swept after the window")
	}
	if _, ok := store.Get(joined); !ok {
		t.Error("joined room must survive the sweep")
	}
}
