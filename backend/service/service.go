package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbitsync/orbit/backend/model"
	"github.com/orbitsync/orbit/backend/storage/memory"
)

const defaultJoinWindow = 60 * time.Second

var (
	ErrCreateRoom = errors.New("unable to create room")
)

type (
	RoomStore interface {
		CreateRoom() (*memory.Room, error)
		Get(roomID string) (*memory.Room, bool)
		Delete(roomID string)
		Rooms() []*memory.Room
	}

	Switch interface {
		Attach(roomID, connID string, wire model.Wire)
		Detach(roomID, connID string)
		Broadcast(roomID string, ev model.ServerEvent)
		Send(roomID, connID string, ev model.ServerEvent)
	}

	// Service is the session protocol engine. Every inbound event is
	// validated against the registry, applied to the room and echoed to
	// all members as canonical state. All mutation and fan-out for one
	// event happens under that room's lock, so concurrent events for
	// the same room are serialized while distinct rooms proceed in
	// parallel.
	Service struct {
		store      RoomStore
		sw         Switch
		joinWindow time.Duration
		logger     zerolog.Logger
	}

	Config struct {
		RoomStore  RoomStore
		Switch     Switch
		Logger     *zerolog.Logger
		JoinWindow time.Duration
	}
)

func NewService(cfg Config) *Service {
	joinWindow := cfg.JoinWindow
	if joinWindow <= 0 {
		joinWindow = defaultJoinWindow
	}
	return &Service{
		store:      cfg.RoomStore,
		sw:         cfg.Switch,
		joinWindow: joinWindow,
		logger:     cfg.Logger.With().Str("component", "session").Logger(),
	}
}

// CreateRoom allocates a fresh empty room and returns its id.
// Called by the HTTP API, independent of any messaging channel.
func (svc *Service) CreateRoom() (string, error) {
	room, err := svc.store.CreateRoom()
	if err != nil {
		return "", errors.Join(ErrCreateRoom, err)
	}
	svc.logger.Debug().Str("roomID", room.ID()).Msg("room created")
	return room.ID(), nil
}

// HandleSession consumes inbound events from the wire until the context
// is canceled or the wire's RX channel is closed, then runs disconnect
// cleanup for the connection. One HandleSession call runs per connected
// viewer.
func (svc *Service) HandleSession(ctx context.Context, connID string, wire model.Wire) {
	defer svc.disconnect(connID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-wire.RX:
			if !ok {
				return
			}
			svc.dispatch(connID, wire, ev)
		}
	}
}

func (svc *Service) dispatch(connID string, wire model.Wire, ev model.Event) {
	switch ev.Type {
	case model.EventJoin:
		svc.handleJoin(connID, wire, ev)
	case model.EventSetVideo:
		svc.handleSetVideo(ev)
	case model.EventPlay, model.EventPause, model.EventSeek:
		svc.handlePlayback(ev)
	case model.EventChatMessage:
		svc.handleChat(connID, ev)
	default:
		svc.logger.Debug().
			Str("type", ev.Type).
			Str("connID", connID).
			Msg("event with unknown type dropped")
	}
}

// handleJoin registers the caller as a member, replies with the full
// room state to the caller only and broadcasts the updated roster to
// every member, the new one included. A join against an unknown room
// is rejected to the caller and mutates nothing.
func (svc *Service) handleJoin(connID string, wire model.Wire, ev model.Event) {
	room, ok := svc.lookup(ev.RoomID)
	if !ok {
		svc.reject(wire, ev.RoomID)
		return
	}
	room.Lock()
	defer room.Unlock()

	if room.Closed() {
		svc.reject(wire, ev.RoomID)
		return
	}
	if err := room.AddMember(connID, ev.DisplayName); err != nil {
		svc.reject(wire, ev.RoomID)
		return
	}
	svc.sw.Attach(ev.RoomID, connID, wire)
	svc.sw.Send(ev.RoomID, connID, model.Snapshot(room.State()))
	svc.sw.Broadcast(ev.RoomID, model.ServerEvent{
		Type:  model.EventRosterUpdate,
		Users: room.Roster(),
	})

	svc.logger.Debug().
		Str("roomID", ev.RoomID).
		Str("connID", connID).
		Str("displayName", ev.DisplayName).
		Msg("member joined")
}

func (svc *Service) handleSetVideo(ev model.Event) {
	room, ok := svc.liveRoom(ev)
	if !ok {
		return
	}
	defer room.Unlock()

	room.SetVideo(ev.VideoID)
	svc.sw.Broadcast(ev.RoomID, model.ServerEvent{
		Type:    model.EventVideoChanged,
		VideoID: ev.VideoID,
	})
}

func (svc *Service) handlePlayback(ev model.Event) {
	room, ok := svc.liveRoom(ev)
	if !ok {
		return
	}
	defer room.Unlock()

	out := model.ServerEvent{CurrentTime: ev.CurrentTime}
	switch ev.Type {
	case model.EventPlay:
		room.Play(ev.CurrentTime)
		out.Type = model.EventPlaybackStarted
	case model.EventPause:
		room.Pause(ev.CurrentTime)
		out.Type = model.EventPlaybackPaused
	case model.EventSeek:
		room.Seek(ev.CurrentTime)
		out.Type = model.EventPlaybackSeeked
	}
	svc.sw.Broadcast(ev.RoomID, out)
}

// handleChat requires the sender to be a current member of the room,
// unlike the playback events which only require the room to exist.
// Chat carries the sender's display name, so the membership check is
// what prevents impersonation from outside the room.
func (svc *Service) handleChat(connID string, ev model.Event) {
	room, ok := svc.liveRoom(ev)
	if !ok {
		return
	}
	defer room.Unlock()

	name, member := room.MemberName(connID)
	if !member {
		svc.logger.Debug().
			Str("roomID", ev.RoomID).
			Str("connID", connID).
			Msg("chat from non-member dropped")
		return
	}
	svc.sw.Broadcast(ev.RoomID, model.ServerEvent{
		Type:      model.EventChatMessage,
		Name:      name,
		Text:      ev.Text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// disconnect removes the connection from every room it is a member of.
// A connection is only ever in one room in practice, but the scan is
// defensive. Rooms drained to zero members are deleted before anything
// else happens, so no event can observe a ghost room.
func (svc *Service) disconnect(connID string) {
	for _, room := range svc.store.Rooms() {
		room.Lock()
		removed, remaining := room.RemoveMember(connID)
		if !removed {
			room.Unlock()
			continue
		}
		svc.sw.Detach(room.ID(), connID)
		if remaining == 0 {
			svc.store.Delete(room.ID())
			svc.logger.Debug().
				Str("roomID", room.ID()).
				Msg("room deleted, last member left")
		} else {
			svc.sw.Broadcast(room.ID(), model.ServerEvent{
				Type:  model.EventRosterUpdate,
				Users: room.Roster(),
			})
		}
		room.Unlock()
	}
}

// Run periodically deletes rooms that were allocated but never joined.
// Rooms that had members are torn down synchronously on the last
// disconnect and never reach this sweep.
func (svc *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(svc.joinWindow / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.sweepUnjoinedRooms(time.Now())
		}
	}
}

func (svc *Service) sweepUnjoinedRooms(now time.Time) {
	for _, room := range svc.store.Rooms() {
		room.Lock()
		if !room.Closed() && room.MemberCount() == 0 && now.Sub(room.CreatedAt()) > svc.joinWindow {
			svc.store.Delete(room.ID())
			svc.logger.Debug().
				Str("roomID", room.ID()).
				Msg("room deleted, never joined")
		}
		room.Unlock()
	}
}

// lookup fetches the room. Events referencing an unknown room are a
// harmless race with teardown, not an error.
func (svc *Service) lookup(roomID string) (*memory.Room, bool) {
	room, ok := svc.store.Get(roomID)
	if !ok {
		svc.logger.Debug().Str("roomID", roomID).Msg("event for unknown room dropped")
		return nil, false
	}
	return room, true
}

// liveRoom returns the room locked, or false if it is gone or closed.
// The caller must unlock it.
func (svc *Service) liveRoom(ev model.Event) (*memory.Room, bool) {
	room, ok := svc.lookup(ev.RoomID)
	if !ok {
		return nil, false
	}
	room.Lock()
	if room.Closed() {
		room.Unlock()
		return nil, false
	}
	return room, true
}

// reject is sent directly on the caller's wire: the connection is not
// attached to any room yet, so it is not reachable through the switch.
func (svc *Service) reject(wire model.Wire, roomID string) {
	ev := model.ServerEvent{
		Type:    model.EventJoinRejected,
		Message: "room does not exist",
	}
	select {
	case wire.TX <- ev:
	default:
	}
	svc.logger.Debug().Str("roomID", roomID).Msg("join rejected")
}
