package _switch

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/orbitsync/orbit/backend/model"
)

// Switch fans server events out to the wires of a room's members.
// It mirrors the registry's membership: the protocol engine attaches a
// wire on join and detaches it on disconnect.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	rooms  map[string]map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		rooms:  make(map[string]map[string]model.Wire),
	}
}

func (sw *Switch) Attach(roomID, connID string, wire model.Wire) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	room, ok := sw.rooms[roomID]
	if !ok {
		room = make(map[string]model.Wire)
		sw.rooms[roomID] = room
	}
	room[connID] = wire
}

func (sw *Switch) Detach(roomID, connID string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	room, ok := sw.rooms[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(sw.rooms, roomID)
	}
}

// Broadcast delivers the event to every member of the room, originator
// included: each client reconciles against the canonical echo.
func (sw *Switch) Broadcast(roomID string, ev model.ServerEvent) {
	sw.mx.RLock()
	defer sw.mx.RUnlock()

	room, ok := sw.rooms[roomID]
	if !ok {
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("type", ev.Type).
			Msg("broadcast for room with no attached wires")
		return
	}
	for connID, wire := range room {
		sw.deliver(connID, wire, ev)
	}
}

// Send delivers the event to a single member of the room.
func (sw *Switch) Send(roomID, connID string, ev model.ServerEvent) {
	sw.mx.RLock()
	defer sw.mx.RUnlock()

	room, ok := sw.rooms[roomID]
	if !ok {
		return
	}
	wire, ok := room[connID]
	if !ok {
		return
	}
	sw.deliver(connID, wire, ev)
}

// deliver is fire-and-forget: a wire with a full buffer loses the event
// rather than stalling the room.
func (sw *Switch) deliver(connID string, wire model.Wire, ev model.ServerEvent) {
	select {
	case wire.TX <- ev:
	default:
		sw.logger.Debug().
			Str("connID", connID).
			Str("type", ev.Type).
			Msg("wire buffer full, event dropped")
	}
}
